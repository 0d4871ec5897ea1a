// Package tier maps subscription tiers to the audio features they unlock.
//
// The table is fixed at compile time and loaded once; it is configuration,
// not instance data. An unknown tier is an error, never a silent default.
package tier

import (
	"fmt"
)

// Tier is a subscription tier identifier as issued by the identity provider.
type Tier string

const (
	TierWanderer   Tier = "wanderer"
	TierSoulWeaver Tier = "soul_weaver"
	TierArchitect  Tier = "architect"
	TierTitan      Tier = "titan"
)

// Feature is a boolean gate checked via CheckFeatureAccess.
type Feature string

const (
	// FeaturePremiumVoices gates access to paid TTS backends.
	FeaturePremiumVoices Feature = "premium_voices"
	// FeatureVoiceCloning gates creating custom cloned voices.
	FeatureVoiceCloning Feature = "voice_cloning"
)

// Limits describes what a tier may do. MonthlyGenerationLimit of -1 means
// unlimited.
type Limits struct {
	// AllowedProviders lists provider IDs in priority order: when routing
	// falls back, earlier entries are tried first.
	AllowedProviders []string

	MonthlyGenerationLimit int
	MaxClonedVoices        int
	MaxStorageMB           int

	Features map[Feature]bool
}

// Unlimited marks a limit with no ceiling.
const Unlimited = -1

var table = map[Tier]Limits{
	TierWanderer: {
		AllowedProviders:       []string{"edge"},
		MonthlyGenerationLimit: 50,
		MaxClonedVoices:        0,
		MaxStorageMB:           100,
		Features:               map[Feature]bool{},
	},
	TierSoulWeaver: {
		AllowedProviders:       []string{"kokoro", "edge"},
		MonthlyGenerationLimit: 500,
		MaxClonedVoices:        1,
		MaxStorageMB:           1024,
		Features: map[Feature]bool{
			FeaturePremiumVoices: true,
		},
	},
	TierArchitect: {
		AllowedProviders:       []string{"elevenlabs", "kokoro", "edge"},
		MonthlyGenerationLimit: 2000,
		MaxClonedVoices:        5,
		MaxStorageMB:           5120,
		Features: map[Feature]bool{
			FeaturePremiumVoices: true,
			FeatureVoiceCloning:  true,
		},
	},
	TierTitan: {
		AllowedProviders:       []string{"elevenlabs", "kokoro", "edge"},
		MonthlyGenerationLimit: Unlimited,
		MaxClonedVoices:        20,
		MaxStorageMB:           20480,
		Features: map[Feature]bool{
			FeaturePremiumVoices: true,
			FeatureVoiceCloning:  true,
		},
	},
}

// LimitsFor returns the limits for a tier. Unknown tiers are an error so a
// typo in a token claim can never grant (or deny) the wrong access silently.
func LimitsFor(t Tier) (Limits, error) {
	l, ok := table[t]
	if !ok {
		return Limits{}, fmt.Errorf("tier: unknown tier %q", t)
	}
	return l, nil
}

// AllowsProvider reports whether the tier may use the given provider.
func (l Limits) AllowsProvider(providerID string) bool {
	for _, p := range l.AllowedProviders {
		if p == providerID {
			return true
		}
	}
	return false
}

// CheckFeatureAccess reports whether a tier has a boolean feature gate open.
// Unknown tiers and unknown features are both false.
func CheckFeatureAccess(t Tier, f Feature) bool {
	l, ok := table[t]
	if !ok {
		return false
	}
	return l.Features[f]
}

// All returns every known tier, mostly for admin listings.
func All() []Tier {
	return []Tier{TierWanderer, TierSoulWeaver, TierArchitect, TierTitan}
}
