// Package costs provides cost calculation for TTS usage.
package costs

import (
	"os"
	"strconv"
)

// Pricing constants (in cents per 1K characters for precision).
// These are based on 2026 market rates and can be overridden via environment variables.
var (
	// ElevenLabsCentsPerThousandChars is the cost per 1K characters for ElevenLabs TTS.
	// Default: $0.18/1K chars = 18 cents/1K chars
	ElevenLabsCentsPerThousandChars = getEnvFloat("COST_ELEVENLABS_CENTS_PER_1K_CHARS", 18.0)

	// KokoroCentsPerThousandChars approximates the amortized GPU cost of the
	// self-hosted inference server. Default: 0.2 cents/1K chars.
	KokoroCentsPerThousandChars = getEnvFloat("COST_KOKORO_CENTS_PER_1K_CHARS", 0.2)

	// EdgeCentsPerThousandChars is zero: the read-aloud endpoint is free.
	EdgeCentsPerThousandChars = getEnvFloat("COST_EDGE_CENTS_PER_1K_CHARS", 0)
)

// perProviderRate maps a provider ID to its cents-per-1K-characters rate.
func perProviderRate(provider string) float64 {
	switch provider {
	case "elevenlabs":
		return ElevenLabsCentsPerThousandChars
	case "kokoro":
		return KokoroCentsPerThousandChars
	case "edge":
		return EdgeCentsPerThousandChars
	default:
		return 0
	}
}

// GenerationCostCents computes the cost of one generation in cents.
// Unknown providers cost nothing rather than erroring: cost tracking is
// advisory and must never block a generation.
func GenerationCostCents(provider string, characters int) float64 {
	if characters <= 0 {
		return 0
	}
	return (float64(characters) / 1000.0) * perProviderRate(provider)
}

// getEnvFloat returns an environment variable as float64, or the default if not set.
func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
