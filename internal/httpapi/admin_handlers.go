package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ariahq/aria/internal/cache"
	"github.com/ariahq/aria/internal/speech"
	"github.com/ariahq/aria/internal/tier"
	"github.com/ariahq/aria/internal/tts"
)

func (r *Router) handleCacheStats(w http.ResponseWriter, req *http.Request) {
	stats, err := r.admin.GetStats(req.Context())
	if err != nil {
		r.writeSpeechError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (r *Router) handleCacheCleanup(w http.ResponseWriter, req *http.Request) {
	var body struct {
		MaxAgeHours  int   `json:"max_age_hours"`
		MaxSizeBytes int64 `json:"max_size_bytes"`
	}
	if req.Body != nil {
		_ = json.NewDecoder(req.Body).Decode(&body) // empty body means defaults
	}

	maxAge := cache.DefaultConfig.MaxAge
	if body.MaxAgeHours > 0 {
		maxAge = time.Duration(body.MaxAgeHours) * time.Hour
	}
	maxSize := cache.DefaultConfig.MaxSizeBytes
	if body.MaxSizeBytes > 0 {
		maxSize = body.MaxSizeBytes
	}

	stats := r.admin.Cleanup(req.Context(), maxAge, maxSize)
	writeJSON(w, http.StatusOK, stats)
}

func (r *Router) handleCacheWarm(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Phrases []string `json:"phrases"`
		VoiceID string   `json:"voice_id"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, speech.KindValidation, "invalid JSON body")
		return
	}
	if len(body.Phrases) == 0 {
		writeError(w, http.StatusBadRequest, speech.KindValidation, "phrases is required")
		return
	}

	// Warming is an operator action; route with the widest provider set.
	limits, _ := tier.LimitsFor(tier.TierTitan)
	warmed := r.speech.WarmCache(req.Context(), body.Phrases, body.VoiceID, limits.AllowedProviders)
	writeJSON(w, http.StatusOK, map[string]int{"warmed": warmed})
}

func (r *Router) handleProviderToggle(w http.ResponseWriter, req *http.Request) {
	providerID := req.PathValue("providerId")
	if _, ok := r.tts.Provider(providerID); !ok {
		writeError(w, http.StatusNotFound, speech.KindValidation, "unknown provider "+providerID)
		return
	}

	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Enabled == nil {
		writeError(w, http.StatusBadRequest, speech.KindValidation, "enabled is required")
		return
	}
	if providerID == tts.ProviderEdge && !*body.Enabled {
		writeError(w, http.StatusBadRequest, speech.KindValidation, "the default provider cannot be disabled")
		return
	}

	r.tts.SetEnabled(providerID, *body.Enabled)
	writeJSON(w, http.StatusOK, map[string]any{"provider": providerID, "enabled": *body.Enabled})
}
