// Package speech is the façade over caching, routing, quota and storage: one
// entry point turns a (text, voice, options) request into a playable asset.
package speech

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ariahq/aria/internal/blob"
	"github.com/ariahq/aria/internal/cache"
	"github.com/ariahq/aria/internal/eventlog"
	"github.com/ariahq/aria/internal/hashkey"
	"github.com/ariahq/aria/internal/metrics"
	"github.com/ariahq/aria/internal/store"
	"github.com/ariahq/aria/internal/tier"
	"github.com/ariahq/aria/internal/tts"
	"github.com/ariahq/aria/internal/usage"
)

// Default voice used when neither the request nor the persona picks one.
const (
	DefaultProvider = tts.ProviderEdge
	DefaultVoiceID  = "en-US-AriaNeural"
)

// PersonaSource resolves a persona's stored voice settings. *store.Store
// implements it; nil-safe fakes serve in tests.
type PersonaSource interface {
	GetPersonaVoice(ctx context.Context, personaID string) (*store.PersonaVoice, error)
	SetPersonaWelcomeAudio(ctx context.Context, personaID, key string) (previous string, err error)
}

// Request is one speech generation request from an authenticated caller.
type Request struct {
	Text      string      `json:"text"`
	PersonaID string      `json:"persona_id,omitempty"`
	VoiceID   string      `json:"voice_id,omitempty"`
	Provider  string      `json:"provider,omitempty"`
	Options   tts.Options `json:"options"`

	CallerID string    `json:"-"`
	Tier     tier.Tier `json:"-"`
}

// Result is the uniform outcome for hits and misses alike.
type Result struct {
	AudioLocation   string  `json:"audio_location"`
	Cached          bool    `json:"cached"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	Provider        string  `json:"provider"`
	Key             string  `json:"key"`

	// Audio carries the generated bytes when blob storage failed and no
	// location exists. Empty on the normal path.
	Audio []byte `json:"-"`
}

// Service is the orchestrator. Construct with New; all collaborators are
// explicit so tests assemble a fresh instance each.
type Service struct {
	logger   *zap.Logger
	cache    *cache.Cache
	router   *tts.Router
	usage    *usage.Tracker
	blobs    blob.Store
	personas PersonaSource
	events   *eventlog.Logger
}

func New(c *cache.Cache, router *tts.Router, tracker *usage.Tracker, blobs blob.Store, personas PersonaSource, events *eventlog.Logger, logger *zap.Logger) *Service {
	return &Service{
		logger:   logger,
		cache:    c,
		router:   router,
		usage:    tracker,
		blobs:    blobs,
		personas: personas,
		events:   events,
	}
}

// GenerateSpeech derives the cache key, serves a hit for free, and on a miss
// gates quota and tier access before routing to a provider. Side-writes after
// a successful generation (blob put, cache set, usage record) degrade
// individually: the audio is always returned once a provider produced it.
func (s *Service) GenerateSpeech(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, newError(KindValidation, "text is required", nil)
	}
	if req.CallerID == "" {
		return nil, newError(KindUnauthorized, "no authenticated caller", nil)
	}
	limits, err := tier.LimitsFor(req.Tier)
	if err != nil {
		return nil, newError(KindUnauthorized, "unknown subscription tier", err)
	}

	voiceID, preferredProvider, opts := s.resolveVoice(ctx, req)
	key := hashkey.DeriveKey(req.Text, voiceID, opts.Map())

	if e, ok := s.cache.Get(ctx, key); ok {
		s.events.LogAsync(key, eventlog.EventCacheHit, map[string]any{
			"provider": e.VoiceProvider, "access_count": e.AccessCount,
		})
		return &Result{
			AudioLocation:   e.AudioLocation,
			Cached:          true,
			DurationSeconds: e.DurationSeconds,
			Provider:        e.VoiceProvider,
			Key:             key,
		}, nil
	}

	// Miss: quota first, so a rejected request never spends provider budget.
	if err := s.usage.CheckQuota(ctx, req.CallerID, req.Tier); err != nil {
		if errors.Is(err, usage.ErrQuotaExceeded) {
			metrics.QuotaRejections.Inc()
			s.events.LogAsync(key, eventlog.EventQuotaRejected, map[string]any{"caller": req.CallerID})
			return nil, newError(KindQuotaExceeded, "monthly generation limit reached", err)
		}
		return nil, newError(KindInternal, "quota check failed", err)
	}

	// An explicitly requested provider outside the plan is a hard denial,
	// never a silent downgrade. A persona's preference is soft: it falls
	// back through normal routing instead.
	if req.Provider != "" && !limits.AllowsProvider(req.Provider) {
		s.events.LogAsync(key, eventlog.EventAccessDenied, map[string]any{
			"caller": req.CallerID, "provider": req.Provider, "tier": string(req.Tier),
		})
		return nil, newError(KindAccessDenied, "plan does not include provider "+req.Provider, nil)
	}
	requested := req.Provider
	if requested == "" && preferredProvider != "" && limits.AllowsProvider(preferredProvider) {
		requested = preferredProvider
	}

	s.events.LogAsync(key, eventlog.EventGenerationStarted, map[string]any{
		"caller": req.CallerID, "voice_id": voiceID, "requested": requested,
	})

	start := time.Now()
	gen, usedProvider, err := s.router.Generate(ctx, requested, limits.AllowedProviders, req.Text, voiceID, opts)
	if err != nil {
		provider := requested
		if provider == "" {
			provider = "auto"
		}
		metrics.GenerationErrors.WithLabelValues(provider, string(tts.KindOf(err))).Inc()
		s.events.LogAsync(key, eventlog.EventGenerationFailed, map[string]any{
			"caller": req.CallerID, "error": err.Error(),
		})
		return nil, mapProviderError(err)
	}
	metrics.GenerationDuration.WithLabelValues(usedProvider).Observe(time.Since(start).Seconds())
	if requested != "" && usedProvider != requested {
		s.events.LogAsync(key, eventlog.EventProviderFallback, map[string]any{
			"requested": requested, "used": usedProvider,
		})
	}

	res := &Result{
		Cached:          false,
		DurationSeconds: gen.DurationSeconds,
		Provider:        usedProvider,
		Key:             key,
	}

	location, err := s.blobs.Put(ctx, key+"."+gen.Format, gen.Audio, contentType(gen.Format))
	if err != nil {
		// The audio exists; hand it over inline and skip the cache entry
		// (a row must never point at bytes that were not stored).
		s.logger.Error("blob store failed, returning inline audio",
			zap.String("key", hashkey.ShortKey(key)), zap.Error(err))
		res.Audio = gen.Audio
		s.usage.Record(ctx, req.CallerID, usedProvider, voiceID, gen.CharacterCount)
		return res, nil
	}
	res.AudioLocation = location

	entry := &cache.Entry{
		Key:             key,
		AudioLocation:   location,
		VoiceProvider:   usedProvider,
		VoiceID:         voiceID,
		PersonaID:       req.PersonaID,
		FileSizeBytes:   int64(gen.SizeBytes),
		DurationSeconds: gen.DurationSeconds,
	}
	if err := s.cache.Set(ctx, entry); err != nil {
		s.logger.Warn("cache write failed after generation", zap.String("key", hashkey.ShortKey(key)), zap.Error(err))
		s.events.LogAsync(key, eventlog.EventCacheWriteFailed, map[string]any{"error": err.Error()})
	} else {
		s.events.LogAsync(key, eventlog.EventCacheWrite, map[string]any{
			"provider": usedProvider, "size_bytes": gen.SizeBytes,
		})
	}

	s.usage.Record(ctx, req.CallerID, usedProvider, voiceID, gen.CharacterCount)
	s.events.LogAsync(key, eventlog.EventGenerationCompleted, map[string]any{
		"provider": usedProvider, "duration_ms": time.Since(start).Milliseconds(),
	})
	return res, nil
}

// resolveVoice applies the priority chain: explicit request values, then the
// persona's stored settings, then the system default. Persona lookup failures
// degrade to the default voice.
func (s *Service) resolveVoice(ctx context.Context, req Request) (voiceID, provider string, opts tts.Options) {
	opts = req.Options
	voiceID = strings.TrimSpace(req.VoiceID)
	provider = req.Provider

	if voiceID != "" {
		return voiceID, provider, opts
	}

	if req.PersonaID != "" && s.personas != nil {
		pv, err := s.personas.GetPersonaVoice(ctx, req.PersonaID)
		if err != nil {
			s.logger.Warn("persona voice lookup failed", zap.String("persona_id", req.PersonaID), zap.Error(err))
		} else if pv != nil && pv.VoiceID != "" {
			voiceID = pv.VoiceID
			if provider == "" {
				provider = pv.VoiceProvider
			}
			applyPersonaSettings(&opts, pv.VoiceSettings)
			return voiceID, provider, opts
		}
	}

	return DefaultVoiceID, provider, opts
}

// applyPersonaSettings fills option fields the request left unset.
func applyPersonaSettings(opts *tts.Options, settings map[string]any) {
	if settings == nil {
		return
	}
	if opts.Rate == 0 {
		if v, ok := settings["rate"].(float64); ok {
			opts.Rate = v
		}
	}
	if opts.Pitch == 0 {
		if v, ok := settings["pitch"].(float64); ok {
			opts.Pitch = int(v)
		}
	}
	if opts.Style == "" {
		if v, ok := settings["style"].(string); ok {
			opts.Style = v
		}
	}
}

// mapProviderError folds router/adapter failures into the façade taxonomy.
func mapProviderError(err error) error {
	if errors.Is(err, tts.ErrProviderNotAllowed) {
		return newError(KindAccessDenied, "plan does not include the requested provider", err)
	}
	if errors.Is(err, tts.ErrNoProviderAvailable) {
		return newError(KindProviderUnavailable, "no speech provider available", err)
	}
	switch tts.KindOf(err) {
	case tts.ErrInvalidVoice:
		return newError(KindInvalidVoice, "voice not recognized by provider", err)
	case tts.ErrRateLimited, tts.ErrTimeout, tts.ErrUpstream:
		return newError(KindProviderUnavailable, "speech provider failed", err)
	default:
		return newError(KindInternal, "speech generation failed", err)
	}
}

func contentType(format string) string {
	switch format {
	case "wav":
		return "audio/wav"
	case "ogg":
		return "audio/ogg"
	default:
		return "audio/mpeg"
	}
}

// ReplaceWelcomeAudio generates a persona's welcome line, stores it, and
// drops the superseded cache entry so the old asset does not linger.
func (s *Service) ReplaceWelcomeAudio(ctx context.Context, personaID, text string, callerID string, tr tier.Tier) (*Result, error) {
	res, err := s.GenerateSpeech(ctx, Request{
		Text:      text,
		PersonaID: personaID,
		CallerID:  callerID,
		Tier:      tr,
	})
	if err != nil {
		return nil, err
	}

	previous, err := s.personas.SetPersonaWelcomeAudio(ctx, personaID, res.Key)
	if err != nil {
		return nil, newError(KindStorage, "persist welcome audio key", err)
	}
	if previous != "" && previous != res.Key {
		if err := s.cache.Delete(ctx, previous); err != nil {
			s.logger.Warn("stale welcome audio cleanup failed",
				zap.String("persona_id", personaID), zap.String("key", previous), zap.Error(err))
		}
	}
	return res, nil
}

// ListVoices aggregates the catalogs of every enabled provider.
func (s *Service) ListVoices(ctx context.Context) []tts.Voice {
	return s.router.ListVoices(ctx)
}

// ProviderStatuses probes every provider's health.
func (s *Service) ProviderStatuses(ctx context.Context) []tts.Status {
	return s.router.Statuses(ctx)
}

// Quota reports the caller's monthly standing.
func (s *Service) Quota(ctx context.Context, callerID string, tr tier.Tier) (*usage.Quota, error) {
	q, err := s.usage.Current(ctx, callerID, tr)
	if err != nil {
		return nil, newError(KindInternal, "quota lookup failed", err)
	}
	return q, nil
}

// WarmCache preloads common phrases for a voice through the normal routing
// path. Intended for operator use; quota does not apply.
func (s *Service) WarmCache(ctx context.Context, phrases []string, voiceID string, allowed []string) int {
	if voiceID == "" {
		voiceID = DefaultVoiceID
	}
	items := make([]cache.WarmPhrase, 0, len(phrases))
	for _, text := range phrases {
		items = append(items, cache.WarmPhrase{
			Key:     hashkey.DeriveKey(text, voiceID, nil),
			Text:    text,
			VoiceID: voiceID,
		})
	}

	warmed := s.cache.Warm(ctx, items, func(ctx context.Context, text, voiceID string) (*cache.Entry, error) {
		gen, usedProvider, err := s.router.Generate(ctx, "", allowed, text, voiceID, tts.Options{})
		if err != nil {
			return nil, err
		}
		key := hashkey.DeriveKey(text, voiceID, nil)
		location, err := s.blobs.Put(ctx, key+"."+gen.Format, gen.Audio, contentType(gen.Format))
		if err != nil {
			return nil, err
		}
		return &cache.Entry{
			AudioLocation:   location,
			VoiceProvider:   usedProvider,
			VoiceID:         voiceID,
			FileSizeBytes:   int64(gen.SizeBytes),
			DurationSeconds: gen.DurationSeconds,
		}, nil
	})
	if warmed > 0 {
		s.events.LogAsync("", eventlog.EventCacheWarmed, map[string]any{"count": warmed})
	}
	return warmed
}
