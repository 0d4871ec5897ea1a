package tts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// providerPriority orders the fallback chain: most capable first, the
// credential-free backend last so a chain always terminates somewhere.
var providerPriority = map[string]int{
	ProviderElevenLabs: 0,
	ProviderKokoro:     1,
	ProviderEdge:       2,
}

var (
	// ErrProviderNotAllowed means the caller explicitly requested a backend
	// their plan does not include. Never silently downgraded.
	ErrProviderNotAllowed = errors.New("provider not allowed for plan")

	// ErrNoProviderAvailable means every candidate was disabled or unknown.
	ErrNoProviderAvailable = errors.New("no provider available")
)

// Router owns the provider dispatch table. The table is built once at
// startup; only the enabled/disabled overrides change afterwards.
type Router struct {
	logger    *zap.Logger
	providers map[string]Provider

	mu       sync.RWMutex
	disabled map[string]bool
}

// NewRouter builds the dispatch table from the given adapters.
func NewRouter(logger *zap.Logger, providers ...Provider) *Router {
	table := make(map[string]Provider, len(providers))
	for _, p := range providers {
		table[p.ID()] = p
	}
	return &Router{
		logger:    logger,
		providers: table,
		disabled:  map[string]bool{},
	}
}

// SetEnabled toggles a provider at runtime without restarting. Disabled
// providers are skipped during selection and fallback.
func (r *Router) SetEnabled(id string, enabled bool) {
	r.mu.Lock()
	r.disabled[id] = !enabled
	r.mu.Unlock()
	r.logger.Info("provider toggled", zap.String("provider", id), zap.Bool("enabled", enabled))
}

func (r *Router) isEnabled(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !r.disabled[id]
}

// Provider returns a registered adapter by ID.
func (r *Router) Provider(id string) (Provider, bool) {
	p, ok := r.providers[id]
	return p, ok
}

// Configurable is implemented by adapters that can tell without a network
// round trip that they can never succeed, such as a premium backend missing
// its API key. Select skips those instead of burning their retry budget on
// every request before falling back.
type Configurable interface {
	Configured() bool
}

func usable(p Provider) bool {
	if c, ok := p.(Configurable); ok {
		return c.Configured()
	}
	return true
}

// Select resolves the ordered candidate chain for a request. allowed is the
// plan's provider set in priority order. When the caller names a provider
// explicitly it must be in the allowed set; the chain then starts there and
// falls back through the remaining allowed providers. Without an explicit
// request the chain is the allowed set ordered by capability.
func (r *Router) Select(requested string, allowed []string) ([]Provider, error) {
	if requested != "" {
		found := false
		for _, id := range allowed {
			if id == requested {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: %s", ErrProviderNotAllowed, requested)
		}
	}

	ordered := make([]string, 0, len(allowed))
	ordered = append(ordered, allowed...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return providerPriority[ordered[i]] < providerPriority[ordered[j]]
	})

	chain := make([]Provider, 0, len(ordered))
	appendCandidate := func(id string) {
		p, ok := r.providers[id]
		if !ok || !r.isEnabled(id) || !usable(p) {
			return
		}
		for _, existing := range chain {
			if existing.ID() == id {
				return
			}
		}
		chain = append(chain, p)
	}

	if requested != "" {
		appendCandidate(requested)
	}
	for _, id := range ordered {
		appendCandidate(id)
	}

	if len(chain) == 0 {
		return nil, ErrNoProviderAvailable
	}
	return chain, nil
}

// Generate walks the candidate chain until one provider produces audio. Each
// adapter applies its own retry policy internally, so a chain step only
// advances after that backend is genuinely exhausted. Invalid-voice errors
// from an explicitly requested provider surface immediately: the voice would
// not exist on another backend either.
func (r *Router) Generate(ctx context.Context, requested string, allowed []string, text, voiceID string, opts Options) (*Result, string, error) {
	chain, err := r.Select(requested, allowed)
	if err != nil {
		return nil, "", err
	}

	var lastErr error
	for _, p := range chain {
		res, err := p.Generate(ctx, text, voiceID, opts)
		if err == nil {
			return res, p.ID(), nil
		}
		lastErr = err

		if requested != "" && p.ID() == requested && KindOf(err) == ErrInvalidVoice {
			return nil, "", err
		}
		if ctx.Err() != nil {
			return nil, "", err
		}

		r.logger.Warn("provider failed, trying next",
			zap.String("provider", p.ID()),
			zap.String("kind", string(KindOf(err))),
			zap.Error(err))
	}
	return nil, "", fmt.Errorf("all providers failed: %w", lastErr)
}

// Statuses probes every registered provider concurrently.
func (r *Router) Statuses(ctx context.Context) []Status {
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return providerPriority[ids[i]] < providerPriority[ids[j]] })

	statuses := make([]Status, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		if !r.isEnabled(id) {
			statuses[i] = Status{Provider: id, Available: false, Message: "disabled by operator"}
			continue
		}
		wg.Add(1)
		go func(i int, p Provider) {
			defer wg.Done()
			statuses[i] = p.Status(ctx)
		}(i, r.providers[id])
	}
	wg.Wait()
	return statuses
}

// ListVoices aggregates voice catalogs across enabled providers. A backend
// that fails to answer contributes nothing rather than failing the call.
func (r *Router) ListVoices(ctx context.Context) []Voice {
	var (
		mu     sync.Mutex
		voices []Voice
		wg     sync.WaitGroup
	)
	for id, p := range r.providers {
		if !r.isEnabled(id) {
			continue
		}
		wg.Add(1)
		go func(p Provider) {
			defer wg.Done()
			vs, err := p.ListVoices(ctx)
			if err != nil {
				r.logger.Warn("voice list failed", zap.String("provider", p.ID()), zap.Error(err))
				return
			}
			mu.Lock()
			voices = append(voices, vs...)
			mu.Unlock()
		}(p)
	}
	wg.Wait()

	sort.Slice(voices, func(i, j int) bool {
		if voices[i].Provider != voices[j].Provider {
			return providerPriority[voices[i].Provider] < providerPriority[voices[j].Provider]
		}
		return voices[i].ID < voices[j].ID
	})
	return voices
}
