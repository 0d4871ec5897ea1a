package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ariahq/aria/internal/cache"
	"github.com/ariahq/aria/internal/speech"
	"github.com/ariahq/aria/internal/store"
	"github.com/ariahq/aria/internal/tier"
	"github.com/ariahq/aria/internal/tts"
	"github.com/ariahq/aria/internal/usage"
)

const testSecret = "test-secret"

type memRepo struct {
	mu      sync.Mutex
	entries map[string]cache.Entry
}

func (r *memRepo) GetEntry(_ context.Context, key string) (*cache.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (r *memRepo) TouchEntry(_ context.Context, key string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entries[key]
	e.AccessCount++
	e.LastAccessedAt = at
	r.entries[key] = e
	return e.AccessCount, nil
}

func (r *memRepo) UpsertEntry(_ context.Context, e *cache.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.Key] = *e
	return nil
}

func (r *memRepo) DeleteEntry(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key)
	return nil
}

func (r *memRepo) DeleteAccessedBefore(_ context.Context, cutoff time.Time) ([]cache.Evicted, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []cache.Evicted
	for k, e := range r.entries {
		if e.LastAccessedAt.Before(cutoff) {
			out = append(out, cache.Evicted{Key: k, AudioLocation: e.AudioLocation, FileSizeBytes: e.FileSizeBytes})
			delete(r.entries, k)
		}
	}
	return out, nil
}

func (r *memRepo) ListByLastAccessed(_ context.Context, limit int) ([]cache.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]cache.Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastAccessedAt.Before(out[j].LastAccessedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) Aggregate(_ context.Context) (*cache.Aggregate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	agg := &cache.Aggregate{}
	for _, e := range r.entries {
		agg.TotalEntries++
		agg.TotalBytes += e.FileSizeBytes
		agg.TotalAccesses += e.AccessCount
	}
	return agg, nil
}

type memBlobs struct{}

func (b *memBlobs) Put(_ context.Context, name string, _ []byte, _ string) (string, error) {
	return "mem://" + name, nil
}
func (b *memBlobs) Delete(context.Context, string) error { return nil }

type memLedger struct {
	mu    sync.Mutex
	count int
}

func (l *memLedger) RecordGeneration(context.Context, store.Generation) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.count++
	return nil
}

func (l *memLedger) CountGenerationsThisMonth(context.Context, string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count, nil
}

func (l *memLedger) MonthlySpendCents(context.Context, string) (float64, error) { return 0, nil }

type noPersonas struct{}

func (noPersonas) GetPersonaVoice(context.Context, string) (*store.PersonaVoice, error) {
	return nil, nil
}
func (noPersonas) SetPersonaWelcomeAudio(_ context.Context, _, key string) (string, error) {
	return "", nil
}

type stubProvider struct{ id string }

func (p *stubProvider) ID() string { return p.id }
func (p *stubProvider) Generate(_ context.Context, text, _ string, _ tts.Options) (*tts.Result, error) {
	return &tts.Result{Audio: []byte("x"), Format: "mp3", SizeBytes: 1, CharacterCount: len(text), DurationSeconds: 0.5}, nil
}
func (p *stubProvider) ListVoices(context.Context) ([]tts.Voice, error) {
	return []tts.Voice{{ID: p.id + "-v1", Provider: p.id}}, nil
}
func (p *stubProvider) Status(context.Context) tts.Status {
	return tts.Status{Provider: p.id, Available: true, LastCheckedAt: time.Now()}
}

type testEnv struct {
	handler http.Handler
	ledger  *memLedger
	repo    *memRepo
	routerT *tts.Router
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	repo := &memRepo{entries: map[string]cache.Entry{}}
	blobs := &memBlobs{}
	ledger := &memLedger{}

	c := cache.New(repo, blobs, cache.DefaultConfig, logger)
	providers := tts.NewRouter(logger, &stubProvider{id: tts.ProviderEdge}, &stubProvider{id: tts.ProviderElevenLabs})
	svc := speech.New(c, providers, usage.New(ledger, logger), blobs, noPersonas{}, nil, logger)

	handler := NewRouter(RouterConfig{JWTSecret: testSecret, JWTExpiry: time.Hour}, logger, svc, providers, c)
	return &testEnv{handler: handler, ledger: ledger, repo: repo, routerT: providers}
}

func bearerFor(t *testing.T, userID string, tr tier.Tier, admin bool) string {
	t.Helper()
	token, err := GenerateToken(testSecret, userID, tr, admin, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func doJSON(t *testing.T, h http.Handler, method, path, auth string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuth_MissingAndMalformedToken(t *testing.T) {
	env := newTestEnv(t)

	rec := doJSON(t, env.handler, "POST", "/api/speech", "", map[string]string{"text": "hi"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, env.handler, "POST", "/api/speech", "Bearer garbage", map[string]string{"text": "hi"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := GenerateToken("wrong-secret", "u1", tier.TierWanderer, false, time.Hour)
	require.NoError(t, err)
	rec = doJSON(t, env.handler, "POST", "/api/speech", "Bearer "+token, map[string]string{"text": "hi"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGenerateSpeech_EndToEnd(t *testing.T) {
	env := newTestEnv(t)
	auth := bearerFor(t, "u1", tier.TierWanderer, false)

	rec := doJSON(t, env.handler, "POST", "/api/speech", auth, map[string]any{
		"text": "Hello world", "voice_id": "v1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var first speech.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	assert.False(t, first.Cached)
	assert.NotEmpty(t, first.AudioLocation)

	rec = doJSON(t, env.handler, "POST", "/api/speech", auth, map[string]any{
		"text": "Hello world", "voice_id": "v1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var second speech.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.True(t, second.Cached)
	assert.Equal(t, first.AudioLocation, second.AudioLocation)
}

func TestGenerateSpeech_ErrorMapping(t *testing.T) {
	env := newTestEnv(t)
	auth := bearerFor(t, "u1", tier.TierWanderer, false)

	// Validation
	rec := doJSON(t, env.handler, "POST", "/api/speech", auth, map[string]any{"text": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "VALIDATION_ERROR")

	// Tier gate
	rec = doJSON(t, env.handler, "POST", "/api/speech", auth, map[string]any{
		"text": "hi", "voice_id": "v1", "provider": "elevenlabs",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "ACCESS_DENIED")

	// Quota gate
	env.ledger.count = 50
	rec = doJSON(t, env.handler, "POST", "/api/speech", auth, map[string]any{
		"text": "something new", "voice_id": "v1",
	})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "QUOTA_EXCEEDED")
}

func TestVoicesAndStatusEndpoints(t *testing.T) {
	env := newTestEnv(t)
	auth := bearerFor(t, "u1", tier.TierWanderer, false)

	rec := doJSON(t, env.handler, "GET", "/api/voices", auth, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "edge-v1")

	rec = doJSON(t, env.handler, "GET", "/api/providers/status", auth, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "\"available\":true")
}

func TestQuotaEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.count = 12
	auth := bearerFor(t, "u1", tier.TierWanderer, false)

	rec := doJSON(t, env.handler, "GET", "/api/quota", auth, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var q usage.Quota
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &q))
	assert.Equal(t, 12, q.Used)
	assert.Equal(t, 38, q.Remaining)
}

func TestAdminEndpoints_RequireAdminClaim(t *testing.T) {
	env := newTestEnv(t)
	userAuth := bearerFor(t, "u1", tier.TierTitan, false)

	rec := doJSON(t, env.handler, "GET", "/admin/cache/stats", userAuth, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	adminAuth := bearerFor(t, "admin", tier.TierTitan, true)
	rec = doJSON(t, env.handler, "GET", "/admin/cache/stats", adminAuth, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminCacheCleanup(t *testing.T) {
	env := newTestEnv(t)
	env.repo.entries["stale"] = cache.Entry{
		Key: "stale", AudioLocation: "mem://stale.mp3", FileSizeBytes: 10,
		LastAccessedAt: time.Now().Add(-1000 * time.Hour),
	}
	adminAuth := bearerFor(t, "admin", tier.TierTitan, true)

	rec := doJSON(t, env.handler, "POST", "/admin/cache/cleanup", adminAuth, map[string]any{
		"max_age_hours": 24,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var stats cache.CleanupStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.DeletedCount)
}

func TestAdminProviderToggle(t *testing.T) {
	env := newTestEnv(t)
	adminAuth := bearerFor(t, "admin", tier.TierTitan, true)

	rec := doJSON(t, env.handler, "PATCH", "/admin/providers/elevenlabs", adminAuth, map[string]any{"enabled": false})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, env.handler, "PATCH", "/admin/providers/edge", adminAuth, map[string]any{"enabled": false})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "the guaranteed fallback stays on")

	rec = doJSON(t, env.handler, "PATCH", "/admin/providers/nope", adminAuth, map[string]any{"enabled": false})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rec := doJSON(t, env.handler, "GET", "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
