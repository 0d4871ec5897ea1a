// Package httpapi is the HTTP surface over the speech service: the speech
// endpoint, voice/provider catalogs, quota, and the admin cache operations.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ariahq/aria/internal/cache"
	"github.com/ariahq/aria/internal/speech"
	"github.com/ariahq/aria/internal/tts"
)

type RouterConfig struct {
	// JWT Authentication
	JWTSecret string
	JWTExpiry time.Duration

	// AudioDir, when set, is served read-only under /audio/ so the
	// filesystem blob store's locations resolve.
	AudioDir string
}

type Router struct {
	cfg    RouterConfig
	logger *zap.Logger
	speech *speech.Service
	tts    *tts.Router
	admin  AdminOps
	mux    *http.ServeMux
}

// AdminOps is the slice of the cache the admin endpoints need.
// *cache.Cache implements it.
type AdminOps interface {
	GetStats(ctx context.Context) (*cache.Stats, error)
	Cleanup(ctx context.Context, maxAge time.Duration, maxSizeBytes int64) cache.CleanupStats
}

func NewRouter(cfg RouterConfig, logger *zap.Logger, svc *speech.Service, providers *tts.Router, admin AdminOps) http.Handler {
	r := &Router{
		cfg:    cfg,
		logger: logger,
		speech: svc,
		tts:    providers,
		admin:  admin,
		mux:    http.NewServeMux(),
	}

	r.routes()
	return withSentryRecovery(withCORS(r.mux))
}

func (r *Router) routes() {
	// Health check and metrics
	r.mux.HandleFunc("GET /healthz", r.handleHealthz)
	r.mux.Handle("GET /metrics", promhttp.Handler())

	// Audio assets (filesystem blob store)
	if r.cfg.AudioDir != "" {
		r.mux.Handle("GET /audio/", http.StripPrefix("/audio/", http.FileServer(http.Dir(r.cfg.AudioDir))))
	}

	// Protected API endpoints
	r.mux.HandleFunc("POST /api/speech", r.withAuth(r.handleGenerateSpeech))
	r.mux.HandleFunc("POST /api/personas/{personaId}/welcome-audio", r.withAuth(r.handleReplaceWelcomeAudio))
	r.mux.HandleFunc("GET /api/voices", r.withAuth(r.handleListVoices))
	r.mux.HandleFunc("GET /api/providers/status", r.withAuth(r.handleProviderStatuses))
	r.mux.HandleFunc("GET /api/quota", r.withAuth(r.handleGetQuota))

	// Admin endpoints (requires admin claim)
	r.mux.HandleFunc("GET /admin/cache/stats", r.withAdmin(r.handleCacheStats))
	r.mux.HandleFunc("POST /admin/cache/cleanup", r.withAdmin(r.handleCacheCleanup))
	r.mux.HandleFunc("POST /admin/cache/warm", r.withAdmin(r.handleCacheWarm))
	r.mux.HandleFunc("PATCH /admin/providers/{providerId}", r.withAdmin(r.handleProviderToggle))
}

func (r *Router) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError emits the stable machine-readable error body.
func writeError(w http.ResponseWriter, status int, kind speech.Kind, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"kind": string(kind), "message": message},
	})
}

func withSentryRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), err)
				hub.Flush(2 * time.Second)
				http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, req)
	})
}

// captureError sends an error to Sentry with request context
func captureError(req *http.Request, err error, msg string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(req)
		scope.SetExtra("message", msg)
		sentry.CaptureException(err)
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}
