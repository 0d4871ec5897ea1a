package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ariahq/aria/internal/blob"
	"github.com/ariahq/aria/internal/cache"
	"github.com/ariahq/aria/internal/eventlog"
	"github.com/ariahq/aria/internal/httpapi"
	"github.com/ariahq/aria/internal/jobs"
	"github.com/ariahq/aria/internal/migrations"
	"github.com/ariahq/aria/internal/speech"
	"github.com/ariahq/aria/internal/store"
	"github.com/ariahq/aria/internal/tts"
	"github.com/ariahq/aria/internal/usage"
)

type App struct {
	cfg        Config
	logger     *zap.Logger
	db         *pgxpool.Pool
	store      *store.Store
	eventLog   *eventlog.Logger
	cache      *cache.Cache
	providers  *tts.Router
	speech     *speech.Service
	cleanupJob *jobs.CacheCleanupJob
	httpClient *http.Client // Shared HTTP client with connection pooling for TTS
}

func New(cfg Config, logger *zap.Logger) (*App, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.MigrateOnStart {
		if err := migrations.Up(cfg.DatabaseURL, logger); err != nil {
			db.Close()
			return nil, err
		}
	}

	s := store.New(db)
	el := eventlog.New(db)

	// Shared HTTP client with connection pooling for TTS.
	// Keeps TCP connections alive to reduce latency for repeated provider calls.
	httpClient := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	blobs, err := blob.NewFSStore(cfg.AudioDir, cfg.AudioBaseURL)
	if err != nil {
		db.Close()
		return nil, err
	}

	cacheCfg := cache.Config{
		MaxEntries:   int64(cfg.CacheMaxEntries),
		MaxSizeBytes: cfg.CacheMaxSizeBytes,
		MaxAge:       cfg.CacheMaxAge,
	}
	audioCache := cache.New(s, blobs, cacheCfg, logger)

	providers := tts.NewRouter(logger,
		tts.NewEdgeProvider(tts.EdgeConfig{HTTPClient: httpClient}, logger),
		tts.NewKokoroProvider(tts.KokoroConfig{
			BaseURL:    cfg.KokoroBaseURL,
			HTTPClient: httpClient,
		}, logger),
		tts.NewElevenLabsProvider(tts.ElevenLabsConfig{
			APIKey:     cfg.ElevenLabsAPIKey,
			ModelID:    cfg.ElevenLabsModelID,
			Stability:  cfg.TTSStability,
			Similarity: cfg.TTSSimilarity,
			HTTPClient: httpClient,
		}, logger),
	)

	tracker := usage.New(s, logger)
	svc := speech.New(audioCache, providers, tracker, blobs, s, el, logger)
	cleanupJob := jobs.NewCacheCleanupJob(audioCache, el, cacheCfg, logger, cfg.CleanupInterval)

	return &App{
		cfg:        cfg,
		logger:     logger,
		db:         db,
		store:      s,
		eventLog:   el,
		cache:      audioCache,
		providers:  providers,
		speech:     svc,
		cleanupJob: cleanupJob,
		httpClient: httpClient,
	}, nil
}

func (a *App) Router() http.Handler {
	routerCfg := httpapi.RouterConfig{
		JWTSecret: a.cfg.JWTSecret,
		JWTExpiry: a.cfg.JWTExpiry,
		AudioDir:  a.cfg.AudioDir,
	}
	return httpapi.NewRouter(routerCfg, a.logger, a.speech, a.providers, a.cache)
}

// StartJobs launches the background maintenance loops.
func (a *App) StartJobs() {
	a.cleanupJob.Start()
}

func (a *App) Close() error {
	if a.cleanupJob != nil {
		a.cleanupJob.Stop()
	}
	if a.db != nil {
		a.db.Close()
	}
	return nil
}
