// Command cleanup runs one cache eviction pass from the shell. The server
// runs the same pass on a schedule; this binary exists for cron setups and
// for recovering disk space without restarting anything.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariahq/aria/internal/app"
	"github.com/ariahq/aria/internal/blob"
	"github.com/ariahq/aria/internal/cache"
	"github.com/ariahq/aria/internal/migrations"
	"github.com/ariahq/aria/internal/store"
)

func main() {
	var (
		maxAgeHours     = flag.Int("max-age-hours", 0, "evict entries not accessed in this many hours (0 = configured default)")
		maxSizeBytes    = flag.Int64("max-size-bytes", 0, "evict LRU entries until total size fits (0 = configured default)")
		dryRun          = flag.Bool("dry-run", false, "report what would be evicted without deleting anything")
		migrationStatus = flag.Bool("migration-status", false, "print migration status and exit")
	)
	flag.Parse()

	_ = godotenv.Load()
	cfg := app.LoadConfigFromEnv()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal("init logger:", err)
	}
	defer logger.Sync()

	if cfg.DatabaseURL == "" {
		logger.Fatal("DATABASE_URL is required")
	}

	if *migrationStatus {
		if err := migrations.Status(cfg.DatabaseURL, logger); err != nil {
			logger.Fatal("migration status failed", zap.Error(err))
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	db, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("connect database", zap.Error(err))
	}
	defer db.Close()

	s := store.New(db)

	maxAge := cfg.CacheMaxAge
	if *maxAgeHours > 0 {
		maxAge = time.Duration(*maxAgeHours) * time.Hour
	}
	maxSize := cfg.CacheMaxSizeBytes
	if *maxSizeBytes > 0 {
		maxSize = *maxSizeBytes
	}

	if *dryRun {
		if err := report(ctx, s, maxAge, maxSize, logger); err != nil {
			logger.Fatal("dry run failed", zap.Error(err))
		}
		return
	}

	blobs, err := blob.NewFSStore(cfg.AudioDir, cfg.AudioBaseURL)
	if err != nil {
		logger.Fatal("open audio dir", zap.Error(err))
	}

	c := cache.New(s, blobs, cache.Config{
		MaxEntries:   int64(cfg.CacheMaxEntries),
		MaxSizeBytes: cfg.CacheMaxSizeBytes,
		MaxAge:       cfg.CacheMaxAge,
	}, logger)

	stats := c.Cleanup(ctx, maxAge, maxSize)
	logger.Info("cleanup finished",
		zap.Int("deleted", stats.DeletedCount),
		zap.Int64("freed_bytes", stats.FreedBytes),
		zap.Strings("errors", stats.Errors))
}

// report walks the same eviction logic read-only: the age cutoff first, then
// the LRU tail that the size pass would take.
func report(ctx context.Context, s *store.Store, maxAge time.Duration, maxSize int64, logger *zap.Logger) error {
	agg, err := s.Aggregate(ctx)
	if err != nil {
		return err
	}
	logger.Info("current cache state",
		zap.Int64("entries", agg.TotalEntries),
		zap.Int64("total_bytes", agg.TotalBytes))

	entries, err := s.ListByLastAccessed(ctx, int(agg.TotalEntries))
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-maxAge)
	var (
		staleCount int
		staleBytes int64
		liveBytes  = agg.TotalBytes
	)
	for _, e := range entries {
		if e.LastAccessedAt.Before(cutoff) {
			staleCount++
			staleBytes += e.FileSizeBytes
			liveBytes -= e.FileSizeBytes
		}
	}
	logger.Info("age pass would evict",
		zap.Int("entries", staleCount),
		zap.Int64("bytes", staleBytes))

	var (
		lruCount int
		lruBytes int64
		excess   = liveBytes - maxSize
	)
	for _, e := range entries {
		if excess <= 0 {
			break
		}
		if e.LastAccessedAt.Before(cutoff) {
			continue // already counted in the age pass
		}
		lruCount++
		lruBytes += e.FileSizeBytes
		excess -= e.FileSizeBytes
	}
	logger.Info("size pass would evict",
		zap.Int("entries", lruCount),
		zap.Int64("bytes", lruBytes))

	return nil
}
