package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ariahq/aria/internal/cache"
	"github.com/ariahq/aria/internal/eventlog"
)

// CacheCleanupJob enforces the cache's age and size bounds on a schedule.
// The post-write auto-cleanup only fires while traffic flows; this job keeps
// a quiet cache from holding a month of stale audio.
type CacheCleanupJob struct {
	cache    *cache.Cache
	events   *eventlog.Logger
	logger   *zap.Logger
	cfg      cache.Config
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewCacheCleanupJob creates the job. interval defaults to 6 hours.
func NewCacheCleanupJob(c *cache.Cache, events *eventlog.Logger, cfg cache.Config, logger *zap.Logger, interval time.Duration) *CacheCleanupJob {
	if interval == 0 {
		interval = 6 * time.Hour
	}
	return &CacheCleanupJob{
		cache:    c,
		events:   events,
		logger:   logger,
		cfg:      cfg,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the background job.
func (j *CacheCleanupJob) Start() {
	j.wg.Add(1)
	go j.run()
	j.logger.Info("cache cleanup job started", zap.Duration("interval", j.interval))
}

// Stop gracefully stops the background job.
func (j *CacheCleanupJob) Stop() {
	close(j.stopCh)
	j.wg.Wait()
	j.logger.Info("cache cleanup job stopped")
}

func (j *CacheCleanupJob) run() {
	defer j.wg.Done()

	// Run immediately on start
	j.runOnce()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.runOnce()
		case <-j.stopCh:
			return
		}
	}
}

func (j *CacheCleanupJob) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	stats := j.cache.Cleanup(ctx, j.cfg.MaxAge, j.cfg.MaxSizeBytes)
	if j.events != nil {
		j.events.LogAsync("", eventlog.EventCleanupRun, map[string]any{
			"deleted_count": stats.DeletedCount,
			"freed_bytes":   stats.FreedBytes,
			"errors":        len(stats.Errors),
			"scheduled":     true,
		})
	}
}
