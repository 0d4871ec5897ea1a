// Package cache implements the audio cache policy: access-tracked lookups,
// upsert-on-miss writes, and dual age/size-bounded eviction. Persistence is
// behind the Repository interface so the policy is testable without a
// database.
package cache

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ariahq/aria/internal/blob"
	"github.com/ariahq/aria/internal/metrics"
)

// Entry is one cached audio artifact. The audio bytes live in blob storage;
// AudioLocation is a weak reference to them.
type Entry struct {
	Key             string
	AudioLocation   string
	VoiceProvider   string
	VoiceID         string
	PersonaID       string // empty when not attributed to a persona
	FileSizeBytes   int64
	DurationSeconds float64
	CreatedAt       time.Time
	LastAccessedAt  time.Time
	AccessCount     int64
}

// Evicted is the metadata cleanup needs to release an entry's blob.
type Evicted struct {
	Key           string
	AudioLocation string
	FileSizeBytes int64
}

// VoiceUsage is one row of the stats top-voices breakdown.
type VoiceUsage struct {
	VoiceProvider string `json:"voice_provider"`
	VoiceID       string `json:"voice_id"`
	TotalAccesses int64  `json:"total_accesses"`
}

// Aggregate is the repository's one-scan summary of the cache table.
type Aggregate struct {
	TotalEntries  int64
	TotalBytes    int64
	TotalAccesses int64
	OldestEntry   time.Time
	NewestEntry   time.Time
	TopVoices     []VoiceUsage
}

// Repository is the persistence the cache policy needs. *store.Store is the
// production implementation; tests use an in-memory fake.
type Repository interface {
	// GetEntry returns the entry for key, or nil when absent.
	GetEntry(ctx context.Context, key string) (*Entry, error)

	// TouchEntry increments access_count and refreshes last_accessed_at,
	// returning the post-increment count.
	TouchEntry(ctx context.Context, key string, at time.Time) (int64, error)

	// UpsertEntry writes the entry, replacing any previous row for its key.
	UpsertEntry(ctx context.Context, e *Entry) error

	// DeleteEntry removes a row. Absent keys are not an error.
	DeleteEntry(ctx context.Context, key string) error

	// DeleteAccessedBefore removes every row with last_accessed_at older
	// than cutoff and returns what was removed.
	DeleteAccessedBefore(ctx context.Context, cutoff time.Time) ([]Evicted, error)

	// ListByLastAccessed returns up to limit rows in ascending
	// last_accessed_at order (LRU first).
	ListByLastAccessed(ctx context.Context, limit int) ([]Entry, error)

	// Aggregate summarizes the whole table.
	Aggregate(ctx context.Context) (*Aggregate, error)
}

// Config bounds the cache. The thresholds drive the auto-cleanup that runs
// after each write; an explicit Cleanup call may use different limits.
type Config struct {
	MaxEntries   int64
	MaxSizeBytes int64
	MaxAge       time.Duration
}

// DefaultConfig caps the cache at 10k entries / 10 GB, with entries expiring
// 30 days after their last access.
var DefaultConfig = Config{
	MaxEntries:   10_000,
	MaxSizeBytes: 10 << 30,
	MaxAge:       720 * time.Hour,
}

// CleanupStats reports one cleanup run.
type CleanupStats struct {
	DeletedCount int      `json:"deleted_count"`
	FreedBytes   int64    `json:"freed_bytes"`
	Errors       []string `json:"errors,omitempty"`
}

// Stats is the analytics snapshot served by the admin API.
type Stats struct {
	TotalEntries  int64        `json:"total_entries"`
	TotalBytes    int64        `json:"total_size_bytes"`
	HitRate       float64      `json:"hit_rate"`
	OldestEntry   *time.Time   `json:"oldest_entry,omitempty"`
	NewestEntry   *time.Time   `json:"newest_entry,omitempty"`
	AvgFileBytes  int64        `json:"average_file_size_bytes"`
	TopVoices     []VoiceUsage `json:"top_voices_by_usage"`
}

// Cache is the audio cache policy over a Repository and a blob store.
type Cache struct {
	logger *zap.Logger
	repo   Repository
	blobs  blob.Store
	cfg    Config

	now func() time.Time
}

// New constructs the cache. A zero-valued cfg field falls back to its
// DefaultConfig counterpart.
func New(repo Repository, blobs blob.Store, cfg Config, logger *zap.Logger) *Cache {
	if cfg.MaxEntries == 0 {
		cfg.MaxEntries = DefaultConfig.MaxEntries
	}
	if cfg.MaxSizeBytes == 0 {
		cfg.MaxSizeBytes = DefaultConfig.MaxSizeBytes
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = DefaultConfig.MaxAge
	}
	return &Cache{
		logger: logger,
		repo:   repo,
		blobs:  blobs,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Get looks up a key and tracks the access. A read failure degrades to a
// miss; a tracking-write failure is logged and swallowed, the hit is still
// returned with the count bumped locally. Audio delivery outranks
// bookkeeping accuracy.
func (c *Cache) Get(ctx context.Context, key string) (*Entry, bool) {
	e, err := c.repo.GetEntry(ctx, key)
	if err != nil {
		c.logger.Warn("cache read failed, treating as miss", zap.String("key", key), zap.Error(err))
		metrics.CacheMisses.Inc()
		return nil, false
	}
	if e == nil {
		metrics.CacheMisses.Inc()
		return nil, false
	}

	now := c.now()
	count, err := c.repo.TouchEntry(ctx, key, now)
	if err != nil {
		c.logger.Warn("access tracking failed", zap.String("key", key), zap.Error(err))
		count = e.AccessCount + 1
	}
	e.AccessCount = count
	e.LastAccessedAt = now

	metrics.CacheHits.Inc()
	return e, true
}

// Set upserts the entry for key. A concurrent writer for the same key is a
// last-writer-wins race: generation is idempotent, so the duplicate work is
// accepted. Auto-cleanup runs afterwards off the caller's critical path.
func (c *Cache) Set(ctx context.Context, e *Entry) error {
	now := c.now()
	e.AccessCount = 0
	e.CreatedAt = now
	e.LastAccessedAt = now

	if err := c.repo.UpsertEntry(ctx, e); err != nil {
		return fmt.Errorf("cache set %s: %w", e.Key, err)
	}

	go func() {
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
		defer cancel()
		c.autoCleanup(cleanupCtx)
	}()
	return nil
}

// Delete removes the row and best-effort releases its blob. Blob failure
// never blocks row deletion.
func (c *Cache) Delete(ctx context.Context, key string) error {
	e, err := c.repo.GetEntry(ctx, key)
	if err == nil && e != nil {
		if err := c.blobs.Delete(ctx, e.AudioLocation); err != nil {
			c.logger.Warn("blob delete failed", zap.String("key", key), zap.Error(err))
		}
	}
	return c.repo.DeleteEntry(ctx, key)
}

// Cleanup applies the age pass and then the LRU size pass. The passes are
// independent: a failure in one is recorded and the other still runs.
func (c *Cache) Cleanup(ctx context.Context, maxAge time.Duration, maxSizeBytes int64) CleanupStats {
	var stats CleanupStats

	evicted, err := c.repo.DeleteAccessedBefore(ctx, c.now().Add(-maxAge))
	if err != nil {
		stats.Errors = append(stats.Errors, fmt.Sprintf("age pass: %v", err))
	}
	for _, ev := range evicted {
		stats.DeletedCount++
		stats.FreedBytes += ev.FileSizeBytes
		metrics.CacheEvictions.WithLabelValues("age").Inc()
		if err := c.blobs.Delete(ctx, ev.AudioLocation); err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("blob %s: %v", ev.Key, err))
		}
	}

	c.sizePass(ctx, maxSizeBytes, &stats)

	c.logger.Info("cache cleanup finished",
		zap.Int("deleted", stats.DeletedCount),
		zap.Int64("freed_bytes", stats.FreedBytes),
		zap.Int("errors", len(stats.Errors)))
	return stats
}

// sizePass evicts LRU entries until the total size is at or under the limit.
func (c *Cache) sizePass(ctx context.Context, maxSizeBytes int64, stats *CleanupStats) {
	agg, err := c.repo.Aggregate(ctx)
	if err != nil {
		stats.Errors = append(stats.Errors, fmt.Sprintf("size pass aggregate: %v", err))
		return
	}
	excess := agg.TotalBytes - maxSizeBytes
	if excess <= 0 {
		return
	}

	lru, err := c.repo.ListByLastAccessed(ctx, int(agg.TotalEntries))
	if err != nil {
		stats.Errors = append(stats.Errors, fmt.Sprintf("size pass list: %v", err))
		return
	}

	for _, e := range lru {
		if excess <= 0 {
			break
		}
		if err := c.repo.DeleteEntry(ctx, e.Key); err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("evict %s: %v", e.Key, err))
			continue
		}
		excess -= e.FileSizeBytes
		stats.DeletedCount++
		stats.FreedBytes += e.FileSizeBytes
		metrics.CacheEvictions.WithLabelValues("size").Inc()
		if err := c.blobs.Delete(ctx, e.AudioLocation); err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("blob %s: %v", e.Key, err))
		}
	}
}

// autoCleanup runs the default-limit cleanup when the configured thresholds
// are exceeded. Never returns an error: a cleanup failure must not break the
// write path that triggered it.
func (c *Cache) autoCleanup(ctx context.Context) {
	agg, err := c.repo.Aggregate(ctx)
	if err != nil {
		c.logger.Warn("auto-cleanup stats failed", zap.Error(err))
		return
	}
	if agg.TotalEntries <= c.cfg.MaxEntries && agg.TotalBytes <= c.cfg.MaxSizeBytes {
		return
	}
	stats := c.Cleanup(ctx, c.cfg.MaxAge, c.cfg.MaxSizeBytes)
	for _, e := range stats.Errors {
		c.logger.Warn("auto-cleanup error", zap.String("error", e))
	}
}

// GetStats summarizes the cache. HitRate is average accesses per entry
// (total accesses / total entries), not a hit/miss ratio over time; the
// table does not record misses.
func (c *Cache) GetStats(ctx context.Context) (*Stats, error) {
	agg, err := c.repo.Aggregate(ctx)
	if err != nil {
		return nil, fmt.Errorf("cache stats: %w", err)
	}

	s := &Stats{
		TotalEntries: agg.TotalEntries,
		TotalBytes:   agg.TotalBytes,
		TopVoices:    agg.TopVoices,
	}
	if agg.TotalEntries > 0 {
		s.HitRate = float64(agg.TotalAccesses) / float64(agg.TotalEntries)
		s.AvgFileBytes = agg.TotalBytes / agg.TotalEntries
		oldest, newest := agg.OldestEntry, agg.NewestEntry
		s.OldestEntry = &oldest
		s.NewestEntry = &newest
	}
	return s, nil
}

// GenerateFunc produces the audio for a phrase being preloaded.
type GenerateFunc func(ctx context.Context, text, voiceID string) (*Entry, error)

// WarmPhrase is one phrase to preload into the cache.
type WarmPhrase struct {
	Key     string
	Text    string
	VoiceID string
}

// Warm preloads phrases that are not yet cached. Per-phrase failures are
// logged and skipped; the count of newly cached phrases is returned.
func (c *Cache) Warm(ctx context.Context, phrases []WarmPhrase, generate GenerateFunc) int {
	warmed := 0
	for _, p := range phrases {
		if ctx.Err() != nil {
			break
		}
		existing, err := c.repo.GetEntry(ctx, p.Key)
		if err != nil {
			c.logger.Warn("cache warm lookup failed", zap.String("key", p.Key), zap.Error(err))
			continue
		}
		if existing != nil {
			continue
		}

		e, err := generate(ctx, p.Text, p.VoiceID)
		if err != nil {
			c.logger.Warn("cache warm generation failed", zap.String("key", p.Key), zap.Error(err))
			continue
		}
		e.Key = p.Key
		if err := c.Set(ctx, e); err != nil {
			c.logger.Warn("cache warm write failed", zap.String("key", p.Key), zap.Error(err))
			continue
		}
		warmed++
	}
	return warmed
}
