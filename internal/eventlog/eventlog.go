package eventlog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EventType represents the type of speech generation event
type EventType string

const (
	EventGenerationStarted   EventType = "generation_started"
	EventGenerationCompleted EventType = "generation_completed"
	EventGenerationFailed    EventType = "generation_failed"
	EventCacheHit            EventType = "cache_hit"
	EventCacheWrite          EventType = "cache_write"
	EventCacheWriteFailed    EventType = "cache_write_failed"
	EventProviderFallback    EventType = "provider_fallback"
	EventQuotaRejected       EventType = "quota_rejected"
	EventAccessDenied        EventType = "access_denied"
	EventCleanupRun          EventType = "cleanup_run"
	EventCacheWarmed         EventType = "cache_warmed"
)

// Logger provides async event logging to the database
type Logger struct {
	db *pgxpool.Pool
}

// New creates a new event logger
func New(db *pgxpool.Pool) *Logger {
	return &Logger{db: db}
}

// Log writes an event to the database synchronously
func (l *Logger) Log(ctx context.Context, cacheKey string, eventType EventType, data map[string]any) error {
	if l == nil || l.db == nil {
		return nil // Silently skip if no DB
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		dataJSON = []byte("{}")
	}

	_, err = l.db.Exec(ctx, `
		INSERT INTO generation_events (cache_key, event_type, event_data)
		VALUES ($1, $2, $3)
	`, cacheKey, string(eventType), dataJSON)

	return err
}

// LogAsync logs an event without blocking the caller
func (l *Logger) LogAsync(cacheKey string, eventType EventType, data map[string]any) {
	if l == nil || l.db == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.Log(ctx, cacheKey, eventType, data)
	}()
}
