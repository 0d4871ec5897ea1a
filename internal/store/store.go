// Package store is the Postgres persistence layer: audio cache rows, the
// generation ledger, and persona voice settings.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariahq/aria/internal/cache"
)

type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// GetEntry returns the cache row for key, or nil when absent.
func (s *Store) GetEntry(ctx context.Context, key string) (*cache.Entry, error) {
	var (
		e         cache.Entry
		personaID *string
		duration  *float64
	)
	err := s.db.QueryRow(ctx, `
		SELECT key, audio_location, voice_provider, voice_id, persona_id,
		       file_size_bytes, duration_seconds, created_at, last_accessed_at, access_count
		FROM audio_cache WHERE key = $1`, key).Scan(
		&e.Key, &e.AudioLocation, &e.VoiceProvider, &e.VoiceID, &personaID,
		&e.FileSizeBytes, &duration, &e.CreatedAt, &e.LastAccessedAt, &e.AccessCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cache entry: %w", err)
	}
	if personaID != nil {
		e.PersonaID = *personaID
	}
	if duration != nil {
		e.DurationSeconds = *duration
	}
	return &e, nil
}

// TouchEntry records a cache hit. The increment happens in SQL, so concurrent
// hits on the same key never clobber each other's counts.
func (s *Store) TouchEntry(ctx context.Context, key string, at time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRow(ctx, `
		UPDATE audio_cache
		SET access_count = access_count + 1, last_accessed_at = $2
		WHERE key = $1
		RETURNING access_count`, key, at).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("touch cache entry: %w", err)
	}
	return count, nil
}

// UpsertEntry writes a cache row, replacing any previous row for the key
// (last writer wins on concurrent misses).
func (s *Store) UpsertEntry(ctx context.Context, e *cache.Entry) error {
	var personaID *string
	if e.PersonaID != "" {
		personaID = &e.PersonaID
	}
	var duration *float64
	if e.DurationSeconds > 0 {
		duration = &e.DurationSeconds
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO audio_cache
			(key, audio_location, voice_provider, voice_id, persona_id,
			 file_size_bytes, duration_seconds, created_at, last_accessed_at, access_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (key) DO UPDATE SET
			audio_location = EXCLUDED.audio_location,
			voice_provider = EXCLUDED.voice_provider,
			voice_id = EXCLUDED.voice_id,
			persona_id = EXCLUDED.persona_id,
			file_size_bytes = EXCLUDED.file_size_bytes,
			duration_seconds = EXCLUDED.duration_seconds,
			created_at = EXCLUDED.created_at,
			last_accessed_at = EXCLUDED.last_accessed_at,
			access_count = EXCLUDED.access_count`,
		e.Key, e.AudioLocation, e.VoiceProvider, e.VoiceID, personaID,
		e.FileSizeBytes, duration, e.CreatedAt, e.LastAccessedAt, e.AccessCount)
	if err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	return nil
}

// DeleteEntry removes a cache row. Absent keys are a no-op.
func (s *Store) DeleteEntry(ctx context.Context, key string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM audio_cache WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// DeleteAccessedBefore removes stale rows in one statement and returns the
// metadata needed to release their blobs.
func (s *Store) DeleteAccessedBefore(ctx context.Context, cutoff time.Time) ([]cache.Evicted, error) {
	rows, err := s.db.Query(ctx, `
		DELETE FROM audio_cache WHERE last_accessed_at < $1
		RETURNING key, audio_location, file_size_bytes`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("delete stale cache entries: %w", err)
	}
	defer rows.Close()

	var out []cache.Evicted
	for rows.Next() {
		var ev cache.Evicted
		if err := rows.Scan(&ev.Key, &ev.AudioLocation, &ev.FileSizeBytes); err != nil {
			return out, fmt.Errorf("scan evicted entry: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ListByLastAccessed returns rows in LRU order. The last_accessed_at index
// keeps this a range scan rather than a sort of the whole table.
func (s *Store) ListByLastAccessed(ctx context.Context, limit int) ([]cache.Entry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT key, audio_location, voice_provider, voice_id,
		       file_size_bytes, created_at, last_accessed_at, access_count
		FROM audio_cache
		ORDER BY last_accessed_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list cache entries: %w", err)
	}
	defer rows.Close()

	var out []cache.Entry
	for rows.Next() {
		var e cache.Entry
		if err := rows.Scan(&e.Key, &e.AudioLocation, &e.VoiceProvider, &e.VoiceID,
			&e.FileSizeBytes, &e.CreatedAt, &e.LastAccessedAt, &e.AccessCount); err != nil {
			return nil, fmt.Errorf("scan cache entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Aggregate summarizes the cache table for stats and auto-cleanup decisions.
func (s *Store) Aggregate(ctx context.Context) (*cache.Aggregate, error) {
	var (
		agg            cache.Aggregate
		oldest, newest *time.Time
	)
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(file_size_bytes), 0), COALESCE(SUM(access_count), 0),
		       MIN(created_at), MAX(created_at)
		FROM audio_cache`).Scan(
		&agg.TotalEntries, &agg.TotalBytes, &agg.TotalAccesses, &oldest, &newest)
	if err != nil {
		return nil, fmt.Errorf("aggregate cache: %w", err)
	}
	if oldest != nil {
		agg.OldestEntry = *oldest
	}
	if newest != nil {
		agg.NewestEntry = *newest
	}

	rows, err := s.db.Query(ctx, `
		SELECT voice_provider, voice_id, SUM(access_count) AS total
		FROM audio_cache
		GROUP BY voice_provider, voice_id
		ORDER BY total DESC
		LIMIT 5`)
	if err != nil {
		return nil, fmt.Errorf("aggregate top voices: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var v cache.VoiceUsage
		if err := rows.Scan(&v.VoiceProvider, &v.VoiceID, &v.TotalAccesses); err != nil {
			return nil, fmt.Errorf("scan voice usage: %w", err)
		}
		agg.TopVoices = append(agg.TopVoices, v)
	}
	return &agg, rows.Err()
}

// Generation is one row of the usage/cost ledger.
type Generation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Provider  string    `json:"provider"`
	VoiceID   string    `json:"voice_id"`
	CharCount int       `json:"char_count"`
	CostCents float64   `json:"cost_cents"`
	CreatedAt time.Time `json:"created_at"`
}

// RecordGeneration appends to the ledger.
func (s *Store) RecordGeneration(ctx context.Context, g Generation) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO audio_generations (user_id, provider, voice_id, char_count, cost_cents)
		VALUES ($1, $2, $3, $4, $5)`,
		g.UserID, g.Provider, g.VoiceID, g.CharCount, g.CostCents)
	if err != nil {
		return fmt.Errorf("record generation: %w", err)
	}
	return nil
}

// CountGenerationsThisMonth returns the caller's generation count in the
// current calendar month. Cache hits never enter the ledger, so they are
// naturally excluded from the quota.
func (s *Store) CountGenerationsThisMonth(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM audio_generations
		WHERE user_id = $1 AND created_at >= date_trunc('month', now())`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count generations: %w", err)
	}
	return count, nil
}

// MonthlySpendCents sums the caller's cost this calendar month.
func (s *Store) MonthlySpendCents(ctx context.Context, userID string) (float64, error) {
	var cents float64
	err := s.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(cost_cents), 0) FROM audio_generations
		WHERE user_id = $1 AND created_at >= date_trunc('month', now())`, userID).Scan(&cents)
	if err != nil {
		return 0, fmt.Errorf("sum generation cost: %w", err)
	}
	return cents, nil
}

// PersonaVoice is a persona's stored voice configuration.
type PersonaVoice struct {
	PersonaID       string         `json:"persona_id"`
	VoiceProvider   string         `json:"voice_provider,omitempty"`
	VoiceID         string         `json:"voice_id,omitempty"`
	VoiceSettings   map[string]any `json:"voice_settings,omitempty"`
	WelcomeAudioKey string         `json:"welcome_audio_key,omitempty"`
}

// GetPersonaVoice returns a persona's voice settings, or nil when the
// persona does not exist.
func (s *Store) GetPersonaVoice(ctx context.Context, personaID string) (*PersonaVoice, error) {
	var (
		pv         PersonaVoice
		provider   *string
		voiceID    *string
		settings   []byte
		welcomeKey *string
	)
	err := s.db.QueryRow(ctx, `
		SELECT id, voice_provider, voice_id, voice_settings, welcome_audio_key
		FROM personas WHERE id = $1`, personaID).Scan(
		&pv.PersonaID, &provider, &voiceID, &settings, &welcomeKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get persona voice: %w", err)
	}
	if provider != nil {
		pv.VoiceProvider = *provider
	}
	if voiceID != nil {
		pv.VoiceID = *voiceID
	}
	if welcomeKey != nil {
		pv.WelcomeAudioKey = *welcomeKey
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &pv.VoiceSettings); err != nil {
			return nil, fmt.Errorf("decode voice settings: %w", err)
		}
	}
	return &pv, nil
}

// SetPersonaWelcomeAudio records a persona's welcome audio cache key and
// returns the previous key so the caller can drop the superseded entry.
func (s *Store) SetPersonaWelcomeAudio(ctx context.Context, personaID, key string) (string, error) {
	var previous *string
	err := s.db.QueryRow(ctx, `
		UPDATE personas
		SET welcome_audio_key = $2
		WHERE id = $1
		RETURNING (SELECT welcome_audio_key FROM personas WHERE id = $1)`, personaID, key).Scan(&previous)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("persona %s not found", personaID)
	}
	if err != nil {
		return "", fmt.Errorf("set welcome audio: %w", err)
	}
	if previous == nil {
		return "", nil
	}
	return *previous, nil
}
