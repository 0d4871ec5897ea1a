package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariahq/aria/internal/cache"
)

// getTestDB returns a database pool for testing.
// Skips the test if DATABASE_URL is not set.
func getTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}
	if err := db.Ping(ctx); err != nil {
		t.Fatalf("failed to ping database: %v", err)
	}
	return db
}

func testKey(prefix string) string {
	return fmt.Sprintf("%s%016x0000000000000000", prefix, time.Now().UnixNano())[:32]
}

func TestCacheEntryLifecycle(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	s := New(db)
	ctx := context.Background()
	key := testKey("test")
	defer db.Exec(ctx, "DELETE FROM audio_cache WHERE key = $1", key)

	// Absent key
	e, err := s.GetEntry(ctx, key)
	if err != nil {
		t.Fatalf("GetEntry failed: %v", err)
	}
	if e != nil {
		t.Fatalf("expected nil for absent key, got %+v", e)
	}

	// Insert
	now := time.Now().UTC().Truncate(time.Millisecond)
	err = s.UpsertEntry(ctx, &cache.Entry{
		Key:             key,
		AudioLocation:   "https://cdn.example.com/audio/" + key + ".mp3",
		VoiceProvider:   "edge",
		VoiceID:         "en-US-AriaNeural",
		FileSizeBytes:   12345,
		DurationSeconds: 2.5,
		CreatedAt:       now,
		LastAccessedAt:  now,
	})
	if err != nil {
		t.Fatalf("UpsertEntry failed: %v", err)
	}

	e, err = s.GetEntry(ctx, key)
	if err != nil {
		t.Fatalf("GetEntry after upsert failed: %v", err)
	}
	if e == nil {
		t.Fatal("expected entry after upsert")
	}
	if e.VoiceProvider != "edge" {
		t.Errorf("voice_provider = %q, want %q", e.VoiceProvider, "edge")
	}
	if e.FileSizeBytes != 12345 {
		t.Errorf("file_size_bytes = %d, want %d", e.FileSizeBytes, 12345)
	}
	if e.AccessCount != 0 {
		t.Errorf("access_count = %d, want 0", e.AccessCount)
	}

	// Touch twice
	count, err := s.TouchEntry(ctx, key, time.Now())
	if err != nil {
		t.Fatalf("TouchEntry failed: %v", err)
	}
	if count != 1 {
		t.Errorf("access_count after first touch = %d, want 1", count)
	}
	count, err = s.TouchEntry(ctx, key, time.Now())
	if err != nil {
		t.Fatalf("second TouchEntry failed: %v", err)
	}
	if count != 2 {
		t.Errorf("access_count after second touch = %d, want 2", count)
	}

	// Upsert replaces and resets
	err = s.UpsertEntry(ctx, &cache.Entry{
		Key:            key,
		AudioLocation:  "https://cdn.example.com/audio/replaced.mp3",
		VoiceProvider:  "kokoro",
		VoiceID:        "af_bella",
		FileSizeBytes:  99,
		CreatedAt:      time.Now(),
		LastAccessedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("replacing UpsertEntry failed: %v", err)
	}
	e, err = s.GetEntry(ctx, key)
	if err != nil {
		t.Fatalf("GetEntry after replace failed: %v", err)
	}
	if e.VoiceProvider != "kokoro" {
		t.Errorf("voice_provider after replace = %q, want %q", e.VoiceProvider, "kokoro")
	}
	if e.AccessCount != 0 {
		t.Errorf("access_count after replace = %d, want 0", e.AccessCount)
	}

	// Delete is idempotent
	if err := s.DeleteEntry(ctx, key); err != nil {
		t.Fatalf("DeleteEntry failed: %v", err)
	}
	if err := s.DeleteEntry(ctx, key); err != nil {
		t.Fatalf("second DeleteEntry failed: %v", err)
	}
	e, err = s.GetEntry(ctx, key)
	if err != nil {
		t.Fatalf("GetEntry after delete failed: %v", err)
	}
	if e != nil {
		t.Error("expected nil after delete")
	}
}

func TestDeleteAccessedBefore(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	s := New(db)
	ctx := context.Background()
	oldKey := testKey("testold")
	freshKey := testKey("testnew")
	defer db.Exec(ctx, "DELETE FROM audio_cache WHERE key IN ($1, $2)", oldKey, freshKey)

	now := time.Now()
	for _, e := range []*cache.Entry{
		{Key: oldKey, AudioLocation: "mem://old.mp3", VoiceProvider: "edge", VoiceID: "v", FileSizeBytes: 10, CreatedAt: now.Add(-200 * time.Hour), LastAccessedAt: now.Add(-200 * time.Hour)},
		{Key: freshKey, AudioLocation: "mem://new.mp3", VoiceProvider: "edge", VoiceID: "v", FileSizeBytes: 10, CreatedAt: now, LastAccessedAt: now},
	} {
		if err := s.UpsertEntry(ctx, e); err != nil {
			t.Fatalf("UpsertEntry failed: %v", err)
		}
	}

	evicted, err := s.DeleteAccessedBefore(ctx, now.Add(-100*time.Hour))
	if err != nil {
		t.Fatalf("DeleteAccessedBefore failed: %v", err)
	}

	foundOld := false
	for _, ev := range evicted {
		if ev.Key == oldKey {
			foundOld = true
			if ev.FileSizeBytes != 10 {
				t.Errorf("evicted file_size_bytes = %d, want 10", ev.FileSizeBytes)
			}
		}
		if ev.Key == freshKey {
			t.Error("fresh entry must not be evicted")
		}
	}
	if !foundOld {
		t.Error("stale entry was not evicted")
	}

	e, err := s.GetEntry(ctx, freshKey)
	if err != nil || e == nil {
		t.Fatalf("fresh entry missing after age pass: %v", err)
	}
}

func TestGenerationLedger(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	s := New(db)
	ctx := context.Background()
	userID := fmt.Sprintf("test-user-%d", time.Now().UnixNano())
	defer db.Exec(ctx, "DELETE FROM audio_generations WHERE user_id = $1", userID)

	before, err := s.CountGenerationsThisMonth(ctx, userID)
	if err != nil {
		t.Fatalf("CountGenerationsThisMonth failed: %v", err)
	}
	if before != 0 {
		t.Errorf("initial count = %d, want 0", before)
	}

	for i := 0; i < 3; i++ {
		err := s.RecordGeneration(ctx, Generation{
			UserID:    userID,
			Provider:  "elevenlabs",
			VoiceID:   "voice-1",
			CharCount: 100,
			CostCents: 3,
		})
		if err != nil {
			t.Fatalf("RecordGeneration failed: %v", err)
		}
	}

	count, err := s.CountGenerationsThisMonth(ctx, userID)
	if err != nil {
		t.Fatalf("CountGenerationsThisMonth failed: %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}

	spend, err := s.MonthlySpendCents(ctx, userID)
	if err != nil {
		t.Fatalf("MonthlySpendCents failed: %v", err)
	}
	if spend != 9 {
		t.Errorf("spend = %f, want 9", spend)
	}
}
