package hashkey

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKey_Deterministic(t *testing.T) {
	a := DeriveKey("Hello world", "en-US-AriaNeural", map[string]any{"rate": 1.0, "pitch": 0})
	b := DeriveKey("Hello world", "en-US-AriaNeural", map[string]any{"pitch": 0, "rate": 1.0})
	assert.Equal(t, a, b, "option insertion order must not affect the key")
}

func TestDeriveKey_Normalization(t *testing.T) {
	a := DeriveKey(" Hello ", "V1 ", nil)
	b := DeriveKey("hello", "V1", map[string]any{})
	assert.Equal(t, a, b, "trim+lowercase text, trim voiceID, nil options == empty options")

	// Voice ID case is significant - only whitespace is normalized.
	c := DeriveKey("hello", "v1", nil)
	assert.NotEqual(t, a, c)
}

func TestDeriveKey_StableAcrossProcesses(t *testing.T) {
	// Pinned value: a change here breaks every previously cached entry.
	got := DeriveKey("Hello world", "en-US-AriaNeural", nil)
	assert.Equal(t, "b6f4b189d98076b8a6a68e6877c1455a", got)
}

func TestDeriveKey_OptionsChangeKey(t *testing.T) {
	base := DeriveKey("hello", "v1", nil)
	withRate := DeriveKey("hello", "v1", map[string]any{"rate": 1.5})
	assert.NotEqual(t, base, withRate)
}

func TestDeriveKey_NoAccidentalCollisions(t *testing.T) {
	seen := make(map[string]string, 10000)
	for i := 0; i < 100; i++ {
		for j := 0; j < 100; j++ {
			text := fmt.Sprintf("phrase number %d with some filler", i)
			voice := fmt.Sprintf("voice-%d", j)
			key := DeriveKey(text, voice, nil)
			if prev, dup := seen[key]; dup {
				t.Fatalf("collision: %q and %q both hash to %s", prev, text+"|"+voice, key)
			}
			seen[key] = text + "|" + voice
		}
	}
	require.Len(t, seen, 10000)
}

func TestDeriveKeySecure(t *testing.T) {
	key := DeriveKeySecure("hello", "v1", nil)
	assert.Len(t, key, 64)
	assert.True(t, IsValidKey(key, KindSHA256))
	assert.NotEqual(t, DeriveKey("hello", "v1", nil), key)
}

func TestIsValidKey(t *testing.T) {
	md5Key := DeriveKey("x", "y", nil)

	assert.True(t, IsValidKey(md5Key, KindMD5))
	assert.False(t, IsValidKey(md5Key, KindSHA256), "wrong length for sha256")
	assert.False(t, IsValidKey("zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz", KindMD5), "non-hex characters")
	assert.False(t, IsValidKey("abc", KindMD5))
	assert.False(t, IsValidKey(md5Key, Kind("whirlpool")), "unknown kind")
	assert.True(t, IsValidKey("ABCDEF0123456789ABCDEF0123456789", KindMD5), "uppercase hex accepted")
}

func TestShortKey(t *testing.T) {
	assert.Equal(t, "b6f4b189", ShortKey("b6f4b189d98076b8a6a68e6877c1455a"))
	assert.Equal(t, "abc", ShortKey("abc"))
}
