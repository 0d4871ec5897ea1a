// Package hashkey derives deterministic cache keys for generated audio.
//
// A key is a digest of the normalized (text, voiceID, options) triple, so two
// requests for the same speech always land on the same cache row regardless of
// option ordering or surrounding whitespace.
package hashkey

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Kind selects the digest used for a key.
type Kind string

const (
	// KindMD5 is the default cache key digest (32 hex chars). Fast, and
	// collision resistance is sufficient for a cache key - this is not a
	// security boundary.
	KindMD5 Kind = "md5"
	// KindSHA256 is the stronger variant (64 hex chars) for callers that
	// want higher collision resistance.
	KindSHA256 Kind = "sha256"
)

// hexLengths maps each digest kind to the expected hex string length.
var hexLengths = map[Kind]int{
	KindMD5:    32,
	KindSHA256: 64,
}

// keyInput is the canonical serialized form fed to the digest. encoding/json
// marshals map keys in sorted order, which makes the serialization independent
// of option insertion order.
type keyInput struct {
	Text    string         `json:"text"`
	VoiceID string         `json:"voiceId"`
	Options map[string]any `json:"options"`
}

func canonicalize(text, voiceID string, options map[string]any) []byte {
	if options == nil {
		options = map[string]any{}
	}
	in := keyInput{
		Text:    strings.ToLower(strings.TrimSpace(text)),
		VoiceID: strings.TrimSpace(voiceID),
		Options: options,
	}
	// Marshal of this struct cannot fail for JSON-representable option
	// values; a non-representable value (chan, func) is a programmer error.
	b, err := json.Marshal(in)
	if err != nil {
		panic(fmt.Sprintf("hashkey: unserializable options: %v", err))
	}
	return b
}

// DeriveKey returns the MD5 cache key for a (text, voiceID, options) triple.
// Text is trimmed and lowercased, voiceID is trimmed, and a nil options map
// hashes identically to an empty one.
func DeriveKey(text, voiceID string, options map[string]any) string {
	sum := md5.Sum(canonicalize(text, voiceID, options))
	return hex.EncodeToString(sum[:])
}

// DeriveKeySecure returns the SHA-256 variant of the cache key. Same
// normalization as DeriveKey.
func DeriveKeySecure(text, voiceID string, options map[string]any) string {
	sum := sha256.Sum256(canonicalize(text, voiceID, options))
	return hex.EncodeToString(sum[:])
}

// IsValidKey reports whether s looks like a key of the given kind: the right
// hex length and only hex digits.
func IsValidKey(s string, kind Kind) bool {
	want, ok := hexLengths[kind]
	if !ok || len(s) != want {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// ShortKey returns the first 8 characters of a key for log lines.
func ShortKey(key string) string {
	if len(key) <= 8 {
		return key
	}
	return key[:8]
}
