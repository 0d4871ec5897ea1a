// Package tts wraps the external text-to-speech backends behind a single
// Provider interface and routes requests between them.
package tts

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Provider IDs. The set is closed at startup: the router builds one dispatch
// table from these and never instantiates adapters afterwards.
const (
	ProviderEdge       = "edge"
	ProviderKokoro     = "kokoro"
	ProviderElevenLabs = "elevenlabs"
)

// Options tunes a single generation. Zero values mean "provider default".
type Options struct {
	// Rate scales speaking speed, 0.5-2.0. 0 means 1.0.
	Rate float64 `json:"rate,omitempty"`
	// Pitch shifts pitch in percent, -50..+50.
	Pitch int `json:"pitch,omitempty"`
	// Volume in percent, 0-100. 0 means 100.
	Volume int `json:"volume,omitempty"`
	// Style selects a speaking style for voices that support it.
	Style string `json:"style,omitempty"`
	// Format is the output container: "mp3" (default), "wav", "ogg".
	Format string `json:"format,omitempty"`
}

// Map flattens options into the form hashed into the cache key. Zero values
// are omitted so an all-default Options hashes like no options at all.
func (o Options) Map() map[string]any {
	m := map[string]any{}
	if o.Rate != 0 {
		m["rate"] = o.Rate
	}
	if o.Pitch != 0 {
		m["pitch"] = o.Pitch
	}
	if o.Volume != 0 {
		m["volume"] = o.Volume
	}
	if o.Style != "" {
		m["style"] = o.Style
	}
	if o.Format != "" {
		m["format"] = o.Format
	}
	return m
}

// Voice describes one selectable voice of a provider.
type Voice struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Provider string `json:"provider"`
	Locale   string `json:"locale"`
	Gender   string `json:"gender"`
}

// Result is a completed generation. Audio is always complete: adapters never
// hand back partial data without an error.
type Result struct {
	Audio           []byte
	Format          string
	DurationSeconds float64
	SizeBytes       int
	CharacterCount  int
	GenerationTime  time.Duration
}

// Status is a lightweight health probe result, independent of Generate.
type Status struct {
	Provider          string    `json:"provider"`
	Available         bool      `json:"available"`
	Message           string    `json:"message,omitempty"`
	LastCheckedAt     time.Time `json:"last_checked_at"`
	AvgResponseTimeMs int64     `json:"avg_response_time_ms,omitempty"`
}

// Provider is one TTS backend. Implementations apply their own retry policy
// for transient failures and enforce a hard generation timeout, so callers
// get either a complete Result or a *ProviderError.
type Provider interface {
	// ID returns the stable provider identifier used in routing and tiers.
	ID() string

	// Generate synthesizes speech for text with the given voice.
	Generate(ctx context.Context, text, voiceID string, opts Options) (*Result, error)

	// ListVoices returns the selectable voices. Results are static or
	// remotely fetched; callers may cache them.
	ListVoices(ctx context.Context) ([]Voice, error)

	// Status probes provider health without generating audio.
	Status(ctx context.Context) Status
}

// ErrorKind classifies provider failures for retry and error-mapping
// decisions.
type ErrorKind string

const (
	ErrInvalidVoice ErrorKind = "INVALID_VOICE"
	ErrRateLimited  ErrorKind = "RATE_LIMITED"
	ErrTimeout      ErrorKind = "TIMEOUT"
	ErrUpstream     ErrorKind = "UPSTREAM_ERROR"
)

// ProviderError is the only error type adapters surface from Generate.
type ProviderError struct {
	Provider  string
	Kind      ErrorKind
	Message   string
	Retryable bool
	Err       error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%s): %v", e.Provider, e.Message, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Provider, e.Message, e.Kind)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// newError builds a ProviderError with retryability derived from the kind:
// rate limits, timeouts and 5xx-class upstream failures are retryable,
// invalid-voice (4xx-class) failures are not.
func newError(provider string, kind ErrorKind, msg string, err error) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Kind:      kind,
		Message:   msg,
		Retryable: kind == ErrRateLimited || kind == ErrTimeout || kind == ErrUpstream,
		Err:       err,
	}
}

// IsRetryable reports whether err is a provider error worth retrying.
// Non-provider errors (context cancellation, programmer errors) are not.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// KindOf extracts the error kind, or "" for non-provider errors.
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}
