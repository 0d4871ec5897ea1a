package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	elevenLabsAPIURL = "https://api.elevenlabs.io"

	// elevenLabsGenerateTimeout bounds each synthesis attempt regardless of
	// the injected HTTP client's own timeout.
	elevenLabsGenerateTimeout = 30 * time.Second
)

// ElevenLabsProvider is the premium backend, reserved for the upper tiers.
type ElevenLabsProvider struct {
	logger         *zap.Logger
	apiKey         string
	modelID        string
	stability      float64
	similarity     float64
	baseURL        string
	httpClient     *http.Client
	retry          RetryPolicy
	attemptTimeout time.Duration
}

// ElevenLabsConfig holds configuration for the ElevenLabs adapter.
type ElevenLabsConfig struct {
	APIKey  string
	ModelID string // e.g. "eleven_flash_v2_5" for low latency
	// Stability and Similarity tune voice_settings. 0.0 is a valid value;
	// pass -1 for the provider defaults (0.5 / 0.75).
	Stability  float64
	Similarity float64
	BaseURL    string // overridden in tests
	HTTPClient *http.Client
}

// NewElevenLabsProvider creates the ElevenLabs adapter.
func NewElevenLabsProvider(cfg ElevenLabsConfig, logger *zap.Logger) *ElevenLabsProvider {
	modelID := cfg.ModelID
	if modelID == "" {
		modelID = "eleven_flash_v2_5"
	}
	stability := cfg.Stability
	if stability < 0 {
		stability = 0.5
	}
	similarity := cfg.Similarity
	if similarity < 0 {
		similarity = 0.75
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = elevenLabsAPIURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &ElevenLabsProvider{
		logger:         logger,
		apiKey:         cfg.APIKey,
		modelID:        modelID,
		stability:      stability,
		similarity:     similarity,
		baseURL:        baseURL,
		httpClient:     httpClient,
		retry:          defaultRetryPolicy,
		attemptTimeout: elevenLabsGenerateTimeout,
	}
}

func (p *ElevenLabsProvider) ID() string { return ProviderElevenLabs }

// Configured reports whether an API key is present. Without one every
// request would fail, so the router excludes the adapter from selection.
func (p *ElevenLabsProvider) Configured() bool { return p.apiKey != "" }

type elevenLabsRequest struct {
	Text          string                  `json:"text"`
	ModelID       string                  `json:"model_id"`
	VoiceSettings elevenLabsVoiceSettings `json:"voice_settings"`
}

type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style,omitempty"`
}

// Generate synthesizes text with the given ElevenLabs voice ID.
func (p *ElevenLabsProvider) Generate(ctx context.Context, text, voiceID string, opts Options) (*Result, error) {
	if p.apiKey == "" {
		return nil, newError(ProviderElevenLabs, ErrUpstream, "no API key configured", nil)
	}

	format := opts.Format
	if format == "" {
		format = "mp3"
	}
	outputFormat := "mp3_44100_128"
	if format == "wav" {
		outputFormat = "pcm_24000"
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=%s", p.baseURL, voiceID, outputFormat)

	payload := elevenLabsRequest{
		Text:    text,
		ModelID: p.modelID,
		VoiceSettings: elevenLabsVoiceSettings{
			Stability:       p.stability,
			SimilarityBoost: p.similarity,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	start := time.Now()
	var audio []byte
	err = retry(ctx, p.retry, IsRetryable, func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, p.attemptTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("xi-api-key", p.apiKey)

		resp, err := p.httpClient.Do(req)
		if err != nil {
			if attemptCtx.Err() != nil {
				return newError(ProviderElevenLabs, ErrTimeout, "request timed out", err)
			}
			return newError(ProviderElevenLabs, ErrUpstream, "request failed", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return classifyElevenLabsStatus(resp.StatusCode, string(respBody))
		}

		audio, err = io.ReadAll(resp.Body)
		if err != nil {
			return newError(ProviderElevenLabs, ErrUpstream, "read response failed", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Result{
		Audio:          audio,
		Format:         format,
		SizeBytes:      len(audio),
		CharacterCount: len(text),
		// 128kbit mp3 is 16000 bytes per second.
		DurationSeconds: float64(len(audio)) / 16000,
		GenerationTime:  time.Since(start),
	}, nil
}

func classifyElevenLabsStatus(code int, body string) error {
	switch {
	case code == http.StatusTooManyRequests:
		return newError(ProviderElevenLabs, ErrRateLimited, "rate limited", nil)
	case code == http.StatusNotFound || code == http.StatusBadRequest && strings.Contains(body, "voice"):
		return newError(ProviderElevenLabs, ErrInvalidVoice, fmt.Sprintf("API returned %d: %s", code, body), nil)
	case code >= 500:
		return newError(ProviderElevenLabs, ErrUpstream, fmt.Sprintf("API returned %d", code), nil)
	default:
		return newError(ProviderElevenLabs, ErrInvalidVoice, fmt.Sprintf("API returned %d: %s", code, body), nil)
	}
}

// ListVoices fetches the voices available to the configured account.
func (p *ElevenLabsProvider) ListVoices(ctx context.Context) ([]Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("create voices request: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, newError(ProviderElevenLabs, ErrUpstream, "voice list fetch failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, newError(ProviderElevenLabs, ErrUpstream, fmt.Sprintf("voice list returned %s", resp.Status), nil)
	}

	var raw struct {
		Voices []struct {
			VoiceID string            `json:"voice_id"`
			Name    string            `json:"name"`
			Labels  map[string]string `json:"labels"`
		} `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, newError(ProviderElevenLabs, ErrUpstream, "voice list decode failed", err)
	}

	voices := make([]Voice, 0, len(raw.Voices))
	for _, v := range raw.Voices {
		voices = append(voices, Voice{
			ID:       v.VoiceID,
			Name:     v.Name,
			Provider: ProviderElevenLabs,
			Gender:   v.Labels["gender"],
			Locale:   v.Labels["language"],
		})
	}
	return voices, nil
}

// Status probes the /v1/user endpoint, which validates the API key without
// spending characters.
func (p *ElevenLabsProvider) Status(ctx context.Context) Status {
	if p.apiKey == "" {
		return Status{Provider: ProviderElevenLabs, Available: false, Message: "no API key configured", LastCheckedAt: time.Now()}
	}

	start := time.Now()
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, p.baseURL+"/v1/user", nil)
	if err != nil {
		return Status{Provider: ProviderElevenLabs, Available: false, Message: err.Error(), LastCheckedAt: time.Now()}
	}
	req.Header.Set("xi-api-key", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Status{Provider: ProviderElevenLabs, Available: false, Message: err.Error(), LastCheckedAt: time.Now()}
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	st := Status{
		Provider:          ProviderElevenLabs,
		Available:         resp.StatusCode == http.StatusOK,
		LastCheckedAt:     time.Now(),
		AvgResponseTimeMs: time.Since(start).Milliseconds(),
	}
	if !st.Available {
		st.Message = fmt.Sprintf("user probe returned %s", resp.Status)
	}
	return st
}
