package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// kokoroGenerateTimeout bounds each synthesis attempt regardless of the
// injected HTTP client's own timeout. A stalled local inference server must
// never hold a request open indefinitely.
const kokoroGenerateTimeout = 30 * time.Second

// KokoroProvider talks to a self-hosted Kokoro inference server exposing the
// OpenAI-compatible /v1/audio/speech endpoint.
type KokoroProvider struct {
	logger         *zap.Logger
	baseURL        string
	model          string
	httpClient     *http.Client
	retry          RetryPolicy
	attemptTimeout time.Duration
}

// KokoroConfig configures the local inference server adapter.
type KokoroConfig struct {
	BaseURL    string // e.g. "http://localhost:8880"
	Model      string
	HTTPClient *http.Client
}

// NewKokoroProvider creates the Kokoro adapter.
func NewKokoroProvider(cfg KokoroConfig, logger *zap.Logger) *KokoroProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:8880"
	}
	model := cfg.Model
	if model == "" {
		model = "kokoro"
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &KokoroProvider{
		logger:         logger,
		baseURL:        baseURL,
		model:          model,
		httpClient:     httpClient,
		retry:          defaultRetryPolicy,
		attemptTimeout: kokoroGenerateTimeout,
	}
}

func (p *KokoroProvider) ID() string { return ProviderKokoro }

type kokoroRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed,omitempty"`
}

// Generate synthesizes text through the local inference server.
func (p *KokoroProvider) Generate(ctx context.Context, text, voiceID string, opts Options) (*Result, error) {
	format := opts.Format
	if format == "" {
		format = "mp3"
	}

	payload := kokoroRequest{
		Model:          p.model,
		Input:          text,
		Voice:          voiceID,
		ResponseFormat: format,
		Speed:          opts.Rate,
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

		req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, p.baseURL+"/v1/audio/speech", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := p.httpClient.Do(req)
		if err != nil {
			if attemptCtx.Err() != nil {
				return newError(ProviderKokoro, ErrTimeout, "request timed out", err)
			}
			return newError(ProviderKokoro, ErrUpstream, "inference server unreachable", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusNotFound:
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return newError(ProviderKokoro, ErrInvalidVoice, fmt.Sprintf("server returned %d: %s", resp.StatusCode, respBody), nil)
		case resp.StatusCode == http.StatusTooManyRequests:
			return newError(ProviderKokoro, ErrRateLimited, "server overloaded", nil)
		default:
			return newError(ProviderKokoro, ErrUpstream, fmt.Sprintf("server returned %d", resp.StatusCode), nil)
		}

		audio, err = io.ReadAll(resp.Body)
		if err != nil {
			return newError(ProviderKokoro, ErrUpstream, "read response failed", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Result{
		Audio:           audio,
		Format:          format,
		SizeBytes:       len(audio),
		CharacterCount:  len(text),
		DurationSeconds: float64(len(audio)) / edgeMP3BytesPerSecond,
		GenerationTime:  time.Since(start),
	}, nil
}

// ListVoices returns the server's voice catalog from /v1/audio/voices.
func (p *KokoroProvider) ListVoices(ctx context.Context) ([]Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/audio/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("create voices request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, newError(ProviderKokoro, ErrUpstream, "voice list fetch failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, newError(ProviderKokoro, ErrUpstream, fmt.Sprintf("voice list returned %s", resp.Status), nil)
	}

	var raw struct {
		Voices []string `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, newError(ProviderKokoro, ErrUpstream, "voice list decode failed", err)
	}

	voices := make([]Voice, 0, len(raw.Voices))
	for _, id := range raw.Voices {
		voices = append(voices, Voice{ID: id, Name: id, Provider: ProviderKokoro})
	}
	return voices, nil
}

// Status probes the server's /health endpoint.
func (p *KokoroProvider) Status(ctx context.Context) Status {
	start := time.Now()
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, p.baseURL+"/health", nil)
	if err != nil {
		return Status{Provider: ProviderKokoro, Available: false, Message: err.Error(), LastCheckedAt: time.Now()}
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Status{Provider: ProviderKokoro, Available: false, Message: err.Error(), LastCheckedAt: time.Now()}
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	st := Status{
		Provider:          ProviderKokoro,
		Available:         resp.StatusCode == http.StatusOK,
		LastCheckedAt:     time.Now(),
		AvgResponseTimeMs: time.Since(start).Milliseconds(),
	}
	if !st.Available {
		st.Message = fmt.Sprintf("health probe returned %s", resp.Status)
	}
	return st
}
