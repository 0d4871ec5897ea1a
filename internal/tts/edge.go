package tts

import (
	"context"
	"crypto/md5"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	edgeVoicesURL    = "https://speech.platform.bing.com/consumer/speech/synthesize/readaloud/voices/list?trustedclienttoken=" + edgeTrustedToken
	edgeWebSocketURL = "wss://speech.platform.bing.com/consumer/speech/synthesize/readaloud/edge/v1"
	edgeTrustedToken = "6A5AA1D4EAFF4E9FB37E23D68491D6F4"

	edgeMaxTextLength  = 5000
	edgeGenerateTimeout = 30 * time.Second
	edgeVoiceCacheTTL  = time.Hour

	// 24kHz 48kbit mono mp3: 6000 bytes per second of audio. Used to
	// estimate duration, since the service reports none.
	edgeMP3BytesPerSecond = 6000
)

var edgeFormatNames = map[string]string{
	"mp3": "audio-24khz-48kbitrate-mono-mp3",
	"wav": "riff-24khz-16bit-mono-pcm",
	"ogg": "ogg-24khz-16bit-mono-opus",
}

// EdgeProvider synthesizes speech through Microsoft Edge's read-aloud
// service. It needs no credentials, which makes it the designated
// always-available fallback backend.
type EdgeProvider struct {
	logger     *zap.Logger
	httpClient *http.Client
	dialer     *websocket.Dialer
	wsURL      string
	voicesURL  string
	retry      RetryPolicy

	mu             sync.Mutex
	voiceCache     []Voice
	voiceCacheTime time.Time
}

// EdgeConfig holds optional overrides, used by tests to point the adapter at
// a local server.
type EdgeConfig struct {
	HTTPClient   *http.Client
	WebSocketURL string
	VoicesURL    string
}

// NewEdgeProvider creates the Edge TTS adapter.
func NewEdgeProvider(cfg EdgeConfig, logger *zap.Logger) *EdgeProvider {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	wsURL := cfg.WebSocketURL
	if wsURL == "" {
		wsURL = edgeWebSocketURL
	}
	voicesURL := cfg.VoicesURL
	if voicesURL == "" {
		voicesURL = edgeVoicesURL
	}
	return &EdgeProvider{
		logger:     logger,
		httpClient: httpClient,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		wsURL:     wsURL,
		voicesURL: voicesURL,
		retry:     defaultRetryPolicy,
	}
}

func (p *EdgeProvider) ID() string { return ProviderEdge }

// Generate synthesizes text over the read-aloud WebSocket. Transient network
// failures are retried; a hard 30s timeout bounds each attempt.
func (p *EdgeProvider) Generate(ctx context.Context, text, voiceID string, opts Options) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, newError(ProviderEdge, ErrInvalidVoice, "text is empty", nil)
	}
	if len(text) > edgeMaxTextLength {
		return nil, newError(ProviderEdge, ErrUpstream, fmt.Sprintf("text exceeds %d characters", edgeMaxTextLength), nil)
	}

	format := opts.Format
	if format == "" {
		format = "mp3"
	}
	outputFormat, ok := edgeFormatNames[format]
	if !ok {
		outputFormat = edgeFormatNames["mp3"]
		format = "mp3"
	}

	ssml := buildSSML(text, voiceID, opts)
	start := time.Now()

	var audio []byte
	err := retry(ctx, p.retry, IsRetryable, func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, edgeGenerateTimeout)
		defer cancel()

		var err error
		audio, err = p.synthesize(attemptCtx, ssml, outputFormat)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(audio) == 0 {
		return nil, newError(ProviderEdge, ErrInvalidVoice, fmt.Sprintf("no audio returned for voice %q", voiceID), nil)
	}

	return &Result{
		Audio:           audio,
		Format:          format,
		DurationSeconds: float64(len(audio)) / edgeMP3BytesPerSecond,
		SizeBytes:       len(audio),
		CharacterCount:  len(text),
		GenerationTime:  time.Since(start),
	}, nil
}

// synthesize performs one WebSocket exchange: config message, SSML message,
// then audio frames until turn.end.
func (p *EdgeProvider) synthesize(ctx context.Context, ssml, outputFormat string) ([]byte, error) {
	connID := connectionID()
	url := fmt.Sprintf("%s?TrustedClientToken=%s&ConnectionId=%s", p.wsURL, edgeTrustedToken, connID)

	header := http.Header{}
	header.Set("Origin", "chrome-extension://jdiccldimpdaibmpdkjnbmckianbfold")
	header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")

	conn, resp, err := p.dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			return nil, newError(ProviderEdge, ErrRateLimited, "connection refused with 429", err)
		}
		return nil, newError(ProviderEdge, ErrUpstream, "websocket dial failed", err)
	}
	defer conn.Close()

	// Close the connection when the context ends so blocked reads release
	// immediately on cancellation.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		_ = conn.SetWriteDeadline(deadline)
	}

	configPayload, _ := json.Marshal(map[string]any{
		"context": map[string]any{
			"synthesis": map[string]any{
				"audio": map[string]any{
					"metadataoptions": map[string]any{
						"sentenceBoundaryEnabled": false,
						"wordBoundaryEnabled":     false,
					},
					"outputFormat": outputFormat,
				},
			},
		},
	})
	configMsg := "X-Timestamp:" + time.Now().UTC().Format(time.RFC1123) + "\r\n" +
		"Content-Type:application/json; charset=utf-8\r\n" +
		"Path:speech.config\r\n\r\n" + string(configPayload)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(configMsg)); err != nil {
		return nil, newError(ProviderEdge, ErrUpstream, "write speech.config failed", err)
	}

	ssmlMsg := "X-RequestId:" + connID + "\r\n" +
		"X-Timestamp:" + time.Now().UTC().Format(time.RFC1123) + "\r\n" +
		"Content-Type:application/ssml+xml\r\n" +
		"Path:ssml\r\n\r\n" + ssml
	if err := conn.WriteMessage(websocket.TextMessage, []byte(ssmlMsg)); err != nil {
		return nil, newError(ProviderEdge, ErrUpstream, "write ssml failed", err)
	}

	var audio []byte
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, newError(ProviderEdge, ErrTimeout, "synthesis timed out", ctx.Err())
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, newError(ProviderEdge, ErrUpstream, "connection closed before turn.end", err)
			}
			return nil, newError(ProviderEdge, ErrUpstream, "read failed", err)
		}

		switch msgType {
		case websocket.TextMessage:
			if strings.Contains(string(data), "Path:turn.end") {
				return audio, nil
			}
		case websocket.BinaryMessage:
			// Binary frame: 2-byte big-endian header length, header
			// text, then the audio payload.
			if len(data) < 2 {
				continue
			}
			headerLen := int(binary.BigEndian.Uint16(data[:2]))
			if len(data) < 2+headerLen {
				continue
			}
			if strings.Contains(string(data[2:2+headerLen]), "Path:audio") {
				audio = append(audio, data[2+headerLen:]...)
			}
		}
	}
}

// ListVoices fetches the voice catalog, cached for an hour.
func (p *EdgeProvider) ListVoices(ctx context.Context) ([]Voice, error) {
	p.mu.Lock()
	if p.voiceCache != nil && time.Since(p.voiceCacheTime) < edgeVoiceCacheTTL {
		cached := p.voiceCache
		p.mu.Unlock()
		return cached, nil
	}
	p.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.voicesURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create voices request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, newError(ProviderEdge, ErrUpstream, "voice list fetch failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, newError(ProviderEdge, ErrUpstream, fmt.Sprintf("voice list returned %s", resp.Status), nil)
	}

	var raw []struct {
		ShortName    string `json:"ShortName"`
		FriendlyName string `json:"FriendlyName"`
		Gender       string `json:"Gender"`
		Locale       string `json:"Locale"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, newError(ProviderEdge, ErrUpstream, "voice list decode failed", err)
	}

	voices := make([]Voice, 0, len(raw))
	for _, v := range raw {
		voices = append(voices, Voice{
			ID:       v.ShortName,
			Name:     v.FriendlyName,
			Provider: ProviderEdge,
			Locale:   v.Locale,
			Gender:   strings.ToLower(v.Gender),
		})
	}

	p.mu.Lock()
	p.voiceCache = voices
	p.voiceCacheTime = time.Now()
	p.mu.Unlock()

	return voices, nil
}

// Status probes the voice list endpoint with a HEAD-sized GET. No credentials
// are required, so availability is purely a connectivity question.
func (p *EdgeProvider) Status(ctx context.Context) Status {
	start := time.Now()
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, p.voicesURL, nil)
	if err != nil {
		return Status{Provider: ProviderEdge, Available: false, Message: err.Error(), LastCheckedAt: time.Now()}
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Status{Provider: ProviderEdge, Available: false, Message: err.Error(), LastCheckedAt: time.Now()}
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	return Status{
		Provider:          ProviderEdge,
		Available:         resp.StatusCode == http.StatusOK,
		LastCheckedAt:     time.Now(),
		AvgResponseTimeMs: time.Since(start).Milliseconds(),
	}
}

// buildSSML wraps text in the speak/voice/prosody envelope the service
// expects. XML-significant characters in the text are escaped.
func buildSSML(text, voiceID string, opts Options) string {
	escaped := xmlEscape(text)

	var prosody []string
	if opts.Rate != 0 && opts.Rate != 1.0 {
		pct := int((opts.Rate - 1) * 100)
		prosody = append(prosody, fmt.Sprintf("rate=%q", signedPercent(pct)))
	}
	if opts.Pitch != 0 {
		prosody = append(prosody, fmt.Sprintf("pitch=%q", signedPercent(opts.Pitch)))
	}
	if opts.Volume != 0 && opts.Volume != 100 {
		prosody = append(prosody, fmt.Sprintf("volume=%q", fmt.Sprintf("%d", opts.Volume)))
	}

	content := escaped
	if len(prosody) > 0 {
		content = fmt.Sprintf("<prosody %s>%s</prosody>", strings.Join(prosody, " "), escaped)
	}
	if opts.Style != "" {
		content = fmt.Sprintf("<mstts:express-as style=%q>%s</mstts:express-as>", opts.Style, content)
	}

	return fmt.Sprintf(
		`<speak version="1.0" xmlns="http://www.w3.org/2001/10/synthesis" xmlns:mstts="https://www.w3.org/2001/mstts" xml:lang=%q><voice name=%q>%s</voice></speak>`,
		localeOfVoice(voiceID), voiceID, content)
}

func signedPercent(v int) string {
	if v >= 0 {
		return fmt.Sprintf("+%d%%", v)
	}
	return fmt.Sprintf("%d%%", v)
}

// localeOfVoice extracts "en-US" from "en-US-AriaNeural".
func localeOfVoice(voiceID string) string {
	parts := strings.SplitN(voiceID, "-", 3)
	if len(parts) >= 2 {
		return parts[0] + "-" + parts[1]
	}
	return "en-US"
}

func xmlEscape(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&apos;",
	)
	return r.Replace(s)
}

// connectionID returns a 32-char uppercase hex ID for the WebSocket session.
func connectionID() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		sum := md5.Sum([]byte(time.Now().String()))
		copy(buf[:], sum[:])
	}
	return strings.ToUpper(hex.EncodeToString(buf[:]))
}
