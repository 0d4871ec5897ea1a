package tts

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBuildSSML_PlainDefaults(t *testing.T) {
	got := buildSSML("Hello world", "en-US-AriaNeural", Options{})

	assert.Contains(t, got, `<voice name="en-US-AriaNeural">Hello world</voice>`)
	assert.Contains(t, got, `xml:lang="en-US"`)
	assert.NotContains(t, got, "<prosody", "defaults need no prosody wrapper")
}

func TestBuildSSML_ProsodyAndStyle(t *testing.T) {
	got := buildSSML("Hi", "en-GB-SoniaNeural", Options{Rate: 1.5, Pitch: -10, Style: "cheerful"})

	assert.Contains(t, got, `rate="+50%"`)
	assert.Contains(t, got, `pitch="-10%"`)
	assert.Contains(t, got, `<mstts:express-as style="cheerful">`)
	assert.Contains(t, got, `xml:lang="en-GB"`)
}

func TestBuildSSML_EscapesText(t *testing.T) {
	got := buildSSML(`Tom & Jerry <say "hi">`, "en-US-GuyNeural", Options{})

	assert.Contains(t, got, "Tom &amp; Jerry &lt;say &quot;hi&quot;&gt;")
	assert.NotContains(t, got, `Tom & Jerry`)
}

func TestLocaleOfVoice(t *testing.T) {
	assert.Equal(t, "en-US", localeOfVoice("en-US-AriaNeural"))
	assert.Equal(t, "cs-CZ", localeOfVoice("cs-CZ-VlastaNeural"))
	assert.Equal(t, "en-US", localeOfVoice("weird"))
}

func TestConnectionID_Format(t *testing.T) {
	id := connectionID()
	assert.Len(t, id, 32)
	assert.NotEqual(t, id, connectionID())
}

func TestEdgeGenerate_RejectsEmptyAndOversizedText(t *testing.T) {
	p := NewEdgeProvider(EdgeConfig{}, zap.NewNop())

	_, err := p.Generate(context.Background(), "   ", "en-US-AriaNeural", Options{})
	require.Error(t, err)

	long := make([]byte, edgeMaxTextLength+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err = p.Generate(context.Background(), string(long), "en-US-AriaNeural", Options{})
	require.Error(t, err)
}

// newEdgeSynthServer runs handler once per WebSocket connection and returns
// the ws:// URL to dial.
func newEdgeSynthServer(t *testing.T, handler func(conn *websocket.Conn)) (*httptest.Server, string) {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http")
}

// edgeBinaryFrame assembles a service frame: 2-byte big-endian header
// length, header text, payload.
func edgeBinaryFrame(path string, payload []byte) []byte {
	header := "Path:" + path + "\r\n"
	buf := make([]byte, 2+len(header)+len(payload))
	binary.BigEndian.PutUint16(buf[:2], uint16(len(header)))
	copy(buf[2:], header)
	copy(buf[2+len(header):], payload)
	return buf
}

func TestEdgeGenerate_SynthesizesOverWebSocket(t *testing.T) {
	chunk1 := []byte("audio-part-one")
	chunk2 := []byte("audio-part-two")

	srv, wsURL := newEdgeSynthServer(t, func(conn *websocket.Conn) {
		_, config, err := conn.ReadMessage()
		if err != nil {
			t.Errorf("read speech.config: %v", err)
			return
		}
		assert.Contains(t, string(config), "Path:speech.config")
		assert.Contains(t, string(config), edgeFormatNames["mp3"])

		_, ssml, err := conn.ReadMessage()
		if err != nil {
			t.Errorf("read ssml: %v", err)
			return
		}
		assert.Contains(t, string(ssml), "Path:ssml")
		assert.Contains(t, string(ssml), `<voice name="en-US-AriaNeural">Hello there</voice>`)

		conn.WriteMessage(websocket.BinaryMessage, edgeBinaryFrame("audio", chunk1))
		conn.WriteMessage(websocket.BinaryMessage, edgeBinaryFrame("meta", []byte("not audio")))
		conn.WriteMessage(websocket.BinaryMessage, edgeBinaryFrame("audio", chunk2))
		conn.WriteMessage(websocket.TextMessage, []byte("X-RequestId:x\r\nPath:turn.end\r\n\r\n{}"))
	})
	defer srv.Close()

	p := NewEdgeProvider(EdgeConfig{WebSocketURL: wsURL}, zap.NewNop())
	p.retry = fastPolicy

	res, err := p.Generate(context.Background(), "Hello there", "en-US-AriaNeural", Options{})
	require.NoError(t, err)

	want := append(append([]byte{}, chunk1...), chunk2...)
	assert.Equal(t, want, res.Audio, "only Path:audio frames contribute bytes")
	assert.Equal(t, "mp3", res.Format)
	assert.Equal(t, len(want), res.SizeBytes)
	assert.Equal(t, len("Hello there"), res.CharacterCount)
}

func TestEdgeGenerate_ClosedBeforeTurnEnd(t *testing.T) {
	var (
		mu       sync.Mutex
		attempts int
	)
	srv, wsURL := newEdgeSynthServer(t, func(conn *websocket.Conn) {
		mu.Lock()
		attempts++
		mu.Unlock()

		conn.ReadMessage()
		conn.ReadMessage()
		conn.WriteMessage(websocket.BinaryMessage, edgeBinaryFrame("audio", []byte("partial")))
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
	})
	defer srv.Close()

	p := NewEdgeProvider(EdgeConfig{WebSocketURL: wsURL}, zap.NewNop())
	p.retry = fastPolicy

	_, err := p.Generate(context.Background(), "Hello", "en-US-AriaNeural", Options{})
	require.Error(t, err, "partial audio must never be returned as success")
	assert.Equal(t, ErrUpstream, KindOf(err))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, fastPolicy.MaxAttempts, attempts, "mid-stream disconnect is retryable")
}

func TestEdgeGenerate_TurnEndWithoutAudioIsAnError(t *testing.T) {
	srv, wsURL := newEdgeSynthServer(t, func(conn *websocket.Conn) {
		conn.ReadMessage()
		conn.ReadMessage()
		conn.WriteMessage(websocket.TextMessage, []byte("Path:turn.end"))
	})
	defer srv.Close()

	p := NewEdgeProvider(EdgeConfig{WebSocketURL: wsURL}, zap.NewNop())
	p.retry = fastPolicy

	_, err := p.Generate(context.Background(), "Hello", "en-US-AriaNeural", Options{})
	require.Error(t, err)
	assert.Equal(t, ErrInvalidVoice, KindOf(err))
}

func TestEdgeListVoices_CachesCatalog(t *testing.T) {
	fetches := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches++
		json.NewEncoder(w).Encode([]map[string]string{
			{"ShortName": "en-US-AriaNeural", "FriendlyName": "Aria", "Gender": "Female", "Locale": "en-US"},
			{"ShortName": "en-US-GuyNeural", "FriendlyName": "Guy", "Gender": "Male", "Locale": "en-US"},
		})
	}))
	defer srv.Close()

	p := NewEdgeProvider(EdgeConfig{VoicesURL: srv.URL, HTTPClient: srv.Client()}, zap.NewNop())

	voices, err := p.ListVoices(context.Background())
	require.NoError(t, err)
	require.Len(t, voices, 2)
	assert.Equal(t, "en-US-AriaNeural", voices[0].ID)
	assert.Equal(t, "female", voices[0].Gender)
	assert.Equal(t, ProviderEdge, voices[0].Provider)

	_, err = p.ListVoices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fetches, "second call served from cache")
}

func TestEdgeStatus_ReflectsEndpointHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("[]"))
	}))
	defer srv.Close()

	p := NewEdgeProvider(EdgeConfig{VoicesURL: srv.URL, HTTPClient: srv.Client()}, zap.NewNop())
	st := p.Status(context.Background())
	assert.True(t, st.Available)
	assert.Equal(t, ProviderEdge, st.Provider)

	srv.Close()
	st = p.Status(context.Background())
	assert.False(t, st.Available)
	assert.NotEmpty(t, st.Message)
}
