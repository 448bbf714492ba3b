package speech

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGatewayTTSStreamsFrames(t *testing.T) {
	audio := make([]byte, 2*ttsFrameBytes+600)
	for i := range audio {
		audio[i] = byte(i)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		body, _ := io.ReadAll(r.Body)
		var req map[string]string
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "Hello caller.", req["text"])
		assert.Equal(t, "en-US-AvaNeural", req["voice"])
		w.Write(audio)
	}))
	t.Cleanup(srv.Close)

	tts := NewGatewayTTS(GatewayConfig{TTSURL: srv.URL, APIKey: "secret"}, nil)
	ch, err := tts.Synthesize(context.Background(), &SynthesisRequest{
		Text:  "Hello caller.",
		Voice: "en-US-AvaNeural",
	})
	require.NoError(t, err)

	var events []SpeechEvent
	var total int
	for ev := range ch {
		events = append(events, ev)
		total += len(ev.Audio)
	}
	require.Len(t, events, 3)
	assert.Equal(t, len(audio), total)
	assert.Equal(t, "Hello caller.", events[0].Text)
	assert.Empty(t, events[1].Text)
	assert.True(t, events[len(events)-1].IsFinal)
}

func TestGatewayTTSErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "voice not found", http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	tts := NewGatewayTTS(GatewayConfig{TTSURL: srv.URL}, nil)
	_, err := tts.Synthesize(context.Background(), &SynthesisRequest{Text: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=400")
}

func TestGatewayTTSCancellationStopsStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(make([]byte, 8*ttsFrameBytes))
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	tts := NewGatewayTTS(GatewayConfig{TTSURL: srv.URL}, nil)
	ch, err := tts.Synthesize(ctx, &SynthesisRequest{Text: "long response"})
	require.NoError(t, err)

	<-ch
	cancel()

	// The producer stops once it observes cancellation; the channel
	// closes without draining the rest of the body.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("synthesis stream did not stop after cancellation")
		}
	}
}

// fakeGateway upgrades recognition connections and answers each binary
// frame with one final transcript.
func fakeGatewayServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		assert.Equal(t, "16000", r.URL.Query().Get("sample_rate"))
		assert.Equal(t, "pcm_s16le", r.URL.Query().Get("encoding"))

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()

		ctx := r.Context()
		for {
			typ, _, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if typ != websocket.MessageBinary {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			frame, _ := json.Marshal(gatewayTranscript{Type: "transcript", Text: "hello there", IsFinal: true})
			if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGatewaySTTRoundTrip(t *testing.T) {
	srv := fakeGatewayServer(t)
	wsURL := strings.Replace(srv.URL, "http", "ws", 1)

	stt := NewGatewaySTT(GatewayConfig{STTURL: wsURL, APIKey: "secret"}, nil)
	stream, err := stt.StartStream(context.Background(), 16000)
	require.NoError(t, err)
	defer stream.Close()

	require.NoError(t, stream.Send(AudioChunk{Data: make([]byte, 320), SampleRate: 16000}))

	select {
	case ev := <-stream.Receive():
		assert.Equal(t, "hello there", ev.Text)
		assert.True(t, ev.IsFinal)
	case <-time.After(2 * time.Second):
		t.Fatal("no transcript received")
	}
}

func TestGatewaySTTCloseIsIdempotent(t *testing.T) {
	srv := fakeGatewayServer(t)
	wsURL := strings.Replace(srv.URL, "http", "ws", 1)

	stt := NewGatewaySTT(GatewayConfig{STTURL: wsURL, APIKey: "secret"}, nil)
	stream, err := stt.StartStream(context.Background(), 16000)
	require.NoError(t, err)

	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())
	require.Error(t, stream.Send(AudioChunk{Data: []byte{0}}))

	// The event channel drains and closes after teardown.
	select {
	case _, ok := <-stream.Receive():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("event channel did not close")
	}
}

func TestGatewaySTTDialFailure(t *testing.T) {
	stt := NewGatewaySTT(GatewayConfig{STTURL: "ws://127.0.0.1:1"}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := stt.StartStream(ctx, 16000)
	require.Error(t, err)
}
