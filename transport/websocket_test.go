package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briandenicola/art-voice-agent-accelerator/agent"
	"github.com/briandenicola/art-voice-agent-accelerator/agent/handoff"
	"github.com/briandenicola/art-voice-agent-accelerator/cascade"
	"github.com/briandenicola/art-voice-agent-accelerator/config"
	"github.com/briandenicola/art-voice-agent-accelerator/llm"
	"github.com/briandenicola/art-voice-agent-accelerator/session"
	"github.com/briandenicola/art-voice-agent-accelerator/speech"
	"github.com/briandenicola/art-voice-agent-accelerator/tool"
)

// replayClient answers every request with the same scripted stream.
type replayClient struct {
	chunks []llm.StreamChunk
}

func (c *replayClient) Stream(_ context.Context, _ *llm.Request) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk, len(c.chunks))
	for _, chunk := range c.chunks {
		ch <- chunk
	}
	close(ch)
	return ch, nil
}

func (c *replayClient) Name() string { return "replay" }

// staticTTS renders each request's text as its own audio bytes.
type staticTTS struct{}

func (staticTTS) Synthesize(_ context.Context, req *speech.SynthesisRequest) (<-chan speech.SpeechEvent, error) {
	ch := make(chan speech.SpeechEvent, 1)
	ch <- speech.SpeechEvent{Text: req.Text, Audio: []byte(req.Text), IsFinal: true}
	close(ch)
	return ch, nil
}

func (staticTTS) Name() string { return "static" }

// wsSTTStream emits a single final transcript for the first audio
// frame it receives.
type wsSTTStream struct {
	mu     sync.Mutex
	events chan speech.TranscriptEvent
	fired  bool
	closed bool
}

func (s *wsSTTStream) Send(speech.AudioChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.fired && !s.closed {
		s.fired = true
		s.events <- speech.TranscriptEvent{Text: "hello", IsFinal: true, Timestamp: time.Now()}
	}
	return nil
}

func (s *wsSTTStream) Receive() <-chan speech.TranscriptEvent { return s.events }

func (s *wsSTTStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

type wsFakeSTT struct{}

func (wsFakeSTT) StartStream(_ context.Context, _ int) (speech.STTStream, error) {
	return &wsSTTStream{events: make(chan speech.TranscriptEvent, 8)}, nil
}

func (wsFakeSTT) Name() string { return "fake" }

func newMediaServer(t *testing.T, auth *Authenticator) *httptest.Server {
	t.Helper()

	defs := []*agent.Definition{{
		Name:         "Concierge",
		SystemPrompt: "You are the concierge for a retail support line.",
		Voice:        "en-US-AvaNeural",
	}}
	agents, err := agent.NewStore(defs, nil)
	require.NoError(t, err)

	deps := cascade.Deps{
		Agents:   agents,
		Handoffs: handoff.NewService(agents, "Concierge", nil),
		Tools:    tool.NewRegistry(tool.Config{}, nil),
		Client: &replayClient{chunks: []llm.StreamChunk{
			{Delta: "Hi there."},
			{FinishReason: llm.FinishStop},
		}},
		TTS:   staticTTS{},
		Store: session.NewMemoryStore(),
	}

	h := NewMediaHandler(deps, wsFakeSTT{}, auth, MediaConfig{
		EntryAgent: "Concierge",
		Turns:      cascade.Config{Model: "gpt-4o"},
		Shell:      cascade.HandlerConfig{SampleRate: 16000, BargeInEnabled: true},
	}, nil)

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return strings.Replace(srv.URL, "http", "ws", 1)
}

func TestMediaSessionRoundTrip(t *testing.T) {
	srv := newMediaServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(srv), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, websocket.MessageText, typ)
	var hello serverEvent
	require.NoError(t, json.Unmarshal(data, &hello))
	assert.Equal(t, eventSessionStarted, hello.Type)
	assert.Equal(t, "Concierge", hello.Agent)
	assert.NotEmpty(t, hello.SessionID)

	// One audio frame produces one recognized utterance and one spoken
	// response, echoed back as a transcript event plus audio bytes.
	require.NoError(t, conn.Write(ctx, websocket.MessageBinary, make([]byte, 320)))

	var gotAudio []byte
	var gotTranscript string
	for gotAudio == nil || gotTranscript == "" {
		typ, data, err := conn.Read(ctx)
		require.NoError(t, err)
		switch typ {
		case websocket.MessageBinary:
			gotAudio = data
		case websocket.MessageText:
			var ev serverEvent
			require.NoError(t, json.Unmarshal(data, &ev))
			if ev.Type == eventAssistantSpeech {
				gotTranscript = ev.Text
			}
		}
	}
	assert.Equal(t, "Hi there.", string(gotAudio))
	assert.Equal(t, "Hi there.", gotTranscript)

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"end_session"}`)))
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
			break
		}
	}
}

func TestMediaRejectsUnauthenticatedConnection(t *testing.T) {
	auth := NewAuthenticator(config.AuthConfig{
		Enabled:   true,
		JWTSecret: testSecret,
		Issuer:    "artvoice",
	}, nil)
	srv := newMediaServer(t, auth)

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(srv), nil) //nolint:bodyclose
	require.Error(t, err)
	if conn != nil {
		conn.CloseNow()
	}
}

func TestMediaAcceptsTokenQueryParameter(t *testing.T) {
	auth := NewAuthenticator(config.AuthConfig{
		Enabled:   true,
		JWTSecret: testSecret,
		Issuer:    "artvoice",
	}, nil)
	srv := newMediaServer(t, auth)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	token := signToken(t, testSecret, "artvoice", "caller-ws", time.Minute)
	conn, _, err := websocket.Dial(ctx, wsURL(srv)+"?access_token="+token, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, websocket.MessageText, typ)
	var hello serverEvent
	require.NoError(t, json.Unmarshal(data, &hello))
	assert.Equal(t, eventSessionStarted, hello.Type)
}

func TestTransportKindFromQuery(t *testing.T) {
	assert.Equal(t, session.TransportTelephony,
		transportKind(httptest.NewRequest("GET", "/ws?transport=telephony", nil)))
	assert.Equal(t, session.TransportBrowser,
		transportKind(httptest.NewRequest("GET", "/ws", nil)))
}
