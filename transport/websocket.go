package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/briandenicola/art-voice-agent-accelerator/cascade"
	"github.com/briandenicola/art-voice-agent-accelerator/session"
	"github.com/briandenicola/art-voice-agent-accelerator/speech"
)

// Wire protocol. The client sends binary frames of PCM audio and JSON
// text frames for control. The server sends binary frames of
// synthesized audio and JSON text frames for events.
const (
	eventSessionStarted  = "session_started"
	eventAssistantSpeech = "assistant_transcript"

	controlEndSession = "end_session"
)

type serverEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Agent     string `json:"agent,omitempty"`
	Text      string `json:"text,omitempty"`
}

type clientControl struct {
	Type string `json:"type"`
}

// MediaConfig tunes the media endpoint.
type MediaConfig struct {
	// EntryAgent owns every new session.
	EntryAgent string
	// ReadLimit caps inbound frame size in bytes; zero keeps the
	// library default.
	ReadLimit int64
	// Turns configures the per-connection orchestrator.
	Turns cascade.Config
	// Shell configures the per-connection concurrency shell.
	Shell cascade.HandlerConfig
}

// MediaHandler accepts WebSocket media connections and drives one
// speech cascade per connection.
type MediaHandler struct {
	deps   cascade.Deps
	stt    speech.STTProvider
	auth   *Authenticator
	cfg    MediaConfig
	logger *zap.Logger
}

// NewMediaHandler wires the media endpoint. deps.Sink is ignored; each
// connection sinks audio back over its own socket.
func NewMediaHandler(deps cascade.Deps, stt speech.STTProvider, auth *Authenticator, cfg MediaConfig, logger *zap.Logger) *MediaHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Shell.SampleRate <= 0 {
		cfg.Shell.SampleRate = 16000
	}
	return &MediaHandler{
		deps:   deps,
		stt:    stt,
		auth:   auth,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "media_transport")),
	}
}

// ServeHTTP upgrades the connection and runs the session to completion.
func (h *MediaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if _, err := h.auth.Authenticate(r); err != nil {
		h.logger.Debug("rejected media connection", zap.Error(err))
		w.Header().Set("Content-Type", "application/json")
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	if h.cfg.ReadLimit > 0 {
		conn.SetReadLimit(h.cfg.ReadLimit)
	}

	sess := session.NewState(transportKind(r), h.cfg.EntryAgent)
	logger := h.logger.With(zap.String("session_id", sess.ID()))

	sink := &wsSink{conn: conn}
	deps := h.deps
	deps.Sink = sink
	shell := cascade.NewHandler(
		cascade.NewOrchestrator(deps, h.cfg.Turns),
		h.stt, sess, h.cfg.Shell, h.deps.Metrics, logger,
	)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := sink.writeEvent(ctx, serverEvent{
		Type:      eventSessionStarted,
		SessionID: sess.ID(),
		Agent:     sess.ActiveAgent(),
	}); err != nil {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return shell.Run(gctx)
	})
	g.Go(func() error {
		defer cancel()
		return h.readLoop(gctx, conn, shell, logger)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("media session ended with error", zap.Error(err))
	}
	logger.Info("media session ended")
	_ = conn.Close(websocket.StatusNormalClosure, "session ended")
}

// readLoop pumps transport frames into the cascade until the client
// disconnects, sends end_session, or the context ends.
func (h *MediaHandler) readLoop(ctx context.Context, conn *websocket.Conn, shell *cascade.Handler, logger *zap.Logger) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		switch typ {
		case websocket.MessageBinary:
			shell.PushAudio(speech.AudioChunk{
				Data:       data,
				SampleRate: h.cfg.Shell.SampleRate,
				Channels:   1,
				Timestamp:  time.Now(),
			})
		case websocket.MessageText:
			var ctl clientControl
			if err := json.Unmarshal(data, &ctl); err != nil {
				logger.Debug("dropping malformed control frame", zap.Error(err))
				continue
			}
			if ctl.Type == controlEndSession {
				logger.Info("client requested session end")
				return nil
			}
		}
	}
}

// wsSink writes synthesized speech back over the socket. Writes are
// serialized because the connection supports one concurrent writer.
type wsSink struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSink) WriteAudio(ctx context.Context, ev speech.SpeechEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.Text != "" {
		payload, err := json.Marshal(serverEvent{Type: eventAssistantSpeech, Text: ev.Text})
		if err == nil {
			if err := s.conn.Write(ctx, websocket.MessageText, payload); err != nil {
				return err
			}
		}
	}
	if len(ev.Audio) > 0 {
		return s.conn.Write(ctx, websocket.MessageBinary, ev.Audio)
	}
	return nil
}

func (s *wsSink) writeEvent(ctx context.Context, ev serverEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.conn.Write(ctx, websocket.MessageText, payload)
}

func transportKind(r *http.Request) session.TransportKind {
	if r.URL.Query().Get("transport") == string(session.TransportTelephony) {
		return session.TransportTelephony
	}
	return session.TransportBrowser
}
