package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// GatewayConfig configures the speech gateway providers. The gateway
// is any service exposing a WebSocket recognition endpoint and an HTTP
// synthesis endpoint; Azure Speech is fronted this way in deployments.
type GatewayConfig struct {
	// STTURL is the WebSocket recognition endpoint (ws:// or wss://).
	STTURL string
	// TTSURL is the HTTP synthesis endpoint.
	TTSURL string
	// APIKey authenticates both endpoints.
	APIKey string
	// Model selects the recognition model; gateway default when empty.
	Model string
	// Language defaults to "en".
	Language string
	// Timeout bounds synthesis requests. Defaults to 15s.
	Timeout time.Duration
}

// GatewaySTT opens streaming recognition sessions against the gateway.
type GatewaySTT struct {
	cfg    GatewayConfig
	logger *zap.Logger
}

// NewGatewaySTT builds the recognition provider.
func NewGatewaySTT(cfg GatewayConfig, logger *zap.Logger) *GatewaySTT {
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GatewaySTT{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "gateway_stt")),
	}
}

// Name identifies the provider.
func (g *GatewaySTT) Name() string { return "gateway_stt" }

// StartStream dials the recognition endpoint and starts the read loop.
func (g *GatewaySTT) StartStream(ctx context.Context, sampleRate int) (STTStream, error) {
	u, err := url.Parse(g.cfg.STTURL)
	if err != nil {
		return nil, fmt.Errorf("parse stt url: %w", err)
	}
	q := u.Query()
	if g.cfg.Model != "" {
		q.Set("model", g.cfg.Model)
	}
	q.Set("language", g.cfg.Language)
	q.Set("encoding", "pcm_s16le")
	q.Set("sample_rate", fmt.Sprintf("%d", sampleRate))
	u.RawQuery = q.Encode()

	opts := &websocket.DialOptions{}
	if g.cfg.APIKey != "" {
		opts.HTTPHeader = http.Header{"X-API-Key": []string{g.cfg.APIKey}}
	}
	conn, _, err := websocket.Dial(ctx, u.String(), opts)
	if err != nil {
		return nil, fmt.Errorf("dial recognition endpoint: %w", err)
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &gatewaySTTStream{
		conn:   conn,
		events: make(chan TranscriptEvent, 32),
		ctx:    streamCtx,
		cancel: cancel,
		logger: g.logger,
	}
	go s.readLoop()
	return s, nil
}

type gatewaySTTStream struct {
	conn    *websocket.Conn
	events  chan TranscriptEvent
	ctx     context.Context
	cancel  context.CancelFunc
	writeMu sync.Mutex
	closed  atomic.Bool
	logger  *zap.Logger
}

// gatewayTranscript is one recognition frame from the gateway.
type gatewayTranscript struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
	Error   string `json:"error"`
}

func (s *gatewaySTTStream) Send(chunk AudioChunk) error {
	if s.closed.Load() {
		return fmt.Errorf("recognition stream closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.Write(s.ctx, websocket.MessageBinary, chunk.Data)
}

func (s *gatewaySTTStream) Receive() <-chan TranscriptEvent {
	return s.events
}

func (s *gatewaySTTStream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.writeMu.Lock()
	_ = s.conn.Write(s.ctx, websocket.MessageText, []byte(`{"type":"done"}`))
	s.writeMu.Unlock()
	// Close first so the in-flight read completes the handshake,
	// then release the stream context.
	err := s.conn.Close(websocket.StatusNormalClosure, "done")
	s.cancel()
	return err
}

func (s *gatewaySTTStream) readLoop() {
	defer close(s.events)
	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if !s.closed.Load() && websocket.CloseStatus(err) == -1 && s.ctx.Err() == nil {
				s.logger.Warn("recognition stream read failed", zap.Error(err))
			}
			return
		}

		var msg gatewayTranscript
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Debug("dropping malformed recognition frame", zap.Error(err))
			continue
		}

		switch msg.Type {
		case "transcript":
			ev := TranscriptEvent{Text: msg.Text, IsFinal: msg.IsFinal, Timestamp: time.Now()}
			select {
			case s.events <- ev:
			case <-s.ctx.Done():
				return
			}
		case "done":
			return
		case "error":
			s.logger.Warn("recognition stream error", zap.String("error", msg.Error))
			return
		}
	}
}

// GatewayTTS synthesizes speech through the gateway's HTTP endpoint.
// The response body is raw PCM, forwarded in frames so cancellation
// can land mid-synthesis.
type GatewayTTS struct {
	cfg    GatewayConfig
	client *http.Client
	logger *zap.Logger
}

// ttsFrameBytes is 100ms of 16kHz mono PCM16.
const ttsFrameBytes = 3200

// NewGatewayTTS builds the synthesis provider.
func NewGatewayTTS(cfg GatewayConfig, logger *zap.Logger) *GatewayTTS {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GatewayTTS{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(zap.String("component", "gateway_tts")),
	}
}

// Name identifies the provider.
func (g *GatewayTTS) Name() string { return "gateway_tts" }

// Synthesize renders the request and streams audio frames.
func (g *GatewayTTS) Synthesize(ctx context.Context, req *SynthesisRequest) (<-chan SpeechEvent, error) {
	payload, err := json.Marshal(map[string]string{
		"text":  req.Text,
		"voice": req.Voice,
		"style": req.Style,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal synthesis request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.TTSURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build synthesis request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.cfg.APIKey != "" {
		httpReq.Header.Set("X-API-Key", g.cfg.APIKey)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("synthesis request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("synthesis failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	ch := make(chan SpeechEvent)
	go func() {
		defer resp.Body.Close()
		defer close(ch)
		first := true
		buf := make([]byte, ttsFrameBytes)
		for {
			n, err := io.ReadFull(resp.Body, buf)
			if n > 0 {
				ev := SpeechEvent{Audio: append([]byte(nil), buf[:n]...), Timestamp: time.Now()}
				if first {
					// Carry the source text once for captioning.
					ev.Text = req.Text
					first = false
				}
				if err != nil {
					ev.IsFinal = true
				}
				select {
				case ch <- ev:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if err != io.EOF && err != io.ErrUnexpectedEOF {
					g.logger.Warn("synthesis stream truncated", zap.Error(err))
				}
				return
			}
		}
	}()
	return ch, nil
}
