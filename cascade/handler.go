package cascade

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/briandenicola/art-voice-agent-accelerator/internal/metrics"
	"github.com/briandenicola/art-voice-agent-accelerator/session"
	"github.com/briandenicola/art-voice-agent-accelerator/speech"
)

// HandlerConfig tunes the per-session concurrency shell.
type HandlerConfig struct {
	// SampleRate of inbound caller audio.
	SampleRate int
	// IdleTimeout tears the session down when no caller audio arrives
	// for this long. Zero disables the idle watchdog.
	IdleTimeout time.Duration
	// BargeInEnabled lets caller speech interrupt synthesis.
	BargeInEnabled bool
}

// Handler owns one session's concurrent units: recognition ingestion,
// turn dispatch and barge-in detection. All three share the session
// state; only the turn loop runs turns, strictly one at a time.
type Handler struct {
	orch    *Orchestrator
	stt     speech.STTProvider
	sess    *session.State
	cfg     HandlerConfig
	metrics *metrics.Collector
	logger  *zap.Logger

	// OnEscalation, if set, fires once when a turn flags the session
	// for human escalation.
	OnEscalation func(sess *session.State)

	audioIn     chan speech.AudioChunk
	turnActive  atomic.Bool
	lastAudioAt atomic.Int64
	escalated   atomic.Bool
}

// NewHandler builds the shell for one connected session.
func NewHandler(orch *Orchestrator, stt speech.STTProvider, sess *session.State, cfg HandlerConfig, collector *metrics.Collector, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	h := &Handler{
		orch:    orch,
		stt:     stt,
		sess:    sess,
		cfg:     cfg,
		metrics: collector,
		logger: logger.With(
			zap.String("component", "cascade_handler"),
			zap.String("session_id", sess.ID()),
		),
		audioIn: make(chan speech.AudioChunk, 32),
	}
	h.lastAudioAt.Store(time.Now().UnixNano())
	return h
}

// PushAudio hands one inbound audio frame to the recognition loop.
// Frames arriving after teardown are dropped.
func (h *Handler) PushAudio(chunk speech.AudioChunk) {
	if h.sess.Closed() {
		return
	}
	select {
	case h.audioIn <- chunk:
	default:
		// Recognition is behind; dropping a frame beats blocking the
		// transport read loop.
	}
}

// Run drives the session until the context ends, the transport closes
// the audio channel, or the idle watchdog fires. Idle teardown is a
// normal return, not an error.
func (h *Handler) Run(ctx context.Context) error {
	stream, err := h.stt.StartStream(ctx, h.cfg.SampleRate)
	if err != nil {
		return err
	}
	defer stream.Close()
	defer h.sess.Close()

	h.metrics.SessionStarted(string(h.sess.Transport()))
	defer h.metrics.SessionEnded()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	h.sess.Track("cascade_handler", cancel)

	finals := make(chan string, 8)
	g, gctx := errgroup.WithContext(runCtx)

	// Recognition ingestion: transport frames into the STT stream.
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case chunk, ok := <-h.audioIn:
				if !ok {
					cancel()
					return nil
				}
				h.lastAudioAt.Store(time.Now().UnixNano())
				if err := stream.Send(chunk); err != nil {
					return err
				}
			}
		}
	})

	// Transcript watcher: finals trigger turns, partials during an
	// active turn trigger barge-in.
	g.Go(func() error {
		events := stream.Receive()
		for {
			select {
			case <-gctx.Done():
				return nil
			case ev, ok := <-events:
				if !ok {
					cancel()
					return nil
				}
				h.handleTranscript(ev, finals)
			}
		}
	})

	// Turn loop: strictly sequential turns per session.
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case text := <-finals:
				h.runTurn(gctx, text)
			}
		}
	})

	// Idle watchdog.
	if h.cfg.IdleTimeout > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(h.cfg.IdleTimeout / 4)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					last := time.Unix(0, h.lastAudioAt.Load())
					if time.Since(last) >= h.cfg.IdleTimeout {
						h.logger.Info("idle timeout, ending session",
							zap.Duration("idle_timeout", h.cfg.IdleTimeout))
						cancel()
						return nil
					}
				}
			}
		})
	}

	return g.Wait()
}

func (h *Handler) handleTranscript(ev speech.TranscriptEvent, finals chan<- string) {
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return
	}

	// Any caller speech while a turn is playing is a barge-in.
	if h.cfg.BargeInEnabled && h.turnActive.Load() {
		if !h.sess.CancelRequested() {
			h.logger.Debug("barge-in detected")
			h.metrics.RecordBargeIn()
		}
		h.sess.RequestCancel()
	}

	if !ev.IsFinal {
		return
	}
	select {
	case finals <- text:
	default:
		h.logger.Warn("dropping finalized utterance, turn queue full",
			zap.String("text", text))
	}
}

func (h *Handler) runTurn(ctx context.Context, text string) {
	// A residual barge-in flag from the previous turn must not leak
	// into this one.
	h.sess.ClearCancel()

	h.turnActive.Store(true)
	err := h.orch.RouteTurn(ctx, h.sess, text)
	h.turnActive.Store(false)

	if err != nil {
		// Turn-level failures never end the session.
		h.logger.Warn("turn failed", zap.Error(err))
	}

	if h.sess.Escalated() && h.escalated.CompareAndSwap(false, true) {
		h.logger.Info("session flagged for escalation")
		if h.OnEscalation != nil {
			h.OnEscalation(h.sess)
		}
	}
}
