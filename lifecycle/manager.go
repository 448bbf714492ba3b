package lifecycle

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/briandenicola/art-voice-agent-accelerator/types"
)

// Step is one startup/shutdown action. Critical steps (Deferred
// false) run sequentially in registration order and any failure is
// fatal; deferred steps run in the background after the process is
// live and their failures are recorded, not fatal.
type Step struct {
	Name string
	// Start performs the initialization. Required.
	Start func(ctx context.Context) error
	// Stop undoes it at shutdown. Optional.
	Stop func(ctx context.Context) error
	// Deferred steps run after critical startup, off the hot path.
	Deferred bool
	// Required marks a deferred dependency the service is degraded
	// without; failure is logged at error level and surfaced in the
	// readiness detail.
	Required bool
	// OnSuccess, if set, flips readiness flags for this step.
	OnSuccess func(rs *ReadinessState)

	duration time.Duration
}

// Manager runs registered steps and owns the readiness state.
type Manager struct {
	mu       sync.Mutex
	critical []*Step
	deferred []*Step
	executed []*Step

	readiness     *ReadinessState
	deferredStop  context.CancelFunc
	deferredDone  chan struct{}
	shutdownGrace time.Duration

	tracer trace.Tracer
	logger *zap.Logger
}

// NewManager creates an empty manager with an all-false readiness
// state.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		readiness:     NewReadinessState(),
		shutdownGrace: 5 * time.Second,
		tracer:        otel.Tracer("lifecycle"),
		logger:        logger.With(zap.String("component", "lifecycle")),
	}
}

// Readiness exposes the state health probes read.
func (m *Manager) Readiness() *ReadinessState { return m.readiness }

// AddStep registers a step. Registration order is startup order for
// critical steps and launch order for deferred ones.
func (m *Manager) AddStep(step *Step) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if step.Deferred {
		m.deferred = append(m.deferred, step)
	} else {
		m.critical = append(m.critical, step)
	}
}

// RunStartup executes critical steps sequentially. The first failure
// aborts startup with a CRITICAL_STARTUP error and liveness is never
// granted. On success liveness flips before any deferred work starts.
func (m *Manager) RunStartup(ctx context.Context) error {
	m.mu.Lock()
	steps := make([]*Step, len(m.critical))
	copy(steps, m.critical)
	m.mu.Unlock()

	for _, step := range steps {
		start := time.Now()
		stepCtx, span := m.tracer.Start(ctx, "startup."+step.Name)
		err := step.Start(stepCtx)
		step.duration = time.Since(start)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			m.logger.Error("critical startup step failed",
				zap.String("step", step.Name),
				zap.Duration("duration", step.duration),
				zap.Error(err),
			)
			return types.Errorf(types.ErrCriticalStartup,
				"critical startup step %q failed", step.Name).WithCause(err)
		}
		span.End()

		m.mu.Lock()
		m.executed = append(m.executed, step)
		m.mu.Unlock()

		if step.OnSuccess != nil {
			step.OnSuccess(m.readiness)
		}
		m.logger.Info("startup step completed",
			zap.String("step", step.Name),
			zap.Duration("duration", step.duration),
		)
	}

	m.readiness.MarkLive()
	return nil
}

// StartDeferred launches deferred steps in the background and returns
// immediately. Results land in the readiness state as each task
// finishes; deferred failures are visible, never fatal.
func (m *Manager) StartDeferred(ctx context.Context) {
	m.mu.Lock()
	steps := make([]*Step, len(m.deferred))
	copy(steps, m.deferred)
	m.mu.Unlock()

	if len(steps) == 0 {
		m.readiness.MarkDeferredComplete()
		return
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	m.mu.Lock()
	m.deferredStop = cancel
	m.deferredDone = done
	m.mu.Unlock()

	m.logger.Info("starting deferred tasks", zap.Int("count", len(steps)))

	go func() {
		defer close(done)
		for _, step := range steps {
			if runCtx.Err() != nil {
				return
			}

			start := time.Now()
			stepCtx, span := m.tracer.Start(runCtx, "startup.deferred."+step.Name)
			err := step.Start(stepCtx)
			step.duration = time.Since(start)

			result := TaskResult{
				Name:     step.Name,
				Success:  err == nil,
				Required: step.Required,
				Duration: step.duration,
			}
			if err != nil {
				result.Error = err.Error()
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				if step.Required {
					m.logger.Error("required deferred task failed",
						zap.String("task", step.Name), zap.Error(err))
				} else {
					m.logger.Warn("deferred task failed",
						zap.String("task", step.Name), zap.Error(err))
				}
			} else {
				if step.OnSuccess != nil {
					step.OnSuccess(m.readiness)
				}
				m.logger.Info("deferred task completed",
					zap.String("task", step.Name),
					zap.Duration("duration", step.duration),
				)
			}
			span.End()
			m.readiness.RecordTask(result)

			// Shutdown stops only steps that actually started.
			if err == nil {
				m.mu.Lock()
				m.executed = append(m.executed, step)
				m.mu.Unlock()
			}
		}
		m.readiness.MarkDeferredComplete()
	}()
}

// RunShutdown cancels still-running deferred work with a bounded grace
// period, then stops executed steps in exact reverse order. Stop
// failures are logged and never short-circuit the remaining cleanup.
func (m *Manager) RunShutdown(ctx context.Context) {
	m.mu.Lock()
	cancel := m.deferredStop
	done := m.deferredDone
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-time.After(m.shutdownGrace):
			m.logger.Warn("deferred startup did not stop within grace period",
				zap.Duration("grace", m.shutdownGrace))
		}
	}

	m.mu.Lock()
	executed := make([]*Step, len(m.executed))
	copy(executed, m.executed)
	m.mu.Unlock()

	for i := len(executed) - 1; i >= 0; i-- {
		step := executed[i]
		if step.Stop == nil {
			continue
		}
		stepCtx, span := m.tracer.Start(ctx, "shutdown."+step.Name)
		if err := step.Stop(stepCtx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			m.logger.Warn("shutdown step failed",
				zap.String("step", step.Name), zap.Error(err))
		}
		span.End()
	}
	m.logger.Info("shutdown complete")
}
