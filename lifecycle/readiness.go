package lifecycle

import (
	"sync"
	"time"
)

// TaskResult is the outcome of one deferred startup task.
type TaskResult struct {
	Name     string        `json:"name"`
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
	Required bool          `json:"required"`
	Duration time.Duration `json:"duration"`
}

// ReadinessState is the process-wide readiness value object. All flags
// start false and flip monotonically to true; nothing resets them
// short of a process restart. A required deferred task failing is
// recorded in the task detail but never revokes liveness.
type ReadinessState struct {
	mu sync.RWMutex

	live             bool
	deferredComplete bool
	warmupCompleted  bool
	mcpReady         bool
	tasks            map[string]TaskResult
}

// NewReadinessState returns an all-false state.
func NewReadinessState() *ReadinessState {
	return &ReadinessState{tasks: make(map[string]TaskResult)}
}

// MarkLive flips liveness after critical startup succeeds.
func (r *ReadinessState) MarkLive() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live = true
}

// MarkDeferredComplete flips once every deferred task has finished,
// regardless of individual outcomes.
func (r *ReadinessState) MarkDeferredComplete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deferredComplete = true
}

// MarkWarmupCompleted flips when connection warmup finishes.
func (r *ReadinessState) MarkWarmupCompleted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warmupCompleted = true
}

// MarkMCPReady flips when every required MCP server validated.
func (r *ReadinessState) MarkMCPReady() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mcpReady = true
}

// RecordTask stores one deferred task's outcome.
func (r *ReadinessState) RecordTask(result TaskResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[result.Name] = result
}

// Live reports whether critical startup finished.
func (r *ReadinessState) Live() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.live
}

// Ready reports whether the process is fully ready: alive and all
// deferred tasks finished.
func (r *ReadinessState) Ready() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.live && r.deferredComplete
}

// Snapshot is a point-in-time copy for health responses.
type Snapshot struct {
	Live                    bool                  `json:"live"`
	DeferredStartupComplete bool                  `json:"deferred_startup_complete"`
	WarmupCompleted         bool                  `json:"warmup_completed"`
	MCPReady                bool                  `json:"mcp_ready"`
	Tasks                   map[string]TaskResult `json:"tasks"`
}

// Snapshot copies the current state.
func (r *ReadinessState) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tasks := make(map[string]TaskResult, len(r.tasks))
	for k, v := range r.tasks {
		tasks[k] = v
	}
	return Snapshot{
		Live:                    r.live,
		DeferredStartupComplete: r.deferredComplete,
		WarmupCompleted:         r.warmupCompleted,
		MCPReady:                r.mcpReady,
		Tasks:                   tasks,
	}
}
