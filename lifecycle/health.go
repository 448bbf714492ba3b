package lifecycle

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// DiagCheck validates live connectivity of one dependency.
type DiagCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Health serves the liveness, readiness and diagnostic probes backed
// by a ReadinessState.
type Health struct {
	readiness *ReadinessState
	checks    []DiagCheck
	logger    *zap.Logger
}

// NewHealth builds the probe surface.
func NewHealth(readiness *ReadinessState, checks []DiagCheck, logger *zap.Logger) *Health {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Health{
		readiness: readiness,
		checks:    checks,
		logger:    logger.With(zap.String("component", "health")),
	}
}

// Register mounts the probe endpoints.
func (h *Health) Register(mux *http.ServeMux) {
	mux.HandleFunc("/health/live", h.Live)
	mux.HandleFunc("/health/ready", h.Ready)
	mux.HandleFunc("/health/diag", h.Diag)
}

// Live returns 200 once critical startup finished. Deferred work never
// affects this probe.
func (h *Health) Live(w http.ResponseWriter, _ *http.Request) {
	if !h.readiness.Live() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// Ready returns 200 only once all deferred tasks finished, with
// per-task detail either way.
func (h *Health) Ready(w http.ResponseWriter, _ *http.Request) {
	snap := h.readiness.Snapshot()
	status := http.StatusOK
	if !h.readiness.Ready() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, snap)
}

type diagResult struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency"`
}

// Diag probes each dependency live and reports per-dependency results.
func (h *Health) Diag(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	results := make(map[string]diagResult, len(h.checks))
	healthy := true
	for _, check := range h.checks {
		start := time.Now()
		err := check.Check(ctx)
		res := diagResult{Healthy: err == nil, Latency: time.Since(start).String()}
		if err != nil {
			res.Error = err.Error()
			healthy = false
		}
		results[check.Name] = res
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, results)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
