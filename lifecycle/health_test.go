package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthLive(t *testing.T) {
	rs := NewReadinessState()
	h := NewHealth(rs, nil, nil)

	rec := httptest.NewRecorder()
	h.Live(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rs.MarkLive()
	rec = httptest.NewRecorder()
	h.Live(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthReadyDetail(t *testing.T) {
	rs := NewReadinessState()
	rs.MarkLive()
	rs.RecordTask(TaskResult{Name: "mcp_validation", Success: false, Error: "unreachable", Required: true})
	h := NewHealth(rs, nil, nil)

	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var snap Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.True(t, snap.Live)
	assert.False(t, snap.DeferredStartupComplete)
	assert.Contains(t, snap.Tasks, "mcp_validation")

	rs.MarkDeferredComplete()
	rec = httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthDiag(t *testing.T) {
	rs := NewReadinessState()
	checks := []DiagCheck{
		{Name: "redis", Check: func(context.Context) error { return nil }},
		{Name: "llm", Check: func(context.Context) error { return errors.New("timeout") }},
	}
	h := NewHealth(rs, checks, nil)

	rec := httptest.NewRecorder()
	h.Diag(rec, httptest.NewRequest(http.MethodGet, "/health/diag", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var results map[string]diagResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	assert.True(t, results["redis"].Healthy)
	assert.False(t, results["llm"].Healthy)
	assert.Contains(t, results["llm"].Error, "timeout")
}

func TestHealthRegisterRoutes(t *testing.T) {
	rs := NewReadinessState()
	rs.MarkLive()
	mux := http.NewServeMux()
	NewHealth(rs, nil, nil).Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
