package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func newTestCollector() *Collector {
	return NewCollector("test", prometheus.NewRegistry(), nil)
}

func TestNewCollector(t *testing.T) {
	c := newTestCollector()

	assert.NotNil(t, c)
	assert.NotNil(t, c.turnsTotal)
	assert.NotNil(t, c.turnDuration)
	assert.NotNil(t, c.handoffsTotal)
	assert.NotNil(t, c.toolInvocationsTotal)
	assert.NotNil(t, c.llmRequestsTotal)
}

func TestCollectorRecordTurn(t *testing.T) {
	c := newTestCollector()

	c.RecordTurn("Concierge", "ok", 800*time.Millisecond)
	c.RecordTurn("Concierge", "fallback", 2*time.Second)

	assert.Greater(t, testutil.CollectAndCount(c.turnsTotal), 0)
	assert.Greater(t, testutil.CollectAndCount(c.turnDuration), 0)
}

func TestCollectorRecordHandoff(t *testing.T) {
	c := newTestCollector()

	c.RecordHandoff("Concierge", "Billing", "announced")
	assert.Greater(t, testutil.CollectAndCount(c.handoffsTotal), 0)
}

func TestCollectorSessionGauge(t *testing.T) {
	c := newTestCollector()

	c.SessionStarted("browser")
	c.SessionStarted("telephony")
	c.SessionEnded()

	assert.Equal(t, 1.0, testutil.ToFloat64(c.activeSessions))
	assert.Greater(t, testutil.CollectAndCount(c.sessionsTotal), 0)
}

func TestCollectorRecordToolInvocation(t *testing.T) {
	c := newTestCollector()

	c.RecordToolInvocation("lookup_order", "ok", 30*time.Millisecond)
	c.RecordToolInvocation("lookup_order", "timeout", 5*time.Second)

	assert.Greater(t, testutil.CollectAndCount(c.toolInvocationsTotal), 0)
}

func TestCollectorNilSafe(t *testing.T) {
	var c *Collector

	assert.NotPanics(t, func() {
		c.RecordTurn("Concierge", "ok", time.Second)
		c.RecordHandoff("a", "b", "discrete")
		c.RecordBargeIn()
		c.SessionStarted("browser")
		c.SessionEnded()
		c.RecordToolInvocation("x", "ok", time.Millisecond)
		c.RecordLLMRequest("gpt-4o", "ok", time.Millisecond)
	})
}

func TestCollectorConcurrentRecording(t *testing.T) {
	c := newTestCollector()

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			c.RecordTurn("Concierge", "ok", 100*time.Millisecond)
			c.RecordLLMRequest("gpt-4o", "ok", 500*time.Millisecond)
			c.RecordBargeIn()
			done <- struct{}{}
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	assert.Greater(t, testutil.CollectAndCount(c.turnsTotal), 0)
	assert.Equal(t, 10.0, testutil.ToFloat64(c.bargeInsTotal))
}
