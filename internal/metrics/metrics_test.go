package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	m := New(prometheus.NewRegistry())

	assert.NotNil(t, m.RequestsTotal)
	assert.NotNil(t, m.RequestDuration)
	assert.NotNil(t, m.UpstreamCallsTotal)
	assert.NotNil(t, m.UpstreamDuration)
	assert.NotNil(t, m.RetriesTotal)
	assert.NotNil(t, m.SemaphoreInUse)
	assert.NotNil(t, m.CacheOperationsTotal)
	assert.NotNil(t, m.CoalescedRequestsTotal)
	assert.NotNil(t, m.PendingGroups)
}

func TestRecorders(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordRequest("translate", "success")
	m.RecordRequest("translate", "success")
	m.RecordUpstreamCall("error", 30*time.Millisecond)
	m.RecordRetry()
	m.AddSemaphoreInUse(2)
	m.AddSemaphoreInUse(-1)
	m.RecordCacheOperation("local", "hit")
	m.RecordCoalesced()
	m.SetPendingGroups(3)
	m.RecordHTTPRequest("POST", "/api/translate", 200, 10*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("translate", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UpstreamCallsTotal.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RetriesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SemaphoreInUse))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheOperationsTotal.WithLabelValues("local", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CoalescedRequestsTotal))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.PendingGroups))

	expected := `
# HELP translator_retries_total Total number of upstream retry attempts
# TYPE translator_retries_total counter
translator_retries_total 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "translator_retries_total"))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRequest("translate", "success")
		m.RecordHTTPRequest("GET", "/health", 200, time.Millisecond)
		m.RecordUpstreamCall("success", time.Millisecond)
		m.RecordRetry()
		m.AddSemaphoreInUse(1)
		m.RecordCacheOperation("redis", "miss")
		m.RecordCoalesced()
		m.SetPendingGroups(0)
	})
}
