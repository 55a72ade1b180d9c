// Package metrics defines the Prometheus collectors exported by the gateway.
// Every Record* method is safe on a nil *Metrics so components can run
// without instrumentation in tests.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "translator"
)

// Metrics holds all Prometheus metrics for the translation gateway
type Metrics struct {
	// Request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Upstream provider metrics
	UpstreamCallsTotal *prometheus.CounterVec
	UpstreamDuration   prometheus.Histogram
	RetriesTotal       prometheus.Counter
	SemaphoreInUse     prometheus.Gauge

	// Cache metrics
	CacheOperationsTotal *prometheus.CounterVec

	// Coalescing metrics
	CoalescedRequestsTotal prometheus.Counter
	PendingGroups          prometheus.Gauge
}

// New creates a Metrics instance whose collectors are registered with reg.
// A nil reg registers with the default Prometheus registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Translation requests by entry point and outcome
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of translation requests",
			},
			[]string{"path", "status"},
		),

		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),

		UpstreamCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_calls_total",
				Help:      "Total number of upstream provider calls by outcome",
			},
			[]string{"status"},
		),

		// Buckets: 50ms .. 5s, the provider timeout sits at 2s by default
		UpstreamDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upstream_duration_seconds",
				Help:      "Duration of upstream provider calls in seconds",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2, 5},
			},
		),

		RetriesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_total",
				Help:      "Total number of upstream retry attempts",
			},
		),

		SemaphoreInUse: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "semaphore_in_use",
				Help:      "Number of upstream concurrency slots currently held",
			},
		),

		CacheOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_operations_total",
				Help:      "Total number of cache lookups by tier and result",
			},
			[]string{"tier", "result"},
		),

		CoalescedRequestsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "coalesced_requests_total",
				Help:      "Total number of requests that joined an in-flight group",
			},
		),

		PendingGroups: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pending_groups",
				Help:      "Number of pending request groups awaiting dispatch",
			},
		),
	}
}

// RecordRequest records a translation request by entry point and status
func (m *Metrics) RecordRequest(path, status string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(path, status).Inc()
}

// RecordHTTPRequest records an HTTP request duration
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

// RecordUpstreamCall records one upstream attempt
func (m *Metrics) RecordUpstreamCall(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.UpstreamCallsTotal.WithLabelValues(status).Inc()
	m.UpstreamDuration.Observe(duration.Seconds())
}

// RecordRetry records a retry of an upstream call
func (m *Metrics) RecordRetry() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// AddSemaphoreInUse adjusts the in-use slot gauge by delta
func (m *Metrics) AddSemaphoreInUse(delta float64) {
	if m == nil {
		return
	}
	m.SemaphoreInUse.Add(delta)
}

// RecordCacheOperation records a cache lookup outcome for a tier
func (m *Metrics) RecordCacheOperation(tier, result string) {
	if m == nil {
		return
	}
	m.CacheOperationsTotal.WithLabelValues(tier, result).Inc()
}

// RecordCoalesced records a request that joined an existing group
func (m *Metrics) RecordCoalesced() {
	if m == nil {
		return
	}
	m.CoalescedRequestsTotal.Inc()
}

// SetPendingGroups sets the pending group gauge
func (m *Metrics) SetPendingGroups(n int) {
	if m == nil {
		return
	}
	m.PendingGroups.Set(float64(n))
}
