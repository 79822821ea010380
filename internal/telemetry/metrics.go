// Package telemetry holds the Prometheus instrumentation shared by the HTTP
// surface and the metrics listener.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics aggregates the collectors exported on the metrics endpoint.
type Metrics struct {
	Registry *prometheus.Registry

	// Requests counts completed API requests by operation and status code.
	Requests *prometheus.CounterVec
	// Duration observes request latency by operation.
	Duration *prometheus.HistogramVec
	// Entries tracks the entry count after the most recent mutation.
	Entries prometheus.Gauge
}

// NewMetrics builds a self-contained registry with process, Go runtime, and
// guestbook collectors registered.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		Registry: registry,
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "guestbookd",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Completed API requests by operation and status code.",
		}, []string{"operation", "code"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "guestbookd",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "API request latency by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		Entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "guestbookd",
			Name:      "entries",
			Help:      "Entry count after the most recent mutation.",
		}),
	}
	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
		m.Requests,
		m.Duration,
		m.Entries,
	)
	return m
}

// ObserveRequest records one completed request.
func (m *Metrics) ObserveRequest(operation, code string, seconds float64) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(operation, code).Inc()
	m.Duration.WithLabelValues(operation).Observe(seconds)
}

// SetEntryCount records the current entry total.
func (m *Metrics) SetEntryCount(n int) {
	if m == nil {
		return
	}
	m.Entries.Set(float64(n))
}
