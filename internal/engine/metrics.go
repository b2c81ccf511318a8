package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Event outcomes, used as metric labels and span attributes.
const (
	outcomeCompleted = "completed"
	outcomeSuspended = "suspended"
	outcomeDropped   = "dropped"
	outcomeRetried   = "retried"
	outcomeParked    = "parked"
)

// Metrics holds the Prometheus collectors updated by engines and workers.
//
// Example:
//
//	registry := prometheus.NewRegistry()
//	rt := engine.NewRuntime(backend, engine.WithMetrics(engine.NewMetrics(registry)))
type Metrics struct {
	events   *prometheus.CounterVec
	duration *prometheus.HistogramVec
	calls    *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "durable",
			Name:      "events_total",
			Help:      "Queue items processed, by component, stream and outcome.",
		}, []string{"component", "stream", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "durable",
			Name:      "event_duration_seconds",
			Help:      "Time to process one queue item, replay included.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"component", "stream"}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "durable",
			Name:      "calls_issued_total",
			Help:      "Outbound calls pushed by workflows, by caller and target.",
		}, []string{"component", "target"}),
	}
	reg.MustRegister(m.events, m.duration, m.calls)
	return m
}

func (m *Metrics) observeEvent(component, stream, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(component, stream, outcome).Inc()
	m.duration.WithLabelValues(component, stream).Observe(elapsed.Seconds())
}

func (m *Metrics) observeCall(component, target string) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(component, target).Inc()
}
