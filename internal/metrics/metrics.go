// Package metrics exposes Prometheus collectors for the dispatcher. All
// methods are safe on a nil *Metrics so instrumentation stays optional.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pelican"

// Drop reasons.
const (
	ReasonMalformed   = "malformed"
	ReasonBlacklisted = "blacklisted"
	ReasonDuplicate   = "duplicate"
	ReasonUnclaimed   = "unclaimed"
)

// Metrics holds the dispatcher collectors and their registry.
type Metrics struct {
	registry *prometheus.Registry

	updates        *prometheus.CounterVec
	dropped        *prometheus.CounterVec
	dispatched     *prometheus.CounterVec
	sessions       *prometheus.GaugeVec
	lifecycle      *prometheus.CounterVec
	panics         prometheus.Counter
	fetchErrors    prometheus.Counter
	tickDuration   prometheus.Histogram
	scheduled      prometheus.Gauge
	scheduledFired prometheus.Counter
}

// New creates the collectors on a private registry that also carries the
// Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_received_total",
			Help:      "Updates decoded from the transport, by kind.",
		}, []string{"kind"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_dropped_total",
			Help:      "Updates not dispatched, by reason.",
		}, []string{"reason"}),
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_dispatched_total",
			Help:      "Updates handed to a builder, by builder and collision outcome.",
		}, []string{"builder", "mode"}),
		sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Live sessions per builder.",
		}, []string{"builder"}),
		lifecycle: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events, by kind.",
		}, []string{"event"}),
		panics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_panics_total",
			Help:      "Recovered panics in routes and scheduled actions.",
		}),
		fetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_errors_total",
			Help:      "Failed update fetches.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Time spent processing a batch including housekeeping.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		scheduled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "schedule_pending",
			Help:      "Events waiting in the schedule.",
		}),
		scheduledFired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schedule_fired_total",
			Help:      "Scheduled events executed.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.updates, m.dropped, m.dispatched, m.sessions, m.lifecycle,
		m.panics, m.fetchErrors, m.tickDuration, m.scheduled, m.scheduledFired,
	)
	return m
}

// Registry returns the registry backing the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Received counts a decoded update.
func (m *Metrics) Received(kind string) {
	if m == nil {
		return
	}
	m.updates.WithLabelValues(kind).Inc()
}

// Dropped counts an update that was not dispatched.
func (m *Metrics) Dropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

// Dispatched counts an update handed to builder with the given outcome.
func (m *Metrics) Dispatched(builder, mode string) {
	if m == nil {
		return
	}
	m.dispatched.WithLabelValues(builder, mode).Inc()
}

// SetSessions records the live session count of builder.
func (m *Metrics) SetSessions(builder string, n int) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(builder).Set(float64(n))
}

// Lifecycle counts a session lifecycle event.
func (m *Metrics) Lifecycle(event string) {
	if m == nil {
		return
	}
	m.lifecycle.WithLabelValues(event).Inc()
}

// Panic counts a recovered panic.
func (m *Metrics) Panic() {
	if m == nil {
		return
	}
	m.panics.Inc()
}

// FetchError counts a failed fetch.
func (m *Metrics) FetchError() {
	if m == nil {
		return
	}
	m.fetchErrors.Inc()
}

// ObserveTick records the duration of one tick.
func (m *Metrics) ObserveTick(d time.Duration) {
	if m == nil {
		return
	}
	m.tickDuration.Observe(d.Seconds())
}

// ObserveSchedule records the pending queue length and fired events.
func (m *Metrics) ObserveSchedule(pending, fired int) {
	if m == nil {
		return
	}
	m.scheduled.Set(float64(pending))
	m.scheduledFired.Add(float64(fired))
}
