// Package metrics provides Prometheus metrics for the strategy runner.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the runner. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	EnvelopesPublished  *prometheus.CounterVec
	ObserversConnected  prometheus.Gauge
	ObserverDisconnects *prometheus.CounterVec
	ProcessesActive     prometheus.Gauge
	Transitions         *prometheus.CounterVec
	Assemblies          *prometheus.CounterVec
	AssemblyDuration    prometheus.Histogram
	Submissions         *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		EnvelopesPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_envelopes_published_total",
				Help: "Envelopes published to the relay by message type.",
			},
			[]string{"type"},
		),
		ObserversConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "relay_observers_connected",
				Help: "Number of connected observers.",
			},
		),
		ObserverDisconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_observer_disconnects_total",
				Help: "Observer sessions ended, by reason.",
			},
			[]string{"reason"},
		),
		ProcessesActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "supervisor_processes_active",
				Help: "Number of tracked script processes.",
			},
		),
		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "supervisor_transitions_total",
				Help: "Process lifecycle operations by operation and result.",
			},
			[]string{"op", "result"},
		),
		Assemblies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "build_assemblies_total",
				Help: "Build tree assemblies by result.",
			},
			[]string{"result"},
		),
		AssemblyDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "build_assembly_duration_seconds",
				Help:    "Build tree assembly duration.",
				Buckets: prometheus.DefBuckets,
			},
		),
		Submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_submissions_total",
				Help: "Script submissions forwarded to the core, by result.",
			},
			[]string{"result"},
		),
		registry: reg,
	}

	reg.MustRegister(m.EnvelopesPublished)
	reg.MustRegister(m.ObserversConnected)
	reg.MustRegister(m.ObserverDisconnects)
	reg.MustRegister(m.ProcessesActive)
	reg.MustRegister(m.Transitions)
	reg.MustRegister(m.Assemblies)
	reg.MustRegister(m.AssemblyDuration)
	reg.MustRegister(m.Submissions)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordPublished counts one published envelope.
func (m *Metrics) RecordPublished(msgType string) {
	if m == nil {
		return
	}
	m.EnvelopesPublished.WithLabelValues(msgType).Inc()
}

// ObserverConnected increments the connected-observer gauge.
func (m *Metrics) ObserverConnected() {
	if m == nil {
		return
	}
	m.ObserversConnected.Inc()
}

// ObserverDisconnected decrements the gauge and counts the reason.
func (m *Metrics) ObserverDisconnected(reason string) {
	if m == nil {
		return
	}
	m.ObserversConnected.Dec()
	m.ObserverDisconnects.WithLabelValues(reason).Inc()
}

// SetProcessesActive sets the tracked-process count.
func (m *Metrics) SetProcessesActive(n int) {
	if m == nil {
		return
	}
	m.ProcessesActive.Set(float64(n))
}

// RecordTransition counts a supervisor operation.
func (m *Metrics) RecordTransition(op, result string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(op, result).Inc()
}

// RecordAssembly counts an assembly and observes its duration.
func (m *Metrics) RecordAssembly(result string, seconds float64) {
	if m == nil {
		return
	}
	m.Assemblies.WithLabelValues(result).Inc()
	m.AssemblyDuration.Observe(seconds)
}

// RecordSubmission counts a gateway submission.
func (m *Metrics) RecordSubmission(result string) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(result).Inc()
}
