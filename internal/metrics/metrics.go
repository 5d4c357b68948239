package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors the engine and sequence generator report to.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry    *prometheus.Registry
	transitions *prometheus.CounterVec
	allocations *prometheus.CounterVec
	render      *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parcelflow_case_transitions_total",
				Help: "Workflow actions attempted, by case type, action and outcome.",
			},
			[]string{"case_type", "action", "outcome"},
		),
		allocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parcelflow_sequence_allocations_total",
				Help: "Numbers allocated per prefix.",
			},
			[]string{"prefix"},
		),
		render: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "parcelflow_document_render_seconds",
				Help:    "Time spent rendering issued documents.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"case_type"},
		),
	}
	reg.MustRegister(
		m.transitions,
		m.allocations,
		m.render,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveTransition(caseType, action, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(caseType, action, outcome).Inc()
}

func (m *Metrics) ObserveAllocation(prefix string) {
	if m == nil {
		return
	}
	m.allocations.WithLabelValues(prefix).Inc()
}

func (m *Metrics) ObserveRender(caseType string, d time.Duration) {
	if m == nil {
		return
	}
	m.render.WithLabelValues(caseType).Observe(d.Seconds())
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
