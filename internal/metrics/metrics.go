// Package metrics exports guard decisions as Prometheus counters.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ppiankov/callguard/internal/model"
)

// Metrics counts decisions and violations. It implements guard.Observer.
type Metrics struct {
	registry   *prometheus.Registry
	decisions  *prometheus.CounterVec
	violations *prometheus.CounterVec
}

// New registers the callguard counters on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callguard_decisions_total",
				Help: "Total number of tool-call decisions",
			},
			[]string{"executed"},
		),
		violations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callguard_violations_total",
				Help: "Total number of violations by kind family",
			},
			[]string{"kind"},
		),
	}
	m.registry.MustRegister(m.decisions, m.violations)
	return m
}

// Observe counts one decision and its violations.
func (m *Metrics) Observe(res model.ExecutionResult) {
	m.decisions.WithLabelValues(strconv.FormatBool(res.Executed)).Inc()
	for _, v := range res.Violations {
		// args.missing:<name> is collapsed to keep label cardinality bounded.
		m.violations.WithLabelValues(v.Kind.Family()).Inc()
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
