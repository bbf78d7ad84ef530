// Package monitoring - metrics.go exposes decision counters to Prometheus.
//
// DESIGN: Each Metrics owns its own registry so tests and multiple engines in
// one process never collide on registration. A nil *Metrics is a valid no-op.
//
//   - decisions:  authorize outcomes by denial kind
//   - records:    attempts written to the ledger by status, with cost
//   - barrier:    human approval outcomes and wait time
//   - sessions:   sessions by status (refreshed by the serve loop)
package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "apibouncer"

// Metrics holds the Prometheus collectors for one process.
type Metrics struct {
	registry *prometheus.Registry

	DecisionsTotal   *prometheus.CounterVec
	RecordsTotal     *prometheus.CounterVec
	CostTotal        *prometheus.CounterVec
	BarrierDecisions *prometheus.CounterVec
	BarrierWait      prometheus.Histogram
	Sessions         *prometheus.GaugeVec
}

// NewMetrics creates the collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		DecisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "decisions_total",
				Help:      "Authorization decisions by outcome and denial kind",
			},
			[]string{"outcome", "kind"},
		),
		RecordsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "records_total",
				Help:      "Attempts recorded by status",
			},
			[]string{"status"},
		),
		CostTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "cost_dollars_total",
				Help:      "Estimated cost of recorded attempts by status",
			},
			[]string{"status"},
		),
		BarrierDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "barrier_decisions_total",
				Help:      "Barrier ticket outcomes (approved, denied, timeout)",
			},
			[]string{"outcome"},
		),
		BarrierWait: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "barrier_wait_seconds",
				Help:      "Time a requester waited for a human decision",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		),
		Sessions: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "sessions",
				Help:      "Sessions by status",
			},
			[]string{"status"},
		),
	}
}

// ObserveDecision counts an authorize outcome. kind is empty when allowed.
func (m *Metrics) ObserveDecision(allowed bool, kind string) {
	if m == nil {
		return
	}
	outcome := "denied"
	if allowed {
		outcome = "allowed"
		kind = "none"
	}
	m.DecisionsTotal.WithLabelValues(outcome, kind).Inc()
}

// ObserveRecord counts a ledger append.
func (m *Metrics) ObserveRecord(status string, cost float64) {
	if m == nil {
		return
	}
	m.RecordsTotal.WithLabelValues(status).Inc()
	if cost > 0 {
		m.CostTotal.WithLabelValues(status).Add(cost)
	}
}

// ObserveBarrier counts a barrier outcome and the time spent waiting.
func (m *Metrics) ObserveBarrier(outcome string, waited time.Duration) {
	if m == nil {
		return
	}
	m.BarrierDecisions.WithLabelValues(outcome).Inc()
	m.BarrierWait.Observe(waited.Seconds())
}

// SetSessions replaces the sessions-by-status gauge.
func (m *Metrics) SetSessions(byStatus map[string]int) {
	if m == nil {
		return
	}
	m.Sessions.Reset()
	for status, n := range byStatus {
		m.Sessions.WithLabelValues(status).Set(float64(n))
	}
}

// Registry exposes the underlying registry (tests, extra collectors).
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
