// Package metrics holds the Prometheus collectors for the lab workflow.
// Every method is safe to call on a nil *Metrics so services can run without
// instrumentation in tests.
package metrics

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lims"

type Metrics struct {
	SampleTransitions   *prometheus.CounterVec
	AuthzDecisions      *prometheus.CounterVec
	AuditWriteFailures  prometheus.Counter
	SequenceAllocations *prometheus.CounterVec
	LowStockItems       prometheus.Gauge
	NotificationErrors  prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SampleTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sample_transitions_total",
			Help:      "Sample lifecycle transitions by transition and outcome.",
		}, []string{"transition", "outcome"}),
		AuthzDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authz_decisions_total",
			Help:      "Access policy decisions.",
		}, []string{"decision"}),
		AuditWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_write_failures_total",
			Help:      "Audit records that could not be persisted after a committed transition.",
		}),
		SequenceAllocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sequence_allocations_total",
			Help:      "Identifier allocations by purpose and outcome.",
		}, []string{"purpose", "outcome"}),
		LowStockItems: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "low_stock_items",
			Help:      "Inventory items at or below their minimum stock level at the last check.",
		}),
		NotificationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_failures_total",
			Help:      "Notifications that failed delivery.",
		}),
	}
	reg.MustRegister(
		m.SampleTransitions,
		m.AuthzDecisions,
		m.AuditWriteFailures,
		m.SequenceAllocations,
		m.LowStockItems,
		m.NotificationErrors,
	)
	return m
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) ObserveTransition(transition string, err error) {
	if m == nil {
		return
	}
	m.SampleTransitions.WithLabelValues(transition, outcome(err)).Inc()
}

func (m *Metrics) ObserveDecision(allowed bool) {
	if m == nil {
		return
	}
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	m.AuthzDecisions.WithLabelValues(decision).Inc()
}

func (m *Metrics) AuditFailed() {
	if m == nil {
		return
	}
	m.AuditWriteFailures.Inc()
}

func (m *Metrics) ObserveAllocation(purpose string, err error) {
	if m == nil {
		return
	}
	m.SequenceAllocations.WithLabelValues(purpose, outcome(err)).Inc()
}

func (m *Metrics) SetLowStock(n int) {
	if m == nil {
		return
	}
	m.LowStockItems.Set(float64(n))
}

func (m *Metrics) NotificationFailed() {
	if m == nil {
		return
	}
	m.NotificationErrors.Inc()
}

// Handler exposes the given gatherer in the Prometheus text format.
func Handler(g prometheus.Gatherer) echo.HandlerFunc {
	h := promhttp.HandlerFor(g, promhttp.HandlerOpts{})
	return func(c echo.Context) error {
		h.ServeHTTP(c.Response(), c.Request())
		return nil
	}
}
