package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveTransition("collect", nil)
	m.ObserveDecision(true)
	m.AuditFailed()
	m.ObserveAllocation("mrn", nil)
	m.SetLowStock(3)
	m.NotificationFailed()
}

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveTransition("accession", nil)
	m.ObserveTransition("accession", errors.New("conflict"))
	m.ObserveTransition("accession", nil)
	m.ObserveDecision(false)
	m.AuditFailed()

	if got := testutil.ToFloat64(m.SampleTransitions.WithLabelValues("accession", "ok")); got != 2 {
		t.Errorf("expected 2 successful accessions, got %v", got)
	}
	if got := testutil.ToFloat64(m.SampleTransitions.WithLabelValues("accession", "error")); got != 1 {
		t.Errorf("expected 1 failed accession, got %v", got)
	}
	if got := testutil.ToFloat64(m.AuthzDecisions.WithLabelValues("deny")); got != 1 {
		t.Errorf("expected 1 deny, got %v", got)
	}
	if got := testutil.ToFloat64(m.AuditWriteFailures); got != 1 {
		t.Errorf("expected 1 audit failure, got %v", got)
	}
}

func TestHandler_ExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.SetLowStock(4)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := Handler(reg)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "lims_low_stock_items 4") {
		t.Errorf("expected low stock gauge in output, got:\n%s", rec.Body.String())
	}
}
