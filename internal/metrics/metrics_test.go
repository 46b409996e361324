package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.ChargeMaterialized()
	m.MaterializeFailed()
	m.MaterializeSkipped("exists")
	m.MonthClosed("ok", time.Second)
	m.RegularizationWritten()
	m.EventPublishFailed("month.finalized")
	m.ObserveHTTP("/api/period", 200, time.Millisecond)
	if m.Registry() != nil {
		t.Fatal("nil metrics should have no registry")
	}
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.ChargeMaterialized()
	m.MonthClosed("ok", 10*time.Millisecond)
	m.ObserveHTTP("GET /api/period", 200, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"conti_charges_materialized_total 1",
		`conti_months_closed_total{result="ok"} 1`,
		`conti_http_requests_total{code="200",route="GET /api/period"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
