package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"conti/internal/cache"
	"conti/internal/clock"
	"conti/internal/core"
	"conti/internal/metrics"
	"conti/internal/services"
	"conti/internal/store/memory"
)

const testHousehold = "home"

func newTestServer(t *testing.T, opts Options) *Server {
	t.Helper()
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2026, time.October, 15, 12, 0, 0, 0, time.UTC))
	s := memory.New()
	sched := services.NewScheduler(s, nil, opts.Metrics, clk, services.DefaultSchedulerConfig())
	months := services.NewMonthManager(s, sched, nil, opts.Metrics, clk)
	history := cache.NewHistory(8, time.Hour, clk)
	svc := services.NewLedgerService(s, months, sched, history, clk, testHousehold)
	if err := svc.SeedMembers(ctx, []core.Member{{ID: "a", Name: "Alice"}, {ID: "b", Name: "Bruno"}}); err != nil {
		t.Fatalf("seed members: %v", err)
	}
	srv := NewServer(":0", svc, opts)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(requesterHeader, "a")
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func mustStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("status=%d want %d body=%s", rr.Code, want, rr.Body.String())
	}
}

func TestHealthAndReady(t *testing.T) {
	srv := newTestServer(t, Options{})
	mustStatus(t, do(t, srv, http.MethodGet, "/healthz", ""), http.StatusOK)
	mustStatus(t, do(t, srv, http.MethodGet, "/readyz", ""), http.StatusOK)

	failing := newTestServer(t, Options{Ready: func(context.Context) error { return errors.New("db down") }})
	mustStatus(t, do(t, failing, http.MethodGet, "/readyz", ""), http.StatusServiceUnavailable)
}

func TestMonthLifecycle(t *testing.T) {
	srv := newTestServer(t, Options{Metrics: metrics.New()})

	mustStatus(t, do(t, srv, http.MethodPut, "/api/rent",
		`{"total":"1000.00","payer":"a","housing_allowance":{"a":"100","b":"50"}}`), http.StatusOK)
	mustStatus(t, do(t, srv, http.MethodPost, "/api/templates",
		`{"description":"Internet","amount":"40","payer":"a","trigger_day":1}`), http.StatusCreated)

	rr := do(t, srv, http.MethodPost, "/api/materialize", "")
	mustStatus(t, rr, http.StatusOK)
	if got := decode[materializeJSON](t, rr); len(got.Created) != 1 || got.Created[0].Kind != "fixed" {
		t.Fatalf("materialize = %+v", got)
	}

	rr = do(t, srv, http.MethodPost, "/api/charges",
		`{"description":"Groceries","amount":"100,00","payer":"b","beneficiaries":["a","b"],"occurred_at":"2026-10-10"}`)
	mustStatus(t, rr, http.StatusCreated)
	if c := decode[chargeJSON](t, rr); c.Kind != "variable" || c.Amount != "100.00" || c.MonthKey != "2026-10" {
		t.Fatalf("charge = %+v", c)
	}

	rr = do(t, srv, http.MethodGet, "/api/transfers", "")
	mustStatus(t, rr, http.StatusOK)
	transfers := decode[[]debtJSON](t, rr)
	if len(transfers) != 1 || transfers[0] != (debtJSON{Debtor: "b", Creditor: "a", Amount: "420.00"}) {
		t.Fatalf("transfers = %+v", transfers)
	}

	rr = do(t, srv, http.MethodGet, "/api/balances/b", "")
	mustStatus(t, rr, http.StatusOK)
	if b := decode[balanceJSON](t, rr); b.Total != "420.00" || b.Status != "owes" {
		t.Fatalf("balance = %+v", b)
	}

	rr = do(t, srv, http.MethodPost, "/api/close", "")
	mustStatus(t, rr, http.StatusOK)
	next := decode[periodJSON](t, rr)
	if next.Account.Month != "2026-11" || next.Account.Status != string(core.Open) {
		t.Fatalf("next period = %+v", next.Account)
	}

	rr = do(t, srv, http.MethodGet, "/api/history/2026-10", "")
	mustStatus(t, rr, http.StatusOK)
	closed := decode[accountJSON](t, rr)
	if closed.Status != string(core.Finalized) || len(closed.Settlement) != 1 || closed.Settlement[0].Amount != "420.00" {
		t.Fatalf("closed account = %+v", closed)
	}
	if len(closed.FixedSnapshot) != 1 || closed.FixedSnapshot[0].Description != "Internet" {
		t.Fatalf("snapshot = %+v", closed.FixedSnapshot)
	}

	mustStatus(t, do(t, srv, http.MethodPost, "/api/months/2026-10/close", ""), http.StatusConflict)

	rr = do(t, srv, http.MethodGet, "/api/history", "")
	mustStatus(t, rr, http.StatusOK)
	if h := decode[[]accountJSON](t, rr); len(h) != 1 || h[0].Month != "2026-10" {
		t.Fatalf("history = %+v", h)
	}
}

func TestErrorMapping(t *testing.T) {
	srv := newTestServer(t, Options{})

	tests := []struct {
		name      string
		method    string
		path      string
		body      string
		wantCode  int
		wantField string
	}{
		{"negative amount", http.MethodPost, "/api/charges", `{"description":"x","amount":"-5","payer":"a","beneficiaries":["a"]}`, http.StatusUnprocessableEntity, "amount"},
		{"unknown field", http.MethodPost, "/api/charges", `{"description":"x","amount":"5","payer":"a","beneficiaries":["a"],"tip":1}`, http.StatusUnprocessableEntity, "body"},
		{"unknown member", http.MethodPost, "/api/charges", `{"description":"x","amount":"5","payer":"z","beneficiaries":["a"]}`, http.StatusUnprocessableEntity, ""},
		{"empty beneficiaries", http.MethodPost, "/api/charges", `{"description":"x","amount":"5","payer":"a","beneficiaries":[]}`, http.StatusUnprocessableEntity, "beneficiaries"},
		{"bad date", http.MethodPost, "/api/charges", `{"description":"x","amount":"5","payer":"a","beneficiaries":["a"],"occurred_at":"10/10/2026"}`, http.StatusUnprocessableEntity, "occurred_at"},
		{"bad month", http.MethodGet, "/api/history/2026-13", "", http.StatusUnprocessableEntity, "month_key"},
		{"open month is not history", http.MethodGet, "/api/history/2026-10", "", http.StatusNotFound, ""},
		{"missing charge", http.MethodDelete, "/api/charges/nope", "", http.StatusNotFound, ""},
		{"empty edit", http.MethodPatch, "/api/charges/nope", `{}`, http.StatusUnprocessableEntity, "body"},
		{"unknown balance member", http.MethodGet, "/api/balances/z", "", http.StatusUnprocessableEntity, "member_id"},
		{"bad trigger day", http.MethodPost, "/api/templates", `{"description":"Gym","amount":"30","payer":"a","trigger_day":32}`, http.StatusUnprocessableEntity, "trigger_day"},
		{"self adjustment", http.MethodPost, "/api/close", `{"adjustments":[{"debtor":"a","creditor":"a","amount":"5"}]}`, http.StatusUnprocessableEntity, "adjustment"},
		{"wrong method", http.MethodPut, "/api/period", "", http.StatusMethodNotAllowed, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, tt.method, tt.path, tt.body)
			mustStatus(t, rr, tt.wantCode)
			if tt.wantField == "" {
				return
			}
			if got := decode[errorJSON](t, rr); got.Field != tt.wantField {
				t.Fatalf("field = %q, want %q (%s)", got.Field, tt.wantField, got.Error)
			}
		})
	}
}

func TestEditCharges(t *testing.T) {
	srv := newTestServer(t, Options{})

	mustStatus(t, do(t, srv, http.MethodPost, "/api/templates",
		`{"description":"Internet","amount":"40","payer":"a","trigger_day":1}`), http.StatusCreated)
	rr := do(t, srv, http.MethodPost, "/api/materialize", "")
	mustStatus(t, rr, http.StatusOK)
	fixed := decode[materializeJSON](t, rr).Created[0]

	rr = do(t, srv, http.MethodPatch, "/api/charges/"+fixed.ID, `{"amount":"45.50","payer":"b","day":3}`)
	mustStatus(t, rr, http.StatusOK)
	edited := decode[chargeJSON](t, rr)
	if edited.Amount != "45.50" || edited.Payer != "b" || edited.OccurredAt != "2026-10-03" {
		t.Fatalf("edited = %+v", edited)
	}

	rr = do(t, srv, http.MethodGet, "/api/templates", "")
	mustStatus(t, rr, http.StatusOK)
	if tpls := decode[[]templateJSON](t, rr); len(tpls) != 1 || tpls[0].Amount != "45.50" || tpls[0].Payer != "b" || tpls[0].TriggerDay != 3 {
		t.Fatalf("templates = %+v", tpls)
	}

	rr = do(t, srv, http.MethodPost, "/api/charges", `{"description":"Pizza","amount":"20","payer":"a","beneficiaries":["a","b"]}`)
	mustStatus(t, rr, http.StatusCreated)
	variable := decode[chargeJSON](t, rr)

	rr = do(t, srv, http.MethodPatch, "/api/charges/"+variable.ID, `{"amount":"25"}`)
	mustStatus(t, rr, http.StatusUnprocessableEntity)
	if e := decode[errorJSON](t, rr); e.Field != "kind" {
		t.Fatalf("error = %+v", e)
	}

	mustStatus(t, do(t, srv, http.MethodDelete, "/api/charges/"+variable.ID, ""), http.StatusNoContent)
	mustStatus(t, do(t, srv, http.MethodDelete, "/api/templates/"+edited.TemplateID, ""), http.StatusNoContent)
}

func TestRateLimit(t *testing.T) {
	srv := newTestServer(t, Options{RateLimitRPM: 2})
	mustStatus(t, do(t, srv, http.MethodGet, "/healthz", ""), http.StatusOK)
	mustStatus(t, do(t, srv, http.MethodGet, "/healthz", ""), http.StatusOK)
	rr := do(t, srv, http.MethodGet, "/healthz", "")
	mustStatus(t, rr, http.StatusTooManyRequests)
	if rr.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After")
	}
	if hits, _ := srv.secMetrics.snapshot(); hits != 1 {
		t.Fatalf("rate limit hits = %d", hits)
	}
}

func TestResponseHeaders(t *testing.T) {
	srv := newTestServer(t, Options{})

	req := httptest.NewRequest(http.MethodGet, "/api/period", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	mustStatus(t, rr, http.StatusOK)

	if got := rr.Header().Get(requestIDHeader); got != "abc-123" {
		t.Fatalf("request id = %q", got)
	}
	for _, h := range []string{"X-Content-Type-Options", "X-Frame-Options", "Content-Security-Policy"} {
		if rr.Header().Get(h) == "" {
			t.Errorf("missing %s", h)
		}
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("content type = %q", ct)
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "bad id with spaces")
	rr = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	if got := rr.Header().Get(requestIDHeader); !strings.HasPrefix(got, "req_") {
		t.Fatalf("generated request id = %q", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, Options{Metrics: metrics.New()})
	mustStatus(t, do(t, srv, http.MethodGet, "/api/period", ""), http.StatusOK)

	rr := do(t, srv, http.MethodGet, "/metrics", "")
	mustStatus(t, rr, http.StatusOK)
	if !strings.Contains(rr.Body.String(), `conti_http_requests_total{code="200",route="GET /api/period"} 1`) {
		t.Fatalf("metrics output missing request counter:\n%s", rr.Body.String())
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	srv := newTestServer(t, Options{})
	for i := 0; i < 2; i++ {
		if err := srv.Shutdown(context.Background()); err != nil {
			t.Fatalf("shutdown %d: %v", i, err)
		}
	}
}
