package http

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"conti/internal/core"
)

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		xff    string
		xri    string
		want   string
	}{
		{"direct", "203.0.113.7:5555", "", "", "203.0.113.7"},
		{"untrusted peer ignores forwarding", "203.0.113.7:5555", "198.51.100.1", "", "203.0.113.7"},
		{"trusted proxy first hop", "10.0.0.2:80", "198.51.100.1, 10.0.0.3", "", "198.51.100.1"},
		{"trusted proxy real ip", "127.0.0.1:80", "", "198.51.100.9", "198.51.100.9"},
		{"trusted proxy garbage", "192.168.1.1:80", "not-an-ip", "", "192.168.1.1"},
		{"no port", "203.0.113.8", "", "", "203.0.113.8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				r.Header.Set("X-Real-IP", tt.xri)
			}
			if got := extractClientIP(r); got != tt.want {
				t.Fatalf("extractClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDetectSuspiciousRequest(t *testing.T) {
	tests := []struct {
		name   string
		method string
		target string
		agent  string
		want   bool
	}{
		{"plain api call", http.MethodGet, "/api/period", "conti-cli/1.0", false},
		{"curl is fine", http.MethodGet, "/api/transfers", "curl/8.4.0", false},
		{"path traversal", http.MethodGet, "/api/../../etc/passwd", "", true},
		{"env probe", http.MethodGet, "/.env", "", true},
		{"query script", http.MethodGet, "/api/history?q=<script>", "", true},
		{"scanner agent", http.MethodGet, "/", "sqlmap/1.7", true},
		{"trace method", "TRACE", "/", "", true},
		{"long url", http.MethodGet, "/api/history?x=" + strings.Repeat("a", 2100), "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, "/", nil)
			r.URL.Path, r.URL.RawQuery, _ = strings.Cut(tt.target, "?")
			r.Header.Set("User-Agent", tt.agent)
			m := &securityMetrics{}
			if got := detectSuspiciousRequest(r, m); got != tt.want {
				t.Fatalf("detectSuspiciousRequest = %v, want %v", got, tt.want)
			}
			if _, n := m.snapshot(); (n == 1) != tt.want {
				t.Fatalf("suspicious counter = %d", n)
			}
		})
	}
}

func TestRateLimiterWindow(t *testing.T) {
	rl := newRateLimiter(2)
	defer rl.stop()
	now := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if !rl.allow("1.2.3.4", nil) {
			t.Fatalf("request %d rejected", i)
		}
	}
	if rl.allow("1.2.3.4", nil) {
		t.Fatal("third request in window allowed")
	}
	if !rl.allow("5.6.7.8", nil) {
		t.Fatal("other client rejected")
	}

	now = now.Add(time.Minute)
	if !rl.allow("1.2.3.4", nil) {
		t.Fatal("request in new window rejected")
	}

	now = now.Add(rateLimitStaleAfter + time.Second)
	if removed := rl.cleanupStaleEntries(); removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
}

func TestParseAmounts(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		nonNeg   bool
		want     int64
		wantFail bool
	}{
		{"dot", "12.34", false, 1234, false},
		{"comma", "12,34", false, 1234, false},
		{"whole", "40", false, 4000, false},
		{"zero rejected", "0", false, 0, true},
		{"negative", "-3", false, 0, true},
		{"garbage", "abc", false, 0, true},
		{"zero rent", "0.00", true, 0, false},
		{"empty rent", "", true, 0, false},
		{"negative rent", "-1", true, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parse := parseAmount
			if tt.nonNeg {
				parse = parseNonNegativeAmount
			}
			got, err := parse("amount", tt.in)
			if tt.wantFail {
				if !errors.Is(err, core.ErrValidation) {
					t.Fatalf("err = %v, want validation error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Cents != tt.want {
				t.Fatalf("cents = %d, want %d", got.Cents, tt.want)
			}
		})
	}
}
