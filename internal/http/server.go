// Package http serves the household ledger as a JSON API.
package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"regexp"
	"sync"
	"time"

	"conti/internal/log"
	"conti/internal/metrics"
	"conti/internal/services"
)

// requesterHeader names the member acting on the request. It only decides
// who pays the rent of a month created by that request.
const requesterHeader = "X-Member-ID"

const requestIDHeader = "X-Request-ID"

var validRequestID = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

// Options tunes the server. The zero value is usable.
type Options struct {
	Metrics      *metrics.Metrics
	Logger       *log.Logger
	RateLimitRPM int
	// Ready backs /readyz. A nil Ready always reports ready.
	Ready func(context.Context) error
}

// Server is an http.Server exposing a LedgerService.
type Server struct {
	http.Server
	svc          *services.LedgerService
	metrics      *metrics.Metrics
	logger       *log.Logger
	ready        func(context.Context) error
	rateLimiter  *rateLimiter
	secMetrics   *securityMetrics
	shutdownOnce sync.Once
}

// NewServer wires the routes and returns a ready-to-run server.
func NewServer(addr string, svc *services.LedgerService, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.FromContext(context.Background()).WithComponent(log.ComponentHTTP)
	}
	mux := http.NewServeMux()
	s := &Server{
		Server: http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       2 * time.Minute,
		},
		svc:         svc,
		metrics:     opts.Metrics,
		logger:      logger,
		ready:       opts.Ready,
		rateLimiter: newRateLimiter(opts.RateLimitRPM),
		secMetrics:  &securityMetrics{},
	}

	s.route(mux, "GET /healthz", handleHealth)
	s.route(mux, "GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", s.metrics.Handler())

	s.route(mux, "GET /api/members", s.handleMembers)
	s.route(mux, "GET /api/period", s.handlePeriod)
	s.route(mux, "PUT /api/rent", s.handleUpdateRent)
	s.route(mux, "POST /api/charges", s.handleAddCharge)
	s.route(mux, "PATCH /api/charges/{id}", s.handleEditCharge)
	s.route(mux, "DELETE /api/charges/{id}", s.handleDeleteCharge)
	s.route(mux, "POST /api/close", s.handleClose)
	s.route(mux, "POST /api/months/{month}/close", s.handleCloseMonth)
	s.route(mux, "GET /api/balances/{member}", s.handleBalance)
	s.route(mux, "GET /api/transfers", s.handleTransfers)
	s.route(mux, "GET /api/history", s.handleHistory)
	s.route(mux, "GET /api/history/{month}", s.handleHistoricalAccount)
	s.route(mux, "GET /api/templates", s.handleListTemplates)
	s.route(mux, "POST /api/templates", s.handleCreateTemplate)
	s.route(mux, "PATCH /api/templates/{id}", s.handleUpdateTemplate)
	s.route(mux, "DELETE /api/templates/{id}", s.handleDeleteTemplate)
	s.route(mux, "POST /api/materialize", s.handleMaterialize)

	return s
}

func (s *Server) route(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.Handle(pattern, s.instrument(pattern, h))
}

// instrument wraps h with request ids, security headers, rate limiting,
// request logging and metrics.
func (s *Server) instrument(route string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get(requestIDHeader)
		if !validRequestID.MatchString(requestID) {
			requestID = generateRequestID()
		}
		clientIP := extractClientIP(r)
		logger := s.logger.With(log.FieldRequestID, requestID, log.FieldClientIP, clientIP)
		ctx := log.NewContext(r.Context(), logger)
		r = r.WithContext(ctx)

		w.Header().Set(requestIDHeader, requestID)
		setSecurityHeaders(w, r)

		if detectSuspiciousRequest(r, s.secMetrics) {
			logger.WarnContext(ctx, "Suspicious request",
				log.FieldMethod, r.Method,
				log.FieldPath, r.URL.Path,
				log.FieldUserAgent, r.UserAgent())
		}

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		if s.rateLimiter.allow(clientIP, s.secMetrics) {
			next(rw, r)
		} else {
			logger.WarnContext(ctx, "Rate limit exceeded", log.FieldMethod, r.Method, log.FieldPath, r.URL.Path)
			rw.Header().Set("Retry-After", "60")
			writeJSON(rw, http.StatusTooManyRequests, errorJSON{Error: "rate limit exceeded"})
		}

		took := time.Since(start)
		log.LogHTTPEnd(ctx, r, route, rw.statusCode, took.Milliseconds())
		s.metrics.ObserveHTTP(route, rw.statusCode, took)
	})
}

// Shutdown stops the listener and the rate limiter. It is safe to call more
// than once.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.stop()
		hits, suspicious := s.secMetrics.snapshot()
		s.logger.InfoContext(ctx, "HTTP server shutting down",
			"rate_limit_hits", hits,
			"suspicious_requests", suspicious)
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// responseWriter captures the status code written by a handler.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	wrote      bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wrote {
		rw.statusCode = code
		rw.wrote = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wrote = true
	return rw.ResponseWriter.Write(b)
}

func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			log.FromContext(ctx).WarnContext(ctx, "Readiness check failed", log.FieldError, err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
