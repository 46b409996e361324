// Package metrics holds the Prometheus collectors for the ledger services.
// Every method is safe on a nil *Metrics so callers can run without them.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "conti"

type Metrics struct {
	registry *prometheus.Registry

	chargesMaterialized prometheus.Counter
	materializeFailures prometheus.Counter
	materializeSkipped  *prometheus.CounterVec
	monthsClosed        *prometheus.CounterVec
	closeDuration       prometheus.Histogram
	regularizations     prometheus.Counter
	eventsPublishFailed *prometheus.CounterVec
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry, along with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		chargesMaterialized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "charges_materialized_total",
			Help:      "Fixed charge instances created from recurring templates.",
		}),
		materializeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "materialize_failures_total",
			Help:      "Recurring templates that failed to materialize.",
		}),
		materializeSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "materialize_skipped_total",
			Help:      "Recurring templates skipped by the scheduler, by reason.",
		}, []string{"reason"}),
		monthsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "months_closed_total",
			Help:      "Month close attempts, by result.",
		}, []string{"result"}),
		closeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "close_duration_seconds",
			Help:      "Time spent closing a month.",
			Buckets:   prometheus.DefBuckets,
		}),
		regularizations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "regularizations_written_total",
			Help:      "Regularization charges written at month close.",
		}),
		eventsPublishFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_failures_total",
			Help:      "Ledger events that could not be published, by type.",
		}, []string{"type"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests, by route and status code.",
		}, []string{"route", "code"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency, by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.chargesMaterialized,
		m.materializeFailures,
		m.materializeSkipped,
		m.monthsClosed,
		m.closeDuration,
		m.regularizations,
		m.eventsPublishFailed,
		m.httpRequests,
		m.httpRequestDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ChargeMaterialized() {
	if m != nil {
		m.chargesMaterialized.Inc()
	}
}

func (m *Metrics) MaterializeFailed() {
	if m != nil {
		m.materializeFailures.Inc()
	}
}

// MaterializeSkipped counts a template skipped for reason
// (in_flight, exists, not_due).
func (m *Metrics) MaterializeSkipped(reason string) {
	if m != nil {
		m.materializeSkipped.WithLabelValues(reason).Inc()
	}
}

// MonthClosed records one close attempt; result is ok, already_finalized
// or error.
func (m *Metrics) MonthClosed(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.monthsClosed.WithLabelValues(result).Inc()
	m.closeDuration.Observe(took.Seconds())
}

func (m *Metrics) RegularizationWritten() {
	if m != nil {
		m.regularizations.Inc()
	}
}

func (m *Metrics) EventPublishFailed(eventType string) {
	if m != nil {
		m.eventsPublishFailed.WithLabelValues(eventType).Inc()
	}
}

func (m *Metrics) ObserveHTTP(route string, code int, took time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.httpRequestDuration.WithLabelValues(route).Observe(took.Seconds())
}
