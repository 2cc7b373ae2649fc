// Package metrics exposes Prometheus counters for the library API and sweeper.
//
// A nil *Metrics is valid and records nothing, so tests and tools can skip
// wiring a registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	BlobOperationsTotal *prometheus.CounterVec
	LifecycleOpsTotal   *prometheus.CounterVec
	OrphansTotal        *prometheus.CounterVec
	RateLimitedTotal    prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates the collectors and registers them on registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "library_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "library_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		BlobOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "library_blob_operations_total",
				Help: "Blob store puts and deletes by result",
			},
			[]string{"op", "result"},
		),
		LifecycleOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "library_lifecycle_operations_total",
				Help: "Create, update and delete operations by entity and outcome",
			},
			[]string{"entity", "op", "result"},
		),
		OrphansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "library_orphan_blobs_total",
				Help: "Blobs whose deletion failed, by stage",
			},
			[]string{"stage"},
		),
		RateLimitedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "library_rate_limited_total",
				Help: "Requests rejected by the rate limiter",
			},
		),
		registry: registry,
	}
	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.BlobOperationsTotal,
		m.LifecycleOpsTotal,
		m.OrphansTotal,
		m.RateLimitedTotal,
	)
	return m
}

func (m *Metrics) ObserveBlob(op, result string) {
	if m == nil {
		return
	}
	m.BlobOperationsTotal.WithLabelValues(op, result).Inc()
}

func (m *Metrics) ObserveLifecycle(entity, op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.LifecycleOpsTotal.WithLabelValues(entity, op, result).Inc()
}

// ObserveOrphan counts orphaned blobs by stage. The API reports "recorded",
// "enqueued" and "enqueue_failed"; the sweeper reports "retry", "swept",
// "dropped" and "abandoned".
func (m *Metrics) ObserveOrphan(stage string) {
	if m == nil {
		return
	}
	m.OrphansTotal.WithLabelValues(stage).Inc()
}

func (m *Metrics) ObserveRateLimited() {
	if m == nil {
		return
	}
	m.RateLimitedTotal.Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Middleware counts requests per route pattern. It must wrap the ServeMux
// directly: the mux records the matched pattern on the *http.Request it was
// handed, which is read back after dispatch.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)
		status := sw.status
		if status == 0 {
			status = http.StatusOK
		}
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
