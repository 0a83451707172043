package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "promdoc"

// Metrics holds the server's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	activeConnections   prometheus.Gauge
	acceptErrorsTotal   prometheus.Counter
}

var (
	defaultMetrics *Metrics
	initOnce       sync.Once
)

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests by route, method and status",
			},
			[]string{"route", "method", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		activeConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_connections",
				Help:      "Number of open client connections",
			},
		),
		acceptErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "accept_errors_total",
				Help:      "Total number of failed connection accepts",
			},
		),
	}

	reg.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.activeConnections,
		m.acceptErrorsTotal,
	)
	return m
}

// InitMetrics registers the process-wide collectors with the default
// registry once and returns them
func InitMetrics() *Metrics {
	initOnce.Do(func() {
		defaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// MetricsHandler returns an HTTP handler exposing g
func MetricsHandler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(route, normalizeMethod(method), strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// ConnOpened increments the active connections gauge
func (m *Metrics) ConnOpened() {
	if m == nil {
		return
	}
	m.activeConnections.Inc()
}

// ConnClosed decrements the active connections gauge
func (m *Metrics) ConnClosed() {
	if m == nil {
		return
	}
	m.activeConnections.Dec()
}

// AcceptError counts a failed Accept
func (m *Metrics) AcceptError() {
	if m == nil {
		return
	}
	m.acceptErrorsTotal.Inc()
}

// HTTPRequests exposes the request counter for inspection
func (m *Metrics) HTTPRequests() *prometheus.CounterVec {
	return m.httpRequestsTotal
}

// ActiveConnections exposes the open connections gauge for inspection
func (m *Metrics) ActiveConnections() prometheus.Gauge {
	return m.activeConnections
}

// normalizeMethod keeps the method label bounded
func normalizeMethod(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodOptions,
		http.MethodConnect, http.MethodTrace:
		return method
	default:
		return "OTHER"
	}
}
