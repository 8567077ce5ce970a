package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the per-service HTTP and store metrics on their own registry
type Metrics struct {
	registry *prometheus.Registry

	// HTTP Request Metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Store Metrics
	storeOpDuration    *prometheus.HistogramVec
	storeOpErrorsTotal *prometheus.CounterVec

	// WebSocket Metrics
	websocketConnections   prometheus.Gauge
	websocketMessagesTotal *prometheus.CounterVec

	// Rate Limiting Metrics
	rateLimitBlockedTotal *prometheus.CounterVec
}

// NewMetrics creates and registers the service metrics on a private
// registry. Go runtime, process and the package-level messaging metrics
// stay on the default registry; Gatherers exposes both.
func NewMetrics(serviceName string) *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	labels := prometheus.Labels{"service": serviceName}

	return &Metrics{
		registry: reg,

		httpRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: labels,
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "HTTP request latency in seconds",
				ConstLabels: labels,
				Buckets:     prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		httpRequestsInFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Name:        "http_requests_in_flight",
				Help:        "Number of HTTP requests currently being processed",
				ConstLabels: labels,
			},
		),

		storeOpDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "store_operation_duration_seconds",
				Help:        "Message and conversation store latency in seconds",
				ConstLabels: labels,
				Buckets:     prometheus.DefBuckets,
			},
			[]string{"store", "operation"},
		),
		storeOpErrorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "store_operation_errors_total",
				Help:        "Total number of store operation errors",
				ConstLabels: labels,
			},
			[]string{"store", "operation"},
		),

		websocketConnections: f.NewGauge(
			prometheus.GaugeOpts{
				Name:        "websocket_connections",
				Help:        "Number of active WebSocket connections",
				ConstLabels: labels,
			},
		),
		websocketMessagesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "websocket_messages_total",
				Help:        "Total number of WebSocket messages",
				ConstLabels: labels,
			},
			[]string{"type", "direction"},
		),

		rateLimitBlockedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "rate_limit_blocked_total",
				Help:        "Total number of requests rejected by rate limiting",
				ConstLabels: labels,
			},
			[]string{"endpoint"},
		),
	}
}

// GetRegistry returns the registry backing this instance
func (m *Metrics) GetRegistry() *prometheus.Registry {
	return m.registry
}

// Gatherers returns the service registry together with the default registry
func (m *Metrics) Gatherers() prometheus.Gatherers {
	return prometheus.Gatherers{m.registry, prometheus.DefaultGatherer}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// IncrementHTTPRequestsInFlight increments in-flight requests
func (m *Metrics) IncrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Inc()
}

// DecrementHTTPRequestsInFlight decrements in-flight requests
func (m *Metrics) DecrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Dec()
}

// RecordStoreOp records a store round-trip
func (m *Metrics) RecordStoreOp(store, operation string, duration time.Duration, err error) {
	m.storeOpDuration.WithLabelValues(store, operation).Observe(duration.Seconds())
	if err != nil {
		m.storeOpErrorsTotal.WithLabelValues(store, operation).Inc()
	}
}

// AddWebSocketConnections adjusts the open socket gauge by delta
func (m *Metrics) AddWebSocketConnections(delta int) {
	m.websocketConnections.Add(float64(delta))
}

// RecordWebSocketMessage records a WebSocket frame
func (m *Metrics) RecordWebSocketMessage(msgType, direction string) {
	m.websocketMessagesTotal.WithLabelValues(msgType, direction).Inc()
}

// RecordRateLimitBlocked records a rejected request
func (m *Metrics) RecordRateLimitBlocked(endpoint string) {
	m.rateLimitBlockedTotal.WithLabelValues(endpoint).Inc()
}
