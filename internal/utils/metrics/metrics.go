package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Payment metrics
	PaymentsInitiatedTotal *prometheus.CounterVec
	StatusTransitionsTotal *prometheus.CounterVec
	RefundsTotal           *prometheus.CounterVec

	// Provider metrics
	ProviderRequestDuration *prometheus.HistogramVec
	ProviderErrorsTotal     *prometheus.CounterVec
	TokenRefreshesTotal     *prometheus.CounterVec

	// Webhook metrics
	WebhookEventsTotal *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
}

// New creates a new Metrics instance registered on the default registry.
func New(namespace string) *Metrics {
	return NewWith(namespace, prometheus.DefaultRegisterer)
}

// NewWith creates a Metrics instance on the given registerer. Tests use it
// with a fresh registry to avoid duplicate registration.
func NewWith(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "egovpay"
	}
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),

		PaymentsInitiatedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "payment",
				Name:      "initiated_total",
				Help:      "Total number of initiated payments",
			},
			[]string{"method", "result"}, // result: accepted, rejected, unavailable
		),
		StatusTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "payment",
				Name:      "status_transitions_total",
				Help:      "Total number of ledger status transitions applied",
			},
			[]string{"method", "to", "source"}, // source: verify, webhook, initiate
		),
		RefundsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "payment",
				Name:      "refunds_total",
				Help:      "Total number of refund attempts",
			},
			[]string{"method", "result"},
		),

		ProviderRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "provider",
				Name:      "request_duration_seconds",
				Help:      "Provider API call duration in seconds",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"provider", "operation"}, // operation: initiate, verify, refund, token
		),
		ProviderErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "provider",
				Name:      "errors_total",
				Help:      "Total number of provider API errors",
			},
			[]string{"provider", "operation", "kind"}, // kind: unavailable, rejected
		),
		TokenRefreshesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "provider",
				Name:      "token_refreshes_total",
				Help:      "Total number of provider auth token refreshes",
			},
			[]string{"provider"},
		),

		WebhookEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "webhook",
				Name:      "events_total",
				Help:      "Total number of inbound webhook deliveries",
			},
			[]string{"provider", "result"}, // result: processed, duplicate, invalid_signature, unknown, malformed
		),

		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "db",
				Name:      "query_duration_seconds",
				Help:      "Database query duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation"},
		),
	}
}

// --- Convenience methods ---

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	statusStr := statusCodeToString(status)
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordProviderRequest records a provider API call.
func (m *Metrics) RecordProviderRequest(provider, operation string, duration time.Duration) {
	m.ProviderRequestDuration.WithLabelValues(provider, operation).Observe(duration.Seconds())
}

// RecordProviderError records a provider API error.
func (m *Metrics) RecordProviderError(provider, operation, kind string) {
	m.ProviderErrorsTotal.WithLabelValues(provider, operation, kind).Inc()
}

// RecordTokenRefresh records a provider auth token refresh.
func (m *Metrics) RecordTokenRefresh(provider string) {
	m.TokenRefreshesTotal.WithLabelValues(provider).Inc()
}

// RecordStatusTransition records an applied ledger transition.
func (m *Metrics) RecordStatusTransition(method, to, source string) {
	m.StatusTransitionsTotal.WithLabelValues(method, to, source).Inc()
}

// RecordWebhookEvent records an inbound webhook delivery outcome.
func (m *Metrics) RecordWebhookEvent(provider, result string) {
	m.WebhookEventsTotal.WithLabelValues(provider, result).Inc()
}

// RecordDBQuery records a database query.
func (m *Metrics) RecordDBQuery(operation string, duration time.Duration) {
	m.DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// statusCodeToString converts an HTTP status code to a string category.
func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
