package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every Prometheus instrument the service records. The set is
// built once in main and injected; nothing registers instruments lazily.
type Metrics struct {
	// checkout_requests_total{outcome}: committed, rejected, payment_failed,
	// persistence_failed, error.
	CheckoutRequests *prometheus.CounterVec
	// checkout_duration_seconds{outcome}
	CheckoutDuration *prometheus.HistogramVec
	// gateway_requests_total{outcome}
	GatewayRequests *prometheus.CounterVec
	// gateway_request_duration_seconds
	GatewayDuration prometheus.Histogram
	// order_event_publish_failed_total{event}
	EventPublishFailures *prometheus.CounterVec
	// recovery_records_written_total
	RecoveryRecords prometheus.Counter

	// http_requests_total{method,route,status}
	HTTPRequests *prometheus.CounterVec
	// http_request_duration_seconds{method,route}
	HTTPDuration *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CheckoutRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkout_requests_total",
				Help: "Total number of checkout requests by outcome.",
			},
			[]string{"outcome"},
		),
		CheckoutDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "checkout_duration_seconds",
				Help:    "Duration of checkout execution in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		GatewayRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_requests_total",
				Help: "Total number of payment gateway authorization calls by outcome.",
			},
			[]string{"outcome"},
		),
		GatewayDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gateway_request_duration_seconds",
				Help:    "Duration of payment gateway calls in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		),
		EventPublishFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "order_event_publish_failed_total",
				Help: "Count of order-related event publish failures.",
			},
			[]string{"event"},
		),
		RecoveryRecords: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "recovery_records_written_total",
				Help: "Orders journaled for reconciliation after a post-authorization persistence failure.",
			},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	reg.MustRegister(
		m.CheckoutRequests,
		m.CheckoutDuration,
		m.GatewayRequests,
		m.GatewayDuration,
		m.EventPublishFailures,
		m.RecoveryRecords,
		m.HTTPRequests,
		m.HTTPDuration,
	)
	return m
}

// NewNop returns a Metrics set backed by a throwaway registry, for tests.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
