package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metricsNamespace prefixes every gateway metric.
const metricsNamespace = "throttlegate"

// Metrics holds the Prometheus instruments driven by the gateway. Pass
// to components that need to record metrics.
type Metrics struct {
	RequestsTotal       *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	RateLimitDecisions  *prometheus.CounterVec
	ProxyUpstreamErrors prometheus.Counter
}

// NewMetrics creates and registers all instruments with the given
// registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "requests_total",
				Help:      "Total HTTP requests processed",
			},
			[]string{"method", "status"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		RateLimitDecisions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "ratelimit_decisions_total",
				Help:      "Rate limit decisions by profile and result",
			},
			[]string{"profile", "result"}, // result=allowed/rejected/error
		),
		ProxyUpstreamErrors: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "proxy_upstream_errors_total",
				Help:      "Upstream requests that failed at the transport level",
			},
		),
	}
}

// RegisterKeyCount exposes the live rate-limit key count as a gauge
// sampled at scrape time. Only backends that can count keys cheaply
// (the in-memory store) register this.
func RegisterKeyCount(reg prometheus.Registerer, count func() int) {
	promauto.With(reg).NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "ratelimit_keys",
			Help:      "Number of live rate limit windows",
		},
		func() float64 { return float64(count()) },
	)
}

// RegisterDecisionDrops exposes the decision log's drop counter, sampled
// at scrape time from the service's own atomic count.
func RegisterDecisionDrops(reg prometheus.Registerer, dropped func() int64) {
	reg.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "decision_log_drops_total",
			Help:      "Decision records dropped due to backpressure",
		},
		func() float64 { return float64(dropped()) },
	))
}
