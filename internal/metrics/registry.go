package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yourorg/payment-dispatch/internal/models"
)

// Registry holds the Prometheus collectors for the service.
type Registry struct {
	registry *prometheus.Registry

	PaymentsTotal         *prometheus.CounterVec
	PaymentDuration       *prometheus.HistogramVec
	ProcessorCallDuration *prometheus.HistogramVec
	BreakerState          *prometheus.GaugeVec
	CacheDegraded         prometheus.Gauge
	HTTPRequestsTotal     *prometheus.CounterVec
}

// NewRegistry creates the collectors on a private registry so tests can
// instantiate it repeatedly.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{registry: reg}

	r.PaymentsTotal = promauto.With(reg).NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_payments_total",
			Help: "Payments by processor and outcome",
		},
		[]string{"processor", "status"},
	)
	r.PaymentDuration = promauto.With(reg).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_payment_duration_seconds",
			Help:    "End-to-end submit latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"processor"},
	)
	r.ProcessorCallDuration = promauto.With(reg).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_processor_call_duration_seconds",
			Help:    "Outbound processor call latency, failures included",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"processor", "op", "outcome"},
	)
	r.BreakerState = promauto.With(reg).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dispatch_circuit_breaker_state",
			Help: "Circuit state per processor (0 closed, 1 open, 2 half-open)",
		},
		[]string{"processor"},
	)
	r.CacheDegraded = promauto.With(reg).NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatch_cache_degraded",
			Help: "1 while the cache is serving from the in-memory fallback",
		},
	)
	r.HTTPRequestsTotal = promauto.With(reg).NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_http_requests_total",
			Help: "HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)
	return r
}

// Handler serves the exposition endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Observer records processor-call latencies in the ProcessorCallDuration
// histogram. It satisfies the processor client's LatencyObserver.
type Observer struct {
	Registry *Registry
}

// ObserveProcessorCall records one outbound call.
func (o *Observer) ObserveProcessorCall(p models.Processor, op string, elapsed time.Duration, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	o.Registry.ProcessorCallDuration.WithLabelValues(string(p), op, outcome).Observe(elapsed.Seconds())
}
