// Package metrics provides Prometheus metrics instrumentation for the
// gateway.
//
// It exposes operational metrics about request handling: prediction latency,
// model load latency and outcomes, authentication failures, rate limit
// rejections and error tracking. All metrics are exposed via the /metrics
// HTTP endpoint for Prometheus scraping.
//
// Metrics exposed:
//   - lifeboat_predict_seconds: Histogram of end-to-end prediction duration
//   - lifeboat_model_load_seconds: Histogram of model load duration by model
//   - lifeboat_models_loaded: Gauge of currently cached models
//   - lifeboat_auth_failures_total: Counter of rejected tokens by reason
//   - lifeboat_rate_limit_rejections_total: Counter of throttled requests by endpoint
//   - lifeboat_errors_total: Counter of errors by component and reason
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	PredictSeconds      prometheus.Histogram
	ModelLoadSeconds    *prometheus.HistogramVec
	ModelsLoaded        prometheus.Gauge
	AuthFailuresTotal   *prometheus.CounterVec
	RateLimitRejections *prometheus.CounterVec
	ErrorsTotal         *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		PredictSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "lifeboat_predict_seconds",
			Help:    "Time spent serving a prediction, validation through response",
			Buckets: prometheus.DefBuckets, // Default buckets: .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10
		}),

		ModelLoadSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lifeboat_model_load_seconds",
			Help:    "Time spent loading a model artifact from disk",
			Buckets: prometheus.DefBuckets,
		}, []string{"model", "outcome"}),

		ModelsLoaded: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lifeboat_models_loaded",
			Help: "Number of model artifacts currently held in the cache",
		}),

		AuthFailuresTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lifeboat_auth_failures_total",
			Help: "Total number of rejected tokens by reason",
		}, []string{"reason"}),

		RateLimitRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lifeboat_rate_limit_rejections_total",
			Help: "Total number of requests rejected by the rate limiter",
		}, []string{"endpoint"}),

		ErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lifeboat_errors_total",
			Help: "Total number of errors by component and reason",
		}, []string{"component", "reason"}),
	}
}

// RecordPredict records the time spent serving a prediction.
func (m *Metrics) RecordPredict(seconds float64) {
	m.PredictSeconds.Observe(seconds)
}

// RecordModelLoad records the time spent loading a model, with outcome
// "success" or "failure".
func (m *Metrics) RecordModelLoad(model, outcome string, seconds float64) {
	m.ModelLoadSeconds.WithLabelValues(model, outcome).Observe(seconds)
}

// SetModelsLoaded sets the number of cached models.
func (m *Metrics) SetModelsLoaded(n int) {
	m.ModelsLoaded.Set(float64(n))
}

// RecordAuthFailure increments the auth failure counter.
func (m *Metrics) RecordAuthFailure(reason string) {
	m.AuthFailuresTotal.WithLabelValues(reason).Inc()
}

// RecordRateLimitRejection increments the rate limit rejection counter.
func (m *Metrics) RecordRateLimitRejection(endpoint string) {
	m.RateLimitRejections.WithLabelValues(endpoint).Inc()
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, reason string) {
	m.ErrorsTotal.WithLabelValues(component, reason).Inc()
}
