package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTPMetrics covers the admin HTTP surface.
type HTTPMetrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// SagaMetrics covers the saga executor, retry policy and compensation
// executor.
type SagaMetrics struct {
	StepsTotal         *prometheus.CounterVec
	StepDuration       *prometheus.HistogramVec
	RetriesScheduled   prometheus.Counter
	CompensationsRun   *prometheus.CounterVec
	CompensationFailed prometheus.Counter
	SagaCycleDuration  prometheus.Histogram
	AggregatesCompleted prometheus.Counter
	AggregatesFailed    prometheus.Counter
}

// NewHTTPMetrics creates HTTP metrics for a service
func NewHTTPMetrics(serviceName string) *HTTPMetrics {
	return &HTTPMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: serviceName + "_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    serviceName + "_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// NewSagaMetrics creates the saga-domain metrics for a service
func NewSagaMetrics(serviceName string) *SagaMetrics {
	return &SagaMetrics{
		StepsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: serviceName + "_saga_steps_total",
				Help: "Total number of saga steps attempted, by step name and outcome",
			},
			[]string{"step", "outcome"},
		),
		StepDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    serviceName + "_saga_step_duration_seconds",
				Help:    "Duration of a single saga step's remote call",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"step"},
		),
		RetriesScheduled: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: serviceName + "_saga_retries_scheduled_total",
				Help: "Total number of outbox events rescheduled for retry",
			},
		),
		CompensationsRun: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: serviceName + "_saga_compensation_steps_total",
				Help: "Total number of compensation steps run, by step name and outcome",
			},
			[]string{"step", "outcome"},
		),
		CompensationFailed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: serviceName + "_saga_compensation_failed_total",
				Help: "Total number of aggregates that reached FAILED with at least one failing compensation step",
			},
		),
		SagaCycleDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    serviceName + "_saga_cycle_duration_seconds",
				Help:    "Duration of one claim-and-process cycle",
				Buckets: prometheus.DefBuckets,
			},
		),
		AggregatesCompleted: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: serviceName + "_saga_aggregates_completed_total",
				Help: "Total number of aggregates that reached COMPLETED",
			},
		),
		AggregatesFailed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: serviceName + "_saga_aggregates_failed_total",
				Help: "Total number of aggregates that reached FAILED",
			},
		),
	}
}

// RecordHTTPRequest records an HTTP request metric
func (m *HTTPMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordStep records one saga step attempt
func (m *SagaMetrics) RecordStep(step, outcome string, duration time.Duration) {
	m.StepsTotal.WithLabelValues(step, outcome).Inc()
	m.StepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordCompensationStep records one compensation step attempt
func (m *SagaMetrics) RecordCompensationStep(step, outcome string) {
	m.CompensationsRun.WithLabelValues(step, outcome).Inc()
}
