package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RotationMetrics records engine cycles, remote calls, boundary requests and
// notifications on its own registry. It implements rotation.Metrics.
type RotationMetrics struct {
	registry *prometheus.Registry

	cyclesTotal   *prometheus.CounterVec
	cycleDuration *prometheus.HistogramVec
	stepsTotal    *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec
	requestsTotal *prometheus.CounterVec
	notifyTotal   *prometheus.CounterVec
}

// NewRotationMetrics creates and registers all collectors. namespace prefixes
// every metric name.
func NewRotationMetrics(namespace string) *RotationMetrics {
	m := &RotationMetrics{
		registry: prometheus.NewRegistry(),
		cyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cycles_total",
				Help:      "Total number of engine cycles by action and outcome",
			},
			[]string{"action", "outcome"},
		),
		cycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cycle_duration_seconds",
				Help:      "Duration of engine cycles in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"action"},
		),
		stepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_calls_total",
				Help:      "Total number of credential provider and sink calls by step and status",
			},
			[]string{"step", "status"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_call_duration_seconds",
				Help:      "Duration of credential provider and sink calls in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"step"},
		),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of boundary requests by operation and HTTP status",
			},
			[]string{"operation", "code"},
		),
		notifyTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Total number of outcome notifications by notifier and result",
			},
			[]string{"notifier", "result"},
		),
	}

	m.registry.MustRegister(
		m.cyclesTotal,
		m.cycleDuration,
		m.stepsTotal,
		m.stepDuration,
		m.requestsTotal,
		m.notifyTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveCycle records one engine cycle
func (m *RotationMetrics) ObserveCycle(action, outcome string, duration time.Duration) {
	m.cyclesTotal.WithLabelValues(action, outcome).Inc()
	m.cycleDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// ObserveStep records one remote call
func (m *RotationMetrics) ObserveStep(step, status string, duration time.Duration) {
	m.stepsTotal.WithLabelValues(step, status).Inc()
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// ObserveRequest records one boundary request
func (m *RotationMetrics) ObserveRequest(operation string, code int) {
	m.requestsTotal.WithLabelValues(operation, http.StatusText(code)).Inc()
}

// ObserveNotification records one outcome notification. It implements
// notifications.Observer.
func (m *RotationMetrics) ObserveNotification(notifier, result string) {
	m.notifyTotal.WithLabelValues(notifier, result).Inc()
}

// Registry returns the registry the collectors live on
func (m *RotationMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in Prometheus exposition format
func (m *RotationMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
