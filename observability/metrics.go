// Package observability exports stillsuit activity as Prometheus metrics and
// OpenTelemetry spans. Both types implement stillsuit.QueryLogger and can be
// combined with stillsuit.ChainLoggers.
package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/seb7887/gofw/stillsuit"
)

var _ stillsuit.QueryLogger = (*MetricsLogger)(nil)

// MetricsLogger records statement and repository operation latencies
type MetricsLogger struct {
	queryDuration     *prometheus.HistogramVec
	queryErrors       *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	operationErrors   *prometheus.CounterVec
}

// NewMetricsLogger registers its collectors on registry.
// If registry is nil, uses the default Prometheus registry.
func NewMetricsLogger(registry prometheus.Registerer) *MetricsLogger {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)
	buckets := []float64{
		0.0005, // 0.5ms
		0.001,  // 1ms
		0.005,  // 5ms
		0.01,   // 10ms
		0.05,   // 50ms
		0.1,    // 100ms
		0.5,    // 500ms
		1.0,    // 1s
		5.0,    // 5s
	}

	return &MetricsLogger{
		queryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stillsuit_query_duration_seconds",
				Help:    "Duration of statements run by stillsuit engines in seconds",
				Buckets: buckets,
			},
			[]string{"operation"},
		),

		queryErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stillsuit_query_errors_total",
				Help: "Total number of failed engine statements",
			},
			[]string{"operation"},
		),

		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stillsuit_operation_duration_seconds",
				Help:    "Duration of repository and unit of work operations in seconds",
				Buckets: buckets,
			},
			[]string{"operation", "entity"},
		),

		operationErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stillsuit_operation_errors_total",
				Help: "Total number of failed repository and unit of work operations",
			},
			[]string{"operation", "entity"},
		),
	}
}

// LogQuery implements stillsuit.QueryLogger. The statement text is not used
// as a label to keep cardinality bounded.
func (m *MetricsLogger) LogQuery(_ context.Context, operation string, _ string, _ []any, duration time.Duration, err error) {
	m.queryDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.queryErrors.WithLabelValues(operation).Inc()
	}
}

// LogOperation implements stillsuit.QueryLogger
func (m *MetricsLogger) LogOperation(_ context.Context, operation string, entityType string, duration time.Duration, err error) {
	m.operationDuration.WithLabelValues(operation, entityType).Observe(duration.Seconds())
	if err != nil {
		m.operationErrors.WithLabelValues(operation, entityType).Inc()
	}
}
