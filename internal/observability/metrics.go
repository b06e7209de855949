package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the toolkit's Prometheus metrics on a private registry. A CLI
// run is short-lived, so the registry is dumped to a textfile for the node
// exporter rather than served.
type Metrics struct {
	registry *prometheus.Registry

	OperationsTotal     *prometheus.CounterVec
	OperationDuration   *prometheus.HistogramVec
	BytesProcessedTotal *prometheus.CounterVec
	VerificationsTotal  *prometheus.CounterVec
	KeysGeneratedTotal  *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		OperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "magenta_operations_total",
				Help: "Operations run, by outcome",
			},
			[]string{"operation", "result"},
		),

		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "magenta_operation_duration_seconds",
				Help:    "Operation wall time",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 60},
			},
			[]string{"operation"},
		),

		BytesProcessedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "magenta_bytes_processed_total",
				Help: "Bytes read and written by operations",
			},
			[]string{"direction"},
		),

		VerificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "magenta_verifications_total",
				Help: "Signature verifications, by outcome",
			},
			[]string{"result"},
		),

		KeysGeneratedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "magenta_keys_generated_total",
				Help: "Key files created",
			},
			[]string{"kind"},
		),
	}
}

// RecordOperation records one finished operation.
func (m *Metrics) RecordOperation(operation string, success bool, durationSeconds float64) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.OperationsTotal.WithLabelValues(operation, result).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordBytes records bytes read (in) and written (out).
func (m *Metrics) RecordBytes(in, out int64) {
	if in > 0 {
		m.BytesProcessedTotal.WithLabelValues("in").Add(float64(in))
	}
	if out > 0 {
		m.BytesProcessedTotal.WithLabelValues("out").Add(float64(out))
	}
}

// RecordVerification records a signature check outcome.
func (m *Metrics) RecordVerification(verified bool) {
	if verified {
		m.VerificationsTotal.WithLabelValues("valid").Inc()
	} else {
		m.VerificationsTotal.WithLabelValues("invalid").Inc()
	}
}

// RecordKeyGenerated records key creation of the given kind.
func (m *Metrics) RecordKeyGenerated(kind string) {
	m.KeysGeneratedTotal.WithLabelValues(kind).Inc()
}

// WriteTextfile writes the registry in text exposition format to path.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
