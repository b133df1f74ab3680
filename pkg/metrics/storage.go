package metrics

import (
	"time"

	"github.com/marmos91/dittodrive/pkg/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// storageMetrics is the Prometheus implementation of storage.Metrics.
//
// Every series is labelled with the backend id, so the members of a
// composite store can be told apart.
type storageMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesTransferred  *prometheus.CounterVec
	errorsTotal       *prometheus.CounterVec
}

// NewStorageMetrics creates a new Prometheus-backed storage.Metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called), which
// makes storage.Instrument return the backend unchanged.
func NewStorageMetrics() storage.Metrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &storageMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "storage",
				Name:      "operations_total",
				Help:      "Total number of storage operations by backend, operation and status",
			},
			[]string{"backend", "operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "storage",
				Name:      "operation_duration_seconds",
				Help:      "Duration of storage operations in seconds",
				Buckets:   durationBuckets,
			},
			[]string{"backend", "operation"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "storage",
				Name:      "bytes_transferred_total",
				Help:      "Total bytes read from or written to storage backends",
			},
			[]string{"backend", "operation"},
		),
		errorsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "storage",
				Name:      "errors_total",
				Help:      "Total number of failed storage operations by backend and operation",
			},
			[]string{"backend", "operation"},
		),
	}
}

// ObserveOperation implements storage.Metrics.ObserveOperation
func (m *storageMetrics) ObserveOperation(backend, operation string, duration time.Duration, err error) {
	if err != nil {
		m.errorsTotal.WithLabelValues(backend, operation).Inc()
	}
	m.operationsTotal.WithLabelValues(backend, operation, status(err)).Inc()
	m.operationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// RecordBytes implements storage.Metrics.RecordBytes
func (m *storageMetrics) RecordBytes(backend, operation string, n int64) {
	if n <= 0 {
		return
	}
	m.bytesTransferred.WithLabelValues(backend, operation).Add(float64(n))
}
