package metrics

import (
	"errors"
	"strings"
	"time"

	"github.com/marmos91/dittodrive/pkg/documents"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// documentsMetrics is the Prometheus implementation of documents.Metrics.
type documentsMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	editingRetries    prometheus.Counter
	archiveStreams    prometheus.Gauge
	archiveOpened     prometheus.Counter
}

// NewDocumentsMetrics creates a new Prometheus-backed documents.Metrics
// instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewDocumentsMetrics() documents.Metrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &documentsMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "documents",
				Name:      "operations_total",
				Help:      "Total number of document operations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "documents",
				Name:      "operation_duration_seconds",
				Help:      "Duration of document operations in seconds",
				Buckets:   durationBuckets,
			},
			[]string{"operation"},
		),
		editingRetries: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "documents",
				Name:      "editing_session_retries_total",
				Help:      "Total number of editing session claims that had to be retried",
			},
		),
		archiveStreams: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "documents",
				Name:      "archive_streams_open",
				Help:      "Content streams currently open for zip downloads",
			},
		),
		archiveOpened: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "documents",
				Name:      "archive_streams_opened_total",
				Help:      "Total number of content streams opened for zip downloads",
			},
		),
	}
}

// ObserveOperation implements documents.Metrics.ObserveOperation.
//
// The outcome label is the error kind in snake case ("ok" on success, "canceled" for
// context errors).
func (m *documentsMetrics) ObserveOperation(operation string, duration time.Duration, err error) {
	m.operationsTotal.WithLabelValues(operation, outcome(err)).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	var e *documents.Error
	if errors.As(err, &e) {
		return strings.ReplaceAll(e.Kind.String(), " ", "_")
	}
	return "canceled"
}

func (m *documentsMetrics) RecordEditingRetry() {
	m.editingRetries.Inc()
}

func (m *documentsMetrics) ArchiveStreamOpened() {
	m.archiveOpened.Inc()
	m.archiveStreams.Inc()
}

func (m *documentsMetrics) ArchiveStreamClosed() {
	m.archiveStreams.Dec()
}
