package metrics

import (
	"strconv"
	"time"

	"github.com/marmos91/dittodrive/pkg/adapter/webdav"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// webdavMetrics is the Prometheus implementation of webdav.Metrics.
type webdavMetrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec
	rateLimited      prometheus.Counter
}

// NewWebDAVMetrics creates a new Prometheus-backed webdav.Metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewWebDAVMetrics() webdav.Metrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &webdavMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "webdav",
				Name:      "requests_total",
				Help:      "Total number of WebDAV requests by method and status code",
			},
			[]string{"method", "code"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "webdav",
				Name:      "request_duration_seconds",
				Help:      "Duration of WebDAV requests in seconds",
				Buckets:   durationBuckets,
			},
			[]string{"method"},
		),
		requestsInFlight: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "webdav",
				Name:      "requests_in_flight",
				Help:      "Current number of WebDAV requests being processed",
			},
			[]string{"method"},
		),
		rateLimited: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "webdav",
				Name:      "rate_limited_total",
				Help:      "Total number of WebDAV requests rejected by the rate limiter",
			},
		),
	}
}

func (m *webdavMetrics) RecordRequest(method string, status int, duration time.Duration) {
	m.requestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func (m *webdavMetrics) RecordRequestStart(method string) {
	m.requestsInFlight.WithLabelValues(method).Inc()
}

func (m *webdavMetrics) RecordRequestEnd(method string) {
	m.requestsInFlight.WithLabelValues(method).Dec()
}

func (m *webdavMetrics) RecordRateLimited() {
	m.rateLimited.Inc()
}
