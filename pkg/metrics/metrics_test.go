package metrics

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/marmos91/dittodrive/pkg/documents"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The registry is process-wide and constructors register collectors, so
// every constructor is called exactly once in this file.
func TestCollectors(t *testing.T) {
	InitRegistry()
	InitRegistry()
	require.True(t, IsEnabled())

	t.Run("Storage", func(t *testing.T) {
		m := NewStorageMetrics().(*storageMetrics)
		m.ObserveOperation("s3", "write", 10*time.Millisecond, nil)
		m.ObserveOperation("s3", "write", 10*time.Millisecond, errors.New("boom"))
		m.RecordBytes("s3", "write", 42)
		m.RecordBytes("s3", "write", 0)

		assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("s3", "write", "success")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.errorsTotal.WithLabelValues("s3", "write")))
		assert.Equal(t, 42.0, testutil.ToFloat64(m.bytesTransferred.WithLabelValues("s3", "write")))
	})

	t.Run("Documents", func(t *testing.T) {
		m := NewDocumentsMetrics().(*documentsMetrics)
		m.ObserveOperation("create", time.Millisecond, nil)
		m.ObserveOperation("create", time.Millisecond, documents.ErrQuotaExceeded)
		m.RecordEditingRetry()
		m.ArchiveStreamOpened()
		m.ArchiveStreamOpened()
		m.ArchiveStreamClosed()

		assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("create", "ok")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("create", "quota_exceeded")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.editingRetries))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.archiveStreams))
		assert.Equal(t, 2.0, testutil.ToFloat64(m.archiveOpened))
	})

	t.Run("WebDAV", func(t *testing.T) {
		m := NewWebDAVMetrics().(*webdavMetrics)
		m.RecordRequestStart("PUT")
		m.RecordRequest("PUT", http.StatusCreated, time.Millisecond)
		m.RecordRequestEnd("PUT")
		m.RecordRateLimited()

		assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("PUT", "201")))
		assert.Equal(t, 0.0, testutil.ToFloat64(m.requestsInFlight.WithLabelValues("PUT")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.rateLimited))
	})
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", outcome(nil))
	assert.Equal(t, "not_found", outcome(documents.ErrNotFound))
	assert.Equal(t, "canceled", outcome(errors.New("context canceled")))
}
