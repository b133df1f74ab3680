package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return rec.Code, string(body)
}

func TestServerIndexGroupsFamiliesBySubsystem(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	trashed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "documents", Name: "purged_total", Help: "Purged items",
	})
	inFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "webdav", Name: "uploads_in_flight", Help: "Uploads in flight",
	})
	reg.MustRegister(trashed, inFlight)
	trashed.Inc()

	h := newHandler(reg, 9191)

	code, body := get(t, h, "/")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "scrape: http://<host>:9191/metrics")
	assert.Contains(t, body, "documents (1)")
	assert.Contains(t, body, "storage (0)")
	assert.Contains(t, body, "webdav (1)")
	assert.Regexp(t, `dittodrive_documents_purged_total\s+counter\s+Purged items`, body)
	assert.Regexp(t, `dittodrive_webdav_uploads_in_flight\s+gauge`, body)
	assert.NotContains(t, body, "go_goroutines")

	code, body = get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "dittodrive_documents_purged_total 1")
	assert.Contains(t, body, "go_goroutines")

	code, _ = get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, code)

	code, _ = get(t, h, "/unknown")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestServerWithoutRegistry(t *testing.T) {
	h := newHandler(nil, 9090)

	code, body := get(t, h, "/metrics")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, "disabled")

	code, body = get(t, h, "/")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, strings.HasSuffix(body, "collection disabled\n"))
}
