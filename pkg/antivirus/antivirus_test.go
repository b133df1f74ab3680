package antivirus

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/marmos91/dittodrive/pkg/drive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func content(s string) func(context.Context) (io.ReadCloser, error) {
	return func(context.Context) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(s)), nil
	}
}

func scannerServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/scan", r.URL.Path)
		data, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		if strings.Contains(string(data), "EICAR") {
			_, _ = w.Write([]byte(`{"infected": true}`))
			return
		}
		_, _ = w.Write([]byte(`{"status": "clean"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

type verdicts struct {
	mu  sync.Mutex
	got []drive.AVStatus
}

func (v *verdicts) callback(_ context.Context, s drive.AVStatus) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.got = append(v.got, s)
}

func TestNoneSkips(t *testing.T) {
	status, err := None{}.Scan(context.Background(), Request{}, nil)
	require.NoError(t, err)
	assert.Equal(t, drive.AVSkipped, status)
}

func TestHTTPScannerVerdicts(t *testing.T) {
	srv := scannerServer(t)
	s, err := NewHTTPScanner(HTTPConfig{URL: srv.URL})
	require.NoError(t, err)

	var v verdicts
	status, err := s.Scan(context.Background(), Request{ItemID: "i1", Open: content("hello")}, v.callback)
	require.NoError(t, err)
	assert.Equal(t, drive.AVScanning, status)

	status, err = s.Scan(context.Background(), Request{ItemID: "i2", Open: content("X5O EICAR test")}, v.callback)
	require.NoError(t, err)
	assert.Equal(t, drive.AVScanning, status)

	s.Wait()
	assert.ElementsMatch(t, []drive.AVStatus{drive.AVSafe, drive.AVMalicious}, v.got)
}

func TestHTTPScannerSkipsLargeFiles(t *testing.T) {
	s, err := NewHTTPScanner(HTTPConfig{URL: "http://127.0.0.1:1", MaxFileSize: 10})
	require.NoError(t, err)

	status, err := s.Scan(context.Background(), Request{Size: 11, Open: content("")}, nil)
	require.NoError(t, err)
	assert.Equal(t, drive.AVSkipped, status)
}

func TestHTTPScannerReportsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	s, err := NewHTTPScanner(HTTPConfig{URL: srv.URL, RetryMax: 1})
	require.NoError(t, err)

	var v verdicts
	_, err = s.Scan(context.Background(), Request{Open: content("x")}, v.callback)
	require.NoError(t, err)
	s.Wait()
	assert.Equal(t, []drive.AVStatus{drive.AVScanFailed}, v.got)

	_, err = s.Scan(context.Background(), Request{}, nil)
	require.ErrorIs(t, err, ErrScanFailed)
}

func TestNewHTTPScannerValidatesURL(t *testing.T) {
	_, err := NewHTTPScanner(HTTPConfig{URL: "not a url"})
	require.Error(t, err)
}
