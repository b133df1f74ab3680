package editors

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/marmos91/dittodrive/pkg/drive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sessionKey(t *testing.T, app string) string {
	t.Helper()
	s, err := drive.NewEditingSession(app, "inst", "c1", "alice")
	require.NoError(t, err)
	return s.Key()
}

func TestHTTPProvider(t *testing.T) {
	live := sessionKey(t, "office")
	missing := sessionKey(t, "office")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/status", r.URL.Path)
		switch r.URL.Query().Get("key") {
		case live:
			_, _ = w.Write([]byte(`{"status":"live"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	p := NewHTTPProvider(HTTPConfig{Applications: map[string]string{"office": srv.URL}})

	st, err := p.KeyStatus(context.Background(), live)
	require.NoError(t, err)
	assert.Equal(t, StatusLive, st)

	st, err = p.KeyStatus(context.Background(), missing)
	require.NoError(t, err)
	assert.Equal(t, StatusUnknown, st)
}

func TestHTTPProviderUnknownApplication(t *testing.T) {
	p := NewHTTPProvider(HTTPConfig{})
	_, err := p.KeyStatus(context.Background(), sessionKey(t, "other"))
	require.Error(t, err)

	_, err = p.KeyStatus(context.Background(), "garbage")
	require.ErrorIs(t, err, drive.ErrInvalidSessionKey)
}

func TestStatic(t *testing.T) {
	s := NewStatic()
	st, err := s.KeyStatus(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, StatusUnknown, st)

	s.Set("k", StatusUpdated)
	st, err = s.KeyStatus(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, st.Finished())
	assert.False(t, StatusLive.Finished())
}
