package webdav

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/marmos91/dittodrive/pkg/documents"
	"github.com/marmos91/dittodrive/pkg/drive"
	"github.com/marmos91/dittodrive/pkg/files"
	"github.com/marmos91/dittodrive/pkg/repository"
	repomemory "github.com/marmos91/dittodrive/pkg/repository/memory"
	storagememory "github.com/marmos91/dittodrive/pkg/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "webdav-secret"

type davClient struct {
	t     *testing.T
	base  string
	token string
}

func (c *davClient) do(method, path string, body string, headers map[string]string) *http.Response {
	c.t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, c.base+path, r)
	require.NoError(c.t, err)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	c.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (c *davClient) body(resp *http.Response) string {
	c.t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	return string(data)
}

type fixture struct {
	svc     *documents.Service
	adapter *Adapter
	server  *httptest.Server
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	conn := repomemory.New()
	svc, err := documents.New(documents.Dependencies{
		Items:    repository.New[drive.DriveItem](documents.ItemsTable, conn, nil),
		Versions: repository.New[drive.FileVersion](documents.VersionsTable, conn, nil),
		Files:    files.New(storagememory.New("mem"), conn, files.Config{}),
		Users:    documents.NewStaticDirectory(documents.DirectoryConfig{Companies: map[string][]string{"c1": nil}}),
	}, documents.Config{DownloadTokenSecret: "secret"})
	require.NoError(t, err)

	cfg.JWTSecret = testSecret
	a := New(cfg, nil)
	a.SetDocuments(svc)
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)
	return &fixture{svc: svc, adapter: a, server: srv}
}

func (f *fixture) client(t *testing.T, user string) *davClient {
	t.Helper()
	token, err := f.adapter.Authenticator().IssueToken("c1", user, nil, time.Hour)
	require.NoError(t, err)
	return &davClient{t: t, base: f.server.URL + "/dav", token: token}
}

func TestRequiresAuthentication(t *testing.T) {
	f := newFixture(t, Config{})
	anon := &davClient{t: t, base: f.server.URL + "/dav"}
	resp := anon.do("PROPFIND", "/", "", map[string]string{"Depth": "1"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("WWW-Authenticate"))

	forged := &davClient{t: t, base: f.server.URL + "/dav", token: "not-a-token"}
	resp = forged.do("PROPFIND", "/", "", map[string]string{"Depth": "1"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestBasicAuthPassword(t *testing.T) {
	f := newFixture(t, Config{})
	token, err := f.adapter.Authenticator().IssueToken("c1", "alice", nil, time.Hour)
	require.NoError(t, err)

	req, err := http.NewRequest("PROPFIND", f.server.URL+"/dav/", nil)
	require.NoError(t, err)
	req.SetBasicAuth("alice", token)
	req.Header.Set("Depth", "1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMultiStatus, resp.StatusCode)
}

func TestRootListsTopLevelFolders(t *testing.T) {
	f := newFixture(t, Config{})
	c := f.client(t, "alice")

	resp := c.do("PROPFIND", "/", "", map[string]string{"Depth": "1"})
	require.Equal(t, http.StatusMultiStatus, resp.StatusCode)
	listing := c.body(resp)
	for _, name := range topLevel {
		assert.Contains(t, listing, "/dav/"+name+"/")
	}
}

func TestFileLifecycle(t *testing.T) {
	f := newFixture(t, Config{})
	c := f.client(t, "alice")

	resp := c.do("MKCOL", "/shared/Projects", "", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = c.do("MKCOL", "/shared/Projects", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp = c.do("PUT", "/shared/Projects/a.txt", "hello", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("ETag"))

	resp = c.do("GET", "/shared/Projects/a.txt", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello", c.body(resp))

	resp = c.do("PUT", "/shared/Projects/a.txt", "hello world", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = c.do("GET", "/shared/Projects/a.txt", "", map[string]string{"Range": "bytes=6-10"})
	require.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, "world", c.body(resp))

	resp = c.do("PROPFIND", "/shared/Projects", "", map[string]string{"Depth": "1"})
	require.Equal(t, http.StatusMultiStatus, resp.StatusCode)
	assert.Contains(t, c.body(resp), "/dav/shared/Projects/a.txt")

	resp = c.do("MOVE", "/shared/Projects/a.txt", "", map[string]string{
		"Destination": f.server.URL + "/dav/shared/b.txt",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, http.StatusNotFound, c.do("GET", "/shared/Projects/a.txt", "", nil).StatusCode)
	resp = c.do("GET", "/shared/b.txt", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello world", c.body(resp))

	resp = c.do("DELETE", "/shared/b.txt", "", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, http.StatusNotFound, c.do("GET", "/shared/b.txt", "", nil).StatusCode)

	resp = c.do("GET", "/trash/b.txt", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello world", c.body(resp))

	details, err := f.svc.Get(context.Background(), drive.TrashID, documents.GetOptions{}, drive.ExecutionContext{CompanyID: "c1", UserID: "alice"})
	require.NoError(t, err)
	require.Len(t, details.Children, 1)
	assert.Equal(t, "b.txt", details.Children[0].Name)
}

func TestCopyCreatesIndependentFile(t *testing.T) {
	f := newFixture(t, Config{})
	c := f.client(t, "alice")

	require.Equal(t, http.StatusCreated, c.do("PUT", "/personal/notes.md", "# notes", nil).StatusCode)
	resp := c.do("COPY", "/personal/notes.md", "", map[string]string{
		"Destination": f.server.URL + "/dav/personal/copy.md",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = c.do("GET", "/personal/copy.md", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "# notes", c.body(resp))
}

func TestPersonalFoldersArePrivate(t *testing.T) {
	f := newFixture(t, Config{})
	alice := f.client(t, "alice")
	bob := f.client(t, "bob")

	require.Equal(t, http.StatusCreated, alice.do("PUT", "/personal/secret.txt", "s3cr3t", nil).StatusCode)

	assert.Equal(t, http.StatusNotFound, bob.do("GET", "/personal/secret.txt", "", nil).StatusCode)

	require.Equal(t, http.StatusCreated, alice.do("PUT", "/shared/readme.txt", "hi", nil).StatusCode)
	resp := bob.do("GET", "/shared/readme.txt", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hi", bob.body(resp))

	resp = bob.do("PUT", "/shared/readme.txt", "defaced", nil)
	assert.NotEqual(t, http.StatusCreated, resp.StatusCode)
	resp = alice.do("GET", "/shared/readme.txt", "", nil)
	assert.Equal(t, "hi", alice.body(resp))
}

func TestRateLimitPerUser(t *testing.T) {
	f := newFixture(t, Config{RateLimit: RateLimitConfig{RequestsPerSecond: 1, Burst: 1}})
	alice := f.client(t, "alice")
	bob := f.client(t, "bob")

	assert.Equal(t, http.StatusMultiStatus, alice.do("PROPFIND", "/", "", map[string]string{"Depth": "0"}).StatusCode)
	resp := alice.do("PROPFIND", "/", "", map[string]string{"Depth": "0"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))

	assert.Equal(t, http.StatusMultiStatus, bob.do("PROPFIND", "/", "", map[string]string{"Depth": "0"}).StatusCode)
}

func TestAuthenticatorRejectsExpiredTokens(t *testing.T) {
	auth := NewAuthenticator(testSecret)
	token, err := auth.IssueToken("c1", "alice", []string{"general"}, time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	ec, err := auth.Authenticate(req)
	require.NoError(t, err)
	assert.Equal(t, drive.ExecutionContext{CompanyID: "c1", UserID: "alice", Channels: []string{"general"}}, ec)

	auth.now = func() time.Time { return time.Now().Add(time.Hour) }
	_, err = auth.Authenticate(req)
	require.ErrorIs(t, err, ErrUnauthenticated)

	other := NewAuthenticator("other-secret")
	_, err = other.Authenticate(req)
	require.ErrorIs(t, err, ErrUnauthenticated)

	_, err = auth.IssueToken("", "alice", nil, time.Minute)
	require.Error(t, err)
}

func TestNewPanicsWithoutSecret(t *testing.T) {
	assert.Panics(t, func() { New(Config{}, nil) })
}
