package server

import (
	"context"
	"errors"
	"sync/atomic"
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

type fakeAdapter struct {
	protocol string
	port     int
	failWith error

	docs    *documents.Service
	stopped atomic.Int32
	stopCh  chan struct{}
}

func newFakeAdapter(protocol string, port int) *fakeAdapter {
	return &fakeAdapter{protocol: protocol, port: port, stopCh: make(chan struct{})}
}

func (f *fakeAdapter) Serve(ctx context.Context) error {
	if f.failWith != nil {
		return f.failWith
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.stopCh:
		return nil
	}
}

func (f *fakeAdapter) SetDocuments(svc *documents.Service) { f.docs = svc }

func (f *fakeAdapter) Stop(context.Context) error {
	if f.stopped.Add(1) == 1 {
		close(f.stopCh)
	}
	return nil
}

func (f *fakeAdapter) Protocol() string { return f.protocol }
func (f *fakeAdapter) Port() int        { return f.port }

func newDocs(t *testing.T) *documents.Service {
	t.Helper()
	conn := repomemory.New()
	svc, err := documents.New(documents.Dependencies{
		Items:    repository.New[drive.DriveItem](documents.ItemsTable, conn, nil),
		Versions: repository.New[drive.FileVersion](documents.VersionsTable, conn, nil),
		Files:    files.New(storagememory.New("mem"), conn, files.Config{}),
		Users:    documents.NewStaticDirectory(documents.DirectoryConfig{}),
	}, documents.Config{DownloadTokenSecret: "secret"})
	require.NoError(t, err)
	return svc
}

func TestAddAdapterInjectsDocuments(t *testing.T) {
	docs := newDocs(t)
	s := New(docs)

	a := newFakeAdapter("WebDAV", 8090)
	require.NoError(t, s.AddAdapter(a))
	assert.Same(t, docs, a.docs)

	require.Error(t, s.AddAdapter(newFakeAdapter("WebDAV", 9000)), "duplicate protocol")
	require.Error(t, s.AddAdapter(newFakeAdapter("S3", 8090)), "duplicate port")
	assert.Len(t, s.Adapters(), 1)
}

func TestServeStopsAdaptersOnCancel(t *testing.T) {
	s := New(newDocs(t))
	a := newFakeAdapter("WebDAV", 8090)
	b := newFakeAdapter("S3", 8091)
	require.NoError(t, s.AddAdapter(a))
	require.NoError(t, s.AddAdapter(b))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	assert.Equal(t, int32(1), a.stopped.Load())
	assert.Equal(t, int32(1), b.stopped.Load())

	require.ErrorIs(t, s.Serve(context.Background()), ErrAlreadyServed)
}

func TestServeReportsAdapterFailure(t *testing.T) {
	s := New(newDocs(t))
	healthy := newFakeAdapter("WebDAV", 8090)
	broken := newFakeAdapter("S3", 8091)
	broken.failWith = errors.New("bind: address in use")
	require.NoError(t, s.AddAdapter(healthy))
	require.NoError(t, s.AddAdapter(broken))

	err := s.Serve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "S3 adapter error")
	assert.Equal(t, int32(1), healthy.stopped.Load())
}

func TestServeWithoutAdapters(t *testing.T) {
	s := New(newDocs(t))
	require.Error(t, s.Serve(context.Background()))
}

func TestNewPanicsOnNilDocuments(t *testing.T) {
	assert.Panics(t, func() { New(nil) })
}
