package composite

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/marmos91/dittodrive/pkg/storage"
	"github.com/marmos91/dittodrive/pkg/storage/memory"
	storagetesting "github.com/marmos91/dittodrive/pkg/storage/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingStore fails every operation it is configured to fail.
type failingStore struct {
	*memory.Store
	failWrite  bool
	failExists bool
	failRemove bool
	readBytes  int // bytes consumed before a write failure
}

var errInjected = errors.New("injected failure")

func (f *failingStore) Write(ctx context.Context, path string, r io.Reader, opts storage.WriteOptions) (storage.WriteResult, error) {
	if f.failWrite {
		if f.readBytes > 0 {
			_, _ = io.CopyN(io.Discard, r, int64(f.readBytes))
		}
		return storage.WriteResult{}, errInjected
	}
	return f.Store.Write(ctx, path, r, opts)
}

func (f *failingStore) Exists(ctx context.Context, path string, opts storage.ReadOptions) (bool, error) {
	if f.failExists {
		return false, errInjected
	}
	return f.Store.Exists(ctx, path, opts)
}

func (f *failingStore) Remove(ctx context.Context, path string, opts storage.ReadOptions) (bool, error) {
	if f.failRemove {
		return false, errInjected
	}
	return f.Store.Remove(ctx, path, opts)
}

func TestCompositeStore_Contract(t *testing.T) {
	suite := &storagetesting.StoreTestSuite{
		NewStore: func(t *testing.T) storage.Storage {
			s, err := New(memory.New("primary"), memory.New("secondary"))
			require.NoError(t, err)
			return s
		},
	}
	suite.Run(t)
}

func TestCompositeStore_WriteSucceedsWithOneHealthyBackend(t *testing.T) {
	ctx := context.Background()
	for _, readBytes := range []int{0, 100} {
		broken := &failingStore{Store: memory.New("broken"), failWrite: true, readBytes: readBytes}
		healthy := memory.New("healthy")
		s, err := New(broken, healthy)
		require.NoError(t, err)

		data := bytes.Repeat([]byte("payload-"), 20000)
		res, err := s.Write(ctx, "acme/f1/chunk1", bytes.NewReader(data), storage.WriteOptions{})
		require.NoError(t, err)
		assert.Equal(t, int64(len(data)), res.Size)

		assert.Equal(t, data, storagetesting.ReadAll(t, s, "acme/f1/chunk1"))
		assert.Equal(t, 0, broken.Len())
	}
}

func TestCompositeStore_WriteFailsWhenAllBackendsFail(t *testing.T) {
	ctx := context.Background()
	a := &failingStore{Store: memory.New("a"), failWrite: true}
	b := &failingStore{Store: memory.New("b"), failWrite: true, readBytes: 3}
	s, err := New(a, b)
	require.NoError(t, err)

	_, err = s.Write(ctx, "acme/f1/chunk1", strings.NewReader("content"), storage.WriteOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrWriteFailed)
	assert.ErrorIs(t, err, storage.ErrAllBackendsFailed)

	exists, err := s.Exists(ctx, "acme/f1/chunk1", storage.ReadOptions{})
	require.NoError(t, err)
	assert.False(t, exists, "nothing may be reported as stored")
}

func TestCompositeStore_ReadPriorityOrder(t *testing.T) {
	ctx := context.Background()
	primary := memory.New("primary")
	secondary := memory.New("secondary")
	s, err := New(primary, secondary)
	require.NoError(t, err)

	_, err = secondary.Write(ctx, "p", strings.NewReader("from secondary"), storage.WriteOptions{})
	require.NoError(t, err)
	assert.Equal(t, []byte("from secondary"), storagetesting.ReadAll(t, s, "p"))

	_, err = primary.Write(ctx, "p", strings.NewReader("from primary"), storage.WriteOptions{})
	require.NoError(t, err)
	assert.Equal(t, []byte("from primary"), storagetesting.ReadAll(t, s, "p"))

	_, err = s.Read(ctx, "missing", storage.ReadOptions{})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCompositeStore_ExistsRaisesBackendErrors(t *testing.T) {
	ctx := context.Background()
	broken := &failingStore{Store: memory.New("broken"), failExists: true}
	healthy := memory.New("healthy")
	s, err := New(healthy, broken)
	require.NoError(t, err)

	_, err = healthy.Write(ctx, "p", strings.NewReader("x"), storage.WriteOptions{})
	require.NoError(t, err)

	// Short-circuits on the first backend.
	ok, err := s.Exists(ctx, "p", storage.ReadOptions{})
	require.NoError(t, err)
	assert.True(t, ok)

	// Reaches the broken backend and surfaces its error.
	_, err = s.Exists(ctx, "other", storage.ReadOptions{})
	assert.ErrorIs(t, err, errInjected)
}

func TestCompositeStore_RemoveRequiresAllBackends(t *testing.T) {
	ctx := context.Background()
	broken := &failingStore{Store: memory.New("broken"), failRemove: true}
	healthy := memory.New("healthy")
	s, err := New(healthy, broken)
	require.NoError(t, err)

	_, err = s.Write(ctx, "p", strings.NewReader("x"), storage.WriteOptions{})
	require.NoError(t, err)

	ok, err := s.Remove(ctx, "p", storage.ReadOptions{})
	assert.False(t, ok)
	assert.ErrorIs(t, err, errInjected)
	assert.Equal(t, 0, healthy.Len(), "healthy backend still removes its copy")
}

func TestNew_RequiresBackends(t *testing.T) {
	_, err := New()
	assert.Error(t, err)
}
