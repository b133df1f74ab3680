package fs

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/marmos91/dittodrive/pkg/storage"
	storagetesting "github.com/marmos91/dittodrive/pkg/storage/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilesystemStore(t *testing.T) {
	suite := &storagetesting.StoreTestSuite{
		NewStore: func(t *testing.T) storage.Storage {
			s, err := New(context.Background(), "fs", Config{Path: t.TempDir()})
			require.NoError(t, err)
			return s
		},
	}
	suite.Run(t)
}

func TestFilesystemStore_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	s, err := New(context.Background(), "fs", Config{Path: dir})
	require.NoError(t, err)

	_, err = s.Write(context.Background(), "a/b/chunk1", strings.NewReader("data"), storage.WriteOptions{})
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(dir, "a", "b"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "chunk1", entries[0].Name())
}

func TestFilesystemStore_MissingPath(t *testing.T) {
	_, err := New(context.Background(), "fs", Config{})
	assert.Error(t, err)
}
