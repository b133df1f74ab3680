package testing

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/marmos91/dittodrive/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreTestSuite is a contract test suite for storage.Storage
// implementations. It tests the interface contract, not implementation
// details, so it runs unchanged against memory, filesystem, S3, MinIO, B2 and
// composite stores.
//
// Usage:
//
//	func TestMyStorage(t *testing.T) {
//	    suite := &testing.StoreTestSuite{
//	        NewStore: func(t *testing.T) storage.Storage {
//	            return mystore.New()
//	        },
//	    }
//	    suite.Run(t)
//	}
type StoreTestSuite struct {
	// NewStore creates a fresh store for each test.
	NewStore func(t *testing.T) storage.Storage
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("WriteRead", suite.testWriteRead)
	t.Run("WriteOverwrite", suite.testWriteOverwrite)
	t.Run("WriteLarge", suite.testWriteLarge)
	t.Run("ReadNotFound", suite.testReadNotFound)
	t.Run("Exists", suite.testExists)
	t.Run("RemoveIdempotent", suite.testRemoveIdempotent)
	t.Run("EnumerateChunks", suite.testEnumerateChunks)
	t.Run("InvalidPath", suite.testInvalidPath)
}

func testContext() context.Context {
	return context.Background()
}

func testPath(name string) string {
	return fmt.Sprintf("suite/%s/%s", uuid.NewString(), name)
}

func mustWrite(t *testing.T, s storage.Storage, path string, data []byte) {
	t.Helper()
	res, err := s.Write(testContext(), path, bytes.NewReader(data), storage.WriteOptions{})
	require.NoError(t, err, "Write should succeed")
	assert.Equal(t, int64(len(data)), res.Size)
}

// ReadAll reads the blob at path and fails the test on error.
func ReadAll(t *testing.T, s storage.Storage, path string) []byte {
	t.Helper()
	rc, err := s.Read(testContext(), path, storage.ReadOptions{})
	require.NoError(t, err, "Read should succeed")
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err, "reading blob should succeed")
	return data
}

func (suite *StoreTestSuite) testWriteRead(t *testing.T) {
	s := suite.NewStore(t)
	path := testPath("chunk1")

	mustWrite(t, s, path, []byte("Hello, World!"))
	assert.Equal(t, []byte("Hello, World!"), ReadAll(t, s, path))
}

func (suite *StoreTestSuite) testWriteOverwrite(t *testing.T) {
	s := suite.NewStore(t)
	path := testPath("chunk1")

	mustWrite(t, s, path, []byte("old"))
	mustWrite(t, s, path, []byte("new content"))
	assert.Equal(t, []byte("new content"), ReadAll(t, s, path))
}

func (suite *StoreTestSuite) testWriteLarge(t *testing.T) {
	s := suite.NewStore(t)
	path := testPath("chunk1")

	data := bytes.Repeat([]byte("0123456789abcdef"), 64*1024) // 1MB
	mustWrite(t, s, path, data)
	assert.Equal(t, data, ReadAll(t, s, path))
}

func (suite *StoreTestSuite) testReadNotFound(t *testing.T) {
	s := suite.NewStore(t)

	_, err := s.Read(testContext(), testPath("missing"), storage.ReadOptions{})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func (suite *StoreTestSuite) testExists(t *testing.T) {
	s := suite.NewStore(t)
	path := testPath("chunk1")

	ok, err := s.Exists(testContext(), path, storage.ReadOptions{})
	require.NoError(t, err)
	assert.False(t, ok)

	mustWrite(t, s, path, []byte("x"))

	ok, err = s.Exists(testContext(), path, storage.ReadOptions{})
	require.NoError(t, err)
	assert.True(t, ok)
}

func (suite *StoreTestSuite) testRemoveIdempotent(t *testing.T) {
	s := suite.NewStore(t)
	path := testPath("chunk1")
	mustWrite(t, s, path, []byte("x"))

	ok, err := s.Remove(testContext(), path, storage.ReadOptions{})
	require.NoError(t, err)
	assert.True(t, ok)

	exists, err := s.Exists(testContext(), path, storage.ReadOptions{})
	require.NoError(t, err)
	assert.False(t, exists)

	ok, err = s.Remove(testContext(), path, storage.ReadOptions{})
	require.NoError(t, err)
	assert.True(t, ok, "removing a missing blob should succeed")
}

func (suite *StoreTestSuite) testEnumerateChunks(t *testing.T) {
	s := suite.NewStore(t)
	prefix := "suite/" + uuid.NewString()

	for _, n := range []int{10, 1, 2} {
		mustWrite(t, s, fmt.Sprintf("%s/chunk%d", prefix, n), []byte("x"))
	}
	mustWrite(t, s, prefix+"-other/chunk1", []byte("x"))

	paths, err := s.EnumeratePathsForFile(testContext(), prefix)
	require.NoError(t, err)
	assert.Equal(t, []string{prefix + "/chunk1", prefix + "/chunk2", prefix + "/chunk10"}, paths)

	paths, err = s.EnumeratePathsForFile(testContext(), "suite/"+uuid.NewString())
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func (suite *StoreTestSuite) testInvalidPath(t *testing.T) {
	s := suite.NewStore(t)

	for _, p := range []string{"", "/abs/path", "a/../../escape"} {
		_, err := s.Write(testContext(), p, strings.NewReader("x"), storage.WriteOptions{})
		assert.ErrorIs(t, err, storage.ErrInvalidPath, "path %q", p)
	}
}
