// Package storage defines the blob storage abstraction used for file
// content, and helpers shared by its backends.
//
// Blobs are addressed by slash-separated relative paths. Paths are opaque to
// the storage layer; callers (see pkg/files) decide the layout. Blobs are
// immutable once written: a new version of a file is always a new path.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// WriteOptions carries per-write hints.
type WriteOptions struct {
	// ContentType is stored as object metadata where the backend supports it.
	ContentType string
}

// ReadOptions carries per-read hints.
type ReadOptions struct{}

// WriteResult describes a completed write.
type WriteResult struct {
	// Size is the number of bytes persisted.
	Size int64
}

// Storage is a blob store.
//
// Thread Safety:
// Implementations must be safe for concurrent use by multiple goroutines.
type Storage interface {
	// ID returns a short identifier used in logs and metrics.
	ID() string

	// Write stores the content of r at path, replacing any previous blob.
	Write(ctx context.Context, path string, r io.Reader, opts WriteOptions) (WriteResult, error)

	// Read opens the blob at path. The caller must close the returned reader.
	// Returns ErrNotFound if the blob does not exist.
	Read(ctx context.Context, path string, opts ReadOptions) (io.ReadCloser, error)

	// Exists reports whether a blob exists at path.
	Exists(ctx context.Context, path string, opts ReadOptions) (bool, error)

	// Remove deletes the blob at path. Removing a missing blob is not an error.
	//
	// Returns true when the blob is confirmed absent after the call.
	Remove(ctx context.Context, path string, opts ReadOptions) (bool, error)

	// EnumeratePathsForFile lists every blob stored under prefix, ordered so
	// that numbered chunks come back in numeric order ("chunk2" before
	// "chunk10").
	EnumeratePathsForFile(ctx context.Context, prefix string) ([]string, error)
}

// CleanPath validates and normalizes a blob path.
//
// Returns ErrInvalidPath for empty or absolute paths and paths containing
// ".." segments.
func CleanPath(p string) (string, error) {
	if p == "" || strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("%q: %w", p, ErrInvalidPath)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%q: %w", p, ErrInvalidPath)
		}
	}
	return path.Clean(p), nil
}

// SortPaths orders paths lexicographically except that a trailing run of
// digits compares numerically.
func SortPaths(paths []string) {
	sort.Slice(paths, func(i, j int) bool {
		bi, ni := splitTrailingNumber(paths[i])
		bj, nj := splitTrailingNumber(paths[j])
		if bi != bj {
			return bi < bj
		}
		return ni < nj
	})
}

func splitTrailingNumber(s string) (string, int) {
	i := len(s)
	for i > 0 && unicode.IsDigit(rune(s[i-1])) {
		i--
	}
	if i == len(s) {
		return s, -1
	}
	n, err := strconv.Atoi(s[i:])
	if err != nil {
		return s, -1
	}
	return s[:i], n
}
