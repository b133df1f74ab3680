// Package memory implements an in-memory storage.Storage.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/marmos91/dittodrive/pkg/storage"
)

// Store keeps blobs in a map.
//
// Thread Safety:
// All operations are protected by a read-write mutex. Read returns a reader
// over a private copy, so later writes never affect an open reader.
type Store struct {
	id string

	mu    sync.RWMutex
	blobs map[string][]byte
}

// New creates an empty in-memory store identified by id.
func New(id string) *Store {
	if id == "" {
		id = "memory"
	}
	return &Store{id: id, blobs: make(map[string][]byte)}
}

// ID implements storage.Storage.
func (s *Store) ID() string {
	return s.id
}

// Write implements storage.Storage.
func (s *Store) Write(ctx context.Context, path string, r io.Reader, _ storage.WriteOptions) (storage.WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return storage.WriteResult{}, err
	}
	p, err := storage.CleanPath(path)
	if err != nil {
		return storage.WriteResult{}, err
	}

	// Buffer outside the lock; r may be slow.
	data, err := io.ReadAll(r)
	if err != nil {
		return storage.WriteResult{}, fmt.Errorf("%s: %w: %v", s.id, storage.ErrWriteFailed, err)
	}

	s.mu.Lock()
	s.blobs[p] = data
	s.mu.Unlock()

	return storage.WriteResult{Size: int64(len(data))}, nil
}

// Read implements storage.Storage.
func (s *Store) Read(ctx context.Context, path string, _ storage.ReadOptions) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := storage.CleanPath(path)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	data, ok := s.blobs[p]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %s: %w", s.id, p, storage.ErrNotFound)
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	return io.NopCloser(bytes.NewReader(buf)), nil
}

// Exists implements storage.Storage.
func (s *Store) Exists(ctx context.Context, path string, _ storage.ReadOptions) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p, err := storage.CleanPath(path)
	if err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobs[p]
	return ok, nil
}

// Remove implements storage.Storage.
func (s *Store) Remove(ctx context.Context, path string, _ storage.ReadOptions) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p, err := storage.CleanPath(path)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	delete(s.blobs, p)
	s.mu.Unlock()
	return true, nil
}

// EnumeratePathsForFile implements storage.Storage.
func (s *Store) EnumeratePathsForFile(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := storage.CleanPath(prefix)
	if err != nil {
		return nil, err
	}
	dir := p + "/"

	s.mu.RLock()
	var paths []string
	for key := range s.blobs {
		if key == p || strings.HasPrefix(key, dir) {
			paths = append(paths, key)
		}
	}
	s.mu.RUnlock()

	storage.SortPaths(paths)
	return paths, nil
}

// Len returns the number of stored blobs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
