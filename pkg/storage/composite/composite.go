// Package composite implements a storage.Storage that fans out over several
// independently configured backends.
//
// Semantics:
//   - Write streams the content to every backend concurrently and succeeds if
//     at least one backend stored it. Each failing backend is logged with its
//     id. Only when every backend fails does Write return ErrWriteFailed
//     (wrapping ErrAllBackendsFailed).
//   - Read tries backends in declared priority order and serves the first
//     one reporting the path exists. ErrNotFound only when none has it.
//   - Exists short-circuits on the first backend reporting true. An error
//     from any backend consulted is returned as is, never read as "absent".
//   - Remove is sent to every backend and reports success only when all of
//     them confirm the deletion.
//
// Operational note: this strategy favours availability over consistency.
// After a partial write failure, or a partial removal, backends hold different
// sets of blobs and nothing in this package brings them back in line.
// Operators running more than one backend must schedule an external
// reconciliation job (for example a periodic bucket sync from the primary
// backend to the others) to restore redundancy and purge leftovers.
package composite

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/storage"
	"golang.org/x/sync/errgroup"
)

// fanOutBufferSize is the chunk size copied to every backend per step.
const fanOutBufferSize = 32 * 1024

var errBackendFinished = errors.New("backend stopped reading")

// Store is a composite storage.Storage.
//
// Thread Safety:
// The backend list is immutable after construction. Concurrency safety is
// inherited from the backends.
type Store struct {
	backends []storage.Storage
}

// New creates a composite store. Backends are listed in read priority order.
func New(backends ...storage.Storage) (*Store, error) {
	if len(backends) == 0 {
		return nil, fmt.Errorf("composite storage requires at least one backend")
	}
	return &Store{backends: backends}, nil
}

// ID implements storage.Storage.
func (s *Store) ID() string {
	return "composite"
}

// Backends returns the configured backends in priority order.
func (s *Store) Backends() []storage.Storage {
	return s.backends
}

// Write implements storage.Storage.
func (s *Store) Write(ctx context.Context, path string, r io.Reader, opts storage.WriteOptions) (storage.WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return storage.WriteResult{}, err
	}

	n := len(s.backends)
	readers := make([]*io.PipeReader, n)
	writers := make([]*io.PipeWriter, n)
	for i := range s.backends {
		readers[i], writers[i] = io.Pipe()
	}

	results := make([]storage.WriteResult, n)
	errs := make([]error, n)

	var g errgroup.Group
	for i, backend := range s.backends {
		g.Go(func() error {
			results[i], errs[i] = backend.Write(ctx, path, readers[i], opts)
			// Unblock the fan-out if the backend returned without draining.
			_ = readers[i].CloseWithError(errBackendFinished)
			return nil
		})
	}

	srcErr := fanOut(r, writers)
	_ = g.Wait()

	var (
		merr    *multierror.Error
		success = -1
	)
	for i, backend := range s.backends {
		err := errs[i]
		if err == nil && srcErr != nil {
			err = srcErr
		}
		if err != nil {
			logger.Warn("Composite storage: write of %s failed on backend %q: %v", path, backend.ID(), err)
			merr = multierror.Append(merr, fmt.Errorf("%s: %w", backend.ID(), err))
			continue
		}
		if success < 0 {
			success = i
		}
	}

	if success < 0 {
		return storage.WriteResult{}, fmt.Errorf("composite write %s: %w: %w: %w",
			path, storage.ErrWriteFailed, storage.ErrAllBackendsFailed, merr.ErrorOrNil())
	}
	return results[success], nil
}

// fanOut copies src to every writer, dropping writers whose reader side has
// gone away. Writers still alive at the end are closed, with the source error
// if reading failed.
func fanOut(src io.Reader, writers []*io.PipeWriter) error {
	alive := make([]bool, len(writers))
	for i := range alive {
		alive[i] = true
	}
	remaining := len(writers)

	buf := make([]byte, fanOutBufferSize)
	var srcErr error
	for remaining > 0 {
		n, err := src.Read(buf)
		if n > 0 {
			for i, w := range writers {
				if !alive[i] {
					continue
				}
				if _, werr := w.Write(buf[:n]); werr != nil {
					alive[i] = false
					remaining--
				}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			srcErr = err
			break
		}
	}

	for i, w := range writers {
		if !alive[i] {
			continue
		}
		if srcErr != nil {
			_ = w.CloseWithError(srcErr)
		} else {
			_ = w.Close()
		}
	}
	return srcErr
}

// Read implements storage.Storage.
func (s *Store) Read(ctx context.Context, path string, opts storage.ReadOptions) (io.ReadCloser, error) {
	for _, backend := range s.backends {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		exists, err := backend.Exists(ctx, path, opts)
		if err != nil {
			logger.Warn("Composite storage: exists check for %s failed on backend %q: %v", path, backend.ID(), err)
			continue
		}
		if !exists {
			continue
		}

		rc, err := backend.Read(ctx, path, opts)
		if err != nil {
			logger.Warn("Composite storage: read of %s failed on backend %q: %v", path, backend.ID(), err)
			continue
		}
		return rc, nil
	}

	return nil, fmt.Errorf("composite read %s: %w", path, storage.ErrNotFound)
}

// Exists implements storage.Storage.
func (s *Store) Exists(ctx context.Context, path string, opts storage.ReadOptions) (bool, error) {
	for _, backend := range s.backends {
		exists, err := backend.Exists(ctx, path, opts)
		if err != nil {
			return false, fmt.Errorf("composite exists %s on backend %q: %w", path, backend.ID(), err)
		}
		if exists {
			return true, nil
		}
	}
	return false, nil
}

// Remove implements storage.Storage.
func (s *Store) Remove(ctx context.Context, path string, opts storage.ReadOptions) (bool, error) {
	var (
		mu   sync.Mutex
		merr *multierror.Error
		all  = true
		g    errgroup.Group
	)

	for _, backend := range s.backends {
		g.Go(func() error {
			ok, err := backend.Remove(ctx, path, opts)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Warn("Composite storage: remove of %s failed on backend %q: %v", path, backend.ID(), err)
				merr = multierror.Append(merr, fmt.Errorf("%s: %w", backend.ID(), err))
			}
			if err != nil || !ok {
				all = false
			}
			return nil
		})
	}
	_ = g.Wait()

	return all, merr.ErrorOrNil()
}

// EnumeratePathsForFile implements storage.Storage and returns the union of
// the paths found on every backend.
func (s *Store) EnumeratePathsForFile(ctx context.Context, prefix string) ([]string, error) {
	var (
		merr   *multierror.Error
		failed int
		seen   = make(map[string]struct{})
	)

	for _, backend := range s.backends {
		paths, err := backend.EnumeratePathsForFile(ctx, prefix)
		if err != nil {
			logger.Warn("Composite storage: enumerate %s failed on backend %q: %v", prefix, backend.ID(), err)
			merr = multierror.Append(merr, fmt.Errorf("%s: %w", backend.ID(), err))
			failed++
			continue
		}
		for _, p := range paths {
			seen[p] = struct{}{}
		}
	}

	if failed == len(s.backends) {
		return nil, fmt.Errorf("composite enumerate %s: %w: %w", prefix, storage.ErrAllBackendsFailed, merr.ErrorOrNil())
	}

	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	storage.SortPaths(paths)
	return paths, nil
}
