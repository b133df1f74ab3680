// Package fs implements a storage.Storage on the local filesystem.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/marmos91/dittodrive/pkg/storage"
)

// Config contains configuration for the filesystem backend.
type Config struct {
	// Path is the root directory for blobs. Created if missing.
	Path string `mapstructure:"path" validate:"required"`
}

// Store keeps each blob as a regular file under a root directory, mirroring
// the blob path.
//
// Writes go to a temporary file in the target directory and are renamed into
// place, so readers never observe a partially written blob.
type Store struct {
	id       string
	basePath string
}

// New creates a filesystem store rooted at cfg.Path.
//
// Parameters:
//   - ctx: Context for cancellation
//   - id: Backend identifier for logs and metrics
//   - cfg: Root directory
//
// Returns:
//   - *Store: Ready-to-use store
//   - error: Error if the root directory cannot be created
func New(ctx context.Context, id string, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("filesystem storage path is required")
	}
	if err := os.MkdirAll(cfg.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	if id == "" {
		id = "filesystem"
	}
	return &Store{id: id, basePath: cfg.Path}, nil
}

// ID implements storage.Storage.
func (s *Store) ID() string {
	return s.id
}

func (s *Store) resolve(path string) (string, error) {
	p, err := storage.CleanPath(path)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.basePath, filepath.FromSlash(p)), nil
}

// Write implements storage.Storage.
func (s *Store) Write(ctx context.Context, path string, r io.Reader, _ storage.WriteOptions) (storage.WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return storage.WriteResult{}, err
	}
	target, err := s.resolve(path)
	if err != nil {
		return storage.WriteResult{}, err
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return storage.WriteResult{}, fmt.Errorf("%s: %w: %v", s.id, storage.ErrWriteFailed, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return storage.WriteResult{}, fmt.Errorf("%s: %w: %v", s.id, storage.ErrWriteFailed, err)
	}
	tmpName := tmp.Name()

	n, copyErr := io.Copy(tmp, &ctxReader{ctx: ctx, r: r})
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmpName)
		return storage.WriteResult{}, fmt.Errorf("%s: %w: %v", s.id, storage.ErrWriteFailed, errors.Join(copyErr, closeErr))
	}

	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return storage.WriteResult{}, fmt.Errorf("%s: %w: %v", s.id, storage.ErrWriteFailed, err)
	}

	return storage.WriteResult{Size: n}, nil
}

// Read implements storage.Storage.
func (s *Store) Read(ctx context.Context, path string, _ storage.ReadOptions) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	target, err := s.resolve(path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %s: %w", s.id, path, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: failed to open blob: %w", s.id, err)
	}
	return file, nil
}

// Exists implements storage.Storage.
func (s *Store) Exists(ctx context.Context, path string, _ storage.ReadOptions) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	target, err := s.resolve(path)
	if err != nil {
		return false, err
	}

	info, err := os.Stat(target)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("%s: failed to check blob existence: %w", s.id, err)
	}
	return !info.IsDir(), nil
}

// Remove implements storage.Storage.
func (s *Store) Remove(ctx context.Context, path string, _ storage.ReadOptions) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	target, err := s.resolve(path)
	if err != nil {
		return false, err
	}

	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("%s: failed to remove blob: %w", s.id, err)
	}
	return true, nil
}

// EnumeratePathsForFile implements storage.Storage.
func (s *Store) EnumeratePathsForFile(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	root, err := s.resolve(prefix)
	if err != nil {
		return nil, err
	}

	var paths []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return fs.SkipDir
			}
			return err
		}
		if d.IsDir() || filepath.Base(p)[0] == '.' {
			return nil
		}
		rel, err := filepath.Rel(s.basePath, p)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: failed to enumerate %s: %w", s.id, prefix, err)
	}

	storage.SortPaths(paths)
	return paths, nil
}

// ctxReader stops a copy when the context is cancelled.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
