// Package b2 implements a storage.Storage on Backblaze B2 through the blazer
// client.
package b2

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/kurin/blazer/b2"
	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/storage"
)

// Config contains configuration for the Backblaze B2 backend.
type Config struct {
	KeyID          string `mapstructure:"key_id" validate:"required"`
	ApplicationKey string `mapstructure:"application_key" validate:"required"`
	Bucket         string `mapstructure:"bucket" validate:"required"`
	KeyPrefix      string `mapstructure:"key_prefix"`
}

// Store is a B2-backed blob store.
type Store struct {
	id        string
	bucket    *b2.Bucket
	keyPrefix string
}

// New authorizes against B2 and opens the bucket.
func New(ctx context.Context, id string, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client, err := b2.NewClient(ctx, cfg.KeyID, cfg.ApplicationKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create B2 client: %w", err)
	}

	bucket, err := client.Bucket(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to get bucket %s: %w", cfg.Bucket, err)
	}

	if id == "" {
		id = "b2"
	}
	logger.Info("B2 storage %q initialized: bucket=%s, prefix=%s", id, cfg.Bucket, cfg.KeyPrefix)
	return &Store{id: id, bucket: bucket, keyPrefix: cfg.KeyPrefix}, nil
}

// ID implements storage.Storage.
func (s *Store) ID() string {
	return s.id
}

func (s *Store) object(path string) (*b2.Object, error) {
	p, err := storage.CleanPath(path)
	if err != nil {
		return nil, err
	}
	return s.bucket.Object(s.keyPrefix + p), nil
}

// countingWriter tracks bytes written through it.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Write implements storage.Storage. Content is streamed to B2; blazer splits
// large blobs into large-file parts on its own.
func (s *Store) Write(ctx context.Context, path string, r io.Reader, _ storage.WriteOptions) (storage.WriteResult, error) {
	obj, err := s.object(path)
	if err != nil {
		return storage.WriteResult{}, err
	}

	writer := obj.NewWriter(ctx)
	cw := &countingWriter{w: writer}
	if _, err := io.Copy(cw, r); err != nil {
		_ = writer.Close()
		return storage.WriteResult{}, fmt.Errorf("%s: %w: %v", s.id, storage.ErrWriteFailed, err)
	}
	if err := writer.Close(); err != nil {
		return storage.WriteResult{}, fmt.Errorf("%s: %w: %v", s.id, storage.ErrWriteFailed, err)
	}
	return storage.WriteResult{Size: cw.n}, nil
}

// Read implements storage.Storage.
func (s *Store) Read(ctx context.Context, path string, _ storage.ReadOptions) (io.ReadCloser, error) {
	obj, err := s.object(path)
	if err != nil {
		return nil, err
	}

	if _, err := obj.Attrs(ctx); err != nil {
		if b2.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %s: %w", s.id, path, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: failed to read attributes: %w", s.id, err)
	}
	return obj.NewReader(ctx), nil
}

// Exists implements storage.Storage.
func (s *Store) Exists(ctx context.Context, path string, _ storage.ReadOptions) (bool, error) {
	obj, err := s.object(path)
	if err != nil {
		return false, err
	}

	if _, err := obj.Attrs(ctx); err != nil {
		if b2.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("%s: failed to read attributes: %w", s.id, err)
	}
	return true, nil
}

// Remove implements storage.Storage.
func (s *Store) Remove(ctx context.Context, path string, _ storage.ReadOptions) (bool, error) {
	obj, err := s.object(path)
	if err != nil {
		return false, err
	}

	if err := obj.Delete(ctx); err != nil && !b2.IsNotExist(err) {
		return false, fmt.Errorf("%s: failed to delete file: %w", s.id, err)
	}
	return true, nil
}

// EnumeratePathsForFile implements storage.Storage.
func (s *Store) EnumeratePathsForFile(ctx context.Context, prefix string) ([]string, error) {
	p, err := storage.CleanPath(prefix)
	if err != nil {
		return nil, err
	}

	var paths []string
	iter := s.bucket.List(ctx, b2.ListPrefix(s.keyPrefix+p))
	for iter.Next() {
		name := strings.TrimPrefix(iter.Object().Name(), s.keyPrefix)
		if name == p || strings.HasPrefix(name, p+"/") {
			paths = append(paths, name)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%s: failed to list files: %w", s.id, err)
	}

	storage.SortPaths(paths)
	return paths, nil
}
