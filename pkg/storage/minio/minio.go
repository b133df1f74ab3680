// Package minio implements a storage.Storage on a MinIO server using the
// native minio-go client.
package minio

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/storage"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config contains configuration for the MinIO backend.
type Config struct {
	Endpoint  string `mapstructure:"endpoint" validate:"required"`
	AccessKey string `mapstructure:"access_key" validate:"required"`
	SecretKey string `mapstructure:"secret_key" validate:"required"`
	Bucket    string `mapstructure:"bucket" validate:"required"`
	KeyPrefix string `mapstructure:"key_prefix"`
	UseSSL    bool   `mapstructure:"use_ssl"`

	// CreateBucket creates the bucket at startup when it does not exist.
	CreateBucket bool `mapstructure:"create_bucket"`
}

// Store is a MinIO-backed blob store.
type Store struct {
	id        string
	client    *minio.Client
	bucket    string
	keyPrefix string
}

// New connects to MinIO and checks (or creates) the bucket.
func New(ctx context.Context, id string, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("error checking if bucket exists: %w", err)
	}
	if !exists {
		if !cfg.CreateBucket {
			return nil, fmt.Errorf("bucket %q does not exist", cfg.Bucket)
		}
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("error creating bucket: %w", err)
		}
		logger.Info("MinIO bucket %s created", cfg.Bucket)
	}

	if id == "" {
		id = "minio"
	}
	logger.Info("MinIO storage %q initialized: endpoint=%s, bucket=%s", id, cfg.Endpoint, cfg.Bucket)
	return &Store{id: id, client: client, bucket: cfg.Bucket, keyPrefix: cfg.KeyPrefix}, nil
}

// ID implements storage.Storage.
func (s *Store) ID() string {
	return s.id
}

func (s *Store) objectKey(path string) (string, error) {
	p, err := storage.CleanPath(path)
	if err != nil {
		return "", err
	}
	return s.keyPrefix + p, nil
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

// Write implements storage.Storage. The object is streamed with an unknown
// size, letting minio-go switch to multipart uploads for large blobs.
func (s *Store) Write(ctx context.Context, path string, r io.Reader, opts storage.WriteOptions) (storage.WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return storage.WriteResult{}, err
	}
	key, err := s.objectKey(path)
	if err != nil {
		return storage.WriteResult{}, err
	}

	info, err := s.client.PutObject(ctx, s.bucket, key, r, -1, minio.PutObjectOptions{ContentType: opts.ContentType})
	if err != nil {
		return storage.WriteResult{}, fmt.Errorf("%s: %w: %v", s.id, storage.ErrWriteFailed, err)
	}
	return storage.WriteResult{Size: info.Size}, nil
}

// Read implements storage.Storage.
func (s *Store) Read(ctx context.Context, path string, opts storage.ReadOptions) (io.ReadCloser, error) {
	key, err := s.objectKey(path)
	if err != nil {
		return nil, err
	}

	// GetObject is lazy; stat first so a missing object fails here.
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s: %s: %w", s.id, path, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: failed to stat object: %w", s.id, err)
	}

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("%s: failed to get object: %w", s.id, err)
	}
	return obj, nil
}

// Exists implements storage.Storage.
func (s *Store) Exists(ctx context.Context, path string, _ storage.ReadOptions) (bool, error) {
	key, err := s.objectKey(path)
	if err != nil {
		return false, err
	}

	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("%s: failed to stat object: %w", s.id, err)
	}
	return true, nil
}

// Remove implements storage.Storage.
func (s *Store) Remove(ctx context.Context, path string, _ storage.ReadOptions) (bool, error) {
	key, err := s.objectKey(path)
	if err != nil {
		return false, err
	}

	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil && !isNotFound(err) {
		return false, fmt.Errorf("%s: failed to remove object: %w", s.id, err)
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
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: s.keyPrefix + p, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("%s: failed to list objects: %w", s.id, obj.Err)
		}
		name := strings.TrimPrefix(obj.Key, s.keyPrefix)
		if name == p || strings.HasPrefix(name, p+"/") {
			paths = append(paths, name)
		}
	}

	storage.SortPaths(paths)
	return paths, nil
}
