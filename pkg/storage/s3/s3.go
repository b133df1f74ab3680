// Package s3 implements a storage.Storage on Amazon S3 or any S3-compatible
// object store.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/storage"
)

// Config contains configuration for the S3 backend.
type Config struct {
	Region          string `mapstructure:"region" validate:"required"`
	Bucket          string `mapstructure:"bucket" validate:"required"`
	KeyPrefix       string `mapstructure:"key_prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	// MaxRetries is the attempt count for transient failures. Default: 10.
	MaxRetries int `mapstructure:"max_retries"`

	// SkipBucketCheck disables the HeadBucket probe at startup.
	SkipBucketCheck bool `mapstructure:"skip_bucket_check"`
}

// Store is an S3-backed blob store.
type Store struct {
	id        string
	client    *s3.Client
	bucket    string
	keyPrefix string
}

// NewClient builds an S3 client from cfg.
//
// A custom Endpoint (MinIO, Localstack, ...) switches to path-style
// addressing. Without static credentials the default AWS credential chain is
// used.
func NewClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	var configOptions []func(*awsConfig.LoadOptions) error

	configOptions = append(configOptions, awsConfig.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// New creates an S3 store.
//
// Parameters:
//   - ctx: Context for client setup and the bucket probe
//   - id: Backend identifier for logs and metrics
//   - cfg: Bucket, region, endpoint and credentials
//
// Returns:
//   - *Store: Ready-to-use store
//   - error: Error if the client cannot be built or the bucket is not accessible
func New(ctx context.Context, id string, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	client, err := NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return NewWithClient(ctx, id, client, cfg)
}

// NewWithClient creates an S3 store using an existing client.
func NewWithClient(ctx context.Context, id string, client *s3.Client, cfg Config) (*Store, error) {
	if !cfg.SkipBucketCheck {
		if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
			return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
		}
	}
	if id == "" {
		id = "s3"
	}

	logger.Info("S3 storage %q initialized: bucket=%s, region=%s, prefix=%s", id, cfg.Bucket, cfg.Region, cfg.KeyPrefix)
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
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}

// Write implements storage.Storage.
//
// The content is buffered so the SDK can sign the payload and retry it.
// Callers bound blob size by chunking (see pkg/files).
func (s *Store) Write(ctx context.Context, path string, r io.Reader, opts storage.WriteOptions) (storage.WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return storage.WriteResult{}, err
	}
	key, err := s.objectKey(path)
	if err != nil {
		return storage.WriteResult{}, err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return storage.WriteResult{}, fmt.Errorf("%s: %w: %v", s.id, storage.ErrWriteFailed, err)
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return storage.WriteResult{}, fmt.Errorf("%s: %w: %v", s.id, storage.ErrWriteFailed, err)
	}
	return storage.WriteResult{Size: int64(len(data))}, nil
}

// Read implements storage.Storage.
func (s *Store) Read(ctx context.Context, path string, _ storage.ReadOptions) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := s.objectKey(path)
	if err != nil {
		return nil, err
	}

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s: %s: %w", s.id, path, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: failed to get object: %w", s.id, err)
	}
	return result.Body, nil
}

// Exists implements storage.Storage.
func (s *Store) Exists(ctx context.Context, path string, _ storage.ReadOptions) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	key, err := s.objectKey(path)
	if err != nil {
		return false, err
	}

	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("%s: failed to check object existence: %w", s.id, err)
	}
	return true, nil
}

// Remove implements storage.Storage. S3 deletes are idempotent.
func (s *Store) Remove(ctx context.Context, path string, _ storage.ReadOptions) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	key, err := s.objectKey(path)
	if err != nil {
		return false, err
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFound(err) {
		return false, fmt.Errorf("%s: failed to delete object: %w", s.id, err)
	}
	return true, nil
}

// EnumeratePathsForFile implements storage.Storage.
func (s *Store) EnumeratePathsForFile(ctx context.Context, prefix string) ([]string, error) {
	p, err := storage.CleanPath(prefix)
	if err != nil {
		return nil, err
	}
	key := s.keyPrefix + p

	var paths []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(key),
	})
	for paginator.HasMorePages() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to list objects: %w", s.id, err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), s.keyPrefix)
			if name == p || strings.HasPrefix(name, p+"/") {
				paths = append(paths, name)
			}
		}
	}

	storage.SortPaths(paths)
	return paths, nil
}
