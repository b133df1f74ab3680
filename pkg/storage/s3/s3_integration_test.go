//go:build integration

package s3

import (
	"context"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/marmos91/dittodrive/pkg/storage"
	storagetesting "github.com/marmos91/dittodrive/pkg/storage/testing"
	"github.com/stretchr/testify/require"
)

// TestS3Store_Integration runs the storage contract suite against a real
// S3-compatible service (Localstack).
//
// Prerequisites:
//   - Localstack running on localhost:4566
//   - Run with: go test -tags=integration ./pkg/storage/s3/...
//
// To start Localstack:
//
//	docker run --rm -p 4566:4566 localstack/localstack
func TestS3Store_Integration(t *testing.T) {
	ctx := context.Background()

	endpoint := os.Getenv("LOCALSTACK_ENDPOINT")
	if endpoint == "" {
		endpoint = "http://localhost:4566"
	}

	cfg := Config{
		Region:          "us-east-1",
		Bucket:          "dittodrive-test-" + uuid.NewString()[:8],
		Endpoint:        endpoint,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	}

	client, err := NewClient(ctx, cfg)
	require.NoError(t, err)

	_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(cfg.Bucket)})
	require.NoError(t, err)

	suite := &storagetesting.StoreTestSuite{
		NewStore: func(t *testing.T) storage.Storage {
			s, err := NewWithClient(ctx, "s3", client, cfg)
			require.NoError(t, err)
			return s
		},
	}
	suite.Run(t)
}
