//go:build integration

package minio

import (
	"context"
	"os"
	"testing"

	"github.com/marmos91/dittodrive/pkg/storage"
	storagetesting "github.com/marmos91/dittodrive/pkg/storage/testing"
	"github.com/stretchr/testify/require"
)

// TestMinioStore_Integration requires a MinIO server:
//
//	docker run --rm -p 9000:9000 minio/minio server /data
//	go test -tags=integration ./pkg/storage/minio/...
func TestMinioStore_Integration(t *testing.T) {
	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		endpoint = "localhost:9000"
	}

	suite := &storagetesting.StoreTestSuite{
		NewStore: func(t *testing.T) storage.Storage {
			s, err := New(context.Background(), "minio", Config{
				Endpoint:     endpoint,
				AccessKey:    "minioadmin",
				SecretKey:    "minioadmin",
				Bucket:       "dittodrive-test",
				CreateBucket: true,
			})
			require.NoError(t, err)
			return s
		},
	}
	suite.Run(t)
}
