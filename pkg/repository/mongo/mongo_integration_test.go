//go:build integration

package mongo

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/marmos91/dittodrive/pkg/repository"
	repotesting "github.com/marmos91/dittodrive/pkg/repository/testing"
	"github.com/stretchr/testify/require"
)

// TestMongoConnector requires a running MongoDB, e.g.
//
//	docker run -d -p 27017:27017 mongo:7
//	MONGO_URI=mongodb://localhost:27017 go test -tags=integration ./pkg/repository/mongo/
func TestMongoConnector(t *testing.T) {
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}

	suite := &repotesting.ConnectorTestSuite{
		NewConnector: func(t *testing.T) repository.Connector {
			ctx := context.Background()
			conn, err := New(ctx, Config{URI: uri, Database: "dittodrive_test_" + uuid.NewString()[:8]})
			require.NoError(t, err)
			t.Cleanup(func() { _ = conn.db.Drop(context.Background()) })
			return conn
		},
	}
	suite.Run(t)
}
