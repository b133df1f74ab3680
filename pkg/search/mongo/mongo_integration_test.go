//go:build integration

package mongo

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/marmos91/dittodrive/pkg/search"
	searchtesting "github.com/marmos91/dittodrive/pkg/search/testing"
	"github.com/stretchr/testify/require"
)

func TestMongoAdapter(t *testing.T) {
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}

	suite := &searchtesting.AdapterTestSuite{
		NewAdapter: func(t *testing.T) search.Adapter {
			a, err := New(context.Background(), Config{URI: uri, Database: "dittodrive_search_" + uuid.NewString()[:8]})
			require.NoError(t, err)
			t.Cleanup(func() {
				_ = a.db.Drop(context.Background())
				_ = a.Close()
			})
			return a
		},
	}
	suite.Run(t)
}
