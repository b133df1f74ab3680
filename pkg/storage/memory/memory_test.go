package memory

import (
	"testing"

	"github.com/marmos91/dittodrive/pkg/storage"
	storagetesting "github.com/marmos91/dittodrive/pkg/storage/testing"
)

func TestMemoryStore(t *testing.T) {
	suite := &storagetesting.StoreTestSuite{
		NewStore: func(t *testing.T) storage.Storage {
			return New("memory")
		},
	}
	suite.Run(t)
}
