package memory

import (
	"testing"

	"github.com/marmos91/dittodrive/pkg/search"
	searchtesting "github.com/marmos91/dittodrive/pkg/search/testing"
)

func TestMemoryAdapter(t *testing.T) {
	suite := &searchtesting.AdapterTestSuite{
		NewAdapter: func(t *testing.T) search.Adapter {
			return New()
		},
	}
	suite.Run(t)
}
