package badger

import (
	"context"
	"testing"

	"github.com/marmos91/dittodrive/pkg/repository"
	repotesting "github.com/marmos91/dittodrive/pkg/repository/testing"
	"github.com/stretchr/testify/require"
)

func TestBadgerConnector(t *testing.T) {
	suite := &repotesting.ConnectorTestSuite{
		NewConnector: func(t *testing.T) repository.Connector {
			conn, err := New(context.Background(), Config{DBPath: t.TempDir()})
			require.NoError(t, err)
			return conn
		},
	}
	suite.Run(t)
}

func TestBadgerConnector_Persistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	conn, err := New(ctx, Config{DBPath: dir})
	require.NoError(t, err)
	require.NoError(t, conn.Save(ctx, "items", "acme", "a", []byte(`{"id":"a","company_id":"acme","name":"kept"}`)))
	require.NoError(t, conn.Close())

	conn, err = New(ctx, Config{DBPath: dir})
	require.NoError(t, err)
	defer conn.Close()

	page, err := conn.Find(ctx, "items", repository.Filter{"company_id": "acme", "name": "kept"}, repository.FindOptions{})
	require.NoError(t, err)
	require.Len(t, page.Documents, 1)
}
