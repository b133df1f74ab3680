package testing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/marmos91/dittodrive/pkg/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ConnectorTestSuite is a contract test suite for repository.Connector
// implementations. It exercises behaviour through the generic Repository so
// the same assertions hold for memory, Badger, SQL and MongoDB.
//
// Usage:
//
//	func TestMyConnector(t *testing.T) {
//	    suite := &testing.ConnectorTestSuite{
//	        NewConnector: func(t *testing.T) repository.Connector {
//	            return myconnector.New()
//	        },
//	    }
//	    suite.Run(t)
//	}
type ConnectorTestSuite struct {
	// NewConnector creates a fresh, empty connector for each test.
	NewConnector func(t *testing.T) repository.Connector
}

// record is the entity type used by the suite.
type record struct {
	ID        string  `json:"id"`
	CompanyID string  `json:"company_id"`
	ParentID  string  `json:"parent_id"`
	Name      string  `json:"name"`
	Trashed   bool    `json:"is_in_trash"`
	Size      int64   `json:"size"`
	Session   *string `json:"editing_session_key"`
}

const table = "records"

// Run executes all tests in the suite.
func (suite *ConnectorTestSuite) Run(t *testing.T) {
	t.Run("SaveAndGet", suite.testSaveAndGet)
	t.Run("SaveOverwrites", suite.testSaveOverwrites)
	t.Run("FindFilters", suite.testFindFilters)
	t.Run("FindPagination", suite.testFindPagination)
	t.Run("TenantIsolation", suite.testTenantIsolation)
	t.Run("MissingCompany", suite.testMissingCompany)
	t.Run("Remove", suite.testRemove)
	t.Run("CompareAndSet", suite.testCompareAndSet)
	t.Run("CompareAndSetConcurrent", suite.testCompareAndSetConcurrent)
}

func (suite *ConnectorTestSuite) newRepo(t *testing.T) *repository.Repository[record] {
	t.Helper()
	conn := suite.NewConnector(t)
	t.Cleanup(func() { _ = conn.Close() })
	return repository.New[record](table, conn, nil)
}

func mustSave(t *testing.T, repo *repository.Repository[record], r record) {
	t.Helper()
	require.NoError(t, repo.Save(context.Background(), &r), "Save should succeed")
}

func (suite *ConnectorTestSuite) testSaveAndGet(t *testing.T) {
	repo := suite.newRepo(t)
	ctx := context.Background()

	mustSave(t, repo, record{ID: "a", CompanyID: "acme", ParentID: "root", Name: "doc.txt", Size: 42})

	got, err := repo.Get(ctx, "acme", "a")
	require.NoError(t, err)
	assert.Equal(t, "doc.txt", got.Name)
	assert.Equal(t, int64(42), got.Size)
	assert.Nil(t, got.Session)

	_, err = repo.Get(ctx, "acme", "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func (suite *ConnectorTestSuite) testSaveOverwrites(t *testing.T) {
	repo := suite.newRepo(t)

	mustSave(t, repo, record{ID: "a", CompanyID: "acme", Name: "old"})
	mustSave(t, repo, record{ID: "a", CompanyID: "acme", Name: "new"})

	all, err := repo.FindAll(context.Background(), repository.Filter{"company_id": "acme"}, 10)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "new", all[0].Name)
}

func (suite *ConnectorTestSuite) testFindFilters(t *testing.T) {
	repo := suite.newRepo(t)
	ctx := context.Background()

	mustSave(t, repo, record{ID: "1", CompanyID: "acme", ParentID: "root", Name: "a"})
	mustSave(t, repo, record{ID: "2", CompanyID: "acme", ParentID: "root", Name: "b", Trashed: true})
	mustSave(t, repo, record{ID: "3", CompanyID: "acme", ParentID: "1", Name: "c"})

	page, err := repo.Find(ctx, repository.Filter{"company_id": "acme", "parent_id": "root"}, repository.FindOptions{})
	require.NoError(t, err)
	assert.Len(t, page.Entities, 2)

	page, err = repo.Find(ctx, repository.Filter{"company_id": "acme", "is_in_trash": true}, repository.FindOptions{})
	require.NoError(t, err)
	require.Len(t, page.Entities, 1)
	assert.Equal(t, "2", page.Entities[0].ID)

	page, err = repo.Find(ctx, repository.Filter{"company_id": "acme", "parent_id": "root", "is_in_trash": false}, repository.FindOptions{})
	require.NoError(t, err)
	require.Len(t, page.Entities, 1)
	assert.Equal(t, "1", page.Entities[0].ID)

	page, err = repo.Find(ctx, repository.Filter{"company_id": "acme", "editing_session_key": nil}, repository.FindOptions{})
	require.NoError(t, err)
	assert.Len(t, page.Entities, 3)
}

func (suite *ConnectorTestSuite) testFindPagination(t *testing.T) {
	repo := suite.newRepo(t)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		mustSave(t, repo, record{ID: fmt.Sprintf("id-%02d", i), CompanyID: "acme", ParentID: "root"})
	}

	var (
		seen  []string
		token string
		pages int
	)
	for {
		page, err := repo.Find(ctx, repository.Filter{"company_id": "acme"}, repository.FindOptions{Limit: 3, PageToken: token})
		require.NoError(t, err)
		pages++
		for _, r := range page.Entities {
			seen = append(seen, r.ID)
		}
		if page.NextPage == "" {
			break
		}
		token = page.NextPage
	}

	assert.Equal(t, 3, pages)
	assert.Equal(t, []string{"id-00", "id-01", "id-02", "id-03", "id-04", "id-05", "id-06"}, seen)
}

func (suite *ConnectorTestSuite) testTenantIsolation(t *testing.T) {
	repo := suite.newRepo(t)
	ctx := context.Background()

	mustSave(t, repo, record{ID: "same", CompanyID: "acme", Name: "acme's"})
	mustSave(t, repo, record{ID: "same", CompanyID: "globex", Name: "globex's"})

	got, err := repo.Get(ctx, "globex", "same")
	require.NoError(t, err)
	assert.Equal(t, "globex's", got.Name)

	page, err := repo.Find(ctx, repository.Filter{"company_id": "acme"}, repository.FindOptions{})
	require.NoError(t, err)
	require.Len(t, page.Entities, 1)
	assert.Equal(t, "acme's", page.Entities[0].Name)
}

func (suite *ConnectorTestSuite) testMissingCompany(t *testing.T) {
	repo := suite.newRepo(t)
	ctx := context.Background()

	_, err := repo.Find(ctx, repository.Filter{"parent_id": "root"}, repository.FindOptions{})
	assert.ErrorIs(t, err, repository.ErrMissingCompany)

	err = repo.Save(ctx, &record{ID: "x"})
	assert.ErrorIs(t, err, repository.ErrMissingCompany)

	_, err = repo.AtomicCompareAndSet(ctx, "", "x", "name", nil, "y")
	assert.ErrorIs(t, err, repository.ErrMissingCompany)
}

func (suite *ConnectorTestSuite) testRemove(t *testing.T) {
	repo := suite.newRepo(t)
	ctx := context.Background()

	r := record{ID: "a", CompanyID: "acme"}
	mustSave(t, repo, r)

	require.NoError(t, repo.Remove(ctx, &r))
	_, err := repo.Get(ctx, "acme", "a")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	err = repo.Remove(ctx, &r)
	assert.True(t, errors.Is(err, repository.ErrNotFound), "removing twice should report not found, got %v", err)
}

func (suite *ConnectorTestSuite) testCompareAndSet(t *testing.T) {
	repo := suite.newRepo(t)
	ctx := context.Background()

	mustSave(t, repo, record{ID: "a", CompanyID: "acme", Name: "doc"})

	ok, err := repo.AtomicCompareAndSet(ctx, "acme", "a", "editing_session_key", nil, "k1")
	require.NoError(t, err)
	assert.True(t, ok, "swap from null should succeed")

	ok, err = repo.AtomicCompareAndSet(ctx, "acme", "a", "editing_session_key", nil, "k2")
	require.NoError(t, err)
	assert.False(t, ok, "swap from null should fail once a key is set")

	got, err := repo.Get(ctx, "acme", "a")
	require.NoError(t, err)
	require.NotNil(t, got.Session)
	assert.Equal(t, "k1", *got.Session)
	assert.Equal(t, "doc", got.Name, "other fields must be preserved")

	ok, err = repo.AtomicCompareAndSet(ctx, "acme", "a", "editing_session_key", "k1", nil)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err = repo.Get(ctx, "acme", "a")
	require.NoError(t, err)
	assert.Nil(t, got.Session)

	_, err = repo.AtomicCompareAndSet(ctx, "acme", "missing", "editing_session_key", nil, "k")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func (suite *ConnectorTestSuite) testCompareAndSetConcurrent(t *testing.T) {
	repo := suite.newRepo(t)
	ctx := context.Background()

	mustSave(t, repo, record{ID: "a", CompanyID: "acme"})

	const workers = 16
	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := repo.AtomicCompareAndSet(ctx, "acme", "a", "editing_session_key", nil, fmt.Sprintf("k%d", i))
			if err == nil && ok {
				winners.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load(), "exactly one concurrent compare-and-set must win")
}
