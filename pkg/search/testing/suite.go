package testing

import (
	"context"
	"fmt"
	"testing"

	"github.com/marmos91/dittodrive/pkg/search"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AdapterTestSuite is a contract test suite for search.Adapter
// implementations.
type AdapterTestSuite struct {
	// NewAdapter creates a fresh, empty index for each test.
	NewAdapter func(t *testing.T) search.Adapter
}

const table = "drive_items"

// Run executes all tests in the suite.
func (suite *AdapterTestSuite) Run(t *testing.T) {
	t.Run("TextMatch", suite.testTextMatch)
	t.Run("Filters", suite.testFilters)
	t.Run("UpsertIsIdempotent", suite.testUpsertIdempotent)
	t.Run("Remove", suite.testRemove)
	t.Run("TenantIsolation", suite.testTenantIsolation)
	t.Run("Pagination", suite.testPagination)
	t.Run("LiteralText", suite.testLiteralText)
	t.Run("MissingCompany", suite.testMissingCompany)
}

func doc(company, id, text string, fields map[string]any) search.Document {
	return search.Document{Table: table, CompanyID: company, ID: id, Text: text, Fields: fields}
}

func (suite *AdapterTestSuite) seed(t *testing.T, a search.Adapter, docs ...search.Document) {
	t.Helper()
	for _, d := range docs {
		require.NoError(t, a.Upsert(context.Background(), d))
	}
}

func (suite *AdapterTestSuite) testTextMatch(t *testing.T) {
	a := suite.NewAdapter(t)
	suite.seed(t, a,
		doc("c1", "1", "Quarterly Report.pdf", nil),
		doc("c1", "2", "holiday photos", nil),
		doc("c1", "3", "report draft", nil),
	)

	res, err := a.Search(context.Background(), search.Query{Table: table, CompanyID: "c1", Text: "REPORT"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "3"}, res.IDs)
	assert.Empty(t, res.NextPage)
}

func (suite *AdapterTestSuite) testFilters(t *testing.T) {
	a := suite.NewAdapter(t)
	suite.seed(t, a,
		doc("c1", "1", "a", map[string]any{"is_directory": true, "creator": "alice"}),
		doc("c1", "2", "a", map[string]any{"is_directory": false, "creator": "alice"}),
		doc("c1", "3", "a", map[string]any{"is_directory": false, "creator": "bob"}),
	)

	res, err := a.Search(context.Background(), search.Query{
		Table: table, CompanyID: "c1",
		Filters: map[string]any{"is_directory": false, "creator": "alice"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, res.IDs)
}

func (suite *AdapterTestSuite) testUpsertIdempotent(t *testing.T) {
	a := suite.NewAdapter(t)
	d := doc("c1", "1", "first name", nil)
	suite.seed(t, a, d, d)
	d.Text = "renamed"
	suite.seed(t, a, d)

	res, err := a.Search(context.Background(), search.Query{Table: table, CompanyID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, res.IDs)

	res, err = a.Search(context.Background(), search.Query{Table: table, CompanyID: "c1", Text: "first"})
	require.NoError(t, err)
	assert.Empty(t, res.IDs)
}

func (suite *AdapterTestSuite) testRemove(t *testing.T) {
	a := suite.NewAdapter(t)
	ctx := context.Background()
	suite.seed(t, a, doc("c1", "1", "x", nil))

	require.NoError(t, a.Remove(ctx, table, "c1", "1"))
	require.NoError(t, a.Remove(ctx, table, "c1", "1"), "removing twice must succeed")

	res, err := a.Search(ctx, search.Query{Table: table, CompanyID: "c1"})
	require.NoError(t, err)
	assert.Empty(t, res.IDs)
}

func (suite *AdapterTestSuite) testTenantIsolation(t *testing.T) {
	a := suite.NewAdapter(t)
	suite.seed(t, a, doc("c1", "1", "shared name", nil), doc("c2", "2", "shared name", nil))

	res, err := a.Search(context.Background(), search.Query{Table: table, CompanyID: "c2", Text: "shared"})
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, res.IDs)
}

func (suite *AdapterTestSuite) testPagination(t *testing.T) {
	a := suite.NewAdapter(t)
	for i := 0; i < 5; i++ {
		suite.seed(t, a, doc("c1", fmt.Sprintf("id-%d", i), "file", nil))
	}

	var all []string
	token := ""
	pages := 0
	for {
		res, err := a.Search(context.Background(), search.Query{Table: table, CompanyID: "c1", Limit: 2, PageToken: token})
		require.NoError(t, err)
		all = append(all, res.IDs...)
		pages++
		if res.NextPage == "" {
			break
		}
		token = res.NextPage
	}
	assert.Equal(t, 3, pages)
	assert.Equal(t, []string{"id-0", "id-1", "id-2", "id-3", "id-4"}, all)
}

func (suite *AdapterTestSuite) testLiteralText(t *testing.T) {
	a := suite.NewAdapter(t)
	suite.seed(t, a, doc("c1", "1", "budget (final).xlsx", nil), doc("c1", "2", "budget final", nil))

	res, err := a.Search(context.Background(), search.Query{Table: table, CompanyID: "c1", Text: "(final)"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, res.IDs)
}

func (suite *AdapterTestSuite) testMissingCompany(t *testing.T) {
	a := suite.NewAdapter(t)
	_, err := a.Search(context.Background(), search.Query{Table: table})
	require.ErrorIs(t, err, search.ErrMissingCompany)
	require.ErrorIs(t, a.Upsert(context.Background(), search.Document{Table: table, ID: "1"}), search.ErrMissingCompany)
}
