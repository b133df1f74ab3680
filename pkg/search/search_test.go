package search_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/marmos91/dittodrive/pkg/drive"
	"github.com/marmos91/dittodrive/pkg/repository"
	repomemory "github.com/marmos91/dittodrive/pkg/repository/memory"
	"github.com/marmos91/dittodrive/pkg/search"
	"github.com/marmos91/dittodrive/pkg/search/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexerFollowsRepository(t *testing.T) {
	ctx := context.Background()
	outbox := repository.NewOutbox(repository.OutboxConfig{MinBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond})
	index := memory.New()
	search.NewIndexer(index, map[string]search.Mapper{"drive_items": search.DriveItemMapper}).Attach(outbox)
	outbox.Start(ctx)
	defer outbox.Stop()

	items := repository.New[drive.DriveItem]("drive_items", repomemory.New(), outbox)
	item, err := drive.NewDriveItem(drive.DriveItemConfig{CompanyID: "c1", ParentID: drive.RootID, Name: "Invoice March.pdf", Creator: "alice"})
	require.NoError(t, err)
	require.NoError(t, items.Save(ctx, item))
	require.NoError(t, outbox.Flush(ctx))

	res, err := index.Search(ctx, search.Query{Table: "drive_items", CompanyID: "c1", Text: "invoice"})
	require.NoError(t, err)
	assert.Equal(t, []string{item.ID}, res.IDs)

	item.Name = "Receipt.pdf"
	require.NoError(t, items.Save(ctx, item))
	require.NoError(t, outbox.Flush(ctx))
	res, err = index.Search(ctx, search.Query{Table: "drive_items", CompanyID: "c1", Text: "invoice"})
	require.NoError(t, err)
	assert.Empty(t, res.IDs)

	require.NoError(t, items.Remove(ctx, item))
	require.NoError(t, outbox.Flush(ctx))
	assert.Equal(t, 0, index.Len())
}

func TestIndexerIgnoresUnmappedTables(t *testing.T) {
	index := memory.New()
	ix := search.NewIndexer(index, map[string]search.Mapper{"drive_items": search.DriveItemMapper})

	err := ix.Handle(context.Background(), repository.Event{
		Kind: repository.EventSaved, Table: "drive_file_versions", CompanyID: "c1", ID: "v1", Data: []byte(`{}`),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, index.Len())
}

func TestIndexerRedeliveryIsIdempotent(t *testing.T) {
	ctx := context.Background()
	index := memory.New()
	ix := search.NewIndexer(index, map[string]search.Mapper{"drive_items": search.DriveItemMapper})

	item, err := drive.NewDriveItem(drive.DriveItemConfig{CompanyID: "c1", ParentID: drive.RootID, Name: "a.txt"})
	require.NoError(t, err)
	data, err := json.Marshal(item)
	require.NoError(t, err)

	ev := repository.Event{Kind: repository.EventSaved, Table: "drive_items", CompanyID: "c1", ID: item.ID, Data: data}
	require.NoError(t, ix.Handle(ctx, ev))
	require.NoError(t, ix.Handle(ctx, ev))
	assert.Equal(t, 1, index.Len())

	removed := ev
	removed.Kind = repository.EventRemoved
	require.NoError(t, ix.Handle(ctx, removed))
	require.NoError(t, ix.Handle(ctx, removed))
	assert.Equal(t, 0, index.Len())
}

func TestDriveItemMapper(t *testing.T) {
	item := drive.DriveItem{
		ID: "i1", CompanyID: "c1", ParentID: "root", Name: "plan.md",
		Description: "roadmap", Tags: []string{"q3"}, Creator: "alice",
		LastVersionCache: &drive.FileVersion{FileMetadata: drive.FileMetadata{Mime: "text/markdown"}},
	}
	data, err := json.Marshal(item)
	require.NoError(t, err)

	doc, ok, err := search.DriveItemMapper(data)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "plan.md roadmap q3", doc.Text)
	assert.Equal(t, "text/markdown", doc.Fields[search.FieldMime])
	assert.Equal(t, false, doc.Fields[search.FieldIsDirectory])

	_, _, err = search.DriveItemMapper([]byte("{"))
	require.Error(t, err)
}
