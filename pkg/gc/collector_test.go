package gc

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/dittodrive/pkg/documents"
	"github.com/marmos91/dittodrive/pkg/drive"
	"github.com/marmos91/dittodrive/pkg/files"
	"github.com/marmos91/dittodrive/pkg/repository"
	repomemory "github.com/marmos91/dittodrive/pkg/repository/memory"
	storagememory "github.com/marmos91/dittodrive/pkg/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticCompanies []string

func (s staticCompanies) Companies(context.Context) ([]string, error) {
	return s, nil
}

type fakePurger struct {
	mu      sync.Mutex
	cutoffs map[string]time.Time
	fail    map[string]bool
	purged  int
}

func (f *fakePurger) PurgeExpired(_ context.Context, companyID string, cutoff time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cutoffs == nil {
		f.cutoffs = map[string]time.Time{}
	}
	f.cutoffs[companyID] = cutoff
	if f.fail[companyID] {
		return 0, errors.New("boom")
	}
	return f.purged, nil
}

func TestRunNowVisitsEveryCompany(t *testing.T) {
	purger := &fakePurger{purged: 2, fail: map[string]bool{"c2": true}}
	c, err := NewCollector(purger, staticCompanies{"c1", "c2", "c3"}, Config{Retention: time.Hour})
	require.NoError(t, err)
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	stats, err := c.RunNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, uint64(2), stats.CompanyCount)
	assert.Equal(t, uint64(1), stats.FailedCompanies)
	assert.Equal(t, uint64(4), stats.PurgedCount)
	require.Len(t, purger.cutoffs, 3)
	assert.Equal(t, now.Add(-time.Hour), purger.cutoffs["c1"])
	assert.Contains(t, stats.Summary(), "purged=4")
}

func TestRunNowHonorsCancellation(t *testing.T) {
	c, err := NewCollector(&fakePurger{}, staticCompanies{"c1"}, Config{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.RunNow(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewCollectorDefaults(t *testing.T) {
	c, err := NewCollector(&fakePurger{}, staticCompanies{}, Config{})
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, c.config.Interval)
	assert.Equal(t, 30*24*time.Hour, c.config.Retention)

	_, err = NewCollector(nil, staticCompanies{}, Config{})
	require.Error(t, err)
}

func TestStartStop(t *testing.T) {
	purger := &fakePurger{}
	c, err := NewCollector(purger, staticCompanies{"c1"}, Config{Enabled: true, Interval: 5 * time.Millisecond})
	require.NoError(t, err)

	c.Start()
	c.Start()
	require.Eventually(t, func() bool {
		purger.mu.Lock()
		defer purger.mu.Unlock()
		return len(purger.cutoffs) == 1
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Stop(ctx))
	require.NoError(t, c.Stop(ctx))
}

func TestStopWithoutStart(t *testing.T) {
	c, err := NewCollector(&fakePurger{}, staticCompanies{}, Config{Enabled: true})
	require.NoError(t, err)
	require.NoError(t, c.Stop(context.Background()))
}

func TestCollectorPurgesExpiredTrash(t *testing.T) {
	ctx := context.Background()
	conn := repomemory.New()
	blobs := storagememory.New("mem")
	directory := documents.NewStaticDirectory(documents.DirectoryConfig{Companies: map[string][]string{"c1": nil}})
	svc, err := documents.New(documents.Dependencies{
		Items:    repository.New[drive.DriveItem](documents.ItemsTable, conn, nil),
		Versions: repository.New[drive.FileVersion](documents.VersionsTable, conn, nil),
		Files:    files.New(blobs, conn, files.Config{}),
		Users:    directory,
	}, documents.Config{DownloadTokenSecret: "secret"})
	require.NoError(t, err)

	ec := drive.ExecutionContext{CompanyID: "c1", UserID: "alice"}
	old, err := svc.Create(ctx, documents.CreateRequest{Name: "old.txt", Version: documents.VersionRequest{Content: strings.NewReader("old")}}, ec)
	require.NoError(t, err)
	kept, err := svc.Create(ctx, documents.CreateRequest{Name: "kept.txt", Version: documents.VersionRequest{Content: strings.NewReader("kept")}}, ec)
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, old.ID, ec))

	c, err := NewCollector(svc, directory, Config{Retention: time.Hour})
	require.NoError(t, err)
	c.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	stats, err := c.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.PurgedCount)

	_, err = svc.Get(ctx, old.ID, documents.GetOptions{}, ec)
	require.ErrorIs(t, err, documents.ErrNotFound)
	_, err = svc.Get(ctx, kept.ID, documents.GetOptions{}, ec)
	require.NoError(t, err)
	assert.Equal(t, 1, blobs.Len())
}
