package documents

import (
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marmos91/dittodrive/pkg/antivirus"
	"github.com/marmos91/dittodrive/pkg/drive"
	"github.com/marmos91/dittodrive/pkg/editors"
	"github.com/marmos91/dittodrive/pkg/files"
	"github.com/marmos91/dittodrive/pkg/notify"
	"github.com/marmos91/dittodrive/pkg/repository"
	repomemory "github.com/marmos91/dittodrive/pkg/repository/memory"
	"github.com/marmos91/dittodrive/pkg/search"
	searchmemory "github.com/marmos91/dittodrive/pkg/search/memory"
	storagememory "github.com/marmos91/dittodrive/pkg/storage/memory"
	"github.com/stretchr/testify/require"
)

const company = "c1"

func as(user string) drive.ExecutionContext {
	return drive.ExecutionContext{CompanyID: company, UserID: user}
}

// countingFiles tracks how many download streams are open at once.
type countingFiles struct {
	*files.Service
	open atomic.Int64
	max  atomic.Int64
}

func (c *countingFiles) Download(ctx context.Context, companyID, fileID string) (*files.Download, error) {
	dl, err := c.Service.Download(ctx, companyID, fileID)
	if err != nil {
		return nil, err
	}
	n := c.open.Add(1)
	for {
		m := c.max.Load()
		if n <= m || c.max.CompareAndSwap(m, n) {
			break
		}
	}
	dl.Body = &countedBody{ReadCloser: dl.Body, owner: c}
	return dl, nil
}

type countedBody struct {
	io.ReadCloser
	owner  *countingFiles
	closed atomic.Bool
	slowed atomic.Bool
}

func (b *countedBody) Read(p []byte) (int, error) {
	if b.slowed.CompareAndSwap(false, true) {
		time.Sleep(2 * time.Millisecond)
	}
	return b.ReadCloser.Read(p)
}

func (b *countedBody) Close() error {
	if b.closed.CompareAndSwap(false, true) {
		b.owner.open.Add(-1)
	}
	return b.ReadCloser.Close()
}

// syncScanner reports its verdict before Scan returns.
type syncScanner struct {
	mu      sync.Mutex
	verdict drive.AVStatus
	calls   int
}

func (s *syncScanner) set(v drive.AVStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verdict = v
}

func (s *syncScanner) Scan(ctx context.Context, _ antivirus.Request, cb antivirus.Callback) (drive.AVStatus, error) {
	s.mu.Lock()
	v := s.verdict
	s.calls++
	s.mu.Unlock()
	cb(ctx, v)
	return drive.AVScanning, nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	shared   []notify.DocumentShared
	versions []notify.DocumentVersionUpdated
	alerts   []notify.DocumentAVScanAlert
	removed  []notify.InfectedDocumentRemoved
}

func (n *recordingNotifier) NotifyDocumentShared(_ context.Context, ev notify.DocumentShared) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.shared = append(n.shared, ev)
}

func (n *recordingNotifier) NotifyDocumentVersionUpdated(_ context.Context, ev notify.DocumentVersionUpdated) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.versions = append(n.versions, ev)
}

func (n *recordingNotifier) NotifyDocumentAVScanAlert(_ context.Context, ev notify.DocumentAVScanAlert) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, ev)
}

func (n *recordingNotifier) NotifyInfectedDocumentRemoved(_ context.Context, ev notify.InfectedDocumentRemoved) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.removed = append(n.removed, ev)
}

type harness struct {
	svc      *Service
	items    *repository.Repository[drive.DriveItem]
	versions *repository.Repository[drive.FileVersion]
	files    *countingFiles
	blobs    *storagememory.Store
	editors  *editors.Static
	scanner  *syncScanner
	notifier *recordingNotifier
	index    *searchmemory.Adapter
	outbox   *repository.Outbox
}

type option func(*Config)

func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	outbox := repository.NewOutbox(repository.OutboxConfig{MinBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond})
	index := searchmemory.New()
	search.NewIndexer(index, map[string]search.Mapper{ItemsTable: search.DriveItemMapper}).Attach(outbox)
	outbox.Start(ctx)
	t.Cleanup(func() {
		cancel()
		outbox.Stop()
	})

	conn := repomemory.New()
	blobs := storagememory.New("mem")
	h := &harness{
		items:    repository.New[drive.DriveItem](ItemsTable, conn, outbox),
		versions: repository.New[drive.FileVersion](VersionsTable, conn, outbox),
		files:    &countingFiles{Service: files.New(blobs, conn, files.Config{})},
		blobs:    blobs,
		editors:  editors.NewStatic(),
		scanner:  &syncScanner{verdict: drive.AVSafe},
		notifier: &recordingNotifier{},
		index:    index,
		outbox:   outbox,
	}

	cfg := Config{
		DownloadTokenSecret: "test-secret",
		EditingMinBackoff:   time.Millisecond,
		EditingMaxBackoff:   5 * time.Millisecond,
	}
	for _, o := range opts {
		o(&cfg)
	}

	svc, err := New(Dependencies{
		Items:     h.items,
		Versions:  h.versions,
		Files:     h.files,
		Users:     NewStaticDirectory(DirectoryConfig{Companies: map[string][]string{company: {"admin"}}}),
		Search:    index,
		Antivirus: h.scanner,
		Editors:   h.editors,
		Notifier:  h.notifier,
	}, cfg)
	require.NoError(t, err)
	h.svc = svc
	return h
}

func withQuota(bytes int64) option {
	return func(c *Config) {
		c.QuotaEnabled = true
		c.DefaultQuota = bytes
	}
}

func withAV() option {
	return func(c *Config) { c.AVEnabled = true }
}

func (h *harness) folder(t *testing.T, parent, name, user string) *drive.DriveItem {
	t.Helper()
	item, err := h.svc.Create(context.Background(), CreateRequest{ParentID: parent, Name: name, IsDirectory: true}, as(user))
	require.NoError(t, err)
	return item
}

func (h *harness) file(t *testing.T, parent, name, content, user string) *drive.DriveItem {
	t.Helper()
	item, err := h.svc.Create(context.Background(), CreateRequest{
		ParentID: parent,
		Name:     name,
		Version:  VersionRequest{Content: strings.NewReader(content)},
	}, as(user))
	require.NoError(t, err)
	return item
}

func (h *harness) reload(t *testing.T, id string) *drive.DriveItem {
	t.Helper()
	item, err := h.items.Get(context.Background(), company, id)
	require.NoError(t, err)
	return item
}

func (h *harness) share(t *testing.T, item *drive.DriveItem, user string, level drive.Level) {
	t.Helper()
	info := item.AccessInfo.WithUserGrant(user, level, item.Creator)
	_, err := h.svc.Update(context.Background(), item.ID, UpdateRequest{AccessInfo: &info}, as(item.Creator))
	require.NoError(t, err)
}

func (h *harness) readDownload(t *testing.T, id, version, user string) string {
	t.Helper()
	dl, err := h.svc.Download(context.Background(), id, version, as(user))
	require.NoError(t, err)
	defer dl.Body.Close()
	data, err := io.ReadAll(dl.Body)
	require.NoError(t, err)
	return string(data)
}
