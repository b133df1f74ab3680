// Package documents implements the drive: a per-company tree of files and
// folders with versioned content, access control, trash, editing sessions,
// archive downloads and search.
//
// The Service is the only writer of drive items and file versions. Every
// operation takes a drive.ExecutionContext naming the tenant and the caller;
// access is checked through pkg/access before any change.
//
// Tree maintenance (unique sibling names, directory sizes, cycle checks) is
// done synchronously inside the operations. Traversals are iterative and
// guard against cycles with visited sets.
package documents

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"
	"time"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/access"
	"github.com/marmos91/dittodrive/pkg/antivirus"
	"github.com/marmos91/dittodrive/pkg/drive"
	"github.com/marmos91/dittodrive/pkg/editors"
	"github.com/marmos91/dittodrive/pkg/files"
	"github.com/marmos91/dittodrive/pkg/notify"
	"github.com/marmos91/dittodrive/pkg/repository"
	"github.com/marmos91/dittodrive/pkg/search"
)

// Repository tables owned by the service.
const (
	ItemsTable    = "drive_items"
	VersionsTable = "drive_file_versions"
)

// Files is the blob service used for version content.
type Files interface {
	Save(ctx context.Context, companyID, userID string, content io.Reader, opts files.SaveOptions) (*files.File, error)
	Get(ctx context.Context, companyID, fileID string) (*files.File, error)
	Download(ctx context.Context, companyID, fileID string) (*files.Download, error)
	Delete(ctx context.Context, companyID, fileID string) error
	GeneratePreview(ctx context.Context, companyID, fileID string) ([]drive.Thumbnail, error)
}

// Searcher queries the search index.
type Searcher interface {
	Search(ctx context.Context, q search.Query) (search.Result, error)
}

// Users answers identity questions about callers.
type Users interface {
	access.Roles

	// IsAnonymous reports whether userID is an anonymous or service
	// identity that cannot own items.
	IsAnonymous(ctx context.Context, companyID, userID string) (bool, error)
}

// Metrics records service activity. A nil Metrics disables collection.
type Metrics interface {
	ObserveOperation(op string, d time.Duration, err error)
	RecordEditingRetry()
	ArchiveStreamOpened()
	ArchiveStreamClosed()
}

// Config holds service tunables.
type Config struct {
	// QuotaEnabled turns on per-user storage quota checks.
	QuotaEnabled bool `mapstructure:"quota_enabled"`

	// DefaultQuota is the per-user quota in bytes.
	DefaultQuota int64 `mapstructure:"default_quota" validate:"omitempty,min=0"`

	// ZipConcurrency is the number of content streams an archive download
	// keeps open at once. Default: 4.
	ZipConcurrency int `mapstructure:"zip_concurrency" validate:"omitempty,min=1,max=64"`

	// EditingMaxAttempts bounds compare-and-set attempts when claiming an
	// editing session. Default: 8.
	EditingMaxAttempts int `mapstructure:"editing_max_attempts" validate:"omitempty,min=1"`

	// EditingMinBackoff and EditingMaxBackoff bound the delay between
	// attempts. Defaults: 20ms and 1s.
	EditingMinBackoff time.Duration `mapstructure:"editing_min_backoff"`
	EditingMaxBackoff time.Duration `mapstructure:"editing_max_backoff"`

	// DownloadTokenSecret signs download tokens. A random secret is
	// generated when empty, which invalidates tokens across restarts.
	DownloadTokenSecret string `mapstructure:"download_token_secret"`

	// DownloadTokenTTL is the lifetime of download tokens. Default: 1h.
	DownloadTokenTTL time.Duration `mapstructure:"download_token_ttl"`

	// AVEnabled submits every new version to the antivirus.
	AVEnabled bool `mapstructure:"av_enabled"`

	// PageSize is the page size used when walking children. Default: 100.
	PageSize int `mapstructure:"page_size" validate:"omitempty,min=1"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.ZipConcurrency <= 0 {
		c.ZipConcurrency = 4
	}
	if c.EditingMaxAttempts <= 0 {
		c.EditingMaxAttempts = 8
	}
	if c.EditingMinBackoff <= 0 {
		c.EditingMinBackoff = 20 * time.Millisecond
	}
	if c.EditingMaxBackoff <= 0 {
		c.EditingMaxBackoff = time.Second
	}
	if c.DownloadTokenTTL <= 0 {
		c.DownloadTokenTTL = time.Hour
	}
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
}

// Dependencies are the collaborators of the service. Items, Versions,
// Files and Users are required.
type Dependencies struct {
	Items    *repository.Repository[drive.DriveItem]
	Versions *repository.Repository[drive.FileVersion]
	Files    Files
	Users    Users

	Search    Searcher
	Antivirus antivirus.Scanner
	Editors   editors.Provider
	Notifier  notify.Notifier
	Metrics   Metrics
}

// Service implements the documents operations.
//
// Thread Safety: Safe for concurrent use. Concurrent editing-session claims
// on one item are serialized through repository compare-and-set; other
// concurrent writes to the same item are last-writer-wins.
type Service struct {
	items    *repository.Repository[drive.DriveItem]
	versions *repository.Repository[drive.FileVersion]
	files    Files
	users    Users
	index    Searcher
	scanner  antivirus.Scanner
	editors  editors.Provider
	notifier notify.Notifier
	metrics  Metrics
	access   *access.Evaluator

	cfg    Config
	secret []byte
	now    func() time.Time
}

// New creates a service.
func New(deps Dependencies, cfg Config) (*Service, error) {
	if deps.Items == nil || deps.Versions == nil {
		return nil, errors.New("documents: item and version repositories are required")
	}
	if deps.Files == nil {
		return nil, errors.New("documents: files service is required")
	}
	if deps.Users == nil {
		return nil, errors.New("documents: user directory is required")
	}
	cfg.ApplyDefaults()

	secret := []byte(cfg.DownloadTokenSecret)
	if len(secret) == 0 {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, err
		}
		secret = []byte(hex.EncodeToString(buf))
		logger.Warn("documents: no download token secret configured, tokens will not survive a restart")
	}

	s := &Service{
		items:    deps.Items,
		versions: deps.Versions,
		files:    deps.Files,
		users:    deps.Users,
		index:    deps.Search,
		scanner:  deps.Antivirus,
		editors:  deps.Editors,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		access:   access.New(deps.Items, deps.Users),
		cfg:      cfg,
		secret:   secret,
		now:      func() time.Time { return time.Now().UTC() },
	}
	if s.editors == nil {
		s.editors = editors.NewStatic()
	}
	if s.notifier == nil {
		s.notifier = notify.NewLogNotifier(nil)
	}
	return s, nil
}

// Access returns the evaluator used by the service.
func (s *Service) Access() *access.Evaluator {
	return s.access
}

// observe records an operation outcome and applies the error boundary.
// Use as: defer s.observe("op", time.Now(), &err).
func (s *Service) observe(op string, start time.Time, errp *error) {
	*errp = boundary(*errp)
	if s.metrics != nil {
		s.metrics.ObserveOperation(op, time.Since(start), *errp)
	}
	if *errp != nil && KindOf(*errp) == KindInternal {
		logger.Error("documents: %s failed: %v", op, *errp)
	}
}

func checkContext(ctx context.Context, ec drive.ExecutionContext) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ec.CompanyID == "" {
		return newError(KindUnauthorized, "", "company is required")
	}
	return nil
}

// getItem loads a persisted item, mapping absence to KindNotFound.
func (s *Service) getItem(ctx context.Context, companyID, id string) (*drive.DriveItem, error) {
	item, err := s.items.Get(ctx, companyID, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, newError(KindNotFound, id, "item not found")
	}
	if err != nil {
		return nil, wrapError(KindInternal, id, err, "failed to load item")
	}
	return item, nil
}

// requireAccess fails with KindUnauthorized unless the caller holds level.
func (s *Service) requireAccess(ctx context.Context, ec drive.ExecutionContext, id string, item *drive.DriveItem, level drive.Level) error {
	ok, err := s.access.CheckAccess(ctx, id, item, level, ec)
	if err != nil {
		return wrapError(KindInternal, id, err, "access check failed")
	}
	if !ok {
		return newError(KindUnauthorized, id, "%s access required", level)
	}
	return nil
}

func (s *Service) saveItem(ctx context.Context, item *drive.DriveItem) error {
	if err := s.items.Save(ctx, item); err != nil {
		return wrapError(KindInternal, item.ID, err, "failed to save item")
	}
	return nil
}
