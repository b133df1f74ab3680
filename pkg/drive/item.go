// Package drive defines the entities managed by the documents engine:
// drive items, their immutable file versions, and their access grants.
//
// Entities are built through NewDriveItem and NewFileVersion, which apply
// defaults and reject incomplete input. The JSON field names are the
// persisted column names used by repository filters.
package drive

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Scope tells whether an item lives in a personal drive or the shared drive.
type Scope string

const (
	ScopePersonal Scope = "personal"
	ScopeShared   Scope = "shared"
)

// AVStatus is the antivirus state of an item's current version.
type AVStatus string

const (
	AVUploaded   AVStatus = "uploaded"
	AVScanning   AVStatus = "scanning"
	AVSafe       AVStatus = "safe"
	AVMalicious  AVStatus = "malicious"
	AVSkipped    AVStatus = "skipped"
	AVScanFailed AVStatus = "scan_failed"
)

// Clean reports whether the status is one of the statuses that allow
// unrestricted use of the content.
func (s AVStatus) Clean() bool {
	return s == AVUploaded || s == AVSafe
}

// Persisted field names used in repository filters and compare-and-set.
const (
	FieldParentID          = "parent_id"
	FieldIsDirectory       = "is_directory"
	FieldIsInTrash         = "is_in_trash"
	FieldCreator           = "creator"
	FieldEditingSessionKey = "editing_session_key"
	FieldDriveItemID       = "drive_item_id"
)

// ErrInvalidEntity is returned by the builders when required fields are
// missing or malformed.
var ErrInvalidEntity = errors.New("invalid entity")

// Thumbnail describes one preview image of a file.
type Thumbnail struct {
	Index  int    `json:"index"`
	ID     string `json:"id"`
	Type   string `json:"type"`
	Size   int64  `json:"size"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	URL    string `json:"url"`
}

// FileMetadata points a version at its blob.
type FileMetadata struct {
	ExternalID string      `json:"external_id"`
	Mime       string      `json:"mime"`
	Size       int64       `json:"size"`
	Name       string      `json:"name"`
	Thumbnails []Thumbnail `json:"thumbnails,omitempty"`
}

// FileVersion is an immutable snapshot of a file's content.
type FileVersion struct {
	ID            string       `json:"id"`
	CompanyID     string       `json:"company_id"`
	DriveItemID   string       `json:"drive_item_id"`
	FileMetadata  FileMetadata `json:"file_metadata"`
	FileSize      int64        `json:"file_size"`
	Filename      string       `json:"filename"`
	DateAdded     time.Time    `json:"date_added"`
	CreatorID     string       `json:"creator_id"`
	ApplicationID string       `json:"application_id,omitempty"`
}

// DriveItem is a file or directory node of the document tree.
type DriveItem struct {
	ID                string            `json:"id"`
	CompanyID         string            `json:"company_id"`
	ParentID          string            `json:"parent_id"`
	Name              string            `json:"name"`
	Description       string            `json:"description,omitempty"`
	Tags              []string          `json:"tags,omitempty"`
	IsDirectory       bool              `json:"is_directory"`
	IsInTrash         bool              `json:"is_in_trash"`
	Size              int64             `json:"size"`
	Scope             Scope             `json:"scope"`
	Creator           string            `json:"creator"`
	AccessInfo        AccessInformation `json:"access_info"`
	EditingSessionKey *string           `json:"editing_session_key"`
	LastVersionCache  *FileVersion      `json:"last_version_cache,omitempty"`
	AVStatus          AVStatus          `json:"av_status"`
	Added             time.Time         `json:"added"`
	LastModified      time.Time         `json:"last_modified"`
}

// DriveItemConfig holds the inputs of NewDriveItem.
type DriveItemConfig struct {
	CompanyID   string
	ParentID    string
	Name        string
	Description string
	Tags        []string
	IsDirectory bool
	Scope       Scope
	Creator     string

	// AccessInfo overrides the default grants (creator gets manage).
	AccessInfo *AccessInformation

	// Now overrides the clock, mostly for tests.
	Now time.Time
}

// NewDriveItem builds a new item with a fresh id.
//
// Returns ErrInvalidEntity when the company, parent or name is missing or
// the name contains a path separator.
func NewDriveItem(cfg DriveItemConfig) (*DriveItem, error) {
	if cfg.CompanyID == "" {
		return nil, fmt.Errorf("%w: company id is required", ErrInvalidEntity)
	}
	if cfg.ParentID == "" {
		return nil, fmt.Errorf("%w: parent id is required", ErrInvalidEntity)
	}
	if err := ValidateName(cfg.Name); err != nil {
		return nil, err
	}

	now := cfg.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	scope := cfg.Scope
	if scope == "" {
		scope = ScopeShared
	}

	var access AccessInformation
	if cfg.AccessInfo != nil {
		access = cfg.AccessInfo.Clone()
	} else {
		access = AccessInformation{Entities: []AccessEntity{}}
		if cfg.Creator != "" {
			access = access.WithUserGrant(cfg.Creator, LevelManage, cfg.Creator)
		}
	}

	return &DriveItem{
		ID:           uuid.NewString(),
		CompanyID:    cfg.CompanyID,
		ParentID:     cfg.ParentID,
		Name:         cfg.Name,
		Description:  cfg.Description,
		Tags:         cfg.Tags,
		IsDirectory:  cfg.IsDirectory,
		Scope:        scope,
		Creator:      cfg.Creator,
		AccessInfo:   access,
		AVStatus:     AVUploaded,
		Added:        now,
		LastModified: now,
	}, nil
}

// FileVersionConfig holds the inputs of NewFileVersion.
type FileVersionConfig struct {
	CompanyID     string
	DriveItemID   string
	ExternalID    string
	Mime          string
	Size          int64
	Filename      string
	CreatorID     string
	ApplicationID string
	Thumbnails    []Thumbnail
	Now           time.Time
}

// NewFileVersion builds a version pointing at an already stored blob.
func NewFileVersion(cfg FileVersionConfig) (*FileVersion, error) {
	if cfg.CompanyID == "" || cfg.DriveItemID == "" {
		return nil, fmt.Errorf("%w: version requires company and item ids", ErrInvalidEntity)
	}
	if cfg.ExternalID == "" {
		return nil, fmt.Errorf("%w: version requires a blob id", ErrInvalidEntity)
	}
	if cfg.Size < 0 {
		return nil, fmt.Errorf("%w: negative size %d", ErrInvalidEntity, cfg.Size)
	}

	now := cfg.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	return &FileVersion{
		ID:          uuid.NewString(),
		CompanyID:   cfg.CompanyID,
		DriveItemID: cfg.DriveItemID,
		FileMetadata: FileMetadata{
			ExternalID: cfg.ExternalID,
			Mime:       cfg.Mime,
			Size:       cfg.Size,
			Name:       cfg.Filename,
			Thumbnails: cfg.Thumbnails,
		},
		FileSize:      cfg.Size,
		Filename:      cfg.Filename,
		DateAdded:     now,
		CreatorID:     cfg.CreatorID,
		ApplicationID: cfg.ApplicationID,
	}, nil
}

// ValidateName rejects empty names, names made only of dots and names
// containing a path separator.
func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" || trimmed == "." || trimmed == ".." {
		return fmt.Errorf("%w: invalid name %q", ErrInvalidEntity, name)
	}
	if strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("%w: name %q contains a path separator", ErrInvalidEntity, name)
	}
	return nil
}
