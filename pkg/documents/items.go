package documents

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/drive"
	"github.com/marmos91/dittodrive/pkg/files"
	"github.com/marmos91/dittodrive/pkg/notify"
	"github.com/marmos91/dittodrive/pkg/repository"
)

// GetOptions pages the children of a folder.
type GetOptions struct {
	Limit     int
	PageToken string
}

// ItemDetails is the result of Get.
type ItemDetails struct {
	Item *drive.DriveItem

	// Path lists the ancestors, starting at the virtual root.
	Path []*drive.DriveItem

	// Children are the readable children (directories only).
	Children []*drive.DriveItem
	NextPage string

	// Versions lists file versions, newest first.
	Versions []*drive.FileVersion

	// Access is the caller's level on the item.
	Access drive.Level
}

// Get returns an item with its children, versions and path.
//
// Virtual ids (root, trash, shared_with_me, user_<id>) return a synthesized
// folder. Children the caller cannot read are omitted.
func (s *Service) Get(ctx context.Context, id string, opts GetOptions, ec drive.ExecutionContext) (_ *ItemDetails, err error) {
	defer s.observe("get", time.Now(), &err)
	if err := checkContext(ctx, ec); err != nil {
		return nil, err
	}
	if opts.Limit <= 0 {
		opts.Limit = s.cfg.PageSize
	}

	if drive.IsVirtualFolder(id) {
		return s.getVirtual(ctx, id, opts, ec)
	}

	item, err := s.getItem(ctx, ec.CompanyID, id)
	if err != nil {
		return nil, err
	}
	level, err := s.access.GetAccessLevel(ctx, id, item, ec)
	if err != nil {
		return nil, wrapError(KindInternal, id, err, "access check failed")
	}
	if !level.AtLeast(drive.LevelRead) {
		return nil, newError(KindUnauthorized, id, "read access required")
	}

	details := &ItemDetails{Item: item, Access: level}
	if details.Path, err = s.ancestors(ctx, item); err != nil {
		return nil, err
	}

	if item.IsDirectory {
		trashed, err := s.isInTrash(ctx, item)
		if err != nil {
			return nil, err
		}
		filter := repository.Filter{repository.FieldCompanyID: ec.CompanyID, drive.FieldParentID: id}
		if !trashed {
			filter[drive.FieldIsInTrash] = false
		}
		if err := s.pageChildren(ctx, details, filter, opts, ec); err != nil {
			return nil, err
		}
		return details, nil
	}

	versions, err := s.versions.FindAll(ctx, repository.Filter{
		repository.FieldCompanyID: ec.CompanyID,
		drive.FieldDriveItemID:    id,
	}, s.cfg.PageSize)
	if err != nil {
		return nil, wrapError(KindInternal, id, err, "failed to list versions")
	}
	sort.SliceStable(versions, func(i, j int) bool {
		return versions[i].DateAdded.After(versions[j].DateAdded)
	})
	details.Versions = versions
	return details, nil
}

func (s *Service) getVirtual(ctx context.Context, id string, opts GetOptions, ec drive.ExecutionContext) (*ItemDetails, error) {
	level, err := s.access.GetAccessLevel(ctx, id, nil, ec)
	if err != nil {
		return nil, wrapError(KindInternal, id, err, "access check failed")
	}
	if !level.AtLeast(drive.LevelRead) {
		return nil, newError(KindUnauthorized, id, "read access required")
	}
	details := &ItemDetails{Item: drive.VirtualFolder(ec.CompanyID, id), Access: level}

	switch id {
	case drive.TrashID:
		filter := repository.Filter{repository.FieldCompanyID: ec.CompanyID, drive.FieldIsInTrash: true}
		return details, s.pageChildren(ctx, details, filter, opts, ec)

	case drive.SharedWithMeID:
		all, err := s.items.FindAll(ctx, repository.Filter{
			repository.FieldCompanyID: ec.CompanyID,
			drive.FieldIsInTrash:      false,
		}, s.cfg.PageSize)
		if err != nil {
			return nil, wrapError(KindInternal, id, err, "failed to list items")
		}
		var shared []*drive.DriveItem
		for _, item := range all {
			if item.Creator != ec.UserID && grantedTo(item, ec.UserID) {
				shared = append(shared, item)
			}
		}
		offset, err := repository.PageOffset(opts.PageToken)
		if err != nil {
			return nil, newError(KindInvalidOperation, id, "%v", err)
		}
		if offset > len(shared) {
			offset = len(shared)
		}
		page := shared[offset:]
		more := len(page) > opts.Limit
		if more {
			page = page[:opts.Limit]
		}
		details.Children = page
		details.NextPage = repository.NextPageToken(offset, len(page), opts.Limit, more)
		return details, nil
	}

	filter := repository.Filter{
		repository.FieldCompanyID: ec.CompanyID,
		drive.FieldParentID:       id,
		drive.FieldIsInTrash:      false,
	}
	return details, s.pageChildren(ctx, details, filter, opts, ec)
}

func grantedTo(item *drive.DriveItem, userID string) bool {
	for _, e := range item.AccessInfo.Entities {
		if e.Type == drive.EntityUser && e.ID == userID && e.Level.AtLeast(drive.LevelRead) {
			return true
		}
	}
	return false
}

func (s *Service) pageChildren(ctx context.Context, details *ItemDetails, filter repository.Filter, opts GetOptions, ec drive.ExecutionContext) error {
	page, err := s.items.Find(ctx, filter, repository.FindOptions{Limit: opts.Limit, PageToken: opts.PageToken})
	if err != nil {
		return wrapError(KindInternal, details.Item.ID, err, "failed to list children")
	}
	for _, kid := range page.Entities {
		ok, err := s.access.CheckAccess(ctx, kid.ID, kid, drive.LevelRead, ec)
		if err != nil {
			logger.Warn("documents: access check on %s failed: %v", kid.ID, err)
			continue
		}
		if ok {
			details.Children = append(details.Children, kid)
		}
	}
	details.NextPage = page.NextPage
	return nil
}

// CreateRequest describes a new item.
type CreateRequest struct {
	ParentID    string
	Name        string
	Description string
	Tags        []string
	IsDirectory bool

	// AccessInfo replaces the default grants (creator gets manage).
	AccessInfo *drive.AccessInformation

	// Version describes the initial content of a file.
	Version VersionRequest
}

// VersionRequest describes content for a new file version. Either Content
// is uploaded, or FileID names a blob already stored through the files
// service. With neither, an empty file is created.
type VersionRequest struct {
	Content       io.Reader
	FileID        string
	Filename      string
	Mime          string
	ApplicationID string
}

// Create adds a file or folder under ParentID.
//
// The caller needs write access on the parent. A name already used by a
// live sibling gets a "-N" suffix. For files, the content is stored first
// and checked against the creator's quota; on overflow the blob is deleted
// and KindQuotaExceeded is returned without creating the item.
func (s *Service) Create(ctx context.Context, req CreateRequest, ec drive.ExecutionContext) (_ *drive.DriveItem, err error) {
	defer s.observe("create", time.Now(), &err)
	if err := checkContext(ctx, ec); err != nil {
		return nil, err
	}

	switch req.ParentID {
	case drive.TrashID, drive.SharedWithMeID:
		return nil, newError(KindInvalidOperation, req.ParentID, "cannot create items here")
	case "":
		req.ParentID = drive.RootID
	}

	var parent *drive.DriveItem
	if !drive.IsVirtualFolder(req.ParentID) {
		if parent, err = s.getItem(ctx, ec.CompanyID, req.ParentID); err != nil {
			return nil, err
		}
		if !parent.IsDirectory {
			return nil, newError(KindInvalidOperation, req.ParentID, "parent is not a directory")
		}
	}
	if err := s.requireAccess(ctx, ec, req.ParentID, parent, drive.LevelWrite); err != nil {
		return nil, err
	}

	scope := drive.ScopeOfRoot(req.ParentID)
	if parent != nil {
		scope = parent.Scope
	}
	name, err := s.uniqueName(ctx, ec.CompanyID, req.ParentID, strings.TrimSpace(req.Name), req.IsDirectory, "")
	if err != nil {
		return nil, err
	}

	item, err := drive.NewDriveItem(drive.DriveItemConfig{
		CompanyID:   ec.CompanyID,
		ParentID:    req.ParentID,
		Name:        name,
		Description: req.Description,
		Tags:        req.Tags,
		IsDirectory: req.IsDirectory,
		Scope:       scope,
		Creator:     ec.UserID,
		AccessInfo:  req.AccessInfo,
		Now:         s.now(),
	})
	if err != nil {
		return nil, wrapError(KindInvalidOperation, "", err, "invalid item")
	}

	var version *drive.FileVersion
	if !item.IsDirectory {
		if req.Version.Filename == "" {
			req.Version.Filename = item.Name
		}
		if version, err = s.storeVersion(ctx, item, req.Version, ec); err != nil {
			return nil, err
		}
		item.LastVersionCache = version
		item.Size = version.FileSize
	}

	if err := s.saveItem(ctx, item); err != nil {
		return nil, err
	}
	if version != nil {
		if err := s.versions.Save(ctx, version); err != nil {
			return nil, wrapError(KindInternal, item.ID, err, "failed to save version")
		}
		s.startScan(ctx, item, version)
	}

	s.updateSizesLogged(ctx, ec.CompanyID, item.ParentID)
	s.notifyShared(ctx, parent, item, ec)

	logger.Debug("documents: created %s %q under %s in company %s", item.ID, item.Name, item.ParentID, ec.CompanyID)
	return item, nil
}

// storeVersion uploads or resolves version content, enforces the quota and
// builds the version entity. The version is not persisted.
func (s *Service) storeVersion(ctx context.Context, item *drive.DriveItem, req VersionRequest, ec drive.ExecutionContext) (*drive.FileVersion, error) {
	var file *files.File
	var err error
	uploaded := false

	switch {
	case req.FileID != "":
		file, err = s.files.Get(ctx, ec.CompanyID, req.FileID)
		if errors.Is(err, files.ErrNotFound) {
			return nil, newError(KindNotFound, req.FileID, "file not found")
		}
	default:
		content := req.Content
		if content == nil {
			content = strings.NewReader("")
		}
		file, err = s.files.Save(ctx, ec.CompanyID, ec.UserID, content, files.SaveOptions{Filename: req.Filename, Mime: req.Mime})
		uploaded = true
	}
	if err != nil {
		return nil, wrapError(KindStorageFailure, item.ID, err, "failed to store content")
	}

	if err := s.quotaCheck(ctx, ec.CompanyID, item.Creator, file.Size); err != nil {
		if uploaded {
			if derr := s.files.Delete(ctx, ec.CompanyID, file.ID); derr != nil {
				logger.Error("documents: failed to delete over-quota blob %s in company %s: %v", file.ID, ec.CompanyID, derr)
			}
		}
		return nil, err
	}

	filename := req.Filename
	if filename == "" {
		filename = file.Name
	}
	version, err := drive.NewFileVersion(drive.FileVersionConfig{
		CompanyID:     ec.CompanyID,
		DriveItemID:   item.ID,
		ExternalID:    file.ID,
		Mime:          file.Mime,
		Size:          file.Size,
		Filename:      filename,
		CreatorID:     ec.UserID,
		ApplicationID: req.ApplicationID,
		Now:           s.now(),
	})
	if err != nil {
		return nil, wrapError(KindInternal, item.ID, err, "invalid version")
	}
	return version, nil
}

// notifyShared tells users with grants on parent that item appeared there.
func (s *Service) notifyShared(ctx context.Context, parent, item *drive.DriveItem, ec drive.ExecutionContext) {
	if parent == nil {
		return
	}
	var recipients []string
	for _, id := range parent.AccessInfo.Grantees() {
		if id != ec.UserID {
			recipients = append(recipients, id)
		}
	}
	if len(recipients) == 0 {
		return
	}
	s.notifier.NotifyDocumentShared(ctx, notify.DocumentShared{
		CompanyID:  ec.CompanyID,
		Item:       item,
		Sender:     ec.UserID,
		Recipients: recipients,
	})
}

// UpdateRequest lists the fields to change. Nil fields are left untouched.
type UpdateRequest struct {
	Name        *string
	Description *string
	Tags        *[]string
	ParentID    *string
	AccessInfo  *drive.AccessInformation
	IsInTrash   *bool
}

func (r UpdateRequest) onlyTrash() bool {
	return r.Name == nil && r.Description == nil && r.Tags == nil && r.ParentID == nil && r.AccessInfo == nil
}

// Update changes item metadata, moves it, or changes its grants.
//
// Write access is required; changing AccessInfo requires manage. Items
// flagged malicious only accept IsInTrash changes. After a grant change
// the caller keeps manage access on the item.
func (s *Service) Update(ctx context.Context, id string, req UpdateRequest, ec drive.ExecutionContext) (_ *drive.DriveItem, err error) {
	defer s.observe("update", time.Now(), &err)
	if err := checkContext(ctx, ec); err != nil {
		return nil, err
	}
	if drive.IsVirtualFolder(id) {
		return nil, newError(KindInvalidOperation, id, "virtual folders cannot be updated")
	}

	item, err := s.getItem(ctx, ec.CompanyID, id)
	if err != nil {
		return nil, err
	}
	required := drive.LevelWrite
	if req.AccessInfo != nil {
		required = drive.LevelManage
	}
	if err := s.requireAccess(ctx, ec, id, item, required); err != nil {
		return nil, err
	}
	if item.AVStatus == drive.AVMalicious && !req.onlyTrash() {
		return nil, newError(KindMaliciousFile, id, "item is flagged as malicious")
	}

	oldParent := item.ParentID
	wasTrashed := item.IsInTrash

	if req.ParentID != nil && *req.ParentID != item.ParentID {
		if err := s.checkMove(ctx, ec, item, *req.ParentID); err != nil {
			return nil, err
		}
		item.ParentID = *req.ParentID
	}
	if req.Name != nil {
		if err := drive.ValidateName(*req.Name); err != nil {
			return nil, wrapError(KindInvalidOperation, id, err, "invalid name")
		}
		item.Name = strings.TrimSpace(*req.Name)
	}
	if req.Name != nil || item.ParentID != oldParent {
		if item.Name, err = s.uniqueName(ctx, ec.CompanyID, item.ParentID, item.Name, item.IsDirectory, item.ID); err != nil {
			return nil, err
		}
	}
	if req.Description != nil {
		item.Description = *req.Description
	}
	if req.Tags != nil {
		item.Tags = *req.Tags
	}
	if req.AccessInfo != nil {
		item.AccessInfo = req.AccessInfo.Clone()
	}
	if req.IsInTrash != nil && *req.IsInTrash != item.IsInTrash {
		if *req.IsInTrash {
			if item.AccessInfo, err = s.access.Flatten(ctx, item); err != nil {
				return nil, wrapError(KindInternal, id, err, "failed to flatten access")
			}
		}
		item.IsInTrash = *req.IsInTrash
	}

	var newScope drive.Scope
	if item.ParentID != oldParent {
		if newScope, err = s.scopeUnder(ctx, ec.CompanyID, item.ParentID); err != nil {
			return nil, err
		}
		item.Scope = newScope
	}

	item.LastModified = s.now()
	if err := s.saveItem(ctx, item); err != nil {
		return nil, err
	}

	if req.AccessInfo != nil && !ec.System && !ec.Anonymous() {
		level, err := s.access.GetAccessLevel(ctx, id, item, ec)
		if err != nil {
			return nil, wrapError(KindInternal, id, err, "access re-check failed")
		}
		if !level.AtLeast(drive.LevelManage) {
			logger.Info("documents: restoring manage grant of %s on %s", ec.UserID, id)
			item.AccessInfo = item.AccessInfo.WithUserGrant(ec.UserID, drive.LevelManage, ec.UserID)
			if err := s.saveItem(ctx, item); err != nil {
				return nil, err
			}
		}
	}

	if item.ParentID != oldParent {
		if err := s.setScope(ctx, item, newScope); err != nil {
			logger.Error("documents: failed to update scope below %s: %v", id, err)
		}
		s.updateSizesLogged(ctx, ec.CompanyID, oldParent)
		s.updateSizesLogged(ctx, ec.CompanyID, item.ParentID)
		if !drive.IsVirtualFolder(item.ParentID) {
			if parent, err := s.items.Get(ctx, ec.CompanyID, item.ParentID); err == nil {
				s.notifyShared(ctx, parent, item, ec)
			}
		}
	} else if wasTrashed != item.IsInTrash {
		s.updateSizesLogged(ctx, ec.CompanyID, item.ParentID)
	}

	return item, nil
}
