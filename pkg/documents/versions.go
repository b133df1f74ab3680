package documents

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/antivirus"
	"github.com/marmos91/dittodrive/pkg/drive"
	"github.com/marmos91/dittodrive/pkg/notify"
	"github.com/marmos91/dittodrive/pkg/repository"
)

// CreateVersion adds a new current version to a file.
//
// Write access is required. The item's size and version cache are updated,
// sizes are propagated to the ancestors, and the item's creator is notified
// when somebody else uploaded the version.
func (s *Service) CreateVersion(ctx context.Context, id string, req VersionRequest, ec drive.ExecutionContext) (_ *drive.FileVersion, err error) {
	defer s.observe("create_version", time.Now(), &err)
	if err := checkContext(ctx, ec); err != nil {
		return nil, err
	}

	item, err := s.getItem(ctx, ec.CompanyID, id)
	if err != nil {
		return nil, err
	}
	if err := s.requireAccess(ctx, ec, id, item, drive.LevelWrite); err != nil {
		return nil, err
	}
	return s.addVersion(ctx, item, req, ec)
}

// addVersion stores content as the new current version of item without
// checking access.
func (s *Service) addVersion(ctx context.Context, item *drive.DriveItem, req VersionRequest, ec drive.ExecutionContext) (*drive.FileVersion, error) {
	if item.IsDirectory {
		return nil, newError(KindInvalidOperation, item.ID, "directories have no versions")
	}
	if req.Filename == "" {
		req.Filename = item.Name
	}

	version, err := s.storeVersion(ctx, item, req, ec)
	if err != nil {
		return nil, err
	}
	if err := s.versions.Save(ctx, version); err != nil {
		return nil, wrapError(KindInternal, item.ID, err, "failed to save version")
	}

	item.LastVersionCache = version
	item.Size = version.FileSize
	item.LastModified = s.now()
	if s.cfg.AVEnabled {
		item.AVStatus = drive.AVUploaded
	}
	if err := s.saveItem(ctx, item); err != nil {
		return nil, err
	}

	s.startScan(ctx, item, version)
	s.updateSizesLogged(ctx, item.CompanyID, item.ParentID)

	if item.Creator != "" && ec.UserID != "" && item.Creator != ec.UserID {
		s.notifier.NotifyDocumentVersionUpdated(ctx, notify.DocumentVersionUpdated{
			CompanyID: item.CompanyID,
			Item:      item,
			Version:   version,
			Sender:    ec.UserID,
			Recipient: item.Creator,
		})
	}
	return version, nil
}

// startScan submits the current version to the antivirus. The item is
// saved with the returned status; the final verdict is persisted by
// applyScanResult. Scan failures are recorded as scan_failed and logged.
func (s *Service) startScan(ctx context.Context, item *drive.DriveItem, version *drive.FileVersion) {
	if !s.cfg.AVEnabled || s.scanner == nil {
		return
	}

	item.AVStatus = drive.AVScanning
	if err := s.saveItem(ctx, item); err != nil {
		logger.Error("documents: failed to mark %s as scanning: %v", item.ID, err)
		return
	}

	companyID, itemID, versionID := item.CompanyID, item.ID, version.ID
	externalID := version.FileMetadata.ExternalID
	status, err := s.scanner.Scan(ctx, antivirus.Request{
		CompanyID: companyID,
		ItemID:    itemID,
		VersionID: versionID,
		Filename:  version.Filename,
		Size:      version.FileSize,
		Open: func(ctx context.Context) (io.ReadCloser, error) {
			dl, err := s.files.Download(ctx, companyID, externalID)
			if err != nil {
				return nil, err
			}
			return dl.Body, nil
		},
	}, func(ctx context.Context, status drive.AVStatus) {
		s.applyScanResult(ctx, companyID, itemID, versionID, status)
	})
	if err != nil {
		scanErr := wrapError(KindScanFailure, itemID, err, "antivirus invocation failed")
		logger.Error("documents: %v", scanErr)
		status = drive.AVScanFailed
	}
	if status == drive.AVScanning {
		return
	}
	item.AVStatus = status
	s.applyScanResult(ctx, companyID, itemID, versionID, status)
}

// applyScanResult persists a verdict if version is still current.
func (s *Service) applyScanResult(ctx context.Context, companyID, itemID, versionID string, status drive.AVStatus) {
	item, err := s.items.Get(ctx, companyID, itemID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			logger.Error("documents: cannot record scan result of %s: %v", itemID, err)
		}
		return
	}
	if item.LastVersionCache == nil || item.LastVersionCache.ID != versionID {
		logger.Debug("documents: ignoring scan result for superseded version %s of %s", versionID, itemID)
		return
	}

	item.AVStatus = status
	if status == drive.AVSafe {
		s.attachPreviews(ctx, item)
	}
	if err := s.saveItem(ctx, item); err != nil {
		logger.Error("documents: failed to record scan result of %s: %v", itemID, err)
		return
	}
	logger.Info("documents: antivirus verdict for %s in company %s: %s", itemID, companyID, status)

	if status == drive.AVMalicious {
		s.notifier.NotifyDocumentAVScanAlert(ctx, notify.DocumentAVScanAlert{
			CompanyID: companyID,
			Item:      item,
			Recipient: item.Creator,
		})
	}
}

// attachPreviews stores generated thumbnails on the current version.
func (s *Service) attachPreviews(ctx context.Context, item *drive.DriveItem) {
	v := item.LastVersionCache
	thumbs, err := s.files.GeneratePreview(ctx, item.CompanyID, v.FileMetadata.ExternalID)
	if err != nil {
		logger.Warn("documents: preview generation for %s failed: %v", item.ID, err)
		return
	}
	if len(thumbs) == 0 {
		return
	}
	v.FileMetadata.Thumbnails = thumbs
	if err := s.versions.Save(ctx, v); err != nil {
		logger.Warn("documents: failed to save thumbnails of %s: %v", v.ID, err)
	}
}

// Rescan resubmits the current version of a file to the antivirus.
func (s *Service) Rescan(ctx context.Context, id string, ec drive.ExecutionContext) (_ *drive.DriveItem, err error) {
	defer s.observe("rescan", time.Now(), &err)
	if err := checkContext(ctx, ec); err != nil {
		return nil, err
	}
	if !s.cfg.AVEnabled || s.scanner == nil {
		return nil, newError(KindInvalidOperation, id, "antivirus is disabled")
	}

	item, err := s.getItem(ctx, ec.CompanyID, id)
	if err != nil {
		return nil, err
	}
	if err := s.requireAccess(ctx, ec, id, item, drive.LevelWrite); err != nil {
		return nil, err
	}
	if item.IsDirectory || item.LastVersionCache == nil {
		return nil, newError(KindInvalidOperation, id, "only files can be scanned")
	}

	s.startScan(ctx, item, item.LastVersionCache)
	return s.getItem(ctx, ec.CompanyID, id)
}

// ContainsMaliciousFiles reports whether id, or any file below it, has a
// current version whose antivirus status is neither uploaded nor safe.
func (s *Service) ContainsMaliciousFiles(ctx context.Context, id string, ec drive.ExecutionContext) (_ bool, err error) {
	defer s.observe("contains_malicious", time.Now(), &err)
	if err := checkContext(ctx, ec); err != nil {
		return false, err
	}

	var stack []*drive.DriveItem
	if drive.IsVirtualFolder(id) {
		if err := s.requireAccess(ctx, ec, id, nil, drive.LevelRead); err != nil {
			return false, err
		}
		kids, err := s.children(ctx, ec.CompanyID, id, false)
		if err != nil {
			return false, err
		}
		stack = kids
	} else {
		item, err := s.getItem(ctx, ec.CompanyID, id)
		if err != nil {
			return false, err
		}
		if err := s.requireAccess(ctx, ec, id, item, drive.LevelRead); err != nil {
			return false, err
		}
		stack = []*drive.DriveItem{item}
	}

	visited := make(map[string]struct{})
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := visited[node.ID]; seen {
			continue
		}
		visited[node.ID] = struct{}{}

		if !node.IsDirectory {
			if !node.AVStatus.Clean() {
				return true, nil
			}
			continue
		}
		kids, err := s.children(ctx, ec.CompanyID, node.ID, false)
		if err != nil {
			return false, err
		}
		stack = append(stack, kids...)
	}
	return false, nil
}
