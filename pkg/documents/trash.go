package documents

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/drive"
	"github.com/marmos91/dittodrive/pkg/notify"
	"github.com/marmos91/dittodrive/pkg/repository"
)

// Delete moves an item to trash, or removes it permanently when it is
// already in trash.
//
// Manage access is required. Deleting the virtual "trash" id empties the
// trash: company admins purge every trashed item, other users only their
// personal ones. Per-item failures while emptying are logged and skipped.
//
// When an item created by an anonymous identity is trashed, ownership moves
// to the nearest ancestor created by a real user, with a grant recording
// the change.
func (s *Service) Delete(ctx context.Context, id string, ec drive.ExecutionContext) (err error) {
	defer s.observe("delete", time.Now(), &err)
	if err := checkContext(ctx, ec); err != nil {
		return err
	}

	if id == drive.TrashID {
		return s.emptyTrash(ctx, ec)
	}
	if drive.IsVirtualFolder(id) {
		return newError(KindInvalidOperation, id, "virtual folders cannot be deleted")
	}

	item, err := s.getItem(ctx, ec.CompanyID, id)
	if err != nil {
		return err
	}
	if err := s.requireAccess(ctx, ec, id, item, drive.LevelManage); err != nil {
		return err
	}

	trashed, err := s.isInTrash(ctx, item)
	if err != nil {
		return err
	}
	if trashed {
		if err := s.purge(ctx, item); err != nil {
			return err
		}
		s.updateSizesLogged(ctx, ec.CompanyID, item.ParentID)
		return nil
	}

	if err := s.reassignAnonymousOwner(ctx, item, ec); err != nil {
		return err
	}
	if item.AccessInfo, err = s.access.Flatten(ctx, item); err != nil {
		return wrapError(KindInternal, id, err, "failed to flatten access")
	}
	item.IsInTrash = true
	item.LastModified = s.now()
	if err := s.saveItem(ctx, item); err != nil {
		return err
	}
	s.updateSizesLogged(ctx, ec.CompanyID, item.ParentID)

	logger.Debug("documents: moved %s to trash in company %s", id, ec.CompanyID)
	return nil
}

// reassignAnonymousOwner gives item to the creator of the nearest ancestor
// that is a real user.
func (s *Service) reassignAnonymousOwner(ctx context.Context, item *drive.DriveItem, ec drive.ExecutionContext) error {
	anon, err := s.isAnonymous(ctx, item.CompanyID, item.Creator)
	if err != nil || !anon {
		return err
	}

	chain, err := s.ancestors(ctx, item)
	if err != nil {
		return err
	}
	for i := len(chain) - 1; i >= 0; i-- {
		node := chain[i]
		if drive.IsVirtualFolder(node.ID) {
			continue
		}
		anon, err := s.isAnonymous(ctx, item.CompanyID, node.Creator)
		if err != nil {
			return err
		}
		if anon {
			continue
		}
		grantor := ec.UserID
		if grantor == "" {
			grantor = item.Creator
		}
		logger.Info("documents: reassigning %s from anonymous %q to %s", item.ID, item.Creator, node.Creator)
		item.AccessInfo = item.AccessInfo.WithUserGrant(node.Creator, drive.LevelManage, grantor)
		item.Creator = node.Creator
		return nil
	}
	return nil
}

func (s *Service) isAnonymous(ctx context.Context, companyID, userID string) (bool, error) {
	if userID == "" {
		return true, nil
	}
	anon, err := s.users.IsAnonymous(ctx, companyID, userID)
	if err != nil {
		return false, wrapError(KindInternal, "", err, "failed to resolve user %s", userID)
	}
	return anon, nil
}

// purge permanently removes item, its descendants, their versions and
// blobs. Blob removal failures are logged; the blobs are then orphaned.
func (s *Service) purge(ctx context.Context, item *drive.DriveItem) error {
	nodes, err := s.subtree(ctx, item)
	if err != nil {
		return err
	}

	var blobErrs *multierror.Error
	for _, node := range nodes {
		if !node.IsDirectory {
			versions, err := s.versions.FindAll(ctx, repository.Filter{
				repository.FieldCompanyID: node.CompanyID,
				drive.FieldDriveItemID:    node.ID,
			}, s.cfg.PageSize)
			if err != nil {
				return wrapError(KindInternal, node.ID, err, "failed to list versions")
			}
			for _, v := range versions {
				if err := s.files.Delete(ctx, node.CompanyID, v.FileMetadata.ExternalID); err != nil {
					blobErrs = multierror.Append(blobErrs, wrapError(KindStorageFailure, node.ID, err, "blob %s", v.FileMetadata.ExternalID))
				}
				if err := s.versions.Remove(ctx, v); err != nil {
					return wrapError(KindInternal, node.ID, err, "failed to remove version %s", v.ID)
				}
			}
		}

		if err := s.items.Remove(ctx, node); err != nil && !errors.Is(err, repository.ErrNotFound) {
			return wrapError(KindInternal, node.ID, err, "failed to remove item")
		}
		if node.AVStatus == drive.AVMalicious {
			s.notifier.NotifyInfectedDocumentRemoved(ctx, notify.InfectedDocumentRemoved{
				CompanyID: node.CompanyID,
				Item:      node,
				Recipient: node.Creator,
			})
		}
	}

	if err := blobErrs.ErrorOrNil(); err != nil {
		logger.Error("documents: purge of %s in company %s left orphaned blobs: %v", item.ID, item.CompanyID, err)
	}
	logger.Debug("documents: purged %s (%d items) in company %s", item.ID, len(nodes), item.CompanyID)
	return nil
}

// emptyTrash purges every trashed item of the company. Only company
// administrators may empty the trash.
func (s *Service) emptyTrash(ctx context.Context, ec drive.ExecutionContext) error {
	admin, err := s.access.IsCompanyAdmin(ctx, ec)
	if err != nil {
		return wrapError(KindInternal, drive.TrashID, err, "role lookup failed")
	}
	if !admin {
		return newError(KindUnauthorized, drive.TrashID, "emptying the trash requires a company administrator")
	}

	trashed, err := s.items.FindAll(ctx, repository.Filter{
		repository.FieldCompanyID: ec.CompanyID,
		drive.FieldIsInTrash:      true,
	}, s.cfg.PageSize)
	if err != nil {
		return wrapError(KindInternal, drive.TrashID, err, "failed to list trash")
	}

	purged := 0
	for _, item := range trashed {
		if err := s.purge(ctx, item); err != nil {
			logger.Error("documents: emptying trash: failed to purge %s in company %s: %v", item.ID, ec.CompanyID, err)
			continue
		}
		s.updateSizesLogged(ctx, ec.CompanyID, item.ParentID)
		purged++
	}
	logger.Info("documents: emptied trash of company %s (%d of %d items)", ec.CompanyID, purged, len(trashed))
	return nil
}

// PurgeExpired permanently removes items trashed before cutoff in one
// company. It returns the number of trashed roots purged.
func (s *Service) PurgeExpired(ctx context.Context, companyID string, cutoff time.Time) (n int, err error) {
	defer s.observe("purge_expired", time.Now(), &err)
	if companyID == "" {
		return 0, newError(KindInvalidOperation, "", "company is required")
	}

	trashed, err := s.items.FindAll(ctx, repository.Filter{
		repository.FieldCompanyID: companyID,
		drive.FieldIsInTrash:      true,
	}, s.cfg.PageSize)
	if err != nil {
		return 0, wrapError(KindInternal, "", err, "failed to list trash")
	}

	for _, item := range trashed {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if !item.LastModified.Before(cutoff) {
			continue
		}
		if err := s.purge(ctx, item); err != nil {
			logger.Error("documents: retention purge of %s in company %s failed: %v", item.ID, companyID, err)
			continue
		}
		s.updateSizesLogged(ctx, companyID, item.ParentID)
		n++
	}
	return n, nil
}

// Restore takes an item out of trash.
//
// An item flagged in trash is unflagged. If it is still in trash through a
// trashed ancestor, it is moved to the creator's personal root (personal
// scope) or the shared root.
func (s *Service) Restore(ctx context.Context, id string, ec drive.ExecutionContext) (_ *drive.DriveItem, err error) {
	defer s.observe("restore", time.Now(), &err)
	if err := checkContext(ctx, ec); err != nil {
		return nil, err
	}

	item, err := s.getItem(ctx, ec.CompanyID, id)
	if err != nil {
		return nil, err
	}
	if err := s.requireAccess(ctx, ec, id, item, drive.LevelManage); err != nil {
		return nil, err
	}

	oldParent := item.ParentID
	item.IsInTrash = false

	trashed, err := s.isInTrash(ctx, item)
	if err != nil {
		return nil, err
	}
	if trashed {
		if item.Scope == drive.ScopePersonal && item.Creator != "" {
			item.ParentID = drive.PersonalRootID(item.Creator)
		} else {
			item.ParentID = drive.RootID
			item.Scope = drive.ScopeShared
		}
	}
	if item.Name, err = s.uniqueName(ctx, ec.CompanyID, item.ParentID, item.Name, item.IsDirectory, item.ID); err != nil {
		return nil, err
	}

	item.LastModified = s.now()
	if err := s.saveItem(ctx, item); err != nil {
		return nil, err
	}
	if oldParent != item.ParentID {
		s.updateSizesLogged(ctx, ec.CompanyID, oldParent)
	}
	s.updateSizesLogged(ctx, ec.CompanyID, item.ParentID)
	return item, nil
}
