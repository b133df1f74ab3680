package documents

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/drive"
	"github.com/marmos91/dittodrive/pkg/repository"
)

// maxNameAttempts bounds the suffix search of uniqueName.
const maxNameAttempts = 1000

var numberSuffix = regexp.MustCompile(`^(.*)-(\d+)$`)

// children returns the items directly under parentID. When includeTrashed
// is false, items flagged in trash are left out.
func (s *Service) children(ctx context.Context, companyID, parentID string, includeTrashed bool) ([]*drive.DriveItem, error) {
	filter := repository.Filter{
		repository.FieldCompanyID: companyID,
		drive.FieldParentID:       parentID,
	}
	if !includeTrashed {
		filter[drive.FieldIsInTrash] = false
	}
	kids, err := s.items.FindAll(ctx, filter, s.cfg.PageSize)
	if err != nil {
		return nil, wrapError(KindInternal, parentID, err, "failed to list children")
	}
	return kids, nil
}

// isInTrash reports whether item or one of its ancestors is trashed.
func (s *Service) isInTrash(ctx context.Context, item *drive.DriveItem) (bool, error) {
	visited := make(map[string]struct{})
	node := item
	for {
		if node.IsInTrash || node.ParentID == drive.TrashID {
			return true, nil
		}
		if drive.IsVirtualFolder(node.ParentID) {
			return false, nil
		}
		visited[node.ID] = struct{}{}
		if _, seen := visited[node.ParentID]; seen {
			return false, newError(KindInternal, node.ID, "cycle detected")
		}
		parent, err := s.items.Get(ctx, item.CompanyID, node.ParentID)
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, wrapError(KindInternal, node.ParentID, err, "failed to load parent")
		}
		node = parent
	}
}

// ancestors returns the chain from the virtual root down to item's parent.
func (s *Service) ancestors(ctx context.Context, item *drive.DriveItem) ([]*drive.DriveItem, error) {
	var chain []*drive.DriveItem
	visited := map[string]struct{}{item.ID: {}}
	id := item.ParentID
	for !drive.IsVirtualFolder(id) {
		if _, seen := visited[id]; seen {
			return nil, newError(KindInternal, id, "cycle detected")
		}
		visited[id] = struct{}{}
		parent, err := s.items.Get(ctx, item.CompanyID, id)
		if errors.Is(err, repository.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, wrapError(KindInternal, id, err, "failed to load parent")
		}
		chain = append(chain, parent)
		id = parent.ParentID
	}
	if drive.IsVirtualFolder(id) && id != "" {
		chain = append(chain, drive.VirtualFolder(item.CompanyID, id))
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// scopeUnder returns the scope of an item placed under parentID.
func (s *Service) scopeUnder(ctx context.Context, companyID, parentID string) (drive.Scope, error) {
	if drive.IsVirtualFolder(parentID) {
		return drive.ScopeOfRoot(parentID), nil
	}
	parent, err := s.getItem(ctx, companyID, parentID)
	if err != nil {
		return "", err
	}
	return parent.Scope, nil
}

// splitName separates a file name into stem and extension. Directories and
// dotfiles without a second dot have no extension.
func splitName(name string, isDirectory bool) (string, string) {
	if isDirectory {
		return name, ""
	}
	ext := filepath.Ext(name)
	if ext == name || ext == "." {
		return name, ""
	}
	return strings.TrimSuffix(name, ext), ext
}

// uniqueName returns name, or name with a "-N" suffix (before the
// extension for files) when a live sibling of the same kind already uses it.
func (s *Service) uniqueName(ctx context.Context, companyID, parentID, name string, isDirectory bool, excludeID string) (string, error) {
	if parentID == drive.TrashID || parentID == drive.SharedWithMeID {
		return name, nil
	}
	siblings, err := s.children(ctx, companyID, parentID, false)
	if err != nil {
		return "", err
	}
	taken := make(map[string]struct{}, len(siblings))
	for _, sib := range siblings {
		if sib.ID != excludeID && sib.IsDirectory == isDirectory {
			taken[sib.Name] = struct{}{}
		}
	}
	if _, ok := taken[name]; !ok {
		return name, nil
	}

	stem, ext := splitName(name, isDirectory)
	next := 2
	if m := numberSuffix.FindStringSubmatch(stem); m != nil {
		if n, err := strconv.Atoi(m[2]); err == nil {
			stem, next = m[1], n+1
		}
	}
	for i := 0; i < maxNameAttempts; i++ {
		candidate := fmt.Sprintf("%s-%d%s", stem, next+i, ext)
		if _, ok := taken[candidate]; !ok {
			return candidate, nil
		}
	}
	return "", newError(KindInvalidOperation, "", "no free name for %q", name)
}

// checkMove validates moving item under target.
func (s *Service) checkMove(ctx context.Context, ec drive.ExecutionContext, item *drive.DriveItem, target string) error {
	if target == item.ID {
		return newError(KindInvalidOperation, item.ID, "cannot move an item into itself")
	}
	switch target {
	case drive.TrashID:
		return newError(KindInvalidOperation, item.ID, "use delete to move items to trash")
	case drive.SharedWithMeID, "":
		return newError(KindInvalidOperation, item.ID, "cannot move into %q", target)
	}
	if drive.IsVirtualFolder(target) {
		return s.requireAccess(ctx, ec, target, nil, drive.LevelWrite)
	}

	dest, err := s.getItem(ctx, ec.CompanyID, target)
	if err != nil {
		return err
	}
	if !dest.IsDirectory {
		return newError(KindInvalidOperation, target, "destination is not a directory")
	}
	if err := s.requireAccess(ctx, ec, target, dest, drive.LevelWrite); err != nil {
		return err
	}

	// The destination must not sit inside the moved subtree.
	visited := make(map[string]struct{})
	node := dest
	for {
		if node.ID == item.ID {
			return newError(KindInvalidOperation, item.ID, "cannot move an item into its own descendant")
		}
		if drive.IsVirtualFolder(node.ParentID) {
			return nil
		}
		if _, seen := visited[node.ID]; seen {
			return newError(KindInternal, node.ID, "cycle detected")
		}
		visited[node.ID] = struct{}{}
		parent, err := s.items.Get(ctx, ec.CompanyID, node.ParentID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return wrapError(KindInternal, node.ParentID, err, "failed to load parent")
		}
		node = parent
	}
}

// updateSizes recomputes directory sizes from id up to the virtual root.
func (s *Service) updateSizes(ctx context.Context, companyID, id string) error {
	visited := make(map[string]struct{})
	for !drive.IsVirtualFolder(id) {
		if _, seen := visited[id]; seen {
			return newError(KindInternal, id, "cycle detected")
		}
		visited[id] = struct{}{}

		item, err := s.items.Get(ctx, companyID, id)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return wrapError(KindInternal, id, err, "failed to load item")
		}

		if item.IsDirectory {
			kids, err := s.children(ctx, companyID, id, false)
			if err != nil {
				return err
			}
			var total int64
			for _, kid := range kids {
				total += kid.Size
			}
			if total != item.Size {
				item.Size = total
				if err := s.saveItem(ctx, item); err != nil {
					return err
				}
			}
		}
		id = item.ParentID
	}
	return nil
}

// updateSizesLogged runs updateSizes and logs instead of failing; used
// after the primary change has already been persisted.
func (s *Service) updateSizesLogged(ctx context.Context, companyID, id string) {
	if err := s.updateSizes(ctx, companyID, id); err != nil {
		logger.Error("documents: failed to update sizes from %s in company %s: %v", id, companyID, err)
	}
}

// subtree returns item and all its descendants, children before parents.
func (s *Service) subtree(ctx context.Context, item *drive.DriveItem) ([]*drive.DriveItem, error) {
	var order []*drive.DriveItem
	visited := map[string]struct{}{item.ID: {}}
	stack := []*drive.DriveItem{item}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		order = append(order, node)
		if !node.IsDirectory {
			continue
		}
		kids, err := s.children(ctx, item.CompanyID, node.ID, true)
		if err != nil {
			return nil, err
		}
		for _, kid := range kids {
			if _, seen := visited[kid.ID]; seen {
				continue
			}
			visited[kid.ID] = struct{}{}
			stack = append(stack, kid)
		}
	}
	// Pre-order reversed puts every child before its parent.
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order, nil
}

// setScope rewrites the scope of a moved subtree.
func (s *Service) setScope(ctx context.Context, item *drive.DriveItem, scope drive.Scope) error {
	if !item.IsDirectory {
		return nil
	}
	nodes, err := s.subtree(ctx, item)
	if err != nil {
		return err
	}
	for _, node := range nodes {
		if node.ID == item.ID || node.Scope == scope {
			continue
		}
		node.Scope = scope
		if err := s.saveItem(ctx, node); err != nil {
			return err
		}
	}
	return nil
}

// quotaCheck fails when adding size bytes would exceed the user's quota.
func (s *Service) quotaCheck(ctx context.Context, companyID, userID string, size int64) error {
	if !s.cfg.QuotaEnabled || userID == "" {
		return nil
	}
	used, err := s.usage(ctx, companyID, userID)
	if err != nil {
		return err
	}
	if used+size > s.cfg.DefaultQuota {
		return newError(KindQuotaExceeded, "", "quota of %d bytes exceeded (%d used, %d requested)", s.cfg.DefaultQuota, used, size)
	}
	return nil
}

// usage sums the sizes of files created by the user, trash included.
func (s *Service) usage(ctx context.Context, companyID, userID string) (int64, error) {
	owned, err := s.items.FindAll(ctx, repository.Filter{
		repository.FieldCompanyID: companyID,
		drive.FieldCreator:        userID,
		drive.FieldIsDirectory:    false,
	}, s.cfg.PageSize)
	if err != nil {
		return 0, wrapError(KindInternal, "", err, "failed to compute usage")
	}
	var total int64
	for _, item := range owned {
		total += item.Size
	}
	return total, nil
}
