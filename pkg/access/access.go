// Package access evaluates drive item permissions.
//
// The effective level of a caller on an item is found by climbing the tree:
// at each node the public link and the explicit grants that apply to the
// caller are considered; the first node carrying any applicable grant decides
// (the most permissive grant on that node wins, ancestors further up are not
// consulted). Climbing that reaches a virtual root without finding a grant
// yields read for company members, and never manage.
package access

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/marmos91/dittodrive/pkg/drive"
	"github.com/marmos91/dittodrive/pkg/repository"
)

// Items loads drive items by id.
type Items interface {
	Get(ctx context.Context, companyID, id string) (*drive.DriveItem, error)
}

// Roles answers company role questions.
type Roles interface {
	IsCompanyAdmin(ctx context.Context, companyID, userID string) (bool, error)
}

// Evaluator computes access levels.
//
// Thread Safety: Safe for concurrent use if Items and Roles are.
type Evaluator struct {
	items Items
	roles Roles
	now   func() time.Time
}

// New creates an evaluator. roles may be nil, in which case nobody is a
// company admin.
func New(items Items, roles Roles) *Evaluator {
	return &Evaluator{items: items, roles: roles, now: time.Now}
}

// CheckAccess reports whether the caller holds at least level on id.
//
// item may be nil, in which case it is loaded. A lookup failure other than
// "not found" is returned; a missing item yields false.
func (e *Evaluator) CheckAccess(ctx context.Context, id string, item *drive.DriveItem, level drive.Level, ec drive.ExecutionContext) (bool, error) {
	got, err := e.GetAccessLevel(ctx, id, item, ec)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return got.AtLeast(level), nil
}

// GetAccessLevel returns the effective level of the caller on id.
//
// Virtual ids are evaluated directly:
//   - root, shared_with_me: write for company members, none for anonymous callers
//   - trash: manage for company admins, read for members
//   - user_<id>: manage for the owner, none for everybody else
//
// Returns repository.ErrNotFound when a real item does not exist.
func (e *Evaluator) GetAccessLevel(ctx context.Context, id string, item *drive.DriveItem, ec drive.ExecutionContext) (drive.Level, error) {
	if err := ctx.Err(); err != nil {
		return drive.LevelNone, err
	}
	if ec.System {
		return drive.LevelManage, nil
	}

	if drive.IsVirtualFolder(id) {
		return e.virtualLevel(ctx, id, ec)
	}

	if item == nil || item.ID != id {
		loaded, err := e.items.Get(ctx, ec.CompanyID, id)
		if err != nil {
			return drive.LevelNone, err
		}
		item = loaded
	}
	if item.CompanyID != ec.CompanyID {
		return drive.LevelNone, nil
	}

	return e.climb(ctx, item, ec)
}

func (e *Evaluator) virtualLevel(ctx context.Context, id string, ec drive.ExecutionContext) (drive.Level, error) {
	if ec.Anonymous() {
		return drive.LevelNone, nil
	}
	switch id {
	case drive.RootID, drive.SharedWithMeID, "":
		return drive.LevelWrite, nil
	case drive.TrashID:
		admin, err := e.isAdmin(ctx, ec)
		if err != nil {
			return drive.LevelNone, err
		}
		if admin {
			return drive.LevelManage, nil
		}
		return drive.LevelRead, nil
	}
	if owner, ok := drive.PersonalRootOwner(id); ok && owner == ec.UserID {
		return drive.LevelManage, nil
	}
	return drive.LevelNone, nil
}

// climb walks from item towards the root until a node grants something.
func (e *Evaluator) climb(ctx context.Context, item *drive.DriveItem, ec drive.ExecutionContext) (drive.Level, error) {
	visited := make(map[string]struct{})
	node := item
	for {
		if _, seen := visited[node.ID]; seen {
			return drive.LevelNone, fmt.Errorf("cycle detected at item %s", node.ID)
		}
		visited[node.ID] = struct{}{}

		if level, ok := e.nodeLevel(node, ec); ok {
			return level, nil
		}

		if drive.IsVirtualFolder(node.ParentID) {
			return terminalLevel(node.ParentID, ec), nil
		}

		parent, err := e.items.Get(ctx, ec.CompanyID, node.ParentID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return drive.LevelNone, nil
			}
			return drive.LevelNone, fmt.Errorf("failed to load parent %s: %w", node.ParentID, err)
		}
		node = parent
	}
}

// terminalLevel is the level inherited from a virtual root when no node on
// the way carried a grant.
func terminalLevel(rootID string, ec drive.ExecutionContext) drive.Level {
	if ec.Anonymous() {
		return drive.LevelNone
	}
	if owner, ok := drive.PersonalRootOwner(rootID); ok && owner != ec.UserID {
		return drive.LevelNone
	}
	return drive.LevelRead
}

// nodeLevel returns the best grant on node applying to the caller, and
// whether any grant applied at all.
func (e *Evaluator) nodeLevel(node *drive.DriveItem, ec drive.ExecutionContext) (drive.Level, bool) {
	var found []drive.Level

	if pub := node.AccessInfo.Public; pub.Active(e.now()) && ec.PublicToken != "" && ec.PublicToken == pub.Token {
		if pub.Password == "" || pub.Password == ec.PublicPassword {
			found = append(found, pub.Level)
		}
	}

	for _, grant := range node.AccessInfo.Entities {
		if appliesTo(grant, node, ec) {
			found = append(found, grant.Level)
		}
	}

	if len(found) == 0 {
		return drive.LevelNone, false
	}
	return drive.MaxLevel(found...), true
}

func appliesTo(grant drive.AccessEntity, node *drive.DriveItem, ec drive.ExecutionContext) bool {
	if ec.Anonymous() {
		return false
	}
	switch grant.Type {
	case drive.EntityUser:
		return grant.ID == ec.UserID
	case drive.EntityCompany:
		return grant.ID == node.CompanyID && grant.ID == ec.CompanyID
	case drive.EntityChannel:
		return slices.Contains(ec.Channels, grant.ID)
	}
	return false
}

func (e *Evaluator) isAdmin(ctx context.Context, ec drive.ExecutionContext) (bool, error) {
	if e.roles == nil || ec.Anonymous() {
		return false, nil
	}
	return e.roles.IsCompanyAdmin(ctx, ec.CompanyID, ec.UserID)
}

// IsCompanyAdmin reports whether the caller administers its company.
func (e *Evaluator) IsCompanyAdmin(ctx context.Context, ec drive.ExecutionContext) (bool, error) {
	if ec.System {
		return true, nil
	}
	return e.isAdmin(ctx, ec)
}

// Flatten returns the grant list item would effectively inherit, so it can
// be stored on the item itself before the item is detached from its
// ancestors (moved to trash).
//
// The grants of the nearest node carrying any grant are copied. If no such
// node exists, the creator receives manage.
func (e *Evaluator) Flatten(ctx context.Context, item *drive.DriveItem) (drive.AccessInformation, error) {
	visited := make(map[string]struct{})
	node := item
	for {
		if _, seen := visited[node.ID]; seen {
			return drive.AccessInformation{}, fmt.Errorf("cycle detected at item %s", node.ID)
		}
		visited[node.ID] = struct{}{}

		if len(node.AccessInfo.Entities) > 0 {
			out := node.AccessInfo.Clone()
			out.Public = nil
			if item.AccessInfo.Public != nil {
				p := *item.AccessInfo.Public
				out.Public = &p
			}
			return out, nil
		}

		if drive.IsVirtualFolder(node.ParentID) {
			break
		}
		parent, err := e.items.Get(ctx, item.CompanyID, node.ParentID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				break
			}
			return drive.AccessInformation{}, fmt.Errorf("failed to load parent %s: %w", node.ParentID, err)
		}
		node = parent
	}

	out := item.AccessInfo.Clone()
	if item.Creator != "" {
		out = out.WithUserGrant(item.Creator, drive.LevelManage, item.Creator)
	}
	return out, nil
}
