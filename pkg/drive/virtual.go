package drive

import "strings"

// Virtual folder ids. Virtual folders are never persisted.
const (
	RootID         = "root"
	TrashID        = "trash"
	SharedWithMeID = "shared_with_me"

	personalPrefix = "user_"
)

// PersonalRootID returns the id of a user's personal virtual folder.
func PersonalRootID(userID string) string {
	return personalPrefix + userID
}

// PersonalRootOwner returns the user owning a personal root id.
func PersonalRootOwner(id string) (string, bool) {
	if !strings.HasPrefix(id, personalPrefix) || len(id) == len(personalPrefix) {
		return "", false
	}
	return strings.TrimPrefix(id, personalPrefix), true
}

// IsVirtualFolder reports whether id names a synthesized folder.
func IsVirtualFolder(id string) bool {
	switch id {
	case "", RootID, TrashID, SharedWithMeID:
		return true
	}
	_, ok := PersonalRootOwner(id)
	return ok
}

// ScopeOfRoot returns the scope of items living under a virtual root.
func ScopeOfRoot(id string) Scope {
	if _, ok := PersonalRootOwner(id); ok {
		return ScopePersonal
	}
	return ScopeShared
}

// VirtualFolder synthesizes the pseudo-item for a virtual id.
func VirtualFolder(companyID, id string) *DriveItem {
	name := id
	switch id {
	case RootID:
		name = "Shared Drive"
	case TrashID:
		name = "Trash"
	case SharedWithMeID:
		name = "Shared with me"
	default:
		if _, ok := PersonalRootOwner(id); ok {
			name = "My Drive"
		}
	}
	return &DriveItem{
		ID:          id,
		CompanyID:   companyID,
		Name:        name,
		IsDirectory: true,
		Scope:       ScopeOfRoot(id),
		AccessInfo:  AccessInformation{Entities: []AccessEntity{}},
	}
}
