package drive

import "time"

// Level is an access tier. Levels are ordered none < read < write < manage.
type Level string

const (
	LevelNone   Level = "none"
	LevelRead   Level = "read"
	LevelWrite  Level = "write"
	LevelManage Level = "manage"
)

func (l Level) rank() int {
	switch l {
	case LevelRead:
		return 1
	case LevelWrite:
		return 2
	case LevelManage:
		return 3
	default:
		return 0
	}
}

// AtLeast reports whether l grants everything required grants.
func (l Level) AtLeast(required Level) bool {
	return l.rank() >= required.rank()
}

// Valid reports whether l is one of the four known levels.
func (l Level) Valid() bool {
	switch l {
	case LevelNone, LevelRead, LevelWrite, LevelManage:
		return true
	}
	return false
}

// MaxLevel returns the most permissive of the given levels.
func MaxLevel(levels ...Level) Level {
	best := LevelNone
	for _, l := range levels {
		if l.rank() > best.rank() {
			best = l
		}
	}
	return best
}

// EntityType identifies who an access grant applies to.
type EntityType string

const (
	EntityUser    EntityType = "user"
	EntityCompany EntityType = "company"
	EntityFolder  EntityType = "folder"
	EntityChannel EntityType = "channel"
)

// AccessEntity is one grant on an item.
type AccessEntity struct {
	Type    EntityType `json:"type"`
	ID      string     `json:"id"`
	Level   Level      `json:"level"`
	Grantor string     `json:"grantor,omitempty"`
}

// PublicAccess is the public-link grant of an item.
type PublicAccess struct {
	Level      Level     `json:"level"`
	Password   string    `json:"password,omitempty"`
	Expiration time.Time `json:"expiration,omitempty"`
	Token      string    `json:"token"`
}

// Active reports whether the link grants at least read and has not expired.
func (p *PublicAccess) Active(now time.Time) bool {
	if p == nil || p.Token == "" || !p.Level.AtLeast(LevelRead) {
		return false
	}
	return p.Expiration.IsZero() || now.Before(p.Expiration)
}

// AccessInformation is the full grant set of an item.
type AccessInformation struct {
	Entities []AccessEntity `json:"entities"`
	Public   *PublicAccess  `json:"public,omitempty"`
}

// Clone returns a deep copy.
func (a AccessInformation) Clone() AccessInformation {
	out := AccessInformation{Entities: make([]AccessEntity, len(a.Entities))}
	copy(out.Entities, a.Entities)
	if a.Public != nil {
		p := *a.Public
		out.Public = &p
	}
	return out
}

// Grantees returns the ids of users holding an explicit grant above none.
func (a AccessInformation) Grantees() []string {
	var ids []string
	for _, e := range a.Entities {
		if e.Type == EntityUser && e.Level.AtLeast(LevelRead) {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

// WithUserGrant returns a copy with the user's grant set to level, replacing
// any existing grant for that user.
func (a AccessInformation) WithUserGrant(userID string, level Level, grantor string) AccessInformation {
	out := a.Clone()
	for i, e := range out.Entities {
		if e.Type == EntityUser && e.ID == userID {
			out.Entities[i].Level = level
			out.Entities[i].Grantor = grantor
			return out
		}
	}
	out.Entities = append(out.Entities, AccessEntity{Type: EntityUser, ID: userID, Level: level, Grantor: grantor})
	return out
}
