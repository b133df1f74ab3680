package drive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelOrdering(t *testing.T) {
	assert.True(t, LevelManage.AtLeast(LevelWrite))
	assert.True(t, LevelWrite.AtLeast(LevelRead))
	assert.True(t, LevelRead.AtLeast(LevelNone))
	assert.False(t, LevelRead.AtLeast(LevelWrite))
	assert.False(t, Level("bogus").AtLeast(LevelRead))
	assert.Equal(t, LevelWrite, MaxLevel(LevelRead, LevelWrite, LevelNone))
	assert.Equal(t, LevelNone, MaxLevel())
}

func TestNewDriveItem(t *testing.T) {
	item, err := NewDriveItem(DriveItemConfig{
		CompanyID: "c1",
		ParentID:  RootID,
		Name:      "report.pdf",
		Creator:   "alice",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, item.ID)
	assert.Equal(t, ScopeShared, item.Scope)
	assert.Equal(t, AVUploaded, item.AVStatus)
	assert.Nil(t, item.EditingSessionKey)
	require.Len(t, item.AccessInfo.Entities, 1)
	assert.Equal(t, AccessEntity{Type: EntityUser, ID: "alice", Level: LevelManage, Grantor: "alice"}, item.AccessInfo.Entities[0])
}

func TestNewDriveItemValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  DriveItemConfig
	}{
		{"missing company", DriveItemConfig{ParentID: RootID, Name: "a"}},
		{"missing parent", DriveItemConfig{CompanyID: "c1", Name: "a"}},
		{"empty name", DriveItemConfig{CompanyID: "c1", ParentID: RootID, Name: "  "}},
		{"dot name", DriveItemConfig{CompanyID: "c1", ParentID: RootID, Name: ".."}},
		{"separator", DriveItemConfig{CompanyID: "c1", ParentID: RootID, Name: "a/b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDriveItem(tt.cfg)
			require.ErrorIs(t, err, ErrInvalidEntity)
		})
	}
}

func TestNewFileVersion(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	v, err := NewFileVersion(FileVersionConfig{
		CompanyID:   "c1",
		DriveItemID: "i1",
		ExternalID:  "f1",
		Mime:        "text/plain",
		Size:        42,
		Filename:    "a.txt",
		Now:         now,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), v.FileSize)
	assert.Equal(t, "f1", v.FileMetadata.ExternalID)
	assert.Equal(t, now, v.DateAdded)

	_, err = NewFileVersion(FileVersionConfig{CompanyID: "c1", DriveItemID: "i1"})
	require.ErrorIs(t, err, ErrInvalidEntity)
}

func TestVirtualFolders(t *testing.T) {
	for _, id := range []string{RootID, TrashID, SharedWithMeID, "user_bob"} {
		assert.True(t, IsVirtualFolder(id), id)
	}
	assert.False(t, IsVirtualFolder("user_"))
	assert.False(t, IsVirtualFolder("6f1c"))

	owner, ok := PersonalRootOwner(PersonalRootID("bob"))
	require.True(t, ok)
	assert.Equal(t, "bob", owner)
	assert.Equal(t, ScopePersonal, ScopeOfRoot("user_bob"))
	assert.Equal(t, ScopeShared, ScopeOfRoot(RootID))
}

func TestEditingSessionKey(t *testing.T) {
	s, err := NewEditingSession("onlyoffice", "inst-1", "c1", "alice")
	require.NoError(t, err)

	parsed, err := ParseEditingSessionKey(s.Key())
	require.NoError(t, err)
	assert.Equal(t, s, parsed)

	other, err := NewEditingSession("onlyoffice", "inst-1", "c1", "alice")
	require.NoError(t, err)
	assert.NotEqual(t, s.Key(), other.Key())

	_, err = ParseEditingSessionKey("not base64 !!")
	require.ErrorIs(t, err, ErrInvalidSessionKey)
}

func TestPublicAccessActive(t *testing.T) {
	now := time.Now()
	var nilLink *PublicAccess
	assert.False(t, nilLink.Active(now))
	assert.False(t, (&PublicAccess{Level: LevelNone, Token: "t"}).Active(now))
	assert.True(t, (&PublicAccess{Level: LevelRead, Token: "t"}).Active(now))
	assert.False(t, (&PublicAccess{Level: LevelRead, Token: "t", Expiration: now.Add(-time.Minute)}).Active(now))
}
