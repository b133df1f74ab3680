package search

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/marmos91/dittodrive/pkg/drive"
)

// Filter fields of indexed drive items.
const (
	FieldMime        = "mime"
	FieldCreator     = drive.FieldCreator
	FieldIsDirectory = drive.FieldIsDirectory
	FieldIsInTrash   = drive.FieldIsInTrash
	FieldParentID    = drive.FieldParentID
)

// DriveItemMapper indexes drive items by name, description and tags.
func DriveItemMapper(data []byte) (Document, bool, error) {
	var item drive.DriveItem
	if err := json.Unmarshal(data, &item); err != nil {
		return Document{}, false, fmt.Errorf("failed to decode drive item: %w", err)
	}

	text := item.Name
	if item.Description != "" {
		text += " " + item.Description
	}
	if len(item.Tags) > 0 {
		text += " " + strings.Join(item.Tags, " ")
	}

	mime := ""
	if item.LastVersionCache != nil {
		mime = item.LastVersionCache.FileMetadata.Mime
	}

	return Document{
		CompanyID: item.CompanyID,
		ID:        item.ID,
		Text:      text,
		Fields: map[string]any{
			FieldMime:        mime,
			FieldCreator:     item.Creator,
			FieldIsDirectory: item.IsDirectory,
			FieldIsInTrash:   item.IsInTrash,
			FieldParentID:    item.ParentID,
		},
	}, true, nil
}
