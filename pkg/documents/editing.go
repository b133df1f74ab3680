package documents

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/jpillora/backoff"
	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/drive"
	"github.com/marmos91/dittodrive/pkg/repository"
)

// BeginEditing returns the editing session key of a file, creating one if
// no session is active.
//
// Claims use compare-and-set on the item's editing_session_key, so
// concurrent callers agree on a single key. When a key already exists the
// editor is asked about it: unknown or live sessions are joined (the
// existing key is returned), updated or expired sessions are cleared and the
// claim is retried with exponential backoff, up to EditingMaxAttempts.
func (s *Service) BeginEditing(ctx context.Context, id, editorApplicationID, appInstanceID string, ec drive.ExecutionContext) (_ string, err error) {
	defer s.observe("begin_editing", time.Now(), &err)
	if err := checkContext(ctx, ec); err != nil {
		return "", err
	}
	if editorApplicationID == "" {
		return "", newError(KindInvalidOperation, id, "editor application is required")
	}

	item, err := s.getItem(ctx, ec.CompanyID, id)
	if err != nil {
		return "", err
	}
	if item.IsDirectory {
		return "", newError(KindInvalidOperation, id, "directories cannot be edited")
	}
	if err := s.requireAccess(ctx, ec, id, item, drive.LevelWrite); err != nil {
		return "", err
	}
	if item.AVStatus == drive.AVMalicious {
		return "", newError(KindMaliciousFile, id, "item is flagged as malicious")
	}

	b := &backoff.Backoff{
		Min:    s.cfg.EditingMinBackoff,
		Max:    s.cfg.EditingMaxBackoff,
		Factor: 2,
		Jitter: true,
	}

	for attempt := 1; attempt <= s.cfg.EditingMaxAttempts; attempt++ {
		session, err := drive.NewEditingSession(editorApplicationID, appInstanceID, ec.CompanyID, ec.UserID)
		if err != nil {
			return "", wrapError(KindInternal, id, err, "failed to create session key")
		}
		key := session.Key()

		claimed, err := s.items.AtomicCompareAndSet(ctx, ec.CompanyID, id, drive.FieldEditingSessionKey, nil, key)
		if err != nil {
			return "", s.casError(id, err)
		}
		if claimed {
			logger.Debug("documents: editing session opened on %s by %s", id, ec.UserID)
			return key, nil
		}

		current, err := s.getItem(ctx, ec.CompanyID, id)
		if err != nil {
			return "", err
		}
		if current.EditingSessionKey != nil {
			existing := *current.EditingSessionKey
			status, err := s.editors.KeyStatus(ctx, existing)
			if err != nil {
				logger.Warn("documents: editor status of session on %s unavailable, joining it: %v", id, err)
				return existing, nil
			}
			if !status.Finished() {
				return existing, nil
			}
			// Clear the finished session; losing this race is fine, the
			// next claim will see the winner's key.
			if _, err := s.items.AtomicCompareAndSet(ctx, ec.CompanyID, id, drive.FieldEditingSessionKey, existing, nil); err != nil {
				return "", s.casError(id, err)
			}
			logger.Debug("documents: cleared %s editing session on %s", status, id)
		}

		if s.metrics != nil {
			s.metrics.RecordEditingRetry()
		}
		if err := sleep(ctx, b.Duration()); err != nil {
			return "", err
		}
	}

	return "", newError(KindInternal, id, "failed to claim an editing session after %d attempts", s.cfg.EditingMaxAttempts)
}

func (s *Service) casError(id string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return newError(KindNotFound, id, "item not found")
	}
	return wrapError(KindInternal, id, err, "editing session update failed")
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// UpdateEditingRequest carries content saved by an editor.
type UpdateEditingRequest struct {
	// Content, when set, becomes a new version of the file.
	Content  io.Reader
	Filename string
	Mime     string

	// KeepEditing leaves the session open after saving.
	KeepEditing bool
}

// UpdateEditing stores editor output for a session and, unless KeepEditing
// is set, closes the session.
//
// The version is created on behalf of the user encoded in the key. Closing
// uses compare-and-set from the given key, so a session that was already
// replaced yields KindInvalidOperation.
func (s *Service) UpdateEditing(ctx context.Context, key string, req UpdateEditingRequest, ec drive.ExecutionContext) (_ *drive.DriveItem, err error) {
	defer s.observe("update_editing", time.Now(), &err)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	session, err := drive.ParseEditingSessionKey(key)
	if err != nil {
		return nil, wrapError(KindInvalidOperation, "", err, "bad editing session key")
	}
	if ec.CompanyID != "" && ec.CompanyID != session.CompanyID {
		return nil, newError(KindUnauthorized, "", "session belongs to another company")
	}
	editor := drive.ExecutionContext{CompanyID: session.CompanyID, UserID: session.UserID}

	item, err := s.itemBySessionKey(ctx, session.CompanyID, key)
	if err != nil {
		return nil, err
	}
	if err := s.requireAccess(ctx, editor, item.ID, item, drive.LevelWrite); err != nil {
		return nil, err
	}

	if req.Content != nil {
		if _, err := s.addVersion(ctx, item, VersionRequest{
			Content:       req.Content,
			Filename:      req.Filename,
			Mime:          req.Mime,
			ApplicationID: session.EditorApplicationID,
		}, editor); err != nil {
			return nil, err
		}
	}

	if !req.KeepEditing {
		cleared, err := s.items.AtomicCompareAndSet(ctx, session.CompanyID, item.ID, drive.FieldEditingSessionKey, key, nil)
		if err != nil {
			return nil, s.casError(item.ID, err)
		}
		if !cleared {
			return nil, newError(KindInvalidOperation, item.ID, "editing session is no longer current")
		}
		logger.Debug("documents: editing session closed on %s", item.ID)
	}

	return s.getItem(ctx, session.CompanyID, item.ID)
}

// GetByEditingSessionKey returns the item holding an editing session.
func (s *Service) GetByEditingSessionKey(ctx context.Context, key string, ec drive.ExecutionContext) (_ *drive.DriveItem, err error) {
	defer s.observe("get_by_editing_session", time.Now(), &err)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	session, err := drive.ParseEditingSessionKey(key)
	if err != nil {
		return nil, wrapError(KindInvalidOperation, "", err, "bad editing session key")
	}
	if ec.CompanyID != "" && ec.CompanyID != session.CompanyID {
		return nil, newError(KindUnauthorized, "", "session belongs to another company")
	}

	item, err := s.itemBySessionKey(ctx, session.CompanyID, key)
	if err != nil {
		return nil, err
	}
	if ec.CompanyID != "" {
		if err := s.requireAccess(ctx, ec, item.ID, item, drive.LevelRead); err != nil {
			return nil, err
		}
	}
	return item, nil
}

func (s *Service) itemBySessionKey(ctx context.Context, companyID, key string) (*drive.DriveItem, error) {
	item, err := s.items.FindOne(ctx, repository.Filter{
		repository.FieldCompanyID:    companyID,
		drive.FieldEditingSessionKey: key,
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, newError(KindNotFound, "", "no item for editing session")
	}
	if err != nil {
		return nil, wrapError(KindInternal, "", err, "failed to look up editing session")
	}
	return item, nil
}
