package drive

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidSessionKey is returned when an editing session key cannot be decoded.
var ErrInvalidSessionKey = errors.New("invalid editing session key")

// EditingSession is the payload of an editing session key.
type EditingSession struct {
	EditorApplicationID string `json:"a"`
	AppInstanceID       string `json:"i"`
	CompanyID           string `json:"c"`
	UserID              string `json:"u"`
	Nonce               string `json:"n"`
}

// NewEditingSession returns a session with a fresh random component.
func NewEditingSession(editorApplicationID, appInstanceID, companyID, userID string) (EditingSession, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return EditingSession{}, fmt.Errorf("failed to generate session nonce: %w", err)
	}
	return EditingSession{
		EditorApplicationID: editorApplicationID,
		AppInstanceID:       appInstanceID,
		CompanyID:           companyID,
		UserID:              userID,
		Nonce:               hex.EncodeToString(buf),
	}, nil
}

// Key encodes the session into its opaque string form.
func (s EditingSession) Key() string {
	data, _ := json.Marshal(s)
	return base64.RawURLEncoding.EncodeToString(data)
}

// ParseEditingSessionKey decodes a key produced by EditingSession.Key.
func ParseEditingSessionKey(key string) (EditingSession, error) {
	data, err := base64.RawURLEncoding.DecodeString(key)
	if err != nil {
		return EditingSession{}, fmt.Errorf("%w: %v", ErrInvalidSessionKey, err)
	}
	var s EditingSession
	if err := json.Unmarshal(data, &s); err != nil {
		return EditingSession{}, fmt.Errorf("%w: %v", ErrInvalidSessionKey, err)
	}
	if s.CompanyID == "" || s.EditorApplicationID == "" || s.Nonce == "" {
		return EditingSession{}, fmt.Errorf("%w: missing fields", ErrInvalidSessionKey)
	}
	return s, nil
}
