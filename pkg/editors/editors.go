// Package editors queries online editor applications about editing
// sessions.
package editors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	retryablehttp "github.com/hashicorp/go-retryablehttp"
	"github.com/marmos91/dittodrive/pkg/drive"
)

// KeyStatus is an editor's view of an editing session.
type KeyStatus string

const (
	// StatusUnknown: the editor has no record of the key (not opened yet).
	StatusUnknown KeyStatus = "unknown"
	// StatusLive: the document is open in the editor.
	StatusLive KeyStatus = "live"
	// StatusUpdated: the editor saved the final content and closed.
	StatusUpdated KeyStatus = "updated"
	// StatusExpired: the session ended without changes.
	StatusExpired KeyStatus = "expired"
)

// Finished reports whether the session can be replaced by a new one.
func (s KeyStatus) Finished() bool {
	return s == StatusUpdated || s == StatusExpired
}

// Provider reports editing session status.
type Provider interface {
	KeyStatus(ctx context.Context, key string) (KeyStatus, error)
}

// HTTPConfig configures the HTTP provider.
type HTTPConfig struct {
	// URL is the default editor base URL.
	URL string `mapstructure:"url"`

	// Applications maps an editor application id to its base URL,
	// overriding URL.
	Applications map[string]string `mapstructure:"applications"`

	// Timeout bounds one status request. Default: 10s.
	Timeout time.Duration `mapstructure:"timeout"`

	// RetryMax is the number of retries on transport errors and 5xx. Default: 2.
	RetryMax int `mapstructure:"retry_max"`
}

// HTTPProvider asks the editor with GET {url}/status?key=<key>.
//
// Thread Safety: Safe for concurrent use.
type HTTPProvider struct {
	cfg    HTTPConfig
	client *retryablehttp.Client
}

// NewHTTPProvider creates an HTTP provider.
func NewHTTPProvider(cfg HTTPConfig) *HTTPProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 2
	}
	client := retryablehttp.NewClient()
	client.RetryMax = cfg.RetryMax
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = cfg.Timeout
	client.Logger = nil
	return &HTTPProvider{cfg: cfg, client: client}
}

func (p *HTTPProvider) baseURL(key string) (string, error) {
	session, err := drive.ParseEditingSessionKey(key)
	if err != nil {
		return "", err
	}
	if u, ok := p.cfg.Applications[session.EditorApplicationID]; ok {
		return u, nil
	}
	if p.cfg.URL == "" {
		return "", fmt.Errorf("no editor url for application %q", session.EditorApplicationID)
	}
	return p.cfg.URL, nil
}

// KeyStatus implements Provider. A 404 from the editor means unknown.
func (p *HTTPProvider) KeyStatus(ctx context.Context, key string) (KeyStatus, error) {
	base, err := p.baseURL(key)
	if err != nil {
		return StatusUnknown, err
	}
	endpoint := strings.TrimRight(base, "/") + "/status?key=" + url.QueryEscape(key)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return StatusUnknown, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return StatusUnknown, fmt.Errorf("editor status request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return StatusUnknown, nil
	}
	if resp.StatusCode != http.StatusOK {
		return StatusUnknown, fmt.Errorf("editor status request returned %s", resp.Status)
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return StatusUnknown, fmt.Errorf("failed to decode editor status: %w", err)
	}
	switch s := KeyStatus(body.Status); s {
	case StatusUnknown, StatusLive, StatusUpdated, StatusExpired:
		return s, nil
	}
	return StatusUnknown, fmt.Errorf("unexpected editor status %q", body.Status)
}

// Static is an in-memory Provider. Keys without an entry are unknown.
type Static struct {
	mu       sync.RWMutex
	statuses map[string]KeyStatus
}

// NewStatic creates an empty static provider.
func NewStatic() *Static {
	return &Static{statuses: make(map[string]KeyStatus)}
}

// Set records the status of a key.
func (s *Static) Set(key string, status KeyStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[key] = status
}

func (s *Static) KeyStatus(ctx context.Context, key string) (KeyStatus, error) {
	if err := ctx.Err(); err != nil {
		return StatusUnknown, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.statuses[key]; ok {
		return st, nil
	}
	return StatusUnknown, nil
}
