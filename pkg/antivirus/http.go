package antivirus

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
	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/drive"
)

// HTTPConfig configures the HTTP scanner.
type HTTPConfig struct {
	// URL is the scanner base URL; content is POSTed to URL + "/scan".
	URL string `mapstructure:"url" validate:"required,url"`

	// MaxFileSize skips files larger than this many bytes. 0 means no limit.
	MaxFileSize int64 `mapstructure:"max_file_size"`

	// Timeout bounds one scan. Default: 5m.
	Timeout time.Duration `mapstructure:"timeout"`

	// RetryMax is the number of retries on transport errors and 5xx. Default: 3.
	RetryMax int `mapstructure:"retry_max"`
}

// HTTPScanner posts content to a clamd-style REST scanner.
//
// The scanner answers {"infected": bool} (or {"status": "clean"|"infected"}).
//
// Thread Safety: Safe for concurrent use.
type HTTPScanner struct {
	cfg    HTTPConfig
	client *retryablehttp.Client
	wg     sync.WaitGroup
}

// NewHTTPScanner creates a scanner client.
func NewHTTPScanner(cfg HTTPConfig) (*HTTPScanner, error) {
	if _, err := url.ParseRequestURI(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid antivirus url %q: %w", cfg.URL, err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 3
	}

	client := retryablehttp.NewClient()
	client.RetryMax = cfg.RetryMax
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.Logger = nil

	return &HTTPScanner{cfg: cfg, client: client}, nil
}

func (s *HTTPScanner) Scan(ctx context.Context, req Request, onResult Callback) (drive.AVStatus, error) {
	if err := ctx.Err(); err != nil {
		return drive.AVScanFailed, err
	}
	if req.Open == nil {
		return drive.AVScanFailed, fmt.Errorf("%w: no content for version %s", ErrScanFailed, req.VersionID)
	}
	if s.cfg.MaxFileSize > 0 && req.Size > s.cfg.MaxFileSize {
		logger.Info("antivirus: skipping %s (%d bytes exceeds limit)", req.ItemID, req.Size)
		return drive.AVSkipped, nil
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// The caller's request may be long gone when the scan finishes.
		scanCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
		defer cancel()

		status, err := s.scan(scanCtx, req)
		if err != nil {
			logger.Error("antivirus: scan of item %s version %s in company %s failed: %v",
				req.ItemID, req.VersionID, req.CompanyID, err)
			status = drive.AVScanFailed
		}
		if onResult != nil {
			onResult(scanCtx, status)
		}
	}()

	return drive.AVScanning, nil
}

func (s *HTTPScanner) scan(ctx context.Context, req Request) (drive.AVStatus, error) {
	body, err := req.Open(ctx)
	if err != nil {
		return drive.AVScanFailed, fmt.Errorf("%w: open content: %v", ErrScanFailed, err)
	}
	defer body.Close()

	endpoint := strings.TrimRight(s.cfg.URL, "/") + "/scan"
	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return drive.AVScanFailed, fmt.Errorf("%w: %v", ErrScanFailed, err)
	}
	httpReq.Header.Set("Content-Type", "application/octet-stream")
	httpReq.Header.Set("X-Filename", req.Filename)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return drive.AVScanFailed, fmt.Errorf("%w: %v", ErrScanFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return drive.AVScanFailed, fmt.Errorf("%w: scanner returned %s", ErrScanFailed, resp.Status)
	}

	var verdict struct {
		Infected *bool  `json:"infected"`
		Status   string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return drive.AVScanFailed, fmt.Errorf("%w: decode verdict: %v", ErrScanFailed, err)
	}

	switch {
	case verdict.Infected != nil && *verdict.Infected, strings.EqualFold(verdict.Status, "infected"):
		return drive.AVMalicious, nil
	case verdict.Infected != nil, strings.EqualFold(verdict.Status, "clean"):
		return drive.AVSafe, nil
	}
	return drive.AVScanFailed, fmt.Errorf("%w: unrecognized verdict", ErrScanFailed)
}

// Wait blocks until in-flight scans have reported.
func (s *HTTPScanner) Wait() {
	s.wg.Wait()
}
