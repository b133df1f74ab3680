// Package antivirus submits file versions to a malware scanner.
//
// Scanning is asynchronous: Scan returns the status to persist immediately
// (usually scanning) and later invokes the callback with the verdict.
package antivirus

import (
	"context"
	"errors"
	"io"

	"github.com/marmos91/dittodrive/pkg/drive"
)

// ErrScanFailed is returned when a scan cannot be submitted.
var ErrScanFailed = errors.New("antivirus scan failed")

// Request identifies the content to scan.
type Request struct {
	CompanyID string
	ItemID    string
	VersionID string
	Filename  string
	Size      int64

	// Open returns the content. It is called at most once, possibly after
	// Scan has returned.
	Open func(ctx context.Context) (io.ReadCloser, error)
}

// Callback receives the final verdict of an asynchronous scan.
type Callback func(ctx context.Context, status drive.AVStatus)

// Scanner scans file content.
type Scanner interface {
	// Scan submits req. The returned status is stored right away; when it
	// is drive.AVScanning the callback is invoked exactly once later.
	Scan(ctx context.Context, req Request, onResult Callback) (drive.AVStatus, error)
}

// None skips every file.
type None struct{}

func (None) Scan(context.Context, Request, Callback) (drive.AVStatus, error) {
	return drive.AVSkipped, nil
}
