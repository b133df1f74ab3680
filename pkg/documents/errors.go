package documents

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind categorizes documents service failures.
//
// Adapters (WebDAV, REST) translate kinds into protocol status codes.
type ErrorKind int

const (
	// KindInternal is any failure not covered by another kind.
	KindInternal ErrorKind = iota

	// KindNotFound indicates the item, version or blob does not exist.
	KindNotFound

	// KindUnauthorized indicates the caller lacks the required access level.
	KindUnauthorized

	// KindQuotaExceeded indicates the upload would exceed the user's quota.
	// The uploaded blob has already been removed when this is returned.
	KindQuotaExceeded

	// KindInvalidOperation indicates a request that violates a tree rule
	// (moving into a descendant, creating inside trash, ...).
	KindInvalidOperation

	// KindMaliciousFile indicates an operation refused because the item
	// content was flagged by the antivirus. It also matches
	// ErrInvalidOperation.
	KindMaliciousFile

	// KindStorageFailure indicates a blob backend failure. It is reported
	// to callers as KindInternal.
	KindStorageFailure

	// KindScanFailure indicates the antivirus could not be invoked. It is
	// reported to callers as KindInternal.
	KindScanFailure
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindUnauthorized:
		return "unauthorized"
	case KindQuotaExceeded:
		return "quota exceeded"
	case KindInvalidOperation:
		return "invalid operation"
	case KindMaliciousFile:
		return "malicious file"
	case KindStorageFailure:
		return "storage failure"
	case KindScanFailure:
		return "scan failure"
	default:
		return "internal error"
	}
}

// Error is the error type returned by Service operations.
type Error struct {
	Kind    ErrorKind
	Message string

	// ItemID is the drive item concerned, if any.
	ItemID string

	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.ItemID != "" {
		msg += ": " + e.ItemID
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so the sentinels below can
// be used with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == e.Kind {
		return true
	}
	return e.Kind == KindMaliciousFile && t.Kind == KindInvalidOperation
}

// Sentinels for errors.Is comparisons.
var (
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrUnauthorized     = &Error{Kind: KindUnauthorized}
	ErrQuotaExceeded    = &Error{Kind: KindQuotaExceeded}
	ErrInvalidOperation = &Error{Kind: KindInvalidOperation}
	ErrMaliciousFile    = &Error{Kind: KindMaliciousFile}
	ErrInternal         = &Error{Kind: KindInternal}
)

func newError(kind ErrorKind, itemID, format string, args ...any) *Error {
	return &Error{Kind: kind, ItemID: itemID, Message: fmt.Sprintf(format, args...)}
}

func wrapError(kind ErrorKind, itemID string, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, ItemID: itemID, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsUnauthorized reports whether err is an access error.
func IsUnauthorized(err error) bool { return errors.Is(err, ErrUnauthorized) }

// IsInvalidOperation reports whether err is an invalid operation,
// including malicious-file refusals.
func IsInvalidOperation(err error) bool { return errors.Is(err, ErrInvalidOperation) }

// boundary converts an internal error into the form returned to callers:
// storage and scan failures and foreign errors become KindInternal, the
// original error stays reachable through Unwrap.
func boundary(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var e *Error
	if !errors.As(err, &e) {
		return &Error{Kind: KindInternal, Message: "internal error", Err: err}
	}
	switch e.Kind {
	case KindStorageFailure, KindScanFailure:
		return &Error{Kind: KindInternal, Message: e.Kind.String(), ItemID: e.ItemID, Err: err}
	}
	return err
}
