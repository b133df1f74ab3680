package storage

import "errors"

// Standard storage errors.
//
// Backends wrap these with context (backend id, path) so callers can test
// with errors.Is regardless of which physical backend served the call.
//
// Usage Pattern:
//
//	rc, err := store.Read(ctx, path, storage.ReadOptions{})
//	if errors.Is(err, storage.ErrNotFound) {
//	    // blob is missing everywhere
//	}
var (
	// ErrNotFound indicates that the requested path does not exist.
	//
	// For the composite strategy it means no backend had the path.
	ErrNotFound = errors.New("blob not found")

	// ErrWriteFailed indicates that a write did not persist the blob.
	ErrWriteFailed = errors.New("blob write failed")

	// ErrAllBackendsFailed indicates that every backend of a composite store
	// failed the operation. It is always wrapped together with ErrWriteFailed
	// for writes.
	ErrAllBackendsFailed = errors.New("all storage backends failed")

	// ErrInvalidPath indicates a path that is empty, absolute, or escapes the
	// storage root.
	ErrInvalidPath = errors.New("invalid storage path")
)
