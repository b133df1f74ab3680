package repository

import "errors"

// Standard repository errors.
//
// Connectors return these (possibly wrapped) so callers can test with
// errors.Is regardless of which database backs the repository.
var (
	// ErrNotFound indicates that no entity matched the lookup.
	//
	// Returned by FindOne when the filter matches nothing, and by Remove when
	// the entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrConflict indicates a concurrent modification was detected by the
	// backend while applying a write (for example a Badger transaction
	// conflict). AtomicCompareAndSet reports conflicts as a false result,
	// never as this error.
	ErrConflict = errors.New("concurrent modification conflict")

	// ErrMissingCompany indicates a query or write without a tenant scope.
	//
	// Every repository operation must carry a non-empty company_id. There is
	// no cross-tenant query.
	ErrMissingCompany = errors.New("company_id is required")

	// ErrInvalidEntity indicates an entity that cannot be persisted, for
	// example one without an id.
	ErrInvalidEntity = errors.New("invalid entity")
)
