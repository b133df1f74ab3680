// Package repository provides tenant-scoped persistence of typed entities over
// a pluggable database Connector.
//
// Entities are stored as JSON documents keyed by (table, company_id, id). Every
// entity must serialize top-level "id" and "company_id" fields, and every
// query must carry a company_id constraint: there is no cross-tenant access.
//
// Saves and removals are published as Events to an optional EventPublisher
// (normally an Outbox), which is how secondary projections such as the search
// index are kept eventually consistent.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
)

// FindOptions controls pagination of Find.
type FindOptions struct {
	// Limit is the maximum number of entities returned. 0 means no limit.
	Limit int

	// PageToken resumes a previous Find. Empty starts from the beginning.
	PageToken string
}

// RawPage is a page of encoded documents returned by a Connector.
type RawPage struct {
	Documents [][]byte
	NextPage  string
}

// Connector is the database driver behind a Repository.
//
// Implementations must order Find results by id so pagination is stable,
// reject filters without company_id with ErrMissingCompany, and implement
// AtomicCompareAndSet as a single atomic operation on the backend.
//
// Thread Safety:
// Implementations must be safe for concurrent use by multiple goroutines.
type Connector interface {
	// Find returns documents of table matching filter.
	Find(ctx context.Context, table string, filter Filter, opts FindOptions) (RawPage, error)

	// Save inserts or replaces the document identified by (companyID, id).
	Save(ctx context.Context, table, companyID, id string, data []byte) error

	// Remove deletes the document identified by (companyID, id).
	// Returns ErrNotFound if it does not exist.
	Remove(ctx context.Context, table, companyID, id string) error

	// AtomicCompareAndSet sets field to next on the identified document only
	// if its current value equals previous (nil matches null or absent).
	//
	// Returns:
	//   - bool: true if the swap happened, false if the current value differed
	//   - error: ErrNotFound if the document does not exist, or a backend error
	AtomicCompareAndSet(ctx context.Context, table, companyID, id, field string, previous, next any) (bool, error)

	// Close releases backend resources.
	Close() error
}

// Page is a page of decoded entities.
type Page[T any] struct {
	Entities []*T
	NextPage string
}

// Repository persists entities of type T in one table of a Connector.
type Repository[T any] struct {
	table  string
	conn   Connector
	events EventPublisher
}

// New creates a repository for table. events may be nil.
func New[T any](table string, conn Connector, events EventPublisher) *Repository[T] {
	return &Repository[T]{table: table, conn: conn, events: events}
}

// Table returns the table name.
func (r *Repository[T]) Table() string {
	return r.table
}

// Find returns entities matching filter.
func (r *Repository[T]) Find(ctx context.Context, filter Filter, opts FindOptions) (Page[T], error) {
	if err := filter.Validate(); err != nil {
		return Page[T]{}, err
	}

	raw, err := r.conn.Find(ctx, r.table, filter, opts)
	if err != nil {
		return Page[T]{}, err
	}

	page := Page[T]{NextPage: raw.NextPage, Entities: make([]*T, 0, len(raw.Documents))}
	for _, data := range raw.Documents {
		entity, err := r.decode(data)
		if err != nil {
			return Page[T]{}, err
		}
		page.Entities = append(page.Entities, entity)
	}
	return page, nil
}

// FindAll follows pagination until the result set is exhausted.
func (r *Repository[T]) FindAll(ctx context.Context, filter Filter, pageSize int) ([]*T, error) {
	var (
		all   []*T
		token string
	)
	for {
		page, err := r.Find(ctx, filter, FindOptions{Limit: pageSize, PageToken: token})
		if err != nil {
			return nil, err
		}
		all = append(all, page.Entities...)
		if page.NextPage == "" {
			return all, nil
		}
		token = page.NextPage
	}
}

// FindOne returns the first entity matching filter, or ErrNotFound.
func (r *Repository[T]) FindOne(ctx context.Context, filter Filter) (*T, error) {
	page, err := r.Find(ctx, filter, FindOptions{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(page.Entities) == 0 {
		return nil, ErrNotFound
	}
	return page.Entities[0], nil
}

// Get returns the entity with the given id, or ErrNotFound.
func (r *Repository[T]) Get(ctx context.Context, companyID, id string) (*T, error) {
	return r.FindOne(ctx, Filter{FieldCompanyID: companyID, FieldID: id})
}

// Save inserts or replaces entity and publishes a saved event.
func (r *Repository[T]) Save(ctx context.Context, entity *T) error {
	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEntity, err)
	}
	companyID, id, err := Keys(data)
	if err != nil {
		return err
	}

	if err := r.conn.Save(ctx, r.table, companyID, id, data); err != nil {
		return fmt.Errorf("failed to save %s/%s: %w", r.table, id, err)
	}

	r.publish(EventSaved, companyID, id, data)
	return nil
}

// Remove deletes entity and publishes a removed event.
func (r *Repository[T]) Remove(ctx context.Context, entity *T) error {
	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEntity, err)
	}
	companyID, id, err := Keys(data)
	if err != nil {
		return err
	}

	if err := r.conn.Remove(ctx, r.table, companyID, id); err != nil {
		return fmt.Errorf("failed to remove %s/%s: %w", r.table, id, err)
	}

	r.publish(EventRemoved, companyID, id, data)
	return nil
}

// AtomicCompareAndSet swaps field on the stored entity from previous to next.
//
// On success the stored entity is re-read and a saved event is published.
func (r *Repository[T]) AtomicCompareAndSet(ctx context.Context, companyID, id, field string, previous, next any) (bool, error) {
	if companyID == "" {
		return false, ErrMissingCompany
	}

	swapped, err := r.conn.AtomicCompareAndSet(ctx, r.table, companyID, id, field, previous, next)
	if err != nil || !swapped {
		return swapped, err
	}

	if r.events != nil {
		raw, err := r.conn.Find(ctx, r.table, Filter{FieldCompanyID: companyID, FieldID: id}, FindOptions{Limit: 1})
		if err == nil && len(raw.Documents) == 1 {
			r.publish(EventSaved, companyID, id, raw.Documents[0])
		}
	}
	return true, nil
}

func (r *Repository[T]) decode(data []byte) (*T, error) {
	entity := new(T)
	if err := json.Unmarshal(data, entity); err != nil {
		return nil, fmt.Errorf("failed to decode %s entity: %w", r.table, err)
	}
	return entity, nil
}

func (r *Repository[T]) publish(kind EventKind, companyID, id string, data []byte) {
	if r.events == nil {
		return
	}
	r.events.Publish(Event{Kind: kind, Table: r.table, CompanyID: companyID, ID: id, Data: data})
}
