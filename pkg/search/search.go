// Package search keeps a full-text index in sync with the repository.
//
// The Indexer subscribes to the repository outbox and mirrors every saved or
// removed entity into an Adapter. Delivery is at-least-once, so adapters
// implement Upsert and Remove idempotently. The index is a lookup aid only:
// callers re-read entities from the repository and re-check access on every
// hit.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/repository"
)

// ErrMissingCompany is returned when a query or document has no tenant.
var ErrMissingCompany = errors.New("search: company id is required")

// Document is the indexed projection of one entity.
type Document struct {
	Table     string
	CompanyID string
	ID        string

	// Text is matched by queries, case-insensitively.
	Text string

	// Fields are exact-match filter values. Values must be JSON scalars.
	Fields map[string]any
}

// Query selects documents in one table of one tenant.
type Query struct {
	Table     string
	CompanyID string

	// Text must appear (case-insensitive substring) in the document text.
	// Empty matches every document.
	Text string

	// Filters are equality constraints on Document.Fields.
	Filters map[string]any

	Limit     int
	PageToken string
}

// Result is one page of matching entity ids, ordered by id.
type Result struct {
	IDs      []string
	NextPage string
}

// Adapter is a search index backend.
//
// Thread Safety: implementations must be safe for concurrent use.
type Adapter interface {
	// Upsert indexes doc, replacing any previous version.
	Upsert(ctx context.Context, doc Document) error

	// Remove deletes a document. Removing a missing document is not an error.
	Remove(ctx context.Context, table, companyID, id string) error

	// Search returns one page of matches.
	Search(ctx context.Context, q Query) (Result, error)

	Close() error
}

// Mapper projects a stored entity (its JSON encoding) into a Document.
// Returning ok=false skips indexing.
type Mapper func(data []byte) (doc Document, ok bool, err error)

// Indexer mirrors repository events into an Adapter.
type Indexer struct {
	adapter Adapter
	mappers map[string]Mapper
}

// NewIndexer creates an indexer. Only tables with a mapper are indexed.
func NewIndexer(adapter Adapter, mappers map[string]Mapper) *Indexer {
	return &Indexer{adapter: adapter, mappers: mappers}
}

// Handle applies one repository event to the index. It is a
// repository.Handler and can be passed to Outbox.Subscribe.
func (ix *Indexer) Handle(ctx context.Context, event repository.Event) error {
	mapper, ok := ix.mappers[event.Table]
	if !ok {
		return nil
	}

	switch event.Kind {
	case repository.EventRemoved:
		if err := ix.adapter.Remove(ctx, event.Table, event.CompanyID, event.ID); err != nil {
			return fmt.Errorf("failed to remove %s/%s from index: %w", event.Table, event.ID, err)
		}
		return nil

	case repository.EventSaved:
		doc, ok, err := mapper(event.Data)
		if err != nil {
			// A malformed entity will not get better on redelivery.
			logger.Error("search: cannot index %s/%s in company %s: %v", event.Table, event.ID, event.CompanyID, err)
			return nil
		}
		if !ok {
			return ix.adapter.Remove(ctx, event.Table, event.CompanyID, event.ID)
		}
		doc.Table = event.Table
		doc.CompanyID = event.CompanyID
		doc.ID = event.ID
		if err := ix.adapter.Upsert(ctx, doc); err != nil {
			return fmt.Errorf("failed to index %s/%s: %w", event.Table, event.ID, err)
		}
		return nil
	}

	return nil
}

// Attach subscribes the indexer to an outbox.
func (ix *Indexer) Attach(outbox *repository.Outbox) {
	outbox.Subscribe(ix.Handle)
}

// Matches reports whether doc satisfies q's text and filters. Adapters
// that scan in process use it so that every backend agrees on semantics.
func Matches(doc Document, q Query) (bool, error) {
	if doc.CompanyID != q.CompanyID {
		return false, nil
	}
	if q.Text != "" && !strings.Contains(strings.ToLower(doc.Text), strings.ToLower(q.Text)) {
		return false, nil
	}
	fields := repository.Document(doc.Fields)
	for field, want := range q.Filters {
		ok, err := repository.FieldEquals(fields, field, want)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// NormalizeFields converts field values to their JSON shapes.
func NormalizeFields(fields map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		norm, err := repository.Normalize(v)
		if err != nil {
			return nil, fmt.Errorf("failed to normalize field %s: %w", k, err)
		}
		out[k] = norm
	}
	return out, nil
}
