// Package memory implements an in-process repository.Connector.
//
// Documents are kept as encoded JSON in nested maps keyed by table, company
// and id. It is intended for tests, development and single-node deployments
// where durability is not required.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/marmos91/dittodrive/pkg/repository"
)

// Connector is an in-memory repository.Connector.
//
// Thread Safety:
// All operations are protected by a single read-write mutex. Compare-and-set
// holds the write lock for the whole read-compare-write sequence, which makes
// it atomic with respect to every other operation.
type Connector struct {
	mu     sync.RWMutex
	tables map[string]map[string]map[string][]byte
	closed bool
}

// New creates an empty in-memory connector.
func New() *Connector {
	return &Connector{tables: make(map[string]map[string]map[string][]byte)}
}

func (c *Connector) company(table, companyID string, create bool) map[string][]byte {
	companies, ok := c.tables[table]
	if !ok {
		if !create {
			return nil
		}
		companies = make(map[string]map[string][]byte)
		c.tables[table] = companies
	}
	docs, ok := companies[companyID]
	if !ok && create {
		docs = make(map[string][]byte)
		companies[companyID] = docs
	}
	return docs
}

// Find implements repository.Connector.
func (c *Connector) Find(ctx context.Context, table string, filter repository.Filter, opts repository.FindOptions) (repository.RawPage, error) {
	if err := ctx.Err(); err != nil {
		return repository.RawPage{}, err
	}
	if err := filter.Validate(); err != nil {
		return repository.RawPage{}, err
	}
	offset, err := repository.PageOffset(opts.PageToken)
	if err != nil {
		return repository.RawPage{}, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return repository.RawPage{}, fmt.Errorf("memory connector is closed")
	}

	docs := c.company(table, filter.CompanyID(), false)

	// Fast path for id lookups.
	if id, ok := filter[repository.FieldID].(string); ok {
		data, exists := docs[id]
		if !exists || offset > 0 {
			return repository.RawPage{}, nil
		}
		doc, err := repository.DecodeDocument(data)
		if err != nil {
			return repository.RawPage{}, err
		}
		match, err := filter.Matches(doc)
		if err != nil || !match {
			return repository.RawPage{}, err
		}
		return repository.RawPage{Documents: [][]byte{clone(data)}}, nil
	}

	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var (
		page    repository.RawPage
		skipped int
		more    bool
	)
	for _, id := range ids {
		doc, err := repository.DecodeDocument(docs[id])
		if err != nil {
			return repository.RawPage{}, err
		}
		match, err := filter.Matches(doc)
		if err != nil {
			return repository.RawPage{}, err
		}
		if !match {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if opts.Limit > 0 && len(page.Documents) == opts.Limit {
			more = true
			break
		}
		page.Documents = append(page.Documents, clone(docs[id]))
	}

	page.NextPage = repository.NextPageToken(offset, len(page.Documents), opts.Limit, more)
	return page, nil
}

// Save implements repository.Connector.
func (c *Connector) Save(ctx context.Context, table, companyID, id string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if companyID == "" {
		return repository.ErrMissingCompany
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("memory connector is closed")
	}

	c.company(table, companyID, true)[id] = clone(data)
	return nil
}

// Remove implements repository.Connector.
func (c *Connector) Remove(ctx context.Context, table, companyID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if companyID == "" {
		return repository.ErrMissingCompany
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	docs := c.company(table, companyID, false)
	if _, ok := docs[id]; !ok {
		return repository.ErrNotFound
	}
	delete(docs, id)
	return nil
}

// AtomicCompareAndSet implements repository.Connector.
func (c *Connector) AtomicCompareAndSet(ctx context.Context, table, companyID, id, field string, previous, next any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if companyID == "" {
		return false, repository.ErrMissingCompany
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	docs := c.company(table, companyID, false)
	data, ok := docs[id]
	if !ok {
		return false, repository.ErrNotFound
	}

	doc, err := repository.DecodeDocument(data)
	if err != nil {
		return false, err
	}
	equal, err := repository.FieldEquals(doc, field, previous)
	if err != nil || !equal {
		return false, err
	}

	doc[field] = next
	updated, err := json.Marshal(doc)
	if err != nil {
		return false, fmt.Errorf("failed to encode document: %w", err)
	}
	docs[id] = updated
	return true, nil
}

// Close implements repository.Connector.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
