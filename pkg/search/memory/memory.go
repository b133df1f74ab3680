// Package memory implements an in-process search.Adapter.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/marmos91/dittodrive/pkg/repository"
	"github.com/marmos91/dittodrive/pkg/search"
)

type key struct {
	table     string
	companyID string
}

// Adapter scans an in-memory document set on every query.
//
// Thread Safety: Safe for concurrent use.
type Adapter struct {
	mu   sync.RWMutex
	docs map[key]map[string]search.Document
}

// New creates an empty index.
func New() *Adapter {
	return &Adapter{docs: make(map[key]map[string]search.Document)}
}

func (a *Adapter) Upsert(ctx context.Context, doc search.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if doc.CompanyID == "" {
		return search.ErrMissingCompany
	}
	fields, err := search.NormalizeFields(doc.Fields)
	if err != nil {
		return err
	}
	doc.Fields = fields

	a.mu.Lock()
	defer a.mu.Unlock()
	k := key{doc.Table, doc.CompanyID}
	if a.docs[k] == nil {
		a.docs[k] = make(map[string]search.Document)
	}
	a.docs[k][doc.ID] = doc
	return nil
}

func (a *Adapter) Remove(ctx context.Context, table, companyID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.docs[key{table, companyID}], id)
	return nil
}

func (a *Adapter) Search(ctx context.Context, q search.Query) (search.Result, error) {
	if err := ctx.Err(); err != nil {
		return search.Result{}, err
	}
	if q.CompanyID == "" {
		return search.Result{}, search.ErrMissingCompany
	}
	offset, err := repository.PageOffset(q.PageToken)
	if err != nil {
		return search.Result{}, err
	}

	a.mu.RLock()
	var ids []string
	for id, doc := range a.docs[key{q.Table, q.CompanyID}] {
		ok, err := search.Matches(doc, q)
		if err != nil {
			a.mu.RUnlock()
			return search.Result{}, err
		}
		if ok {
			ids = append(ids, id)
		}
	}
	a.mu.RUnlock()

	sort.Strings(ids)
	if offset >= len(ids) {
		return search.Result{}, nil
	}
	ids = ids[offset:]
	more := false
	if q.Limit > 0 && len(ids) > q.Limit {
		ids = ids[:q.Limit]
		more = true
	}
	return search.Result{
		IDs:      ids,
		NextPage: repository.NextPageToken(offset, len(ids), q.Limit, more),
	}, nil
}

// Len returns the number of indexed documents.
func (a *Adapter) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	n := 0
	for _, docs := range a.docs {
		n += len(docs)
	}
	return n
}

func (a *Adapter) Close() error {
	return nil
}
