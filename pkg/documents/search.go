package documents

import (
	"context"
	"errors"
	"time"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/drive"
	"github.com/marmos91/dittodrive/pkg/repository"
	"github.com/marmos91/dittodrive/pkg/search"
)

// SearchOptions narrows a search.
type SearchOptions struct {
	Text        string
	Mime        string
	Creator     string
	IsDirectory *bool

	// IncludeTrash also returns items that are in trash.
	IncludeTrash bool

	Limit     int
	PageToken string
}

// SearchResult is a page of readable items.
type SearchResult struct {
	Items    []*drive.DriveItem
	NextPage string
}

// Search queries the index and returns the matching items the caller can
// read. Every hit is re-read from the repository, so stale index entries
// are dropped. Index pages are consumed until Limit readable items have
// been collected or the index is exhausted; NextPage continues after the
// last index page consumed.
func (s *Service) Search(ctx context.Context, opts SearchOptions, ec drive.ExecutionContext) (_ *SearchResult, err error) {
	defer s.observe("search", time.Now(), &err)
	if err := checkContext(ctx, ec); err != nil {
		return nil, err
	}
	if s.index == nil {
		return nil, newError(KindInvalidOperation, "", "search is not configured")
	}
	if opts.Limit <= 0 {
		opts.Limit = s.cfg.PageSize
	}

	filters := map[string]any{}
	if opts.Mime != "" {
		filters[search.FieldMime] = opts.Mime
	}
	if opts.Creator != "" {
		filters[search.FieldCreator] = opts.Creator
	}
	if opts.IsDirectory != nil {
		filters[search.FieldIsDirectory] = *opts.IsDirectory
	}
	if !opts.IncludeTrash {
		filters[search.FieldIsInTrash] = false
	}

	result := &SearchResult{}
	token := opts.PageToken
	for {
		page, err := s.index.Search(ctx, search.Query{
			Table:     ItemsTable,
			CompanyID: ec.CompanyID,
			Text:      opts.Text,
			Filters:   filters,
			Limit:     opts.Limit,
			PageToken: token,
		})
		if err != nil {
			return nil, wrapError(KindInternal, "", err, "search failed")
		}

		for _, id := range page.IDs {
			item, ok, err := s.searchHit(ctx, id, opts, ec)
			if err != nil {
				return nil, err
			}
			if ok {
				result.Items = append(result.Items, item)
			}
		}

		token = page.NextPage
		if token == "" || len(result.Items) >= opts.Limit {
			break
		}
	}
	result.NextPage = token
	return result, nil
}

// searchHit loads a hit and decides whether the caller may see it.
func (s *Service) searchHit(ctx context.Context, id string, opts SearchOptions, ec drive.ExecutionContext) (*drive.DriveItem, bool, error) {
	item, err := s.items.Get(ctx, ec.CompanyID, id)
	if errors.Is(err, repository.ErrNotFound) {
		logger.Debug("documents: search hit %s no longer exists", id)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrapError(KindInternal, id, err, "failed to load search hit")
	}

	if !opts.IncludeTrash {
		trashed, err := s.isInTrash(ctx, item)
		if err != nil {
			return nil, false, err
		}
		if trashed {
			return nil, false, nil
		}
	}

	ok, err := s.access.CheckAccess(ctx, id, item, drive.LevelRead, ec)
	if err != nil {
		logger.Warn("documents: access check on search hit %s failed: %v", id, err)
		return nil, false, nil
	}
	return item, ok, nil
}
