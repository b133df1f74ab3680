package documents

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/drive"
	"github.com/marmos91/dittodrive/pkg/files"
	"github.com/marmos91/dittodrive/pkg/repository"
	"golang.org/x/sync/errgroup"
)

// DownloadResult is an open download. The caller must close Body.
type DownloadResult struct {
	Name string
	Mime string

	// Size is the content length, or -1 for archives.
	Size int64

	IsArchive bool
	Body      io.ReadCloser
}

// Download opens the content of a file version, or a zip archive of a
// directory.
//
// versionID selects an older version of a file; empty means current.
// Files whose current version is flagged malicious are refused.
func (s *Service) Download(ctx context.Context, id, versionID string, ec drive.ExecutionContext) (_ *DownloadResult, err error) {
	defer s.observe("download", time.Now(), &err)
	if err := checkContext(ctx, ec); err != nil {
		return nil, err
	}

	item, err := s.getItem(ctx, ec.CompanyID, id)
	if err != nil {
		return nil, err
	}
	if err := s.requireAccess(ctx, ec, id, item, drive.LevelRead); err != nil {
		return nil, err
	}

	if item.IsDirectory {
		pr, pw := io.Pipe()
		go func() {
			pw.CloseWithError(s.CreateZip(ctx, []string{id}, pw, ec))
		}()
		return &DownloadResult{
			Name:      item.Name + ".zip",
			Mime:      "application/zip",
			Size:      -1,
			IsArchive: true,
			Body:      pr,
		}, nil
	}

	version := item.LastVersionCache
	if versionID != "" && (version == nil || version.ID != versionID) {
		version, err = s.versions.Get(ctx, ec.CompanyID, versionID)
		if errors.Is(err, repository.ErrNotFound) || (err == nil && version.DriveItemID != id) {
			return nil, newError(KindNotFound, versionID, "version not found")
		}
		if err != nil {
			return nil, wrapError(KindInternal, versionID, err, "failed to load version")
		}
	} else if item.AVStatus == drive.AVMalicious {
		return nil, newError(KindMaliciousFile, id, "item is flagged as malicious")
	}
	if version == nil {
		return nil, newError(KindNotFound, id, "file has no content")
	}

	dl, err := s.files.Download(ctx, ec.CompanyID, version.FileMetadata.ExternalID)
	if errors.Is(err, files.ErrNotFound) {
		return nil, newError(KindNotFound, id, "content not found")
	}
	if err != nil {
		return nil, wrapError(KindStorageFailure, id, err, "failed to open content")
	}

	name := item.Name
	return &DownloadResult{
		Name: name,
		Mime: version.FileMetadata.Mime,
		Size: version.FileSize,
		Body: dl.Body,
	}, nil
}

type zipNode struct {
	item   *drive.DriveItem
	prefix string
}

// CreateZip streams a zip archive of the given items to w.
//
// Directories are walked depth-first; their entries are prefixed with the
// directory path. Trashed items, items the caller cannot read and files
// flagged malicious are skipped. Entry content is fetched with at most
// ZipConcurrency streams open at a time, and bytes reach w as soon as the
// first entry is ready.
func (s *Service) CreateZip(ctx context.Context, ids []string, w io.Writer, ec drive.ExecutionContext) (err error) {
	defer s.observe("create_zip", time.Now(), &err)
	if err := checkContext(ctx, ec); err != nil {
		return err
	}

	roots := make([]*drive.DriveItem, 0, len(ids))
	for _, id := range ids {
		item, err := s.getItem(ctx, ec.CompanyID, id)
		if err != nil {
			return err
		}
		if err := s.requireAccess(ctx, ec, id, item, drive.LevelRead); err != nil {
			return err
		}
		roots = append(roots, item)
	}

	arch := newArchive(w, s.cfg.ZipConcurrency, s.metrics)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer arch.finish()
		return s.walkArchive(gctx, arch, roots, ec)
	})
	g.Go(func() error {
		return arch.write(gctx)
	})
	return g.Wait()
}

func (s *Service) walkArchive(ctx context.Context, arch *archive, roots []*drive.DriveItem, ec drive.ExecutionContext) error {
	stack := make([]zipNode, 0, len(roots))
	for i := len(roots) - 1; i >= 0; i-- {
		stack = append(stack, zipNode{item: roots[i]})
	}
	visited := make(map[string]struct{})

	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		item := node.item
		if _, seen := visited[item.ID]; seen {
			continue
		}
		visited[item.ID] = struct{}{}
		if item.IsInTrash {
			continue
		}

		if !item.IsDirectory {
			if item.AVStatus == drive.AVMalicious || item.LastVersionCache == nil {
				logger.Warn("documents: leaving %s out of archive", item.ID)
				continue
			}
			externalID := item.LastVersionCache.FileMetadata.ExternalID
			open := func(ctx context.Context) (io.ReadCloser, error) {
				dl, err := s.files.Download(ctx, ec.CompanyID, externalID)
				if err != nil {
					return nil, err
				}
				return dl.Body, nil
			}
			if err := arch.append(ctx, node.prefix+item.Name, open); err != nil {
				return err
			}
			continue
		}

		kids, err := s.children(ctx, ec.CompanyID, item.ID, false)
		if err != nil {
			return err
		}
		prefix := node.prefix + item.Name + "/"
		for i := len(kids) - 1; i >= 0; i-- {
			ok, err := s.access.CheckAccess(ctx, kids[i].ID, kids[i], drive.LevelRead, ec)
			if err != nil {
				logger.Warn("documents: access check on %s failed: %v", kids[i].ID, err)
				continue
			}
			if ok {
				stack = append(stack, zipNode{item: kids[i], prefix: prefix})
			}
		}
	}
	return nil
}
