// Package files stores file content as chunked blobs.
//
// A file's content is split into fixed-size chunks written to
// "<prefix>/<company>/<file>/chunk<N>" (N starting at 1) on a
// storage.Storage, and its metadata is kept in the "files" repository table.
// Reads stream the chunks back in numeric order, opening one chunk at a time.
package files

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"path/filepath"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/drive"
	"github.com/marmos91/dittodrive/pkg/repository"
	"github.com/marmos91/dittodrive/pkg/storage"
)

// Table is the repository table holding file metadata.
const Table = "files"

const (
	defaultPrefix    = "files"
	defaultChunkSize = 5 * 1024 * 1024
	sniffLen         = 3072
)

// ErrNotFound is returned when a file id is unknown in the company.
var ErrNotFound = errors.New("file not found")

// Config controls blob layout.
type Config struct {
	// Prefix is the first path segment of every blob. Default: "files".
	Prefix string `mapstructure:"prefix"`

	// ChunkSize is the maximum size of one blob. Default: 5 MiB.
	ChunkSize int64 `mapstructure:"chunk_size" validate:"omitempty,min=1024"`
}

// File is the metadata of a stored blob set.
type File struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"company_id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Mime      string    `json:"mime"`
	Size      int64     `json:"size"`
	Chunks    int       `json:"chunks"`
	Created   time.Time `json:"created"`
}

// SaveOptions describes uploaded content.
type SaveOptions struct {
	Filename string

	// Mime overrides content sniffing when set.
	Mime string
}

// Download is an open file.
type Download struct {
	File *File
	Body io.ReadCloser
}

// Service stores and streams files.
//
// Thread Safety: Safe for concurrent use.
type Service struct {
	store storage.Storage
	meta  *repository.Repository[File]
	cfg   Config
}

// New creates a file service over store, keeping metadata in conn.
func New(store storage.Storage, conn repository.Connector, cfg Config) *Service {
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	return &Service{
		store: store,
		meta:  repository.New[File](Table, conn, nil),
		cfg:   cfg,
	}
}

func (s *Service) dir(companyID, fileID string) string {
	return path.Join(s.cfg.Prefix, companyID, fileID)
}

// Save streams content into chunks and records the file.
//
// Parameters:
//   - companyID, userID: owner of the blob
//   - content: the file bytes; read to EOF
//   - opts: name and optional MIME override
//
// Returns:
//   - *File: the stored metadata, with Size set to the bytes written
//   - error: storage failures are wrapped; partially written chunks are
//     removed before returning
func (s *Service) Save(ctx context.Context, companyID, userID string, content io.Reader, opts SaveOptions) (*File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if companyID == "" {
		return nil, repository.ErrMissingCompany
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(content, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("failed to read content: %w", err)
	}
	head = head[:n]

	file := &File{
		ID:        uuid.NewString(),
		CompanyID: companyID,
		UserID:    userID,
		Name:      opts.Filename,
		Mime:      detectMime(head, opts),
		Created:   time.Now().UTC(),
	}

	reader := io.MultiReader(bytes.NewReader(head), content)
	dir := s.dir(companyID, file.ID)
	for {
		chunk := fmt.Sprintf("%s/chunk%d", dir, file.Chunks+1)
		res, err := s.store.Write(ctx, chunk, io.LimitReader(reader, s.cfg.ChunkSize), storage.WriteOptions{ContentType: file.Mime})
		if err != nil {
			_ = s.removeBlobs(ctx, companyID, file.ID)
			return nil, fmt.Errorf("failed to write chunk %d of file %s: %w", file.Chunks+1, file.ID, err)
		}
		if res.Size == 0 && file.Chunks > 0 {
			// The previous chunk ended exactly at EOF.
			if _, err := s.store.Remove(ctx, chunk, storage.ReadOptions{}); err != nil {
				logger.Warn("files: failed to remove empty trailing chunk %s: %v", chunk, err)
			}
			break
		}
		file.Chunks++
		file.Size += res.Size
		if res.Size < s.cfg.ChunkSize {
			break
		}
	}

	if err := s.meta.Save(ctx, file); err != nil {
		_ = s.removeBlobs(ctx, companyID, file.ID)
		return nil, fmt.Errorf("failed to save metadata of file %s: %w", file.ID, err)
	}

	logger.Debug("files: stored %s (%d bytes, %d chunks) for company %s", file.ID, file.Size, file.Chunks, companyID)
	return file, nil
}

func detectMime(head []byte, opts SaveOptions) string {
	if opts.Mime != "" {
		return opts.Mime
	}
	detected := mimetype.Detect(head)
	if detected.Is("application/octet-stream") || detected.Is("text/plain") {
		if byExt := mime.TypeByExtension(filepath.Ext(opts.Filename)); byExt != "" {
			return byExt
		}
	}
	return detected.String()
}

// Get returns the metadata of a file.
func (s *Service) Get(ctx context.Context, companyID, fileID string) (*File, error) {
	file, err := s.meta.Get(ctx, companyID, fileID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, fileID)
	}
	return file, err
}

// Download opens a file for streaming. Chunks are opened lazily as the
// body is read.
func (s *Service) Download(ctx context.Context, companyID, fileID string) (*Download, error) {
	file, err := s.Get(ctx, companyID, fileID)
	if err != nil {
		return nil, err
	}

	paths, err := s.store.EnumeratePathsForFile(ctx, s.dir(companyID, fileID))
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks of file %s: %w", fileID, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no content for file %s", storage.ErrNotFound, fileID)
	}
	storage.SortPaths(paths)

	return &Download{
		File: file,
		Body: &chunkReader{ctx: ctx, store: s.store, paths: paths},
	}, nil
}

// Delete removes a file's chunks and metadata. Deleting an unknown file is
// not an error.
func (s *Service) Delete(ctx context.Context, companyID, fileID string) error {
	if err := s.removeBlobs(ctx, companyID, fileID); err != nil {
		return err
	}
	file, err := s.meta.Get(ctx, companyID, fileID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.meta.Remove(ctx, file)
}

func (s *Service) removeBlobs(ctx context.Context, companyID, fileID string) error {
	paths, err := s.store.EnumeratePathsForFile(ctx, s.dir(companyID, fileID))
	if err != nil {
		logger.Error("files: failed to list chunks of %s in company %s: %v", fileID, companyID, err)
		return fmt.Errorf("failed to list chunks of file %s: %w", fileID, err)
	}
	var firstErr error
	for _, p := range paths {
		if _, err := s.store.Remove(ctx, p, storage.ReadOptions{}); err != nil {
			logger.Error("files: failed to remove chunk %s: %v", p, err)
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to remove chunk %s: %w", p, err)
			}
		}
	}
	return firstErr
}

// GeneratePreview returns thumbnails for a file. Preview rendering is not
// supported, so the list is always empty.
func (s *Service) GeneratePreview(ctx context.Context, companyID, fileID string) ([]drive.Thumbnail, error) {
	if _, err := s.Get(ctx, companyID, fileID); err != nil {
		return nil, err
	}
	return nil, nil
}

// chunkReader concatenates chunk blobs, opening each only when needed.
type chunkReader struct {
	ctx   context.Context
	store storage.Storage
	paths []string
	next  int
	cur   io.ReadCloser
}

func (r *chunkReader) Read(p []byte) (int, error) {
	for {
		if r.cur == nil {
			if r.next >= len(r.paths) {
				return 0, io.EOF
			}
			rc, err := r.store.Read(r.ctx, r.paths[r.next], storage.ReadOptions{})
			if err != nil {
				return 0, fmt.Errorf("failed to open chunk %s: %w", r.paths[r.next], err)
			}
			r.cur = rc
			r.next++
		}

		n, err := r.cur.Read(p)
		if errors.Is(err, io.EOF) {
			_ = r.cur.Close()
			r.cur = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (r *chunkReader) Close() error {
	r.next = len(r.paths)
	if r.cur != nil {
		err := r.cur.Close()
		r.cur = nil
		return err
	}
	return nil
}
