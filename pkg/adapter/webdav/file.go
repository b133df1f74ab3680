package webdav

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/marmos91/dittodrive/pkg/documents"
	"github.com/marmos91/dittodrive/pkg/drive"
	xwebdav "golang.org/x/net/webdav"
)

var (
	_ xwebdav.File = (*readFile)(nil)
	_ xwebdav.File = (*uploadFile)(nil)
)

var errNotDirectory = errors.New("not a directory")

// readFile is an open file or folder.
//
// Content is downloaded lazily. A Seek away from the current stream
// position reopens the download and skips to the new offset, which is
// what http.ServeContent needs for range requests.
type readFile struct {
	ctx context.Context
	fs  *FileSystem
	n   *node
	ec  drive.ExecutionContext

	entries []os.FileInfo
	listed  bool

	body    io.ReadCloser
	offset  int64
	bodyPos int64
}

func newReadFile(ctx context.Context, fs *FileSystem, n *node, ec drive.ExecutionContext) *readFile {
	return &readFile{ctx: ctx, fs: fs, n: n, ec: ec}
}

func (f *readFile) Stat() (os.FileInfo, error) {
	return newFileInfo(f.n), nil
}

func (f *readFile) Readdir(count int) ([]os.FileInfo, error) {
	if !f.n.isDir() {
		return nil, &os.PathError{Op: "readdir", Path: f.n.name, Err: errNotDirectory}
	}
	if !f.listed {
		if err := f.load(); err != nil {
			return nil, err
		}
		f.listed = true
	}

	if count <= 0 {
		out := f.entries
		f.entries = nil
		return out, nil
	}
	if len(f.entries) == 0 {
		return nil, io.EOF
	}
	if count > len(f.entries) {
		count = len(f.entries)
	}
	out := f.entries[:count]
	f.entries = f.entries[count:]
	return out, nil
}

func (f *readFile) load() error {
	if f.n.name == "/" && f.n.virtual() {
		for _, name := range topLevel {
			f.entries = append(f.entries, &fileInfo{name: name, dir: true})
		}
		return nil
	}
	return mapError("readdir", f.n.name, f.fs.list(f.ctx, f.n.id, f.ec, func(item *drive.DriveItem) bool {
		f.entries = append(f.entries, newFileInfo(&node{id: item.ID, name: item.Name, item: item}))
		return true
	}))
}

func (f *readFile) Read(p []byte) (int, error) {
	if f.n.isDir() {
		return 0, &os.PathError{Op: "read", Path: f.n.name, Err: os.ErrInvalid}
	}
	if f.offset >= f.n.item.Size {
		return 0, io.EOF
	}
	if f.body == nil || f.bodyPos != f.offset {
		if err := f.open(); err != nil {
			return 0, err
		}
	}
	n, err := f.body.Read(p)
	f.offset += int64(n)
	f.bodyPos += int64(n)
	return n, err
}

func (f *readFile) open() error {
	f.closeBody()
	dl, err := f.fs.docs.Download(f.ctx, f.n.id, "", f.ec)
	if err != nil {
		return mapError("read", f.n.name, err)
	}
	if f.offset > 0 {
		if _, err := io.CopyN(io.Discard, dl.Body, f.offset); err != nil {
			_ = dl.Body.Close()
			return fmt.Errorf("failed to seek %s to %d: %w", f.n.name, f.offset, err)
		}
	}
	f.body = dl.Body
	f.bodyPos = f.offset
	return nil
}

func (f *readFile) Seek(offset int64, whence int) (int64, error) {
	if f.n.isDir() {
		return 0, &os.PathError{Op: "seek", Path: f.n.name, Err: os.ErrInvalid}
	}
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = f.offset + offset
	case io.SeekEnd:
		next = f.n.item.Size + offset
	default:
		return 0, &os.PathError{Op: "seek", Path: f.n.name, Err: os.ErrInvalid}
	}
	if next < 0 {
		return 0, &os.PathError{Op: "seek", Path: f.n.name, Err: os.ErrInvalid}
	}
	f.offset = next
	return next, nil
}

func (f *readFile) Write([]byte) (int, error) {
	return 0, &os.PathError{Op: "write", Path: f.n.name, Err: os.ErrPermission}
}

func (f *readFile) closeBody() {
	if f.body != nil {
		_ = f.body.Close()
		f.body = nil
	}
}

func (f *readFile) Close() error {
	f.closeBody()
	return nil
}

// uploadFile streams written bytes into the documents service. The item
// (or its new version) is created by a background call that reads from a
// pipe; Close finishes the upload and reports its outcome.
type uploadFile struct {
	name string
	base string

	pw      *io.PipeWriter
	done    chan struct{}
	written int64

	closeOnce sync.Once
	item      *drive.DriveItem
	err       error
}

func newUploadFile(ctx context.Context, fs *FileSystem, name, parentID, base string, existing *drive.DriveItem, ec drive.ExecutionContext) *uploadFile {
	pr, pw := io.Pipe()
	f := &uploadFile{name: name, base: base, pw: pw, done: make(chan struct{})}

	go func() {
		defer close(f.done)
		var err error
		if existing != nil {
			_, err = fs.docs.CreateVersion(ctx, existing.ID, documents.VersionRequest{Content: pr, Filename: base}, ec)
			if err == nil {
				var details *documents.ItemDetails
				if details, err = fs.docs.Get(ctx, existing.ID, documents.GetOptions{Limit: 1}, ec); err == nil {
					f.item = details.Item
				}
			}
		} else {
			f.item, err = fs.docs.Create(ctx, documents.CreateRequest{
				ParentID: parentID,
				Name:     base,
				Version:  documents.VersionRequest{Content: pr, Filename: base},
			}, ec)
		}
		f.err = err
		if err != nil {
			pr.CloseWithError(err)
			return
		}
		// Drain anything written after the service stopped reading.
		_, _ = io.Copy(io.Discard, pr)
	}()
	return f
}

func (f *uploadFile) Write(p []byte) (int, error) {
	n, err := f.pw.Write(p)
	f.written += int64(n)
	if err != nil {
		return n, mapError("write", f.name, err)
	}
	return n, nil
}

func (f *uploadFile) Close() error {
	f.closeOnce.Do(func() {
		_ = f.pw.Close()
		<-f.done
	})
	return mapError("close", f.name, f.err)
}

// Stat describes the upload in progress; after Close it describes the
// stored item.
func (f *uploadFile) Stat() (os.FileInfo, error) {
	select {
	case <-f.done:
		if f.item != nil {
			return newFileInfo(&node{id: f.item.ID, name: f.item.Name, item: f.item}), nil
		}
	default:
	}
	return &fileInfo{name: f.base, size: f.written, modTime: time.Now()}, nil
}

func (f *uploadFile) Read([]byte) (int, error) {
	return 0, &os.PathError{Op: "read", Path: f.name, Err: os.ErrInvalid}
}

func (f *uploadFile) Seek(offset int64, whence int) (int64, error) {
	if offset == 0 && (whence == io.SeekCurrent || whence == io.SeekEnd) {
		return f.written, nil
	}
	return 0, &os.PathError{Op: "seek", Path: f.name, Err: os.ErrInvalid}
}

func (f *uploadFile) Readdir(int) ([]os.FileInfo, error) {
	return nil, &os.PathError{Op: "readdir", Path: f.name, Err: errNotDirectory}
}
