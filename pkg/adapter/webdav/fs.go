package webdav

import (
	"context"
	"os"
	"path"
	"strings"
	"time"

	"github.com/marmos91/dittodrive/pkg/documents"
	"github.com/marmos91/dittodrive/pkg/drive"
	xwebdav "golang.org/x/net/webdav"
)

// Documents is the part of the documents service the file system uses.
type Documents interface {
	Get(ctx context.Context, id string, opts documents.GetOptions, ec drive.ExecutionContext) (*documents.ItemDetails, error)
	Create(ctx context.Context, req documents.CreateRequest, ec drive.ExecutionContext) (*drive.DriveItem, error)
	CreateVersion(ctx context.Context, id string, req documents.VersionRequest, ec drive.ExecutionContext) (*drive.FileVersion, error)
	Update(ctx context.Context, id string, req documents.UpdateRequest, ec drive.ExecutionContext) (*drive.DriveItem, error)
	Delete(ctx context.Context, id string, ec drive.ExecutionContext) error
	Download(ctx context.Context, id, versionID string, ec drive.ExecutionContext) (*documents.DownloadResult, error)
}

// Top-level folders of the WebDAV tree, mapped to virtual drive folders.
const (
	DirShared       = "shared"
	DirPersonal     = "personal"
	DirSharedWithMe = "shared-with-me"
	DirTrash        = "trash"
)

var topLevel = []string{DirShared, DirPersonal, DirSharedWithMe, DirTrash}

func topLevelID(name string, ec drive.ExecutionContext) (string, bool) {
	switch name {
	case DirShared:
		return drive.RootID, true
	case DirPersonal:
		return drive.PersonalRootID(ec.UserID), true
	case DirSharedWithMe:
		return drive.SharedWithMeID, true
	case DirTrash:
		return drive.TrashID, true
	}
	return "", false
}

// FileSystem exposes the documents of the authenticated user as a
// webdav.FileSystem.
//
// The tree root holds four folders: shared (the company drive), personal,
// shared-with-me and trash. Below them, path segments are matched against
// item names. DELETE moves items to trash, or purges them when they are
// already there.
//
// The caller's identity is read from the request context; see
// WithExecutionContext.
type FileSystem struct {
	docs     Documents
	pageSize int
}

// NewFileSystem creates a FileSystem over docs.
func NewFileSystem(docs Documents) *FileSystem {
	return &FileSystem{docs: docs, pageSize: 200}
}

var _ xwebdav.FileSystem = (*FileSystem)(nil)

// node is a resolved path. item is nil for the tree root and the
// top-level folders.
type node struct {
	id   string
	name string
	item *drive.DriveItem
}

func (n *node) isDir() bool {
	return n.item == nil || n.item.IsDirectory
}

func (n *node) virtual() bool {
	return n.item == nil
}

func identity(ctx context.Context, op, name string) (drive.ExecutionContext, error) {
	ec, ok := ExecutionContextFrom(ctx)
	if !ok {
		return ec, &os.PathError{Op: op, Path: name, Err: os.ErrPermission}
	}
	return ec, nil
}

func split(name string) []string {
	clean := path.Clean("/" + name)
	if clean == "/" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(clean, "/"), "/")
}

func (fs *FileSystem) resolve(ctx context.Context, op, name string, ec drive.ExecutionContext) (*node, error) {
	segs := split(name)
	if len(segs) == 0 {
		return &node{name: "/"}, nil
	}

	id, ok := topLevelID(segs[0], ec)
	if !ok {
		return nil, &os.PathError{Op: op, Path: name, Err: os.ErrNotExist}
	}
	cur := &node{id: id, name: segs[0]}

	for _, seg := range segs[1:] {
		if !cur.isDir() {
			return nil, &os.PathError{Op: op, Path: name, Err: os.ErrNotExist}
		}
		child, err := fs.child(ctx, cur.id, seg, ec)
		if err != nil {
			return nil, mapError(op, name, err)
		}
		if child == nil {
			return nil, &os.PathError{Op: op, Path: name, Err: os.ErrNotExist}
		}
		cur = &node{id: child.ID, name: child.Name, item: child}
	}
	return cur, nil
}

// child finds the child of parentID called name.
func (fs *FileSystem) child(ctx context.Context, parentID, name string, ec drive.ExecutionContext) (*drive.DriveItem, error) {
	var found *drive.DriveItem
	err := fs.list(ctx, parentID, ec, func(item *drive.DriveItem) bool {
		if item.Name == name {
			found = item
			return false
		}
		return true
	})
	return found, err
}

// list calls fn for every readable child of id until fn returns false.
func (fs *FileSystem) list(ctx context.Context, id string, ec drive.ExecutionContext, fn func(*drive.DriveItem) bool) error {
	token := ""
	for {
		details, err := fs.docs.Get(ctx, id, documents.GetOptions{Limit: fs.pageSize, PageToken: token}, ec)
		if err != nil {
			return err
		}
		for _, kid := range details.Children {
			if !fn(kid) {
				return nil
			}
		}
		if details.NextPage == "" {
			return nil
		}
		token = details.NextPage
	}
}

// Mkdir creates a folder. An existing entry with the same name yields
// os.ErrExist.
func (fs *FileSystem) Mkdir(ctx context.Context, name string, _ os.FileMode) error {
	ec, err := identity(ctx, "mkdir", name)
	if err != nil {
		return err
	}
	parent, base, err := fs.resolveParent(ctx, "mkdir", name, ec)
	if err != nil {
		return err
	}
	if existing, err := fs.child(ctx, parent.id, base, ec); err != nil {
		return mapError("mkdir", name, err)
	} else if existing != nil {
		return &os.PathError{Op: "mkdir", Path: name, Err: os.ErrExist}
	}

	_, err = fs.docs.Create(ctx, documents.CreateRequest{ParentID: parent.id, Name: base, IsDirectory: true}, ec)
	return mapError("mkdir", name, err)
}

// resolveParent resolves the folder that holds name and returns it with
// the last path segment.
func (fs *FileSystem) resolveParent(ctx context.Context, op, name string, ec drive.ExecutionContext) (*node, string, error) {
	segs := split(name)
	if len(segs) < 2 {
		return nil, "", &os.PathError{Op: op, Path: name, Err: os.ErrPermission}
	}
	parent, err := fs.resolve(ctx, op, "/"+strings.Join(segs[:len(segs)-1], "/"), ec)
	if err != nil {
		return nil, "", err
	}
	if !parent.isDir() {
		return nil, "", &os.PathError{Op: op, Path: name, Err: os.ErrNotExist}
	}
	return parent, segs[len(segs)-1], nil
}

// OpenFile opens name for reading, or for writing when flag asks for it.
// Writes are streamed into a new file, or a new version of an existing
// file, which is committed on Close.
func (fs *FileSystem) OpenFile(ctx context.Context, name string, flag int, _ os.FileMode) (xwebdav.File, error) {
	ec, err := identity(ctx, "open", name)
	if err != nil {
		return nil, err
	}

	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) == 0 {
		n, err := fs.resolve(ctx, "open", name, ec)
		if err != nil {
			return nil, err
		}
		return newReadFile(ctx, fs, n, ec), nil
	}

	parent, base, err := fs.resolveParent(ctx, "open", name, ec)
	if err != nil {
		return nil, err
	}
	existing, err := fs.child(ctx, parent.id, base, ec)
	if err != nil {
		return nil, mapError("open", name, err)
	}
	switch {
	case existing == nil && flag&os.O_CREATE == 0:
		return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrNotExist}
	case existing != nil && flag&os.O_EXCL != 0:
		return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrExist}
	case existing != nil && existing.IsDirectory:
		return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrInvalid}
	}
	return newUploadFile(ctx, fs, name, parent.id, base, existing, ec), nil
}

// RemoveAll trashes name, or purges it when it is already in trash.
func (fs *FileSystem) RemoveAll(ctx context.Context, name string) error {
	ec, err := identity(ctx, "remove", name)
	if err != nil {
		return err
	}
	n, err := fs.resolve(ctx, "remove", name, ec)
	if err != nil {
		return err
	}
	if n.virtual() {
		return &os.PathError{Op: "remove", Path: name, Err: os.ErrPermission}
	}
	return mapError("remove", name, fs.docs.Delete(ctx, n.id, ec))
}

// Rename moves and/or renames an item.
func (fs *FileSystem) Rename(ctx context.Context, oldName, newName string) error {
	ec, err := identity(ctx, "rename", oldName)
	if err != nil {
		return err
	}
	src, err := fs.resolve(ctx, "rename", oldName, ec)
	if err != nil {
		return err
	}
	if src.virtual() {
		return &os.PathError{Op: "rename", Path: oldName, Err: os.ErrPermission}
	}
	parent, base, err := fs.resolveParent(ctx, "rename", newName, ec)
	if err != nil {
		return err
	}
	if existing, err := fs.child(ctx, parent.id, base, ec); err != nil {
		return mapError("rename", newName, err)
	} else if existing != nil && existing.ID != src.id {
		return &os.PathError{Op: "rename", Path: newName, Err: os.ErrExist}
	}

	req := documents.UpdateRequest{}
	if parent.id != src.item.ParentID {
		req.ParentID = &parent.id
	}
	if base != src.item.Name {
		req.Name = &base
	}
	if req.ParentID == nil && req.Name == nil {
		return nil
	}
	_, err = fs.docs.Update(ctx, src.id, req, ec)
	return mapError("rename", oldName, err)
}

// Stat returns information about name.
func (fs *FileSystem) Stat(ctx context.Context, name string) (os.FileInfo, error) {
	ec, err := identity(ctx, "stat", name)
	if err != nil {
		return nil, err
	}
	n, err := fs.resolve(ctx, "stat", name, ec)
	if err != nil {
		return nil, err
	}
	return newFileInfo(n), nil
}

// mapError converts documents errors into the os errors the webdav handler
// understands.
func mapError(op, name string, err error) error {
	switch {
	case err == nil:
		return nil
	case documents.IsNotFound(err):
		return &os.PathError{Op: op, Path: name, Err: os.ErrNotExist}
	case documents.IsUnauthorized(err):
		return &os.PathError{Op: op, Path: name, Err: os.ErrPermission}
	case documents.IsInvalidOperation(err):
		return &os.PathError{Op: op, Path: name, Err: os.ErrInvalid}
	}
	return err
}

// fileInfo implements os.FileInfo plus the optional webdav.ETager and
// webdav.ContentTyper interfaces.
type fileInfo struct {
	name    string
	size    int64
	dir     bool
	modTime time.Time
	mime    string
	etag    string
}

func newFileInfo(n *node) *fileInfo {
	fi := &fileInfo{name: n.name, dir: n.isDir()}
	if item := n.item; item != nil {
		fi.size = item.Size
		fi.modTime = item.LastModified
		if v := item.LastVersionCache; v != nil && !item.IsDirectory {
			fi.mime = v.FileMetadata.Mime
			fi.etag = `"` + v.ID + `"`
		}
	}
	return fi
}

func (fi *fileInfo) Name() string       { return fi.name }
func (fi *fileInfo) Size() int64        { return fi.size }
func (fi *fileInfo) ModTime() time.Time { return fi.modTime }
func (fi *fileInfo) IsDir() bool        { return fi.dir }
func (fi *fileInfo) Sys() any           { return nil }

func (fi *fileInfo) Mode() os.FileMode {
	if fi.dir {
		return os.ModeDir | 0o755
	}
	return 0o644
}

func (fi *fileInfo) ETag(context.Context) (string, error) {
	if fi.etag == "" {
		return "", xwebdav.ErrNotImplemented
	}
	return fi.etag, nil
}

func (fi *fileInfo) ContentType(context.Context) (string, error) {
	if fi.mime == "" {
		return "", xwebdav.ErrNotImplemented
	}
	return fi.mime, nil
}
