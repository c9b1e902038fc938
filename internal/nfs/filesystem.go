// Package nfs provides a read-only NFS v3 server over a bucketfs namespace.
package nfs

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/bucketfs/bucketfs/internal/namespace"
	"github.com/bucketfs/bucketfs/internal/objstore"
	"github.com/bucketfs/bucketfs/internal/vfs"
)

// ErrReadOnly is returned by every mutating operation.
var ErrReadOnly = errors.New("read-only filesystem")

var errSymlinks = errors.New("symlinks not supported")

// readDirParallelism bounds concurrent child lookups in ReadDir.
const readDirParallelism = 8

const (
	fileMode = 0444
	dirMode  = 0555 | os.ModeDir
)

// Filesystem implements billy.Filesystem over a vfs.FS, rooted at a
// virtual base path.
type Filesystem struct {
	fs      *vfs.FS
	base    string // Rooted virtual path, "/" for the mount root
	modTime time.Time
	ctx     context.Context
}

// NewFilesystem creates a filesystem exposing the tree under base.
func NewFilesystem(fsys *vfs.FS, base string) *Filesystem {
	return &Filesystem{
		fs:      fsys,
		base:    path.Join("/", base),
		modTime: time.Now(),
		ctx:     context.Background(),
	}
}

// virtualPath converts a filesystem-relative name to a rooted virtual path.
// The name is cleaned as a rooted path first so ".." cannot leave base.
func (f *Filesystem) virtualPath(name string) string {
	return path.Join(f.base, path.Clean("/"+name))
}

// Create creates the named file.
func (f *Filesystem) Create(filename string) (billy.File, error) {
	return nil, &fs.PathError{Op: "create", Path: filename, Err: ErrReadOnly}
}

// Open opens the named file for reading.
func (f *Filesystem) Open(filename string) (billy.File, error) {
	return f.OpenFile(filename, os.O_RDONLY, 0)
}

// OpenFile opens the named file. Any write flag fails with ErrReadOnly.
func (f *Filesystem) OpenFile(filename string, flag int, perm os.FileMode) (billy.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0 {
		return nil, &fs.PathError{Op: "open", Path: filename, Err: ErrReadOnly}
	}

	r, err := f.fs.OpenReader(f.ctx, f.virtualPath(filename))
	if err != nil {
		return nil, pathError("open", filename, err)
	}
	return &file{name: filename, reader: r}, nil
}

// Stat returns file info.
func (f *Filesystem) Stat(filename string) (os.FileInfo, error) {
	entry, err := f.fs.Resolve(f.ctx, f.virtualPath(filename))
	if err != nil {
		return nil, pathError("stat", filename, err)
	}
	if entry.Kind == namespace.Missing {
		return nil, &fs.PathError{Op: "stat", Path: filename, Err: fs.ErrNotExist}
	}
	return f.fileInfo(path.Base(filename), entry), nil
}

// Lstat returns file info (same as Stat, there are no links).
func (f *Filesystem) Lstat(filename string) (os.FileInfo, error) {
	return f.Stat(filename)
}

// ReadDir lists a directory. Children are classified concurrently;
// children that resolve to Missing are left out.
func (f *Filesystem) ReadDir(dirname string) ([]os.FileInfo, error) {
	dir := f.virtualPath(dirname)
	names, err := f.fs.List(f.ctx, dir)
	if err != nil {
		return nil, pathError("readdir", dirname, err)
	}

	infos := make([]os.FileInfo, len(names))
	g, ctx := errgroup.WithContext(f.ctx)
	g.SetLimit(readDirParallelism)
	for i, name := range names {
		if name == namespace.SelfEntry || name == namespace.ParentEntry {
			continue
		}
		g.Go(func() error {
			entry, err := f.fs.Resolve(ctx, path.Join(dir, name))
			if err != nil {
				return err
			}
			if entry.Kind != namespace.Missing {
				infos[i] = f.fileInfo(name, entry)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, pathError("readdir", dirname, err)
	}

	result := infos[:0]
	for _, info := range infos {
		if info != nil {
			result = append(result, info)
		}
	}
	return result, nil
}

func (f *Filesystem) fileInfo(name string, entry namespace.Entry) *fileInfo {
	if entry.Kind == namespace.Directory {
		return &fileInfo{name: name, mode: dirMode, modTime: f.modTime, isDir: true}
	}
	return &fileInfo{name: name, size: entry.Size, mode: fileMode, modTime: f.modTime}
}

// Rename renames a file.
func (f *Filesystem) Rename(oldpath, newpath string) error {
	return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: ErrReadOnly}
}

// Remove removes a file.
func (f *Filesystem) Remove(filename string) error {
	return &fs.PathError{Op: "remove", Path: filename, Err: ErrReadOnly}
}

// Join joins path elements.
func (f *Filesystem) Join(elem ...string) string {
	return path.Join(elem...)
}

// TempFile creates a temporary file.
func (f *Filesystem) TempFile(dir, prefix string) (billy.File, error) {
	return nil, &fs.PathError{Op: "tempfile", Path: path.Join(dir, prefix), Err: ErrReadOnly}
}

// MkdirAll creates a directory and all parents.
func (f *Filesystem) MkdirAll(filename string, perm os.FileMode) error {
	return &fs.PathError{Op: "mkdir", Path: filename, Err: ErrReadOnly}
}

// Symlink creates a symbolic link.
func (f *Filesystem) Symlink(target, link string) error {
	return &fs.PathError{Op: "symlink", Path: link, Err: ErrReadOnly}
}

// Readlink reads a symbolic link (not supported).
func (f *Filesystem) Readlink(link string) (string, error) {
	return "", &fs.PathError{Op: "readlink", Path: link, Err: errSymlinks}
}

// Chroot returns a new filesystem rooted at filename.
func (f *Filesystem) Chroot(filename string) (billy.Filesystem, error) {
	return &Filesystem{
		fs:      f.fs,
		base:    f.virtualPath(filename),
		modTime: f.modTime,
		ctx:     f.ctx,
	}, nil
}

// Root returns the virtual path the filesystem is rooted at.
func (f *Filesystem) Root() string {
	return f.base
}

// Capabilities reports a read-only, seekable filesystem.
func (f *Filesystem) Capabilities() billy.Capability {
	return billy.ReadCapability | billy.SeekCapability
}

// pathError maps namespace and remote errors onto os error conventions.
func pathError(op, name string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist), objstore.IsNotFound(err):
		return &fs.PathError{Op: op, Path: name, Err: fs.ErrNotExist}
	case errors.Is(err, vfs.ErrIsDir):
		return &fs.PathError{Op: op, Path: name, Err: vfs.ErrIsDir}
	}
	log.Warn().Err(err).Str("op", op).Str("path", name).Msg("NFS backend error")
	return &fs.PathError{Op: op, Path: name, Err: err}
}

// --- file implementation ---

type file struct {
	mu     sync.Mutex
	name   string
	reader *vfs.Reader
	closed bool
}

func (f *file) Name() string {
	return f.name
}

func (f *file) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, os.ErrClosed
	}
	return f.reader.Read(p)
}

func (f *file) ReadAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, os.ErrClosed
	}
	return f.reader.ReadAt(p, off)
}

func (f *file) Seek(offset int64, whence int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, os.ErrClosed
	}
	return f.reader.Seek(offset, whence)
}

func (f *file) Write(p []byte) (int, error) {
	return 0, ErrReadOnly
}

func (f *file) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	return f.reader.Close()
}

func (f *file) Lock() error {
	return nil // No-op
}

func (f *file) Unlock() error {
	return nil // No-op
}

func (f *file) Truncate(size int64) error {
	return ErrReadOnly
}

// --- fileInfo implementation ---

type fileInfo struct {
	name    string
	size    int64
	mode    os.FileMode
	modTime time.Time
	isDir   bool
}

func (fi *fileInfo) Name() string       { return fi.name }
func (fi *fileInfo) Size() int64        { return fi.size }
func (fi *fileInfo) Mode() os.FileMode  { return fi.mode }
func (fi *fileInfo) ModTime() time.Time { return fi.modTime }
func (fi *fileInfo) IsDir() bool        { return fi.isDir }
func (fi *fileInfo) Sys() interface{}   { return nil }

// Ensure Filesystem implements billy.Filesystem
var _ billy.Filesystem = (*Filesystem)(nil)
var _ billy.Capable = (*Filesystem)(nil)
var _ billy.File = (*file)(nil)
var _ fs.FileInfo = (*fileInfo)(nil)
