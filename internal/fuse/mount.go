// Package fuse mounts a bucketfs namespace as a read-only FUSE filesystem.
package fuse

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sync"
	"syscall"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/bucketfs/bucketfs/internal/namespace"
	"github.com/bucketfs/bucketfs/internal/objstore"
	"github.com/bucketfs/bucketfs/internal/vfs"
)

// readdirParallelism bounds concurrent child lookups in Readdir.
const readdirParallelism = 8

// Options configures the FUSE mount.
type Options struct {
	// Mountpoint is the directory where the filesystem is mounted.
	Mountpoint string

	// FS resolves, lists and reads the virtual tree.
	FS *vfs.FS

	// Root is the virtual path exposed at the mountpoint, typically
	// "/{bucket}". Empty mounts the namespace root.
	Root string

	// AllowOther permits other users (including root) to access
	// the mount. Requires user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// Logger receives diagnostic messages.
	Logger zerolog.Logger
}

// Mount mounts the filesystem at the configured mountpoint. The caller
// must call Unmount on the returned Server when done. The mountpoint
// directory is created if it does not exist.
func Mount(options Options) (*fuse.Server, error) {
	if options.Mountpoint == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}
	if options.FS == nil {
		return nil, fmt.Errorf("filesystem is required")
	}
	options.Root = path.Join("/", options.Root)

	if err := os.MkdirAll(options.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("creating mountpoint %s: %w", options.Mountpoint, err)
	}

	root := &dirNode{options: &options, path: options.Root}

	entryTimeout := 1 * time.Second
	attrTimeout := 1 * time.Second
	negativeTimeout := 100 * time.Millisecond

	server, err := gofuse.Mount(options.Mountpoint, root, &gofuse.Options{
		EntryTimeout:    &entryTimeout,
		AttrTimeout:     &attrTimeout,
		NegativeTimeout: &negativeTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     "bucketfs",
			Name:       "bucketfs",
			AllowOther: options.AllowOther,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting FUSE filesystem at %s: %w", options.Mountpoint, err)
	}

	options.Logger.Info().
		Str("mountpoint", options.Mountpoint).
		Str("root", options.Root).
		Msg("FUSE filesystem mounted")
	return server, nil
}

// dirNode is a directory of the virtual tree. Children are classified
// on lookup and never cached beyond the kernel entry timeout.
type dirNode struct {
	gofuse.Inode
	options *Options
	path    string
}

var _ gofuse.InodeEmbedder = (*dirNode)(nil)
var _ gofuse.NodeLookuper = (*dirNode)(nil)
var _ gofuse.NodeReaddirer = (*dirNode)(nil)
var _ gofuse.NodeGetattrer = (*dirNode)(nil)

func (d *dirNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = syscall.S_IFDIR | 0o555
	return 0
}

func (d *dirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	childPath := path.Join(d.path, name)
	entry, err := d.options.FS.Resolve(ctx, childPath)
	if err != nil {
		return nil, d.errno("lookup", childPath, err)
	}

	switch entry.Kind {
	case namespace.Directory:
		child := d.NewInode(ctx, &dirNode{options: d.options, path: childPath}, gofuse.StableAttr{Mode: syscall.S_IFDIR})
		out.Mode = syscall.S_IFDIR | 0o555
		return child, 0
	case namespace.File:
		node := &fileNode{options: d.options, path: childPath, size: entry.Size}
		child := d.NewInode(ctx, node, gofuse.StableAttr{Mode: syscall.S_IFREG})
		node.fill(&out.Attr)
		return child, 0
	}
	return nil, syscall.ENOENT
}

func (d *dirNode) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	names, err := d.options.FS.List(ctx, d.path)
	if err != nil {
		return nil, d.errno("readdir", d.path, err)
	}

	entries := make([]fuse.DirEntry, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(readdirParallelism)
	for i, name := range names {
		if name == namespace.SelfEntry || name == namespace.ParentEntry {
			continue
		}
		g.Go(func() error {
			entry, err := d.options.FS.Resolve(gctx, path.Join(d.path, name))
			if err != nil {
				return err
			}
			switch entry.Kind {
			case namespace.Directory:
				entries[i] = fuse.DirEntry{Name: name, Mode: syscall.S_IFDIR}
			case namespace.File:
				entries[i] = fuse.DirEntry{Name: name, Mode: syscall.S_IFREG}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, d.errno("readdir", d.path, err)
	}

	result := entries[:0]
	for _, entry := range entries {
		if entry.Name != "" {
			result = append(result, entry)
		}
	}
	return gofuse.NewListDirStream(result), 0
}

func (d *dirNode) errno(op, p string, err error) syscall.Errno {
	errno := toErrno(err)
	if errno == syscall.EIO {
		d.options.Logger.Error().Err(err).Str("op", op).Str("path", p).Msg("FUSE backend error")
	}
	return errno
}

// fileNode is an object exposed as a regular file. Its size is fixed when
// the node is looked up.
type fileNode struct {
	gofuse.Inode
	options *Options
	path    string
	size    int64
}

var _ gofuse.InodeEmbedder = (*fileNode)(nil)
var _ gofuse.NodeGetattrer = (*fileNode)(nil)
var _ gofuse.NodeOpener = (*fileNode)(nil)

func (n *fileNode) fill(out *fuse.Attr) {
	out.Mode = syscall.S_IFREG | 0o444
	out.Size = uint64(n.size)
	out.Blocks = (out.Size + 511) / 512
	out.Blksize = uint32(n.options.FS.CacheStats().BlockSize)
}

func (n *fileNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	n.fill(&out.Attr)
	return 0
}

func (n *fileNode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR|syscall.O_TRUNC|syscall.O_APPEND) != 0 {
		return nil, 0, syscall.EROFS
	}

	reader, err := n.options.FS.OpenReader(ctx, n.path)
	if err != nil {
		errno := toErrno(err)
		if errno == syscall.EIO {
			n.options.Logger.Error().Err(err).Str("path", n.path).Msg("FUSE open failed")
		}
		return nil, 0, errno
	}

	// Objects are immutable for the life of a handle.
	return &fileHandle{reader: reader, logger: n.options.Logger}, fuse.FOPEN_KEEP_CACHE, 0
}

// fileHandle serializes kernel reads on one vfs.Reader.
type fileHandle struct {
	mu     sync.Mutex
	reader *vfs.Reader
	logger zerolog.Logger
}

var _ gofuse.FileReader = (*fileHandle)(nil)
var _ gofuse.FileReleaser = (*fileHandle)(nil)

func (h *fileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	h.mu.Lock()
	defer h.mu.Unlock()

	data, err := h.reader.ReadAtOffset(off, int64(len(dest)))
	if err != nil {
		h.logger.Error().Err(err).
			Str("path", h.reader.Path().String()).
			Str("session", h.reader.Session()).
			Int64("offset", off).
			Msg("FUSE read failed")
		return nil, toErrno(err)
	}
	return fuse.ReadResultData(data), 0
}

func (h *fileHandle) Release(ctx context.Context) syscall.Errno {
	h.mu.Lock()
	defer h.mu.Unlock()
	_ = h.reader.Close()
	return 0
}

// toErrno maps namespace and remote errors to FUSE status codes.
func toErrno(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, fs.ErrNotExist), objstore.IsNotFound(err):
		return syscall.ENOENT
	case errors.Is(err, vfs.ErrIsDir):
		return syscall.EISDIR
	case errors.Is(err, vfs.ErrNegativeOffset), errors.Is(err, objstore.ErrInvalidRange):
		return syscall.EINVAL
	}
	return syscall.EIO
}
