package nfs

import (
	"context"
	"net"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/rs/zerolog/log"
	nfs "github.com/willscott/go-nfs"
	"github.com/willscott/go-nfs/helpers"

	"github.com/bucketfs/bucketfs/internal/namespace"
	"github.com/bucketfs/bucketfs/internal/vfs"
)

// DefaultHandleLimit is the default number of cached file handles.
const DefaultHandleLimit = 1024

// Handler implements nfs.Handler for a read-only bucketfs tree. Clients
// may mount the root, a bucket, or any directory below it.
type Handler struct {
	root         *Filesystem
	cachingLimit int

	// Handle <-> path translation
	inner nfs.Handler
}

// NewHandler creates a new NFS handler. A cachingLimit <= 0 uses
// DefaultHandleLimit.
func NewHandler(fsys *vfs.FS, cachingLimit int) *Handler {
	if cachingLimit <= 0 {
		cachingLimit = DefaultHandleLimit
	}
	root := NewFilesystem(fsys, "/")
	return &Handler{
		root:         root,
		cachingLimit: cachingLimit,
		inner:        helpers.NewCachingHandler(helpers.NewNullAuthHandler(root), cachingLimit),
	}
}

// Mount handles NFS mount requests. The export path selects the
// directory that becomes the client's root.
func (h *Handler) Mount(ctx context.Context, conn net.Conn, req nfs.MountRequest) (nfs.MountStatus, billy.Filesystem, []nfs.AuthFlavor) {
	dirpath := "/" + strings.Trim(string(req.Dirpath), "/")

	log.Debug().
		Str("path", dirpath).
		Str("remote", remoteAddr(conn)).
		Msg("NFS mount request")

	entry, err := h.root.fs.Resolve(ctx, dirpath)
	if err != nil {
		log.Error().Err(err).Str("path", dirpath).Msg("NFS mount failed")
		return nfs.MountStatusErrIO, nil, nil
	}
	switch entry.Kind {
	case namespace.Missing:
		log.Warn().Str("path", dirpath).Msg("NFS export not found")
		return nfs.MountStatusErrNoEnt, nil, nil
	case namespace.File:
		log.Warn().Str("path", dirpath).Msg("NFS export is not a directory")
		return nfs.MountStatusErrNotDir, nil, nil
	}

	fs, err := h.root.Chroot(dirpath)
	if err != nil {
		return nfs.MountStatusErrServerFault, nil, nil
	}

	log.Info().
		Str("path", dirpath).
		Str("remote", remoteAddr(conn)).
		Msg("NFS mount successful")

	return nfs.MountStatusOk, fs, []nfs.AuthFlavor{nfs.AuthFlavorNull}
}

func remoteAddr(conn net.Conn) string {
	if conn == nil || conn.RemoteAddr() == nil {
		return ""
	}
	return conn.RemoteAddr().String()
}

// Change returns a billy.Change for the filesystem.
func (h *Handler) Change(fs billy.Filesystem) billy.Change {
	return nil // Attribute changes are not supported on a read-only tree
}

// FSStat fills in filesystem statistics.
func (h *Handler) FSStat(ctx context.Context, fs billy.Filesystem, stat *nfs.FSStat) error {
	// Object stores have no meaningful capacity; report a full volume
	stat.TotalSize = 1 << 40 // 1 TB
	stat.FreeSize = 0
	stat.AvailableSize = 0
	stat.TotalFiles = 1 << 20 // 1M files
	stat.FreeFiles = 0
	stat.AvailableFiles = 0
	stat.CacheHint = 0
	return nil
}

// ToHandle converts a file path to a handle.
func (h *Handler) ToHandle(fs billy.Filesystem, path []string) []byte {
	return h.inner.ToHandle(fs, path)
}

// FromHandle converts a handle back to a filesystem and path.
func (h *Handler) FromHandle(fh []byte) (billy.Filesystem, []string, error) {
	return h.inner.FromHandle(fh)
}

// InvalidateHandle invalidates a handle.
func (h *Handler) InvalidateHandle(fs billy.Filesystem, fh []byte) error {
	return h.inner.InvalidateHandle(fs, fh)
}

// HandleLimit returns the maximum number of handles.
func (h *Handler) HandleLimit() int {
	return h.cachingLimit
}

var _ nfs.Handler = (*Handler)(nil)
