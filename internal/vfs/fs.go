// Package vfs is the read-only filesystem facade over the namespace and
// block cache layers. Filesystem hosts (NFS, FUSE, the CLI) resolve paths,
// list directories and open readers through an FS.
package vfs

import (
	"context"
	"fmt"
	"io/fs"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bucketfs/bucketfs/internal/blockcache"
	"github.com/bucketfs/bucketfs/internal/namespace"
	"github.com/bucketfs/bucketfs/internal/objstore"
)

// Config configures an FS.
type Config struct {
	Store              objstore.RemoteStore // Required
	Cache              *blockcache.Cache    // Required; shared by all readers
	SizeCache          *namespace.SizeCache // Optional
	ExposeEmptyObjects bool
	Logger             zerolog.Logger
}

// FS resolves, lists and opens virtual paths. It is safe for concurrent use.
type FS struct {
	resolver *namespace.Resolver
	lister   *namespace.Lister
	cache    *blockcache.Cache
	logger   zerolog.Logger
}

// New creates an FS.
func New(cfg Config) (*FS, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("remote store is required")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("block cache is required")
	}
	return &FS{
		resolver: namespace.NewResolver(cfg.Store, namespace.ResolverOptions{
			SizeCache:          cfg.SizeCache,
			ExposeEmptyObjects: cfg.ExposeEmptyObjects,
			Logger:             cfg.Logger,
		}),
		lister: namespace.NewLister(cfg.Store, cfg.Logger),
		cache:  cfg.Cache,
		logger: cfg.Logger,
	}, nil
}

// Resolve classifies path.
func (f *FS) Resolve(ctx context.Context, path string) (namespace.Entry, error) {
	return f.resolver.Classify(ctx, namespace.Parse(path))
}

// List returns ".", ".." and the child names of the directory at path.
func (f *FS) List(ctx context.Context, path string) ([]string, error) {
	return f.lister.List(ctx, namespace.Parse(path))
}

// OpenReader opens the file at path. The object size is fixed for the
// reader's lifetime. Opening a directory fails with ErrIsDir and a missing
// path with an error matching fs.ErrNotExist; both also match ErrNotFile.
func (f *FS) OpenReader(ctx context.Context, path string) (*Reader, error) {
	entry, err := f.resolver.Classify(ctx, namespace.Parse(path))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	switch entry.Kind {
	case namespace.Directory:
		return nil, fmt.Errorf("open %s: %w: %w", path, ErrNotFile, ErrIsDir)
	case namespace.Missing:
		return nil, fmt.Errorf("open %s: %w: %w", path, ErrNotFile, fs.ErrNotExist)
	}

	r := &Reader{
		ctx:     context.WithoutCancel(ctx),
		cache:   f.cache,
		path:    entry.Path,
		size:    entry.Size,
		session: uuid.NewString(),
	}
	r.logger = f.logger.With().Str("session", r.session).Str("path", entry.Path.String()).Logger()
	r.logger.Debug().Int64("size", entry.Size).Msg("Opened reader")
	return r, nil
}

// Invalidate drops the cached size and resident blocks of the object at path.
func (f *FS) Invalidate(path string) int {
	p := namespace.Parse(path)
	f.resolver.Forget(p)
	return f.cache.Purge(p.ID())
}

// CacheStats returns the shared block cache statistics.
func (f *FS) CacheStats() blockcache.Stats {
	return f.cache.Stats()
}
