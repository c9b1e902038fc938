package namespace

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/bucketfs/bucketfs/internal/objstore"
)

// EntryKind classifies a virtual path.
type EntryKind int

const (
	Missing EntryKind = iota
	Directory
	File
)

func (k EntryKind) String() string {
	switch k {
	case Directory:
		return "directory"
	case File:
		return "file"
	default:
		return "missing"
	}
}

// Entry is the classification of one path. Size is only meaningful for files.
type Entry struct {
	Path VirtualPath
	Kind EntryKind
	Size int64
}

// ResolverOptions configures a Resolver.
type ResolverOptions struct {
	SizeCache          *SizeCache // Optional; nil disables size caching
	ExposeEmptyObjects bool       // Report zero-size objects as empty files instead of Missing
	Logger             zerolog.Logger
}

// Resolver classifies virtual paths against a remote store.
// It holds no per-path state and is safe for concurrent use.
type Resolver struct {
	store       objstore.RemoteStore
	sizes       *SizeCache
	exposeEmpty bool
	logger      zerolog.Logger
}

// NewResolver creates a resolver over store.
func NewResolver(store objstore.RemoteStore, opts ResolverOptions) *Resolver {
	return &Resolver{
		store:       store,
		sizes:       opts.SizeCache,
		exposeEmpty: opts.ExposeEmptyObjects,
		logger:      opts.Logger,
	}
}

// Classify reports whether p is a directory, a file or missing.
//
// The mount root and bucket roots are always directories. Otherwise an
// exact-match object with positive size is a file; failing that, any key
// starting with p's key makes it a directory. Remote errors other than
// not-found are returned unchanged.
func (r *Resolver) Classify(ctx context.Context, p VirtualPath) (Entry, error) {
	entry := Entry{Path: p, Kind: Directory}
	if p.Bucket == "" || p.Key == "" {
		return entry, nil
	}

	keys, err := r.store.ListPrefix(ctx, p.Bucket, p.Key, 1)
	if err != nil {
		return Entry{Path: p}, err
	}
	if len(keys) == 0 {
		entry.Kind = Missing
		return entry, nil
	}

	size, err := r.headFile(ctx, p)
	switch {
	case err == nil:
		entry.Kind = File
		entry.Size = size
	case errors.Is(err, ErrEmptyObject):
		r.logger.Debug().Str("path", p.String()).Msg("Hiding empty object")
		entry.Kind = Missing
	case objstore.IsNotFound(err):
		// The key is only a common prefix of other keys.
		entry.Kind = Directory
	default:
		return Entry{Path: p}, err
	}

	r.logger.Debug().Str("path", p.String()).Stringer("kind", entry.Kind).Int64("size", entry.Size).Msg("Classified path")
	return entry, nil
}

// Size returns the size of the object at exactly p's key, consulting the
// size cache first. Not-found results are not cached.
func (r *Resolver) Size(ctx context.Context, p VirtualPath) (int64, error) {
	id := p.ID()
	if size, ok := r.sizes.Get(id); ok {
		return size, nil
	}
	size, err := r.store.HeadSize(ctx, p.Bucket, p.Key)
	if err != nil {
		return 0, err
	}
	r.sizes.Add(id, size)
	return size, nil
}

// Forget drops any cached size for p.
func (r *Resolver) Forget(p VirtualPath) {
	r.sizes.Remove(p.ID())
}

// headFile returns the size of the object at p, or ErrEmptyObject for a
// zero-size object that is not exposed.
func (r *Resolver) headFile(ctx context.Context, p VirtualPath) (int64, error) {
	size, err := r.Size(ctx, p)
	if err != nil {
		return 0, err
	}
	if size == 0 && !r.exposeEmpty {
		return 0, ErrEmptyObject
	}
	return size, nil
}
