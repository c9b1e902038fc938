package namespace

import (
	"context"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/bucketfs/bucketfs/internal/objstore"
)

// Pseudo-entries present in every listing.
const (
	SelfEntry   = "."
	ParentEntry = ".."
)

// Lister reconstructs one directory level from a flat prefix listing.
type Lister struct {
	store  objstore.RemoteStore
	logger zerolog.Logger
}

// NewLister creates a lister over store.
func NewLister(store objstore.RemoteStore, logger zerolog.Logger) *Lister {
	return &Lister{store: store, logger: logger}
}

// List returns ".", ".." and the sorted, distinct child names of p.
//
// Keys whose text after the prefix begins with a separator contribute the
// next path segment. Keys continuing mid-segment contribute the prefix's
// last segment joined with the remainder's first component. The listing is
// a single remote page.
func (l *Lister) List(ctx context.Context, p VirtualPath) ([]string, error) {
	names := []string{SelfEntry, ParentEntry}
	if p.Bucket == "" {
		return names, nil
	}

	prefix := strings.TrimSuffix(p.Key, Separator)
	keys, err := l.store.ListPrefix(ctx, p.Bucket, p.Key, 0)
	if err != nil {
		return nil, err
	}

	base := lastSegment(prefix)
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		remainder, ok := strings.CutPrefix(key, prefix)
		if !ok || remainder == "" {
			continue
		}
		var name string
		if strings.HasPrefix(remainder, Separator) {
			name = firstComponent(remainder[len(Separator):])
		} else {
			name = base + firstComponent(remainder)
		}
		if name == "" {
			continue
		}
		seen[name] = struct{}{}
	}

	children := make([]string, 0, len(seen))
	for name := range seen {
		children = append(children, name)
	}
	sort.Strings(children)

	l.logger.Debug().Str("path", p.String()).Int("keys", len(keys)).Int("entries", len(children)).Msg("Listed directory")
	return append(names, children...), nil
}
