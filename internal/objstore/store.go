// Package objstore defines the remote object store that bucketfs reads from
// and the implementations it ships with: an S3 HTTP client and a local
// directory-backed store.
package objstore

import "context"

// ObjectID identifies a single object. Two virtual paths with the same
// bucket and key denote the same object and share cached blocks.
type ObjectID struct {
	Bucket string
	Key    string
}

// String returns "bucket/key".
func (id ObjectID) String() string {
	return id.Bucket + "/" + id.Key
}

// RemoteStore is the object-store collaborator consumed by the namespace
// and block cache layers. Implementations must be safe for concurrent use.
type RemoteStore interface {
	// HeadSize returns the size of the object stored at exactly key.
	// It returns an error wrapping ErrNotFound if no such object exists.
	HeadSize(ctx context.Context, bucket, key string) (int64, error)

	// FetchRange returns the bytes in [start, end) of the object.
	FetchRange(ctx context.Context, bucket, key string, start, end int64) ([]byte, error)

	// ListPrefix returns keys beginning with prefix in lexical order.
	// maxResults <= 0 means no bound beyond a single response page.
	// No match yields an empty slice, not an error.
	ListPrefix(ctx context.Context, bucket, prefix string, maxResults int) ([]string, error)
}
