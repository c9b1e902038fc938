// Package memstore provides an in-memory objstore.RemoteStore for tests.
// It records every remote call so tests can assert on fetch counts, and can
// hold fetches open on a gate to exercise concurrent waiters.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/bucketfs/bucketfs/internal/objstore"
)

// DefaultPageSize mirrors the S3 ListObjectsV2 page limit.
const DefaultPageSize = 1000

// Range is a recorded FetchRange call.
type Range struct {
	Bucket string
	Key    string
	Start  int64
	End    int64
}

// Store is a map-backed RemoteStore.
type Store struct {
	mu       sync.Mutex
	buckets  map[string]map[string][]byte
	failures map[objstore.ObjectID]error
	fetches  []Range
	heads    int
	lists    int
	gate     chan struct{}

	// PageSize caps ListPrefix results like a single remote response page.
	PageSize int
}

var _ objstore.RemoteStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		buckets:  make(map[string]map[string][]byte),
		failures: make(map[objstore.ObjectID]error),
		PageSize: DefaultPageSize,
	}
}

// CreateBucket creates an empty bucket.
func (s *Store) CreateBucket(bucket string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.buckets[bucket]; !ok {
		s.buckets[bucket] = make(map[string][]byte)
	}
}

// Put stores an object, creating its bucket if needed.
func (s *Store) Put(bucket, key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	objects, ok := s.buckets[bucket]
	if !ok {
		objects = make(map[string][]byte)
		s.buckets[bucket] = objects
	}
	objects[key] = append([]byte(nil), data...)
}

// Fail makes every FetchRange of the object return err until cleared with
// a nil err.
func (s *Store) Fail(bucket, key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := objstore.ObjectID{Bucket: bucket, Key: key}
	if err == nil {
		delete(s.failures, id)
		return
	}
	s.failures[id] = err
}

// Hold makes subsequent FetchRange calls block until Release is called.
func (s *Store) Hold() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gate == nil {
		s.gate = make(chan struct{})
	}
}

// Release unblocks all fetches waiting on Hold.
func (s *Store) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gate != nil {
		close(s.gate)
		s.gate = nil
	}
}

// HeadSize implements objstore.RemoteStore.
func (s *Store) HeadSize(ctx context.Context, bucket, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heads++
	data, err := s.lookup(bucket, key)
	if err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

// FetchRange implements objstore.RemoteStore.
func (s *Store) FetchRange(ctx context.Context, bucket, key string, start, end int64) ([]byte, error) {
	s.mu.Lock()
	s.fetches = append(s.fetches, Range{Bucket: bucket, Key: key, Start: start, End: end})
	gate := s.gate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures[objstore.ObjectID{Bucket: bucket, Key: key}]; err != nil {
		return nil, err
	}
	data, err := s.lookup(bucket, key)
	if err != nil {
		return nil, err
	}
	if start < 0 || end < start || end > int64(len(data)) {
		return nil, fmt.Errorf("%s/%s [%d,%d): %w", bucket, key, start, end, objstore.ErrInvalidRange)
	}
	return append([]byte(nil), data[start:end]...), nil
}

// ListPrefix implements objstore.RemoteStore.
func (s *Store) ListPrefix(ctx context.Context, bucket, prefix string, maxResults int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists++
	objects, ok := s.buckets[bucket]
	if !ok {
		return nil, fmt.Errorf("bucket %s: %w", bucket, objstore.ErrNotFound)
	}

	keys := []string{}
	for key := range objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	limit := s.PageSize
	if maxResults > 0 && (limit <= 0 || maxResults < limit) {
		limit = maxResults
	}
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	return keys, nil
}

func (s *Store) lookup(bucket, key string) ([]byte, error) {
	objects, ok := s.buckets[bucket]
	if !ok {
		return nil, fmt.Errorf("bucket %s: %w", bucket, objstore.ErrNotFound)
	}
	data, ok := objects[key]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", bucket, key, objstore.ErrNotFound)
	}
	return data, nil
}

// Fetches returns every FetchRange call in issue order.
func (s *Store) Fetches() []Range {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Range(nil), s.fetches...)
}

// FetchCount returns the number of FetchRange calls.
func (s *Store) FetchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fetches)
}

// HeadCount returns the number of HeadSize calls.
func (s *Store) HeadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heads
}

// ListCount returns the number of ListPrefix calls.
func (s *Store) ListCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lists
}

// Reset clears the recorded calls.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches = nil
	s.heads = 0
	s.lists = 0
}
