// Package blockcache implements a read-through cache of fixed-size object
// blocks. Byte-range reads are composed from blocks; missing blocks are
// fetched from the remote store at most once at a time per block, and
// resident blocks are evicted least-recently-used first under a capacity
// bound, skipping blocks that are being read or awaited.
package blockcache

import (
	"container/list"
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/bucketfs/bucketfs/internal/objstore"
)

const (
	DefaultBlockSize        = 64 << 10
	DefaultCapacity         = 1024
	DefaultFetchParallelism = 8
)

// Options configures a Cache.
type Options struct {
	BlockSize        int64 // Bytes per block (default 64KiB)
	Capacity         int   // Maximum resident blocks (default 1024)
	FetchParallelism int   // Concurrent block fetches per Get (default 8)
	Metrics          *Metrics
	Logger           zerolog.Logger
}

// Stats is a snapshot of cache activity.
type Stats struct {
	Hits        uint64
	Misses      uint64
	Fetches     uint64
	FetchErrors uint64
	Evictions   uint64
	Resident    int
	Capacity    int
	BlockSize   int64
}

type blockKey struct {
	id    objstore.ObjectID
	index int64
}

// flightKey names one fetch of a block of length want. Callers that know
// different object sizes never share a fetch. The key is unambiguous
// because bucket names never contain '/' and the suffix after the last '#'
// holds no '#'.
func (k blockKey) flightKey(want int64) string {
	return k.id.Bucket + "/" + k.id.Key + "#" + strconv.FormatInt(k.index, 10) + ":" + strconv.FormatInt(want, 10)
}

type block struct {
	key  blockKey
	data []byte
	pins int
	elem *list.Element // nil for blocks served without being cached
}

// Cache is a shared, concurrency-safe block cache over one RemoteStore.
type Cache struct {
	store       objstore.RemoteStore
	blockSize   int64
	capacity    int
	parallelism int
	metrics     *Metrics
	logger      zerolog.Logger

	flight singleflight.Group

	mu      sync.Mutex
	blocks  map[blockKey]*block
	lru     *list.List       // front is most recently used
	waiting map[blockKey]int // callers awaiting a fetch of the key

	hits        atomic.Uint64
	misses      atomic.Uint64
	fetches     atomic.Uint64
	fetchErrors atomic.Uint64
	evictions   atomic.Uint64
}

// New creates a cache reading through to store.
func New(store objstore.RemoteStore, opts Options) *Cache {
	if opts.BlockSize <= 0 {
		opts.BlockSize = DefaultBlockSize
	}
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.FetchParallelism <= 0 {
		opts.FetchParallelism = DefaultFetchParallelism
	}
	return &Cache{
		store:       store,
		blockSize:   opts.BlockSize,
		capacity:    opts.Capacity,
		parallelism: opts.FetchParallelism,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		blocks:      make(map[blockKey]*block),
		lru:         list.New(),
		waiting:     make(map[blockKey]int),
	}
}

// BlockSize returns the fixed block size in bytes.
func (c *Cache) BlockSize() int64 {
	return c.blockSize
}

// Get returns exactly length bytes of object id starting at offset. size is
// the object's known size and bounds the last block. Remote fetches run to
// completion even if ctx is canceled, since other callers may share them.
func (c *Cache) Get(ctx context.Context, id objstore.ObjectID, size, offset, length int64) ([]byte, error) {
	if offset < 0 || length < 0 || offset+length > size {
		return nil, fmt.Errorf("read %s [%d,%d) of %d bytes: %w", id, offset, offset+length, size, objstore.ErrInvalidRange)
	}
	if length == 0 {
		return []byte{}, nil
	}

	first := offset / c.blockSize
	last := (offset + length - 1) / c.blockSize
	blocks := make([]*block, last-first+1)
	defer c.unpin(blocks)

	var missing []int
	c.mu.Lock()
	for i := range blocks {
		key := blockKey{id: id, index: first + int64(i)}
		if b := c.lookupLocked(key, c.blockLen(size, key.index)); b != nil {
			b.pins++
			c.lru.MoveToFront(b.elem)
			blocks[i] = b
			continue
		}
		c.waiting[key]++
		missing = append(missing, i)
	}
	c.mu.Unlock()

	hits := len(blocks) - len(missing)
	c.hits.Add(uint64(hits))
	c.misses.Add(uint64(len(missing)))
	c.metrics.recordLookup(hits, len(missing))

	if len(missing) > 0 {
		var g errgroup.Group
		g.SetLimit(c.parallelism)
		for _, i := range missing {
			g.Go(func() error {
				b, err := c.load(ctx, id, size, first+int64(i))
				if err != nil {
					return err
				}
				blocks[i] = b
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	out := make([]byte, 0, length)
	end := offset + length
	for i, b := range blocks {
		blockStart := (first + int64(i)) * c.blockSize
		lo := max(offset-blockStart, 0)
		hi := min(end-blockStart, int64(len(b.data)))
		out = append(out, b.data[lo:hi]...)
	}
	return out, nil
}

// load waits for the single in-flight fetch of a block, starting it if
// needed, and returns the block pinned. The caller must have registered
// itself in c.waiting for the key.
func (c *Cache) load(ctx context.Context, id objstore.ObjectID, size, index int64) (*block, error) {
	key := blockKey{id: id, index: index}
	want := c.blockLen(size, index)

	v, err, _ := c.flight.Do(key.flightKey(want), func() (any, error) {
		return c.fetch(ctx, key, want)
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.waiting[key]--; c.waiting[key] <= 0 {
		delete(c.waiting, key)
	}
	if err != nil {
		return nil, err
	}
	if b := c.lookupLocked(key, want); b != nil {
		b.pins++
		c.lru.MoveToFront(b.elem)
		return b, nil
	}
	return &block{key: key, data: v.([]byte)}, nil
}

// fetch runs once per in-flight key. It re-checks residency because a
// previous flight for the key may have completed after the caller missed.
func (c *Cache) fetch(ctx context.Context, key blockKey, want int64) ([]byte, error) {
	c.mu.Lock()
	if b := c.lookupLocked(key, want); b != nil {
		data := b.data
		c.mu.Unlock()
		return data, nil
	}
	c.mu.Unlock()

	start := key.index * c.blockSize
	data, err := c.store.FetchRange(context.WithoutCancel(ctx), key.id.Bucket, key.id.Key, start, start+want)
	if err == nil && int64(len(data)) != want {
		err = fmt.Errorf("got %d bytes, want %d: %w", len(data), want, objstore.ErrInvalidRange)
	}
	c.fetches.Add(1)
	c.metrics.recordFetch(len(data), err)
	if err != nil {
		c.fetchErrors.Add(1)
		c.logger.Debug().Err(err).Str("object", key.id.String()).Int64("block", key.index).Msg("Block fetch failed")
		return nil, &FetchError{ID: key.id, Index: key.index, Err: err}
	}

	c.mu.Lock()
	cached := c.insertLocked(key, data)
	c.mu.Unlock()

	c.logger.Debug().
		Str("object", key.id.String()).
		Int64("block", key.index).
		Int("bytes", len(data)).
		Bool("cached", cached).
		Msg("Fetched block")
	return data, nil
}

// blockLen returns the length of block index of an object of size bytes.
func (c *Cache) blockLen(size, index int64) int64 {
	return min(c.blockSize, size-index*c.blockSize)
}

// lookupLocked returns the resident block for key if it has the expected
// length. A resident block of another length belongs to an earlier
// version of the object and is dropped when nobody is reading it.
func (c *Cache) lookupLocked(key blockKey, want int64) *block {
	b, ok := c.blocks[key]
	if !ok {
		return nil
	}
	if int64(len(b.data)) == want {
		return b
	}
	if b.pins == 0 {
		c.removeLocked(b)
	}
	return nil
}

// insertLocked makes data resident, evicting unpinned least-recently-used
// blocks to make room. An unpinned resident block of another length is
// replaced. It reports false, leaving data uncached, when the key is
// already resident or every resident block is in use.
func (c *Cache) insertLocked(key blockKey, data []byte) bool {
	if old, ok := c.blocks[key]; ok {
		if len(old.data) == len(data) || old.pins > 0 {
			return false
		}
		c.removeLocked(old)
	}
	for len(c.blocks) >= c.capacity {
		if !c.evictOneLocked() {
			return false
		}
	}
	b := &block{key: key, data: data}
	b.elem = c.lru.PushFront(b)
	c.blocks[key] = b
	c.metrics.setResident(len(c.blocks))
	return true
}

func (c *Cache) evictOneLocked() bool {
	for e := c.lru.Back(); e != nil; e = e.Prev() {
		b := e.Value.(*block)
		if b.pins > 0 || c.waiting[b.key] > 0 {
			continue
		}
		c.removeLocked(b)
		c.evictions.Add(1)
		c.metrics.recordEviction()
		c.logger.Debug().Str("object", b.key.id.String()).Int64("block", b.key.index).Msg("Evicted block")
		return true
	}
	return false
}

func (c *Cache) removeLocked(b *block) {
	c.lru.Remove(b.elem)
	delete(c.blocks, b.key)
	b.elem = nil
	c.metrics.setResident(len(c.blocks))
}

func (c *Cache) unpin(blocks []*block) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range blocks {
		if b != nil && b.pins > 0 {
			b.pins--
		}
	}
}

// Purge drops every resident block of id that is not being read and
// returns how many were dropped.
func (c *Cache) Purge(id objstore.ObjectID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for key, b := range c.blocks {
		if key.id == id && b.pins == 0 {
			c.removeLocked(b)
			n++
		}
	}
	return n
}

// Len returns the number of resident blocks.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.blocks)
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Fetches:     c.fetches.Load(),
		FetchErrors: c.fetchErrors.Load(),
		Evictions:   c.evictions.Load(),
		Resident:    c.Len(),
		Capacity:    c.capacity,
		BlockSize:   c.blockSize,
	}
}
