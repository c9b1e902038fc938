package namespace

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/bucketfs/bucketfs/internal/objstore"
)

// SizeCache is a bounded, expiring cache of object sizes. A nil
// *SizeCache is valid and caches nothing.
type SizeCache struct {
	lru *expirable.LRU[objstore.ObjectID, int64]
}

// NewSizeCache creates a cache holding at most entries sizes for ttl each.
// It returns nil when entries <= 0. A ttl <= 0 disables expiry.
func NewSizeCache(entries int, ttl time.Duration) *SizeCache {
	if entries <= 0 {
		return nil
	}
	return &SizeCache{lru: expirable.NewLRU[objstore.ObjectID, int64](entries, nil, ttl)}
}

// Get returns the cached size of id.
func (c *SizeCache) Get(id objstore.ObjectID) (int64, bool) {
	if c == nil {
		return 0, false
	}
	return c.lru.Get(id)
}

// Add records the size of id.
func (c *SizeCache) Add(id objstore.ObjectID, size int64) {
	if c == nil {
		return
	}
	c.lru.Add(id, size)
}

// Remove forgets the size of id.
func (c *SizeCache) Remove(id objstore.ObjectID) {
	if c == nil {
		return
	}
	c.lru.Remove(id)
}

// Len returns the number of cached sizes.
func (c *SizeCache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
