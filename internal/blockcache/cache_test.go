package blockcache

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bucketfs/bucketfs/internal/objstore"
	"github.com/bucketfs/bucketfs/internal/objstore/memstore"
)

var testID = objstore.ObjectID{Bucket: "bucket", Key: "data.bin"}

func testData(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte((i * 7) % 251)
	}
	return data
}

func newTestCache(t *testing.T, size int, opts Options) (*Cache, *memstore.Store, []byte) {
	t.Helper()
	data := testData(size)
	store := memstore.New()
	store.Put(testID.Bucket, testID.Key, data)
	opts.Logger = zerolog.Nop()
	return New(store, opts), store, data
}

func counterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	_ = c.Write(m)
	return m.GetCounter().GetValue()
}

func gaugeValue(g prometheus.Gauge) float64 {
	m := &dto.Metric{}
	_ = g.Write(m)
	return m.GetGauge().GetValue()
}

func fetchedIndices(store *memstore.Store, blockSize int64) []int64 {
	var indices []int64
	for _, r := range store.Fetches() {
		indices = append(indices, r.Start/blockSize)
	}
	return indices
}

func TestNew_Defaults(t *testing.T) {
	c := New(memstore.New(), Options{})
	stats := c.Stats()
	assert.Equal(t, int64(DefaultBlockSize), c.BlockSize())
	assert.Equal(t, DefaultCapacity, stats.Capacity)
	assert.Equal(t, 0, stats.Resident)
}

func TestCache_SubRangeConsistency(t *testing.T) {
	const size = 1000
	c, _, data := newTestCache(t, size, Options{BlockSize: 64, Capacity: 4})
	ctx := context.Background()

	full, err := c.Get(ctx, testID, size, 0, size)
	require.NoError(t, err)
	require.Len(t, full, size)
	assert.Equal(t, data, full)

	for a := int64(0); a <= size; a += 37 {
		for b := a; b <= size; b += 53 {
			got, err := c.Get(ctx, testID, size, a, b-a)
			require.NoError(t, err)
			require.Equal(t, full[a:b], got, "range [%d,%d)", a, b)
		}
	}
	assert.LessOrEqual(t, c.Len(), 4)
}

func TestCache_FetchesOnlyOverlappingBlocks(t *testing.T) {
	const blockSize = 65536
	const size = 4 * blockSize
	c, store, data := newTestCache(t, size, Options{BlockSize: blockSize})

	got, err := c.Get(context.Background(), testID, size, 100000, 50000)
	require.NoError(t, err)
	assert.Equal(t, data[100000:150000], got)

	assert.ElementsMatch(t, []int64{1, 2}, fetchedIndices(store, blockSize))
	assert.ElementsMatch(t, []memstore.Range{
		{Bucket: testID.Bucket, Key: testID.Key, Start: 65536, End: 131072},
		{Bucket: testID.Bucket, Key: testID.Key, Start: 131072, End: 196608},
	}, store.Fetches())
}

func TestCache_ShortLastBlock(t *testing.T) {
	c, store, data := newTestCache(t, 100, Options{BlockSize: 64})

	got, err := c.Get(context.Background(), testID, 100, 90, 10)
	require.NoError(t, err)
	assert.Equal(t, data[90:], got)
	assert.Equal(t, []memstore.Range{{Bucket: testID.Bucket, Key: testID.Key, Start: 64, End: 100}}, store.Fetches())
}

func TestCache_HitsDoNotRefetch(t *testing.T) {
	c, store, _ := newTestCache(t, 256, Options{BlockSize: 64})
	ctx := context.Background()

	_, err := c.Get(ctx, testID, 256, 0, 100)
	require.NoError(t, err)
	_, err = c.Get(ctx, testID, 256, 10, 20)
	require.NoError(t, err)
	_, err = c.Get(ctx, testID, 256, 64, 64)
	require.NoError(t, err)

	assert.Equal(t, 2, store.FetchCount())
	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.Misses)
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(2), stats.Fetches)
	assert.Equal(t, 2, stats.Resident)
}

func TestCache_InvalidRange(t *testing.T) {
	c, store, _ := newTestCache(t, 100, Options{BlockSize: 64})
	ctx := context.Background()

	tests := []struct {
		name           string
		offset, length int64
	}{
		{"past end", 90, 20},
		{"negative offset", -1, 5},
		{"negative length", 0, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Get(ctx, testID, 100, tt.offset, tt.length)
			assert.ErrorIs(t, err, objstore.ErrInvalidRange)
		})
	}

	got, err := c.Get(ctx, testID, 100, 100, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 0, store.FetchCount())
}

// startConcurrent runs n calls of fn once all goroutines are ready and
// returns a wait function.
func startConcurrent(n int, fn func(i int)) (ready *sync.WaitGroup, wait func()) {
	ready = &sync.WaitGroup{}
	var done sync.WaitGroup
	ready.Add(n)
	done.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer done.Done()
			ready.Done()
			fn(i)
		}()
	}
	return ready, done.Wait
}

func TestCache_SingleFlight(t *testing.T) {
	const n = 16
	c, store, data := newTestCache(t, 200, Options{BlockSize: 128})
	store.Hold()

	results := make([][]byte, n)
	errs := make([]error, n)
	ready, wait := startConcurrent(n, func(i int) {
		// Overlapping ranges that all fall inside block 0.
		offset := int64(i % 4 * 10)
		results[i], errs[i] = c.Get(context.Background(), testID, 200, offset, 90)
	})
	ready.Wait()
	require.Eventually(t, func() bool { return store.FetchCount() >= 1 }, 5*time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	store.Release()
	wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		offset := i % 4 * 10
		assert.Equal(t, data[offset:offset+90], results[i])
	}
	assert.Equal(t, 1, store.FetchCount())
}

func TestCache_SingleFlightAcrossOverlappingRanges(t *testing.T) {
	c, store, data := newTestCache(t, 300, Options{BlockSize: 128})
	store.Hold()

	var a, b []byte
	var errA, errB error
	ready, wait := startConcurrent(2, func(i int) {
		if i == 0 {
			a, errA = c.Get(context.Background(), testID, 300, 0, 100)
		} else {
			b, errB = c.Get(context.Background(), testID, 300, 50, 150)
		}
	})
	ready.Wait()
	require.Eventually(t, func() bool { return store.FetchCount() >= 2 }, 5*time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	store.Release()
	wait()

	require.NoError(t, errA)
	require.NoError(t, errB)
	assert.Equal(t, data[0:100], a)
	assert.Equal(t, data[50:200], b)
	assert.ElementsMatch(t, []int64{0, 1}, fetchedIndices(store, 128))
}

func TestCache_SizeChangeDuringSharedFetch(t *testing.T) {
	c, store, data := newTestCache(t, 150, Options{BlockSize: 128})
	store.Hold()

	// The first reader still knows the object as 130 bytes, so its block 1
	// is 2 bytes long. The second reader knows 150 bytes and needs 22.
	var a, b []byte
	var errA, errB error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a, errA = c.Get(context.Background(), testID, 130, 128, 2)
	}()
	require.Eventually(t, func() bool { return store.FetchCount() == 1 }, 5*time.Second, time.Millisecond)
	go func() {
		defer wg.Done()
		b, errB = c.Get(context.Background(), testID, 150, 140, 10)
	}()
	require.Eventually(t, func() bool { return store.FetchCount() == 2 }, 5*time.Second, time.Millisecond)
	store.Release()
	wg.Wait()

	require.NoError(t, errA)
	require.NoError(t, errB)
	assert.Equal(t, data[128:130], a)
	assert.Equal(t, data[140:150], b)

	fetches := store.Fetches()
	require.Len(t, fetches, 2)
	assert.Equal(t, [2]int64{128, 130}, [2]int64{fetches[0].Start, fetches[0].End})
	assert.Equal(t, [2]int64{128, 150}, [2]int64{fetches[1].Start, fetches[1].End})

	got, err := c.Get(context.Background(), testID, 150, 130, 20)
	require.NoError(t, err)
	assert.Equal(t, data[130:150], got)
}

func TestCache_FetchErrorSharedAndNotCached(t *testing.T) {
	const n = 8
	c, store, data := newTestCache(t, 100, Options{BlockSize: 64})
	boom := errors.New("connection reset")
	store.Fail(testID.Bucket, testID.Key, boom)
	store.Hold()

	errs := make([]error, n)
	ready, wait := startConcurrent(n, func(i int) {
		_, errs[i] = c.Get(context.Background(), testID, 100, 0, 10)
	})
	ready.Wait()
	require.Eventually(t, func() bool { return store.FetchCount() >= 1 }, 5*time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	store.Release()
	wait()

	require.Equal(t, 1, store.FetchCount())
	var first *FetchError
	require.ErrorAs(t, errs[0], &first)
	for _, err := range errs {
		assert.ErrorIs(t, err, ErrFetchFailed)
		assert.ErrorIs(t, err, boom)
		var fe *FetchError
		require.ErrorAs(t, err, &fe)
		assert.Same(t, first, fe)
	}
	assert.Equal(t, testID, first.ID)
	assert.Equal(t, int64(0), first.Index)
	assert.Equal(t, 0, c.Len())

	store.Fail(testID.Bucket, testID.Key, nil)
	got, err := c.Get(context.Background(), testID, 100, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, data[:10], got)
	assert.Equal(t, 2, store.FetchCount())
	assert.Equal(t, uint64(1), c.Stats().FetchErrors)
}

func TestCache_NotFoundIsMatchable(t *testing.T) {
	c := New(memstore.New(), Options{BlockSize: 64})
	_, err := c.Get(context.Background(), objstore.ObjectID{Bucket: "b", Key: "gone"}, 10, 0, 10)
	assert.ErrorIs(t, err, ErrFetchFailed)
	assert.ErrorIs(t, err, objstore.ErrNotFound)
}

func TestCache_LRUEviction(t *testing.T) {
	c, store, _ := newTestCache(t, 100, Options{BlockSize: 10, Capacity: 3})
	ctx := context.Background()
	read := func(index int64) {
		t.Helper()
		_, err := c.Get(ctx, testID, 100, index*10, 10)
		require.NoError(t, err)
	}

	read(0)
	read(1)
	read(2)
	read(0) // 1 is now least recently used
	read(3)

	assert.Equal(t, 3, c.Len())
	assert.Equal(t, uint64(1), c.Stats().Evictions)

	store.Reset()
	read(0)
	read(2)
	read(3)
	assert.Equal(t, 0, store.FetchCount(), "0, 2 and 3 stay resident")
	read(1)
	assert.Equal(t, 1, store.FetchCount(), "1 was evicted")
	assert.Equal(t, 3, c.Len())
}

func TestCache_PinnedBlocksAreNotEvicted(t *testing.T) {
	c, store, data := newTestCache(t, 100, Options{BlockSize: 10, Capacity: 2})
	ctx := context.Background()

	_, err := c.Get(ctx, testID, 100, 0, 20)
	require.NoError(t, err)
	require.Equal(t, 2, c.Len())

	// Blocks 0 and 1 are pinned while block 2 is fetched, so block 2 is
	// served without being cached.
	got, err := c.Get(ctx, testID, 100, 5, 20)
	require.NoError(t, err)
	assert.Equal(t, data[5:25], got)
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, uint64(0), c.Stats().Evictions)

	store.Reset()
	_, err = c.Get(ctx, testID, 100, 0, 20)
	require.NoError(t, err)
	assert.Equal(t, 0, store.FetchCount())

	// Unpinned again, block 0 is least recently used and makes room.
	_, err = c.Get(ctx, testID, 100, 20, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, uint64(1), c.Stats().Evictions)
}

func TestCache_CapacityUnderConcurrentReads(t *testing.T) {
	const size = 4096
	const capacity = 4
	c, _, data := newTestCache(t, size, Options{BlockSize: 64, Capacity: capacity})

	var mu sync.Mutex
	var failures []string
	_, wait := startConcurrent(16, func(i int) {
		rng := rand.New(rand.NewSource(int64(i)))
		for j := 0; j < 200; j++ {
			offset := rng.Int63n(size)
			length := rng.Int63n(min(size-offset, 200) + 1)
			got, err := c.Get(context.Background(), testID, size, offset, length)
			if err != nil || string(got) != string(data[offset:offset+length]) {
				mu.Lock()
				failures = append(failures, "bad read")
				mu.Unlock()
			}
			if n := c.Len(); n > capacity {
				mu.Lock()
				failures = append(failures, "over capacity")
				mu.Unlock()
			}
		}
	})
	wait()

	assert.Empty(t, failures)
	assert.LessOrEqual(t, c.Len(), capacity)
}

func TestCache_DistinctObjectsDoNotShareBlocks(t *testing.T) {
	store := memstore.New()
	store.Put("bucket", "a", []byte("aaaaaaaaaa"))
	store.Put("bucket", "b", []byte("bbbbbbbbbb"))
	c := New(store, Options{BlockSize: 4})
	ctx := context.Background()

	a, err := c.Get(ctx, objstore.ObjectID{Bucket: "bucket", Key: "a"}, 10, 0, 10)
	require.NoError(t, err)
	b, err := c.Get(ctx, objstore.ObjectID{Bucket: "bucket", Key: "b"}, 10, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, "aaaaaaaaaa", string(a))
	assert.Equal(t, "bbbbbbbbbb", string(b))
	assert.Equal(t, 6, c.Len())
}

func TestCache_StaleBlocksAreReplaced(t *testing.T) {
	store := memstore.New()
	id := objstore.ObjectID{Bucket: "bucket", Key: "grows"}
	store.Put(id.Bucket, id.Key, []byte("abc"))
	c := New(store, Options{BlockSize: 8})
	ctx := context.Background()

	got, err := c.Get(ctx, id, 3, 0, 3)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))

	store.Put(id.Bucket, id.Key, []byte("abcdefgh"))
	got, err = c.Get(ctx, id, 8, 0, 8)
	require.NoError(t, err)
	assert.Equal(t, "abcdefgh", string(got))
	assert.Equal(t, 2, store.FetchCount())
	assert.Equal(t, 1, c.Len())
}

func TestCache_Purge(t *testing.T) {
	store := memstore.New()
	store.Put("bucket", "a", testData(30))
	store.Put("bucket", "b", testData(10))
	c := New(store, Options{BlockSize: 10})
	ctx := context.Background()
	a := objstore.ObjectID{Bucket: "bucket", Key: "a"}

	_, err := c.Get(ctx, a, 30, 0, 30)
	require.NoError(t, err)
	_, err = c.Get(ctx, objstore.ObjectID{Bucket: "bucket", Key: "b"}, 10, 0, 10)
	require.NoError(t, err)
	require.Equal(t, 4, c.Len())

	assert.Equal(t, 3, c.Purge(a))
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 0, c.Purge(a))
}

func TestCache_Metrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	store := memstore.New()
	store.Put(testID.Bucket, testID.Key, testData(40))
	c := New(store, Options{BlockSize: 10, Capacity: 2, Metrics: metrics})
	ctx := context.Background()

	_, err := c.Get(ctx, testID, 40, 0, 20) // 2 misses
	require.NoError(t, err)
	_, err = c.Get(ctx, testID, 40, 0, 10) // 1 hit
	require.NoError(t, err)
	_, err = c.Get(ctx, testID, 40, 30, 10) // 1 miss, 1 eviction
	require.NoError(t, err)

	assert.Equal(t, 1.0, counterValue(metrics.Hits))
	assert.Equal(t, 3.0, counterValue(metrics.Misses))
	assert.Equal(t, 3.0, counterValue(metrics.Fetches))
	assert.Equal(t, 0.0, counterValue(metrics.FetchErrors))
	assert.Equal(t, 1.0, counterValue(metrics.Evictions))
	assert.Equal(t, 30.0, counterValue(metrics.FetchedBytes))
	assert.Equal(t, 2.0, gaugeValue(metrics.Resident))

	families, err := registry.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "bucketfs_cache_hits_total")
	assert.Contains(t, names, "bucketfs_cache_resident_blocks")
}

func TestFetchError(t *testing.T) {
	cause := objstore.ErrRemoteUnavailable
	err := error(&FetchError{ID: testID, Index: 3, Err: cause})
	assert.Equal(t, "fetch block 3 of bucket/data.bin: remote store unavailable", err.Error())
	assert.ErrorIs(t, err, ErrFetchFailed)
	assert.ErrorIs(t, err, objstore.ErrRemoteUnavailable)
}
