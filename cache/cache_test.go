package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/cloudtree/tree"
)

type testValue struct {
	key  string
	size int64
}

func (v *testValue) SizeBytes() int64 { return v.size }

func info(id uint64) FetchInfo {
	return FetchInfo{ID: tree.NewId(id)}
}

func set(ids ...uint64) FetchInfoSet {
	s := NewFetchInfoSet()
	for _, id := range ids {
		s.Add(info(id))
	}
	return s
}

func fetcher(size int64, fetches *atomic.Int64) FetchFunc {
	return func(_ context.Context, f FetchInfo) (Value, error) {
		if fetches != nil {
			fetches.Add(1)
		}
		return &testValue{key: f.Key(), size: size}, nil
	}
}

func TestCache_AcquireRelease(t *testing.T) {
	ctx := context.Background()
	c := New(Config{MaxBytes: 100})

	var fetches atomic.Int64
	block, err := c.Acquire(ctx, fetcher(20, &fetches), set(1, 2))
	require.NoError(t, err)
	assert.Equal(t, 2, block.Len())
	assert.Equal(t, int64(2), fetches.Load())
	assert.Equal(t, int64(40), c.Used())

	v, ok := block.Get("1")
	require.True(t, ok)
	assert.Equal(t, "1", v.(*testValue).key)

	// A second acquire of the same set is served from cache.
	again, err := c.Acquire(ctx, fetcher(20, &fetches), set(1, 2))
	require.NoError(t, err)
	assert.Equal(t, int64(2), fetches.Load())

	block.Release()
	block.Release() // idempotent
	again.Release()
	assert.Equal(t, int64(40), c.Used(), "released chunks stay resident until evicted")
}

func TestCache_LRUEviction(t *testing.T) {
	ctx := context.Background()
	c := New(Config{MaxBytes: 50})

	var fetches atomic.Int64
	b1, err := c.Acquire(ctx, fetcher(20, &fetches), set(1))
	require.NoError(t, err)
	b1.Release()

	b2, err := c.Acquire(ctx, fetcher(20, &fetches), set(2))
	require.NoError(t, err)
	b2.Release()

	// Re-touch chunk 1 so chunk 2 is the eviction candidate.
	b1, err = c.Acquire(ctx, fetcher(20, &fetches), set(1))
	require.NoError(t, err)
	b1.Release()
	require.Equal(t, int64(2), fetches.Load())

	// Fetching chunk 3 must evict chunk 2 (LRU), not chunk 1.
	b3, err := c.Acquire(ctx, fetcher(20, &fetches), set(3))
	require.NoError(t, err)
	b3.Release()
	assert.Equal(t, int64(3), fetches.Load())

	b1, err = c.Acquire(ctx, fetcher(20, &fetches), set(1))
	require.NoError(t, err)
	b1.Release()
	assert.Equal(t, int64(3), fetches.Load(), "chunk 1 should still be resident")

	b2, err = c.Acquire(ctx, fetcher(20, &fetches), set(2))
	require.NoError(t, err)
	b2.Release()
	assert.Equal(t, int64(4), fetches.Load(), "chunk 2 was evicted and re-fetched")
}

func TestCache_Exhausted(t *testing.T) {
	ctx := context.Background()
	c := New(Config{MaxBytes: 50})

	// A set whose pinned total exceeds the budget cannot be honored.
	_, err := c.Acquire(ctx, fetcher(30, nil), set(1, 2))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhausted)

	// Nothing stays pinned, so a within-budget acquire still works.
	b, err := c.Acquire(ctx, fetcher(30, nil), set(3))
	require.NoError(t, err)
	b.Release()
}

func TestCache_SingleFlight(t *testing.T) {
	ctx := context.Background()
	c := New(Config{MaxBytes: 1 << 20})

	var fetches atomic.Int64
	slowFetch := func(_ context.Context, f FetchInfo) (Value, error) {
		fetches.Add(1)
		time.Sleep(20 * time.Millisecond)
		return &testValue{key: f.Key(), size: 10}, nil
	}

	const callers = 8
	var wg sync.WaitGroup
	blocks := make([]*Block, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			blocks[i], errs[i] = c.Acquire(ctx, slowFetch, set(7))
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		blocks[i].Release()
	}
	assert.Equal(t, int64(1), fetches.Load(), "duplicate in-flight fetches must coalesce")
}

func TestCache_FetchError(t *testing.T) {
	ctx := context.Background()
	c := New(Config{MaxBytes: 100})

	boom := errors.New("backend down")
	failing := func(_ context.Context, f FetchInfo) (Value, error) {
		if f.Key() == "2" {
			return nil, boom
		}
		return &testValue{key: f.Key(), size: 10}, nil
	}

	_, err := c.Acquire(ctx, failing, set(1, 2, 3))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	// The successful fetches are unpinned and evictable; a retry without
	// the bad chunk succeeds.
	b, err := c.Acquire(ctx, failing, set(1, 3))
	require.NoError(t, err)
	assert.Equal(t, 2, b.Len())
	b.Release()
}

func TestCache_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := New(Config{MaxBytes: 100})

	started := make(chan struct{})
	blocking := func(fctx context.Context, f FetchInfo) (Value, error) {
		close(started)
		<-fctx.Done()
		return nil, fctx.Err()
	}

	done := make(chan error, 1)
	go func() {
		_, err := c.Acquire(ctx, blocking, set(1))
		done <- err
	}()

	<-started
	cancel()
	err := <-done
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFetchInfoSet(t *testing.T) {
	s := NewFetchInfoSet()
	s.Add(info(10))
	s.Add(info(2))
	s.Add(info(10)) // duplicate

	assert.Len(t, s, 2)
	assert.Equal(t, []string{"10", "2"}, s.Keys())
}
