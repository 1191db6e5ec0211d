// Package cache keeps recently fetched chunks resident between queries. A
// query hands its FetchInfoSet to Acquire and receives a Block: a scoped
// lease guaranteeing every requested chunk stays resident until release.
// Eviction is LRU by chunk size; duplicate requests for the same chunk
// coalesce into a single backend fetch.
package cache

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/hupe1980/cloudtree/tree"
)

// ErrExhausted is returned when the byte budget cannot hold a requested
// FetchInfoSet even after evicting everything unpinned.
var ErrExhausted = errors.New("cache budget exhausted")

// Value is a cacheable item; chunks implement it.
type Value interface {
	SizeBytes() int64
}

// FetchInfo identifies one chunk to load.
type FetchInfo struct {
	Depth uint64
	ID    tree.Id
	BBox  tree.BBox
}

// Key returns the cache key, the chunk id in base 10.
func (f FetchInfo) Key() string { return f.ID.String() }

// FetchInfoSet is a deduplicated set of chunks to load.
type FetchInfoSet map[string]FetchInfo

// NewFetchInfoSet creates an empty set.
func NewFetchInfoSet() FetchInfoSet { return make(FetchInfoSet) }

// Add inserts an info, deduplicating by key.
func (s FetchInfoSet) Add(info FetchInfo) { s[info.Key()] = info }

// Keys returns the chunk keys in ascending order.
func (s FetchInfoSet) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FetchFunc loads one chunk from the backend.
type FetchFunc func(ctx context.Context, info FetchInfo) (Value, error)

// Config tunes a Cache.
type Config struct {
	// MaxBytes is the resident budget. <= 0 selects a 512 MiB default.
	MaxBytes int64
	// FetchConcurrency bounds parallel backend fetches per Acquire.
	// <= 0 selects 16.
	FetchConcurrency int
	// Limiter optionally rate-limits backend fetches across all queries.
	Limiter *rate.Limiter
}

const defaultMaxBytes = 512 << 20

// Cache is safe for concurrent Acquire from multiple queries.
type Cache struct {
	maxBytes   int64
	fetchLimit int
	limiter    *rate.Limiter

	group singleflight.Group

	mu      sync.Mutex
	entries map[string]*entry
	// evictList holds unpinned entries, most recently used in front.
	evictList *list.List
	used      int64

	hits, misses int64
}

type entry struct {
	key   string
	value Value
	size  int64
	refs  int
	elem  *list.Element
}

// New creates a cache.
func New(cfg Config) *Cache {
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	fetchLimit := cfg.FetchConcurrency
	if fetchLimit <= 0 {
		fetchLimit = 16
	}
	return &Cache{
		maxBytes:   maxBytes,
		fetchLimit: fetchLimit,
		limiter:    cfg.Limiter,
		entries:    make(map[string]*entry),
		evictList:  list.New(),
	}
}

// Acquire pins every chunk in infos, fetching the missing ones in parallel,
// and returns the lease. On failure nothing stays pinned.
func (c *Cache) Acquire(ctx context.Context, fetch FetchFunc, infos FetchInfoSet) (*Block, error) {
	block := &Block{c: c, values: make(map[string]Value, len(infos))}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.fetchLimit)

	var blockMu sync.Mutex
	for _, key := range infos.Keys() {
		info := infos[key]
		g.Go(func() error {
			v, err := c.acquireOne(gctx, fetch, info)
			if err != nil {
				return err
			}
			blockMu.Lock()
			block.values[info.Key()] = v
			blockMu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		// Unpin whatever made it in before the failure.
		c.mu.Lock()
		for key := range block.values {
			if e, ok := c.entries[key]; ok {
				c.unpinLocked(e)
			}
		}
		c.mu.Unlock()
		return nil, err
	}
	return block, nil
}

func (c *Cache) acquireOne(ctx context.Context, fetch FetchFunc, info FetchInfo) (Value, error) {
	key := info.Key()

	for {
		c.mu.Lock()
		if e, ok := c.entries[key]; ok {
			c.pinLocked(e)
			c.hits++
			c.mu.Unlock()
			return e.value, nil
		}
		c.misses++
		c.mu.Unlock()

		// At most one in-flight fetch per chunk id; concurrent callers
		// share the result and pin it from the map on the next pass.
		_, err, _ := c.group.Do(key, func() (any, error) {
			if c.limiter != nil {
				if err := c.limiter.Wait(ctx); err != nil {
					return nil, err
				}
			}
			v, err := fetch(ctx, info)
			if err != nil {
				return nil, err
			}
			return v, c.insert(key, v)
		})
		if err != nil {
			return nil, err
		}
	}
}

// insert adds a fetched value unpinned, evicting from the LRU tail until it
// fits the budget.
func (c *Cache) insert(key string, v Value) error {
	size := v.SizeBytes()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		return nil
	}

	for c.used+size > c.maxBytes {
		tail := c.evictList.Back()
		if tail == nil {
			return fmt.Errorf("%w: %d bytes requested, %d pinned, budget %d",
				ErrExhausted, size, c.used, c.maxBytes)
		}
		c.removeLocked(tail.Value.(*entry))
	}

	e := &entry{key: key, value: v, size: size}
	e.elem = c.evictList.PushFront(e)
	c.entries[key] = e
	c.used += size
	return nil
}

func (c *Cache) pinLocked(e *entry) {
	e.refs++
	if e.elem != nil {
		c.evictList.Remove(e.elem)
		e.elem = nil
	}
}

func (c *Cache) unpinLocked(e *entry) {
	e.refs--
	if e.refs <= 0 {
		e.refs = 0
		e.elem = c.evictList.PushFront(e)
	}
}

func (c *Cache) removeLocked(e *entry) {
	if e.elem != nil {
		c.evictList.Remove(e.elem)
	}
	delete(c.entries, e.key)
	c.used -= e.size
}

// Used returns the resident byte count.
func (c *Cache) Used() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}

// Stats returns cumulative hit and miss counts.
func (c *Cache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Block is a scoped lease over a set of chunks. While alive, every chunk it
// references stays resident. Release returns them for possible eviction;
// it is idempotent.
type Block struct {
	c        *Cache
	values   map[string]Value
	released bool
	mu       sync.Mutex
}

// Get returns a leased chunk by key.
func (b *Block) Get(key string) (Value, bool) {
	v, ok := b.values[key]
	return v, ok
}

// Keys returns the leased chunk keys in ascending order.
func (b *Block) Keys() []string {
	keys := make([]string, 0, len(b.values))
	for k := range b.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of leased chunks.
func (b *Block) Len() int { return len(b.values) }

// Release unpins every leased chunk.
func (b *Block) Release() {
	b.mu.Lock()
	if b.released {
		b.mu.Unlock()
		return
	}
	b.released = true
	b.mu.Unlock()

	b.c.mu.Lock()
	defer b.c.mu.Unlock()
	for key := range b.values {
		if e, ok := b.c.entries[key]; ok {
			b.c.unpinLocked(e)
		}
	}
}
