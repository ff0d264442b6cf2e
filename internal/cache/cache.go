// Package cache is the bounded-memory store of decoded audio assets.
//
// Recency is maintained incrementally in an intrusive list keyed by entry
// identity: a hit is an O(1) move-to-front, and listing resident files is
// a single pass with one allocation, never a collect-and-sort. The budget
// is enforced synchronously on every insert: an asset only becomes
// resident after eviction has made room for it.
package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// LoadFunc decodes an asset. Runs on a bounded worker pool, never on the
// render thread.
type LoadFunc func(key string) (*Asset, error)

// entry wraps a resident asset with its recency bookkeeping. lastAccess is
// a monotonic tick, not wall clock, and is non-decreasing per entry.
type entry struct {
	asset      *Asset
	elem       *list.Element
	lastAccess uint64
	seq        uint64 // insertion order, breaks final eviction ties
	refs       int
	doomed     bool // unloaded while pinned; removed on last release
}

// Cache is the audio asset cache. Control threads use the regular mutex;
// the render thread only ever uses the TryTouch try-lock path and the
// handles' atomic asset pointers.
type Cache struct {
	mu    sync.Mutex
	ll    *list.List // front = most recently used
	items map[string]*entry

	budget int64
	bytes  int64
	seq    uint64

	tick      atomic.Uint64
	evictions atomic.Uint64
	hits      atomic.Uint64
	misses    atomic.Uint64
	contended atomic.Uint64

	load   LoadFunc
	flight singleflight.Group
	sem    *semaphore.Weighted

	logger *log.Logger
}

// New creates a cache with the given byte budget. workers bounds how many
// decodes run concurrently.
func New(budget int64, workers int, load LoadFunc, logger *log.Logger) *Cache {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Cache{
		ll:     list.New(),
		items:  make(map[string]*entry),
		budget: budget,
		load:   load,
		sem:    semaphore.NewWeighted(int64(workers)),
		logger: logger,
	}
}

// GetOrLoad returns a pinned handle for key. On a hit the handle is
// already resolved and the entry's recency is bumped in O(1). On a miss a
// pending handle is returned and a decode is scheduled; concurrent misses
// for the same key share one decode.
func (c *Cache) GetOrLoad(key string) *Handle {
	h := newHandle(key)

	c.mu.Lock()
	if e, ok := c.items[key]; ok && !e.doomed {
		c.touchLocked(e)
		e.refs++
		c.mu.Unlock()
		c.hits.Add(1)
		h.resolve(e.asset, e)
		return h
	}
	c.mu.Unlock()
	c.misses.Add(1)

	go c.loadInto(h, key)
	return h
}

// loadInto performs (or joins) the decode for key and resolves h.
func (c *Cache) loadInto(h *Handle, key string) {
	v, err, _ := c.flight.Do(key, func() (interface{}, error) {
		if err := c.sem.Acquire(context.Background(), 1); err != nil {
			return nil, err
		}
		defer c.sem.Release(1)

		asset, err := c.load(key)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
		}

		c.mu.Lock()
		err = c.insertLocked(key, asset)
		c.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return asset, nil
	})
	if err != nil {
		c.logger.Warn("asset load failed", "key", key, "err", err)
		h.fail(err)
		return
	}

	asset := v.(*Asset)

	// Pin the freshly resident entry. A tiny budget may already have
	// evicted it; the handle still resolves (the asset is playable, it
	// just is not resident) and Release becomes a no-op.
	c.mu.Lock()
	e := c.items[key]
	if e != nil && e.asset == asset {
		e.refs++
	} else {
		e = nil
	}
	c.mu.Unlock()

	h.resolve(asset, e)
}

// insertLocked admits an asset, enforcing the budget first. The asset is
// only counted resident if enforcement succeeds; a failed insert leaves
// the cache exactly as it was.
func (c *Cache) insertLocked(key string, asset *Asset) error {
	size := asset.SizeBytes()
	if err := c.enforceBudgetLocked(size); err != nil {
		return err
	}

	if old, ok := c.items[key]; ok {
		// Raced with another path re-admitting the key; replace only if
		// unpinned, otherwise keep the pinned asset authoritative.
		if old.refs > 0 {
			return nil
		}
		c.removeLocked(old)
	}

	c.seq++
	e := &entry{
		asset:      asset,
		lastAccess: c.tick.Add(1),
		seq:        c.seq,
	}
	e.elem = c.ll.PushFront(e)
	c.items[key] = e
	c.bytes += size

	c.logger.Debug("asset cached", "key", key, "bytes", size, "resident", c.bytes)
	return nil
}

// enforceBudgetLocked evicts least-recently-used unpinned entries until
// incoming fits. Among entries sharing the oldest access tick the largest
// is evicted first; equal sizes fall back to insertion order.
func (c *Cache) enforceBudgetLocked(incoming int64) error {
	for c.bytes+incoming > c.budget {
		if !c.evictOneLocked() {
			return ErrExhausted
		}
	}
	return nil
}

func (c *Cache) evictOneLocked() bool {
	// Walk from the LRU end, skipping pinned entries. The first unpinned
	// entry fixes the candidate tick; keep scanning while entries share
	// that tick to apply the size tie-break.
	var victim *entry
	for el := c.ll.Back(); el != nil; el = el.Prev() {
		e := el.Value.(*entry)
		if e.refs > 0 {
			continue
		}
		if victim == nil {
			victim = e
			continue
		}
		if e.lastAccess != victim.lastAccess {
			break
		}
		if e.asset.SizeBytes() > victim.asset.SizeBytes() ||
			(e.asset.SizeBytes() == victim.asset.SizeBytes() && e.seq < victim.seq) {
			victim = e
		}
	}
	if victim == nil {
		return false
	}
	c.removeLocked(victim)
	c.evictions.Add(1)
	c.logger.Debug("asset evicted", "key", victim.asset.Key, "bytes", victim.asset.SizeBytes())
	return true
}

func (c *Cache) removeLocked(e *entry) {
	c.ll.Remove(e.elem)
	delete(c.items, e.asset.Key)
	c.bytes -= e.asset.SizeBytes()
}

func (c *Cache) touchLocked(e *entry) {
	e.lastAccess = c.tick.Add(1)
	c.ll.MoveToFront(e.elem)
}

// TryTouch bumps a handle's entry recency from the render thread. It never
// blocks: on lock contention the touch is skipped and counted, and the
// render loop retries on a later block.
func (c *Cache) TryTouch(h *Handle) bool {
	e := h.entry.Load()
	if e == nil {
		return false
	}
	if !c.mu.TryLock() {
		c.contended.Add(1)
		return false
	}
	if _, ok := c.items[h.key]; ok {
		c.touchLocked(e)
	}
	c.mu.Unlock()
	return true
}

// Release drops the handle's pin. Memory is not freed here, since
// eviction is decided by budget enforcement; the exception is entries
// doomed by Unload, which disappear once the last pin drops. Blocks until
// the handle has resolved; control threads only.
func (c *Cache) Release(h *Handle) {
	<-h.done
	e := h.entry.Swap(nil)
	if e == nil {
		return
	}
	c.mu.Lock()
	e.refs--
	if e.refs == 0 && e.doomed {
		c.removeLocked(e)
	}
	c.mu.Unlock()
}

// Unload removes key from the cache. A pinned entry is doomed instead and
// removed when its last handle is released.
func (c *Cache) Unload(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	if !ok {
		return fmt.Errorf("unload %q: %w", key, ErrNotFound)
	}
	if e.refs > 0 {
		e.doomed = true
		return nil
	}
	c.removeLocked(e)
	return nil
}

// Contains reports whether key is resident, without touching recency.
func (c *Cache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key]
	return ok
}

// Files lists resident entries most-recently-used first. One pass, one
// allocation, no key cloning or sorting. Non-RT threads only.
func (c *Cache) Files() []FileInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]FileInfo, 0, c.ll.Len())
	for el := c.ll.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		out = append(out, FileInfo{
			Key:    e.asset.Key,
			Bytes:  e.asset.SizeBytes(),
			Pinned: e.refs > 0,
		})
	}
	return out
}

// Stats returns current usage counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	bytes := c.bytes
	entries := len(c.items)
	c.mu.Unlock()
	return Stats{
		BytesUsed:        bytes,
		Budget:           c.budget,
		Entries:          entries,
		Evictions:        c.evictions.Load(),
		Hits:             c.hits.Load(),
		Misses:           c.misses.Load(),
		ContendedTouches: c.contended.Load(),
	}
}
