package cache

import (
	"container/heap"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// EvictionReason tells the eviction callback why an entry left the
// local tier.
type EvictionReason int

const (
	// EvictCapacity means the LRU was full and this was the least
	// recently used entry.
	EvictCapacity EvictionReason = iota
	// EvictExpired means the entry aged past TTL plus the stale window.
	EvictExpired
)

// EvictionCallback is invoked when the local tier drops an entry on its
// own (capacity pressure or expiry). It is not invoked for explicit
// Delete/Clear calls. The callback runs while the tier's lock is held
// and must not call back into the tier.
type EvictionCallback func(key string, entry *Entry, reason EvictionReason)

// KeyedEntry pairs a cache key with its entry for diagnostics.
type KeyedEntry struct {
	Key   string
	Entry *Entry
}

// LocalTierCache is the bounded, process-local cache tier. Reads update
// recency order and capacity pressure evicts the least recently used
// entry, so all access is serialized on an internal mutex. A full cache
// never fails, it evicts.
type LocalTierCache struct {
	mu       sync.Mutex
	lru      *lru.Cache[string, *Entry]
	capacity int
	onEvict  EvictionCallback

	// reason is consulted by the LRU's eviction hook; suppress turns
	// the hook off during explicit removes.
	reason   EvictionReason
	suppress bool

	now func() time.Time

	sweepStop chan struct{}
	sweepWG   sync.WaitGroup
	sweeping  bool
}

// NewLocalTierCache creates a local tier bounded to capacity entries.
func NewLocalTierCache(capacity int, onEvict EvictionCallback) (*LocalTierCache, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("local tier capacity must be positive, got %d", capacity)
	}

	c := &LocalTierCache{
		capacity: capacity,
		onEvict:  onEvict,
		reason:   EvictCapacity,
		now:      time.Now,
	}

	inner, err := lru.NewWithEvict[string, *Entry](capacity, func(key string, entry *Entry) {
		if c.suppress || c.onEvict == nil {
			return
		}
		c.onEvict(key, entry, c.reason)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU: %w", err)
	}
	c.lru = inner

	return c, nil
}

// Get returns the entry for key together with its freshness. Expired
// entries are purged and reported as a miss. Hit/miss accounting is the
// caller's responsibility; the tier only maintains recency metadata.
func (c *LocalTierCache) Get(key string) (*Entry, Freshness, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lru.Get(key)
	if !ok {
		return nil, Expired, false
	}

	freshness := entry.FreshnessAt(c.now())
	if freshness == Expired {
		c.removeLocked(key, EvictExpired)
		return nil, Expired, false
	}

	entry.LastAccessed = c.now()
	return entry, freshness, true
}

// Set inserts or replaces an entry. If the cache is at capacity the
// least recently used entry is evicted first, invoking the eviction
// callback.
func (c *LocalTierCache) Set(key string, entry *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry.LastAccessed.IsZero() {
		entry.LastAccessed = c.now()
	}
	c.lru.Add(key, entry)
}

// Delete removes an entry without invoking the eviction callback.
func (c *LocalTierCache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.suppress = true
	ok := c.lru.Remove(key)
	c.suppress = false
	return ok
}

// Clear empties the tier without invoking the eviction callback.
func (c *LocalTierCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.suppress = true
	c.lru.Purge()
	c.suppress = false
}

// ClearNamespace removes all entries belonging to the given namespace
// and returns how many were removed.
func (c *LocalTierCache) ClearNamespace(namespace string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, key := range c.lru.Keys() {
		entry, ok := c.lru.Peek(key)
		if !ok || entry.Namespace != namespace {
			continue
		}
		c.suppress = true
		c.lru.Remove(key)
		c.suppress = false
		removed++
	}
	return removed
}

// Entries returns a fresh snapshot of all live entries. Expired entries
// encountered during the walk are purged rather than returned. Peek is
// used so diagnostics do not disturb recency order.
func (c *LocalTierCache) Entries() []KeyedEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := c.lru.Keys()
	snapshot := make([]KeyedEntry, 0, len(keys))
	for _, key := range keys {
		entry, ok := c.lru.Peek(key)
		if !ok {
			continue
		}
		if entry.FreshnessAt(c.now()) == Expired {
			c.removeLocked(key, EvictExpired)
			continue
		}
		snapshot = append(snapshot, KeyedEntry{Key: key, Entry: entry})
	}
	return snapshot
}

// Len returns the number of entries currently held, including entries
// that may have expired but not yet been purged.
func (c *LocalTierCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Capacity returns the configured maximum entry count.
func (c *LocalTierCache) Capacity() int {
	return c.capacity
}

// TopEntries returns up to n live entries with the highest hit counts,
// in descending order.
func (c *LocalTierCache) TopEntries(n int) []KeyedEntry {
	entries := c.Entries()

	h := &entryHeap{}
	heap.Init(h)
	for i := range entries {
		if h.Len() < n {
			heap.Push(h, entries[i])
		} else if h.Len() > 0 && entries[i].Entry.HitCount > (*h)[0].Entry.HitCount {
			heap.Pop(h)
			heap.Push(h, entries[i])
		}
	}

	results := make([]KeyedEntry, h.Len())
	for i := len(results) - 1; i >= 0; i-- {
		results[i] = heap.Pop(h).(KeyedEntry)
	}
	return results
}

// StartSweeper launches a background loop that purges entries past
// TTL plus the stale window. The sweep bounds memory held by entries
// nobody reads again; it does not change Get semantics, which already
// treat such entries as misses.
func (c *LocalTierCache) StartSweeper(interval time.Duration) {
	c.mu.Lock()
	if c.sweeping {
		c.mu.Unlock()
		return
	}
	c.sweeping = true
	c.sweepStop = make(chan struct{})
	c.mu.Unlock()

	c.sweepWG.Add(1)
	go func() {
		defer c.sweepWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.sweep()
			case <-c.sweepStop:
				return
			}
		}
	}()
}

// StopSweeper stops the background sweep loop. Safe to call when the
// sweeper is not running.
func (c *LocalTierCache) StopSweeper() {
	c.mu.Lock()
	if !c.sweeping {
		c.mu.Unlock()
		return
	}
	c.sweeping = false
	close(c.sweepStop)
	c.mu.Unlock()

	c.sweepWG.Wait()
}

func (c *LocalTierCache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range c.lru.Keys() {
		entry, ok := c.lru.Peek(key)
		if !ok {
			continue
		}
		if entry.FreshnessAt(c.now()) == Expired {
			c.removeLocked(key, EvictExpired)
		}
	}
}

// removeLocked removes a key with the given eviction reason reported to
// the callback. Caller must hold c.mu.
func (c *LocalTierCache) removeLocked(key string, reason EvictionReason) {
	c.reason = reason
	c.lru.Remove(key)
	c.reason = EvictCapacity
}

// Min heap over hit counts for top-K selection.
type entryHeap []KeyedEntry

func (h entryHeap) Len() int           { return len(h) }
func (h entryHeap) Less(i, j int) bool { return h[i].Entry.HitCount < h[j].Entry.HitCount }
func (h entryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x interface{}) {
	*h = append(*h, x.(KeyedEntry))
}

func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}
