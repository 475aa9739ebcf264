package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock provides a settable time source for expiry tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func testEntry(namespace string, ttl, stale time.Duration, createdAt time.Time) *Entry {
	return &Entry{
		Payload:     []byte(`"value"`),
		CreatedAt:   createdAt,
		TTL:         ttl,
		StaleWindow: stale,
		Namespace:   namespace,
	}
}

func TestLocalTierCache_GetSet(t *testing.T) {
	c, err := NewLocalTierCache(10, nil)
	require.NoError(t, err)

	clock := newFakeClock()
	c.now = clock.Now

	c.Set("k1", testEntry("query", time.Minute, 0, clock.Now()))

	entry, freshness, ok := c.Get("k1")
	require.True(t, ok)
	assert.Equal(t, Fresh, freshness)
	assert.Equal(t, "query", entry.Namespace)
	assert.Equal(t, clock.Now(), entry.LastAccessed)

	_, _, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestLocalTierCache_InvalidCapacity(t *testing.T) {
	_, err := NewLocalTierCache(0, nil)
	assert.Error(t, err)
}

func TestLocalTierCache_FreshStaleExpired(t *testing.T) {
	c, err := NewLocalTierCache(10, nil)
	require.NoError(t, err)

	clock := newFakeClock()
	c.now = clock.Now

	c.Set("k", testEntry("query", time.Second, 2*time.Second, clock.Now()))

	_, freshness, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, Fresh, freshness)

	// Past TTL, inside the stale window: still servable
	clock.Advance(1500 * time.Millisecond)
	_, freshness, ok = c.Get("k")
	require.True(t, ok)
	assert.Equal(t, Stale, freshness)

	// Past TTL + stale window: miss, physically removed
	clock.Advance(2 * time.Second)
	_, _, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestLocalTierCache_LRUEviction(t *testing.T) {
	var evicted []string
	c, err := NewLocalTierCache(2, func(key string, entry *Entry, reason EvictionReason) {
		assert.Equal(t, EvictCapacity, reason)
		evicted = append(evicted, key)
	})
	require.NoError(t, err)

	clock := newFakeClock()
	c.now = clock.Now

	c.Set("A", testEntry("query", time.Hour, 0, clock.Now()))
	c.Set("B", testEntry("query", time.Hour, 0, clock.Now()))

	// Touch A so B becomes least recently used
	_, _, ok := c.Get("A")
	require.True(t, ok)

	c.Set("C", testEntry("query", time.Hour, 0, clock.Now()))

	assert.Equal(t, []string{"B"}, evicted)
	_, _, okA := c.Get("A")
	_, _, okB := c.Get("B")
	_, _, okC := c.Get("C")
	assert.True(t, okA)
	assert.False(t, okB)
	assert.True(t, okC)
}

func TestLocalTierCache_ExpiryReason(t *testing.T) {
	var reasons []EvictionReason
	c, err := NewLocalTierCache(10, func(key string, entry *Entry, reason EvictionReason) {
		reasons = append(reasons, reason)
	})
	require.NoError(t, err)

	clock := newFakeClock()
	c.now = clock.Now

	c.Set("k", testEntry("query", time.Second, 0, clock.Now()))
	clock.Advance(2 * time.Second)

	_, _, ok := c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, []EvictionReason{EvictExpired}, reasons)
}

func TestLocalTierCache_DeleteDoesNotInvokeCallback(t *testing.T) {
	callbacks := 0
	c, err := NewLocalTierCache(10, func(key string, entry *Entry, reason EvictionReason) {
		callbacks++
	})
	require.NoError(t, err)

	c.Set("k", testEntry("query", time.Hour, 0, time.Now()))
	assert.True(t, c.Delete("k"))
	assert.False(t, c.Delete("k"))

	c.Set("k2", testEntry("query", time.Hour, 0, time.Now()))
	c.Clear()
	assert.Equal(t, 0, c.Len())

	assert.Zero(t, callbacks)
}

func TestLocalTierCache_ClearNamespace(t *testing.T) {
	c, err := NewLocalTierCache(10, nil)
	require.NoError(t, err)

	c.Set("q1", testEntry("query", time.Hour, 0, time.Now()))
	c.Set("q2", testEntry("query", time.Hour, 0, time.Now()))
	c.Set("s1", testEntry("session", time.Hour, 0, time.Now()))

	removed := c.ClearNamespace("query")
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, c.Len())

	_, _, ok := c.Get("s1")
	assert.True(t, ok)
}

func TestLocalTierCache_EntriesSnapshot(t *testing.T) {
	c, err := NewLocalTierCache(10, nil)
	require.NoError(t, err)

	clock := newFakeClock()
	c.now = clock.Now

	c.Set("live", testEntry("query", time.Hour, 0, clock.Now()))
	c.Set("dying", testEntry("query", time.Second, 0, clock.Now()))

	clock.Advance(2 * time.Second)

	entries := c.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "live", entries[0].Key)

	// The expired entry was purged during the walk
	assert.Equal(t, 1, c.Len())
}

func TestLocalTierCache_TopEntries(t *testing.T) {
	c, err := NewLocalTierCache(10, nil)
	require.NoError(t, err)

	for i, hits := range []int64{5, 1, 9, 3} {
		e := testEntry("query", time.Hour, 0, time.Now())
		e.HitCount = hits
		c.Set(fmt.Sprintf("k%d", i), e)
	}

	top := c.TopEntries(2)
	require.Len(t, top, 2)
	assert.Equal(t, int64(9), top[0].Entry.HitCount)
	assert.Equal(t, int64(5), top[1].Entry.HitCount)
}

func TestLocalTierCache_Sweeper(t *testing.T) {
	c, err := NewLocalTierCache(10, nil)
	require.NoError(t, err)

	clock := newFakeClock()
	c.now = clock.Now

	c.Set("k", testEntry("query", time.Second, 0, clock.Now()))
	clock.Advance(2 * time.Second)

	c.StartSweeper(10 * time.Millisecond)
	// Start is idempotent
	c.StartSweeper(10 * time.Millisecond)

	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)

	c.StopSweeper()
	c.StopSweeper()
}

func TestLocalTierCache_ConcurrentAccess(t *testing.T) {
	c, err := NewLocalTierCache(100, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := fmt.Sprintf("k%d", j%150)
				if j%3 == 0 {
					c.Set(key, testEntry("query", time.Hour, 0, time.Now()))
				} else {
					c.Get(key)
				}
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 100)
}
