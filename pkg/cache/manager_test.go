package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryStore is an in-process RemoteStore for manager tests. Setting
// failing makes every operation error, simulating a lost connection.
type memoryStore struct {
	mu       sync.Mutex
	data     map[string][]byte
	counters map[string]int64
	failing  bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		data:     make(map[string][]byte),
		counters: make(map[string]int64),
	}
}

func (s *memoryStore) setFailing(failing bool) {
	s.mu.Lock()
	s.failing = failing
	s.mu.Unlock()
}

func (s *memoryStore) err() error {
	if s.failing {
		return fmt.Errorf("store unreachable")
	}
	return nil
}

func (s *memoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.err(); err != nil {
		return nil, err
	}
	data, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

func (s *memoryStore) SetWithExpiry(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.err(); err != nil {
		return err
	}
	s.data[key] = value
	return nil
}

func (s *memoryStore) Delete(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.err(); err != nil {
		return false, err
	}
	_, ok := s.data[key]
	delete(s.data, key)
	return ok, nil
}

func (s *memoryStore) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.err(); err != nil {
		return 0, err
	}
	removed := 0
	for key := range s.data {
		if strings.HasPrefix(key, prefix) {
			delete(s.data, key)
			removed++
		}
	}
	return removed, nil
}

func (s *memoryStore) KeysMatching(ctx context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.err(); err != nil {
		return nil, err
	}
	prefix := strings.TrimSuffix(pattern, "*")
	var keys []string
	for key := range s.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (s *memoryStore) Increment(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.err(); err != nil {
		return 0, err
	}
	s.counters[key]++
	return s.counters[key], nil
}

func (s *memoryStore) Ping(ctx context.Context) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.err(); err != nil {
		return 0, err
	}
	return time.Millisecond, nil
}

func (s *memoryStore) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.failing
}

func (s *memoryStore) Close() error { return nil }

func (s *memoryStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

func newTestManager(t *testing.T, mutate func(*Config)) (*Manager, *memoryStore, *fakeClock) {
	t.Helper()

	cfg := DefaultConfig()
	cfg.SweepInterval = 0
	if mutate != nil {
		mutate(cfg)
	}

	store := newMemoryStore()
	m, err := NewManager(cfg, store, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	clock := newFakeClock()
	m.now = clock.Now
	m.local.now = clock.Now

	return m, store, clock
}

func TestNewManager_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LocalMaxEntries = -1

	_, err := NewManager(cfg, newMemoryStore(), nil, nil)
	assert.Error(t, err)
}

func TestNewManager_RequiresRemote(t *testing.T) {
	_, err := NewManager(DefaultConfig(), nil, nil, nil)
	assert.Error(t, err)
}

func TestManager_GetSetRoundTrip(t *testing.T) {
	m, store, _ := newTestManager(t, nil)
	ctx := context.Background()

	key := MakeKey("llm", "prompt-123", map[string]interface{}{"model": "gpt"})
	ok := m.Set(ctx, key, "a response", SetOptions{Namespace: "llm"})
	require.True(t, ok)

	var got string
	res := m.Get(ctx, key, &got)
	require.True(t, res.Found)
	assert.Equal(t, "a response", got)
	assert.Equal(t, "local", res.Tier)
	assert.Equal(t, Fresh, res.Freshness)

	// The envelope was also written through to the remote tier
	assert.Equal(t, 1, store.len())
}

func TestManager_MissOnUnknownKey(t *testing.T) {
	m, _, _ := newTestManager(t, nil)

	var got string
	res := m.Get(context.Background(), MakeKey("query", "nothing", nil), &got)
	assert.False(t, res.Found)

	stats := m.GetStats()
	assert.Equal(t, int64(0), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestManager_TTLExpiry(t *testing.T) {
	m, _, clock := newTestManager(t, nil)
	ctx := context.Background()

	key := MakeKey("llm", "prompt-123", nil)
	require.True(t, m.Set(ctx, key, "cached", SetOptions{
		Namespace:   "llm",
		TTL:         60 * time.Second,
		StaleWindow: NoStaleWindow,
	}))

	var got string
	require.True(t, m.Get(ctx, key, &got).Found)

	// One second past TTL with no stale window: gone from both tiers
	clock.Advance(61 * time.Second)
	res := m.Get(ctx, key, &got)
	assert.False(t, res.Found)

	stats := m.GetStats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestManager_StaleWindowServable(t *testing.T) {
	m, _, clock := newTestManager(t, nil)
	ctx := context.Background()

	key := MakeKey("query", "deals", nil)
	require.True(t, m.Set(ctx, key, "results", SetOptions{
		Namespace:   "query",
		TTL:         time.Second,
		StaleWindow: 10 * time.Second,
	}))

	clock.Advance(2 * time.Second)

	var got string
	res := m.Get(ctx, key, &got)
	require.True(t, res.Found)
	assert.Equal(t, Stale, res.Freshness)
	assert.Equal(t, "results", got)

	clock.Advance(10 * time.Second)
	assert.False(t, m.Get(ctx, key, &got).Found)
}

func TestManager_RemoteHitRepopulatesLocal(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	ctx := context.Background()

	key := MakeKey("session", "sess-1", nil)
	require.True(t, m.Set(ctx, key, "session data", SetOptions{Namespace: "session"}))

	// Simulate a fresh process: the local tier is empty, the shared
	// store still has the entry
	m.local.Clear()

	var got string
	res := m.Get(ctx, key, &got)
	require.True(t, res.Found)
	assert.Equal(t, "remote", res.Tier)
	assert.Equal(t, "session data", got)

	res = m.Get(ctx, key, &got)
	require.True(t, res.Found)
	assert.Equal(t, "local", res.Tier)
}

func TestManager_TagInvalidation(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	ctx := context.Background()

	keyA := MakeKey("query", "a", nil)
	keyB := MakeKey("query", "b", nil)
	require.True(t, m.Set(ctx, keyA, "A", SetOptions{Namespace: "query", Tags: []string{"t1"}}))
	require.True(t, m.Set(ctx, keyB, "B", SetOptions{Namespace: "query", Tags: []string{"t1", "t2"}}))

	removed := m.InvalidateByTags(ctx, []string{"t1"})
	assert.Equal(t, 2, removed)

	var got string
	assert.False(t, m.Get(ctx, keyA, &got).Found)
	assert.False(t, m.Get(ctx, keyB, &got).Found)

	// t2's only member was already removed via t1
	assert.Equal(t, 0, m.InvalidateByTags(ctx, []string{"t2"}))
	assert.Equal(t, 0, m.InvalidateByTags(ctx, []string{"unknown"}))
}

func TestManager_RemoteFailureDegrades(t *testing.T) {
	m, store, _ := newTestManager(t, nil)
	ctx := context.Background()
	store.setFailing(true)

	key := MakeKey("query", "deals", nil)

	// Write degrades to local-only and still reports success
	assert.True(t, m.Set(ctx, key, "results", SetOptions{Namespace: "query"}))

	var got string
	res := m.Get(ctx, key, &got)
	require.True(t, res.Found)
	assert.Equal(t, "local", res.Tier)

	// With the local tier cold too, reads degrade to plain misses
	m.local.Clear()
	assert.False(t, m.Get(ctx, key, &got).Found)

	stats := m.GetStats()
	assert.Greater(t, stats.Errors, int64(0))
}

func TestManager_UnserializableValue(t *testing.T) {
	m, _, _ := newTestManager(t, nil)

	ok := m.Set(context.Background(), MakeKey("query", "bad", nil), make(chan int), SetOptions{Namespace: "query"})
	assert.False(t, ok)
	assert.Equal(t, int64(1), m.GetStats().Errors)
}

func TestManager_SetIsIdempotent(t *testing.T) {
	m, store, _ := newTestManager(t, nil)
	ctx := context.Background()

	key := MakeKey("query", "deals", nil)
	require.True(t, m.Set(ctx, key, "v1", SetOptions{Namespace: "query"}))
	require.True(t, m.Set(ctx, key, "v2", SetOptions{Namespace: "query"}))

	var got string
	require.True(t, m.Get(ctx, key, &got).Found)
	assert.Equal(t, "v2", got)
	assert.Equal(t, 1, m.local.Len())
	assert.Equal(t, 1, store.len())
}

func TestManager_CompressionRoundTrip(t *testing.T) {
	m, _, _ := newTestManager(t, func(cfg *Config) {
		cfg.CompressionThreshold = 64
	})
	ctx := context.Background()

	large := strings.Repeat("dealmesh cache payload ", 100)
	key := MakeKey("llm", "big", nil)
	require.True(t, m.Set(ctx, key, large, SetOptions{Namespace: "llm"}))

	var got string
	require.True(t, m.Get(ctx, key, &got).Found)
	assert.Equal(t, large, got)

	stats := m.GetStats()
	assert.Equal(t, int64(1), stats.CompressionCount)
	assert.Greater(t, stats.CompressionSaved, int64(0))

	entry, _, ok := m.local.Get(key)
	require.True(t, ok)
	assert.True(t, entry.Compressed)
	assert.Less(t, len(entry.Payload), len(large))
}

func TestManager_DisableCompression(t *testing.T) {
	m, _, _ := newTestManager(t, func(cfg *Config) {
		cfg.CompressionThreshold = 64
	})
	ctx := context.Background()

	large := strings.Repeat("dealmesh cache payload ", 100)
	key := MakeKey("llm", "big", nil)
	require.True(t, m.Set(ctx, key, large, SetOptions{Namespace: "llm", DisableCompression: true}))

	entry, _, ok := m.local.Get(key)
	require.True(t, ok)
	assert.False(t, entry.Compressed)
	assert.Equal(t, int64(0), m.GetStats().CompressionCount)
}

func TestManager_Delete(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	ctx := context.Background()

	key := MakeKey("query", "deals", nil)
	require.True(t, m.Set(ctx, key, "v", SetOptions{Namespace: "query", Tags: []string{"t"}}))

	assert.True(t, m.Delete(ctx, key))
	assert.False(t, m.Delete(ctx, key))

	var got string
	assert.False(t, m.Get(ctx, key, &got).Found)
	assert.Equal(t, 0, m.InvalidateByTags(ctx, []string{"t"}))
}

func TestManager_ClearNamespace(t *testing.T) {
	m, store, _ := newTestManager(t, nil)
	ctx := context.Background()

	require.True(t, m.Set(ctx, MakeKey("query", "a", nil), "A", SetOptions{Namespace: "query"}))
	require.True(t, m.Set(ctx, MakeKey("query", "b", nil), "B", SetOptions{Namespace: "query"}))
	require.True(t, m.Set(ctx, MakeKey("session", "s", nil), "S", SetOptions{Namespace: "session"}))

	m.Clear(ctx, "query")

	assert.Equal(t, 1, m.local.Len())
	assert.Equal(t, 1, store.len())

	var got string
	assert.True(t, m.Get(ctx, MakeKey("session", "s", nil), &got).Found)
}

func TestManager_FullClearResetsStats(t *testing.T) {
	m, store, _ := newTestManager(t, nil)
	ctx := context.Background()

	key := MakeKey("query", "a", nil)
	require.True(t, m.Set(ctx, key, "A", SetOptions{Namespace: "query"}))

	var got string
	require.True(t, m.Get(ctx, key, &got).Found)

	m.Clear(ctx, "")

	assert.Equal(t, 0, m.local.Len())
	assert.Equal(t, 0, store.len())

	stats := m.GetStats()
	assert.Equal(t, int64(0), stats.Hits)
	assert.Equal(t, int64(0), stats.Sets)
}

func TestManager_ExactlyOnceAccounting(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	ctx := context.Background()

	key := MakeKey("query", "deals", nil)
	require.True(t, m.Set(ctx, key, "v", SetOptions{Namespace: "query"}))

	var got string
	for i := 0; i < 5; i++ {
		m.Get(ctx, key, &got)
	}
	for i := 0; i < 3; i++ {
		m.Get(ctx, MakeKey("query", fmt.Sprintf("missing-%d", i), nil), &got)
	}

	stats := m.GetStats()
	assert.Equal(t, int64(5), stats.Hits)
	assert.Equal(t, int64(3), stats.Misses)
	assert.InDelta(t, 0.625, stats.HitRate, 0.001)
}

func TestManager_EvictionCounting(t *testing.T) {
	m, _, _ := newTestManager(t, func(cfg *Config) {
		cfg.LocalMaxEntries = 2
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.True(t, m.Set(ctx, MakeKey("query", fmt.Sprintf("k%d", i), nil), i, SetOptions{Namespace: "query"}))
	}

	assert.Equal(t, int64(1), m.GetStats().Evictions)
	assert.Equal(t, 2, m.local.Len())
}

func TestManager_GetStatsSizes(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	ctx := context.Background()

	require.True(t, m.Set(ctx, MakeKey("query", "a", nil), "payload", SetOptions{Namespace: "query"}))

	stats := m.GetStats()
	assert.Equal(t, 1, stats.KeyCount)
	assert.Greater(t, stats.MemoryEstimate, int64(0))
}

func TestManager_TypedHelpers(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	ctx := context.Background()

	type result struct {
		Name  string  `json:"name"`
		Price float64 `json:"price"`
	}

	key := MakeKey("query", "typed", nil)
	require.True(t, SetTyped(ctx, m, key, result{Name: "widget", Price: 9.99}, SetOptions{Namespace: "query"}))

	got, ok := GetTyped[result](ctx, m, key)
	require.True(t, ok)
	assert.Equal(t, "widget", got.Name)
	assert.InDelta(t, 9.99, got.Price, 0.001)

	_, ok = GetTyped[result](ctx, m, MakeKey("query", "absent", nil))
	assert.False(t, ok)
}

func TestManager_TopEntries(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	ctx := context.Background()

	hot := MakeKey("query", "hot", nil)
	cold := MakeKey("query", "cold", nil)
	require.True(t, m.Set(ctx, hot, "H", SetOptions{Namespace: "query"}))
	require.True(t, m.Set(ctx, cold, "C", SetOptions{Namespace: "query"}))

	var got string
	for i := 0; i < 4; i++ {
		m.Get(ctx, hot, &got)
	}
	m.Get(ctx, cold, &got)

	top := m.TopEntries(1)
	require.Len(t, top, 1)
	assert.Equal(t, hot, top[0].Key)
}
