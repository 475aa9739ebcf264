package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dealmesh/dealmesh/pkg/observability"
)

// remoteKeyPrefix namespaces every cache key in the shared store so
// nothing else writing to the same store can collide with us. No other
// component may write under this prefix.
const remoteKeyPrefix = "dealmesh:cache:"

// NoStaleWindow disables the stale-while-revalidate window for a single
// Set, overriding the namespace policy.
const NoStaleWindow = time.Duration(-1)

// SetOptions control a single Set operation. Zero values fall back to
// the namespace policy.
type SetOptions struct {
	Namespace   string
	TTL         time.Duration
	StaleWindow time.Duration
	Tags        []string
	// DisableCompression skips compression regardless of payload size.
	DisableCompression bool
}

// GetResult describes the outcome of a Get.
type GetResult struct {
	Found     bool
	Freshness Freshness
	// Tier is "local" or "remote" on a hit, empty on a miss.
	Tier string
}

// Manager composes the local LRU tier and the shared remote tier behind
// a single namespaced API. Keys are produced by MakeKey and embed their
// namespace.
//
// No Manager operation ever surfaces a remote failure to the caller:
// reads degrade to misses, writes degrade to local-only, and every
// degradation is logged and counted.
type Manager struct {
	cfg     *Config
	local   *LocalTierCache
	remote  RemoteStore
	tags    *tagIndex
	stats   *statsRecorder
	logger  observability.Logger
	metrics observability.MetricsClient
	now     func() time.Time
}

// NewManager builds a Manager from a validated config. Construction is
// the only place this subsystem fails: a nonsensical config is a
// ConfigurationError and must not be run with.
func NewManager(cfg *Config, remote RemoteStore, logger observability.Logger, metrics observability.MetricsClient) (*Manager, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cache configuration: %w", err)
	}
	if remote == nil {
		return nil, fmt.Errorf("remote store is required")
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}

	m := &Manager{
		cfg:     cfg,
		remote:  remote,
		tags:    newTagIndex(),
		stats:   newStatsRecorder(),
		logger:  logger.WithPrefix("cache.manager"),
		metrics: metrics,
		now:     time.Now,
	}

	local, err := NewLocalTierCache(cfg.LocalMaxEntries, m.handleEviction)
	if err != nil {
		return nil, err
	}
	m.local = local

	if cfg.SweepInterval > 0 {
		local.StartSweeper(cfg.SweepInterval)
	}

	return m, nil
}

// Get looks key up in the local tier first, falling through to the
// remote tier on a miss. A remote hit repopulates the local tier. The
// decoded value is written into dest, which must be a pointer.
// Every outcome updates hit/miss and latency accounting exactly once.
func (m *Manager) Get(ctx context.Context, key string, dest interface{}) GetResult {
	start := time.Now()
	defer func() {
		elapsed := time.Since(start)
		m.stats.recordLatency(elapsed)
		m.metrics.RecordDuration("cache.get.duration", elapsed)
	}()

	// Local tier
	if entry, freshness, ok := m.local.Get(key); ok {
		if err := m.decode(entry, dest); err != nil {
			m.recordError("failed to decode local entry", entry.Namespace, err)
			m.local.Delete(key)
			m.tags.RemoveKey(key)
			return m.miss()
		}
		atomic.AddInt64(&entry.HitCount, 1)
		return m.hit("local", freshness)
	}

	// Remote tier
	data, err := m.remote.Get(ctx, remoteKeyPrefix+key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			m.recordError("remote get failed, degrading to miss", "", err)
		}
		return m.miss()
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		m.recordError("failed to decode remote envelope", "", err)
		return m.miss()
	}

	freshness := entry.FreshnessAt(m.now())
	if freshness == Expired {
		// The store's expiry normally collects these; purge stragglers
		go m.deleteRemote(key)
		return m.miss()
	}

	if err := m.decode(&entry, dest); err != nil {
		m.recordError("failed to decode remote entry", entry.Namespace, err)
		return m.miss()
	}

	// Repopulate the local tier and the (lazily rebuilt) tag index
	entry.HitCount++
	entry.LastAccessed = m.now()
	m.local.Set(key, &entry)
	m.tags.Add(key, entry.Tags)

	// Cross-process hit accounting, best effort
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Store.OperationTimeout)
		defer cancel()
		_, _ = m.remote.Increment(ctx, remoteKeyPrefix+"hits:"+key)
	}()

	return m.hit("remote", freshness)
}

// Set serializes value and writes it to both tiers, compressing
// payloads above the configured threshold. Returns false only when the
// value cannot be serialized; a remote write failure degrades to a
// local-only set and still returns true.
func (m *Manager) Set(ctx context.Context, key string, value interface{}, opts SetOptions) bool {
	start := time.Now()
	defer func() {
		elapsed := time.Since(start)
		m.stats.recordLatency(elapsed)
		m.metrics.RecordDuration("cache.set.duration", elapsed)
	}()

	policy := m.cfg.PolicyFor(opts.Namespace)
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = policy.TTL
	}
	stale := opts.StaleWindow
	switch {
	case stale == NoStaleWindow:
		stale = 0
	case stale <= 0:
		stale = policy.StaleWindow
	}

	data, err := json.Marshal(value)
	if err != nil {
		// Log the namespace, never the payload
		m.recordError("value is not serializable", opts.Namespace, err)
		return false
	}

	compressed := false
	if !opts.DisableCompression && len(data) >= m.cfg.CompressionThreshold {
		cdata, cerr := compress(data)
		if cerr != nil {
			m.logger.Warn("compression failed, storing uncompressed", map[string]interface{}{
				"namespace": opts.Namespace,
				"error":     cerr.Error(),
			})
		} else if len(cdata) < len(data) {
			m.stats.compressionSaved.Add(int64(len(data) - len(cdata)))
			m.stats.compressionCount.Add(1)
			data = cdata
			compressed = true
		}
	}

	entry := &Entry{
		Payload:     data,
		Compressed:  compressed,
		CreatedAt:   m.now(),
		TTL:         ttl,
		StaleWindow: stale,
		Tags:        opts.Tags,
		Namespace:   opts.Namespace,
	}

	m.local.Set(key, entry)
	m.tags.Add(key, opts.Tags)

	envelope, err := json.Marshal(entry)
	if err != nil {
		m.recordError("failed to encode envelope", opts.Namespace, err)
	} else if err := m.remote.SetWithExpiry(ctx, remoteKeyPrefix+key, envelope, ttl+stale); err != nil {
		m.recordError("remote set failed, entry is local-only", opts.Namespace, err)
	}

	m.stats.sets.Add(1)
	return true
}

// Delete removes key from both tiers and from the tag index.
func (m *Manager) Delete(ctx context.Context, key string) bool {
	localOK := m.local.Delete(key)

	remoteOK, err := m.remote.Delete(ctx, remoteKeyPrefix+key)
	if err != nil {
		m.recordError("remote delete failed", "", err)
	}

	m.tags.RemoveKey(key)
	return localOK || remoteOK
}

// InvalidateByTags deletes every key carrying any of the given tags and
// returns the number of keys removed. Unknown tags contribute nothing
// and produce no error.
func (m *Manager) InvalidateByTags(ctx context.Context, tags []string) int {
	keys := m.tags.Keys(tags)

	removed := 0
	for _, key := range keys {
		if m.Delete(ctx, key) {
			removed++
		}
	}

	if removed > 0 {
		m.logger.Info("invalidated by tags", map[string]interface{}{
			"tags":    tags,
			"removed": removed,
		})
	}
	return removed
}

// Clear empties the cache. With a namespace it clears only that
// partition; with an empty namespace it clears everything and resets
// the stats counters.
func (m *Manager) Clear(ctx context.Context, namespace string) bool {
	if namespace == "" {
		m.local.Clear()
		m.tags.Reset()
		if _, err := m.remote.DeleteByPrefix(ctx, remoteKeyPrefix); err != nil {
			m.recordError("remote clear failed", "", err)
		}
		m.stats.reset()
		return true
	}

	m.local.ClearNamespace(namespace)
	m.tags.RemoveKeysWithPrefix(namespace + ":")
	if _, err := m.remote.DeleteByPrefix(ctx, remoteKeyPrefix+namespace+":"); err != nil {
		m.recordError("remote namespace clear failed", namespace, err)
	}
	return true
}

// GetStats returns a snapshot of the manager's counters plus local-tier
// size and a payload memory estimate.
func (m *Manager) GetStats() CacheStats {
	stats := m.stats.snapshot()
	stats.KeyCount = m.local.Len()

	var memory int64
	for _, ke := range m.local.Entries() {
		memory += int64(len(ke.Entry.Payload))
	}
	stats.MemoryEstimate = memory

	return stats
}

// Remote exposes the remote tier for health checks.
func (m *Manager) Remote() RemoteStore {
	return m.remote
}

// TopEntries returns the local tier's hottest entries for diagnostics.
func (m *Manager) TopEntries(n int) []KeyedEntry {
	return m.local.TopEntries(n)
}

// Close stops the background sweeper and closes the remote tier.
func (m *Manager) Close() error {
	m.local.StopSweeper()
	return m.remote.Close()
}

// GetTyped is the generic read-side boundary: it decodes the cached
// payload into a value of type T.
func GetTyped[T any](ctx context.Context, m *Manager, key string) (T, bool) {
	var value T
	res := m.Get(ctx, key, &value)
	return value, res.Found
}

// SetTyped is the generic write-side boundary.
func SetTyped[T any](ctx context.Context, m *Manager, key string, value T, opts SetOptions) bool {
	return m.Set(ctx, key, value, opts)
}

func (m *Manager) decode(entry *Entry, dest interface{}) error {
	payload := entry.Payload
	// The magic-byte check covers envelopes whose Compressed flag was
	// lost by an older writer.
	if entry.Compressed || isCompressed(payload) {
		var err error
		payload, err = decompress(payload)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSerialization, err)
		}
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return nil
}

func (m *Manager) hit(tier string, freshness Freshness) GetResult {
	m.stats.hits.Add(1)
	m.metrics.IncrementCounterWithLabels("cache.hit", 1, map[string]string{"tier": tier})
	return GetResult{Found: true, Freshness: freshness, Tier: tier}
}

func (m *Manager) miss() GetResult {
	m.stats.misses.Add(1)
	m.metrics.IncrementCounter("cache.miss", 1)
	return GetResult{Found: false, Freshness: Expired}
}

func (m *Manager) recordError(msg, namespace string, err error) {
	m.stats.errors.Add(1)
	m.metrics.IncrementCounter("cache.error", 1)

	fields := map[string]interface{}{"error": err.Error()}
	if namespace != "" {
		fields["namespace"] = namespace
	}
	m.logger.Warn(msg, fields)
}

func (m *Manager) deleteRemote(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Store.OperationTimeout)
	defer cancel()
	if _, err := m.remote.Delete(ctx, remoteKeyPrefix+key); err != nil {
		m.logger.Debug("failed to purge expired remote entry", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// handleEviction is wired as the local tier's eviction callback. It
// keeps the evictions counter and the tag index consistent with what
// the tier dropped on its own.
func (m *Manager) handleEviction(key string, entry *Entry, reason EvictionReason) {
	if reason == EvictCapacity {
		m.stats.evictions.Add(1)
		m.metrics.IncrementCounterWithLabels("cache.evicted", 1, map[string]string{"reason": "lru"})
	}
	m.tags.RemoveKey(key)
}
