// Package monitoring supervises a cache.Manager: a single periodic
// loop runs health checks against configured thresholds, exports
// metrics, raises deduplicated alerts, and executes registered
// cache-warming jobs.
package monitoring

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dealmesh/dealmesh/pkg/cache"
	"github.com/dealmesh/dealmesh/pkg/observability"
)

// HealthReport is the outcome of one health check.
type HealthReport struct {
	Healthy         bool             `json:"healthy"`
	Issues          []string         `json:"issues,omitempty"`
	Recommendations []string         `json:"recommendations,omitempty"`
	Stats           cache.CacheStats `json:"stats"`
	RemoteHealthy   bool             `json:"remote_healthy"`
	PingLatency     time.Duration    `json:"ping_latency"`
	Timestamp       time.Time        `json:"timestamp"`
}

// Monitor is the periodic cache supervisor. Its lifecycle is
// stopped -> monitoring -> stopped; Start and Stop are idempotent, and
// a tick that is still running when the next is due causes the next to
// be skipped, never stacked.
type Monitor struct {
	manager *cache.Manager
	cfg     cache.MonitorConfig
	logger  observability.Logger
	metrics observability.MetricsClient

	running atomic.Bool
	ticking atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	mu          sync.Mutex
	history     []HealthReport
	alerts      map[string]Alert
	dedup       map[string]string
	subscribers []chan AlertEvent

	warming *WarmingRegistry
	now     func() time.Time
}

// NewMonitor creates a monitor over the given manager. The config must
// already be validated (cache.Config.Validate covers it).
func NewMonitor(manager *cache.Manager, cfg cache.MonitorConfig, logger observability.Logger, metrics observability.MetricsClient) *Monitor {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}

	return &Monitor{
		manager: manager,
		cfg:     cfg,
		logger:  logger.WithPrefix("cache.monitor"),
		metrics: metrics,
		alerts:  make(map[string]Alert),
		dedup:   make(map[string]string),
		warming: NewWarmingRegistry(cfg.WarmingConcurrency, logger),
		now:     time.Now,
	}
}

// Start begins the periodic loop. Starting an already-running monitor
// is a no-op with a logged warning.
func (m *Monitor) Start(ctx context.Context) {
	if !m.running.CompareAndSwap(false, true) {
		m.logger.Warn("monitor already running", nil)
		return
	}

	m.stopCh = make(chan struct{})
	m.wg.Add(1)

	go func() {
		defer m.wg.Done()

		// First tick runs immediately so a freshly started process
		// reports health without waiting a full interval.
		m.tick(ctx)

		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.tick(ctx)
			case <-ctx.Done():
				m.logger.Info("monitor stopped by context", nil)
				m.running.Store(false)
				return
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop halts the loop and waits for an in-flight tick to finish.
// Stopping a stopped monitor is a no-op.
func (m *Monitor) Stop() {
	if !m.running.CompareAndSwap(true, false) {
		return
	}
	close(m.stopCh)
	m.wg.Wait()
}

// Running reports whether the monitor loop is active.
func (m *Monitor) Running() bool {
	return m.running.Load()
}

// Warming exposes the warming-job registry.
func (m *Monitor) Warming() *WarmingRegistry {
	return m.warming
}

// History returns a copy of the bounded health-report history, oldest
// first.
func (m *Monitor) History() []HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]HealthReport, len(m.history))
	copy(out, m.history)
	return out
}

// tick runs one supervision cycle. Overlapping ticks are skipped.
func (m *Monitor) tick(ctx context.Context) {
	if !m.ticking.CompareAndSwap(false, true) {
		m.logger.Warn("previous tick still running, skipping", nil)
		return
	}
	defer m.ticking.Store(false)

	report := m.CheckHealth(ctx)
	m.exportMetrics(report)
	m.evaluateAlerts(report)

	for _, res := range m.warming.ExecuteWarmingJobs(ctx) {
		if res.ItemsWarmed > 0 {
			m.metrics.IncrementCounterWithLabels("cache.warming.items", float64(res.ItemsWarmed), map[string]string{
				"job": res.Name,
			})
		}
	}
}

// CheckHealth compares current stats and remote connectivity against
// the configured thresholds and records the report in history.
func (m *Monitor) CheckHealth(ctx context.Context) HealthReport {
	stats := m.manager.GetStats()
	t := m.cfg.Thresholds

	report := HealthReport{
		Stats:         stats,
		RemoteHealthy: true,
		Timestamp:     m.now(),
	}

	requests := stats.Hits + stats.Misses
	if requests > 0 && stats.HitRate < t.MinHitRate {
		report.Issues = append(report.Issues,
			fmt.Sprintf("hit rate %.2f below threshold %.2f", stats.HitRate, t.MinHitRate))
		report.Recommendations = append(report.Recommendations,
			"warm the cache with more common queries or review TTL policies")
	}
	if stats.AvgResponseTimeMs > t.MaxAvgResponseTimeMs {
		report.Issues = append(report.Issues,
			fmt.Sprintf("average response time %.1fms above threshold %.1fms", stats.AvgResponseTimeMs, t.MaxAvgResponseTimeMs))
		report.Recommendations = append(report.Recommendations,
			"check remote store latency and payload sizes")
	}
	if stats.KeyCount > t.MaxKeyCount {
		report.Issues = append(report.Issues,
			fmt.Sprintf("key count %d above threshold %d", stats.KeyCount, t.MaxKeyCount))
		report.Recommendations = append(report.Recommendations,
			"increase local tier capacity or shorten TTLs")
	}
	if stats.MemoryEstimate > t.MaxMemoryBytes {
		report.Issues = append(report.Issues,
			fmt.Sprintf("estimated memory %d bytes above threshold %d", stats.MemoryEstimate, t.MaxMemoryBytes))
		report.Recommendations = append(report.Recommendations,
			"lower the compression threshold or reduce cached payload sizes")
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	latency, err := m.manager.Remote().Ping(pingCtx)
	cancel()

	if err != nil {
		report.RemoteHealthy = false
		report.Issues = append(report.Issues, fmt.Sprintf("remote tier unavailable: %v", err))
		report.Recommendations = append(report.Recommendations,
			"cache is running local-tier-only until the remote store answers pings")
	} else {
		report.PingLatency = latency
		if t.MaxPingLatencyMs > 0 && float64(latency.Milliseconds()) > t.MaxPingLatencyMs {
			report.Issues = append(report.Issues,
				fmt.Sprintf("remote ping %dms above threshold %.0fms", latency.Milliseconds(), t.MaxPingLatencyMs))
			report.Recommendations = append(report.Recommendations,
				"check network path to the remote store")
		}
	}

	report.Healthy = len(report.Issues) == 0

	m.mu.Lock()
	m.history = append(m.history, report)
	if len(m.history) > m.cfg.HistorySize {
		m.history = m.history[len(m.history)-m.cfg.HistorySize:]
	}
	m.mu.Unlock()

	return report
}

func (m *Monitor) exportMetrics(report HealthReport) {
	stats := report.Stats

	m.metrics.RecordGauge("cache.hit_rate", stats.HitRate, nil)
	if stats.Hits+stats.Misses > 0 {
		m.metrics.RecordGauge("cache.miss_rate", 1-stats.HitRate, nil)
	}
	m.metrics.RecordGauge("cache.key_count", float64(stats.KeyCount), nil)
	m.metrics.RecordGauge("cache.memory_bytes", float64(stats.MemoryEstimate), nil)
	m.metrics.RecordGauge("cache.avg_latency_ms", stats.AvgResponseTimeMs, nil)
	m.metrics.RecordGauge("cache.evictions", float64(stats.Evictions), nil)

	remoteUp := 0.0
	if report.RemoteHealthy {
		remoteUp = 1.0
	}
	m.metrics.RecordGauge("cache.remote.healthy", remoteUp, nil)
}
