package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// latencyWindow bounds the rolling response-time average to the most
// recent operations.
const latencyWindow = 1000

// CacheStats is a point-in-time snapshot of a Manager's counters.
type CacheStats struct {
	Hits              int64     `json:"hits"`
	Misses            int64     `json:"misses"`
	Evictions         int64     `json:"evictions"`
	Sets              int64     `json:"sets"`
	Errors            int64     `json:"errors"`
	HitRate           float64   `json:"hit_rate"`
	AvgResponseTimeMs float64   `json:"avg_response_time_ms"`
	KeyCount          int       `json:"key_count"`
	MemoryEstimate    int64     `json:"memory_estimate_bytes"`
	CompressionSaved  int64     `json:"compression_saved_bytes"`
	CompressionCount  int64     `json:"compression_count"`
	Timestamp         time.Time `json:"timestamp"`
}

// statsRecorder accumulates Manager counters. Counters are atomic; the
// latency ring has its own lock since it is only touched on timed
// operations.
type statsRecorder struct {
	hits             atomic.Int64
	misses           atomic.Int64
	evictions        atomic.Int64
	sets             atomic.Int64
	errors           atomic.Int64
	compressionSaved atomic.Int64
	compressionCount atomic.Int64

	mu        sync.Mutex
	latencies [latencyWindow]time.Duration
	idx       int
	count     int
}

func newStatsRecorder() *statsRecorder {
	return &statsRecorder{}
}

func (s *statsRecorder) recordLatency(d time.Duration) {
	s.mu.Lock()
	s.latencies[s.idx] = d
	s.idx = (s.idx + 1) % latencyWindow
	if s.count < latencyWindow {
		s.count++
	}
	s.mu.Unlock()
}

func (s *statsRecorder) avgLatencyMs() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count == 0 {
		return 0
	}
	var total time.Duration
	for i := 0; i < s.count; i++ {
		total += s.latencies[i]
	}
	return float64(total.Milliseconds()) / float64(s.count)
}

// snapshot returns the current counter values. Hit rate is recomputed
// on read and is 0 when no requests have been recorded.
func (s *statsRecorder) snapshot() CacheStats {
	hits := s.hits.Load()
	misses := s.misses.Load()

	hitRate := 0.0
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return CacheStats{
		Hits:              hits,
		Misses:            misses,
		Evictions:         s.evictions.Load(),
		Sets:              s.sets.Load(),
		Errors:            s.errors.Load(),
		HitRate:           hitRate,
		AvgResponseTimeMs: s.avgLatencyMs(),
		CompressionSaved:  s.compressionSaved.Load(),
		CompressionCount:  s.compressionCount.Load(),
		Timestamp:         time.Now(),
	}
}

// reset zeroes all counters. Only a full Clear resets stats.
func (s *statsRecorder) reset() {
	s.hits.Store(0)
	s.misses.Store(0)
	s.evictions.Store(0)
	s.sets.Store(0)
	s.errors.Store(0)
	s.compressionSaved.Store(0)
	s.compressionCount.Store(0)

	s.mu.Lock()
	s.idx = 0
	s.count = 0
	s.mu.Unlock()
}
