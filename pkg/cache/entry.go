package cache

import (
	"time"
)

// Freshness describes the lifecycle state of a cache entry at a point
// in time. Transitions are driven purely by elapsed time:
// fresh -> stale -> expired.
type Freshness int

const (
	// Fresh entries are inside their TTL window.
	Fresh Freshness = iota
	// Stale entries are past TTL but inside the stale-while-revalidate
	// window and may still be served.
	Stale
	// Expired entries are past TTL plus the stale window. They are
	// treated as a miss and purged on sight.
	Expired
)

func (f Freshness) String() string {
	switch f {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	default:
		return "expired"
	}
}

// Entry is a stored value plus bookkeeping. The payload is opaque to
// the cache core: serialized bytes, gzip-compressed when the serialized
// size exceeded the configured threshold.
type Entry struct {
	Payload      []byte        `json:"payload"`
	Compressed   bool          `json:"compressed"`
	CreatedAt    time.Time     `json:"created_at"`
	TTL          time.Duration `json:"ttl"`
	StaleWindow  time.Duration `json:"stale_window"`
	HitCount     int64         `json:"hit_count"`
	Tags         []string      `json:"tags,omitempty"`
	Namespace    string        `json:"namespace"`
	LastAccessed time.Time     `json:"last_accessed"`
}

// FreshnessAt reports the entry's lifecycle state at the given instant.
func (e *Entry) FreshnessAt(now time.Time) Freshness {
	age := now.Sub(e.CreatedAt)
	switch {
	case age < e.TTL:
		return Fresh
	case age < e.TTL+e.StaleWindow:
		return Stale
	default:
		return Expired
	}
}
