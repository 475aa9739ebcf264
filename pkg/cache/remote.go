package cache

import (
	"context"
	"time"
)

// RemoteStore abstracts the shared key/value store used as the second
// cache tier and as the cross-process source of truth.
//
// All operations may fail due to connectivity loss. The Manager treats
// every failure as a miss (reads) or a logged drop (writes); nothing
// propagates to request-handling code.
type RemoteStore interface {
	// Get returns the raw bytes for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// SetWithExpiry writes value under key with the given TTL.
	SetWithExpiry(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key, reporting whether it existed.
	Delete(ctx context.Context, key string) (bool, error)

	// DeleteByPrefix removes every key starting with prefix and returns
	// the number removed. Admin/invalidation paths only.
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)

	// KeysMatching returns keys matching a glob pattern. Admin paths
	// only; never used on a hot path.
	KeysMatching(ctx context.Context, pattern string) ([]string, error)

	// Increment atomically increments the integer at key.
	Increment(ctx context.Context, key string) (int64, error)

	// Ping checks connectivity and returns the round-trip latency.
	Ping(ctx context.Context) (time.Duration, error)

	// Enabled reports whether the store is currently accepting
	// operations. A disabled store fails every call fast with
	// ErrStoreDisabled until a successful ping re-enables it.
	Enabled() bool

	Close() error
}
