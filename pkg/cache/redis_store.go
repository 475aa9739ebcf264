package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/dealmesh/dealmesh/pkg/observability"
)

// scanBatchSize is the COUNT hint passed to SCAN on pattern paths.
const scanBatchSize = 100

// RedisStore is the Redis-backed RemoteStore. Every operation runs
// through a circuit breaker: after the configured number of consecutive
// failures the breaker opens and the store reports disabled, failing
// calls fast with ErrStoreDisabled. A background loop then pings with
// capped exponential backoff until connectivity returns, which closes
// the breaker again.
type RedisStore struct {
	client  *redis.Client
	cfg     StoreConfig
	breaker *gobreaker.CircuitBreaker
	logger  observability.Logger
	metrics observability.MetricsClient

	reconnecting atomic.Bool
	stopCh       chan struct{}
	closeOnce    sync.Once
	wg           sync.WaitGroup
}

// NewRedisStore connects to the store described by cfg. A store that is
// unreachable at construction time is returned anyway: the cache runs
// local-tier-only until the reconnect loop brings the remote tier back.
func NewRedisStore(cfg StoreConfig, logger observability.Logger, metrics observability.MetricsClient) *RedisStore {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.OperationTimeout,
		WriteTimeout: cfg.OperationTimeout,
	})

	s := &RedisStore{
		client:  client,
		cfg:     cfg,
		logger:  logger.WithPrefix("cache.remote"),
		metrics: metrics,
		stopCh:  make(chan struct{}),
	}

	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "remote-cache",
		MaxRequests: 1,
		Timeout:     cfg.ReconnectInitialInterval,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: s.onBreakerStateChange,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		s.logger.Warn("remote store unreachable at startup, continuing local-only", map[string]interface{}{
			"addr":  cfg.Addr(),
			"error": err.Error(),
		})
	} else {
		s.logger.Info("remote store connected", map[string]interface{}{
			"addr": cfg.Addr(),
			"db":   cfg.DB,
		})
	}

	return s
}

// Get returns the raw bytes for key, or ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	res, err := s.execute(func(ctx context.Context) (interface{}, error) {
		data, err := s.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			// A miss is a successful round trip, not a breaker failure
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return data, nil
	}, ctx)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, ErrNotFound
	}
	return res.([]byte), nil
}

// SetWithExpiry writes value under key with the given TTL.
func (s *RedisStore) SetWithExpiry(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.execute(func(ctx context.Context) (interface{}, error) {
		return nil, s.client.Set(ctx, key, value, ttl).Err()
	}, ctx)
	return err
}

// Delete removes key, reporting whether it existed.
func (s *RedisStore) Delete(ctx context.Context, key string) (bool, error) {
	res, err := s.execute(func(ctx context.Context) (interface{}, error) {
		n, err := s.client.Del(ctx, key).Result()
		return n, err
	}, ctx)
	if err != nil {
		return false, err
	}
	return res.(int64) > 0, nil
}

// DeleteByPrefix removes every key starting with prefix via SCAN and
// returns the number removed.
func (s *RedisStore) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	res, err := s.execute(func(ctx context.Context) (interface{}, error) {
		removed := 0
		iter := s.client.Scan(ctx, 0, prefix+"*", scanBatchSize).Iterator()
		for iter.Next(ctx) {
			if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
				return removed, err
			}
			removed++
		}
		return removed, iter.Err()
	}, ctx)
	if err != nil {
		return 0, err
	}
	return res.(int), nil
}

// KeysMatching returns keys matching a glob pattern via SCAN.
func (s *RedisStore) KeysMatching(ctx context.Context, pattern string) ([]string, error) {
	res, err := s.execute(func(ctx context.Context) (interface{}, error) {
		var keys []string
		iter := s.client.Scan(ctx, 0, pattern, scanBatchSize).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		return keys, iter.Err()
	}, ctx)
	if err != nil {
		return nil, err
	}
	return res.([]string), nil
}

// Increment atomically increments the integer at key.
func (s *RedisStore) Increment(ctx context.Context, key string) (int64, error) {
	res, err := s.execute(func(ctx context.Context) (interface{}, error) {
		return s.client.Incr(ctx, key).Result()
	}, ctx)
	if err != nil {
		return 0, err
	}
	return res.(int64), nil
}

// Ping checks connectivity and returns the round-trip latency. A
// successful ping while the breaker is half-open closes it, re-enabling
// the store.
func (s *RedisStore) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	_, err := s.execute(func(ctx context.Context) (interface{}, error) {
		return nil, s.client.Ping(ctx).Err()
	}, ctx)
	if err != nil {
		return 0, err
	}
	latency := time.Since(start)
	s.metrics.RecordGauge("cache.remote.ping_latency_ms", float64(latency.Milliseconds()), nil)
	return latency, nil
}

// Enabled reports whether the breaker currently admits operations.
func (s *RedisStore) Enabled() bool {
	return s.breaker.State() != gobreaker.StateOpen
}

// Close stops the reconnect loop and closes the client.
func (s *RedisStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
	return s.client.Close()
}

// execute runs op through the circuit breaker with the configured
// per-operation timeout applied.
func (s *RedisStore) execute(op func(ctx context.Context) (interface{}, error), ctx context.Context) (interface{}, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	res, err := s.breaker.Execute(func() (interface{}, error) {
		return op(opCtx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrStoreDisabled
		}
		s.metrics.IncrementCounter("cache.remote.errors", 1)
		return nil, fmt.Errorf("remote store operation failed: %w", err)
	}
	return res, nil
}

func (s *RedisStore) onBreakerStateChange(name string, from, to gobreaker.State) {
	s.logger.Warn("remote store state change", map[string]interface{}{
		"from": from.String(),
		"to":   to.String(),
	})

	switch to {
	case gobreaker.StateOpen:
		s.metrics.IncrementCounter("cache.remote.disabled", 1)
		if s.reconnecting.CompareAndSwap(false, true) {
			s.wg.Add(1)
			go s.reconnectLoop()
		}
	case gobreaker.StateClosed:
		s.metrics.IncrementCounter("cache.remote.enabled", 1)
	}
}

// reconnectLoop pings with capped exponential backoff until the store
// answers again. Pings go through the breaker, so the first success in
// the half-open window closes it.
func (s *RedisStore) reconnectLoop() {
	defer s.wg.Done()
	defer s.reconnecting.Store(false)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.ReconnectInitialInterval
	bo.MaxInterval = s.cfg.ReconnectMaxInterval
	bo.MaxElapsedTime = 0 // retry until connectivity returns or Close

	for {
		wait := bo.NextBackOff()
		select {
		case <-s.stopCh:
			return
		case <-time.After(wait):
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DialTimeout)
		_, err := s.Ping(ctx)
		cancel()

		if err == nil {
			s.logger.Info("remote store reconnected", map[string]interface{}{
				"addr": s.cfg.Addr(),
			})
			return
		}
	}
}
