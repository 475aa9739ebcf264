package cache

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// StoreConfig addresses the shared remote key/value store.
type StoreConfig struct {
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	Password         string        `mapstructure:"password"`
	DB               int           `mapstructure:"db"`
	DialTimeout      time.Duration `mapstructure:"dial_timeout"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`

	// FailureThreshold is the number of consecutive failures after
	// which the remote tier is marked disabled.
	FailureThreshold uint32 `mapstructure:"failure_threshold"`

	// Reconnect backoff bounds while the store is disabled.
	ReconnectInitialInterval time.Duration `mapstructure:"reconnect_initial_interval"`
	ReconnectMaxInterval     time.Duration `mapstructure:"reconnect_max_interval"`
}

// Addr returns the host:port address of the store.
func (s StoreConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// NamespacePolicy carries per-namespace TTL defaults.
type NamespacePolicy struct {
	TTL         time.Duration `mapstructure:"ttl"`
	StaleWindow time.Duration `mapstructure:"stale_window"`
}

// Thresholds configure health-check alerting.
type Thresholds struct {
	// MinHitRate is the hit rate (0..1) below which the monitor raises
	// a low-hit-rate alert.
	MinHitRate float64 `mapstructure:"min_hit_rate"`
	// MaxAvgResponseTimeMs is the average operation latency above which
	// the monitor raises a slow-cache alert.
	MaxAvgResponseTimeMs float64 `mapstructure:"max_avg_response_time_ms"`
	// MaxKeyCount is the local-tier entry count above which the monitor
	// raises a capacity alert.
	MaxKeyCount int `mapstructure:"max_key_count"`
	// MaxMemoryBytes is the estimated payload footprint above which the
	// monitor raises a memory alert.
	MaxMemoryBytes int64 `mapstructure:"max_memory_bytes"`
	// MaxPingLatencyMs is the remote ping latency above which the
	// monitor flags the remote tier as degraded.
	MaxPingLatencyMs float64 `mapstructure:"max_ping_latency_ms"`
}

// MonitorConfig configures the periodic cache monitor.
type MonitorConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	HistorySize int           `mapstructure:"history_size"`
	// WarmingConcurrency bounds how many warming jobs run at once.
	WarmingConcurrency int        `mapstructure:"warming_concurrency"`
	Thresholds         Thresholds `mapstructure:"thresholds"`
}

// Config is the cache subsystem configuration.
type Config struct {
	Store                StoreConfig                `mapstructure:"store"`
	LocalMaxEntries      int                        `mapstructure:"local_max_entries"`
	CompressionThreshold int                        `mapstructure:"compression_threshold"`
	SweepInterval        time.Duration              `mapstructure:"sweep_interval"`
	DefaultTTL           time.Duration              `mapstructure:"default_ttl"`
	DefaultStaleWindow   time.Duration              `mapstructure:"default_stale_window"`
	Namespaces           map[string]NamespacePolicy `mapstructure:"namespaces"`
	Monitor              MonitorConfig              `mapstructure:"monitor"`
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Host:                     "localhost",
			Port:                     6379,
			DB:                       0,
			DialTimeout:              5 * time.Second,
			OperationTimeout:         2 * time.Second,
			FailureThreshold:         5,
			ReconnectInitialInterval: time.Second,
			ReconnectMaxInterval:     30 * time.Second,
		},
		LocalMaxEntries:      10000,
		CompressionThreshold: 1024,
		SweepInterval:        time.Minute,
		DefaultTTL:           15 * time.Minute,
		DefaultStaleWindow:   time.Minute,
		Namespaces: map[string]NamespacePolicy{
			"query":     {TTL: 15 * time.Minute, StaleWindow: time.Minute},
			"llm":       {TTL: time.Hour, StaleWindow: 5 * time.Minute},
			"websocket": {TTL: 30 * time.Second, StaleWindow: 0},
			"session":   {TTL: 24 * time.Hour, StaleWindow: 0},
		},
		Monitor: MonitorConfig{
			Interval:           time.Minute,
			HistorySize:        100,
			WarmingConcurrency: 4,
			Thresholds: Thresholds{
				MinHitRate:           0.3,
				MaxAvgResponseTimeMs: 250,
				MaxKeyCount:          9000,
				MaxMemoryBytes:       256 << 20,
				MaxPingLatencyMs:     100,
			},
		},
	}
}

// LoadConfig reads configuration from the environment over the
// defaults. The remote store address follows the conventional
// STORE_HOST / STORE_PORT / STORE_PASSWORD variables; everything else
// is prefixed CACHE_ (e.g. CACHE_LOCAL_MAX_ENTRIES).
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetEnvPrefix("CACHE")
	v.AutomaticEnv()

	store := viper.New()
	store.SetEnvPrefix("STORE")
	store.AutomaticEnv()

	if host := store.GetString("HOST"); host != "" {
		cfg.Store.Host = host
	}
	if port := store.GetInt("PORT"); port != 0 {
		cfg.Store.Port = port
	}
	if pw := store.GetString("PASSWORD"); pw != "" {
		cfg.Store.Password = pw
	}
	if db := store.GetInt("DB"); db != 0 {
		cfg.Store.DB = db
	}

	if n := v.GetInt("LOCAL_MAX_ENTRIES"); n != 0 {
		cfg.LocalMaxEntries = n
	}
	if n := v.GetInt("COMPRESSION_THRESHOLD"); n != 0 {
		cfg.CompressionThreshold = n
	}
	if d := v.GetDuration("DEFAULT_TTL"); d != 0 {
		cfg.DefaultTTL = d
	}
	if d := v.GetDuration("DEFAULT_STALE_WINDOW"); d != 0 {
		cfg.DefaultStaleWindow = d
	}
	if d := v.GetDuration("SWEEP_INTERVAL"); d != 0 {
		cfg.SweepInterval = d
	}
	if d := v.GetDuration("MONITOR_INTERVAL"); d != 0 {
		cfg.Monitor.Interval = d
	}
	if f := v.GetFloat64("MIN_HIT_RATE"); f != 0 {
		cfg.Monitor.Thresholds.MinHitRate = f
	}
	if f := v.GetFloat64("MAX_AVG_RESPONSE_TIME_MS"); f != 0 {
		cfg.Monitor.Thresholds.MaxAvgResponseTimeMs = f
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate fails fast on nonsensical settings. Running with broken
// thresholds silently produces meaningless alerts, so configuration is
// the one place this subsystem is allowed to be fatal.
func (c *Config) Validate() error {
	if c.LocalMaxEntries <= 0 {
		return fmt.Errorf("local_max_entries must be positive, got %d", c.LocalMaxEntries)
	}
	if c.CompressionThreshold < 0 {
		return fmt.Errorf("compression_threshold must not be negative, got %d", c.CompressionThreshold)
	}
	if c.DefaultTTL <= 0 {
		return fmt.Errorf("default_ttl must be positive, got %s", c.DefaultTTL)
	}
	if c.DefaultStaleWindow < 0 {
		return fmt.Errorf("default_stale_window must not be negative, got %s", c.DefaultStaleWindow)
	}
	if c.Store.Port <= 0 || c.Store.Port > 65535 {
		return fmt.Errorf("store port out of range: %d", c.Store.Port)
	}
	if c.Store.FailureThreshold == 0 {
		return fmt.Errorf("store failure_threshold must be positive")
	}
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor interval must be positive, got %s", c.Monitor.Interval)
	}
	if c.Monitor.HistorySize <= 0 {
		return fmt.Errorf("monitor history_size must be positive, got %d", c.Monitor.HistorySize)
	}
	if c.Monitor.WarmingConcurrency <= 0 {
		return fmt.Errorf("monitor warming_concurrency must be positive, got %d", c.Monitor.WarmingConcurrency)
	}
	t := c.Monitor.Thresholds
	if t.MinHitRate < 0 || t.MinHitRate > 1 {
		return fmt.Errorf("min_hit_rate must be in [0,1], got %f", t.MinHitRate)
	}
	if t.MaxAvgResponseTimeMs <= 0 {
		return fmt.Errorf("max_avg_response_time_ms must be positive, got %f", t.MaxAvgResponseTimeMs)
	}
	if t.MaxKeyCount <= 0 {
		return fmt.Errorf("max_key_count must be positive, got %d", t.MaxKeyCount)
	}
	if t.MaxMemoryBytes <= 0 {
		return fmt.Errorf("max_memory_bytes must be positive, got %d", t.MaxMemoryBytes)
	}
	for ns, policy := range c.Namespaces {
		if policy.TTL <= 0 {
			return fmt.Errorf("namespace %q ttl must be positive, got %s", ns, policy.TTL)
		}
		if policy.StaleWindow < 0 {
			return fmt.Errorf("namespace %q stale_window must not be negative, got %s", ns, policy.StaleWindow)
		}
	}
	return nil
}

// PolicyFor returns the TTL policy for a namespace, falling back to the
// subsystem defaults.
func (c *Config) PolicyFor(namespace string) NamespacePolicy {
	if policy, ok := c.Namespaces[namespace]; ok {
		return policy
	}
	return NamespacePolicy{TTL: c.DefaultTTL, StaleWindow: c.DefaultStaleWindow}
}
