package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Cache operation metrics
	cacheOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dealmesh_cache_operation_duration_seconds",
		Help:    "Duration of cache operations in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"operation"})

	// Hit/miss metrics
	cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dealmesh_cache_hits_total",
		Help: "Total number of cache hits",
	}, []string{"tier"})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dealmesh_cache_misses_total",
		Help: "Total number of cache misses",
	})

	cacheErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dealmesh_cache_errors_total",
		Help: "Total number of cache errors",
	})

	cacheHitRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dealmesh_cache_hit_rate",
		Help: "Cache hit rate over the process lifetime",
	})

	// Size metrics
	cacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dealmesh_cache_entries",
		Help: "Number of entries in the local tier",
	})

	cacheBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dealmesh_cache_bytes",
		Help: "Estimated payload bytes held in the local tier",
	})

	cacheAvgLatency = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dealmesh_cache_avg_latency_ms",
		Help: "Rolling average cache operation latency in milliseconds",
	})

	// Eviction metrics
	cacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dealmesh_cache_evictions_total",
		Help: "Total number of local tier evictions",
	}, []string{"reason"})

	// Remote tier metrics
	remoteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dealmesh_cache_remote_errors_total",
		Help: "Total number of remote store operation failures",
	})

	remoteStateChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dealmesh_cache_remote_state_changes_total",
		Help: "Remote store enable/disable transitions",
	}, []string{"state"})

	remoteHealthy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dealmesh_cache_remote_healthy",
		Help: "Whether the remote tier is answering pings (1) or not (0)",
	})

	remotePingLatency = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dealmesh_cache_remote_ping_latency_ms",
		Help: "Latest remote store ping latency in milliseconds",
	})

	// Alert metrics
	alertsRaised = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dealmesh_cache_alerts_total",
		Help: "Total number of alerts raised",
	}, []string{"type", "severity"})

	// Warming metrics
	warmingItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dealmesh_cache_warming_items_total",
		Help: "Total number of items warmed, by job",
	}, []string{"job"})
)

// PrometheusMetricsCollector implements observability.MetricsClient on
// top of Prometheus. Metric names arriving through the generic
// interface are mapped onto the registered collectors; unknown names
// are dropped.
type PrometheusMetricsCollector struct{}

// NewPrometheusMetricsCollector creates the collector. The underlying
// collectors are registered with the default registry at package init.
func NewPrometheusMetricsCollector() *PrometheusMetricsCollector {
	return &PrometheusMetricsCollector{}
}

// IncrementCounter increments a counter metric
func (p *PrometheusMetricsCollector) IncrementCounter(name string, value float64) {
	switch name {
	case "cache.hit":
		cacheHits.WithLabelValues("local").Add(value)
	case "cache.miss":
		cacheMisses.Add(value)
	case "cache.error":
		cacheErrors.Add(value)
	case "cache.remote.errors":
		remoteErrors.Add(value)
	case "cache.remote.disabled":
		remoteStateChanges.WithLabelValues("disabled").Add(value)
	case "cache.remote.enabled":
		remoteStateChanges.WithLabelValues("enabled").Add(value)
	}
}

// IncrementCounterWithLabels increments a counter metric with labels
func (p *PrometheusMetricsCollector) IncrementCounterWithLabels(name string, value float64, labels map[string]string) {
	switch name {
	case "cache.hit":
		tier := labels["tier"]
		if tier == "" {
			tier = "local"
		}
		cacheHits.WithLabelValues(tier).Add(value)
	case "cache.evicted":
		reason := labels["reason"]
		if reason == "" {
			reason = "capacity"
		}
		cacheEvictions.WithLabelValues(reason).Add(value)
	case "cache.alerts":
		alertsRaised.WithLabelValues(labels["type"], labels["severity"]).Add(value)
	case "cache.warming.items":
		warmingItems.WithLabelValues(labels["job"]).Add(value)
	default:
		p.IncrementCounter(name, value)
	}
}

// RecordGauge sets a gauge metric
func (p *PrometheusMetricsCollector) RecordGauge(name string, value float64, labels map[string]string) {
	switch name {
	case "cache.hit_rate":
		cacheHitRate.Set(value)
	case "cache.key_count":
		cacheEntries.Set(value)
	case "cache.memory_bytes":
		cacheBytes.Set(value)
	case "cache.avg_latency_ms":
		cacheAvgLatency.Set(value)
	case "cache.remote.healthy":
		remoteHealthy.Set(value)
	case "cache.remote.ping_latency_ms":
		remotePingLatency.Set(value)
	case "cache.evictions":
		// Exposed as a counter; the gauge form is ignored.
	}
}

// RecordHistogram records a histogram metric
func (p *PrometheusMetricsCollector) RecordHistogram(name string, value float64, labels map[string]string) {
	switch name {
	case "cache.get.duration":
		cacheOperationDuration.WithLabelValues("get").Observe(value)
	case "cache.set.duration":
		cacheOperationDuration.WithLabelValues("set").Observe(value)
	case "cache.delete.duration":
		cacheOperationDuration.WithLabelValues("delete").Observe(value)
	}
}

// RecordDuration records a duration as a histogram observation in seconds
func (p *PrometheusMetricsCollector) RecordDuration(name string, duration time.Duration) {
	p.RecordHistogram(name, duration.Seconds(), nil)
}

// StartTimer returns a func that records the elapsed time when called
func (p *PrometheusMetricsCollector) StartTimer(name string, labels map[string]string) func() {
	start := time.Now()
	return func() {
		p.RecordDuration(name, time.Since(start))
	}
}

// Close closes the metrics client. Prometheus collectors need no cleanup.
func (p *PrometheusMetricsCollector) Close() error {
	return nil
}
