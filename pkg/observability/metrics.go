package observability

import (
	"sync"
	"time"
)

// MetricsOptions contains configuration options for creating a metrics client
type MetricsOptions struct {
	Enabled bool
	Labels  map[string]string
}

// metricsClient is the default in-process MetricsClient. It keeps the
// last observed value per metric so that callers (and tests) can read
// back what was recorded; production deployments plug in the Prometheus
// collector from pkg/cache/monitoring instead.
type metricsClient struct {
	mu       sync.RWMutex
	enabled  bool
	labels   map[string]string
	counters map[string]float64
	gauges   map[string]float64
}

// NewMetricsClient creates a new metrics client with default options
func NewMetricsClient() MetricsClient {
	return NewMetricsClientWithOptions(MetricsOptions{
		Enabled: true,
		Labels:  map[string]string{},
	})
}

// NewMetricsClientWithOptions creates a new metrics client with specific options
func NewMetricsClientWithOptions(options MetricsOptions) MetricsClient {
	return &metricsClient{
		enabled:  options.Enabled,
		labels:   options.Labels,
		counters: make(map[string]float64),
		gauges:   make(map[string]float64),
	}
}

// IncrementCounter increments a counter metric by a given value
func (m *metricsClient) IncrementCounter(name string, value float64) {
	if !m.enabled {
		return
	}
	m.mu.Lock()
	m.counters[name] += value
	m.mu.Unlock()
}

// IncrementCounterWithLabels increments a counter metric with custom labels
func (m *metricsClient) IncrementCounterWithLabels(name string, value float64, labels map[string]string) {
	m.IncrementCounter(name+labelSuffix(labels), value)
}

// RecordGauge records a gauge metric
func (m *metricsClient) RecordGauge(name string, value float64, labels map[string]string) {
	if !m.enabled {
		return
	}
	m.mu.Lock()
	m.gauges[name+labelSuffix(labels)] = value
	m.mu.Unlock()
}

// RecordHistogram records a histogram observation
func (m *metricsClient) RecordHistogram(name string, value float64, labels map[string]string) {
	// The default client folds histogram observations into a gauge of
	// the last observed value
	m.RecordGauge(name, value, labels)
}

// RecordDuration records a duration metric
func (m *metricsClient) RecordDuration(name string, duration time.Duration) {
	m.RecordHistogram(name, duration.Seconds(), nil)
}

// StartTimer returns a func that records the elapsed time when called
func (m *metricsClient) StartTimer(name string, labels map[string]string) func() {
	start := time.Now()
	return func() {
		m.RecordHistogram(name, time.Since(start).Seconds(), labels)
	}
}

// Close closes the metrics client
func (m *metricsClient) Close() error {
	return nil
}

// CounterValue returns the current value of a counter (test/diagnostic use)
func (m *metricsClient) CounterValue(name string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counters[name]
}

// GaugeValue returns the last recorded value of a gauge (test/diagnostic use)
func (m *metricsClient) GaugeValue(name string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gauges[name]
}

func labelSuffix(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	s := ""
	for k, v := range labels {
		s += "," + k + "=" + v
	}
	return s
}
