package observability

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetricsClient is a MetricsClient backed by dynamically registered
// Prometheus vectors, keyed by metric name. It exists so generic callers
// (resilience, config validation) can depend on the narrow MetricsClient
// interface while still emitting real Prometheus series, without every call
// site pre-declaring its own promauto vector.
type PrometheusMetricsClient struct {
	namespace string
	subsystem string

	mu         sync.RWMutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheusMetricsClient creates a client that prefixes every metric name
// it registers with namespace_subsystem_.
func NewPrometheusMetricsClient(namespace, subsystem string) *PrometheusMetricsClient {
	return &PrometheusMetricsClient{
		namespace:  namespace,
		subsystem:  subsystem,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (c *PrometheusMetricsClient) getOrCreateCounter(name string, names []string) *prometheus.CounterVec {
	c.mu.RLock()
	if counter, ok := c.counters[name]; ok {
		c.mu.RUnlock()
		return counter
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if counter, ok := c.counters[name]; ok {
		return counter
	}

	counter := promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: c.namespace,
		Subsystem: c.subsystem,
		Name:      name,
		Help:      fmt.Sprintf("counter for %s", name),
	}, names)
	c.counters[name] = counter
	return counter
}

func (c *PrometheusMetricsClient) getOrCreateGauge(name string, names []string) *prometheus.GaugeVec {
	c.mu.RLock()
	if gauge, ok := c.gauges[name]; ok {
		c.mu.RUnlock()
		return gauge
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if gauge, ok := c.gauges[name]; ok {
		return gauge
	}

	gauge := promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: c.namespace,
		Subsystem: c.subsystem,
		Name:      name,
		Help:      fmt.Sprintf("gauge for %s", name),
	}, names)
	c.gauges[name] = gauge
	return gauge
}

func (c *PrometheusMetricsClient) getOrCreateHistogram(name string, names []string) *prometheus.HistogramVec {
	c.mu.RLock()
	if histogram, ok := c.histograms[name]; ok {
		c.mu.RUnlock()
		return histogram
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if histogram, ok := c.histograms[name]; ok {
		return histogram
	}

	histogram := promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: c.namespace,
		Subsystem: c.subsystem,
		Name:      name,
		Help:      fmt.Sprintf("histogram for %s", name),
		Buckets:   prometheus.DefBuckets,
	}, names)
	c.histograms[name] = histogram
	return histogram
}

func (c *PrometheusMetricsClient) IncrementCounter(name string, value float64, tags map[string]string) {
	names := labelNames(tags)
	counter := c.getOrCreateCounter(name, names)
	values := make(prometheus.Labels, len(tags))
	for k, v := range tags {
		values[k] = v
	}
	counter.With(values).Add(value)
}

func (c *PrometheusMetricsClient) RecordCounter(name string, value float64, tags map[string]string) {
	c.IncrementCounter(name, value, tags)
}

func (c *PrometheusMetricsClient) RecordHistogram(name string, value float64, tags map[string]string) {
	names := labelNames(tags)
	histogram := c.getOrCreateHistogram(name, names)
	values := make(prometheus.Labels, len(tags))
	for k, v := range tags {
		values[k] = v
	}
	histogram.With(values).Observe(value)
}

func (c *PrometheusMetricsClient) RecordGauge(name string, value float64, tags map[string]string) {
	names := labelNames(tags)
	gauge := c.getOrCreateGauge(name, names)
	values := make(prometheus.Labels, len(tags))
	for k, v := range tags {
		values[k] = v
	}
	gauge.With(values).Set(value)
}

func (c *PrometheusMetricsClient) RecordEvent(source, eventType string) {
	c.IncrementCounter("events_total", 1, map[string]string{"source": source, "event_type": eventType})
}

func (c *PrometheusMetricsClient) RecordLatency(operation string, duration time.Duration) {
	c.RecordHistogram("operation_latency_seconds", duration.Seconds(), map[string]string{"operation": operation})
}

func (c *PrometheusMetricsClient) RecordDuration(operation string, duration time.Duration) {
	c.RecordLatency(operation, duration)
}

func (c *PrometheusMetricsClient) RecordOperation(operationName string, actionName string, success bool, durationSeconds float64, tags map[string]string) {
	c.RecordDuration(operationName+"."+actionName, time.Duration(durationSeconds*float64(time.Second)))
	if success {
		c.IncrementCounter(operationName+"."+actionName+".success", 1, tags)
	} else {
		c.IncrementCounter(operationName+"."+actionName+".error", 1, tags)
	}
}

func (c *PrometheusMetricsClient) RecordOperationWithContext(ctx context.Context, operation string, f func() error) error {
	start := time.Now()
	err := f()
	duration := time.Since(start)
	c.RecordDuration(operation, duration)
	c.RecordOperation(operation, "execute", err == nil, duration.Seconds(), nil)
	return err
}

func (c *PrometheusMetricsClient) Close() error {
	return nil
}
