// internal/utils/metrics.go
package utils

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsCollector keeps in-process counters, gauges and histograms.
type MetricsCollector struct {
	counters   map[string]*int64
	gauges     map[string]*int64
	histograms map[string]*Histogram

	mu sync.RWMutex
}

// Histogram tracks count, sum, min and max of observed values.
type Histogram struct {
	count int64
	sum   int64
	min   int64
	max   int64
	mu    sync.Mutex
}

var (
	globalMetrics *MetricsCollector
	metricsOnce   sync.Once
)

// NewMetricsCollector returns an empty collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		counters:   make(map[string]*int64),
		gauges:     make(map[string]*int64),
		histograms: make(map[string]*Histogram),
	}
}

// GetMetricsCollector returns the global metrics collector
func GetMetricsCollector() *MetricsCollector {
	metricsOnce.Do(func() {
		globalMetrics = NewMetricsCollector()
	})
	return globalMetrics
}

// slot returns the cell for name in set, creating it under the write lock on first use.
func (m *MetricsCollector) slot(set map[string]*int64, name string) *int64 {
	m.mu.RLock()
	v, ok := set[name]
	m.mu.RUnlock()
	if ok {
		return v
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok = set[name]; !ok {
		v = new(int64)
		set[name] = v
	}
	return v
}

func (m *MetricsCollector) IncrementCounter(name string) {
	atomic.AddInt64(m.slot(m.counters, name), 1)
}

func (m *MetricsCollector) AddCounter(name string, value int64) {
	atomic.AddInt64(m.slot(m.counters, name), value)
}

func (m *MetricsCollector) SetGauge(name string, value int64) {
	atomic.StoreInt64(m.slot(m.gauges, name), value)
}

func (m *MetricsCollector) IncGauge(name string) {
	atomic.AddInt64(m.slot(m.gauges, name), 1)
}

func (m *MetricsCollector) DecGauge(name string) {
	atomic.AddInt64(m.slot(m.gauges, name), -1)
}

func (m *MetricsCollector) GetGauge(name string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.gauges[name]; ok {
		return atomic.LoadInt64(v)
	}
	return 0
}

func (m *MetricsCollector) GetCounterValue(name string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.counters[name]; ok {
		return atomic.LoadInt64(v)
	}
	return 0
}

// RecordHistogram records a value in a histogram
func (m *MetricsCollector) RecordHistogram(name string, value int64) {
	m.mu.RLock()
	h, ok := m.histograms[name]
	m.mu.RUnlock()

	if !ok {
		m.mu.Lock()
		if h, ok = m.histograms[name]; !ok {
			h = &Histogram{min: value, max: value}
			m.histograms[name] = h
		}
		m.mu.Unlock()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	if value < h.min {
		h.min = value
	}
	if value > h.max {
		h.max = value
	}
}

// GetMetrics returns a snapshot of all metrics
func (m *MetricsCollector) GetMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counters := make(map[string]int64, len(m.counters))
	for name, v := range m.counters {
		counters[name] = atomic.LoadInt64(v)
	}

	gauges := make(map[string]int64, len(m.gauges))
	for name, v := range m.gauges {
		gauges[name] = atomic.LoadInt64(v)
	}

	histograms := make(map[string]map[string]int64, len(m.histograms))
	for name, h := range m.histograms {
		h.mu.Lock()
		histograms[name] = map[string]int64{
			"count": h.count,
			"sum":   h.sum,
			"min":   h.min,
			"max":   h.max,
		}
		h.mu.Unlock()
	}

	return map[string]interface{}{
		"counters":   counters,
		"gauges":     gauges,
		"histograms": histograms,
	}
}

// APIMetrics names the metrics the service records.
type APIMetrics struct {
	metrics *MetricsCollector
	logger  *Logger
}

// NewAPIMetrics creates a recorder over the given collector and logger.
func NewAPIMetrics(collector *MetricsCollector, logger *Logger) *APIMetrics {
	if collector == nil {
		collector = GetMetricsCollector()
	}
	if logger == nil {
		logger = GetLogger()
	}
	return &APIMetrics{metrics: collector, logger: logger}
}

// Collector exposes the backing collector for snapshotting.
func (am *APIMetrics) Collector() *MetricsCollector {
	return am.metrics
}

// RecordAPIRequest records metrics for an API request
func (am *APIMetrics) RecordAPIRequest(route, method string, statusCode int, duration time.Duration) {
	am.metrics.IncrementCounter("api_requests_total")
	am.metrics.IncrementCounter("api_requests_" + method + "_" + route)
	am.metrics.IncrementCounter("api_responses_" + strconv.Itoa(statusCode/100) + "xx")
	am.metrics.RecordHistogram("api_latency_ms", duration.Milliseconds())

	am.logger.Debug("API request completed", map[string]interface{}{
		"route":    route,
		"method":   method,
		"status":   statusCode,
		"duration": duration.Milliseconds(),
	})
}

// RecordGeneratorCall records one round trip to the language model.
func (am *APIMetrics) RecordGeneratorCall(provider, model string, tokens int, duration time.Duration, err error) {
	am.metrics.IncrementCounter("generator_requests_total")
	am.metrics.IncrementCounter("generator_requests_" + provider)
	am.metrics.AddCounter("generator_tokens_total", int64(tokens))
	am.metrics.RecordHistogram("generator_latency_ms", duration.Milliseconds())
	if err != nil {
		am.metrics.IncrementCounter("generator_errors_total")
	}

	am.logger.Info("Generator request completed", map[string]interface{}{
		"provider": provider,
		"model":    model,
		"tokens":   tokens,
		"duration": duration.Milliseconds(),
		"failed":   err != nil,
	})
}

// RecordFormatRetry counts generators that rejected the structured-output flag.
func (am *APIMetrics) RecordFormatRetry(provider string) {
	am.metrics.IncrementCounter("generator_format_retry_total")
	am.metrics.IncrementCounter("generator_format_retry_" + provider)
}

// RecordTurn counts chat turns by outcome: "generated", "fallback" or "federal_redirect".
func (am *APIMetrics) RecordTurn(outcome, intent string) {
	am.metrics.IncrementCounter("iza_turns_total")
	switch outcome {
	case "fallback":
		am.metrics.IncrementCounter("iza_fallback_total")
	case "federal_redirect":
		am.metrics.IncrementCounter("iza_federal_redirect_total")
	}
	if intent != "" {
		am.metrics.IncrementCounter("iza_intent_" + intent)
	}
}

// RecordRedaction counts redaction events per category.
func (am *APIMetrics) RecordRedaction(categories []string) {
	if len(categories) == 0 {
		return
	}
	am.metrics.IncrementCounter("iza_redactions_total")
	for _, c := range categories {
		am.metrics.IncrementCounter("iza_redactions_" + strings.ReplaceAll(c, " ", "_"))
	}
}

// RecordManifestation counts a stored manifestation and its attachment volume.
func (am *APIMetrics) RecordManifestation(kind string, attachments int, bytes int64) {
	am.metrics.IncrementCounter("manifestations_created_total")
	am.metrics.IncrementCounter("manifestations_kind_" + kind)
	am.metrics.AddCounter("attachments_total", int64(attachments))
	if bytes > 0 {
		am.metrics.RecordHistogram("attachments_bytes", bytes)
	}
}

// RecordError records an error metric
func (am *APIMetrics) RecordError(errorType, component string) {
	am.metrics.IncrementCounter("errors_total")
	am.metrics.IncrementCounter("errors_" + errorType)
	am.metrics.IncrementCounter("errors_" + component)

	am.logger.Warn("Error recorded", map[string]interface{}{
		"type":      errorType,
		"component": component,
	})
}

// StartMetricsCollection logs a metrics summary every interval until ctx is done.
func (am *APIMetrics) StartMetricsCollection(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				am.logger.Info("Periodic metrics report", map[string]interface{}{
					"metrics": am.metrics.GetMetrics(),
				})
			}
		}
	}()
}
