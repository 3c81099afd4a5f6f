package observability

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	globalMetrics Metrics
	metricsMu     sync.RWMutex
)

// Metrics records request-level telemetry. All methods tolerate a nil or
// uninitialized receiver.
type Metrics interface {
	RecordLLMCall(ctx context.Context, provider, model string, duration time.Duration, err error)
	RecordToolCall(ctx context.Context, tool string, duration time.Duration, err error)
	RecordAgentTurn(ctx context.Context, duration time.Duration, tokens int)
}

// PrometheusMetrics implements Metrics over OTel instruments backed by a
// Prometheus exporter.
type PrometheusMetrics struct {
	llmDuration metric.Float64Histogram
	llmCalls    metric.Int64Counter
	llmErrors   metric.Int64Counter

	toolDuration metric.Float64Histogram
	toolCalls    metric.Int64Counter
	toolErrors   metric.Int64Counter

	turnDuration metric.Float64Histogram
	turnTokens   metric.Int64Counter
}

func (m *PrometheusMetrics) RecordLLMCall(ctx context.Context, provider, model string, duration time.Duration, err error) {
	if m == nil || m.llmDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("provider", provider),
		attribute.String("model", model),
	}

	m.llmDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.llmCalls.Add(ctx, 1, metric.WithAttributes(attrs...))

	if err != nil {
		m.llmErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (m *PrometheusMetrics) RecordToolCall(ctx context.Context, tool string, duration time.Duration, err error) {
	if m == nil || m.toolDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("tool", tool),
	}

	m.toolDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.toolCalls.Add(ctx, 1, metric.WithAttributes(attrs...))

	if err != nil {
		m.toolErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (m *PrometheusMetrics) RecordAgentTurn(ctx context.Context, duration time.Duration, tokens int) {
	if m == nil || m.turnDuration == nil {
		return
	}

	m.turnDuration.Record(ctx, duration.Seconds())
	if tokens > 0 {
		m.turnTokens.Add(ctx, int64(tokens))
	}
}

// SetGlobalMetrics installs the process-wide metrics sink.
func SetGlobalMetrics(m Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	globalMetrics = m
}

// RecordLLMCall records one LLM request against the global sink, if set.
func RecordLLMCall(ctx context.Context, provider, model string, duration time.Duration, err error) {
	metricsMu.RLock()
	m := globalMetrics
	metricsMu.RUnlock()
	if m != nil {
		m.RecordLLMCall(ctx, provider, model, duration, err)
	}
}

// RecordToolCall records one tool execution against the global sink, if set.
func RecordToolCall(ctx context.Context, tool string, duration time.Duration, err error) {
	metricsMu.RLock()
	m := globalMetrics
	metricsMu.RUnlock()
	if m != nil {
		m.RecordToolCall(ctx, tool, duration, err)
	}
}

// RecordAgentTurn records one agent turn against the global sink, if set.
func RecordAgentTurn(ctx context.Context, duration time.Duration, tokens int) {
	metricsMu.RLock()
	m := globalMetrics
	metricsMu.RUnlock()
	if m != nil {
		m.RecordAgentTurn(ctx, duration, tokens)
	}
}
