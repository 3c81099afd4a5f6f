package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// InitMetrics builds the Prometheus-backed instruments. When disabled, the
// returned Metrics is a no-op.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (*PrometheusMetrics, error) {
	if !cfg.Enabled {
		return &PrometheusMetrics{}, nil
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	)

	meter := meterProvider.Meter("orkestra")

	llmDuration, err := meter.Float64Histogram(
		"orkestra_llm_request_duration_seconds",
		metric.WithDescription("LLM request duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm duration histogram: %w", err)
	}

	llmCalls, err := meter.Int64Counter(
		"orkestra_llm_requests_total",
		metric.WithDescription("Total LLM requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm calls counter: %w", err)
	}

	llmErrors, err := meter.Int64Counter(
		"orkestra_llm_errors_total",
		metric.WithDescription("Total LLM request errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm errors counter: %w", err)
	}

	toolDuration, err := meter.Float64Histogram(
		"orkestra_tool_execution_duration_seconds",
		metric.WithDescription("Tool execution duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool duration histogram: %w", err)
	}

	toolCalls, err := meter.Int64Counter(
		"orkestra_tool_calls_total",
		metric.WithDescription("Total tool calls"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool calls counter: %w", err)
	}

	toolErrors, err := meter.Int64Counter(
		"orkestra_tool_errors_total",
		metric.WithDescription("Total tool call errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool errors counter: %w", err)
	}

	turnDuration, err := meter.Float64Histogram(
		"orkestra_agent_turn_duration_seconds",
		metric.WithDescription("Agent turn duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create turn duration histogram: %w", err)
	}

	turnTokens, err := meter.Int64Counter(
		"orkestra_agent_tokens_total",
		metric.WithDescription("Total tokens consumed by agent turns"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create turn tokens counter: %w", err)
	}

	return &PrometheusMetrics{
		llmDuration:  llmDuration,
		llmCalls:     llmCalls,
		llmErrors:    llmErrors,
		toolDuration: toolDuration,
		toolCalls:    toolCalls,
		toolErrors:   toolErrors,
		turnDuration: turnDuration,
		turnTokens:   turnTokens,
	}, nil
}
