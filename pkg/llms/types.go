package llms

import (
	"context"

	"github.com/orkestra-dev/orkestra/pkg/protocol"
)

// ToolDefinition describes a callable tool offered to the model. Parameters
// is a JSON Schema object.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// ToolChoice controls how the model may use tools.
type ToolChoice struct {
	// Mode is "auto", "none" or "function".
	Mode string
	// Function names the forced function when Mode == "function".
	Function string
}

// ReasoningEffort levels for reasoning-capable models.
type ReasoningEffort string

const (
	ReasoningEffortLow    ReasoningEffort = "low"
	ReasoningEffortMedium ReasoningEffort = "medium"
	ReasoningEffortHigh   ReasoningEffort = "high"
)

// CompletionParams describes one completion request.
type CompletionParams struct {
	Model       string
	Messages    []protocol.Message
	Tools       []ToolDefinition
	ToolChoice  ToolChoice
	Temperature float64
	TopP        float64
	MaxTokens   int

	// Reasoning is an optional effort hint for reasoning models.
	Reasoning ReasoningEffort

	// ThinkingBudget is an opaque token budget hint passed through to
	// providers that support extended thinking. Zero means unset.
	ThinkingBudget int
}

// Usage reports token accounting for one request.
type Usage struct {
	PromptTokens             int `json:"prompt_tokens"`
	CompletionTokens         int `json:"completion_tokens"`
	TotalTokens              int `json:"total_tokens"`
	CachedTokens             int `json:"cached_tokens,omitempty"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`

	// Cost is the provider-reported price of the request, in the provider's
	// currency units. Zero when the provider does not report cost.
	Cost float64 `json:"cost,omitempty"`
}

// CompletionResult is the aggregated outcome of one completion.
type CompletionResult struct {
	Content      string
	ToolCalls    []protocol.ToolCall
	Usage        Usage
	FinishReason string
}

// ToolCallDelta is one streamed tool-call fragment, already keyed to a
// stable tool call by the parser.
type ToolCallDelta struct {
	ID        string
	Name      string
	Arguments string
}

// StreamHandlers receive streaming callbacks. Any handler may be nil.
type StreamHandlers struct {
	// OnChunk receives a content fragment with the latest observed usage.
	OnChunk func(delta string, usage *Usage)

	// OnToolCallDelta receives tool-call fragments as they aggregate.
	OnToolCallDelta func(delta ToolCallDelta)

	// OnStreamFinish is called exactly once, after both a finish reason and
	// usage have been observed.
	OnStreamFinish func(finishReason string, usage *Usage)
}

// ModelInfo describes one available model.
type ModelInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name,omitempty"`
	ContextWindow int    `json:"context_window,omitempty"`
}

// Provider is the provider-agnostic completion contract.
type Provider interface {
	// Name identifies the provider type ("openai-compat", "anthropic").
	Name() string

	// GenerateCompletion performs a non-streaming completion.
	GenerateCompletion(ctx context.Context, params CompletionParams) (*CompletionResult, error)

	// StreamCompletion performs a streaming completion, invoking handlers as
	// deltas arrive, and returns the aggregated result.
	StreamCompletion(ctx context.Context, params CompletionParams, handlers StreamHandlers) (*CompletionResult, error)

	// ListModels enumerates available models, deduplicated by id.
	ListModels(ctx context.Context) ([]ModelInfo, error)
}
