package llms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/orkestra-dev/orkestra/pkg/auth"
	"github.com/orkestra-dev/orkestra/pkg/observability"
	"github.com/orkestra-dev/orkestra/pkg/protocol"
)

// ModelListing controls how a provider enumerates models.
type ModelListing struct {
	// Disabled marks model listing as unsupported.
	Disabled bool
	// Path overrides the default listing endpoint path.
	Path string
	// Static, when non-empty, is returned verbatim without a network call.
	Static []ModelInfo
}

// OpenAIConfig configures an OpenAI-compatible provider.
type OpenAIConfig struct {
	// BaseURL is the API root, e.g. "https://api.openai.com/v1".
	BaseURL string
	// Models controls the model listing behavior.
	Models ModelListing
}

// OpenAIProvider speaks the OpenAI-compatible chat completions wire format,
// including GitHub Copilot's dialect.
type OpenAIProvider struct {
	config    OpenAIConfig
	transport *auth.Transport
}

// NewOpenAIProvider creates an OpenAI-compatible provider over an
// authenticating transport.
func NewOpenAIProvider(transport *auth.Transport, cfg OpenAIConfig) *OpenAIProvider {
	return &OpenAIProvider{
		config:    cfg,
		transport: transport,
	}
}

func (p *OpenAIProvider) Name() string {
	return "openai-compat"
}

type openAIRequest struct {
	Model         string               `json:"model"`
	Messages      []openAIMessage      `json:"messages"`
	Temperature   *float64             `json:"temperature,omitempty"`
	TopP          *float64             `json:"top_p,omitempty"`
	MaxTokens     *int                 `json:"max_tokens,omitempty"`
	Stream        bool                 `json:"stream,omitempty"`
	StreamOptions *openAIStreamOptions `json:"stream_options,omitempty"`
	Tools         []openAITool         `json:"tools,omitempty"`
	ToolChoice    interface{}          `json:"tool_choice,omitempty"`
	Reasoning     string               `json:"reasoning_effort,omitempty"`
}

type openAIStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    interface{}      `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Name       string           `json:"name,omitempty"`
}

type openAIContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAITool struct {
	Type     string             `json:"type"`
	Function openAIToolFunction `json:"function"`
}

type openAIToolFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type openAIToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openAIUsage struct {
	PromptTokens        int `json:"prompt_tokens"`
	CompletionTokens    int `json:"completion_tokens"`
	TotalTokens         int `json:"total_tokens"`
	PromptTokensDetails *struct {
		CachedTokens int `json:"cached_tokens"`
	} `json:"prompt_tokens_details"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`

	// Cost is reported by OpenRouter-style gateways.
	Cost float64 `json:"cost"`
}

func (u *openAIUsage) toUsage() Usage {
	usage := Usage{
		PromptTokens:             u.PromptTokens,
		CompletionTokens:         u.CompletionTokens,
		TotalTokens:              u.TotalTokens,
		CacheCreationInputTokens: u.CacheCreationInputTokens,
		CacheReadInputTokens:     u.CacheReadInputTokens,
		Cost:                     u.Cost,
	}
	if u.PromptTokensDetails != nil {
		usage.CachedTokens = u.PromptTokensDetails.CachedTokens
	}
	return usage
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content   string           `json:"content"`
			ToolCalls []openAIToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *openAIUsage `json:"usage"`
	Error *openAIError `json:"error"`
}

func (p *OpenAIProvider) buildRequest(params CompletionParams, stream bool) openAIRequest {
	messages := make([]openAIMessage, 0, len(params.Messages))
	for _, msg := range params.Messages {
		messages = append(messages, toOpenAIMessage(msg))
	}

	request := openAIRequest{
		Model:    params.Model,
		Messages: messages,
		Stream:   stream,
	}
	if stream {
		request.StreamOptions = &openAIStreamOptions{IncludeUsage: true}
	}
	if params.Temperature > 0 {
		temp := params.Temperature
		request.Temperature = &temp
	}
	if params.TopP > 0 {
		topP := params.TopP
		request.TopP = &topP
	}
	if params.MaxTokens > 0 {
		maxTokens := params.MaxTokens
		request.MaxTokens = &maxTokens
	}
	if params.Reasoning != "" {
		request.Reasoning = string(params.Reasoning)
	}

	// tools is omitted entirely (never sent empty), and tool_choice only
	// accompanies a non-empty tools list.
	if len(params.Tools) > 0 {
		request.Tools = make([]openAITool, len(params.Tools))
		for i, tool := range params.Tools {
			request.Tools[i] = openAITool{
				Type:     "function",
				Function: openAIToolFunction(tool),
			}
		}
		request.ToolChoice = toOpenAIToolChoice(params.ToolChoice)
	}

	return request
}

func toOpenAIToolChoice(choice ToolChoice) interface{} {
	switch choice.Mode {
	case "none":
		return "none"
	case "function":
		return map[string]interface{}{
			"type":     "function",
			"function": map[string]interface{}{"name": choice.Function},
		}
	case "auto", "":
		return "auto"
	default:
		return choice.Mode
	}
}

func toOpenAIMessage(msg protocol.Message) openAIMessage {
	out := openAIMessage{
		Role:       string(msg.Role),
		ToolCallID: msg.ToolCallID,
	}
	if msg.Role == protocol.RoleTool {
		out.Name = msg.Name
	}

	if len(msg.Parts) > 0 {
		parts := make([]openAIContentPart, 0, len(msg.Parts))
		for _, part := range msg.Parts {
			switch part.Type {
			case protocol.ContentPartTypeText:
				parts = append(parts, openAIContentPart{Type: "text", Text: part.Text})
			case protocol.ContentPartTypeImageURL:
				parts = append(parts, openAIContentPart{
					Type:     "image_url",
					ImageURL: &openAIImageURL{URL: part.URL},
				})
			case protocol.ContentPartTypeFile:
				if part.Data != "" && part.MediaType != "" {
					parts = append(parts, openAIContentPart{
						Type:     "image_url",
						ImageURL: &openAIImageURL{URL: fmt.Sprintf("data:%s;base64,%s", part.MediaType, part.Data)},
					})
				}
			}
		}
		out.Content = parts
	} else {
		out.Content = msg.Content
	}

	if len(msg.ToolCalls) > 0 {
		out.ToolCalls = make([]openAIToolCall, len(msg.ToolCalls))
		for i, tc := range msg.ToolCalls {
			call := openAIToolCall{ID: tc.ID, Type: "function"}
			call.Function.Name = tc.Name
			call.Function.Arguments = tc.Arguments
			out.ToolCalls[i] = call
		}
	}

	return out
}

// GenerateCompletion performs a non-streaming chat completion.
func (p *OpenAIProvider) GenerateCompletion(ctx context.Context, params CompletionParams) (*CompletionResult, error) {
	tracer := observability.Tracer("orkestra.llm")
	ctx, span := tracer.Start(ctx, "llm.generate",
		trace.WithAttributes(
			attribute.String("llm.model", params.Model),
			attribute.String("llm.provider", p.Name()),
			attribute.Bool("llm.streaming", false),
		),
	)
	defer span.End()

	start := time.Now()
	result, err := p.generate(ctx, params)
	observability.RecordLLMCall(ctx, p.Name(), params.Model, time.Since(start), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("llm.tokens.prompt", result.Usage.PromptTokens),
		attribute.Int("llm.tokens.completion", result.Usage.CompletionTokens),
	)
	span.SetStatus(codes.Ok, "")
	return result, nil
}

func (p *OpenAIProvider) generate(ctx context.Context, params CompletionParams) (*CompletionResult, error) {
	body, err := json.Marshal(p.buildRequest(params, false))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := p.transport.Post(ctx, p.config.BaseURL+"/chat/completions", body, nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, p.responseError(resp, params.Model)
		}
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, p.responseError(resp, params.Model)
	}

	var parsed openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &Error{Kind: KindUnknown, Message: "failed to decode response", Err: err}
	}
	if parsed.Error != nil {
		return nil, p.apiError(parsed.Error, resp.StatusCode, params.Model)
	}
	if len(parsed.Choices) == 0 {
		return nil, &Error{Kind: KindUnknown, Message: "no response choices returned"}
	}

	choice := parsed.Choices[0]
	result := &CompletionResult{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
	}
	if parsed.Usage != nil {
		result.Usage = parsed.Usage.toUsage()
	}
	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, protocol.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	return result, nil
}

// StreamCompletion performs a streaming chat completion, forwarding deltas
// to handlers and returning the aggregated result.
func (p *OpenAIProvider) StreamCompletion(ctx context.Context, params CompletionParams, handlers StreamHandlers) (*CompletionResult, error) {
	tracer := observability.Tracer("orkestra.llm")
	ctx, span := tracer.Start(ctx, "llm.stream",
		trace.WithAttributes(
			attribute.String("llm.model", params.Model),
			attribute.String("llm.provider", p.Name()),
			attribute.Bool("llm.streaming", true),
		),
	)
	defer span.End()

	start := time.Now()
	result, err := p.stream(ctx, params, handlers)
	observability.RecordLLMCall(ctx, p.Name(), params.Model, time.Since(start), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return result, nil
}

func (p *OpenAIProvider) stream(ctx context.Context, params CompletionParams, handlers StreamHandlers) (*CompletionResult, error) {
	body, err := json.Marshal(p.buildRequest(params, true))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	headers := http.Header{}
	headers.Set("Accept", "text/event-stream")

	resp, err := p.transport.Post(ctx, p.config.BaseURL+"/chat/completions", body, headers)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, p.responseError(resp, params.Model)
		}
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, p.responseError(resp, params.Model)
	}

	parser := newStreamParser(handlers)
	if err := parser.run(resp.Body); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &Error{Kind: KindCancelled, Message: "stream cancelled", Err: ctxErr}
		}
		if classified, ok := err.(*Error); ok {
			return nil, classified
		}
		return nil, &Error{Kind: KindNetwork, Message: "stream read failed", Err: err}
	}

	return parser.result(), nil
}

// responseError converts a non-2xx response into a classified error,
// detecting the Copilot model-not-supported case.
func (p *OpenAIProvider) responseError(resp *http.Response, model string) *Error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	var parsed struct {
		Error *openAIError `json:"error"`
	}
	if err := json.Unmarshal(data, &parsed); err == nil && parsed.Error != nil {
		return p.apiError(parsed.Error, resp.StatusCode, model)
	}

	return httpError(resp.StatusCode, string(data), resp.Header)
}

func (p *OpenAIProvider) apiError(apiErr *openAIError, statusCode int, model string) *Error {
	if apiErr.Code == "unsupported_api_for_model" {
		return &Error{
			Kind:       KindModelUnsupported,
			Message:    fmt.Sprintf("model %q is not supported on the completions endpoint", model),
			StatusCode: statusCode,
		}
	}
	e := httpError(statusCode, apiErr.Message, nil)
	return e
}

type openAIModelsResponse struct {
	Data []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"data"`
}

// ListModels enumerates available models, deduplicated by id (first wins).
func (p *OpenAIProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	if p.config.Models.Disabled {
		return nil, &Error{Kind: KindModelListing, Message: "model listing is not supported by this provider"}
	}
	if len(p.config.Models.Static) > 0 {
		return dedupeModels(p.config.Models.Static), nil
	}

	path := p.config.Models.Path
	if path == "" {
		path = "/models"
	}

	resp, err := p.transport.Get(ctx, p.config.BaseURL+path, nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, p.responseError(resp, "")
		}
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, p.responseError(resp, "")
	}

	var parsed openAIModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &Error{Kind: KindUnknown, Message: "failed to decode model list", Err: err}
	}

	models := make([]ModelInfo, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		models = append(models, ModelInfo{ID: m.ID, Name: m.Name})
	}
	return dedupeModels(models), nil
}

// dedupeModels removes duplicate ids, keeping the first occurrence.
func dedupeModels(models []ModelInfo) []ModelInfo {
	seen := make(map[string]bool, len(models))
	out := make([]ModelInfo, 0, len(models))
	for _, m := range models {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		out = append(out, m)
	}
	return out
}
