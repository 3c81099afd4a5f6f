package llms

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/orkestra-dev/orkestra/pkg/auth"
	"github.com/orkestra-dev/orkestra/pkg/observability"
	"github.com/orkestra-dev/orkestra/pkg/protocol"
)

const (
	anthropicVersion = "2023-06-01"

	// Beta features required when authenticating with OAuth tokens.
	anthropicOAuthBetas = "oauth-2025-04-20,claude-code-20250219,interleaved-thinking-2025-05-14,fine-grained-tool-streaming-2025-05-14"
)

// AnthropicConfig configures the Anthropic messages provider.
type AnthropicConfig struct {
	// BaseURL is the API root, e.g. "https://api.anthropic.com".
	BaseURL string
	// OAuth marks that the transport authenticates with OAuth tokens, which
	// requires the beta feature headers.
	OAuth bool
	// Models controls the model listing behavior.
	Models ModelListing
}

// AnthropicProvider speaks the Anthropic messages wire format.
type AnthropicProvider struct {
	config    AnthropicConfig
	transport *auth.Transport
}

// NewAnthropicProvider creates an Anthropic provider over an authenticating
// transport.
func NewAnthropicProvider(transport *auth.Transport, cfg AnthropicConfig) *AnthropicProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	return &AnthropicProvider{
		config:    cfg,
		transport: transport,
	}
}

func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

type anthropicRequest struct {
	Model       string                  `json:"model"`
	Messages    []anthropicMessage     `json:"messages"`
	MaxTokens   int                    `json:"max_tokens"`
	Temperature *float64               `json:"temperature,omitempty"`
	TopP        *float64               `json:"top_p,omitempty"`
	Stream      bool                   `json:"stream,omitempty"`
	System      []anthropicContent     `json:"system,omitempty"`
	Tools       []anthropicTool        `json:"tools,omitempty"`
	ToolChoice  map[string]interface{} `json:"tool_choice,omitempty"`
	Thinking    *anthropicThinking     `json:"thinking,omitempty"`
}

type anthropicThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicCacheControl struct {
	Type string `json:"type"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	// tool_use fields.
	ID    string                 `json:"id,omitempty"`
	Name  string                 `json:"name,omitempty"`
	Input map[string]interface{} `json:"input,omitempty"`

	// tool_result fields.
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`

	CacheControl *anthropicCacheControl `json:"cache_control,omitempty"`
}

type anthropicTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

type anthropicUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}

func (u *anthropicUsage) toUsage() Usage {
	return Usage{
		PromptTokens:             u.InputTokens,
		CompletionTokens:         u.OutputTokens,
		TotalTokens:              u.InputTokens + u.OutputTokens,
		CacheCreationInputTokens: u.CacheCreationInputTokens,
		CacheReadInputTokens:     u.CacheReadInputTokens,
	}
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
	Usage      anthropicUsage     `json:"usage"`
	Error      *anthropicError    `json:"error"`
}

type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	Delta *struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
	ContentBlock *anthropicContent `json:"content_block"`
	Message      *struct {
		Usage anthropicUsage `json:"usage"`
	} `json:"message"`
	Usage *anthropicUsage `json:"usage"`
	Error *anthropicError `json:"error"`
}

// stopReasonToFinish maps Anthropic stop reasons onto the provider-agnostic
// finish vocabulary.
func stopReasonToFinish(stopReason string) string {
	switch stopReason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "tool_use":
		return "tool_calls"
	case "max_tokens":
		return "length"
	default:
		return stopReason
	}
}

func (p *AnthropicProvider) buildRequest(params CompletionParams, stream bool) anthropicRequest {
	var system []anthropicContent
	messages := make([]anthropicMessage, 0, len(params.Messages))

	for i, msg := range params.Messages {
		switch msg.Role {
		case protocol.RoleSystem:
			if text := msg.Text(); text != "" {
				system = append(system, anthropicContent{Type: "text", Text: text})
			}

		case protocol.RoleTool:
			messages = append(messages, anthropicMessage{
				Role: "user",
				Content: []anthropicContent{{
					Type:      "tool_result",
					ToolUseID: msg.ToolCallID,
					Content:   msg.Content,
				}},
			})

		case protocol.RoleAssistant:
			var content []anthropicContent
			if msg.Content != "" {
				content = append(content, anthropicContent{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				input := map[string]interface{}{}
				if tc.Arguments != "" {
					_ = json.Unmarshal([]byte(tc.Arguments), &input)
				}
				content = append(content, anthropicContent{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: input,
				})
			}
			// Empty assistant messages are dropped, except a trailing one
			// which acts as a prefill.
			if len(content) == 0 {
				if i == len(params.Messages)-1 {
					content = append(content, anthropicContent{Type: "text", Text: ""})
				} else {
					continue
				}
			}
			messages = append(messages, anthropicMessage{Role: "assistant", Content: content})

		case protocol.RoleUser:
			if msg.IsEmpty() {
				continue
			}
			messages = append(messages, anthropicMessage{
				Role:    "user",
				Content: []anthropicContent{{Type: "text", Text: msg.Text()}},
			})
		}
	}

	applyCacheHints(system, messages)

	request := anthropicRequest{
		Model:     params.Model,
		Messages:  messages,
		MaxTokens: params.MaxTokens,
		Stream:    stream,
		System:    system,
	}
	if request.MaxTokens <= 0 {
		request.MaxTokens = 4096
	}
	if params.Temperature > 0 {
		temp := params.Temperature
		request.Temperature = &temp
	}
	if params.TopP > 0 {
		topP := params.TopP
		request.TopP = &topP
	}
	if params.ThinkingBudget > 0 {
		request.Thinking = &anthropicThinking{
			Type:         "enabled",
			BudgetTokens: params.ThinkingBudget,
		}
	}

	if len(params.Tools) > 0 {
		request.Tools = make([]anthropicTool, len(params.Tools))
		for i, tool := range params.Tools {
			request.Tools[i] = anthropicTool{
				Name:        tool.Name,
				Description: tool.Description,
				InputSchema: tool.Parameters,
			}
		}
		switch params.ToolChoice.Mode {
		case "none":
			request.ToolChoice = map[string]interface{}{"type": "none"}
		case "function":
			request.ToolChoice = map[string]interface{}{"type": "tool", "name": params.ToolChoice.Function}
		}
	}

	return request
}

// applyCacheHints marks the first two system blocks and the last content
// block of the last two conversational messages as cacheable, so the prompt
// prefix is reused across turns.
func applyCacheHints(system []anthropicContent, messages []anthropicMessage) {
	for i := range system {
		if i >= 2 {
			break
		}
		system[i].CacheControl = &anthropicCacheControl{Type: "ephemeral"}
	}

	hinted := 0
	for i := len(messages) - 1; i >= 0 && hinted < 2; i-- {
		content := messages[i].Content
		if len(content) == 0 {
			continue
		}
		content[len(content)-1].CacheControl = &anthropicCacheControl{Type: "ephemeral"}
		hinted++
	}
}

func (p *AnthropicProvider) headers() http.Header {
	h := http.Header{}
	h.Set("anthropic-version", anthropicVersion)
	if p.config.OAuth {
		h.Set("anthropic-beta", anthropicOAuthBetas)
	}
	return h
}

// GenerateCompletion performs a non-streaming messages request.
func (p *AnthropicProvider) GenerateCompletion(ctx context.Context, params CompletionParams) (*CompletionResult, error) {
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
	span.SetStatus(codes.Ok, "")
	return result, nil
}

func (p *AnthropicProvider) generate(ctx context.Context, params CompletionParams) (*CompletionResult, error) {
	body, err := json.Marshal(p.buildRequest(params, false))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := p.transport.Post(ctx, p.config.BaseURL+"/v1/messages", body, p.headers())
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, p.responseError(resp)
		}
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, p.responseError(resp)
	}

	var parsed anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &Error{Kind: KindUnknown, Message: "failed to decode response", Err: err}
	}
	if parsed.Error != nil {
		return nil, httpError(resp.StatusCode, parsed.Error.Message, nil)
	}

	result := &CompletionResult{
		Usage:        parsed.Usage.toUsage(),
		FinishReason: stopReasonToFinish(parsed.StopReason),
	}
	for _, block := range parsed.Content {
		switch block.Type {
		case "text":
			result.Content += block.Text
		case "tool_use":
			args := "{}"
			if block.Input != nil {
				if data, err := json.Marshal(block.Input); err == nil {
					args = string(data)
				}
			}
			result.ToolCalls = append(result.ToolCalls, protocol.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: args,
			})
		}
	}

	return result, nil
}

// StreamCompletion performs a streaming messages request.
func (p *AnthropicProvider) StreamCompletion(ctx context.Context, params CompletionParams, handlers StreamHandlers) (*CompletionResult, error) {
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

func (p *AnthropicProvider) stream(ctx context.Context, params CompletionParams, handlers StreamHandlers) (*CompletionResult, error) {
	body, err := json.Marshal(p.buildRequest(params, true))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	headers := p.headers()
	headers.Set("Accept", "text/event-stream")

	resp, err := p.transport.Post(ctx, p.config.BaseURL+"/v1/messages", body, headers)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, p.responseError(resp)
		}
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, p.responseError(resp)
	}

	result, err := p.consumeStream(resp.Body, handlers)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &Error{Kind: KindCancelled, Message: "stream cancelled", Err: ctxErr}
		}
		if classified, ok := err.(*Error); ok {
			return nil, classified
		}
		return nil, &Error{Kind: KindNetwork, Message: "stream read failed", Err: err}
	}
	return result, nil
}

type anthropicToolBuilder struct {
	id   string
	name string
	args strings.Builder
}

func (p *AnthropicProvider) consumeStream(r io.Reader, handlers StreamHandlers) (*CompletionResult, error) {
	var (
		content      strings.Builder
		sawContent   bool
		usage        anthropicUsage
		sawUsage     bool
		finishReason string
		finishSent   bool
		toolBlocks   = map[int]*anthropicToolBuilder{}
		toolOrder    []int
	)

	emitFinish := func() {
		if finishSent || finishReason == "" || !sawUsage {
			return
		}
		finishSent = true
		if handlers.OnStreamFinish != nil {
			u := usage.toUsage()
			handlers.OnStreamFinish(finishReason, &u)
		}
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, ":") || strings.HasPrefix(line, "event:") {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		var event anthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}

		switch event.Type {
		case "error":
			if event.Error != nil {
				return nil, &Error{Kind: KindUnknown, Message: event.Error.Message}
			}

		case "message_start":
			if event.Message != nil {
				usage.InputTokens = event.Message.Usage.InputTokens
				usage.CacheCreationInputTokens = event.Message.Usage.CacheCreationInputTokens
				usage.CacheReadInputTokens = event.Message.Usage.CacheReadInputTokens
			}

		case "content_block_start":
			if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
				builder := &anthropicToolBuilder{
					id:   event.ContentBlock.ID,
					name: event.ContentBlock.Name,
				}
				toolBlocks[event.Index] = builder
				toolOrder = append(toolOrder, event.Index)
				if handlers.OnToolCallDelta != nil {
					handlers.OnToolCallDelta(ToolCallDelta{ID: builder.id, Name: builder.name})
				}
			}

		case "content_block_delta":
			if event.Delta == nil {
				continue
			}
			if event.Delta.Text != "" {
				fragment := event.Delta.Text
				if !sawContent {
					if strings.Trim(fragment, "\n") == "" {
						continue
					}
					sawContent = true
				}
				content.WriteString(fragment)
				if handlers.OnChunk != nil {
					var u *Usage
					if sawUsage {
						converted := usage.toUsage()
						u = &converted
					}
					handlers.OnChunk(fragment, u)
				}
			}
			if event.Delta.Type == "input_json_delta" && event.Delta.PartialJSON != "" {
				if builder, ok := toolBlocks[event.Index]; ok {
					builder.args.WriteString(event.Delta.PartialJSON)
					if handlers.OnToolCallDelta != nil {
						handlers.OnToolCallDelta(ToolCallDelta{
							ID:        builder.id,
							Arguments: event.Delta.PartialJSON,
						})
					}
				}
			}

		case "message_delta":
			if event.Usage != nil {
				usage.OutputTokens = event.Usage.OutputTokens
				sawUsage = true
			}
			if event.Delta != nil && event.Delta.StopReason != "" {
				finishReason = stopReasonToFinish(event.Delta.StopReason)
			}
			emitFinish()

		case "message_stop":
			emitFinish()
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	result := &CompletionResult{
		Content:      content.String(),
		FinishReason: finishReason,
	}
	if sawUsage || usage.InputTokens > 0 {
		result.Usage = usage.toUsage()
	}
	for _, idx := range toolOrder {
		builder := toolBlocks[idx]
		args := builder.args.String()
		if args == "" {
			args = "{}"
		}
		result.ToolCalls = append(result.ToolCalls, protocol.ToolCall{
			ID:        builder.id,
			Name:      builder.name,
			Arguments: args,
		})
	}
	return result, nil
}

func (p *AnthropicProvider) responseError(resp *http.Response) *Error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	var parsed struct {
		Error *anthropicError `json:"error"`
	}
	if err := json.Unmarshal(data, &parsed); err == nil && parsed.Error != nil {
		return httpError(resp.StatusCode, parsed.Error.Message, resp.Header)
	}
	return httpError(resp.StatusCode, string(data), resp.Header)
}

type anthropicModelsResponse struct {
	Data []struct {
		ID          string `json:"id"`
		DisplayName string `json:"display_name"`
	} `json:"data"`
}

// ListModels enumerates available models, deduplicated by id (first wins).
func (p *AnthropicProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	if p.config.Models.Disabled {
		return nil, &Error{Kind: KindModelListing, Message: "model listing is not supported by this provider"}
	}
	if len(p.config.Models.Static) > 0 {
		return dedupeModels(p.config.Models.Static), nil
	}

	path := p.config.Models.Path
	if path == "" {
		path = "/v1/models"
	}

	resp, err := p.transport.Get(ctx, p.config.BaseURL+path, p.headers())
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, p.responseError(resp)
		}
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, p.responseError(resp)
	}

	var parsed anthropicModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &Error{Kind: KindUnknown, Message: "failed to decode model list", Err: err}
	}

	models := make([]ModelInfo, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		models = append(models, ModelInfo{ID: m.ID, Name: m.DisplayName})
	}
	return dedupeModels(models), nil
}
