package llms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/orkestra-dev/orkestra/pkg/auth"
	"github.com/orkestra-dev/orkestra/pkg/httpclient"
	"github.com/orkestra-dev/orkestra/pkg/protocol"
)

func TestAnthropicBuildRequestMapsRoles(t *testing.T) {
	provider := NewAnthropicProvider(nil, AnthropicConfig{})

	params := CompletionParams{
		Model:     "claude-sonnet-4",
		MaxTokens: 1024,
		Messages: []protocol.Message{
			protocol.NewSystemMessage("You are helpful."),
			protocol.NewUserMessage("run the search"),
			protocol.NewAssistantMessage("", []protocol.ToolCall{
				{ID: "toolu_1", Name: "search", Arguments: `{"q":"go"}`},
			}),
			protocol.NewToolMessage("toolu_1", "search", "found it"),
		},
	}

	request := provider.buildRequest(params, false)

	if len(request.System) != 1 || request.System[0].Text != "You are helpful." {
		t.Fatalf("System = %+v", request.System)
	}
	if len(request.Messages) != 3 {
		t.Fatalf("Messages = %d, want 3", len(request.Messages))
	}

	assistant := request.Messages[1]
	if assistant.Role != "assistant" {
		t.Errorf("role = %q, want assistant", assistant.Role)
	}
	if len(assistant.Content) != 1 || assistant.Content[0].Type != "tool_use" {
		t.Fatalf("assistant content = %+v", assistant.Content)
	}
	if assistant.Content[0].Input["q"] != "go" {
		t.Errorf("tool_use input = %+v", assistant.Content[0].Input)
	}

	toolResult := request.Messages[2]
	if toolResult.Role != "user" {
		t.Errorf("tool result role = %q, want user", toolResult.Role)
	}
	if toolResult.Content[0].Type != "tool_result" || toolResult.Content[0].ToolUseID != "toolu_1" {
		t.Errorf("tool result = %+v", toolResult.Content[0])
	}
}

func TestAnthropicCacheHints(t *testing.T) {
	provider := NewAnthropicProvider(nil, AnthropicConfig{})

	params := CompletionParams{
		Model:     "claude-sonnet-4",
		MaxTokens: 1024,
		Messages: []protocol.Message{
			protocol.NewSystemMessage("first system"),
			protocol.NewSystemMessage("second system"),
			protocol.NewSystemMessage("third system"),
			protocol.NewUserMessage("one"),
			protocol.NewAssistantMessage("two", nil),
			protocol.NewUserMessage("three"),
		},
	}

	request := provider.buildRequest(params, false)

	if request.System[0].CacheControl == nil || request.System[1].CacheControl == nil {
		t.Error("first two system blocks should carry cache hints")
	}
	if request.System[2].CacheControl != nil {
		t.Error("third system block should not carry a cache hint")
	}

	// Only the last two conversational messages are hinted.
	last := request.Messages[2].Content
	secondLast := request.Messages[1].Content
	first := request.Messages[0].Content
	if last[len(last)-1].CacheControl == nil {
		t.Error("last message should carry a cache hint")
	}
	if secondLast[len(secondLast)-1].CacheControl == nil {
		t.Error("second to last message should carry a cache hint")
	}
	if first[len(first)-1].CacheControl != nil {
		t.Error("earlier messages should not carry cache hints")
	}
}

func TestAnthropicDropsEmptyMessagesExceptTrailingAssistant(t *testing.T) {
	provider := NewAnthropicProvider(nil, AnthropicConfig{})

	params := CompletionParams{
		Model:     "claude-sonnet-4",
		MaxTokens: 1024,
		Messages: []protocol.Message{
			protocol.NewUserMessage("hello"),
			protocol.NewAssistantMessage("", nil),
			protocol.NewUserMessage("again"),
			protocol.NewAssistantMessage("", nil),
		},
	}

	request := provider.buildRequest(params, false)

	if len(request.Messages) != 3 {
		t.Fatalf("Messages = %d, want 3 (mid-conversation empty assistant dropped, trailing kept)", len(request.Messages))
	}
	if request.Messages[2].Role != "assistant" {
		t.Errorf("trailing message role = %q, want assistant prefill", request.Messages[2].Role)
	}
}

func TestAnthropicOAuthBetaHeaders(t *testing.T) {
	var gotVersion, gotBeta string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotVersion = r.Header.Get("anthropic-version")
		gotBeta = r.Header.Get("anthropic-beta")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"content":[{"type":"text","text":"ok"}],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":1}}`))
	}))
	defer server.Close()

	transport := auth.NewTransport(
		httpclient.New(httpclient.WithMaxAttempts(1)),
		auth.SchemeBearer,
		auth.OAuthCredentials("access", "refresh", time.Time{}),
	)
	provider := NewAnthropicProvider(transport, AnthropicConfig{BaseURL: server.URL, OAuth: true})

	_, err := provider.GenerateCompletion(context.Background(), CompletionParams{
		Model:     "claude-sonnet-4",
		MaxTokens: 64,
		Messages:  []protocol.Message{protocol.NewUserMessage("hi")},
	})
	if err != nil {
		t.Fatalf("GenerateCompletion() error = %v", err)
	}
	if gotVersion != anthropicVersion {
		t.Errorf("anthropic-version = %q", gotVersion)
	}
	if !strings.Contains(gotBeta, "oauth-2025-04-20") {
		t.Errorf("anthropic-beta = %q, want oauth beta", gotBeta)
	}
}

func TestAnthropicGenerateCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %s, want /v1/messages", r.URL.Path)
		}
		var raw map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if raw["max_tokens"] == nil {
			t.Error("max_tokens missing")
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"content":[
				{"type":"text","text":"answer "},
				{"type":"text","text":"text"},
				{"type":"tool_use","id":"toolu_1","name":"lookup","input":{"key":"v"}}
			],
			"stop_reason":"tool_use",
			"usage":{"input_tokens":10,"output_tokens":4,"cache_read_input_tokens":6}
		}`))
	}))
	defer server.Close()

	transport := auth.NewTransport(
		httpclient.New(httpclient.WithMaxAttempts(1)),
		auth.SchemeAPIKeyHeader,
		auth.APIKeyCredentials("sk-ant-test"),
	)
	provider := NewAnthropicProvider(transport, AnthropicConfig{BaseURL: server.URL})

	result, err := provider.GenerateCompletion(context.Background(), CompletionParams{
		Model:     "claude-sonnet-4",
		MaxTokens: 64,
		Messages:  []protocol.Message{protocol.NewUserMessage("hi")},
	})
	if err != nil {
		t.Fatalf("GenerateCompletion() error = %v", err)
	}
	if result.Content != "answer text" {
		t.Errorf("Content = %q", result.Content)
	}
	if result.FinishReason != "tool_calls" {
		t.Errorf("FinishReason = %q, want tool_calls", result.FinishReason)
	}
	if len(result.ToolCalls) != 1 || result.ToolCalls[0].Name != "lookup" {
		t.Fatalf("ToolCalls = %+v", result.ToolCalls)
	}
	if result.Usage.CacheReadInputTokens != 6 {
		t.Errorf("CacheReadInputTokens = %d, want 6", result.Usage.CacheReadInputTokens)
	}
}

func TestAnthropicStreamCompletion(t *testing.T) {
	events := strings.Join([]string{
		`event: message_start`,
		`data: {"type":"message_start","message":{"usage":{"input_tokens":9,"cache_read_input_tokens":3}}}`,
		``,
		`event: content_block_start`,
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
		``,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}`,
		``,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"lo"}}`,
		``,
		`data: {"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"lookup"}}`,
		``,
		`data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"key\":"}}`,
		``,
		`data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"v\"}"}}`,
		``,
		`data: {"type":"content_block_stop","index":1}`,
		``,
		`data: {"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":5}}`,
		``,
		`data: {"type":"message_stop"}`,
		``,
	}, "\n")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(events))
	}))
	defer server.Close()

	transport := auth.NewTransport(
		httpclient.New(httpclient.WithMaxAttempts(1)),
		auth.SchemeAPIKeyHeader,
		auth.APIKeyCredentials("sk-ant-test"),
	)
	provider := NewAnthropicProvider(transport, AnthropicConfig{BaseURL: server.URL})

	var chunks []string
	var finishes int
	result, err := provider.StreamCompletion(context.Background(), CompletionParams{
		Model:     "claude-sonnet-4",
		MaxTokens: 64,
		Messages:  []protocol.Message{protocol.NewUserMessage("hi")},
	}, StreamHandlers{
		OnChunk: func(delta string, usage *Usage) {
			chunks = append(chunks, delta)
		},
		OnStreamFinish: func(reason string, usage *Usage) {
			finishes++
			if reason != "tool_calls" {
				t.Errorf("finish reason = %q, want tool_calls", reason)
			}
			if usage == nil || usage.PromptTokens != 9 || usage.CompletionTokens != 5 {
				t.Errorf("finish usage = %+v", usage)
			}
		},
	})
	if err != nil {
		t.Fatalf("StreamCompletion() error = %v", err)
	}
	if strings.Join(chunks, "") != "Hello" {
		t.Errorf("chunks = %q", chunks)
	}
	if finishes != 1 {
		t.Errorf("OnStreamFinish called %d times, want 1", finishes)
	}
	if len(result.ToolCalls) != 1 {
		t.Fatalf("ToolCalls = %+v", result.ToolCalls)
	}
	if result.ToolCalls[0].Arguments != `{"key":"v"}` {
		t.Errorf("tool call arguments = %q", result.ToolCalls[0].Arguments)
	}
	if result.Usage.CacheReadInputTokens != 3 {
		t.Errorf("CacheReadInputTokens = %d, want 3", result.Usage.CacheReadInputTokens)
	}
}

func TestAnthropicThinkingBudget(t *testing.T) {
	provider := NewAnthropicProvider(nil, AnthropicConfig{})

	request := provider.buildRequest(CompletionParams{
		Model:          "claude-sonnet-4",
		MaxTokens:      2048,
		ThinkingBudget: 512,
		Messages:       []protocol.Message{protocol.NewUserMessage("think hard")},
	}, false)

	if request.Thinking == nil {
		t.Fatal("Thinking = nil, want enabled")
	}
	if request.Thinking.Type != "enabled" || request.Thinking.BudgetTokens != 512 {
		t.Errorf("Thinking = %+v", request.Thinking)
	}
}
