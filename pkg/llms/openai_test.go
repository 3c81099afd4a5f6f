package llms

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/orkestra-dev/orkestra/pkg/auth"
	"github.com/orkestra-dev/orkestra/pkg/httpclient"
	"github.com/orkestra-dev/orkestra/pkg/protocol"
)

func newTestTransport(t *testing.T) *auth.Transport {
	t.Helper()
	return auth.NewTransport(
		httpclient.New(httpclient.WithMaxAttempts(1)),
		auth.SchemeBearer,
		auth.APIKeyCredentials("sk-test-key"),
	)
}

func TestOpenAIGenerateCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s, want /chat/completions", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test-key" {
			t.Errorf("Authorization = %q", got)
		}

		var raw map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if _, ok := raw["tools"]; ok {
			t.Error("tools present in request without tool definitions")
		}
		if _, ok := raw["tool_choice"]; ok {
			t.Error("tool_choice present in request without tool definitions")
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"choices":[{"message":{"content":"hello"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":12,"completion_tokens":2,"total_tokens":14,
				"prompt_tokens_details":{"cached_tokens":8}}
		}`))
	}))
	defer server.Close()

	provider := NewOpenAIProvider(newTestTransport(t), OpenAIConfig{BaseURL: server.URL})

	result, err := provider.GenerateCompletion(context.Background(), CompletionParams{
		Model:    "gpt-4o",
		Messages: []protocol.Message{protocol.NewUserMessage("hi")},
	})
	if err != nil {
		t.Fatalf("GenerateCompletion() error = %v", err)
	}
	if result.Content != "hello" {
		t.Errorf("Content = %q, want hello", result.Content)
	}
	if result.FinishReason != "stop" {
		t.Errorf("FinishReason = %q, want stop", result.FinishReason)
	}
	if result.Usage.CachedTokens != 8 {
		t.Errorf("CachedTokens = %d, want 8", result.Usage.CachedTokens)
	}
}

func TestOpenAIGenerateCompletionToolCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if _, ok := raw["tools"]; !ok {
			t.Error("tools missing from request with tool definitions")
		}
		if raw["tool_choice"] != "auto" {
			t.Errorf("tool_choice = %v, want auto", raw["tool_choice"])
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"choices":[{"message":{"content":"","tool_calls":[
				{"id":"call_1","type":"function","function":{"name":"search","arguments":"{\"q\":\"go\"}"}}
			]},"finish_reason":"tool_calls"}],
			"usage":{"prompt_tokens":5,"completion_tokens":7,"total_tokens":12}
		}`))
	}))
	defer server.Close()

	provider := NewOpenAIProvider(newTestTransport(t), OpenAIConfig{BaseURL: server.URL})

	result, err := provider.GenerateCompletion(context.Background(), CompletionParams{
		Model:    "gpt-4o",
		Messages: []protocol.Message{protocol.NewUserMessage("search go")},
		Tools: []ToolDefinition{{
			Name:        "search",
			Description: "Search the web",
			Parameters:  map[string]interface{}{"type": "object"},
		}},
	})
	if err != nil {
		t.Fatalf("GenerateCompletion() error = %v", err)
	}
	if len(result.ToolCalls) != 1 {
		t.Fatalf("ToolCalls = %d, want 1", len(result.ToolCalls))
	}
	if result.ToolCalls[0].Name != "search" || result.ToolCalls[0].Arguments != `{"q":"go"}` {
		t.Errorf("tool call = %+v", result.ToolCalls[0])
	}
}

func TestOpenAIStreamCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if raw["stream"] != true {
			t.Error("stream flag not set")
		}
		opts, _ := raw["stream_options"].(map[string]interface{})
		if opts == nil || opts["include_usage"] != true {
			t.Errorf("stream_options = %v, want include_usage", raw["stream_options"])
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(
			"data: {\"choices\":[{\"delta\":{\"content\":\"str\"}}]}\n\n" +
				"data: {\"choices\":[{\"delta\":{\"content\":\"eam\"}}]}\n\n" +
				"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}],\"usage\":{\"prompt_tokens\":3,\"completion_tokens\":2,\"total_tokens\":5}}\n\n" +
				"data: [DONE]\n\n"))
	}))
	defer server.Close()

	provider := NewOpenAIProvider(newTestTransport(t), OpenAIConfig{BaseURL: server.URL})

	var finishes int
	result, err := provider.StreamCompletion(context.Background(), CompletionParams{
		Model:    "gpt-4o",
		Messages: []protocol.Message{protocol.NewUserMessage("hi")},
	}, StreamHandlers{
		OnStreamFinish: func(reason string, usage *Usage) {
			finishes++
		},
	})
	if err != nil {
		t.Fatalf("StreamCompletion() error = %v", err)
	}
	if result.Content != "stream" {
		t.Errorf("Content = %q, want stream", result.Content)
	}
	if finishes != 1 {
		t.Errorf("OnStreamFinish called %d times, want 1", finishes)
	}
	if result.Usage.TotalTokens != 5 {
		t.Errorf("TotalTokens = %d, want 5", result.Usage.TotalTokens)
	}
}

func TestOpenAIModelUnsupported(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"model not allowed","code":"unsupported_api_for_model"}}`))
	}))
	defer server.Close()

	provider := NewOpenAIProvider(newTestTransport(t), OpenAIConfig{BaseURL: server.URL})

	_, err := provider.GenerateCompletion(context.Background(), CompletionParams{
		Model:    "gpt-5-preview",
		Messages: []protocol.Message{protocol.NewUserMessage("hi")},
	})
	if err == nil {
		t.Fatal("GenerateCompletion() error = nil, want model unsupported")
	}
	var classified *Error
	if !errors.As(err, &classified) {
		t.Fatalf("error = %T, want *Error", err)
	}
	if classified.Kind != KindModelUnsupported {
		t.Errorf("Kind = %v, want %v", classified.Kind, KindModelUnsupported)
	}
}

func TestOpenAIErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantKind  ErrorKind
		retryable bool
	}{
		{"unauthorized", http.StatusUnauthorized, KindAuthentication, false},
		{"bad request", http.StatusBadRequest, KindInvalidRequest, false},
		{"rate limited", http.StatusTooManyRequests, KindRateLimited, true},
		{"server error", http.StatusInternalServerError, KindTemporaryUnavailable, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error":{"message":"nope"}}`))
			}))
			defer server.Close()

			provider := NewOpenAIProvider(newTestTransport(t), OpenAIConfig{BaseURL: server.URL})

			_, err := provider.GenerateCompletion(context.Background(), CompletionParams{
				Model:    "gpt-4o",
				Messages: []protocol.Message{protocol.NewUserMessage("hi")},
			})
			if err == nil {
				t.Fatal("GenerateCompletion() error = nil")
			}
			var classified *Error
			if !errors.As(err, &classified) {
				t.Fatalf("error = %T, want *Error", err)
			}
			if classified.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", classified.Kind, tt.wantKind)
			}
			if classified.Retryable() != tt.retryable {
				t.Errorf("Retryable() = %v, want %v", classified.Retryable(), tt.retryable)
			}
		})
	}
}

func TestOpenAIListModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("path = %s, want /models", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"id":"gpt-4o"},{"id":"gpt-4o-mini"},{"id":"gpt-4o"}]}`))
	}))
	defer server.Close()

	provider := NewOpenAIProvider(newTestTransport(t), OpenAIConfig{BaseURL: server.URL})

	models, err := provider.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels() error = %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("models = %d, want 2 after dedup", len(models))
	}
	if models[0].ID != "gpt-4o" || models[1].ID != "gpt-4o-mini" {
		t.Errorf("models = %+v", models)
	}
}

func TestOpenAIListModelsDisabled(t *testing.T) {
	provider := NewOpenAIProvider(newTestTransport(t), OpenAIConfig{
		BaseURL: "http://unused",
		Models:  ModelListing{Disabled: true},
	})

	_, err := provider.ListModels(context.Background())
	if err == nil {
		t.Fatal("ListModels() error = nil, want listing unsupported")
	}
	if KindOf(err) != KindModelListing {
		t.Errorf("Kind = %v, want %v", KindOf(err), KindModelListing)
	}
}

func TestOpenAIListModelsStatic(t *testing.T) {
	static := []ModelInfo{
		{ID: "model-a", Name: "Model A"},
		{ID: "model-a", Name: "Model A duplicate"},
		{ID: "model-b", Name: "Model B"},
	}
	provider := NewOpenAIProvider(newTestTransport(t), OpenAIConfig{
		BaseURL: "http://unused",
		Models:  ModelListing{Static: static},
	})

	models, err := provider.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels() error = %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("models = %d, want 2", len(models))
	}
	if models[0].Name != "Model A" {
		t.Errorf("first occurrence should win, got %+v", models[0])
	}
}
