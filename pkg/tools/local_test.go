package tools

import (
	"context"
	"fmt"
	"testing"

	"github.com/orkestra-dev/orkestra/pkg/protocol"
)

type greetParams struct {
	Name  string `json:"name" jsonschema:"description=Who to greet"`
	Times int    `json:"times,omitempty"`
}

func TestFuncToolSchemaGeneration(t *testing.T) {
	tool := MustFuncTool("greet", "Greets someone.", func(ctx context.Context, p greetParams) (string, error) {
		return "hi " + p.Name, nil
	})

	def := tool.Definition()
	if def.Name != "greet" {
		t.Errorf("Name = %q, want greet", def.Name)
	}
	if def.Parameters["type"] != "object" {
		t.Errorf("schema type = %v, want object", def.Parameters["type"])
	}
	if _, ok := def.Parameters["$schema"]; ok {
		t.Error("schema should not carry a $schema marker")
	}

	properties, ok := def.Parameters["properties"].(map[string]interface{})
	if !ok {
		t.Fatalf("properties missing from schema: %v", def.Parameters)
	}
	if _, ok := properties["name"]; !ok {
		t.Error("schema missing the name property")
	}
	if _, ok := properties["times"]; !ok {
		t.Error("schema missing the times property")
	}

	required, _ := def.Parameters["required"].([]interface{})
	foundName := false
	for _, field := range required {
		if field == "name" {
			foundName = true
		}
		if field == "times" {
			t.Error("omitempty field should not be required")
		}
	}
	if !foundName {
		t.Errorf("required = %v, want it to include name", required)
	}
}

func TestFuncToolDecodesArguments(t *testing.T) {
	tool := MustFuncTool("repeat", "Repeats a word.", func(ctx context.Context, p greetParams) (string, error) {
		out := ""
		for i := 0; i < p.Times; i++ {
			out += p.Name
		}
		return out, nil
	})

	output, err := tool.Execute(context.Background(), map[string]interface{}{
		"name": "ab",
		// JSON numbers decode as float64; the decoder must coerce.
		"times": float64(3),
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if output != "ababab" {
		t.Errorf("output = %q, want ababab", output)
	}
}

func TestFuncToolPropagatesHandlerError(t *testing.T) {
	tool := MustFuncTool("fail", "Always fails.", func(ctx context.Context, p greetParams) (string, error) {
		return "", fmt.Errorf("handler rejected %q", p.Name)
	})

	_, err := tool.Execute(context.Background(), map[string]interface{}{"name": "x"})
	if err == nil {
		t.Fatal("expected handler error")
	}
}

func TestLocalSourceListsRegisteredTools(t *testing.T) {
	source := NewLocalSource("builtin")
	source.Register(MustFuncTool("one", "first", func(ctx context.Context, p greetParams) (string, error) {
		return "", nil
	}))
	source.Register(MustFuncTool("two", "second", func(ctx context.Context, p greetParams) (string, error) {
		return "", nil
	}))

	toolList, err := source.Tools(context.Background())
	if err != nil {
		t.Fatalf("Tools() error = %v", err)
	}
	if len(toolList) != 2 {
		t.Fatalf("got %d tools, want 2", len(toolList))
	}
	if source.Name() != "builtin" {
		t.Errorf("Name() = %q, want builtin", source.Name())
	}
}

func TestFuncToolValidatesThroughExecutor(t *testing.T) {
	source := NewLocalSource("builtin")
	source.Register(MustFuncTool("greet", "Greets someone.", func(ctx context.Context, p greetParams) (string, error) {
		return "hi " + p.Name, nil
	}))
	executor := NewExecutor(NewRegistry(source))

	results := executor.ExecuteCalls(context.Background(), []protocol.ToolCall{
		{ID: "call-1", Name: "greet", Arguments: `{"name":"ada"}`},
	})
	if results[0].Status != StatusOK {
		t.Fatalf("Status = %q (content: %s)", results[0].Status, results[0].Content)
	}
	if results[0].Content != "hi ada" {
		t.Errorf("Content = %q, want hi ada", results[0].Content)
	}

	results = executor.ExecuteCalls(context.Background(), []protocol.ToolCall{
		{ID: "call-2", Name: "greet", Arguments: `{}`},
	})
	if results[0].Status != StatusValidationFailed {
		t.Errorf("Status = %q, want validation_failed for missing name", results[0].Status)
	}
}
