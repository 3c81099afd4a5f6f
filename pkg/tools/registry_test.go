package tools

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/orkestra-dev/orkestra/pkg/llms"
)

// fakeTool is a canned in-memory tool for registry and executor tests.
type fakeTool struct {
	name       string
	parameters map[string]interface{}
	output     string
	err        error
	execute    func(ctx context.Context, args map[string]interface{}) (string, error)
}

func (t *fakeTool) Name() string {
	return t.name
}

func (t *fakeTool) Definition() llms.ToolDefinition {
	return llms.ToolDefinition{
		Name:        t.name,
		Description: "test tool",
		Parameters:  t.parameters,
	}
}

func (t *fakeTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	if t.execute != nil {
		return t.execute(ctx, args)
	}
	return t.output, t.err
}

// fakeSource serves a fixed tool list, optionally failing.
type fakeSource struct {
	name  string
	tools []Tool
	err   error
}

func (s *fakeSource) Name() string {
	return s.name
}

func (s *fakeSource) Tools(ctx context.Context) ([]Tool, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.tools, nil
}

func TestRegistryFirstSourceWinsCollisions(t *testing.T) {
	first := &fakeSource{name: "first", tools: []Tool{
		&fakeTool{name: "search", output: "from first"},
	}}
	second := &fakeSource{name: "second", tools: []Tool{
		&fakeTool{name: "search", output: "from second"},
		&fakeTool{name: "fetch", output: "fetched"},
	}}

	registry := NewRegistry(first, second)

	definitions := registry.Definitions(context.Background())
	if len(definitions) != 2 {
		t.Fatalf("Definitions() returned %d entries, want 2", len(definitions))
	}
	if definitions[0].Name != "search" || definitions[1].Name != "fetch" {
		t.Errorf("unexpected definition order: %q, %q", definitions[0].Name, definitions[1].Name)
	}

	tool, ok := registry.Resolve(context.Background(), "search")
	if !ok {
		t.Fatal("Resolve(search) not found")
	}
	output, err := tool.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if output != "from first" {
		t.Errorf("collision resolved to %q, want the first source's tool", output)
	}
}

func TestRegistrySkipsFailingSource(t *testing.T) {
	broken := &fakeSource{name: "broken", err: errors.New("connection refused")}
	healthy := &fakeSource{name: "healthy", tools: []Tool{
		&fakeTool{name: "echo", output: "ok"},
	}}

	registry := NewRegistry(broken, healthy)

	definitions := registry.Definitions(context.Background())
	if len(definitions) != 1 {
		t.Fatalf("Definitions() returned %d entries, want 1", len(definitions))
	}
	if definitions[0].Name != "echo" {
		t.Errorf("definitions[0].Name = %q, want echo", definitions[0].Name)
	}

	if _, ok := registry.Resolve(context.Background(), "echo"); !ok {
		t.Error("Resolve(echo) should survive a failing sibling source")
	}
}

func TestRegistryResolveUnknown(t *testing.T) {
	registry := NewRegistry(&fakeSource{name: "only", tools: []Tool{
		&fakeTool{name: "echo"},
	}})

	if _, ok := registry.Resolve(context.Background(), "missing"); ok {
		t.Error("Resolve(missing) should report not found")
	}
}

func TestRegistryAddSource(t *testing.T) {
	registry := NewRegistry()
	for i := 0; i < 3; i++ {
		registry.AddSource(&fakeSource{
			name:  fmt.Sprintf("source-%d", i),
			tools: []Tool{&fakeTool{name: fmt.Sprintf("tool-%d", i)}},
		})
	}

	definitions := registry.Definitions(context.Background())
	if len(definitions) != 3 {
		t.Fatalf("Definitions() returned %d entries, want 3", len(definitions))
	}
}
