package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	genschema "github.com/invopop/jsonschema"
	"github.com/mitchellh/mapstructure"

	"github.com/orkestra-dev/orkestra/pkg/llms"
)

// LocalSource holds in-process tools.
type LocalSource struct {
	name string

	mu    sync.RWMutex
	tools []Tool
}

func NewLocalSource(name string) *LocalSource {
	return &LocalSource{name: name}
}

func (s *LocalSource) Name() string {
	return s.name
}

// Register adds a tool to the source.
func (s *LocalSource) Register(tool Tool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools = append(s.tools, tool)
}

func (s *LocalSource) Tools(ctx context.Context) ([]Tool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Tool, len(s.tools))
	copy(out, s.tools)
	return out, nil
}

var _ Source = (*LocalSource)(nil)

// funcTool wraps a typed Go function as a Tool. The parameter schema is
// generated from the params struct; incoming arguments are decoded back into
// it.
type funcTool[P any] struct {
	name        string
	description string
	parameters  map[string]interface{}
	fn          func(ctx context.Context, params P) (string, error)
}

// NewFuncTool builds a tool from a typed handler. P must be a struct; its
// json tags and jsonschema struct tags shape the generated parameter schema.
func NewFuncTool[P any](name, description string, fn func(ctx context.Context, params P) (string, error)) (Tool, error) {
	parameters, err := reflectSchema[P]()
	if err != nil {
		return nil, fmt.Errorf("failed to generate schema for tool %q: %w", name, err)
	}
	return &funcTool[P]{
		name:        name,
		description: description,
		parameters:  parameters,
		fn:          fn,
	}, nil
}

// MustFuncTool is NewFuncTool for statically-known parameter types, where a
// schema generation failure is a programming error.
func MustFuncTool[P any](name, description string, fn func(ctx context.Context, params P) (string, error)) Tool {
	tool, err := NewFuncTool(name, description, fn)
	if err != nil {
		panic(err)
	}
	return tool
}

func (t *funcTool[P]) Name() string {
	return t.name
}

func (t *funcTool[P]) Definition() llms.ToolDefinition {
	return llms.ToolDefinition{
		Name:        t.name,
		Description: t.description,
		Parameters:  t.parameters,
	}
}

func (t *funcTool[P]) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	var params P
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &params,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to build decoder: %w", err)
	}
	if err := decoder.Decode(args); err != nil {
		return "", fmt.Errorf("failed to decode arguments: %w", err)
	}
	return t.fn(ctx, params)
}

// reflectSchema generates an inline JSON Schema object for the params
// struct.
func reflectSchema[P any]() (map[string]interface{}, error) {
	reflector := genschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}

	var zero P
	schema := reflector.Reflect(&zero)

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}

	// The $schema marker is noise in a tool definition.
	delete(out, "$schema")
	if out["type"] == nil {
		out["type"] = "object"
	}
	return out, nil
}
