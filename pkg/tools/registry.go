package tools

import (
	"context"
	"log/slog"
	"sync"

	"github.com/orkestra-dev/orkestra/pkg/llms"
)

// Registry aggregates tools from multiple sources. When two sources expose
// the same tool name, the source registered first wins.
type Registry struct {
	mu      sync.RWMutex
	sources []Source
}

func NewRegistry(sources ...Source) *Registry {
	return &Registry{sources: sources}
}

// AddSource appends a source. Later sources lose name collisions.
func (r *Registry) AddSource(source Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources = append(r.sources, source)
}

// Definitions returns the deduplicated tool definitions across all sources,
// in source order. A source that fails to list is skipped with a warning, so
// one unreachable MCP server doesn't take down the rest.
func (r *Registry) Definitions(ctx context.Context) []llms.ToolDefinition {
	r.mu.RLock()
	sources := make([]Source, len(r.sources))
	copy(sources, r.sources)
	r.mu.RUnlock()

	seen := make(map[string]bool)
	var definitions []llms.ToolDefinition
	for _, source := range sources {
		toolList, err := source.Tools(ctx)
		if err != nil {
			slog.Warn("tool source unavailable", "source", source.Name(), "error", err)
			continue
		}
		for _, tool := range toolList {
			if seen[tool.Name()] {
				continue
			}
			seen[tool.Name()] = true
			definitions = append(definitions, tool.Definition())
		}
	}
	return definitions
}

// Resolve finds a tool by name, honoring first-wins ordering.
func (r *Registry) Resolve(ctx context.Context, name string) (Tool, bool) {
	r.mu.RLock()
	sources := make([]Source, len(r.sources))
	copy(sources, r.sources)
	r.mu.RUnlock()

	for _, source := range sources {
		toolList, err := source.Tools(ctx)
		if err != nil {
			continue
		}
		for _, tool := range toolList {
			if tool.Name() == name {
				return tool, true
			}
		}
	}
	return nil, false
}
