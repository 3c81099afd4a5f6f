package config

import (
	"fmt"
)

// MCPServerConfig describes one MCP server connection.
type MCPServerConfig struct {
	Name string `yaml:"name" json:"name"`

	// Transport is stdio, sse or streamable-http. Defaults by presence of
	// Command or URL.
	Transport string `yaml:"transport,omitempty" json:"transport,omitempty"`

	Command string            `yaml:"command,omitempty" json:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	URL     string            `yaml:"url,omitempty" json:"url,omitempty"`

	// TimeoutSeconds bounds one tool call. Zero uses the MCP default.
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
}

func (m *MCPServerConfig) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("mcp server: name is required")
	}
	switch m.Transport {
	case "", "stdio", "sse", "streamable-http":
	default:
		return fmt.Errorf("mcp server %q: invalid transport %q", m.Name, m.Transport)
	}
	if m.Command == "" && m.URL == "" {
		return fmt.Errorf("mcp server %q: command or url is required", m.Name)
	}
	return nil
}

// ToolsConfig configures the tool layer.
type ToolsConfig struct {
	// MCPServers to connect at startup.
	MCPServers []MCPServerConfig `yaml:"mcp_servers,omitempty" json:"mcp_servers,omitempty"`

	// DefaultTimeoutSeconds bounds non-MCP tool calls. Zero means 30.
	DefaultTimeoutSeconds int `yaml:"default_timeout_seconds,omitempty" json:"default_timeout_seconds,omitempty"`
}

func (t *ToolsConfig) SetDefaults() {
	if t.DefaultTimeoutSeconds <= 0 {
		t.DefaultTimeoutSeconds = 30
	}
}

func (t *ToolsConfig) Validate() error {
	seen := make(map[string]bool)
	for i := range t.MCPServers {
		if err := t.MCPServers[i].Validate(); err != nil {
			return err
		}
		if seen[t.MCPServers[i].Name] {
			return fmt.Errorf("mcp server %q: duplicate name", t.MCPServers[i].Name)
		}
		seen[t.MCPServers[i].Name] = true
	}
	return nil
}
