// Package config holds the resolved configuration snapshot the runtime
// consumes: agent templates, the provider endpoint and credentials, tool
// sources, session persistence and ambient concerns. Loading, env expansion
// and hot reload live in loader.go.
package config

import (
	"fmt"
	"sort"
)

// Config is the full resolved configuration.
type Config struct {
	// DefaultAgent names the template used when no agent is selected.
	DefaultAgent string `yaml:"default_agent,omitempty" json:"default_agent,omitempty"`

	// Agents are the available templates, addressed by name.
	Agents map[string]AgentConfig `yaml:"agents,omitempty" json:"agents,omitempty"`

	Provider ProviderConfig `yaml:"provider,omitempty" json:"provider,omitempty"`
	Tools    ToolsConfig    `yaml:"tools,omitempty" json:"tools,omitempty"`
	Session  SessionConfig  `yaml:"session,omitempty" json:"session,omitempty"`
	Retry    RetryConfig    `yaml:"retry,omitempty" json:"retry,omitempty"`

	Logger        LoggerConfig        `yaml:"logger,omitempty" json:"logger,omitempty"`
	Observability ObservabilityConfig `yaml:"observability,omitempty" json:"observability,omitempty"`
}

// SetDefaults fills every section's defaults. A config with no agents gets
// a single "assistant" template.
func (c *Config) SetDefaults() {
	if len(c.Agents) == 0 {
		c.Agents = map[string]AgentConfig{
			"assistant": {Name: "assistant"},
		}
	}
	for name, agent := range c.Agents {
		if agent.Name == "" {
			agent.Name = name
		}
		agent.SetDefaults()
		c.Agents[name] = agent
	}
	if c.DefaultAgent == "" {
		if _, ok := c.Agents["assistant"]; ok {
			c.DefaultAgent = "assistant"
		} else {
			names := make([]string, 0, len(c.Agents))
			for name := range c.Agents {
				names = append(names, name)
			}
			sort.Strings(names)
			c.DefaultAgent = names[0]
		}
	}

	c.Provider.SetDefaults()
	c.Tools.SetDefaults()
	c.Session.SetDefaults()
	c.Retry.SetDefaults()
	c.Logger.SetDefaults()
	c.Observability.SetDefaults()

	// Agents without a model inherit a provider-appropriate default.
	for name, agent := range c.Agents {
		if agent.Model == "" {
			switch c.Provider.Type {
			case ProviderAnthropic:
				agent.Model = "claude-sonnet-4-20250514"
			default:
				agent.Model = "gpt-4o"
			}
			c.Agents[name] = agent
		}
	}
}

// Validate checks every section and cross-references agent names.
func (c *Config) Validate() error {
	if len(c.Agents) == 0 {
		return fmt.Errorf("at least one agent is required")
	}
	if _, ok := c.Agents[c.DefaultAgent]; !ok {
		return fmt.Errorf("default_agent %q is not defined", c.DefaultAgent)
	}
	for name, agent := range c.Agents {
		if err := agent.Validate(); err != nil {
			return err
		}
		for _, sub := range agent.SubAgents {
			if _, ok := c.Agents[sub]; !ok {
				return fmt.Errorf("agent %q: sub-agent %q is not defined", name, sub)
			}
			if sub == name {
				return fmt.Errorf("agent %q: cannot delegate to itself", name)
			}
		}
	}
	if err := c.Provider.Validate(); err != nil {
		return err
	}
	if err := c.Tools.Validate(); err != nil {
		return err
	}
	if err := c.Session.Validate(); err != nil {
		return err
	}
	return c.Logger.Validate()
}

// Agent returns the named template, falling back to the default.
func (c *Config) Agent(name string) (AgentConfig, error) {
	if name == "" {
		name = c.DefaultAgent
	}
	agent, ok := c.Agents[name]
	if !ok {
		return AgentConfig{}, fmt.Errorf("agent %q is not defined", name)
	}
	return agent, nil
}
