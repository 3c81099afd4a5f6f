package config

import (
	"fmt"
)

// AgentConfig is one agent template: its prompt, model settings and tool
// policy. Templates are addressed by name and serve both the primary agent
// and delegation targets.
type AgentConfig struct {
	Name         string `yaml:"name,omitempty" json:"name,omitempty"`
	SystemPrompt string `yaml:"system_prompt,omitempty" json:"system_prompt,omitempty"`
	Model        string `yaml:"model,omitempty" json:"model,omitempty"`

	Temperature *float64 `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	TopP        *float64 `yaml:"top_p,omitempty" json:"top_p,omitempty"`
	MaxTokens   int      `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`

	// EnabledTools filters the tools offered to the model. Nil offers all;
	// an empty list offers none.
	EnabledTools []string `yaml:"enabled_tools,omitempty" json:"enabled_tools,omitempty"`

	// MaxToolConcurrency bounds parallel tool execution within one round.
	MaxToolConcurrency int `yaml:"max_tool_concurrency,omitempty" json:"max_tool_concurrency,omitempty"`

	// RequireToolApproval gates every tool call through the approval port.
	RequireToolApproval bool `yaml:"require_tool_approval,omitempty" json:"require_tool_approval,omitempty"`

	// ReasoningEffort is low, medium or high for reasoning-capable models.
	ReasoningEffort string `yaml:"reasoning_effort,omitempty" json:"reasoning_effort,omitempty"`

	// ThinkingBudget is the extended-thinking token budget (Anthropic).
	ThinkingBudget int `yaml:"thinking_budget,omitempty" json:"thinking_budget,omitempty"`

	// MaxTurns bounds the tool loop per send.
	MaxTurns int `yaml:"max_turns,omitempty" json:"max_turns,omitempty"`

	// SubAgents lists agent names this agent may delegate to via
	// assign_task. Empty disables delegation.
	SubAgents []string `yaml:"sub_agents,omitempty" json:"sub_agents,omitempty"`

	// MaxDelegationDepth bounds delegation chains. Zero means the default
	// of one hop.
	MaxDelegationDepth int `yaml:"max_delegation_depth,omitempty" json:"max_delegation_depth,omitempty"`
}

func (a *AgentConfig) SetDefaults() {
	if a.MaxToolConcurrency <= 0 {
		a.MaxToolConcurrency = 4
	}
	if a.MaxTurns <= 0 {
		a.MaxTurns = 25
	}
}

func (a *AgentConfig) Validate() error {
	if a.Model == "" {
		return fmt.Errorf("agent %q: model is required", a.Name)
	}
	if a.Temperature != nil && (*a.Temperature < 0 || *a.Temperature > 2) {
		return fmt.Errorf("agent %q: temperature must be between 0 and 2", a.Name)
	}
	if a.TopP != nil && (*a.TopP < 0 || *a.TopP > 1) {
		return fmt.Errorf("agent %q: top_p must be between 0 and 1", a.Name)
	}
	switch a.ReasoningEffort {
	case "", "low", "medium", "high":
	default:
		return fmt.Errorf("agent %q: invalid reasoning_effort %q (valid: low, medium, high)", a.Name, a.ReasoningEffort)
	}
	return nil
}
