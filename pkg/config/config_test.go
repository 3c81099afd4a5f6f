package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validYAML() string {
	return `
default_agent: assistant
agents:
  assistant:
    model: claude-sonnet-4-20250514
    sub_agents: [researcher]
  researcher:
    model: claude-sonnet-4-20250514
    system_prompt: "You research things."
provider:
  type: anthropic
  auth:
    type: api_key
    api_key: sk-test
session:
  persistence: memory
`
}

func TestParseValidConfig(t *testing.T) {
	cfg, err := Parse([]byte(validYAML()))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.DefaultAgent != "assistant" {
		t.Errorf("DefaultAgent = %q", cfg.DefaultAgent)
	}
	if len(cfg.Agents) != 2 {
		t.Errorf("got %d agents, want 2", len(cfg.Agents))
	}
	assistant := cfg.Agents["assistant"]
	if assistant.Name != "assistant" {
		t.Errorf("agent name not backfilled: %q", assistant.Name)
	}
	if assistant.MaxToolConcurrency != 4 {
		t.Errorf("MaxToolConcurrency default = %d, want 4", assistant.MaxToolConcurrency)
	}
	if cfg.Provider.BaseURL != "https://api.anthropic.com" {
		t.Errorf("BaseURL default = %q", cfg.Provider.BaseURL)
	}
	if cfg.Retry.MaxAttempts != 10 || cfg.Retry.DelaySeconds != 10 {
		t.Errorf("retry defaults = %d attempts, %d s", cfg.Retry.MaxAttempts, cfg.Retry.DelaySeconds)
	}
	if cfg.Session.WarnThreshold != 0.85 || cfg.Session.SummaryThreshold != 0.95 {
		t.Errorf("thresholds = %v, %v", cfg.Session.WarnThreshold, cfg.Session.SummaryThreshold)
	}
}

func TestParseExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_ORKESTRA_KEY", "sk-from-env")

	yaml := strings.Replace(validYAML(), "api_key: sk-test", "api_key: ${TEST_ORKESTRA_KEY}", 1)
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Provider.Auth.APIKey != "sk-from-env" {
		t.Errorf("APIKey = %q, want the expanded env value", cfg.Provider.Auth.APIKey)
	}
}

func TestParseEnvVarDefault(t *testing.T) {
	os.Unsetenv("TEST_ORKESTRA_MISSING")
	expanded := ExpandEnvVars("${TEST_ORKESTRA_MISSING:-fallback}")
	if expanded != "fallback" {
		t.Errorf("expanded = %q, want fallback", expanded)
	}
}

func TestParseRejectsUnknownSubAgent(t *testing.T) {
	yaml := `
agents:
  assistant:
    model: m
    sub_agents: [ghost]
provider:
  auth: {type: api_key, api_key: sk}
`
	if _, err := Parse([]byte(yaml)); err == nil || !strings.Contains(err.Error(), "ghost") {
		t.Fatalf("Parse() error = %v, want unknown sub-agent", err)
	}
}

func TestParseRejectsSelfDelegation(t *testing.T) {
	yaml := `
agents:
  assistant:
    model: m
    sub_agents: [assistant]
provider:
  auth: {type: api_key, api_key: sk}
`
	if _, err := Parse([]byte(yaml)); err == nil {
		t.Fatal("expected a self-delegation error")
	}
}

func TestParseRejectsBadProvider(t *testing.T) {
	yaml := `
agents:
  assistant: {model: m}
provider:
  type: gemini
  auth: {type: api_key, api_key: sk}
`
	if _, err := Parse([]byte(yaml)); err == nil {
		t.Fatal("expected an invalid provider error")
	}
}

func TestParsePersistenceRequiresDirectory(t *testing.T) {
	yaml := `
agents:
  assistant: {model: m}
provider:
  auth: {type: api_key, api_key: sk}
session:
  persistence: file
`
	if _, err := Parse([]byte(yaml)); err == nil || !strings.Contains(err.Error(), "directory") {
		t.Fatalf("Parse() error = %v, want missing directory", err)
	}
}

func TestModelsDescriptorShapes(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want ModelsDescriptor
	}{
		{"disabled", "models: false", ModelsDescriptor{Disabled: true}},
		{"default endpoint", "models: true", ModelsDescriptor{}},
		{"custom path", "models: /v2/models", ModelsDescriptor{Path: "/v2/models"}},
		{"static list", "models: [m1, m2]", ModelsDescriptor{Static: []string{"m1", "m2"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := `
agents:
  assistant: {model: m}
provider:
  auth: {type: api_key, api_key: sk}
  ` + tt.yaml
			cfg, err := Parse([]byte(base))
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			got := cfg.Provider.Models
			if got.Disabled != tt.want.Disabled || got.Path != tt.want.Path {
				t.Errorf("Models = %+v, want %+v", got, tt.want)
			}
			if len(got.Static) != len(tt.want.Static) {
				t.Fatalf("Static = %v, want %v", got.Static, tt.want.Static)
			}
			for i := range got.Static {
				if got.Static[i] != tt.want.Static[i] {
					t.Errorf("Static[%d] = %q, want %q", i, got.Static[i], tt.want.Static[i])
				}
			}
		})
	}
}

func TestAuthMethodDefaults(t *testing.T) {
	auth := AuthMethod{APIKey: "sk"}
	auth.SetDefaults()
	if auth.Type != AuthAPIKey {
		t.Errorf("Type = %q, want api_key inferred", auth.Type)
	}

	auth = AuthMethod{RefreshToken: "rt"}
	auth.SetDefaults()
	if auth.Type != AuthOAuth {
		t.Errorf("Type = %q, want oauth inferred", auth.Type)
	}

	auth = AuthMethod{}
	auth.SetDefaults()
	if auth.Type != AuthNone {
		t.Errorf("Type = %q, want none", auth.Type)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orkestra.yaml")
	if err := os.WriteFile(path, []byte(validYAML()), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DefaultAgent != "assistant" {
		t.Errorf("DefaultAgent = %q", cfg.DefaultAgent)
	}
}

func TestAgentLookup(t *testing.T) {
	cfg, err := Parse([]byte(validYAML()))
	if err != nil {
		t.Fatal(err)
	}

	agent, err := cfg.Agent("")
	if err != nil {
		t.Fatalf("Agent(\"\") error = %v", err)
	}
	if agent.Name != "assistant" {
		t.Errorf("default lookup = %q", agent.Name)
	}

	if _, err := cfg.Agent("researcher"); err != nil {
		t.Errorf("Agent(researcher) error = %v", err)
	}
	if _, err := cfg.Agent("nope"); err == nil {
		t.Error("Agent(nope) should fail")
	}
}
