package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// ProviderType identifies the LLM wire dialect.
type ProviderType string

const (
	ProviderOpenAICompat ProviderType = "openai-compat"
	ProviderAnthropic    ProviderType = "anthropic"
)

// AuthType discriminates the AuthMethod variant.
type AuthType string

const (
	AuthAPIKey AuthType = "api_key"
	AuthOAuth  AuthType = "oauth"
	AuthNone   AuthType = "none"
)

// AuthMethod is the credential attached to a provider. Exactly one variant
// is populated, selected by Type.
type AuthMethod struct {
	Type AuthType `yaml:"type,omitempty" json:"type,omitempty"`

	// APIKey for AuthAPIKey. Supports ${VAR} expansion.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty"`

	// OAuth token trio for AuthOAuth.
	AccessToken  string    `yaml:"access_token,omitempty" json:"access_token,omitempty"`
	RefreshToken string    `yaml:"refresh_token,omitempty" json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `yaml:"expires_at,omitempty" json:"expires_at,omitempty"`
}

func (a *AuthMethod) SetDefaults() {
	if a.Type == "" {
		switch {
		case a.APIKey != "":
			a.Type = AuthAPIKey
		case a.AccessToken != "" || a.RefreshToken != "":
			a.Type = AuthOAuth
		default:
			a.Type = AuthNone
		}
	}
}

func (a *AuthMethod) Validate() error {
	switch a.Type {
	case AuthAPIKey:
		if a.APIKey == "" {
			return fmt.Errorf("auth type api_key requires api_key")
		}
	case AuthOAuth:
		if a.AccessToken == "" && a.RefreshToken == "" {
			return fmt.Errorf("auth type oauth requires access_token or refresh_token")
		}
	case AuthNone:
	default:
		return fmt.Errorf("invalid auth type %q (valid: api_key, oauth, none)", a.Type)
	}
	return nil
}

// ModelsDescriptor controls how a provider enumerates models. In YAML it
// accepts four shapes: `false` disables listing, `true` uses the default
// endpoint, a string names a custom endpoint path, and a sequence is a
// static model list.
type ModelsDescriptor struct {
	Disabled bool     `yaml:"-" json:"disabled,omitempty"`
	Path     string   `yaml:"-" json:"path,omitempty"`
	Static   []string `yaml:"-" json:"static,omitempty"`
}

func (m *ModelsDescriptor) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var enabled bool
		if err := node.Decode(&enabled); err == nil {
			m.Disabled = !enabled
			return nil
		}
		var path string
		if err := node.Decode(&path); err != nil {
			return fmt.Errorf("models must be a bool, string or list: %w", err)
		}
		m.Path = path
		return nil
	case yaml.SequenceNode:
		var static []string
		if err := node.Decode(&static); err != nil {
			return fmt.Errorf("static model list must hold strings: %w", err)
		}
		m.Static = static
		return nil
	default:
		return fmt.Errorf("models must be a bool, string or list")
	}
}

func (m ModelsDescriptor) MarshalYAML() (interface{}, error) {
	switch {
	case m.Disabled:
		return false, nil
	case len(m.Static) > 0:
		return m.Static, nil
	case m.Path != "":
		return m.Path, nil
	default:
		return true, nil
	}
}

// ProviderConfig configures one LLM provider endpoint.
type ProviderConfig struct {
	Type    ProviderType `yaml:"type,omitempty" json:"type,omitempty"`
	BaseURL string       `yaml:"base_url,omitempty" json:"base_url,omitempty"`

	Auth AuthMethod `yaml:"auth,omitempty" json:"auth,omitempty"`

	// CustomHeaders are added to every request.
	CustomHeaders map[string]string `yaml:"custom_headers,omitempty" json:"custom_headers,omitempty"`

	// Models controls model listing: false, true, an endpoint path, or a
	// static list.
	Models ModelsDescriptor `yaml:"models,omitempty" json:"models,omitempty"`
}

func (p *ProviderConfig) SetDefaults() {
	if p.Type == "" {
		p.Type = ProviderAnthropic
	}
	if p.BaseURL == "" {
		switch p.Type {
		case ProviderAnthropic:
			p.BaseURL = "https://api.anthropic.com"
		case ProviderOpenAICompat:
			p.BaseURL = "https://api.openai.com/v1"
		}
	}
	p.Auth.SetDefaults()
}

func (p *ProviderConfig) Validate() error {
	switch p.Type {
	case ProviderOpenAICompat, ProviderAnthropic:
	default:
		return fmt.Errorf("invalid provider type %q (valid: openai-compat, anthropic)", p.Type)
	}
	if err := p.Auth.Validate(); err != nil {
		return fmt.Errorf("provider auth: %w", err)
	}
	return nil
}
