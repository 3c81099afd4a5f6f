package auth

import (
	"time"
)

// CredentialKind discriminates the supported authentication methods.
type CredentialKind string

const (
	CredentialNone   CredentialKind = "none"
	CredentialAPIKey CredentialKind = "api_key"
	CredentialOAuth  CredentialKind = "oauth"
)

// Credentials is a tagged union over the supported authentication methods.
type Credentials struct {
	Kind CredentialKind

	// APIKey is set when Kind == CredentialAPIKey.
	APIKey string

	// OAuth token trio, set when Kind == CredentialOAuth.
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// APIKeyCredentials builds API-key credentials.
func APIKeyCredentials(key string) Credentials {
	return Credentials{Kind: CredentialAPIKey, APIKey: key}
}

// OAuthCredentials builds OAuth credentials.
func OAuthCredentials(access, refresh string, expiresAt time.Time) Credentials {
	return Credentials{
		Kind:         CredentialOAuth,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt,
	}
}

// HeaderScheme selects how credentials are attached to a request.
type HeaderScheme string

const (
	// SchemeAPIKeyHeader sends the key in an x-api-key header (Anthropic style).
	SchemeAPIKeyHeader HeaderScheme = "x-api-key"
	// SchemeBearer sends "Authorization: Bearer <token>" (OpenAI/OAuth style).
	SchemeBearer HeaderScheme = "bearer"
)
