package runtime

import (
	"fmt"
	"net/http"
	"time"

	"github.com/orkestra-dev/orkestra/pkg/auth"
	"github.com/orkestra-dev/orkestra/pkg/config"
	"github.com/orkestra-dev/orkestra/pkg/httpclient"
	"github.com/orkestra-dev/orkestra/pkg/llms"
)

// anthropicOAuthClientID is the public client id used for Anthropic OAuth
// token refresh.
const anthropicOAuthClientID = "9d1c250a-e61b-44d9-88ed-5944d1962f5e"

// CredentialsUpdateFunc receives refreshed OAuth credentials so the caller
// can persist them.
type CredentialsUpdateFunc func(access, refresh string, expiresAt time.Time)

// BuildProvider assembles the LLM adapter stack for a provider config:
// retrying HTTP client, authenticating transport (with single-flight OAuth
// refresh when configured), and the dialect adapter on top.
func BuildProvider(cfg config.ProviderConfig, onTokenUpdate CredentialsUpdateFunc) (llms.Provider, error) {
	client := httpclient.New()

	var creds auth.Credentials
	var scheme auth.HeaderScheme
	var transportOpts []auth.TransportOption

	switch cfg.Auth.Type {
	case config.AuthAPIKey:
		creds = auth.APIKeyCredentials(cfg.Auth.APIKey)
		scheme = auth.SchemeBearer
		if cfg.Type == config.ProviderAnthropic {
			scheme = auth.SchemeAPIKeyHeader
		}
	case config.AuthOAuth:
		creds = auth.OAuthCredentials(cfg.Auth.AccessToken, cfg.Auth.RefreshToken, cfg.Auth.ExpiresAt)
		scheme = auth.SchemeBearer
		refresher := auth.NewOAuthRefresher(auth.DefaultAnthropicTokenURL, anthropicOAuthClientID, client)
		transportOpts = append(transportOpts, auth.WithRefresher(refresher))
		if onTokenUpdate != nil {
			transportOpts = append(transportOpts, auth.WithTokenUpdateFunc(func(updated auth.Credentials) {
				onTokenUpdate(updated.AccessToken, updated.RefreshToken, updated.ExpiresAt)
			}))
		}
	case config.AuthNone:
		creds = auth.Credentials{}
		scheme = auth.SchemeBearer
	default:
		return nil, fmt.Errorf("unsupported auth type %q", cfg.Auth.Type)
	}

	if len(cfg.CustomHeaders) > 0 {
		headers := make(http.Header, len(cfg.CustomHeaders))
		for key, value := range cfg.CustomHeaders {
			headers.Set(key, value)
		}
		transportOpts = append(transportOpts, auth.WithStaticHeaders(headers))
	}

	transport := auth.NewTransport(client, scheme, creds, transportOpts...)
	listing := modelListing(cfg.Models)

	switch cfg.Type {
	case config.ProviderAnthropic:
		return llms.NewAnthropicProvider(transport, llms.AnthropicConfig{
			BaseURL: cfg.BaseURL,
			OAuth:   cfg.Auth.Type == config.AuthOAuth,
			Models:  listing,
		}), nil
	case config.ProviderOpenAICompat:
		return llms.NewOpenAIProvider(transport, llms.OpenAIConfig{
			BaseURL: cfg.BaseURL,
			Models:  listing,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported provider type %q", cfg.Type)
	}
}

func modelListing(descriptor config.ModelsDescriptor) llms.ModelListing {
	listing := llms.ModelListing{
		Disabled: descriptor.Disabled,
		Path:     descriptor.Path,
	}
	for _, id := range descriptor.Static {
		listing.Static = append(listing.Static, llms.ModelInfo{ID: id})
	}
	return listing
}
