package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/orkestra-dev/orkestra/pkg/httpclient"
)

// DefaultAnthropicTokenURL is the Anthropic OAuth token endpoint.
const DefaultAnthropicTokenURL = "https://console.anthropic.com/v1/oauth/token"

// OAuthRefresher refreshes OAuth tokens against a token endpoint using the
// refresh_token grant.
type OAuthRefresher struct {
	endpoint string
	clientID string
	client   *httpclient.Client
}

// NewOAuthRefresher creates a refresher. An empty endpoint defaults to the
// Anthropic token URL.
func NewOAuthRefresher(endpoint, clientID string, client *httpclient.Client) *OAuthRefresher {
	if endpoint == "" {
		endpoint = DefaultAnthropicTokenURL
	}
	if client == nil {
		client = httpclient.New(httpclient.WithMaxAttempts(1))
	}
	return &OAuthRefresher{
		endpoint: endpoint,
		clientID: clientID,
		client:   client,
	}
}

type refreshRequest struct {
	GrantType    string `json:"grant_type"`
	RefreshToken string `json:"refresh_token"`
	ClientID     string `json:"client_id"`
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// Refresh exchanges the refresh token for a new token trio.
func (r *OAuthRefresher) Refresh(ctx context.Context, creds Credentials) (Credentials, error) {
	if creds.RefreshToken == "" {
		return Credentials{}, fmt.Errorf("no refresh token available")
	}

	body, err := json.Marshal(refreshRequest{
		GrantType:    "refresh_token",
		RefreshToken: creds.RefreshToken,
		ClientID:     r.clientID,
	})
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to marshal refresh request: %w", err)
	}

	resp, err := r.client.Post(ctx, r.endpoint, body, nil)
	if err != nil {
		return Credentials{}, fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Credentials{}, fmt.Errorf("refresh endpoint returned HTTP %d: %s", resp.StatusCode, string(data))
	}

	var parsed refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Credentials{}, fmt.Errorf("failed to decode refresh response: %w", err)
	}
	if parsed.AccessToken == "" {
		return Credentials{}, fmt.Errorf("refresh response missing access token")
	}

	refresh := parsed.RefreshToken
	if refresh == "" {
		refresh = creds.RefreshToken
	}

	return OAuthCredentials(
		parsed.AccessToken,
		refresh,
		time.Now().Add(time.Duration(parsed.ExpiresIn)*time.Second),
	), nil
}
