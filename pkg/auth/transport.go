package auth

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/orkestra-dev/orkestra/pkg/httpclient"
)

// Refresher exchanges a refresh token for a new token trio.
type Refresher interface {
	Refresh(ctx context.Context, creds Credentials) (Credentials, error)
}

// TokenUpdateFunc is notified whenever the transport obtains new credentials,
// so callers can persist them.
type TokenUpdateFunc func(Credentials)

// RefreshError wraps a failed token refresh. It is not retryable.
type RefreshError struct {
	Err error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("token refresh failed: %v", e.Err)
}

func (e *RefreshError) Unwrap() error {
	return e.Err
}

type inflightRefresh struct {
	done  chan struct{}
	creds Credentials
	err   error
}

// Transport wraps a retrying HTTP client and injects credentials into every
// request. On a 401/403 with OAuth credentials it refreshes the token trio
// once (single-flight across concurrent requests) and replays the original
// request exactly once.
type Transport struct {
	base      *httpclient.Client
	scheme    HeaderScheme
	headers   http.Header
	refresher Refresher
	onUpdate  TokenUpdateFunc

	mu       sync.Mutex
	creds    Credentials
	inflight *inflightRefresh
}

type TransportOption func(*Transport)

// WithStaticHeaders sets headers attached to every request (API version
// headers and the like).
func WithStaticHeaders(headers http.Header) TransportOption {
	return func(t *Transport) {
		t.headers = headers
	}
}

// WithRefresher enables OAuth token refresh.
func WithRefresher(r Refresher) TransportOption {
	return func(t *Transport) {
		t.refresher = r
	}
}

// WithTokenUpdateFunc registers a credential change listener.
func WithTokenUpdateFunc(fn TokenUpdateFunc) TransportOption {
	return func(t *Transport) {
		t.onUpdate = fn
	}
}

// NewTransport creates an authenticating transport over base.
func NewTransport(base *httpclient.Client, scheme HeaderScheme, creds Credentials, opts ...TransportOption) *Transport {
	t := &Transport{
		base:   base,
		scheme: scheme,
		creds:  creds,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Credentials returns a snapshot of the current credentials.
func (t *Transport) Credentials() Credentials {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.creds
}

// SetCredentials replaces the current credentials.
func (t *Transport) SetCredentials(creds Credentials) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.creds = creds
}

// Post issues an authenticated POST with a JSON body.
func (t *Transport) Post(ctx context.Context, url string, body []byte, headers http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	req.Body, _ = req.GetBody()
	req.ContentLength = int64(len(body))
	req.Header.Set("Content-Type", "application/json")
	for key, values := range headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	return t.Do(req)
}

// Get issues an authenticated GET.
func (t *Transport) Get(ctx context.Context, url string, headers http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, values := range headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	return t.Do(req)
}

// Do executes the request with credentials attached. A 401/403 response
// triggers at most one refresh-and-replay cycle for OAuth credentials.
func (t *Transport) Do(req *http.Request) (*http.Response, error) {
	creds := t.Credentials()
	t.apply(req, creds)

	resp, err := t.base.Do(req)
	if err != nil {
		return resp, err
	}

	if resp.StatusCode != http.StatusUnauthorized && resp.StatusCode != http.StatusForbidden {
		return resp, nil
	}
	if creds.Kind != CredentialOAuth || t.refresher == nil {
		return resp, nil
	}

	// Stale token: refresh once and replay the original request.
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()

	refreshed, err := t.refresh(req.Context(), creds)
	if err != nil {
		return nil, &RefreshError{Err: err}
	}

	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to recreate request body for replay: %w", err)
		}
		req.Body = body
	}
	t.apply(req, refreshed)

	return t.base.Do(req)
}

func (t *Transport) apply(req *http.Request, creds Credentials) {
	for key, values := range t.headers {
		for _, v := range values {
			req.Header.Set(key, v)
		}
	}

	switch creds.Kind {
	case CredentialAPIKey:
		if t.scheme == SchemeAPIKeyHeader {
			req.Header.Set("x-api-key", creds.APIKey)
		} else {
			req.Header.Set("Authorization", "Bearer "+creds.APIKey)
		}
	case CredentialOAuth:
		req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	}
}

// refresh performs a single-flight token refresh. The refresh itself runs on
// a detached context so one caller's cancellation cannot fail a refresh other
// requests are waiting on; the waiting caller may still abandon the wait.
func (t *Transport) refresh(ctx context.Context, stale Credentials) (Credentials, error) {
	t.mu.Lock()
	if t.creds.Kind == CredentialOAuth && t.creds.AccessToken != stale.AccessToken {
		// Another request already refreshed.
		current := t.creds
		t.mu.Unlock()
		return current, nil
	}

	flight := t.inflight
	if flight == nil {
		flight = &inflightRefresh{done: make(chan struct{})}
		t.inflight = flight
		go t.runRefresh(flight, stale)
	}
	t.mu.Unlock()

	select {
	case <-flight.done:
		return flight.creds, flight.err
	case <-ctx.Done():
		return Credentials{}, ctx.Err()
	}
}

func (t *Transport) runRefresh(flight *inflightRefresh, stale Credentials) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	creds, err := t.refresher.Refresh(ctx, stale)

	t.mu.Lock()
	if err == nil {
		t.creds = creds
	}
	t.inflight = nil
	t.mu.Unlock()

	flight.creds = creds
	flight.err = err
	close(flight.done)

	if err == nil && t.onUpdate != nil {
		t.onUpdate(creds)
	}
}
