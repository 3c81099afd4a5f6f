package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"syscall"
	"time"
)

// RetryCallback is invoked before each retry sleep.
type RetryCallback func(attempt int, err error, wait time.Duration)

// Client is a retrying HTTP client. It retries transient failures with
// exponential backoff and full jitter, honoring Retry-After when present.
// Successful responses are returned with the body unread so callers can
// stream it.
type Client struct {
	client      *http.Client
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	onRetry     RetryCallback
	recorder    *Recorder
	jitter      func() float64
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		c.maxAttempts = n
	}
}

func WithBaseDelay(delay time.Duration) Option {
	return func(c *Client) {
		c.baseDelay = delay
	}
}

func WithMaxDelay(delay time.Duration) Option {
	return func(c *Client) {
		c.maxDelay = delay
	}
}

func WithRetryCallback(cb RetryCallback) Option {
	return func(c *Client) {
		c.onRetry = cb
	}
}

// WithRecorder attaches a request/response log recorder.
func WithRecorder(r *Recorder) Option {
	return func(c *Client) {
		c.recorder = r
	}
}

func New(opts ...Option) *Client {
	client := &Client{
		client:      &http.Client{Timeout: 120 * time.Second},
		maxAttempts: 3,
		baseDelay:   1 * time.Second,
		maxDelay:    30 * time.Second,
		jitter:      rand.Float64,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// RetryableStatus reports whether an HTTP status code warrants a retry.
func RetryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooEarly,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// RetryableNetworkError reports whether a transport-level error warrants a
// retry: DNS failures, refused/reset connections, timeouts.
func RetryableNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return false
}

// Get issues a GET request with the given headers.
func (c *Client) Get(ctx context.Context, url string, headers http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	applyHeaders(req, headers)
	return c.Do(req)
}

// Post issues a POST request with a JSON body and the given headers.
func (c *Client) Post(ctx context.Context, url string, body []byte, headers http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	applyHeaders(req, headers)
	return c.Do(req)
}

func applyHeaders(req *http.Request, headers http.Header) {
	for key, values := range headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
}

// Do executes the request, retrying transient failures. A response with a
// retryable status code is drained, closed and retried; the final attempt's
// response is returned as-is so callers can inspect the error body.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var lastErr error
	var lastResp *http.Response

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("failed to recreate request body for retry: %w", err)
			}
			req.Body = body
		}

		start := time.Now()
		resp, err := c.client.Do(req)
		c.record(req, resp, err, time.Since(start))

		if err != nil {
			if ctxErr := req.Context().Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if !RetryableNetworkError(err) {
				return nil, err
			}
			lastErr = err
			lastResp = nil
		} else if !RetryableStatus(resp.StatusCode) {
			return resp, nil
		} else {
			lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
			lastResp = resp
		}

		if attempt == c.maxAttempts-1 {
			break
		}

		wait := c.backoff(attempt)
		if lastResp != nil {
			if retryAfter := ParseRetryAfter(lastResp.Header); retryAfter > 0 {
				wait = retryAfter
			}
			drain(lastResp)
		}

		if c.onRetry != nil {
			c.onRetry(attempt+1, lastErr, wait)
		}

		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(wait):
		}
	}

	if lastResp != nil {
		return lastResp, &RetryExhaustedError{
			StatusCode: lastResp.StatusCode,
			Attempts:   c.maxAttempts,
			Err:        lastErr,
		}
	}
	return nil, &RetryExhaustedError{
		Attempts: c.maxAttempts,
		Err:      lastErr,
	}
}

// backoff computes min(maxDelay, baseDelay * 2^attempt) scaled by a random
// factor in [0.5, 1.0).
func (c *Client) backoff(attempt int) time.Duration {
	delay := c.baseDelay << uint(attempt)
	if delay > c.maxDelay || delay <= 0 {
		delay = c.maxDelay
	}
	factor := 0.5 + c.jitter()*0.5
	return time.Duration(float64(delay) * factor)
}

func (c *Client) record(req *http.Request, resp *http.Response, err error, duration time.Duration) {
	if c.recorder == nil {
		return
	}
	entry := LogEntry{
		Time:       time.Now().UTC(),
		Method:     req.Method,
		URL:        req.URL.String(),
		DurationMS: duration.Milliseconds(),
	}
	if resp != nil {
		entry.Status = resp.StatusCode
	}
	if err != nil {
		entry.Error = err.Error()
	}
	c.recorder.Record(entry)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}
