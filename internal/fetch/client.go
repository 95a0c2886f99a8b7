// Package fetch implements an HTTP executor with exponential backoff and
// pluggable retry predicates.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	http "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
	"github.com/tidwall/gjson"

	apierrors "github.com/diogo/kiki/internal/errors"
)

// Doer sends a single HTTP request. tls_client.HttpClient satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Request describes what to send. Body is re-sent on every attempt.
type Request struct {
	Method string
	Header map[string]string
	Body   []byte
}

// JSONRequest marshals v as the body of a POST request.
func JSONRequest(v any) (Request, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return Request{}, fmt.Errorf("failed to encode request: %w", err)
	}
	return Request{
		Method: http.MethodPost,
		Header: map[string]string{"Content-Type": "application/json"},
		Body:   body,
	}, nil
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// APIError converts a failed response into an APIError, reading the
// {"error":{"message","type"}} envelope when the body carries one.
func (r *Response) APIError(endpoint string) *apierrors.APIError {
	e := &apierrors.APIError{
		StatusCode: r.StatusCode,
		Endpoint:   endpoint,
		Body:       r.Body,
	}
	if gjson.ValidBytes(r.Body) {
		env := gjson.GetBytes(r.Body, "error")
		if env.Type == gjson.String {
			e.Message = env.String()
		} else {
			e.Message = env.Get("message").String()
			e.Type = env.Get("type").String()
		}
	}
	if e.Message == "" {
		e.Message = r.Status
	}
	return e
}

// Client executes requests under a retry Policy.
type Client struct {
	doer   Doer
	sleep  Sleeper
	logger *slog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithDoer replaces the HTTP transport
func WithDoer(d Doer) Option {
	return func(c *Client) {
		c.doer = d
	}
}

// WithSleeper replaces the function used to wait between attempts
func WithSleeper(s Sleeper) Option {
	return func(c *Client) {
		c.sleep = s
	}
}

// WithLogger sets the logger used for retry diagnostics
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a Client. Without WithDoer a tls-client transport is
// created.
func NewClient(opts ...Option) (*Client, error) {
	c := &Client{
		sleep:  sleepContext,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.doer == nil {
		httpClient, err := NewHTTPClient()
		if err != nil {
			return nil, err
		}
		c.doer = httpClient
	}
	return c, nil
}

// NewHTTPClient creates the default tls-client transport.
func NewHTTPClient() (tls_client.HttpClient, error) {
	options := []tls_client.HttpClientOption{
		tls_client.WithTimeoutSeconds(300),
		tls_client.WithClientProfile(profiles.Chrome_120),
		tls_client.WithNotFollowRedirects(),
	}

	httpClient, err := tls_client.NewHttpClient(tls_client.NewNoopLogger(), options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}
	return httpClient, nil
}

// Execute sends req to url, retrying per policy. Attempts run from 0 to
// MaxRetries inclusive.
//
// A transport failure on the last attempt, or one the policy refuses to
// retry, is returned as a *errors.TransportError. An HTTP failure on the last
// attempt is returned as the response itself with a nil error so callers can
// inspect the body.
func (c *Client) Execute(ctx context.Context, url string, req Request, policy Policy) (*Response, error) {
	p := policy.withDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	delay := p.InitialDelay
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		last := attempt == p.MaxRetries

		resp, err := c.attempt(ctx, url, req, p.AttemptTimeout)
		if err != nil {
			if last || apierrors.IsAborted(err) || !p.ShouldRetryOnError(err) {
				return nil, err
			}
			c.logger.Warn("request failed, retrying",
				"url", url,
				"attempt", attempt+1,
				"max_attempts", p.MaxRetries+1,
				"delay", delay,
				"error", err)
			p.OnRetry(attempt+1, delay, err)
		} else {
			if last || !p.ShouldRetryResponse(resp) {
				return resp, nil
			}
			c.logger.Warn("request returned retryable status",
				"url", url,
				"status", resp.StatusCode,
				"attempt", attempt+1,
				"max_attempts", p.MaxRetries+1,
				"delay", delay)
			p.OnRetry(attempt+1, delay, resp.APIError(url))
		}

		if err := c.sleep(ctx, delay); err != nil {
			return nil, apierrors.NewTransportError(req.Method, url, err)
		}
		delay = p.next(delay)
	}

	// unreachable: the last attempt always returns
	return nil, apierrors.NewTransportError(req.Method, url, fmt.Errorf("retries exhausted"))
}

func (c *Client) attempt(ctx context.Context, url string, req Request, timeout time.Duration) (*Response, error) {
	actx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		actx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	hreq, err := http.NewRequestWithContext(actx, req.Method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range req.Header {
		hreq.Header.Set(k, v)
	}

	resp, err := c.doer.Do(hreq)
	if err != nil {
		return nil, transportError(ctx, actx, req.Method, url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(ctx, actx, req.Method, url, err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// transportError tells a caller abort (parent done) from an attempt timeout
// (only the attempt context done); transports do not always wrap the
// context error themselves.
func transportError(parent, attempt context.Context, method, url string, err error) *apierrors.TransportError {
	te := apierrors.NewTransportError(method, url, err)
	switch {
	case parent.Err() != nil:
		te.Aborted, te.Timeout = true, false
	case attempt.Err() != nil:
		te.Aborted, te.Timeout = false, true
	}
	return te
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ExecuteJSON runs Execute and decodes a 2xx body into T. Any other status
// becomes a *errors.APIError.
func ExecuteJSON[T any](ctx context.Context, c *Client, url string, req Request, policy Policy) (T, error) {
	var zero T
	resp, err := c.Execute(ctx, url, req, policy)
	if err != nil {
		return zero, err
	}
	if !resp.OK() {
		return zero, resp.APIError(url)
	}

	var out T
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return zero, apierrors.NewParseError(err.Error(), url)
	}
	return out, nil
}
