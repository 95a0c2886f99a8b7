// Package api provides the client for the local relay endpoints.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	http "github.com/bogdanfinn/fhttp"

	"github.com/diogo/kiki/internal/fetch"
	"github.com/diogo/kiki/internal/models"
)

// Client talks to the relay. Every method returns the raw JSON body of a 2xx
// answer; normalization is left to the caller. Non-2xx answers become
// *errors.APIError, network failures *errors.TransportError.
type Client struct {
	baseURL      string
	fetch        *fetch.Client
	policy       fetch.Policy
	modelsPolicy fetch.Policy
	logger       *slog.Logger
}

// ModelsTimeout bounds the catalog request. The router falls back to the
// built-in catalog, so a slow relay must not hold up the first exchange.
const ModelsTimeout = 5 * time.Second

// ClientOption is a function that configures the client
type ClientOption func(*Client)

// WithFetchClient sets the executor used for requests
func WithFetchClient(f *fetch.Client) ClientOption {
	return func(c *Client) {
		c.fetch = f
	}
}

// WithPolicy sets the retry policy used by Chat, Vision and upload
func WithPolicy(p fetch.Policy) ClientOption {
	return func(c *Client) {
		c.policy = p
	}
}

// WithModelsPolicy sets the policy used by Models
func WithModelsPolicy(p fetch.Policy) ClientOption {
	return func(c *Client) {
		c.modelsPolicy = p
	}
}

// WithLogger sets the client logger
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// DefaultPolicy retries 5xx/429 answers and transport failures.
func DefaultPolicy() fetch.Policy {
	p := fetch.DefaultPolicy()
	p.ShouldRetryResponse = fetch.RetryOnServerError
	return p
}

// ModelsPolicy makes a single short attempt.
func ModelsPolicy() fetch.Policy {
	p := fetch.NoRetry()
	p.AttemptTimeout = ModelsTimeout
	return p
}

// NewClient creates a relay client for baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		baseURL = models.DefaultRelayURL
	}
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		policy:       DefaultPolicy(),
		modelsPolicy: ModelsPolicy(),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.fetch == nil {
		f, err := fetch.NewClient(fetch.WithLogger(c.logger))
		if err != nil {
			return nil, err
		}
		c.fetch = f
	}
	return c, nil
}

// BaseURL returns the relay base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Chat sends POST /api/chat.
func (c *Client) Chat(ctx context.Context, req models.ChatRequest) ([]byte, error) {
	req.Stream = false
	return c.postJSON(ctx, models.PathChat, req, c.policy)
}

// Vision sends POST /api/vision.
func (c *Client) Vision(ctx context.Context, req models.VisionRequest) ([]byte, error) {
	return c.postJSON(ctx, models.PathVision, req, c.policy)
}

// GenerateImage sends POST /api/image/generate under the given policy.
func (c *Client) GenerateImage(ctx context.Context, req models.ImageRequest, policy fetch.Policy) ([]byte, error) {
	return c.postJSON(ctx, models.PathImageGenerate, req, policy)
}

// Models sends GET /api/models under the models policy, which by default
// does not retry.
func (c *Client) Models(ctx context.Context) ([]byte, error) {
	return c.do(ctx, models.PathModels, fetch.Request{Method: http.MethodGet}, c.modelsPolicy)
}

func (c *Client) postJSON(ctx context.Context, path string, body any, policy fetch.Policy) ([]byte, error) {
	req, err := fetch.JSONRequest(body)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, path, req, policy)
}

func (c *Client) do(ctx context.Context, path string, req fetch.Request, policy fetch.Policy) ([]byte, error) {
	url := c.baseURL + path
	resp, err := c.fetch.Execute(ctx, url, req, policy)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if !resp.OK() {
		apiErr := resp.APIError(path)
		c.logger.Debug("relay returned error", "path", path, "status", resp.StatusCode, "type", apiErr.Type)
		return nil, apiErr
	}
	return resp.Body, nil
}
