package relay

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	apierrors "github.com/diogo/kiki/internal/errors"
)

// Upstream is the OpenAI-compatible inference API behind the relay. Both
// methods return the raw response body on 2xx, an *errors.APIError carrying
// the upstream status otherwise, and an *errors.TransportError when no
// response arrived.
type Upstream interface {
	Get(ctx context.Context, path string) ([]byte, error)
	Post(ctx context.Context, path string, body any, opts ...CallOption) ([]byte, error)
}

// CallOption tunes a single upstream call.
type CallOption func(*callOptions)

type callOptions struct {
	retries    int
	hasRetries bool
}

// WithRetries overrides the client retry budget for one call.
func WithRetries(n int) CallOption {
	return func(o *callOptions) {
		o.retries = n
		o.hasRetries = true
	}
}

func applyCallOptions(opts []CallOption) callOptions {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// OpenAIUpstream calls the upstream through the openai-go client, using its
// raw Get/Post so payloads pass through untouched.
type OpenAIUpstream struct {
	client openai.Client
}

// UpstreamOptions configures NewOpenAIUpstream.
type UpstreamOptions struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
}

// NewOpenAIUpstream creates an upstream client bearing APIKey.
func NewOpenAIUpstream(o UpstreamOptions) *OpenAIUpstream {
	opts := []option.RequestOption{
		option.WithAPIKey(o.APIKey),
		option.WithBaseURL(strings.TrimRight(o.BaseURL, "/") + "/"),
		option.WithMaxRetries(o.MaxRetries),
	}
	if o.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(o.Timeout))
	}
	if o.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(o.HTTPClient))
	}
	return &OpenAIUpstream{client: openai.NewClient(opts...)}
}

func (u *OpenAIUpstream) Get(ctx context.Context, path string) ([]byte, error) {
	var raw []byte
	if err := u.client.Get(ctx, path, nil, &raw); err != nil {
		return nil, upstreamError(path, err)
	}
	return raw, nil
}

func (u *OpenAIUpstream) Post(ctx context.Context, path string, body any, opts ...CallOption) ([]byte, error) {
	co := applyCallOptions(opts)
	var reqOpts []option.RequestOption
	if co.hasRetries {
		reqOpts = append(reqOpts, option.WithMaxRetries(co.retries))
	}

	var raw []byte
	if err := u.client.Post(ctx, path, body, &raw, reqOpts...); err != nil {
		return nil, upstreamError(path, err)
	}
	return raw, nil
}

// upstreamError keeps the upstream status and message and drops the
// request details the SDK error carries, which include auth headers.
func upstreamError(path string, err error) error {
	var oe *openai.Error
	if errors.As(err, &oe) {
		ae := apierrors.NewAPIError(oe.StatusCode, path, oe.Message)
		ae.Type = oe.Type
		ae.Body = []byte(oe.RawJSON())
		return ae
	}
	return apierrors.NewTransportError("upstream", path, err)
}
