package api

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	apierrors "github.com/diogo/kiki/internal/errors"
	"github.com/diogo/kiki/internal/fetch"
	"github.com/diogo/kiki/internal/models"
)

func TestNewClientTrimsBaseURL(t *testing.T) {
	c, _ := newMockClient(t, MockResponse{Status: 200, Body: `{}`})
	if c.BaseURL() != "http://relay.test" {
		t.Errorf("BaseURL() = %s", c.BaseURL())
	}
}

func TestChat(t *testing.T) {
	c, doer := newMockClient(t, MockResponse{Status: 200, Body: `{"id":"a1","content":"hi"}`})

	raw, err := c.Chat(context.Background(), models.ChatRequest{
		Model:    "m",
		Stream:   true,
		Messages: []models.WireMessage{{Role: models.RoleUser, Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if string(raw) != `{"id":"a1","content":"hi"}` {
		t.Errorf("raw = %s", raw)
	}

	req := doer.Requests[0]
	if req.Method != "POST" || req.URL != "http://relay.test/api/chat" {
		t.Errorf("request = %s %s", req.Method, req.URL)
	}
	if req.ContentType != "application/json" {
		t.Errorf("Content-Type = %s", req.ContentType)
	}

	var sent models.ChatRequest
	if err := json.Unmarshal([]byte(req.Body), &sent); err != nil {
		t.Fatal(err)
	}
	if sent.Stream {
		t.Error("stream must be forced off")
	}
	if sent.Model != "m" || len(sent.Messages) != 1 {
		t.Errorf("sent = %+v", sent)
	}
}

func TestChatErrorEnvelope(t *testing.T) {
	c, doer := newMockClient(t, MockResponse{Status: 500, Body: `{"error":{"message":"API key not configured","type":"configuration_error"}}`})

	_, err := c.Chat(context.Background(), models.ChatRequest{})
	if !apierrors.IsConfigurationError(err) {
		t.Errorf("err = %v, want configuration error", err)
	}
	if len(doer.Requests) != 1 {
		t.Errorf("requests = %d, want 1 (configuration errors are not retried)", len(doer.Requests))
	}
}

func TestChatServerErrorRetried(t *testing.T) {
	c, doer := newMockClient(t, MockResponse{Status: 503, Body: `{"error":{"message":"Service Unavailable","type":"api_error"}}`})

	if _, err := c.Chat(context.Background(), models.ChatRequest{}); apierrors.GetHTTPStatus(err) != 503 {
		t.Errorf("err = %v, want 503", err)
	}
	if len(doer.Requests) != 4 {
		t.Errorf("requests = %d, want 4 (default policy retries 5xx)", len(doer.Requests))
	}
}

func TestChatClientErrorNotRetried(t *testing.T) {
	c, doer := newMockClient(t, MockResponse{Status: 400, Body: `{"error":{"message":"Messages array is required","type":"invalid_request_error"}}`})

	_, err := c.Chat(context.Background(), models.ChatRequest{})
	if apierrors.GetHTTPStatus(err) != 400 {
		t.Errorf("status = %d, want 400", apierrors.GetHTTPStatus(err))
	}
	if len(doer.Requests) != 1 {
		t.Errorf("requests = %d, want 1", len(doer.Requests))
	}
}

func TestGenerateImageUsesGivenPolicy(t *testing.T) {
	c, doer := newMockClient(t,
		MockResponse{Status: 503},
		MockResponse{Status: 200, Body: `{"data":[{"url":"https://x/y.png"}]}`},
	)

	retries := 0
	p := DefaultPolicy()
	p.MaxRetries = 1
	p.OnRetry = func(int, time.Duration, error) { retries++ }

	raw, err := c.GenerateImage(context.Background(), models.ImageRequest{Prompt: "fox"}, p)
	if err != nil {
		t.Fatalf("GenerateImage() error = %v", err)
	}
	if string(raw) != `{"data":[{"url":"https://x/y.png"}]}` {
		t.Errorf("raw = %s", raw)
	}
	if retries != 1 || len(doer.Requests) != 2 {
		t.Errorf("retries=%d requests=%d", retries, len(doer.Requests))
	}
	if doer.Requests[0].URL != "http://relay.test/api/image/generate" {
		t.Errorf("URL = %s", doer.Requests[0].URL)
	}
}

func TestVisionAndModels(t *testing.T) {
	c, doer := newMockClient(t, MockResponse{Status: 200, Body: `{"ok":1}`})

	if _, err := c.Vision(context.Background(), models.VisionRequest{Model: "v"}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Models(context.Background()); err != nil {
		t.Fatal(err)
	}
	if doer.Requests[0].URL != "http://relay.test/api/vision" || doer.Requests[0].Method != "POST" {
		t.Errorf("vision request = %+v", doer.Requests[0])
	}
	if doer.Requests[1].URL != "http://relay.test/api/models" || doer.Requests[1].Method != "GET" {
		t.Errorf("models request = %+v", doer.Requests[1])
	}
}

func TestTransportErrorPropagates(t *testing.T) {
	c, _ := newMockClient(t, MockResponse{Err: errors.New("dial tcp: connection refused")})
	c.policy = fetch.NoRetry()

	_, err := c.Models(context.Background())
	if !apierrors.IsTransportError(err) {
		t.Errorf("err = %v, want transport error", err)
	}
}

func TestModelsMakesSingleAttempt(t *testing.T) {
	c, doer := newMockClient(t, MockResponse{Status: 503, Body: `{"error":{"message":"down","type":"api_error"}}`})

	if _, err := c.Models(context.Background()); apierrors.GetHTTPStatus(err) != 503 {
		t.Errorf("err = %v, want 503", err)
	}
	if len(doer.Requests) != 1 {
		t.Errorf("requests = %d, want 1", len(doer.Requests))
	}
	if p := ModelsPolicy(); p.MaxRetries != 0 || p.AttemptTimeout != ModelsTimeout {
		t.Errorf("ModelsPolicy() = %+v", p)
	}
}

func TestWithModelsPolicy(t *testing.T) {
	c, doer := newMockClient(t, MockResponse{Status: 503, Body: `{}`})
	p := fetch.DefaultPolicy()
	p.MaxRetries = 1
	WithModelsPolicy(p)(c)

	_, _ = c.Models(context.Background())
	if len(doer.Requests) != 2 {
		t.Errorf("requests = %d, want 2", len(doer.Requests))
	}
}
