package api

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	fhttp "github.com/bogdanfinn/fhttp"

	"github.com/diogo/kiki/internal/fetch"
)

// MockDoer records requests and answers each with the next queued response;
// the last one repeats.
type MockDoer struct {
	mu        sync.Mutex
	Responses []MockResponse
	Requests  []RecordedRequest
}

// MockResponse is one canned answer
type MockResponse struct {
	Status int
	Body   string
	Err    error
}

// RecordedRequest captures what the client sent
type RecordedRequest struct {
	Method      string
	URL         string
	ContentType string
	Body        string
}

// Do implements fetch.Doer
func (m *MockDoer) Do(req *fhttp.Request) (*fhttp.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := RecordedRequest{
		Method:      req.Method,
		URL:         req.URL.String(),
		ContentType: req.Header.Get("Content-Type"),
	}
	if req.Body != nil {
		b, _ := io.ReadAll(req.Body)
		rec.Body = string(b)
	}
	m.Requests = append(m.Requests, rec)

	r := m.Responses[min(len(m.Requests)-1, len(m.Responses)-1)]
	if r.Err != nil {
		return nil, r.Err
	}
	return &fhttp.Response{
		StatusCode: r.Status,
		Status:     fhttp.StatusText(r.Status),
		Header:     fhttp.Header{},
		Body:       io.NopCloser(strings.NewReader(r.Body)),
	}, nil
}

func newMockClient(t *testing.T, responses ...MockResponse) (*Client, *MockDoer) {
	t.Helper()
	doer := &MockDoer{Responses: responses}
	f, err := fetch.NewClient(
		fetch.WithDoer(doer),
		fetch.WithSleeper(func(ctx context.Context, d time.Duration) error { return nil }),
	)
	if err != nil {
		t.Fatalf("fetch.NewClient() error = %v", err)
	}
	c, err := NewClient("http://relay.test/", WithFetchClient(f))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c, doer
}
