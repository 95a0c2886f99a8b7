package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestTransportError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantTimeout bool
		wantAborted bool
		wantMsg     string
	}{
		{
			name:    "network failure",
			err:     errors.New("connection refused"),
			wantMsg: "POST /api/chat: network error: connection refused",
		},
		{
			name:        "attempt timeout",
			err:         fmt.Errorf("do: %w", context.DeadlineExceeded),
			wantTimeout: true,
			wantMsg:     "POST /api/chat: timed out",
		},
		{
			name:        "caller abort",
			err:         context.Canceled,
			wantAborted: true,
			wantMsg:     "POST /api/chat: aborted",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewTransportError("POST", "/api/chat", tt.err)
			if err.Timeout != tt.wantTimeout {
				t.Errorf("Timeout = %v, want %v", err.Timeout, tt.wantTimeout)
			}
			if err.Aborted != tt.wantAborted {
				t.Errorf("Aborted = %v, want %v", err.Aborted, tt.wantAborted)
			}
			if err.Error() != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", err.Error(), tt.wantMsg)
			}
			if !errors.Is(err, tt.err) {
				t.Error("expected wrapped error to be reachable")
			}
			if !IsTransportError(fmt.Errorf("outer: %w", err)) {
				t.Error("IsTransportError() = false through wrapping")
			}
			if IsTimeoutError(err) != tt.wantTimeout {
				t.Errorf("IsTimeoutError() = %v", IsTimeoutError(err))
			}
			if IsAborted(err) != tt.wantAborted {
				t.Errorf("IsAborted() = %v", IsAborted(err))
			}
		})
	}
}

func TestAPIError(t *testing.T) {
	err := NewAPIError(400, "test-endpoint", "test API error")

	expected := "API error [400] at test-endpoint: test API error"
	if err.Error() != expected {
		t.Errorf("Error() = %s, want %s", err.Error(), expected)
	}

	bare := &APIError{StatusCode: 503, Endpoint: "/api/chat"}
	if bare.Error() != "API error [503] at /api/chat: Service Unavailable" {
		t.Errorf("Error() = %s", bare.Error())
	}

	if GetHTTPStatus(fmt.Errorf("wrap: %w", err)) != 400 {
		t.Errorf("GetHTTPStatus() = %d, want 400", GetHTTPStatus(err))
	}
	if GetHTTPStatus(errors.New("plain")) != 0 {
		t.Error("GetHTTPStatus() should be 0 for non-API errors")
	}
}

func TestParseError(t *testing.T) {
	err := NewParseError("unexpected token", "choices.0")
	if err.Error() != "parse error at choices.0: unexpected token" {
		t.Errorf("Error() = %s", err.Error())
	}
	if !errors.Is(err, ErrInvalidJSON) {
		t.Error("expected ParseError to match ErrInvalidJSON")
	}
	if errors.Is(err, ErrNoImageURL) {
		t.Error("ParseError should not match ErrNoImageURL")
	}
}

func TestConfigurationError(t *testing.T) {
	err := NewConfigurationError(ErrAPIKeyMissing.Error())
	if !errors.Is(err, ErrAPIKeyMissing) {
		t.Error("expected match with ErrAPIKeyMissing")
	}
	if !IsConfigurationError(err) {
		t.Error("IsConfigurationError() = false")
	}

	relayed := &APIError{StatusCode: 500, Type: TypeConfiguration, Message: "API key not configured"}
	if !IsConfigurationError(relayed) {
		t.Error("IsConfigurationError() should accept relayed envelopes")
	}
	if IsConfigurationError(NewAPIError(500, "x", "boom")) {
		t.Error("plain API errors are not configuration errors")
	}
}

func TestIsRetryableStatus(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{200, false},
		{400, false},
		{404, false},
		{429, true},
		{500, true},
		{502, true},
		{503, true},
	}

	for _, tt := range tests {
		if got := IsRetryableStatus(tt.status); got != tt.want {
			t.Errorf("IsRetryableStatus(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestErrorType(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"validation", NewValidationError("prompt", "is required"), TypeInvalidRequest},
		{"configuration", NewConfigurationError("missing key"), TypeConfiguration},
		{"typed api error", &APIError{StatusCode: 400, Type: "custom_error"}, "custom_error"},
		{"rate limited", NewAPIError(429, "x", "slow down"), TypeRateLimit},
		{"client error", NewAPIError(404, "x", "nope"), TypeInvalidRequest},
		{"server error", NewAPIError(502, "x", "bad gateway"), TypeAPI},
		{"unknown", errors.New("boom"), TypeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorType(tt.err); got != tt.want {
				t.Errorf("ErrorType() = %s, want %s", got, tt.want)
			}
		})
	}
}
