// Package errors provides the error taxonomy shared by the relay, the relay
// client and the conversation controller.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for common cases
var (
	ErrNoImageURL    = errors.New("no image URL in response")
	ErrBusy          = errors.New("a request is already in flight")
	ErrEmptyInput    = errors.New("nothing to send")
	ErrAPIKeyMissing = errors.New("API key not configured")
	ErrInvalidJSON   = errors.New("invalid response format")
)

// Error types carried in the relay envelope {"error":{"message","type"}}.
const (
	TypeInvalidRequest = "invalid_request_error"
	TypeConfiguration  = "configuration_error"
	TypeAPI            = "api_error"
	TypeInternal       = "internal_error"
	TypeRateLimit      = "rate_limit_error"
)

// TransportError represents a request that never produced an HTTP response:
// connection failure, attempt timeout or caller abort.
type TransportError struct {
	Op       string
	Endpoint string
	Timeout  bool
	Aborted  bool
	Err      error
}

func (e *TransportError) Error() string {
	switch {
	case e.Aborted:
		return fmt.Sprintf("%s %s: aborted", e.Op, e.Endpoint)
	case e.Timeout:
		return fmt.Sprintf("%s %s: timed out", e.Op, e.Endpoint)
	case e.Err != nil:
		return fmt.Sprintf("%s %s: network error: %v", e.Op, e.Endpoint, e.Err)
	}
	return fmt.Sprintf("%s %s: network error", e.Op, e.Endpoint)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NewTransportError classifies err as timeout or abort when it wraps one of
// the context errors.
func NewTransportError(op, endpoint string, err error) *TransportError {
	te := &TransportError{Op: op, Endpoint: endpoint, Err: err}
	switch {
	case errors.Is(err, context.Canceled):
		te.Aborted = true
	case errors.Is(err, context.DeadlineExceeded):
		te.Timeout = true
	}
	return te
}

// APIError represents a non-2xx answer from the relay or the upstream.
type APIError struct {
	StatusCode int
	Message    string
	Type       string
	Endpoint   string
	Body       []byte
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("API error [%d] at %s: %s", e.StatusCode, e.Endpoint, msg)
	}
	return fmt.Sprintf("API error at %s: %s", e.Endpoint, msg)
}

// NewAPIError creates a new APIError
func NewAPIError(statusCode int, endpoint, message string) *APIError {
	return &APIError{
		StatusCode: statusCode,
		Endpoint:   endpoint,
		Message:    message,
	}
}

// ParseError represents a response body that could not be interpreted.
type ParseError struct {
	Message string
	Path    string
}

func (e *ParseError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("parse error at %s: %s", e.Path, e.Message)
	}
	return fmt.Sprintf("parse error: %s", e.Message)
}

// NewParseError creates a new ParseError
func NewParseError(message, path string) *ParseError {
	return &ParseError{Message: message, Path: path}
}

// Is allows comparison with sentinel errors
func (e *ParseError) Is(target error) bool {
	if target == ErrInvalidJSON {
		return true
	}
	_, ok := target.(*ParseError)
	return ok
}

// ValidationError represents bad caller input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// ConfigurationError is a server-side misconfiguration. Its message must
// never carry credential material.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Message)
}

func (e *ConfigurationError) Is(target error) bool {
	if target == ErrAPIKeyMissing {
		return e.Message == ErrAPIKeyMissing.Error()
	}
	_, ok := target.(*ConfigurationError)
	return ok
}

// NewConfigurationError creates a new ConfigurationError
func NewConfigurationError(message string) *ConfigurationError {
	return &ConfigurationError{Message: message}
}

// IsTransportError reports whether err is a network-level failure.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsTimeoutError reports whether err is an attempt timeout.
func IsTimeoutError(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Timeout
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsAborted reports whether err stems from the caller cancelling.
func IsAborted(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Aborted
	}
	return errors.Is(err, context.Canceled)
}

// IsConfigurationError reports whether err is a ConfigurationError or an
// APIError whose envelope type is configuration_error.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	if errors.As(err, &ce) {
		return true
	}
	var ae *APIError
	return errors.As(err, &ae) && ae.Type == TypeConfiguration
}

// GetHTTPStatus returns the status carried by an APIError, or 0.
func GetHTTPStatus(err error) int {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.StatusCode
	}
	return 0
}

// IsRetryableStatus reports whether an HTTP status is worth retrying.
func IsRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// ErrorType maps err to the envelope type the relay reports for it.
func ErrorType(err error) string {
	var (
		ae *APIError
		ve *ValidationError
		ce *ConfigurationError
	)
	switch {
	case errors.As(err, &ce):
		return TypeConfiguration
	case errors.As(err, &ve):
		return TypeInvalidRequest
	case errors.As(err, &ae):
		if ae.Type != "" {
			return ae.Type
		}
		if ae.StatusCode == http.StatusTooManyRequests {
			return TypeRateLimit
		}
		if ae.StatusCode >= 400 && ae.StatusCode < 500 {
			return TypeInvalidRequest
		}
		return TypeAPI
	}
	return TypeInternal
}
