package fetch

import (
	"fmt"
	"time"

	apierrors "github.com/diogo/kiki/internal/errors"
)

// Policy configures how Execute retries a request. A Policy is a value: build
// one per call, it is never mutated by the client.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64

	// AttemptTimeout bounds a single attempt. Zero disables it.
	AttemptTimeout time.Duration

	// ShouldRetryResponse reports whether an HTTP response is a retryable
	// failure. Defaults to any non-2xx status.
	ShouldRetryResponse func(*Response) bool

	// ShouldRetryOnError reports whether a transport error is retryable.
	// Defaults to RetryOnTransportError.
	ShouldRetryOnError func(error) bool

	// OnRetry is called before each sleep with the 1-based retry number.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultPolicy returns 3 retries, 1s initial delay doubling up to 10s, and
// a 10s attempt timeout.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:     3,
		InitialDelay:   time.Second,
		MaxDelay:       10 * time.Second,
		BackoffFactor:  2,
		AttemptTimeout: 10 * time.Second,
	}
}

// NoRetry returns a policy making a single attempt.
func NoRetry() Policy {
	p := DefaultPolicy()
	p.MaxRetries = 0
	return p
}

// withDefaults fills unset fields. MaxRetries and AttemptTimeout are taken
// as given since zero is meaningful for both.
func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.InitialDelay == 0 {
		p.InitialDelay = def.InitialDelay
	}
	if p.MaxDelay == 0 {
		p.MaxDelay = max(def.MaxDelay, p.InitialDelay)
	}
	if p.BackoffFactor == 0 {
		p.BackoffFactor = def.BackoffFactor
	}
	if p.ShouldRetryResponse == nil {
		p.ShouldRetryResponse = func(r *Response) bool { return !r.OK() }
	}
	if p.ShouldRetryOnError == nil {
		p.ShouldRetryOnError = RetryOnTransportError
	}
	if p.OnRetry == nil {
		p.OnRetry = func(int, time.Duration, error) {}
	}
	return p
}

// Validate checks the numeric fields of the policy.
func (p Policy) Validate() error {
	switch {
	case p.MaxRetries < 0:
		return apierrors.NewValidationError("max_retries", "must be >= 0")
	case p.InitialDelay <= 0:
		return apierrors.NewValidationError("initial_delay", "must be > 0")
	case p.MaxDelay < p.InitialDelay:
		return apierrors.NewValidationError("max_delay", fmt.Sprintf("must be >= initial_delay (%s)", p.InitialDelay))
	case p.BackoffFactor < 1:
		return apierrors.NewValidationError("backoff_factor", "must be >= 1")
	case p.AttemptTimeout < 0:
		return apierrors.NewValidationError("attempt_timeout", "must be >= 0")
	}
	return nil
}

// Backoff returns the delay slept before retry k (1-based):
// min(InitialDelay * BackoffFactor^(k-1), MaxDelay).
func (p Policy) Backoff(k int) time.Duration {
	p = p.withDefaults()
	d := p.InitialDelay
	for i := 1; i < k; i++ {
		d = p.next(d)
	}
	return d
}

func (p Policy) next(d time.Duration) time.Duration {
	n := time.Duration(float64(d) * p.BackoffFactor)
	if n > p.MaxDelay || n < d {
		return p.MaxDelay
	}
	return n
}

// RetryOnServerError retries 5xx and 429 responses, except a relay
// configuration_error: a missing key does not fix itself between attempts.
func RetryOnServerError(r *Response) bool {
	if !apierrors.IsRetryableStatus(r.StatusCode) {
		return false
	}
	return r.APIError("").Type != apierrors.TypeConfiguration
}

// RetryOnTransportError retries network failures and attempt timeouts but
// never a caller abort.
func RetryOnTransportError(err error) bool {
	return apierrors.IsTransportError(err) && !apierrors.IsAborted(err)
}
