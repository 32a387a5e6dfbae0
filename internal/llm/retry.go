package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Transient provider failures are retried with capped exponential
// backoff before the circuit breaker counts the request as failed.
const retryAttempts = 3

var (
	retryBaseDelay = 200 * time.Millisecond
	retryMaxDelay  = 2 * time.Second
)

// transientError marks a failure worth retrying: a provider 5xx or a
// network-level error. Client errors (4xx) and context cancellation are
// never transient.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// transientf wraps a formatted error as transient.
func transientf(format string, args ...any) error {
	return &transientError{err: fmt.Errorf(format, args...)}
}

// isTransient reports whether err should be retried.
func isTransient(err error) bool {
	var te *transientError
	if errors.As(err, &te) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// withRetry runs fn, retrying transient failures with capped exponential
// backoff. The last error is returned once attempts run out; context
// cancellation stops the loop immediately.
func withRetry[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	delay := retryBaseDelay
	for attempt := 1; ; attempt++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		if attempt == retryAttempts || !isTransient(err) || ctx.Err() != nil {
			return zero, err
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
		if delay *= 2; delay > retryMaxDelay {
			delay = retryMaxDelay
		}
	}
}
