package generation

import (
	"context"
	"errors"
	"net"
)

// Common errors returned by generators
var (
	// ErrInvalidResponse is returned when the LLM response cannot be parsed or is malformed
	ErrInvalidResponse = errors.New("invalid response from language model")

	// ErrContentBlocked is returned when the LLM blocks the content due to safety filters
	ErrContentBlocked = errors.New("content blocked by language model safety filters")

	// ErrTransientFailure is returned for temporary errors that might resolve on retry
	ErrTransientFailure = errors.New("transient error during generation")

	// ErrRateLimited is returned when the service asks the caller to slow down
	ErrRateLimited = errors.New("rate limited by language model service")

	// ErrAuthentication is returned when the service rejects the credentials
	ErrAuthentication = errors.New("authentication rejected by language model service")

	// ErrInvalidInput is returned when the service rejects the request itself
	ErrInvalidInput = errors.New("request rejected as invalid")

	// ErrInvalidConfig is returned when the generator configuration is invalid
	ErrInvalidConfig = errors.New("invalid generator configuration")

	// ErrSkipItem is returned when the generator decides an item needs no output.
	// The item is recorded as skipped rather than failed.
	ErrSkipItem = errors.New("item skipped by generator")
)

// IsRetryable reports whether err describes a transient condition that may
// succeed on a later attempt: transient service errors, rate-limit responses,
// timeouts and network timeouts. Every other error is permanent.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrTransientFailure) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return false
}
