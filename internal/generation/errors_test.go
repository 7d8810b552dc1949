package generation_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/phrazzld/scry-batch/internal/generation"
	"github.com/stretchr/testify/assert"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil", nil, false},
		{"transient", fmt.Errorf("%w: 503", generation.ErrTransientFailure), true},
		{"rate limited", fmt.Errorf("%w: 429", generation.ErrRateLimited), true},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), true},
		{"network timeout", timeoutError{}, true},
		{"invalid response", generation.ErrInvalidResponse, false},
		{"blocked", generation.ErrContentBlocked, false},
		{"authentication", generation.ErrAuthentication, false},
		{"invalid input", generation.ErrInvalidInput, false},
		{"skip", generation.ErrSkipItem, false},
		{"cancelled", context.Canceled, false},
		{"unknown", errors.New("something else"), false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.retryable, generation.IsRetryable(tc.err))
		})
	}
}
