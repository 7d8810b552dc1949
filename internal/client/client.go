package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/phrazzld/scry-batch/internal/config"
	"github.com/phrazzld/scry-batch/internal/domain"
	"github.com/phrazzld/scry-batch/internal/generation"
	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"
)

// Common errors returned by the Client
var (
	// ErrRetriesExhausted wraps the last transient error once the retry budget
	// is spent. It is a permanent failure from the caller's point of view.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrCancelled is returned when the run was cancelled before the item
	// reached a final outcome. The item must stay pending.
	ErrCancelled = errors.New("invocation cancelled")

	errNoPermit = errors.New("no rate limit permit")
)

// Outcome is the result of one Invoke call.
type Outcome struct {
	// Output is the generator output on success
	Output json.RawMessage

	// Attempts is the number of calls actually issued to the generator
	Attempts int
}

// Client wraps a generation.Generator with request pacing and bounded retries.
// It is safe for concurrent use by many workers.
type Client struct {
	generator generation.Generator
	limiter   *rate.Limiter
	config    config.ClientConfig
	logger    *slog.Logger

	// jitter returns a random duration in [0, max); replaceable in tests
	jitter func(max time.Duration) time.Duration
}

// New creates a rate-limited client around generator.
// A non-positive RequestsPerSecond disables pacing.
func New(generator generation.Generator, cfg config.ClientConfig, logger *slog.Logger) (*Client, error) {
	if generator == nil {
		return nil, errors.New("generator cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries cannot be negative: %d", cfg.MaxRetries)
	}
	if cfg.BaseDelay <= 0 {
		return nil, fmt.Errorf("base delay must be positive: %s", cfg.BaseDelay)
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &Client{
		generator: generator,
		limiter:   rate.NewLimiter(limit, cfg.Burst),
		config:    cfg,
		logger:    logger,
		jitter:    randomJitter,
	}, nil
}

// Invoke runs the generator for one item.
//
// Every attempt first acquires a permit from the shared limiter, blocking
// only the calling goroutine. Retryable failures are retried up to
// MaxRetries times with delay min(BaseDelay*2^attempt + jitter, MaxDelay).
// Permanent failures return immediately.
//
// ctx is checked between attempts only: an attempt already in flight runs on
// a detached context bounded by CallTimeout so it finishes or times out on
// its own. When ctx is cancelled before a final outcome is reached, the
// returned error wraps ErrCancelled.
func (c *Client) Invoke(ctx context.Context, item domain.Item) (Outcome, error) {
	var outcome Outcome
	logger := c.logger.With("item_id", item.ID)

	err := retry.Do(ctx, c.newBackoff(), func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %w", errNoPermit, err)
		}

		outcome.Attempts++
		attempt := outcome.Attempts

		output, err := c.call(ctx, item)
		if err == nil {
			outcome.Output = output
			if attempt > 1 {
				logger.InfoContext(ctx, "call succeeded after retry", "attempt", attempt)
			}
			return nil
		}

		if !generation.IsRetryable(err) {
			logger.WarnContext(ctx, "permanent error, not retrying",
				"attempt", attempt,
				"error", err)
			return err
		}

		logger.InfoContext(ctx, "transient error, will retry if budget allows",
			"attempt", attempt,
			"max_attempts", c.config.MaxRetries+1,
			"error", err)
		return retry.RetryableError(err)
	})

	switch {
	case err == nil:
		return outcome, nil
	case errors.Is(err, errNoPermit) || (ctx.Err() != nil && errors.Is(err, ctx.Err())):
		return outcome, fmt.Errorf("%w after %d attempts: %w", ErrCancelled, outcome.Attempts, err)
	case generation.IsRetryable(err):
		logger.WarnContext(ctx, "maximum retry attempts reached",
			"attempts", outcome.Attempts,
			"max_retries", c.config.MaxRetries)
		return outcome, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, outcome.Attempts, err)
	default:
		return outcome, err
	}
}

// call issues a single generator request on a context that ignores run
// cancellation but still honours the per-call timeout.
func (c *Client) call(ctx context.Context, item domain.Item) (json.RawMessage, error) {
	callCtx := context.WithoutCancel(ctx)
	if c.config.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, c.config.CallTimeout)
		defer cancel()
	}

	return c.generator.Generate(callCtx, item)
}

// newBackoff builds the per-item retry schedule. Each Invoke gets its own
// schedule because go-retry backoffs are stateful.
func (c *Client) newBackoff() retry.Backoff {
	b := retry.NewExponential(c.config.BaseDelay)
	b = c.withJitter(b)
	b = retry.WithCappedDuration(c.config.MaxDelay, b)
	return retry.WithMaxRetries(uint64(c.config.MaxRetries), b)
}

// withJitter adds a random delay in [0, Jitter) to every step.
func (c *Client) withJitter(next retry.Backoff) retry.Backoff {
	return retry.BackoffFunc(func() (time.Duration, bool) {
		val, stop := next.Next()
		if stop {
			return 0, true
		}
		return val + c.jitter(c.config.Jitter), false
	})
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max)))
}
