package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/scry-batch/internal/config"
	"github.com/phrazzld/scry-batch/internal/domain"
	"github.com/phrazzld/scry-batch/internal/generation"
	"github.com/phrazzld/scry-batch/internal/mocks"
	"github.com/phrazzld/scry-batch/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.ClientConfig {
	return config.ClientConfig{
		RequestsPerSecond: 0,
		Burst:             1,
		MaxRetries:        3,
		BaseDelay:         time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		Jitter:            0,
		CallTimeout:       time.Second,
	}
}

func newTestClient(t *testing.T, gen generation.Generator, cfg config.ClientConfig) *Client {
	t.Helper()
	c, err := New(gen, cfg, logger.Discard())
	require.NoError(t, err)
	return c
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	gen := mocks.NewMockGeneratorWithOutput(json.RawMessage(`{}`))

	t.Run("nil generator", func(t *testing.T) {
		_, err := New(nil, testConfig(), logger.Discard())
		assert.Error(t, err)
	})

	t.Run("nil logger", func(t *testing.T) {
		_, err := New(gen, testConfig(), nil)
		assert.Error(t, err)
	})

	t.Run("negative retries", func(t *testing.T) {
		cfg := testConfig()
		cfg.MaxRetries = -1
		_, err := New(gen, cfg, logger.Discard())
		assert.Error(t, err)
	})

	t.Run("zero base delay", func(t *testing.T) {
		cfg := testConfig()
		cfg.BaseDelay = 0
		_, err := New(gen, cfg, logger.Discard())
		assert.Error(t, err)
	})
}

func TestInvoke_Success(t *testing.T) {
	t.Parallel()

	gen := mocks.NewMockGeneratorWithOutput(json.RawMessage(`{"answer":42}`))
	c := newTestClient(t, gen, testConfig())

	outcome, err := c.Invoke(context.Background(), domain.Item{ID: "a"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"answer":42}`, string(outcome.Output))
	assert.Equal(t, 1, outcome.Attempts)
	assert.Equal(t, 1, gen.Calls("a"))
}

func TestInvoke_RetryBound(t *testing.T) {
	t.Parallel()

	gen := mocks.MockGeneratorWithTransientFailure()
	c := newTestClient(t, gen, testConfig())

	outcome, err := c.Invoke(context.Background(), domain.Item{ID: "a"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, generation.ErrTransientFailure)
	assert.Equal(t, 4, outcome.Attempts, "max_retries=3 allows exactly four attempts")
	assert.Equal(t, 4, gen.Calls("a"))
}

func TestInvoke_ZeroRetries(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MaxRetries = 0
	gen := mocks.MockGeneratorWithTransientFailure()
	c := newTestClient(t, gen, cfg)

	outcome, err := c.Invoke(context.Background(), domain.Item{ID: "a"})
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, 1, outcome.Attempts)
}

func TestInvoke_PermanentErrorNotRetried(t *testing.T) {
	t.Parallel()

	gen := mocks.NewMockGeneratorWithError(generation.ErrContentBlocked)
	c := newTestClient(t, gen, testConfig())

	outcome, err := c.Invoke(context.Background(), domain.Item{ID: "a"})
	require.Error(t, err)
	assert.ErrorIs(t, err, generation.ErrContentBlocked)
	assert.NotErrorIs(t, err, ErrRetriesExhausted)
	assert.NotErrorIs(t, err, ErrCancelled)
	assert.Equal(t, 1, outcome.Attempts)
	assert.Equal(t, 1, gen.Calls("a"))
}

func TestInvoke_SuccessAfterTransientFailures(t *testing.T) {
	t.Parallel()

	gen := &mocks.MockGenerator{GenerateFn: mocks.TransientThenSuccess(2)}
	c := newTestClient(t, gen, testConfig())

	outcome, err := c.Invoke(context.Background(), domain.Item{ID: "a"})
	require.NoError(t, err)
	assert.Equal(t, 3, outcome.Attempts)
	assert.JSONEq(t, `{"ok":true}`, string(outcome.Output))
}

func TestInvoke_RateLimitedIsRetried(t *testing.T) {
	t.Parallel()

	var calls int
	gen := &mocks.MockGenerator{
		GenerateFn: func(ctx context.Context, item domain.Item) (json.RawMessage, error) {
			calls++
			if calls == 1 {
				return nil, generation.ErrRateLimited
			}
			return json.RawMessage(`{}`), nil
		},
	}
	c := newTestClient(t, gen, testConfig())

	outcome, err := c.Invoke(context.Background(), domain.Item{ID: "a"})
	require.NoError(t, err)
	assert.Equal(t, 2, outcome.Attempts)
}

func TestInvoke_CancelledBeforeFirstAttempt(t *testing.T) {
	t.Parallel()

	gen := mocks.NewMockGeneratorWithOutput(json.RawMessage(`{}`))
	c := newTestClient(t, gen, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, err := c.Invoke(ctx, domain.Item{ID: "a"})
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, 0, outcome.Attempts)
	assert.Equal(t, 0, gen.TotalCalls())
}

func TestInvoke_CancelledBetweenAttempts(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.BaseDelay = time.Hour
	cfg.MaxDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gen := &mocks.MockGenerator{
		GenerateFn: func(_ context.Context, _ domain.Item) (json.RawMessage, error) {
			cancel()
			return nil, generation.ErrTransientFailure
		},
	}
	c := newTestClient(t, gen, cfg)

	done := make(chan struct{})
	var (
		outcome Outcome
		err     error
	)
	go func() {
		defer close(done)
		outcome, err = c.Invoke(ctx, domain.Item{ID: "a"})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Invoke did not observe cancellation during backoff")
	}

	assert.ErrorIs(t, err, ErrCancelled)
	assert.NotErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, 1, outcome.Attempts)
}

func TestInvoke_InFlightCallIgnoresRunCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gen := &mocks.MockGenerator{
		GenerateFn: func(callCtx context.Context, _ domain.Item) (json.RawMessage, error) {
			cancel()
			// The call context must stay alive after the run is cancelled.
			select {
			case <-callCtx.Done():
				return nil, callCtx.Err()
			case <-time.After(20 * time.Millisecond):
				return json.RawMessage(`{"done":true}`), nil
			}
		},
	}
	c := newTestClient(t, gen, testConfig())

	outcome, err := c.Invoke(ctx, domain.Item{ID: "a"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"done":true}`, string(outcome.Output))
}

func TestInvoke_CallTimeout(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.CallTimeout = 10 * time.Millisecond
	cfg.MaxRetries = 1

	gen := &mocks.MockGenerator{
		GenerateFn: func(callCtx context.Context, _ domain.Item) (json.RawMessage, error) {
			<-callCtx.Done()
			return nil, callCtx.Err()
		},
	}
	c := newTestClient(t, gen, cfg)

	outcome, err := c.Invoke(context.Background(), domain.Item{ID: "a"})
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 2, outcome.Attempts)
}

func TestInvoke_Pacing(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.RequestsPerSecond = 20
	cfg.Burst = 1

	gen := mocks.NewMockGeneratorWithOutput(json.RawMessage(`{}`))
	c := newTestClient(t, gen, cfg)

	var wg sync.WaitGroup
	start := time.Now()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := c.Invoke(context.Background(), domain.Item{ID: id})
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	// Five permits at 20/s with burst 1 need at least four 50ms intervals.
	assert.GreaterOrEqual(t, time.Since(start), 190*time.Millisecond)
	assert.Equal(t, 5, gen.TotalCalls())
}

func TestBackoff_CappedWithJitter(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.BaseDelay = 100 * time.Millisecond
	cfg.MaxDelay = 300 * time.Millisecond
	cfg.Jitter = 50 * time.Millisecond
	cfg.MaxRetries = 5

	c := newTestClient(t, mocks.NewMockGeneratorWithOutput(nil), cfg)
	c.jitter = func(max time.Duration) time.Duration {
		assert.Equal(t, 50*time.Millisecond, max)
		return 10 * time.Millisecond
	}

	b := c.newBackoff()
	var delays []time.Duration
	for {
		d, stop := b.Next()
		if stop {
			break
		}
		delays = append(delays, d)
	}

	require.Len(t, delays, 5)
	assert.Equal(t, 110*time.Millisecond, delays[0])
	assert.Equal(t, 210*time.Millisecond, delays[1])
	for _, d := range delays[2:] {
		assert.Equal(t, 300*time.Millisecond, d)
	}
}

func TestRandomJitter(t *testing.T) {
	t.Parallel()

	assert.Zero(t, randomJitter(0))
	assert.Zero(t, randomJitter(-time.Second))
	for i := 0; i < 100; i++ {
		j := randomJitter(10 * time.Millisecond)
		assert.GreaterOrEqual(t, j, time.Duration(0))
		assert.Less(t, j, 10*time.Millisecond)
	}
}

func TestInvoke_UnknownErrorPassesThrough(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	c := newTestClient(t, mocks.NewMockGeneratorWithError(boom), testConfig())

	outcome, err := c.Invoke(context.Background(), domain.Item{ID: "a"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, outcome.Attempts)
}
