package resilience

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testChainConfig() ChainConfig {
	cfg := DefaultChainConfig()
	cfg.MaxAttempts = 3
	cfg.BaseDelay = time.Millisecond
	cfg.Breaker = testBreakerConfig()
	return cfg
}

func TestChainDoSuccess(t *testing.T) {
	c := NewChain("test", testChainConfig(), nil, nil)

	var calls atomic.Int32
	got, err := Do(context.Background(), c, func(ctx context.Context) (string, error) {
		calls.Add(1)
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, int32(1), calls.Load())
}

func TestChainDoRetriesTransient(t *testing.T) {
	c := NewChain("test", testChainConfig(), nil, nil)

	var calls atomic.Int32
	got, err := Do(context.Background(), c, func(ctx context.Context) (string, error) {
		if calls.Add(1) < 3 {
			return "", apiErr(502)
		}
		return "recovered", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "recovered", got)
	assert.Equal(t, int32(3), calls.Load())
}

func TestChainDoFatalErrorSkipsRetry(t *testing.T) {
	c := NewChain("test", testChainConfig(), nil, nil)

	fatal := apiErr(400)
	var calls atomic.Int32
	_, err := Do(context.Background(), c, func(ctx context.Context) (string, error) {
		calls.Add(1)
		return "", fatal
	})

	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, int32(1), calls.Load())
}

func TestChainDoExhaustsAttempts(t *testing.T) {
	c := NewChain("test", testChainConfig(), nil, nil)

	var calls atomic.Int32
	_, err := Do(context.Background(), c, func(ctx context.Context) (string, error) {
		calls.Add(1)
		return "", apiErr(502)
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 3 attempts failed")
	assert.Equal(t, 502, StatusOf(err))
	assert.Equal(t, int32(3), calls.Load())
}

func TestChainDoAttemptTimeout(t *testing.T) {
	cfg := testChainConfig()
	cfg.MaxAttempts = 2
	cfg.AttemptTimeout = 20 * time.Millisecond
	c := NewChain("test", cfg, nil, nil)

	var calls atomic.Int32
	_, err := Do(context.Background(), c, func(ctx context.Context) (string, error) {
		calls.Add(1)
		<-ctx.Done()
		return "", ctx.Err()
	})

	// The per-attempt deadline is transient; only the caller's own context
	// ends the loop early.
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(2), calls.Load())
}

func TestChainDoCallerCancellation(t *testing.T) {
	c := NewChain("test", testChainConfig(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	_, err := Do(ctx, c, func(context.Context) (string, error) {
		calls.Add(1)
		cancel()
		return "", apiErr(502)
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), calls.Load())
}

func TestChainDoLimiterFull(t *testing.T) {
	cfg := testChainConfig()
	cfg.MaxWaiters = 0
	c := NewChain("test", cfg, nil, nil)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := Do(context.Background(), c, func(ctx context.Context) (string, error) {
			close(entered)
			<-release
			return "held", nil
		})
		done <- err
	}()

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("holder never started")
	}

	_, err := Do(context.Background(), c, func(ctx context.Context) (string, error) {
		return "", nil
	})
	assert.ErrorIs(t, err, ErrLimiterFull)

	close(release)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("holder never finished")
	}
}

func TestChainDoFailsFastWhenBreakerOpen(t *testing.T) {
	cfg := testChainConfig()
	cfg.MaxAttempts = 1
	c := NewChain("test", cfg, nil, nil)

	mark(c.breaker, apiErr(429), cfg.Breaker.MinSamples)
	require.Equal(t, BreakerOpen, c.BreakerState())

	var calls atomic.Int32
	_, err := Do(context.Background(), c, func(ctx context.Context) (string, error) {
		calls.Add(1)
		return "", nil
	})

	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.Equal(t, int32(0), calls.Load())
}

func TestChainDoProbesAfterBreak(t *testing.T) {
	cfg := testChainConfig()
	cfg.MaxAttempts = 2
	cfg.BaseDelay = 100 * time.Millisecond
	cfg.Breaker.Break = 30 * time.Millisecond
	c := NewChain("test", cfg, nil, nil)

	mark(c.breaker, apiErr(429), cfg.Breaker.MinSamples)
	require.Equal(t, BreakerOpen, c.BreakerState())

	// The open circuit fails the first attempt fast, the backoff outlasts
	// the break, and the retry probes the provider and closes the circuit.
	var calls atomic.Int32
	got, err := Do(context.Background(), c, func(ctx context.Context) (string, error) {
		calls.Add(1)
		return "probe ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "probe ok", got)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, BreakerClosed, c.BreakerState())
}

func TestNewChainClampsConfig(t *testing.T) {
	c := NewChain("test", ChainConfig{}, nil, nil)

	assert.Equal(t, 1, c.cfg.MaxAttempts)
	assert.Equal(t, time.Second, c.cfg.BaseDelay)
	assert.Equal(t, 30*time.Second, c.cfg.AttemptTimeout)
}

func TestRetryDelayRange(t *testing.T) {
	base := 100 * time.Millisecond
	for n := 1; n <= 4; n++ {
		exp := base * (1 << (n - 1))
		for i := 0; i < 20; i++ {
			d := retryDelay(base, n)
			assert.GreaterOrEqual(t, d, exp)
			assert.LessOrEqual(t, d, exp+exp/2)
		}
	}
}
