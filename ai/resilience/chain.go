package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/hrygo/chatsense/internal/metrics"
)

// ChainConfig tunes one policy chain.
type ChainConfig struct {
	// MaxWaiters bounds the limiter's FIFO queue.
	MaxWaiters int
	// MaxAttempts bounds the retry loop.
	MaxAttempts int
	// BaseDelay seeds the exponential backoff between attempts.
	BaseDelay time.Duration
	// AttemptTimeout bounds each individual attempt.
	AttemptTimeout time.Duration
	Breaker        BreakerConfig
}

// DefaultChainConfig matches the provider protection defaults.
func DefaultChainConfig() ChainConfig {
	return ChainConfig{
		MaxWaiters:     200,
		MaxAttempts:    5,
		BaseDelay:      time.Second,
		AttemptTimeout: 30 * time.Second,
		Breaker:        DefaultBreakerConfig(),
	}
}

// Chain holds the composed policy for one provider endpoint, outermost to
// innermost: limiter, retry, per-attempt timeout, breaker.
type Chain struct {
	name    string
	cfg     ChainConfig
	limiter *Limiter
	breaker *Breaker
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewChain builds the chain. Metrics may be nil.
func NewChain(name string, cfg ChainConfig, m *metrics.Metrics, logger *slog.Logger) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 30 * time.Second
	}
	if m != nil && cfg.Breaker.OnStateChange == nil {
		cfg.Breaker.OnStateChange = func(name string, state BreakerState) {
			m.SetBreakerState(name, int(state))
		}
	}
	return &Chain{
		name:    name,
		cfg:     cfg,
		limiter: NewLimiter(cfg.MaxWaiters),
		breaker: NewBreaker(name, cfg.Breaker),
		logger:  logger.With("chain", name),
		metrics: m,
	}
}

// Name returns the chain's label.
func (c *Chain) Name() string { return c.name }

// BreakerState exposes the circuit state for dashboards.
func (c *Chain) BreakerState() BreakerState { return c.breaker.State() }

// Do runs fn through the full policy chain. An open breaker counts as a
// transient attempt so a later retry can probe it after the break elapses.
func Do[T any](ctx context.Context, c *Chain, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if err := c.limiter.Acquire(ctx); err != nil {
		if err == ErrLimiterFull && c.metrics != nil {
			c.metrics.RecordLimiterRejected()
		}
		return zero, err
	}
	defer c.limiter.Release()

	var last error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		var result T
		var err error
		if allowErr := c.breaker.Allow(); allowErr != nil {
			err = allowErr
		} else {
			attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
			result, err = fn(attemptCtx)
			cancel()
			c.breaker.Mark(err)
			if err == nil {
				return result, nil
			}
		}

		last = err
		if ctx.Err() != nil {
			// The caller's context ended, not the per-attempt deadline.
			return zero, ctx.Err()
		}
		if !Transient(err) && err != ErrBreakerOpen {
			return zero, err
		}
		if attempt == c.cfg.MaxAttempts {
			break
		}

		delay := retryDelay(c.cfg.BaseDelay, attempt)
		c.logger.Warn("retrying transient error",
			"attempt", attempt,
			"max_attempts", c.cfg.MaxAttempts,
			"delay", delay,
			"status", StatusOf(err),
			"error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}

	c.logger.Error("all attempts exhausted", "attempts", c.cfg.MaxAttempts, "error", last)
	return zero, fmt.Errorf("all %d attempts failed: %w", c.cfg.MaxAttempts, last)
}

// retryDelay returns the backoff before the next attempt after 1-based
// attempt n: base doubled per attempt plus up to 50% random jitter.
func retryDelay(base time.Duration, n int) time.Duration {
	exp := base * (1 << (n - 1))
	jitter := time.Duration(rand.Int63n(int64(exp)/2 + 1))
	return exp + jitter
}
