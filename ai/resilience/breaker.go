package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen is returned while the circuit is open. The retry layer
// treats it as transient so a later attempt can probe recovery.
var ErrBreakerOpen = errors.New("circuit breaker is open")

// BreakerState is the circuit state.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes the sampling circuit breaker.
type BreakerConfig struct {
	// Window is how long samples stay relevant.
	Window time.Duration
	// MinSamples gates opening: fewer samples in the window never open the
	// circuit.
	MinSamples int
	// FailureRatio opens the circuit when at least this share of windowed
	// samples are breaker failures.
	FailureRatio float64
	// Break is how long the circuit stays open before a probe is allowed.
	Break time.Duration
	// OnStateChange is called outside the lock on every transition.
	OnStateChange func(name string, state BreakerState)
}

// DefaultBreakerConfig matches the provider protection defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Window:       60 * time.Second,
		MinSamples:   10,
		FailureRatio: 0.8,
		Break:        15 * time.Second,
	}
}

type breakerSample struct {
	at     time.Time
	failed bool
}

// Breaker is a sampling circuit breaker. Every completed call lands as a
// sample; only rate-limit and unavailability failures count against the
// ratio. When open, calls fail fast until the break elapses, then a single
// probe decides between closing and reopening.
type Breaker struct {
	name string
	cfg  BreakerConfig

	mu       sync.Mutex
	state    BreakerState
	samples  []breakerSample
	openedAt time.Time
}

// NewBreaker creates a breaker named for logs and metrics.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.Window <= 0 {
		cfg.Window = 60 * time.Second
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 10
	}
	if cfg.FailureRatio <= 0 {
		cfg.FailureRatio = 0.8
	}
	if cfg.Break <= 0 {
		cfg.Break = 15 * time.Second
	}
	return &Breaker{name: name, cfg: cfg, state: BreakerClosed}
}

// Allow reports whether a call may proceed. While open it returns
// ErrBreakerOpen until the break elapses, then admits a probe in half-open
// state.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed, BreakerHalfOpen:
		return nil
	case BreakerOpen:
		if time.Since(b.openedAt) >= b.cfg.Break {
			b.setStateLocked(BreakerHalfOpen)
			return nil
		}
		return ErrBreakerOpen
	default:
		return nil
	}
}

// Mark records one completed call. Call it only for outcomes that actually
// reached the provider, not for calls Allow rejected.
func (b *Breaker) Mark(err error) {
	failed := err != nil && TripsBreaker(err)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.samples = append(b.samples, breakerSample{at: now, failed: failed})
	b.pruneLocked(now)

	switch b.state {
	case BreakerClosed:
		total := len(b.samples)
		if total < b.cfg.MinSamples {
			return
		}
		failures := 0
		for _, s := range b.samples {
			if s.failed {
				failures++
			}
		}
		if float64(failures) >= b.cfg.FailureRatio*float64(total) {
			b.openedAt = now
			b.setStateLocked(BreakerOpen)
		}
	case BreakerHalfOpen:
		if failed {
			// Probe hit the same failure class, break again.
			b.openedAt = now
			b.setStateLocked(BreakerOpen)
			return
		}
		// The probe reached the provider, so the outage is over even when
		// the call failed for an unrelated reason.
		b.samples = nil
		b.setStateLocked(BreakerClosed)
	case BreakerOpen:
		// A call that was already in flight when the circuit opened.
		if failed {
			b.openedAt = now
		}
	}
}

// State returns the current circuit state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.cfg.Window)
	idx := 0
	for idx < len(b.samples) && b.samples[idx].at.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		b.samples = append(b.samples[:0], b.samples[idx:]...)
	}
}

func (b *Breaker) setStateLocked(state BreakerState) {
	if b.state == state {
		return
	}
	b.state = state
	if b.cfg.OnStateChange != nil {
		go b.cfg.OnStateChange(b.name, state)
	}
}
