// Package queue implements durable Postgres-backed work queues with
// lease-based picking, exponential retry, and NOTIFY wakeups.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/hrygo/chatsense/internal/metrics"
	"github.com/hrygo/chatsense/store"
)

// ErrQueueFull is returned by Enqueue when the pending backlog reached the
// configured cap.
var ErrQueueFull = errors.New("queue is full")

// Config tunes one queue service.
type Config struct {
	// Table is the queue table identifier, one of store.QueueTable*.
	Table         string
	MaxAttempts   int
	BaseRetryWait time.Duration
	MaxRetryWait  time.Duration
	LeaseTimeout  time.Duration
	// PendingCap rejects new work when the unleased backlog reaches it.
	// Zero disables the cap.
	PendingCap int64
	// Retention bounds how long processed rows are kept before cleanup.
	Retention time.Duration
}

// DefaultConfig returns queue tuning derived from the profile.
func DefaultConfig(table string, maxAttempts int, baseWait, maxWait, lease time.Duration, pendingCap int, retention time.Duration) Config {
	return Config{
		Table:         table,
		MaxAttempts:   maxAttempts,
		BaseRetryWait: baseWait,
		MaxRetryWait:  maxWait,
		LeaseTimeout:  lease,
		PendingCap:    int64(pendingCap),
		Retention:     retention,
	}
}

// Item is one leased work item with its decoded payload.
type Item[T any] struct {
	ID           int64
	Payload      T
	CreatedAt    time.Time
	AttemptCount int
}

// Service provides typed access to one queue table. The payload type is
// serialised to the row's JSON body.
type Service[T any] struct {
	cfg     Config
	store   *store.Store
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewService creates a typed queue service. Metrics may be nil.
func NewService[T any](cfg Config, st *store.Store, m *metrics.Metrics, logger *slog.Logger) *Service[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service[T]{
		cfg:     cfg,
		store:   st,
		metrics: m,
		logger:  logger.With("queue", cfg.Table),
	}
}

// Name returns the queue table identifier.
func (s *Service[T]) Name() string { return s.cfg.Table }

// Enqueue inserts a new work item. Returns ErrQueueFull when the unleased
// backlog has reached the cap.
func (s *Service[T]) Enqueue(ctx context.Context, payload T) (int64, error) {
	if s.cfg.PendingCap > 0 {
		pending, err := s.store.QueuePendingCount(ctx, s.cfg.Table, s.cfg.LeaseTimeout)
		if err != nil {
			return 0, fmt.Errorf("count pending: %w", err)
		}
		if pending >= s.cfg.PendingCap {
			return 0, ErrQueueFull
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}

	id, err := s.store.QueueEnqueue(ctx, s.cfg.Table, body)
	if err != nil {
		return 0, fmt.Errorf("enqueue: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RecordQueueEnqueued(s.cfg.Table)
	}
	return id, nil
}

// Pick leases the next ready item. Returns nil when no work is ready.
// Transient store errors are logged and reported as no work so the caller
// falls back to its poll cycle. Rows whose payload no longer decodes are
// dead-lettered and skipped.
func (s *Service[T]) Pick(ctx context.Context) (*Item[T], error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		row, err := s.store.QueuePick(ctx, s.cfg.Table, s.cfg.LeaseTimeout, s.cfg.MaxAttempts)
		if err != nil {
			s.logger.Warn("queue pick failed", "error", err)
			return nil, nil
		}
		if row == nil {
			return nil, nil
		}

		var payload T
		if err := json.Unmarshal(row.Payload, &payload); err != nil {
			s.logger.Error("queue payload does not decode, dead-lettering",
				"id", row.ID, "error", err)
			msg := fmt.Sprintf("[DEAD] payload decode failed: %v", err)
			if derr := s.store.QueueMarkDead(ctx, s.cfg.Table, row.ID, msg); derr != nil {
				s.logger.Error("failed to dead-letter row", "id", row.ID, "error", derr)
				return nil, nil
			}
			if s.metrics != nil {
				s.metrics.RecordQueueDead(s.cfg.Table)
			}
			continue
		}

		if s.metrics != nil {
			s.metrics.RecordQueuePicked(s.cfg.Table)
		}
		return &Item[T]{
			ID:           row.ID,
			Payload:      payload,
			CreatedAt:    row.CreatedAt,
			AttemptCount: row.AttemptCount,
		}, nil
	}
}

// Complete marks the item processed and records its timings.
func (s *Service[T]) Complete(ctx context.Context, id int64) error {
	timings, err := s.store.QueueComplete(ctx, s.cfg.Table, id)
	if err != nil {
		return fmt.Errorf("complete item %d: %w", id, err)
	}
	if s.metrics != nil && timings != nil {
		wait := timings.StartedAt.Sub(timings.CreatedAt)
		processing := timings.CompletedAt.Sub(timings.StartedAt)
		s.metrics.RecordQueueCompleted(s.cfg.Table, wait, processing)
	}
	return nil
}

// Fail records a failed attempt. The item is dead-lettered once it has
// consumed all attempts, otherwise it is released back with exponential
// backoff.
func (s *Service[T]) Fail(ctx context.Context, item *Item[T], cause error) error {
	reason := "unknown error"
	if cause != nil {
		reason = cause.Error()
	}

	if item.AttemptCount >= s.cfg.MaxAttempts {
		if err := s.store.QueueMarkDead(ctx, s.cfg.Table, item.ID, "[DEAD] "+reason); err != nil {
			return fmt.Errorf("dead-letter item %d: %w", item.ID, err)
		}
		if s.metrics != nil {
			s.metrics.RecordQueueDead(s.cfg.Table)
		}
		s.logger.Warn("queue item dead-lettered",
			"id", item.ID, "attempts", item.AttemptCount, "error", reason)
		return nil
	}

	delay := Backoff(s.cfg.BaseRetryWait, s.cfg.MaxRetryWait, item.AttemptCount)
	if err := s.store.QueueFail(ctx, s.cfg.Table, item.ID, reason, time.Now().Add(delay)); err != nil {
		return fmt.Errorf("release item %d for retry: %w", item.ID, err)
	}
	if s.metrics != nil {
		s.metrics.RecordQueueFailed(s.cfg.Table)
	}
	s.logger.Info("queue item scheduled for retry",
		"id", item.ID, "attempt", item.AttemptCount, "delay", delay, "error", reason)
	return nil
}

// Backoff returns the retry delay after the given 1-based attempt count:
// base doubled per attempt, capped at max, with 20% jitter either way.
func Backoff(base, max time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := float64(base) * math.Pow(2, float64(attempts-1))
	if delay > float64(max) {
		delay = float64(max)
	}
	jitter := 0.8 + 0.4*rand.Float64()
	return time.Duration(delay * jitter)
}

// RecoverStale reclaims expired leases: rows with attempts left are requeued,
// rows that crashed on their final attempt are dead-lettered.
func (s *Service[T]) RecoverStale(ctx context.Context) (requeued, dead int64, err error) {
	requeued, dead, err = s.store.QueueRecoverStale(ctx, s.cfg.Table, s.cfg.LeaseTimeout, s.cfg.MaxAttempts)
	if err != nil {
		return 0, 0, fmt.Errorf("recover stale: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RecordQueueStale(s.cfg.Table, requeued, dead)
	}
	if requeued > 0 || dead > 0 {
		s.logger.Info("recovered stale queue items", "requeued", requeued, "dead", dead)
	}
	return requeued, dead, nil
}

// PendingCount returns the number of unprocessed rows not currently leased.
func (s *Service[T]) PendingCount(ctx context.Context) (int64, error) {
	return s.store.QueuePendingCount(ctx, s.cfg.Table, s.cfg.LeaseTimeout)
}

// DashboardStats returns queue health for the ops dashboard.
func (s *Service[T]) DashboardStats(ctx context.Context) (*store.QueueDashboardStats, error) {
	return s.store.QueueDashboardStats(ctx, s.cfg.Table, s.cfg.LeaseTimeout)
}

// Cleanup deletes processed rows older than the retention window.
func (s *Service[T]) Cleanup(ctx context.Context) (int64, error) {
	deleted, err := s.store.QueueCleanup(ctx, s.cfg.Table, s.cfg.Retention)
	if err != nil {
		return 0, fmt.Errorf("cleanup: %w", err)
	}
	if deleted > 0 {
		s.logger.Info("cleaned up processed queue rows", "deleted", deleted)
	}
	return deleted, nil
}
