package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/hrygo/chatsense/internal/metrics"
	"github.com/hrygo/chatsense/store"
)

// Maintainer is the non-generic maintenance surface of a queue service.
type Maintainer interface {
	Name() string
	RecoverStale(ctx context.Context) (requeued, dead int64, err error)
	PendingCount(ctx context.Context) (int64, error)
	Cleanup(ctx context.Context) (int64, error)
}

// Watchdog periodically reclaims stale leases, refreshes backlog gauges, and
// deletes processed rows past retention across all queues.
type Watchdog struct {
	store    *store.Store
	queues   []Maintainer
	metrics  *metrics.Metrics
	logger   *slog.Logger
	interval time.Duration
	cleanup  time.Duration
}

// NewWatchdog creates the watchdog. Metrics may be nil.
func NewWatchdog(st *store.Store, queues []Maintainer, m *metrics.Metrics, logger *slog.Logger) *Watchdog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watchdog{
		store:    st,
		queues:   queues,
		metrics:  m,
		logger:   logger,
		interval: time.Minute,
		cleanup:  time.Hour,
	}
}

// Run sweeps until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	sweep := time.NewTicker(w.interval)
	defer sweep.Stop()
	cleanup := time.NewTicker(w.cleanup)
	defer cleanup.Stop()

	// First sweep right away so restarts reclaim leases without waiting a
	// full interval.
	w.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			w.sweep(ctx)
		case <-cleanup.C:
			w.runCleanup(ctx)
		}
	}
}

func (w *Watchdog) sweep(ctx context.Context) {
	if err := w.store.Ping(ctx); err != nil {
		w.logger.Warn("watchdog database ping failed", "error", err)
		return
	}
	for _, q := range w.queues {
		if _, _, err := q.RecoverStale(ctx); err != nil {
			w.logger.Warn("stale recovery failed", "queue", q.Name(), "error", err)
		}
		pending, err := q.PendingCount(ctx)
		if err != nil {
			w.logger.Warn("pending count failed", "queue", q.Name(), "error", err)
			continue
		}
		if w.metrics != nil {
			w.metrics.SetQueuePending(q.Name(), pending)
		}
	}
}

func (w *Watchdog) runCleanup(ctx context.Context) {
	for _, q := range w.queues {
		if _, err := q.Cleanup(ctx); err != nil {
			w.logger.Warn("queue cleanup failed", "queue", q.Name(), "error", err)
		}
	}
}
