// Package indexer drives the embedding pipeline: message vectors,
// sliding-window context vectors, and hypothetical-question vectors, each
// produced by a handler the orchestrator runs to exhaustion.
package indexer

import (
	"context"
	"log/slog"
	"time"

	"github.com/hrygo/chatsense/ai/resilience"
	"github.com/hrygo/chatsense/internal/metrics"
	"github.com/hrygo/chatsense/store"
)

// Embedder is the slice of the embedding client the handlers need.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// BatchResult reports one ProcessBatch call.
type BatchResult struct {
	Processed int
	Elapsed   time.Duration
	// HasMore is true when another batch of work is likely waiting.
	HasMore bool
}

// Handler is one embedding pipeline stage.
type Handler interface {
	Name() string
	Enabled() bool
	Stats(ctx context.Context) (*store.EmbeddingStats, error)
	ProcessBatch(ctx context.Context, size int) (*BatchResult, error)
}

// Config tunes the orchestrator loop.
type Config struct {
	BatchSize        int
	MaxBatchesPerRun int
	// BatchDelay spaces consecutive batches; IdleDelay is the sleep when no
	// handler has work.
	BatchDelay time.Duration
	IdleDelay  time.Duration
	// RateLimitPause is the hold-off after a provider 429.
	RateLimitPause time.Duration
}

// DefaultConfig returns the production loop tuning.
func DefaultConfig() Config {
	return Config{
		BatchSize:        32,
		MaxBatchesPerRun: 20,
		BatchDelay:       500 * time.Millisecond,
		IdleDelay:        time.Minute,
		RateLimitPause:   time.Minute,
	}
}

// Orchestrator runs the handlers in order, each to exhaustion, then sleeps.
type Orchestrator struct {
	handlers []Handler
	metrics  *metrics.Metrics
	logger   *slog.Logger
	cfg      Config
}

// NewOrchestrator creates the orchestrator. Metrics may be nil.
func NewOrchestrator(handlers []Handler, m *metrics.Metrics, logger *slog.Logger, cfg Config) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg = DefaultConfig()
	}
	return &Orchestrator{
		handlers: handlers,
		metrics:  m,
		logger:   logger.With("component", "indexer"),
		cfg:      cfg,
	}
}

// Run loops until the context is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("indexer started",
		"handlers", len(o.handlers),
		"batch_size", o.cfg.BatchSize,
		"max_batches", o.cfg.MaxBatchesPerRun)

	for {
		delay := o.cfg.IdleDelay

		worked, err := o.runOnce(ctx)
		switch {
		case ctx.Err() != nil:
			o.logger.Info("indexer stopped")
			return ctx.Err()
		case err != nil && resilience.RateLimited(err):
			o.logger.Warn("provider rate limit hit, pausing indexing", "pause", o.cfg.RateLimitPause)
			delay = o.cfg.RateLimitPause
		case err != nil:
			o.logger.Error("indexing run failed", "error", err)
		case worked:
			delay = o.cfg.BatchDelay
		}

		select {
		case <-ctx.Done():
			o.logger.Info("indexer stopped")
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// runOnce gives every enabled handler up to MaxBatchesPerRun batches.
// Returns whether any handler processed work. The first rate-limit error
// aborts the run so the pause applies to all handlers.
func (o *Orchestrator) runOnce(ctx context.Context) (bool, error) {
	worked := false

	for _, h := range o.handlers {
		if !h.Enabled() {
			continue
		}

		for batch := 0; batch < o.cfg.MaxBatchesPerRun; batch++ {
			if err := ctx.Err(); err != nil {
				return worked, err
			}

			res, err := h.ProcessBatch(ctx, o.cfg.BatchSize)
			if err != nil {
				if o.metrics != nil {
					o.metrics.RecordIndexerBatch(h.Name(), 0, 0, false)
				}
				if resilience.RateLimited(err) {
					return worked, err
				}
				o.logger.Error("handler batch failed", "handler", h.Name(), "error", err)
				break
			}

			if res.Processed > 0 {
				worked = true
				o.logger.Info("indexed batch",
					"handler", h.Name(),
					"processed", res.Processed,
					"elapsed_ms", res.Elapsed.Milliseconds())
			}
			if o.metrics != nil {
				o.metrics.RecordIndexerBatch(h.Name(), res.Processed, res.Elapsed, true)
			}
			if !res.HasMore {
				break
			}

			select {
			case <-ctx.Done():
				return worked, ctx.Err()
			case <-time.After(o.cfg.BatchDelay):
			}
		}

		o.publishStats(ctx, h)
	}

	return worked, nil
}

func (o *Orchestrator) publishStats(ctx context.Context, h Handler) {
	if o.metrics == nil {
		return
	}
	stats, err := h.Stats(ctx)
	if err != nil {
		o.logger.Warn("handler stats failed", "handler", h.Name(), "error", err)
		return
	}
	o.metrics.SetIndexerPending(h.Name(), stats.Pending())
}

// Progress is one handler's indexing progress for status reports.
type Progress struct {
	Handler string `json:"handler"`
	Enabled bool   `json:"enabled"`
	Total   int64  `json:"total"`
	Indexed int64  `json:"indexed"`
	Pending int64  `json:"pending"`
}

// Snapshot reports every handler's progress. Handlers whose stats fail are
// reported with zeroes rather than failing the whole snapshot.
func (o *Orchestrator) Snapshot(ctx context.Context) []Progress {
	out := make([]Progress, 0, len(o.handlers))
	for _, h := range o.handlers {
		p := Progress{Handler: h.Name(), Enabled: h.Enabled()}
		if stats, err := h.Stats(ctx); err == nil {
			p.Total = stats.Total
			p.Indexed = stats.Indexed
			p.Pending = stats.Pending()
		} else {
			o.logger.Warn("handler stats failed", "handler", h.Name(), "error", err)
		}
		out = append(out, p)
	}
	return out
}
