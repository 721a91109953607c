package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Handler processes one leased item. A returned error schedules a retry or
// dead-letters the item once attempts run out.
type Handler[T any] func(ctx context.Context, item *Item[T]) error

// Worker drains one queue. It processes items back to back while work is
// ready, then blocks on the notification mailbox with a periodic poll
// fallback so missed notifications and retry deadlines are still served.
type Worker[T any] struct {
	service *Service[T]
	mailbox *Mailbox
	handler Handler[T]
	poll    time.Duration
	logger  *slog.Logger
}

// NewWorker creates a worker. mailbox may be nil, in which case the worker
// runs on the poll interval alone.
func NewWorker[T any](service *Service[T], mailbox *Mailbox, poll time.Duration, handler Handler[T], logger *slog.Logger) *Worker[T] {
	if logger == nil {
		logger = slog.Default()
	}
	if poll <= 0 {
		poll = 30 * time.Second
	}
	return &Worker[T]{
		service: service,
		mailbox: mailbox,
		handler: handler,
		poll:    poll,
		logger:  logger.With("queue", service.Name()),
	}
}

// Run processes the queue until ctx is cancelled.
func (w *Worker[T]) Run(ctx context.Context) {
	w.logger.Info("queue worker started", "poll_fallback", w.poll)

	var notify <-chan int64
	if w.mailbox != nil {
		notify = w.mailbox.Chan()
	}

	timer := time.NewTimer(w.poll)
	defer timer.Stop()

	for {
		item, err := w.service.Pick(ctx)
		if err != nil {
			// Context is done.
			return
		}
		if item != nil {
			w.process(ctx, item)
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(w.poll)

		select {
		case <-ctx.Done():
			return
		case _, ok := <-notify:
			if !ok {
				return
			}
		case <-timer.C:
		}
	}
}

// process runs the handler with panic containment. Bookkeeping writes use a
// detached context so rows are not left leased when shutdown interrupts the
// handler.
func (w *Worker[T]) process(ctx context.Context, item *Item[T]) {
	bookkeeping := context.WithoutCancel(ctx)

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("queue handler panicked", "id", item.ID, "panic", r)
			if err := w.service.Fail(bookkeeping, item, fmt.Errorf("handler panic: %v", r)); err != nil {
				w.logger.Error("failed to record panic failure", "id", item.ID, "error", err)
			}
		}
	}()

	if err := w.handler(ctx, item); err != nil {
		if ferr := w.service.Fail(bookkeeping, item, err); ferr != nil {
			w.logger.Error("failed to record item failure", "id", item.ID, "error", ferr)
		}
		return
	}

	if err := w.service.Complete(bookkeeping, item.ID); err != nil {
		w.logger.Error("failed to complete item", "id", item.ID, "error", err)
	}
}
