package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/lib/pq"

	"github.com/hrygo/chatsense/store"
)

const (
	// Reconnect backoff is fixed. pq.Listener re-issues LISTEN for every
	// channel after reconnecting, and workers cover the gap with their
	// poll fallback.
	listenerReconnectWait = 5 * time.Second
	listenerPingInterval  = 90 * time.Second
)

// Listener bridges Postgres NOTIFY events for all queue tables to per-queue
// mailboxes over a single connection. Payloads are row ids as decimal text.
type Listener struct {
	pq        *pq.Listener
	logger    *slog.Logger
	mailboxes map[string]*Mailbox
}

// NewListener opens the LISTEN connection and subscribes to the channel of
// every given queue table.
func NewListener(dsn string, tables []string, logger *slog.Logger) (*Listener, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Listener{
		logger:    logger,
		mailboxes: make(map[string]*Mailbox, len(tables)),
	}
	l.pq = pq.NewListener(dsn, listenerReconnectWait, listenerReconnectWait, l.onEvent)
	for _, table := range tables {
		channel := store.QueueChannel(table)
		if err := l.pq.Listen(channel); err != nil {
			_ = l.pq.Close()
			return nil, fmt.Errorf("listen on %s: %w", channel, err)
		}
		l.mailboxes[channel] = NewMailbox()
	}
	return l, nil
}

// Mailbox returns the mailbox for a queue table, or nil if the table was not
// subscribed.
func (l *Listener) Mailbox(table string) *Mailbox {
	return l.mailboxes[store.QueueChannel(table)]
}

// Run dispatches notifications until ctx is cancelled. A nil notification
// marks a dropped connection; pq reconnects on its own and the periodic ping
// forces it to notice silent drops.
func (l *Listener) Run(ctx context.Context) {
	ticker := time.NewTicker(listenerPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case n := <-l.pq.Notify:
			if n == nil {
				continue
			}
			l.dispatch(n)
		case <-ticker.C:
			go func() {
				if err := l.pq.Ping(); err != nil {
					l.logger.Warn("queue listener ping failed", "error", err)
				}
			}()
		}
	}
}

func (l *Listener) dispatch(n *pq.Notification) {
	mailbox, ok := l.mailboxes[n.Channel]
	if !ok {
		l.logger.Warn("notification on unknown channel", "channel", n.Channel)
		return
	}
	id, err := strconv.ParseInt(n.Extra, 10, 64)
	if err != nil {
		l.logger.Warn("dropping malformed queue notification",
			"channel", n.Channel, "payload", n.Extra, "error", err)
		return
	}
	mailbox.Put(id)
}

func (l *Listener) onEvent(event pq.ListenerEventType, err error) {
	switch event {
	case pq.ListenerEventConnected:
		l.logger.Info("queue listener connected")
	case pq.ListenerEventDisconnected:
		l.logger.Warn("queue listener disconnected", "error", err)
	case pq.ListenerEventReconnected:
		l.logger.Info("queue listener reconnected")
	case pq.ListenerEventConnectionAttemptFailed:
		l.logger.Warn("queue listener reconnect attempt failed", "error", err)
	}
}

// Close tears down the connection and the mailboxes. Cancel the Run context
// before calling Close.
func (l *Listener) Close() error {
	err := l.pq.Close()
	for _, mailbox := range l.mailboxes {
		mailbox.Close()
	}
	return err
}
