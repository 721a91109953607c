package queue

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hrygo/chatsense/store"
)

func TestWorkerCompletesHandledItems(t *testing.T) {
	driver := &fakeDriver{rows: []*store.QueueRow{
		row(1, `{"chat_id":-1,"text":"a"}`, 1),
		row(2, `{"chat_id":-1,"text":"b"}`, 1),
	}}

	var seen []string
	ctx, cancel := context.WithCancel(context.Background())

	s := newTestService(driver)
	w := NewWorker(s, nil, 10*time.Millisecond, func(_ context.Context, item *Item[testPayload]) error {
		seen = append(seen, item.Payload.Text)
		if len(seen) == 2 {
			cancel()
		}
		return nil
	}, nil)
	w.Run(ctx)

	if len(seen) != 2 || seen[0] != "a" || seen[1] != "b" {
		t.Fatalf("handler saw %v, want [a b]", seen)
	}
	completed, failed, dead := driver.snapshot()
	if len(completed) != 2 || completed[0] != 1 || completed[1] != 2 {
		t.Fatalf("completed = %v, want [1 2]", completed)
	}
	if len(failed) != 0 || len(dead) != 0 {
		t.Fatalf("unexpected failure records: failed=%v dead=%v", failed, dead)
	}
}

func TestWorkerFailsItemOnHandlerError(t *testing.T) {
	driver := &fakeDriver{rows: []*store.QueueRow{row(5, `{"chat_id":-1}`, 1)}}
	ctx, cancel := context.WithCancel(context.Background())

	s := newTestService(driver)
	w := NewWorker(s, nil, 10*time.Millisecond, func(_ context.Context, _ *Item[testPayload]) error {
		cancel()
		return errors.New("provider unavailable")
	}, nil)
	w.Run(ctx)

	completed, failed, _ := driver.snapshot()
	if len(completed) != 0 {
		t.Fatalf("failed item must not complete: %v", completed)
	}
	if len(failed) != 1 || failed[0].id != 5 || failed[0].reason != "provider unavailable" {
		t.Fatalf("unexpected failure record: %+v", failed)
	}
}

func TestWorkerContainsHandlerPanic(t *testing.T) {
	driver := &fakeDriver{rows: []*store.QueueRow{row(6, `{"chat_id":-1}`, 1)}}
	ctx, cancel := context.WithCancel(context.Background())

	s := newTestService(driver)
	w := NewWorker(s, nil, 10*time.Millisecond, func(_ context.Context, _ *Item[testPayload]) error {
		cancel()
		panic("nil map write")
	}, nil)
	w.Run(ctx)

	_, failed, _ := driver.snapshot()
	if len(failed) != 1 || failed[0].id != 6 {
		t.Fatalf("panic must be recorded as a failure: %+v", failed)
	}
	if !strings.Contains(failed[0].reason, "handler panic") {
		t.Fatalf("reason = %q, want panic marker", failed[0].reason)
	}
}

func TestWorkerWakesOnMailboxNotification(t *testing.T) {
	driver := &fakeDriver{}
	s := newTestService(driver)
	mailbox := NewMailbox()
	defer mailbox.Close()

	handled := make(chan int64, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// A long poll interval proves the wakeup came from the notification.
	w := NewWorker(s, mailbox, time.Hour, func(_ context.Context, item *Item[testPayload]) error {
		handled <- item.ID
		cancel()
		return nil
	}, nil)
	go w.Run(ctx)

	// Let the worker finish its initial drain and block on the mailbox.
	time.Sleep(50 * time.Millisecond)
	driver.mu.Lock()
	driver.rows = []*store.QueueRow{row(11, `{"chat_id":-1}`, 1)}
	driver.mu.Unlock()
	mailbox.Put(11)

	select {
	case id := <-handled:
		if id != 11 {
			t.Fatalf("handled id = %d, want 11", id)
		}
	case <-ctx.Done():
		t.Fatal("worker never woke on the notification")
	}
}
