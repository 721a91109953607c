package queue

import (
	"testing"
	"time"
)

func TestMailboxDeliversInOrder(t *testing.T) {
	m := NewMailbox()
	defer m.Close()

	for id := int64(1); id <= 3; id++ {
		m.Put(id)
	}
	for want := int64(1); want <= 3; want++ {
		select {
		case got := <-m.Chan():
			if got != want {
				t.Fatalf("got %d, want %d", got, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for id %d", want)
		}
	}
}

func TestMailboxNeverBlocksProducer(t *testing.T) {
	m := NewMailbox()
	defer m.Close()

	done := make(chan struct{})
	go func() {
		// No consumer reads during this burst.
		for id := int64(0); id < 1000; id++ {
			m.Put(id)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("producer blocked on an unread mailbox")
	}
}

func TestMailboxCloseDrainsBuffer(t *testing.T) {
	m := NewMailbox()
	m.Put(1)
	m.Put(2)
	m.Close()

	var got []int64
	for id := range m.Chan() {
		got = append(got, id)
	}
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("drained %v, want [1 2]", got)
	}
}
