package queue

// Mailbox is an unbounded FIFO of row ids. The notification listener must
// never block on a slow worker, so Put buffers internally and Chan delivers
// in arrival order.
type Mailbox struct {
	in  chan int64
	out chan int64
}

// NewMailbox starts the pump goroutine and returns the mailbox.
func NewMailbox() *Mailbox {
	m := &Mailbox{
		in:  make(chan int64),
		out: make(chan int64),
	}
	go m.pump()
	return m
}

func (m *Mailbox) pump() {
	defer close(m.out)
	var buf []int64
	for {
		if len(buf) == 0 {
			id, ok := <-m.in
			if !ok {
				return
			}
			buf = append(buf, id)
			continue
		}
		select {
		case id, ok := <-m.in:
			if !ok {
				for _, v := range buf {
					m.out <- v
				}
				return
			}
			buf = append(buf, id)
		case m.out <- buf[0]:
			buf = buf[1:]
			if len(buf) == 0 {
				buf = nil
			}
		}
	}
}

// Put appends one id. Must not be called after Close.
func (m *Mailbox) Put(id int64) { m.in <- id }

// Chan returns the delivery channel. It is closed after Close once the
// buffer has drained.
func (m *Mailbox) Chan() <-chan int64 { return m.out }

// Close stops accepting ids. Buffered ids are still delivered.
func (m *Mailbox) Close() { close(m.in) }
