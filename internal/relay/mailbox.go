package relay

import "sync"

// mailbox is an unbounded FIFO owned by one observer. ready holds at most
// one pending wake-up; items stay queued until drained, so a reader that
// loses a select race never drops them.
type mailbox struct {
	mu     sync.Mutex
	items  []Envelope
	closed bool
	ready  chan struct{}
	done   chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// push appends e. It is a no-op once the mailbox is closed.
func (m *mailbox) push(e Envelope) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.items = append(m.items, e)
	m.mu.Unlock()

	select {
	case m.ready <- struct{}{}:
	default:
	}
	return true
}

// drain removes and returns everything queued, oldest first.
func (m *mailbox) drain() []Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.items
	m.items = nil
	return items
}

func (m *mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.items = nil
	close(m.done)
}

func (m *mailbox) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
