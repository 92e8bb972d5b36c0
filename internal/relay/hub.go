package relay

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/AlexandrePrevot/OrderParserProcessor/internal/metrics"
)

// Publisher accepts envelopes for broadcast.
type Publisher interface {
	Publish(Envelope) uint64
}

type queued struct {
	seq uint64
	env Envelope
}

type subscription struct {
	id    uint64
	since uint64 // last sequence number published before registration
	box   *mailbox
}

// Hub owns the shared queue and the observer set. Publish never blocks;
// Run is the single dispatcher that copies envelopes into observer
// mailboxes in sequence order.
type Hub struct {
	mu      sync.Mutex // guards queue, lastSeq, nextID
	queue   []queued
	lastSeq uint64
	nextID  uint64
	wake    chan struct{}

	obsMu     sync.RWMutex
	observers map[uint64]*subscription

	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewHub creates a Hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		wake:      make(chan struct{}, 1),
		observers: make(map[uint64]*subscription),
		logger:    logger.With().Str("component", "relay-hub").Logger(),
	}
}

// SetMetrics attaches metrics collection.
func (h *Hub) SetMetrics(m *metrics.Metrics) {
	h.metrics = m
}

// Publish enqueues e and returns its sequence number.
func (h *Hub) Publish(e Envelope) uint64 {
	h.mu.Lock()
	h.lastSeq++
	seq := h.lastSeq
	h.queue = append(h.queue, queued{seq: seq, env: e})
	h.mu.Unlock()

	select {
	case h.wake <- struct{}{}:
	default:
	}
	h.metrics.RecordPublished(string(e.Type))
	return seq
}

// register adds an observer. It receives every envelope published after
// this call returns.
func (h *Hub) register() *subscription {
	// Holding mu across the insert keeps since consistent with the batches
	// the dispatcher has already taken.
	h.mu.Lock()
	h.nextID++
	sub := &subscription{id: h.nextID, since: h.lastSeq, box: newMailbox()}
	h.obsMu.Lock()
	h.observers[sub.id] = sub
	n := len(h.observers)
	h.obsMu.Unlock()
	h.mu.Unlock()

	h.logger.Debug().Uint64("observer", sub.id).Int("total_observers", n).Msg("observer registered")
	return sub
}

// unregister removes an observer and closes its mailbox. It reports whether
// the observer was still registered.
func (h *Hub) unregister(id uint64) bool {
	h.obsMu.Lock()
	sub, ok := h.observers[id]
	delete(h.observers, id)
	n := len(h.observers)
	h.obsMu.Unlock()
	if !ok {
		return false
	}
	sub.box.close()
	h.logger.Debug().Uint64("observer", id).Int("total_observers", n).Msg("observer unregistered")
	return true
}

// Observers returns the number of registered observers.
func (h *Hub) Observers() int {
	h.obsMu.RLock()
	defer h.obsMu.RUnlock()
	return len(h.observers)
}

// Pending returns the number of envelopes not yet dispatched.
func (h *Hub) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.queue)
}

// Run dispatches queued envelopes until ctx ends. On return every
// registered observer's mailbox is closed, which ends its session.
func (h *Hub) Run(ctx context.Context) error {
	h.logger.Info().Msg("relay hub started")
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Msg("relay hub stopped")
			return ctx.Err()
		case <-h.wake:
		}

		h.mu.Lock()
		batch := h.queue
		h.queue = nil
		h.mu.Unlock()

		for _, q := range batch {
			h.dispatch(q)
		}
	}
}

// Serve implements suture.Service.
func (h *Hub) Serve(ctx context.Context) error { return h.Run(ctx) }

func (h *Hub) String() string { return "relay-hub" }

func (h *Hub) dispatch(q queued) {
	h.obsMu.RLock()
	defer h.obsMu.RUnlock()
	for _, sub := range h.observers {
		if sub.since < q.seq {
			sub.box.push(q.env)
		}
	}
}

func (h *Hub) closeAll() {
	h.obsMu.Lock()
	subs := h.observers
	h.observers = make(map[uint64]*subscription)
	h.obsMu.Unlock()
	for _, sub := range subs {
		sub.box.close()
	}
}
