package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 5 * time.Second
	tick    = 5 * time.Millisecond
)

var errSend = errors.New("broken pipe")

// fakeConn records text frames written to it. failAfter < 0 never fails.
type fakeConn struct {
	mu        sync.Mutex
	frames    [][]byte
	failAfter int

	inbound   chan []byte
	hangup    chan struct{}
	hangOnce  sync.Once
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		failAfter: -1,
		inbound:   make(chan []byte),
		hangup:    make(chan struct{}),
		closed:    make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case d := <-c.inbound:
		return websocket.TextMessage, d, nil
	case <-c.hangup:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseAbnormalClosure}
	case <-c.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	if messageType != websocket.TextMessage {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAfter >= 0 && len(c.frames) >= c.failAfter {
		return errSend
	}
	c.frames = append(c.frames, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) SetReadLimit(int64) {}
func (c *fakeConn) SetReadDeadline(time.Time) error { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }
func (c *fakeConn) SetPongHandler(func(string) error) {}
func (c *fakeConn) hangUp() { c.hangOnce.Do(func() { close(c.hangup) }) }
func (c *fakeConn) sendDisconnect() { c.inbound <- []byte(`{"MessageType":"disconnect"}`) }

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) received(t *testing.T) []Envelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Envelope, 0, len(c.frames))
	for _, f := range c.frames {
		var e Envelope
		require.NoError(t, json.Unmarshal(f, &e))
		out = append(out, e)
	}
	return out
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	hub := NewHub(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return hub, cancel
}

func serve(hub *Hub, conn Conn) (*Observer, <-chan string) {
	obs := hub.Attach(conn)
	reason := make(chan string, 1)
	go func() { reason <- obs.Serve(context.Background()) }()
	return obs, reason
}

func prices(n int, offset float64) []Envelope {
	out := make([]Envelope, n)
	for i := range out {
		out[i] = NewPriceUpdate(offset+float64(i), float64(i))
	}
	return out
}

func TestHub_EveryObserverGetsSameOrder(t *testing.T) {
	hub, _ := startHub(t)
	conns := []*fakeConn{newFakeConn(), newFakeConn(), newFakeConn()}
	for _, c := range conns {
		serve(hub, c)
	}

	want := prices(200, 0)
	for _, e := range want {
		hub.Publish(e)
	}

	for _, c := range conns {
		c := c
		require.Eventually(t, func() bool { return c.count() == len(want) }, waitFor, tick)
		assert.Equal(t, want, c.received(t))
	}
}

func TestHub_ObserverOnlySeesLaterEnvelopes(t *testing.T) {
	hub, _ := startHub(t)
	for _, e := range prices(5, 0) {
		hub.Publish(e)
	}
	require.Eventually(t, func() bool { return hub.Pending() == 0 }, waitFor, tick)

	conn := newFakeConn()
	serve(hub, conn)

	want := prices(3, 100)
	for _, e := range want {
		hub.Publish(e)
	}
	require.Eventually(t, func() bool { return conn.count() == 3 }, waitFor, tick)
	assert.Equal(t, want, conn.received(t))
}

func TestHub_DisconnectFrameEndsWithPrefix(t *testing.T) {
	hub, _ := startHub(t)
	conn := newFakeConn()
	_, reason := serve(hub, conn)

	first := prices(3, 0)
	for _, e := range first {
		hub.Publish(e)
	}
	require.Eventually(t, func() bool { return conn.count() == 3 }, waitFor, tick)

	conn.sendDisconnect()
	assert.Equal(t, ReasonDisconnectFrame, <-reason)
	assert.Equal(t, 0, hub.Observers())

	for _, e := range prices(3, 10) {
		hub.Publish(e)
	}
	require.Eventually(t, func() bool { return hub.Pending() == 0 }, waitFor, tick)
	assert.Equal(t, first, conn.received(t))
}

func TestHub_SendFailureUnregisters(t *testing.T) {
	hub, _ := startHub(t)
	failing := newFakeConn()
	failing.failAfter = 2
	healthy := newFakeConn()
	_, reason := serve(hub, failing)
	serve(hub, healthy)

	want := prices(10, 0)
	for _, e := range want {
		hub.Publish(e)
	}

	assert.Equal(t, ReasonSendError, <-reason)
	assert.Equal(t, want[:2], failing.received(t))

	require.Eventually(t, func() bool { return healthy.count() == len(want) }, waitFor, tick)
	assert.Equal(t, want, healthy.received(t))
	assert.Equal(t, 1, hub.Observers())
}

func TestHub_ReadErrorUnregisters(t *testing.T) {
	hub, _ := startHub(t)
	conn := newFakeConn()
	_, reason := serve(hub, conn)
	require.Equal(t, 1, hub.Observers())

	conn.hangUp()
	assert.Equal(t, ReasonReadError, <-reason)
	assert.Equal(t, 0, hub.Observers())
}

func TestHub_NonDisconnectFramesIgnored(t *testing.T) {
	hub, _ := startHub(t)
	conn := newFakeConn()
	_, reason := serve(hub, conn)

	conn.inbound <- []byte(`{"MessageType":"ping"}`)
	conn.inbound <- []byte(`garbage`)
	hub.Publish(NewPriceUpdate(1, 1))
	require.Eventually(t, func() bool { return conn.count() == 1 }, waitFor, tick)

	select {
	case r := <-reason:
		t.Fatalf("session ended unexpectedly: %s", r)
	default:
	}
}

func TestHub_StopClosesObservers(t *testing.T) {
	hub, cancel := startHub(t)
	conn := newFakeConn()
	_, reason := serve(hub, conn)

	cancel()
	assert.Equal(t, ReasonHubClosed, <-reason)
}

func TestObserver_ContextCancelEndsSession(t *testing.T) {
	hub, _ := startHub(t)
	conn := newFakeConn()
	obs := hub.Attach(conn)

	ctx, cancel := context.WithCancel(context.Background())
	reason := make(chan string, 1)
	go func() { reason <- obs.Serve(ctx) }()
	cancel()

	assert.Equal(t, ReasonShutdown, <-reason)
	assert.Equal(t, 0, hub.Observers())
}

func TestHub_ConcurrentPublishersKeepPerObserverOrder(t *testing.T) {
	hub, _ := startHub(t)
	a, b := newFakeConn(), newFakeConn()
	serve(hub, a)
	serve(hub, b)

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				hub.Publish(NewPriceUpdate(float64(p), float64(i)))
			}
		}(p)
	}
	wg.Wait()

	require.Eventually(t, func() bool { return a.count() == 200 && b.count() == 200 }, waitFor, tick)
	gotA, gotB := a.received(t), b.received(t)
	assert.Equal(t, gotA, gotB)

	// Each producer's own sequence arrives in order.
	last := map[float64]float64{0: -1, 1: -1, 2: -1, 3: -1}
	for _, e := range gotA {
		assert.Greater(t, e.Price.Quantity, last[e.Price.Price])
		last[e.Price.Price] = e.Price.Quantity
	}
}
