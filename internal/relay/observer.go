package relay

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Reasons an observer session ends.
const (
	ReasonDisconnectFrame = "disconnect_frame"
	ReasonReadError       = "read_error"
	ReasonSendError       = "send_error"
	ReasonHubClosed       = "hub_closed"
	ReasonShutdown        = "shutdown"
)

// Conn is the subset of *websocket.Conn an observer needs.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Observer is one connected client. Serve runs its delivery loop.
type Observer struct {
	id     uint64
	hub    *Hub
	conn   Conn
	box    *mailbox
	logger zerolog.Logger
}

// Attach registers a new observer for conn. The observer receives every
// envelope published after Attach returns.
func (h *Hub) Attach(conn Conn) *Observer {
	sub := h.register()
	h.metrics.ObserverConnected()
	return &Observer{
		id:     sub.id,
		hub:    h,
		conn:   conn,
		box:    sub.box,
		logger: h.logger.With().Uint64("observer", sub.id).Logger(),
	}
}

// ID returns the observer id.
func (o *Observer) ID() uint64 { return o.id }

// Serve delivers envelopes until the client disconnects, a send fails, the
// hub stops or ctx ends. It always unregisters the observer and closes the
// connection, and returns the reason the session ended.
func (o *Observer) Serve(ctx context.Context) string {
	stop := make(chan struct{})
	inbound := make(chan []byte)
	readErr := make(chan error, 1)

	reason := ReasonShutdown
	defer func() {
		close(stop)
		o.hub.unregister(o.id)
		_ = o.conn.Close()
		o.hub.metrics.ObserverDisconnected(reason)
		o.logger.Info().Str("reason", reason).Msg("observer disconnected")
	}()

	o.conn.SetReadLimit(maxMessageSize)
	_ = o.conn.SetReadDeadline(time.Now().Add(pongWait))
	o.conn.SetPongHandler(func(string) error {
		return o.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go o.readLoop(inbound, readErr, stop)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	o.logger.Info().Msg("observer connected")
	for {
		select {
		case <-ctx.Done():
			o.writeClose()
			return reason

		case <-o.box.done:
			reason = ReasonHubClosed
			o.writeClose()
			return reason

		case <-o.box.ready:
			for _, env := range o.box.drain() {
				if err := o.send(env); err != nil {
					o.logger.Warn().Err(err).Msg("send to observer failed")
					reason = ReasonSendError
					return reason
				}
			}

		case data := <-inbound:
			if isDisconnect(data) {
				reason = ReasonDisconnectFrame
				return reason
			}

		case err := <-readErr:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				o.logger.Warn().Err(err).Msg("unexpected websocket close")
			}
			reason = ReasonReadError
			return reason

		case <-ticker.C:
			_ = o.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := o.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				reason = ReasonSendError
				return reason
			}
		}
	}
}

func (o *Observer) send(env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := o.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return o.conn.WriteMessage(websocket.TextMessage, data)
}

func (o *Observer) writeClose() {
	_ = o.conn.SetWriteDeadline(time.Now().Add(writeWait))
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	_ = o.conn.WriteMessage(websocket.CloseMessage, msg)
}

// readLoop forwards inbound frames until a read fails or stop is closed.
func (o *Observer) readLoop(inbound chan<- []byte, readErr chan<- error, stop <-chan struct{}) {
	for {
		_, data, err := o.conn.ReadMessage()
		if err != nil {
			readErr <- err
			return
		}
		select {
		case inbound <- data:
		case <-stop:
			return
		}
	}
}
