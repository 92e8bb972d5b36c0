package relay

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Handler upgrades HTTP requests to websocket observers.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	base     context.Context
	logger   zerolog.Logger
}

// NewHandler creates a Handler. Sessions end when base is cancelled, in
// addition to the usual disconnect conditions.
func NewHandler(base context.Context, hub *Hub, allowedOrigins []string, logger zerolog.Logger) *Handler {
	h := &Handler{
		hub:    hub,
		base:   base,
		logger: logger.With().Str("component", "relay-ws").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	// With no allow-list the upgrader's same-origin check applies.
	if len(allowedOrigins) > 0 {
		h.upgrader.CheckOrigin = originChecker(allowedOrigins)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	obs := h.hub.Attach(conn)
	obs.Serve(h.base)
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set["*"] || set[origin]
	}
}
