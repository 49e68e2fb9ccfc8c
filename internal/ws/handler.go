// Package ws serves relay subscribers over websocket connections.
package ws

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dgnsrekt/feedrelay/internal/relay"
)

// SessionServer runs one subscriber session over a transport.
type SessionServer interface {
	Serve(ctx context.Context, t relay.Transport, remote string)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// No authentication or origin checks; the relay is read-only.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades requests and serves each connection as a subscriber.
type Handler struct {
	relay  SessionServer
	opts   Options
	logger *zap.Logger
}

// NewHandler creates a Handler.
func NewHandler(r SessionServer, opts Options, logger *zap.Logger) *Handler {
	return &Handler{
		relay:  r,
		opts:   opts.withDefaults(),
		logger: logger,
	}
}

// ServeHTTP blocks for the lifetime of the subscriber session.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		h.logger.Debug("websocket upgrade failed",
			zap.String("remote", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	t := NewConn(conn, h.opts)
	defer t.Close()

	h.relay.Serve(r.Context(), t, r.RemoteAddr)
}
