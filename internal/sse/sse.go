// Package sse serves relay subscribers as Server-Sent Events streams.
//
// SSE is one-directional: rows go out as "data:" events and nothing comes
// back. The session ends when the request context ends.
package sse

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/dgnsrekt/feedrelay/internal/relay"
)

// Transport adapts a streaming HTTP response to relay.Transport.
type Transport struct {
	ctx     context.Context
	writer  http.ResponseWriter
	flusher http.Flusher

	mu       sync.Mutex
	sequence uint64

	closeOnce sync.Once
	closed    chan struct{}
}

// Compile-time interface verification
var _ relay.Transport = (*Transport)(nil)

// NewTransport wraps w. ctx is the request context.
func NewTransport(ctx context.Context, w http.ResponseWriter, flusher http.Flusher) *Transport {
	return &Transport{
		ctx:     ctx,
		writer:  w,
		flusher: flusher,
		closed:  make(chan struct{}),
	}
}

// SetPingHandler is a no-op; SSE clients cannot ping.
func (t *Transport) SetPingHandler(func(payload []byte) error) {}

// ReadFrame blocks until the client goes away or the transport is closed,
// then reports a close frame.
func (t *Transport) ReadFrame() (relay.Frame, error) {
	select {
	case <-t.ctx.Done():
	case <-t.closed:
	}
	return relay.Frame{Kind: relay.FrameClose}, nil
}

// WriteText sends row as one event. Rows never contain newlines.
func (t *Transport) WriteText(row string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sequence++
	if _, err := fmt.Fprintf(t.writer, "id: %d\ndata: %s\n\n", t.sequence, row); err != nil {
		return err
	}
	t.flusher.Flush()
	return nil
}

// WritePong is a no-op.
func (t *Transport) WritePong([]byte) error { return nil }

// WritePing sends an SSE comment line, which clients ignore.
func (t *Transport) WritePing() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := fmt.Fprint(t.writer, ": keepalive\n\n"); err != nil {
		return err
	}
	t.flusher.Flush()
	return nil
}

// Close unblocks ReadFrame. The response itself ends when the handler returns.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

// SessionServer runs one subscriber session over a transport.
type SessionServer interface {
	Serve(ctx context.Context, t relay.Transport, remote string)
}

// Handler serves GET /events.
type Handler struct {
	relay  SessionServer
	logger *zap.Logger
}

// NewHandler creates a Handler.
func NewHandler(r SessionServer, logger *zap.Logger) *Handler {
	return &Handler{relay: r, logger: logger}
}

// ServeHTTP blocks for the lifetime of the subscriber session.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.logger.Debug("sse subscriber attached", zap.String("remote", r.RemoteAddr))
	h.relay.Serve(r.Context(), NewTransport(r.Context(), w, flusher), r.RemoteAddr)
}
