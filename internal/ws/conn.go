package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dgnsrekt/feedrelay/internal/relay"
)

const (
	// Time allowed to write a message to the peer.
	defaultWriteWait = 10 * time.Second

	// Time allowed to read the next message or pong from the peer.
	defaultPongWait = 60 * time.Second

	// Subscribers only send control frames; anything larger is abuse.
	defaultMaxMessageSize = 64 * 1024
)

// Options tunes websocket connections.
type Options struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
}

func (o Options) withDefaults() Options {
	if o.WriteWait <= 0 {
		o.WriteWait = defaultWriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = defaultPongWait
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = defaultMaxMessageSize
	}
	return o
}

// Conn adapts a gorilla websocket connection to relay.Transport.
type Conn struct {
	conn    *websocket.Conn
	opts    Options
	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// Compile-time interface verification
var _ relay.Transport = (*Conn)(nil)

// NewConn wraps conn. Any inbound frame or pong extends the read deadline.
func NewConn(conn *websocket.Conn, opts Options) *Conn {
	opts = opts.withDefaults()
	c := &Conn{conn: conn, opts: opts}

	conn.SetReadLimit(opts.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	})
	return c
}

// SetPingHandler implements relay.Transport.
func (c *Conn) SetPingHandler(h func(payload []byte) error) {
	c.conn.SetPingHandler(func(appData string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		err := h([]byte(appData))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
}

// ReadFrame implements relay.Transport. A close frame from the peer is
// reported as relay.FrameClose rather than an error.
func (c *Conn) ReadFrame() (relay.Frame, error) {
	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			return relay.Frame{Kind: relay.FrameClose, Payload: []byte(closeErr.Text)}, nil
		}
		return relay.Frame{}, err
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	return relay.Frame{Kind: relay.FrameData, Payload: msg}, nil
}

// WriteText implements relay.Transport.
func (c *Conn) WriteText(row string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, []byte(row))
}

// WritePong implements relay.Transport. Control writes may run concurrently
// with WriteText.
func (c *Conn) WritePong(payload []byte) error {
	return c.conn.WriteControl(websocket.PongMessage, payload, time.Now().Add(c.opts.WriteWait))
}

// WritePing implements relay.Transport.
func (c *Conn) WritePing() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteWait))
}

// Close sends a normal close frame, best effort, and closes the connection.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteWait))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
