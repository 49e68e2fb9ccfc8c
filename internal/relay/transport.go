package relay

// FrameKind classifies an inbound frame.
type FrameKind int

const (
	// FrameData is any application frame from the subscriber. Ignored.
	FrameData FrameKind = iota
	// FrameClose is the subscriber's close frame.
	FrameClose
)

// Frame is one inbound message surfaced by a Transport.
type Frame struct {
	Kind    FrameKind
	Payload []byte
}

// Transport is a subscriber's bidirectional message channel.
//
// ReadFrame is only called from the session's inbound loop and WriteText only
// from its outbound loop. WritePong and WritePing may run concurrently with
// WriteText and must be safe for that.
type Transport interface {
	// SetPingHandler installs the handler invoked for inbound pings while
	// ReadFrame is reading. Must be called before the first ReadFrame.
	SetPingHandler(h func(payload []byte) error)
	ReadFrame() (Frame, error)
	WriteText(row string) error
	WritePong(payload []byte) error
	// WritePing sends a keepalive ping. Transports without pings return nil.
	WritePing() error
	Close() error
}
