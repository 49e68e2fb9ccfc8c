package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SessionState is the lifecycle position of a subscriber session.
type SessionState int

const (
	StateConnecting SessionState = iota
	StateSnapshotReplay
	StateStreaming
	StateClosing
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSnapshotReplay:
		return "snapshot_replay"
	case StateStreaming:
		return "streaming"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

// SessionOptions configures per-subscriber sessions.
type SessionOptions struct {
	// QueueSize bounds each subscriber's delivery queue.
	QueueSize int
	// PingPeriod is the keepalive interval; zero disables keepalive pings.
	PingPeriod time.Duration
	// ReplayOnCompletion replays the snapshot to subscribers that joined
	// before it completed, once it does. When false they never get a replay.
	ReplayOnCompletion bool
}

const DefaultQueueSize = 1000

// Session runs one subscriber from registration to removal.
type Session struct {
	sub       *Subscriber
	transport Transport
	store     *SnapshotStore
	registry  *Registry
	opts      SessionOptions
	metrics   *Metrics
	logger    *zap.Logger

	mu       sync.Mutex
	state    SessionState
	replayed bool
}

// newSession registers a fresh subscriber immediately, so it receives live
// rows from this point on, possibly before its snapshot replay.
func newSession(r *Relay, t Transport, remote string) *Session {
	sub := NewSubscriber(r.registry.NextID(), r.opts.Session.QueueSize, remote)
	r.registry.Add(sub)

	return &Session{
		sub:       sub,
		transport: t,
		store:     r.store,
		registry:  r.registry,
		opts:      r.opts.Session,
		metrics:   r.metrics,
		logger: r.logger.With(
			zap.Uint64("subscriber", uint64(sub.ID())),
			zap.String("connID", sub.ConnID()),
		),
		state: StateConnecting,
	}
}

// Subscriber returns the session's registered subscriber.
func (s *Session) Subscriber() *Subscriber { return s.sub }

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	s.mu.Unlock()
	s.logger.Debug("session state", zap.Stringer("from", prev), zap.Stringer("to", state))
}

// Run drives the session until the subscriber disconnects, a write fails, the
// subscriber is evicted, or ctx ends. Transport failures are normal
// disconnects and are not returned.
func (s *Session) Run(ctx context.Context) {
	s.logger.Info("subscriber connected", zap.String("remote", s.sub.Remote()))
	defer s.close()

	s.transport.SetPingHandler(s.handlePing)

	s.setState(StateSnapshotReplay)
	awaitCompletion := false
	switch {
	case s.store.IsComplete():
		if err := s.replay(); err != nil {
			s.logger.Debug("snapshot replay failed", zap.Error(err))
			s.setState(StateClosing)
			_ = s.transport.Close()
			return
		}
	case s.opts.ReplayOnCompletion:
		awaitCompletion = true
		s.logger.Info("subscriber connected before snapshot was ready, replay deferred")
	default:
		s.logger.Warn("subscriber connected before snapshot was ready, replay skipped")
	}

	s.setState(StateStreaming)
	inboundDone := make(chan struct{})
	go func() {
		defer close(inboundDone)
		s.readLoop()
	}()

	s.writeLoop(ctx, inboundDone, awaitCompletion)

	s.setState(StateClosing)
	// Closing the transport unblocks a reader still waiting for a frame.
	if err := s.transport.Close(); err != nil {
		s.logger.Debug("transport close", zap.Error(err))
	}
	<-inboundDone
}

// replay writes the stored snapshot to the transport. It runs at most once.
func (s *Session) replay() error {
	s.mu.Lock()
	if s.replayed {
		s.mu.Unlock()
		return ErrReplayed
	}
	s.replayed = true
	s.mu.Unlock()

	rows := s.store.Current()
	for _, row := range rows {
		if err := s.transport.WriteText(row); err != nil {
			return fmt.Errorf("replaying snapshot: %w", err)
		}
	}
	s.metrics.replayed()
	s.logger.Info("snapshot replayed", zap.Int("rows", len(rows)))
	return nil
}

func (s *Session) writeLoop(ctx context.Context, inboundDone <-chan struct{}, awaitCompletion bool) {
	var completed <-chan struct{}
	if awaitCompletion {
		completed = s.store.Done()
	}

	var ping <-chan time.Time
	if s.opts.PingPeriod > 0 {
		ticker := time.NewTicker(s.opts.PingPeriod)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-inboundDone:
			return
		case <-s.sub.Done():
			if err := s.sub.Err(); err != nil {
				s.logger.Info("subscriber evicted", zap.Error(err))
			}
			return

		case <-completed:
			completed = nil
			if err := s.replay(); err != nil {
				s.logger.Debug("deferred snapshot replay failed", zap.Error(err))
				return
			}

		case row := <-s.sub.Queue():
			// Rows published after completion must follow the replay.
			if completed != nil {
				select {
				case <-completed:
					completed = nil
					if err := s.replay(); err != nil {
						s.logger.Debug("deferred snapshot replay failed", zap.Error(err))
						return
					}
				default:
				}
			}
			if err := s.transport.WriteText(row); err != nil {
				s.logger.Debug("write failed", zap.Error(err))
				return
			}

		case <-ping:
			if err := s.transport.WritePing(); err != nil {
				s.logger.Debug("keepalive ping failed", zap.Error(err))
				return
			}
		}
	}
}

func (s *Session) readLoop() {
	for {
		frame, err := s.transport.ReadFrame()
		if err != nil {
			s.logger.Debug("read failed", zap.Error(err))
			return
		}
		switch frame.Kind {
		case FrameClose:
			s.logger.Info("subscriber sent close")
			return
		default:
			// Subscribers are read-only; data frames are dropped.
		}
	}
}

func (s *Session) handlePing(payload []byte) error {
	if err := s.transport.WritePong(payload); err != nil {
		s.logger.Debug("pong failed", zap.Error(err))
		return err
	}
	return nil
}

func (s *Session) close() {
	s.registry.Remove(s.sub.ID())
	s.sub.close(nil)
	s.setState(StateClosed)
	s.logger.Info("subscriber disconnected")
}
