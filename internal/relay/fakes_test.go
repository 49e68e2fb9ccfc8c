package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

const waitTimeout = 2 * time.Second

var errTransportClosed = errors.New("transport closed")

type inbound struct {
	ping  bool
	frame Frame
}

// fakeTransport is an in-memory Transport.
type fakeTransport struct {
	mu          sync.Mutex
	written     []string
	pongs       []string
	pings       int
	writeErr    error
	pingHandler func([]byte) error

	gate     chan struct{} // when non-nil, WriteText waits on it
	frames   chan inbound
	wrote    chan struct{}
	closed   chan struct{}
	closeOne sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		frames: make(chan inbound, 16),
		wrote:  make(chan struct{}, 4096),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) SetPingHandler(h func([]byte) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingHandler = h
}

func (f *fakeTransport) ReadFrame() (Frame, error) {
	for {
		select {
		case <-f.closed:
			return Frame{}, errTransportClosed
		case in := <-f.frames:
			if !in.ping {
				return in.frame, nil
			}
			f.mu.Lock()
			h := f.pingHandler
			f.mu.Unlock()
			if h != nil {
				if err := h(in.frame.Payload); err != nil {
					return Frame{}, err
				}
			}
		}
	}
}

func (f *fakeTransport) WriteText(row string) error {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-f.closed:
			return errTransportClosed
		}
	}

	f.mu.Lock()
	if f.writeErr != nil {
		err := f.writeErr
		f.mu.Unlock()
		return err
	}
	f.written = append(f.written, row)
	f.mu.Unlock()

	f.wrote <- struct{}{}
	return nil
}

func (f *fakeTransport) WritePong(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pongs = append(f.pongs, string(payload))
	return nil
}

func (f *fakeTransport) WritePing() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	return nil
}

func (f *fakeTransport) Close() error {
	f.closeOne.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) sendPing(payload string) {
	f.frames <- inbound{ping: true, frame: Frame{Payload: []byte(payload)}}
}

func (f *fakeTransport) sendFrame(kind FrameKind, payload string) {
	f.frames <- inbound{frame: Frame{Kind: kind, Payload: []byte(payload)}}
}

func (f *fakeTransport) rows() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]string, len(f.written))
	copy(cp, f.written)
	return cp
}

func (f *fakeTransport) pongPayloads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]string, len(f.pongs))
	copy(cp, f.pongs)
	return cp
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// waitRows blocks until n rows have been written in total.
func (f *fakeTransport) waitRows(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		if rows := f.rows(); len(rows) >= n {
			return rows
		}
		select {
		case <-f.wrote:
		case <-deadline:
			t.Fatalf("timed out waiting for %d rows, got %v", n, f.rows())
		}
	}
}

// chanSource is a Source fed by the test.
type chanSource struct {
	chunks chan []byte
	err    error
}

func newChanSource() *chanSource {
	return &chanSource{chunks: make(chan []byte, 16)}
}

func (s *chanSource) Stream(ctx context.Context, emit func([]byte) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-s.chunks:
			if !ok {
				return s.err
			}
			if err := emit(chunk); err != nil {
				return err
			}
		}
	}
}

func (s *chanSource) send(chunk string) {
	s.chunks <- []byte(chunk)
}

func newTestRelay(t *testing.T, mutate func(*Options)) *Relay {
	t.Helper()
	opts := DefaultOptions()
	opts.Classifier.Settle = 0
	if mutate != nil {
		mutate(&opts)
	}
	r, err := New(opts, zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("creating relay: %v", err)
	}
	return r
}

type ingestRun struct {
	done   chan struct{}
	err    error
	cancel context.CancelFunc
}

// wait blocks until Ingest returns and yields its error.
func (i *ingestRun) wait(t *testing.T) error {
	t.Helper()
	waitClosed(t, "ingestion to end", i.done)
	return i.err
}

// startIngest runs Ingest in the background.
func startIngest(t *testing.T, r *Relay, src Source) *ingestRun {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	run := &ingestRun{done: make(chan struct{}), cancel: cancel}
	go func() {
		defer close(run.done)
		run.err = r.Ingest(ctx, src)
	}()
	t.Cleanup(func() {
		cancel()
		<-run.done
	})
	return run
}

// startSession runs a session in the background. The returned channel closes
// when the session ends.
func startSession(t *testing.T, r *Relay, ft *fakeTransport) <-chan struct{} {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Serve(context.Background(), ft, "test")
	}()
	t.Cleanup(func() {
		ft.Close()
		<-done
	})
	return done
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitClosed(t *testing.T, what string, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for %s", what)
	}
}
