package source

import (
	"context"
	"errors"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/dgnsrekt/feedrelay/internal/relay"
)

func collect(t *testing.T, src relay.Source) ([]string, error) {
	t.Helper()
	var chunks []string
	err := src.Stream(context.Background(), func(chunk []byte) error {
		chunks = append(chunks, string(chunk))
		return nil
	})
	return chunks, err
}

func TestReaderSourceEmitsLines(t *testing.T) {
	src := NewReaderSource(strings.NewReader("r1\nr2\r\nr3"))

	chunks, err := collect(t, src)
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	want := []string{"r1\n", "r2\r\n", "r3"}
	if diff := cmp.Diff(want, chunks); diff != "" {
		t.Errorf("chunks mismatch (-want +got):\n%s", diff)
	}
}

func TestReaderSourceEmptyInput(t *testing.T) {
	chunks, err := collect(t, NewReaderSource(strings.NewReader("")))
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("got %d chunks, want 0", len(chunks))
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

func TestReaderSourceReadError(t *testing.T) {
	_, err := collect(t, NewReaderSource(failingReader{}))
	if !errors.Is(err, relay.ErrSourceStream) {
		t.Errorf("Stream() error = %v, want ErrSourceStream", err)
	}
}

func TestReaderSourceEmitErrorStops(t *testing.T) {
	stop := errors.New("stop")
	calls := 0
	err := NewReaderSource(strings.NewReader("a\nb\nc\n")).Stream(context.Background(), func([]byte) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Errorf("Stream() error = %v, want %v", err, stop)
	}
	if calls != 1 {
		t.Errorf("emit called %d times, want 1", calls)
	}
}

func TestReaderSourceCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewReaderSource(strings.NewReader("a\n")).Stream(ctx, func([]byte) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Stream() error = %v, want context.Canceled", err)
	}
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed.txt")
	if err := os.WriteFile(path, []byte("r1\nr2\n"), 0o644); err != nil {
		t.Fatalf("write feed: %v", err)
	}

	src, closer, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	defer closer.Close()

	chunks, err := collect(t, src)
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if diff := cmp.Diff([]string{"r1\n", "r2\n"}, chunks); diff != "" {
		t.Errorf("chunks mismatch (-want +got):\n%s", diff)
	}
}

func TestOpenFileMissing(t *testing.T) {
	_, _, err := OpenFile(filepath.Join(t.TempDir(), "missing.txt"))
	if !errors.Is(err, relay.ErrSourceConnection) {
		t.Errorf("OpenFile() error = %v, want ErrSourceConnection", err)
	}
}

func TestConnString(t *testing.T) {
	cfg := PostgresConfig{
		Host:           "mz.example.com",
		Port:           6875,
		Database:       "materialize",
		User:           "relay@example.com",
		Password:       "p@ss/word",
		SSLMode:        "require",
		ConnectTimeout: 10 * time.Second,
	}

	u, err := url.Parse(cfg.ConnString())
	if err != nil {
		t.Fatalf("ConnString() not a URL: %v", err)
	}
	if u.Host != "mz.example.com:6875" {
		t.Errorf("host = %q", u.Host)
	}
	if u.Path != "/materialize" {
		t.Errorf("path = %q", u.Path)
	}
	if u.User.Username() != "relay@example.com" {
		t.Errorf("user = %q", u.User.Username())
	}
	if pw, _ := u.User.Password(); pw != "p@ss/word" {
		t.Errorf("password = %q", pw)
	}
	if got := u.Query().Get("sslmode"); got != "require" {
		t.Errorf("sslmode = %q", got)
	}
	if got := u.Query().Get("connect_timeout"); got != "10" {
		t.Errorf("connect_timeout = %q", got)
	}
}

func TestNewPostgresSourceDefaultQuery(t *testing.T) {
	src := NewPostgresSource(PostgresConfig{}, zap.NewNop())
	if src.cfg.Query != DefaultQuery {
		t.Errorf("query = %q, want %q", src.cfg.Query, DefaultQuery)
	}
}

func TestPostgresSourceConnectionRefused(t *testing.T) {
	// Reserve a port and release it so nothing is listening.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	src := NewPostgresSource(PostgresConfig{
		Host:           "127.0.0.1",
		Port:           port,
		Database:       "materialize",
		User:           "relay",
		Password:       "secret",
		SSLMode:        "disable",
		ConnectTimeout: 2 * time.Second,
	}, zap.NewNop())

	err = src.Stream(context.Background(), func([]byte) error {
		t.Error("emit called without a connection")
		return nil
	})
	if !errors.Is(err, relay.ErrSourceConnection) {
		t.Errorf("Stream() error = %v, want ErrSourceConnection", err)
	}
}

func TestEmitWriter(t *testing.T) {
	var got []byte
	w := emitWriter(func(chunk []byte) error {
		got = append(got, chunk...)
		return nil
	})
	n, err := w.Write([]byte("r1\n"))
	if err != nil || n != 3 {
		t.Fatalf("Write() = %d, %v", n, err)
	}
	if string(got) != "r1\n" {
		t.Errorf("got %q", got)
	}

	failing := emitWriter(func([]byte) error { return errors.New("boom") })
	if n, err := failing.Write([]byte("x")); err == nil || n != 0 {
		t.Errorf("Write() = %d, %v, want 0 and an error", n, err)
	}
}

func TestReaderSourceCancelWhileReadBlocked(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewReaderSource(pr).Stream(ctx, func([]byte) error { return nil })
	}()

	// Let the reader block on the idle pipe.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Stream() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stream did not return after ctx was cancelled")
	}

	// The pipe was closed to release the blocked read.
	if _, err := pw.Write([]byte("late\n")); !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("write after cancel error = %v, want io.ErrClosedPipe", err)
	}
}

// blockingReader blocks until released and is not an io.Closer.
type blockingReader struct{ release chan struct{} }

func (r blockingReader) Read([]byte) (int, error) {
	<-r.release
	return 0, io.EOF
}

func TestReaderSourceCancelWithoutCloser(t *testing.T) {
	r := blockingReader{release: make(chan struct{})}
	defer close(r.release)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewReaderSource(r).Stream(ctx, func([]byte) error { return nil })
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Stream() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stream did not return after ctx was cancelled")
	}
}
