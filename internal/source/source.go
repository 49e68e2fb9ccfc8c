// Package source provides relay.Source implementations: a Postgres-wire COPY
// stream (Materialize SUBSCRIBE) and a plain reader for captured feeds.
package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dgnsrekt/feedrelay/internal/relay"
)

// ReaderSource streams newline-terminated rows from an io.Reader. Each line is
// emitted as its own chunk.
type ReaderSource struct {
	r io.Reader
}

// Compile-time interface verification
var _ relay.Source = (*ReaderSource)(nil)

// NewReaderSource creates a ReaderSource.
func NewReaderSource(r io.Reader) *ReaderSource {
	return &ReaderSource{r: r}
}

// OpenFile opens path as a ReaderSource. "-" reads standard input. The
// returned closer releases the file.
func OpenFile(path string) (*ReaderSource, io.Closer, error) {
	if path == "-" {
		return NewReaderSource(os.Stdin), io.NopCloser(nil), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: opening %s: %w", relay.ErrSourceConnection, path, err)
	}
	return NewReaderSource(f), f, nil
}

// Stream implements relay.Source. It returns nil at end of input and
// ctx.Err() once ctx ends, even while a read is blocked. A reader that is also
// an io.Closer is closed on cancellation to release the blocked read.
func (s *ReaderSource) Stream(ctx context.Context, emit func(chunk []byte) error) error {
	lines := make(chan readResult)
	stop := make(chan struct{})
	defer close(stop)

	if c, ok := s.r.(io.Closer); ok {
		release := context.AfterFunc(ctx, func() { _ = c.Close() })
		defer release()
	}

	go func() {
		br := bufio.NewReader(s.r)
		for {
			line, err := br.ReadBytes('\n')
			select {
			case lines <- readResult{line: line, err: err}:
			case <-stop:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res := <-lines:
			if len(res.line) > 0 {
				if err := emit(res.line); err != nil {
					return err
				}
			}
			if errors.Is(res.err, io.EOF) {
				return nil
			}
			if res.err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("%w: %w", relay.ErrSourceStream, res.err)
			}
		}
	}
}

type readResult struct {
	line []byte
	err  error
}
