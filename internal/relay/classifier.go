package relay

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/juju/clock"
	"go.uber.org/zap"
)

// Classifier modes.
const (
	ModeHeuristic = "heuristic"
	ModeProgress  = "progress"
)

const (
	DefaultThreshold = 3
	DefaultSettle    = 100 * time.Millisecond
)

// Classifier decides whether each row belongs to the initial snapshot or the
// live tail, feeding the snapshot store and the broadcaster accordingly.
type Classifier interface {
	// Observe handles one row in arrival order.
	Observe(ctx context.Context, row string) error
	// Finish is called once when the source ends. A snapshot still being
	// collected is recorded as complete.
	Finish()
	// Live reports whether the snapshot boundary has been crossed.
	Live() bool
}

// ClassifierOptions configures snapshot boundary detection.
type ClassifierOptions struct {
	Mode      string
	Threshold int
	Settle    time.Duration
}

// NewClassifier builds the classifier selected by opts.Mode.
func NewClassifier(opts ClassifierOptions, store *SnapshotStore, bcast *Broadcaster, clk clock.Clock, logger *zap.Logger) (Classifier, error) {
	if clk == nil {
		clk = clock.WallClock
	}
	base := snapshotter{store: store, bcast: bcast, logger: logger}

	switch opts.Mode {
	case "", ModeHeuristic:
		threshold := opts.Threshold
		if threshold < 1 {
			threshold = DefaultThreshold
		}
		return &HeuristicClassifier{
			snapshotter: base,
			threshold:   threshold,
			settle:      opts.Settle,
			clock:       clk,
		}, nil
	case ModeProgress:
		return &ProgressClassifier{snapshotter: base}, nil
	default:
		return nil, fmt.Errorf("unknown classifier mode: %s", opts.Mode)
	}
}

// snapshotter holds the state shared by both classifiers.
type snapshotter struct {
	store   *SnapshotStore
	bcast   *Broadcaster
	logger  *zap.Logger
	pending []string
	live    bool
	done    bool
}

func (s *snapshotter) Live() bool { return s.live }

// complete freezes the pending rows into the store and switches to live.
func (s *snapshotter) complete(reason string) {
	s.store.Record(s.pending)
	s.logger.Info("snapshot complete",
		zap.Int("rows", len(s.pending)),
		zap.String("reason", reason),
	)
	s.pending = nil
	s.live = true
	s.done = true
}

func (s *snapshotter) Finish() {
	if s.done {
		return
	}
	s.done = true
	s.store.Record(s.pending)
	s.logger.Info("source ended during snapshot, treating collected rows as final snapshot",
		zap.Int("rows", len(s.pending)),
	)
	s.pending = nil
}

// HeuristicClassifier treats the first Threshold rows, plus a settle wait, as
// the snapshot. It assumes snapshot rows arrive in one burst followed by a
// gap: live rows arriving inside the settle window are misclassified as
// snapshot, and a slow snapshot is cut short.
type HeuristicClassifier struct {
	snapshotter
	threshold int
	settle    time.Duration
	clock     clock.Clock
}

// Observe implements Classifier.
func (c *HeuristicClassifier) Observe(ctx context.Context, row string) error {
	if c.live {
		c.bcast.Publish(row)
		return nil
	}
	if c.done {
		return nil
	}

	c.pending = append(c.pending, row)
	if len(c.pending) < c.threshold {
		return nil
	}

	if c.settle > 0 {
		select {
		case <-c.clock.After(c.settle):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.complete("threshold")
	// The triggering row is also sent live; subscribers connected right now
	// may see it twice.
	c.bcast.Publish(row)
	return nil
}

// ProgressClassifier uses the progress markers of a Materialize
// SUBSCRIBE ... WITH (SNAPSHOT, PROGRESS) to find the snapshot boundary.
// Rows are COPY text: mz_timestamp, mz_progressed, then the row columns.
type ProgressClassifier struct {
	snapshotter
	snapshotTS uint64
	haveTS     bool
}

// Observe implements Classifier.
func (c *ProgressClassifier) Observe(_ context.Context, row string) error {
	ts, progressed, ok := parseProgressRow(row)

	if c.live {
		if ok && progressed {
			return nil
		}
		c.bcast.Publish(row)
		return nil
	}
	if c.done {
		return nil
	}

	if !ok {
		c.pending = append(c.pending, row)
		return nil
	}
	if !c.haveTS {
		c.snapshotTS = ts
		c.haveTS = true
	}

	switch {
	case progressed && ts > c.snapshotTS:
		c.complete("progress")
	case progressed:
		c.logger.Debug("progress marker at snapshot timestamp", zap.Uint64("ts", ts))
	case ts > c.snapshotTS:
		c.complete("timestamp advanced")
		c.bcast.Publish(row)
	default:
		c.pending = append(c.pending, row)
	}
	return nil
}

// parseProgressRow reads the mz_timestamp and mz_progressed columns.
func parseProgressRow(row string) (ts uint64, progressed bool, ok bool) {
	fields := strings.SplitN(row, "\t", 3)
	if len(fields) < 2 {
		return 0, false, false
	}
	ts, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return 0, false, false
	}
	switch fields[1] {
	case "t", "true":
		return ts, true, true
	case "f", "false":
		return ts, false, true
	default:
		return 0, false, false
	}
}
