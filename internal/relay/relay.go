// Package relay is the fan-out engine: it classifies change-source rows into
// a retained snapshot and a live tail, and delivers both to subscribers.
package relay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/dgnsrekt/feedrelay/internal/rowline"
)

// Source yields raw byte chunks of newline-delimited rows.
type Source interface {
	// Stream calls emit for every chunk until the source ends, fails, or ctx
	// is cancelled. A clean end returns nil.
	Stream(ctx context.Context, emit func(chunk []byte) error) error
}

// IngestState describes the ingestion task.
type IngestState string

const (
	IngestIdle    IngestState = "idle"
	IngestRunning IngestState = "running"
	IngestEnded   IngestState = "ended"
	IngestFailed  IngestState = "failed"
)

// Options configures a Relay.
type Options struct {
	Classifier ClassifierOptions
	Session    SessionOptions
	// Clock drives the classifier's settle wait. Defaults to the wall clock.
	Clock clock.Clock
}

// DefaultOptions mirrors the reference behavior.
func DefaultOptions() Options {
	return Options{
		Classifier: ClassifierOptions{
			Mode:      ModeHeuristic,
			Threshold: DefaultThreshold,
			Settle:    DefaultSettle,
		},
		Session: SessionOptions{
			QueueSize:          DefaultQueueSize,
			ReplayOnCompletion: true,
		},
	}
}

// Status is a point-in-time view of the relay for health reporting.
type Status struct {
	SnapshotComplete bool        `json:"snapshot_complete"`
	SnapshotRows     int         `json:"snapshot_rows"`
	SnapshotAt       *time.Time  `json:"snapshot_at,omitempty"`
	Subscribers      int         `json:"subscribers"`
	Ingest           IngestState `json:"ingest"`
	LastError        string      `json:"last_error,omitempty"`
}

// Relay owns the snapshot store, the subscriber registry and the broadcaster.
type Relay struct {
	opts     Options
	store    *SnapshotStore
	registry *Registry
	bcast    *Broadcaster
	metrics  *Metrics
	logger   *zap.Logger

	started atomic.Bool

	mu        sync.RWMutex
	ingest    IngestState
	lastError error
}

// New creates a Relay. Metrics are registered with reg when it is non-nil.
func New(opts Options, logger *zap.Logger, reg prometheus.Registerer) (*Relay, error) {
	if opts.Session.QueueSize < 1 {
		opts.Session.QueueSize = DefaultQueueSize
	}
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	store := NewSnapshotStore()
	registry := NewRegistry()
	metrics, err := NewMetrics(reg, registry, store)
	if err != nil {
		return nil, err
	}

	// Validate the mode up front rather than at ingestion time.
	if _, err := NewClassifier(opts.Classifier, store, nil, opts.Clock, logger); err != nil {
		return nil, err
	}

	return &Relay{
		opts:     opts,
		store:    store,
		registry: registry,
		bcast:    NewBroadcaster(registry, metrics, logger),
		metrics:  metrics,
		logger:   logger,
		ingest:   IngestIdle,
	}, nil
}

// Ingest processes src to completion or failure. It may run once per Relay;
// there is no reconnection. A clean end or cancellation finalizes a snapshot
// still being collected; a failure leaves the store exactly as last mutated.
// Either way sessions keep being served.
func (r *Relay) Ingest(ctx context.Context, src Source) error {
	if !r.started.CompareAndSwap(false, true) {
		return ErrIngestStarted
	}
	r.setIngest(IngestRunning, nil)

	cls, err := NewClassifier(r.opts.Classifier, r.store, r.bcast, r.opts.Clock, r.logger)
	if err != nil {
		r.setIngest(IngestFailed, err)
		return err
	}

	r.logger.Info("ingestion started", zap.String("classifier", r.opts.Classifier.Mode))

	rows := 0
	err = src.Stream(ctx, func(chunk []byte) error {
		for _, row := range rowline.Split(chunk) {
			rows++
			r.metrics.ingested()
			if err := cls.Observe(ctx, row); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		// A failed source leaves the store as it was; pending rows are not
		// promoted to a complete snapshot.
		r.setIngest(IngestFailed, err)
		r.logger.Error("ingestion stopped, serving last snapshot",
			zap.Int("rows", rows),
			zap.Bool("live", cls.Live()),
			zap.Error(err),
		)
		return err
	}

	cls.Finish()
	r.setIngest(IngestEnded, nil)
	r.logger.Info("change source ended", zap.Int("rows", rows), zap.Bool("live", cls.Live()))
	return nil
}

func (r *Relay) setIngest(state IngestState, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ingest = state
	r.lastError = err
}

// Serve runs one subscriber session over t until it ends.
func (r *Relay) Serve(ctx context.Context, t Transport, remote string) {
	newSession(r, t, remote).Run(ctx)
}

// Snapshot returns a copy of the retained snapshot and whether it is complete.
func (r *Relay) Snapshot() ([]string, bool) {
	return r.store.Current(), r.store.IsComplete()
}

// SnapshotDone is closed once the snapshot first completes.
func (r *Relay) SnapshotDone() <-chan struct{} {
	return r.store.Done()
}

// Subscribers returns the number of registered subscribers.
func (r *Relay) Subscribers() int {
	return r.registry.Len()
}

// Status reports the relay's current state.
func (r *Relay) Status() Status {
	r.mu.RLock()
	state, lastErr := r.ingest, r.lastError
	r.mu.RUnlock()

	st := Status{
		SnapshotComplete: r.store.IsComplete(),
		SnapshotRows:     r.store.Len(),
		Subscribers:      r.registry.Len(),
		Ingest:           state,
	}
	if st.SnapshotComplete {
		at := r.store.RecordedAt()
		st.SnapshotAt = &at
	}
	if lastErr != nil {
		st.LastError = lastErr.Error()
	}
	return st
}
