package relay

import (
	"sync"
	"time"
)

// SnapshotStore holds the most recently completed snapshot.
// Completion is monotonic: once set it never reverts.
type SnapshotStore struct {
	mu         sync.RWMutex
	rows       []string
	complete   bool
	recordedAt time.Time
	done       chan struct{}
}

// NewSnapshotStore creates an empty, incomplete store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{done: make(chan struct{})}
}

// Record overwrites the stored snapshot with a copy of rows and marks it
// complete. Safe to call more than once.
func (s *SnapshotStore) Record(rows []string) {
	cp := make([]string, len(rows))
	copy(cp, rows)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.rows = cp
	s.recordedAt = time.Now()
	if !s.complete {
		s.complete = true
		close(s.done)
	}
}

// IsComplete reports whether a snapshot has been recorded.
func (s *SnapshotStore) IsComplete() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.complete
}

// Current returns a copy of the stored rows in order.
func (s *SnapshotStore) Current() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp := make([]string, len(s.rows))
	copy(cp, s.rows)
	return cp
}

// Len returns the number of stored rows.
func (s *SnapshotStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// RecordedAt returns when the snapshot was last recorded, or the zero time.
func (s *SnapshotStore) RecordedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recordedAt
}

// Done is closed the first time the snapshot completes.
func (s *SnapshotStore) Done() <-chan struct{} {
	return s.done
}
