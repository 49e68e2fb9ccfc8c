package relay

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// ID identifies a subscriber for the lifetime of the process.
type ID uint64

// Subscriber is a registered consumer with a bounded delivery queue.
type Subscriber struct {
	id     ID
	connID string
	remote string
	queue  chan string

	done      chan struct{}
	closeOnce sync.Once
	cause     atomic.Value // error
}

// NewSubscriber creates a subscriber with a queue of the given capacity.
func NewSubscriber(id ID, queueSize int, remote string) *Subscriber {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Subscriber{
		id:     id,
		connID: uuid.New().String(),
		remote: remote,
		queue:  make(chan string, queueSize),
		done:   make(chan struct{}),
	}
}

func (s *Subscriber) ID() ID { return s.id }
func (s *Subscriber) ConnID() string { return s.connID }
func (s *Subscriber) Remote() string { return s.remote }
func (s *Subscriber) Queue() <-chan string { return s.queue }

// Done is closed once the subscriber is evicted or its session ends.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Err returns the eviction cause, if the subscriber was evicted.
func (s *Subscriber) Err() error {
	if err, ok := s.cause.Load().(error); ok {
		return err
	}
	return nil
}

// Offer enqueues row without blocking.
func (s *Subscriber) Offer(row string) error {
	select {
	case <-s.done:
		return ErrSubscriberGone
	default:
	}

	select {
	case s.queue <- row:
		return nil
	default:
		return ErrQueueFull
	}
}

// close marks the subscriber finished. The queue itself is never closed so a
// concurrent Offer cannot panic.
func (s *Subscriber) close(cause error) {
	s.closeOnce.Do(func() {
		if cause != nil {
			s.cause.Store(cause)
		}
		close(s.done)
	})
}

// Registry tracks connected subscribers.
type Registry struct {
	mu   sync.Mutex
	subs map[ID]*Subscriber
	next atomic.Uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{subs: make(map[ID]*Subscriber)}
}

// NextID returns a strictly increasing identifier, starting at 1.
func (r *Registry) NextID() ID {
	return ID(r.next.Add(1))
}

// Add registers sub, replacing any subscriber with the same ID.
func (r *Registry) Add(sub *Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[sub.id] = sub
}

// Remove deregisters id and reports whether it was present.
func (r *Registry) Remove(id ID) (*Subscriber, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[id]
	if ok {
		delete(r.subs, id)
	}
	return sub, ok
}

// ForEach calls fn for every member while holding the registry lock.
// fn must not block.
func (r *Registry) ForEach(fn func(*Subscriber)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs {
		fn(sub)
	}
}

// Members returns a copy of the current membership.
func (r *Registry) Members() []*Subscriber {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := make([]*Subscriber, 0, len(r.subs))
	for _, sub := range r.subs {
		members = append(members, sub)
	}
	return members
}

// Len returns the number of registered subscribers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}
