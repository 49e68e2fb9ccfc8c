package relay

import (
	"errors"

	"go.uber.org/zap"
)

// PublishResult counts the outcome of one Publish call.
type PublishResult struct {
	Delivered int
	Gone      int
	Evicted   int
}

// Broadcaster fans rows out to every registered subscriber.
type Broadcaster struct {
	registry *Registry
	metrics  *Metrics
	logger   *zap.Logger
}

// NewBroadcaster creates a Broadcaster over registry.
func NewBroadcaster(registry *Registry, metrics *Metrics, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		metrics:  metrics,
		logger:   logger,
	}
}

// Publish offers row to every current subscriber without blocking.
// A subscriber whose queue is full is evicted; the others still receive row.
func (b *Broadcaster) Publish(row string) PublishResult {
	var res PublishResult

	// Copy membership so offers happen outside the registry lock
	members := b.registry.Members()
	b.metrics.published()
	if len(members) == 0 {
		return res
	}

	for _, sub := range members {
		err := sub.Offer(row)
		switch {
		case err == nil:
			res.Delivered++
			b.metrics.delivery("delivered")
		case errors.Is(err, ErrQueueFull):
			res.Evicted++
			b.metrics.delivery("evicted")
			b.evict(sub)
		default:
			res.Gone++
			b.metrics.delivery("gone")
			b.logger.Debug("subscriber gone during publish",
				zap.Uint64("subscriber", uint64(sub.ID())),
				zap.Error(err),
			)
		}
	}
	return res
}

func (b *Broadcaster) evict(sub *Subscriber) {
	if _, ok := b.registry.Remove(sub.ID()); !ok {
		return
	}
	sub.close(ErrQueueFull)
	b.metrics.evicted()
	b.logger.Warn("subscriber evicted, delivery queue full",
		zap.Uint64("subscriber", uint64(sub.ID())),
		zap.String("connID", sub.ConnID()),
		zap.Int("queueSize", cap(sub.queue)),
	)
}
