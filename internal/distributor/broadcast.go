// internal/distributor/broadcast.go
package distributor

import (
	"sync"
	"sync/atomic"
)

// DefaultQueueSize bounds each subscriber's outgoing queue.
const DefaultQueueSize = 64

// Subscriber is one live connection's handle in the Broadcaster. Updates
// arrive on the channel returned by Updates in publish order; when the
// bounded queue overflows, the oldest queued update is dropped.
type Subscriber struct {
	ID         string
	ProducerID string
	AgentPath  string
	Tier       string

	out chan *UpdateEnvelope
}

// Updates returns the subscriber's delivery channel. The channel is closed
// when the subscriber is removed from the Broadcaster.
func (s *Subscriber) Updates() <-chan *UpdateEnvelope {
	return s.out
}

// BroadcastStats contains summary statistics for the broadcaster.
type BroadcastStats struct {
	Subscribers int   `json:"subscribers"`
	Published   int64 `json:"published"`
	Delivered   int64 `json:"delivered"`
	Dropped     int64 `json:"dropped"`
}

// Broadcaster is an in-memory registry of subscribers with per-subscriber
// bounded queues. Publishers never block on subscriber behavior: a full
// queue drops its oldest entry instead of backpressuring the publisher.
type Broadcaster struct {
	mu        sync.RWMutex
	subs      map[string]*Subscriber
	queueSize int
	published atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64
}

// NewBroadcaster creates a Broadcaster with the given per-subscriber queue
// size (DefaultQueueSize if <= 0).
func NewBroadcaster(queueSize int) *Broadcaster {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Broadcaster{
		subs:      make(map[string]*Subscriber),
		queueSize: queueSize,
	}
}

// Subscribe registers a new subscriber with the declared identity and tier.
func (b *Broadcaster) Subscribe(id, producerID, agentPath, declaredTier string) *Subscriber {
	sub := &Subscriber{
		ID:         id,
		ProducerID: producerID,
		AgentPath:  agentPath,
		Tier:       declaredTier,
		out:        make(chan *UpdateEnvelope, b.queueSize),
	}
	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()
	subscribersGauge.Inc()
	return sub
}

// Unsubscribe removes a subscriber and closes its delivery channel. Safe to
// call once per subscriber; concurrent publishes never send on the closed
// channel because close happens under the write lock.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
		close(sub.out)
	}
	b.mu.Unlock()
	if ok {
		subscribersGauge.Dec()
	}
}

// Publish fans the envelope out to every eligible subscriber and returns the
// number of queues it was placed on. Eligibility is tier gate plus targeting,
// evaluated here so that premium payloads never reach a free subscriber's
// queue at all.
func (b *Broadcaster) Publish(env *UpdateEnvelope) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	b.published.Add(1)
	updatesPublished.Inc()

	fanout := 0
	for _, sub := range b.subs {
		if !env.TierAllows(sub.Tier) {
			continue
		}
		if !env.MatchesTarget(sub.ProducerID, sub.AgentPath) {
			continue
		}
		select {
		case sub.out <- env:
		default:
			// Queue full: shed the oldest update for this subscriber, then
			// queue the new one. The racing reader may have drained a slot
			// in between, in which case nothing is lost.
			select {
			case <-sub.out:
				b.dropped.Add(1)
				framesDropped.Inc()
			default:
			}
			select {
			case sub.out <- env:
			default:
				b.dropped.Add(1)
				framesDropped.Inc()
				continue
			}
		}
		b.delivered.Add(1)
		framesDelivered.Inc()
		fanout++
	}
	return fanout
}

// Stats returns summary statistics for the broadcaster.
func (b *Broadcaster) Stats() BroadcastStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return BroadcastStats{
		Subscribers: len(b.subs),
		Published:   b.published.Load(),
		Delivered:   b.delivered.Load(),
		Dropped:     b.dropped.Load(),
	}
}
