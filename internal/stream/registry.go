// Package stream implements the fan-out path between message submission and
// the per-connection delivery streams: a process-local subscriber registry
// and two interchangeable fan-out strategies.
package stream

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/anonchat/anonchat/internal/stats"
	"github.com/anonchat/anonchat/internal/types"
)

// subscriptionBuffer is the per-subscription channel depth. A subscriber
// that falls this far behind starts losing envelopes rather than applying
// backpressure to the publish path.
const subscriptionBuffer = 32

// Subscription is one live delivery-stream connection's attachment to a
// room. It is owned by the registry from Register until Unregister and is
// never shared across processes.
type Subscription struct {
	RoomID    string
	C         chan types.Envelope
	CreatedAt time.Time

	closeOnce sync.Once
	done      chan struct{}
}

// Done is closed when the subscription is unregistered. Delivery loops use
// it to stop promptly on disconnect.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Registry maps room ids to the live subscriptions of this server process.
// It is not a source of truth: a restart loses every entry, and clients
// recreate equivalent state by reconnecting and replaying backlog.
type Registry struct {
	log   zerolog.Logger
	stats stats.Provider

	mu    sync.RWMutex
	rooms map[string]map[*Subscription]struct{}
}

func NewRegistry(log zerolog.Logger, sp stats.Provider) *Registry {
	return &Registry{
		log:   log,
		stats: sp,
		rooms: make(map[string]map[*Subscription]struct{}),
	}
}

func (r *Registry) Register(roomID string) *Subscription {
	sub := &Subscription{
		RoomID:    roomID,
		C:         make(chan types.Envelope, subscriptionBuffer),
		CreatedAt: time.Now(),
		done:      make(chan struct{}),
	}

	r.mu.Lock()
	subs, ok := r.rooms[roomID]
	if !ok {
		subs = make(map[*Subscription]struct{})
		r.rooms[roomID] = subs
	}
	subs[sub] = struct{}{}
	r.mu.Unlock()

	r.stats.Incr(stats.ActiveStreams)
	r.log.Debug().Str("room", roomID).Msg("subscription registered")
	return sub
}

// Unregister removes the subscription and signals its delivery loop. It is
// unconditional: unknown or already-removed subscriptions are a no-op.
func (r *Registry) Unregister(sub *Subscription) {
	if sub == nil {
		return
	}

	removed := false
	r.mu.Lock()
	if subs, ok := r.rooms[sub.RoomID]; ok {
		if _, present := subs[sub]; present {
			delete(subs, sub)
			removed = true
		}
		if len(subs) == 0 {
			delete(r.rooms, sub.RoomID)
		}
	}
	r.mu.Unlock()

	sub.closeOnce.Do(func() { close(sub.done) })

	if removed {
		r.stats.Decr(stats.ActiveStreams)
		r.log.Debug().Str("room", sub.RoomID).Msg("subscription unregistered")
	}
}

// Broadcast delivers the envelope to every live subscription for the room,
// best effort: a full subscription channel drops the envelope for that
// subscriber only. Returns the number of successful deliveries.
func (r *Registry) Broadcast(roomID string, env types.Envelope) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	delivered := 0
	for sub := range r.rooms[roomID] {
		select {
		case sub.C <- env:
			delivered++
		default:
			r.stats.Incr(stats.FanoutDrops)
			r.log.Warn().Str("room", roomID).Msg("dropping envelope for slow subscriber")
		}
	}
	return delivered
}

// Count reports the live subscriptions for a room.
func (r *Registry) Count(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID])
}
