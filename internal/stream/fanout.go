package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/anonchat/anonchat/internal/cache"
	"github.com/anonchat/anonchat/internal/types"
)

// DefaultPollInterval is how often poll-mode subscriptions re-read the
// recency buffer.
const DefaultPollInterval = 500 * time.Millisecond

// Fanout delivers one published message to every live subscription of a
// room. Which implementation is in use is invisible to clients: both produce
// the same envelopes in the same order on a Subscription's channel.
type Fanout interface {
	// Publish makes the envelope visible to all current subscribers of the
	// room. Best effort: failures are for the caller to log, not to fail a
	// message accept on.
	Publish(ctx context.Context, roomID string, env types.Envelope) error
	// Subscribe attaches a new delivery-stream connection to the room.
	Subscribe(ctx context.Context, roomID string) *Subscription
	// Unsubscribe detaches the connection. Unconditional and idempotent.
	Unsubscribe(sub *Subscription)
}

func pubsubChannel(roomID string) string {
	return fmt.Sprintf("room:%s:stream:pubsub", roomID)
}

func roomFromChannel(channel string) string {
	name := strings.TrimPrefix(channel, "room:")
	return strings.TrimSuffix(name, ":stream:pubsub")
}

// PubSubFanout is the push-mode strategy: publishes go through a Redis
// pub/sub channel per room, and a single receive loop feeds the local
// registry. This is the preferred mode whenever the transport can deliver
// pushes; it also fans out across processes sharing the same Redis.
type PubSubFanout struct {
	rdb      redis.UniversalClient
	registry *Registry
	log      zerolog.Logger
}

func NewPubSubFanout(rdb redis.UniversalClient, registry *Registry, log zerolog.Logger) *PubSubFanout {
	return &PubSubFanout{rdb: rdb, registry: registry, log: log}
}

func (f *PubSubFanout) Publish(ctx context.Context, roomID string, env types.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := f.rdb.Publish(ctx, pubsubChannel(roomID), data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", pubsubChannel(roomID), err)
	}
	return nil
}

func (f *PubSubFanout) Subscribe(ctx context.Context, roomID string) *Subscription {
	return f.registry.Register(roomID)
}

func (f *PubSubFanout) Unsubscribe(sub *Subscription) {
	f.registry.Unregister(sub)
}

// Run consumes the pub/sub pattern for all rooms and broadcasts into the
// registry until ctx is cancelled. Intended to run as one goroutine per
// process.
func (f *PubSubFanout) Run(ctx context.Context) {
	pubsub := f.rdb.PSubscribe(ctx, pubsubChannel("*"))
	defer pubsub.Close()

	f.log.Info().Msg("fanout: push mode, subscribed to room pub/sub")
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env types.Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				f.log.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping undecodable fanout payload")
				continue
			}
			f.registry.Broadcast(roomFromChannel(msg.Channel), env)
		}
	}
}

// PollFanout is the fallback strategy for transports without pub/sub (for
// example a REST-only cache backend): each subscription runs its own timer,
// re-reads the room's recency buffer, and emits only the entries it has not
// emitted before, oldest first. Publish is a no-op because the buffer append
// performed on the accept path is what makes a message visible.
type PollFanout struct {
	buffer   *cache.Buffer
	registry *Registry
	log      zerolog.Logger
	interval time.Duration
}

func NewPollFanout(buffer *cache.Buffer, registry *Registry, log zerolog.Logger) *PollFanout {
	return &PollFanout{
		buffer:   buffer,
		registry: registry,
		log:      log,
		interval: DefaultPollInterval,
	}
}

func (f *PollFanout) Publish(ctx context.Context, roomID string, env types.Envelope) error {
	return nil
}

func (f *PollFanout) Subscribe(ctx context.Context, roomID string) *Subscription {
	sub := f.registry.Register(roomID)
	go f.poll(ctx, sub)
	return sub
}

func (f *PollFanout) Unsubscribe(sub *Subscription) {
	f.registry.Unregister(sub)
}

func (f *PollFanout) poll(ctx context.Context, sub *Subscription) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	seen := NewSeenSet(0)
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			return
		case <-ticker.C:
			envelopes, err := f.buffer.ReadRecent(ctx, sub.RoomID, 0)
			if err != nil {
				f.log.Warn().Err(err).Str("room", sub.RoomID).Msg("poll read failed")
				continue
			}
			for _, env := range envelopes {
				if !seen.Add(env.Message.ID) {
					continue
				}
				select {
				case sub.C <- env:
				default:
					f.log.Warn().Str("room", sub.RoomID).Msg("dropping polled envelope for slow subscriber")
				}
			}
		}
	}
}
