// Package cache holds the Redis-backed pieces of the delivery path: the
// per-room recency buffer and the request rate limiter. Everything in here
// is best-effort; callers on the message accept path log failures and move
// on rather than failing the persist.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/anonchat/anonchat/internal/types"
)

const (
	// DefaultBufferSize bounds the per-room recency list; oldest entries
	// are trimmed first regardless of delivery state.
	DefaultBufferSize = 50
	// DefaultBufferTTL is refreshed on every append so abandoned rooms
	// self-clean.
	DefaultBufferTTL = 24 * time.Hour
)

func recentKey(roomID string) string {
	return fmt.Sprintf("room:%s:stream:recent", roomID)
}

// Buffer is the bounded per-room cache of the most recent messages, used to
// seed new subscribers and to bridge the gap between publish and broadcast.
type Buffer struct {
	rdb  redis.UniversalClient
	log  zerolog.Logger
	size int
	ttl  time.Duration
}

func NewBuffer(rdb redis.UniversalClient, log zerolog.Logger) *Buffer {
	return &Buffer{
		rdb:  rdb,
		log:  log,
		size: DefaultBufferSize,
		ttl:  DefaultBufferTTL,
	}
}

// Append pushes the message's envelope onto the front of the room's list,
// trims to the bound, and refreshes the key's TTL. The push and trim run in
// one transaction so concurrent appends never interleave a read-modify-write.
func (b *Buffer) Append(ctx context.Context, roomID string, msg types.Message) error {
	data, err := json.Marshal(types.NewEnvelope(msg))
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	key := recentKey(roomID)
	pipe := b.rdb.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, int64(b.size-1))
	pipe.Expire(ctx, key, b.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append to %s: %w", key, err)
	}
	return nil
}

// ReadRecent returns up to n buffered envelopes for the room, oldest first.
func (b *Buffer) ReadRecent(ctx context.Context, roomID string, n int) ([]types.Envelope, error) {
	if n <= 0 || n > b.size {
		n = b.size
	}

	raw, err := b.rdb.LRange(ctx, recentKey(roomID), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", recentKey(roomID), err)
	}

	// the list is newest-first; reverse while decoding
	envelopes := make([]types.Envelope, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var env types.Envelope
		if err := json.Unmarshal([]byte(raw[i]), &env); err != nil {
			b.log.Warn().Err(err).Str("room", roomID).Msg("skipping undecodable buffer entry")
			continue
		}
		envelopes = append(envelopes, env)
	}
	return envelopes, nil
}
