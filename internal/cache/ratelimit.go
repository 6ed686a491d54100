package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Decision is the outcome of a rate-limit check. RetryAfter is only set when
// the request was limited.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter implements fixed-window counting in Redis, keyed by caller-supplied
// key plus the window number. When Redis is unreachable it degrades to a
// process-local token bucket with the same average rate, so an outage slows
// abusers down instead of either blocking everyone or letting everything
// through.
type Limiter struct {
	rdb    redis.UniversalClient
	log    zerolog.Logger
	window time.Duration
	max    int

	mu    sync.Mutex
	local map[string]*rate.Limiter
}

func NewLimiter(rdb redis.UniversalClient, log zerolog.Logger, window time.Duration, max int) *Limiter {
	return &Limiter{
		rdb:    rdb,
		log:    log,
		window: window,
		max:    max,
		local:  make(map[string]*rate.Limiter),
	}
}

func (l *Limiter) Allow(ctx context.Context, key string) Decision {
	windowKey := fmt.Sprintf("%s:%d", key, time.Now().UnixMilli()/l.window.Milliseconds())

	count, err := l.rdb.Incr(ctx, windowKey).Result()
	if err != nil {
		l.log.Warn().Err(err).Str("key", key).Msg("rate limiter falling back to local bucket")
		return l.allowLocal(key)
	}

	if count == 1 {
		// first hit opens the window
		if err := l.rdb.PExpire(ctx, windowKey, l.window).Err(); err != nil {
			l.log.Warn().Err(err).Str("key", windowKey).Msg("failed to set rate window expiry")
		}
	}

	if count > int64(l.max) {
		retryAfter := l.window
		if ttl, err := l.rdb.PTTL(ctx, windowKey).Result(); err == nil && ttl > 0 {
			retryAfter = ttl
		}
		return Decision{Allowed: false, RetryAfter: retryAfter}
	}

	return Decision{Allowed: true, Remaining: l.max - int(count)}
}

func (l *Limiter) allowLocal(key string) Decision {
	l.mu.Lock()
	lim, ok := l.local[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(l.window/time.Duration(l.max)), l.max)
		l.local[key] = lim
	}
	l.mu.Unlock()

	if lim.Allow() {
		return Decision{Allowed: true, Remaining: int(lim.Tokens())}
	}
	return Decision{Allowed: false, RetryAfter: l.window}
}
