package throttle

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Throttle allows one action per key per window. State lives in redis so every
// server process sees the same windows.
type Throttle struct {
	rdb    redis.Cmdable
	prefix string
	window time.Duration
}

func New(rdb redis.Cmdable, prefix string, window time.Duration) *Throttle {
	return &Throttle{rdb: rdb, prefix: prefix, window: window}
}

// Allow reports whether the action may run now and, if so, opens a new window for key
func (t *Throttle) Allow(ctx context.Context, key string) (bool, error) {
	ok, err := t.rdb.SetNX(ctx, t.prefix+key, time.Now().Unix(), t.window).Result()
	if err != nil {
		return false, fmt.Errorf("throttle %s: %w", key, err)
	}
	return ok, nil
}

// RetryAfter returns how long until key may run again; zero when allowed now
func (t *Throttle) RetryAfter(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := t.rdb.PTTL(ctx, t.prefix+key).Result()
	if err != nil {
		return 0, err
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}
