package throttle

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newThrottle(t *testing.T, window time.Duration) (*Throttle, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb, "receipt:", window), mr
}

func TestAllow_OncePerWindow(t *testing.T) {
	th, mr := newThrottle(t, time.Minute)
	ctx := context.Background()

	ok, err := th.Allow(ctx, "email:a@example.com")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = th.Allow(ctx, "email:a@example.com")
	require.NoError(t, err)
	assert.False(t, ok)

	// other identities are independent
	ok, err = th.Allow(ctx, "email:b@example.com")
	require.NoError(t, err)
	assert.True(t, ok)

	wait, err := th.RetryAfter(ctx, "email:a@example.com")
	require.NoError(t, err)
	assert.Greater(t, wait, time.Duration(0))

	mr.FastForward(time.Minute + time.Second)
	ok, err = th.Allow(ctx, "email:a@example.com")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAllow_SharedAcrossClients(t *testing.T) {
	mr := miniredis.RunT(t)
	a := New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "receipt:", time.Minute)
	b := New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "receipt:", time.Minute)

	ok, err := a.Allow(context.Background(), "user:1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Allow(context.Background(), "user:1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAllow_RedisDown(t *testing.T) {
	th, mr := newThrottle(t, time.Minute)
	mr.Close()

	_, err := th.Allow(context.Background(), "user:1")
	assert.Error(t, err)
}

func TestRetryAfter_Unknown(t *testing.T) {
	th, _ := newThrottle(t, time.Minute)
	wait, err := th.RetryAfter(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Zero(t, wait)
}
