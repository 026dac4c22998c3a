package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisLimiter(t *testing.T, clock *fakeClock) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), Protocol: 2, DisableIdentity: true})
	t.Cleanup(func() { _ = client.Close() })
	l := New(NewRedisStore(client), map[string]Policy{"payment_attempt": paymentPolicy}, WithClock(clock.Now))
	return l, mr
}

func TestRedisStore_SixthRequestInWindowIsThrottled(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	l, _ := newTestRedisLimiter(t, clock)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d := l.Admit(ctx, "client-1", "payment_attempt")
		assert.True(t, d.Allowed, "request %d", i+1)
		clock.Advance(time.Second)
	}

	d := l.Admit(ctx, "client-1", "payment_attempt")
	assert.False(t, d.Allowed)
	assert.Equal(t, 300, d.RetryAfterSeconds)

	clock.Advance(100 * time.Second)
	d = l.Admit(ctx, "client-1", "payment_attempt")
	assert.False(t, d.Allowed)
	assert.Equal(t, 200, d.RetryAfterSeconds)
}

func TestRedisStore_AdmitsAgainAfterBlockWithFreshWindow(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	l, _ := newTestRedisLimiter(t, clock)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		l.Admit(ctx, "client-1", "payment_attempt")
	}
	clock.Advance(5 * time.Minute)

	for i := 0; i < 5; i++ {
		assert.True(t, l.Admit(ctx, "client-1", "payment_attempt").Allowed, "request %d after cooldown", i+1)
	}
	assert.False(t, l.Admit(ctx, "client-1", "payment_attempt").Allowed)
}

func TestRedisStore_WindowRollsOverAndKeysAreIndependent(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	l, _ := newTestRedisLimiter(t, clock)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		assert.True(t, l.Admit(ctx, "client-1", "payment_attempt").Allowed)
	}
	assert.True(t, l.Admit(ctx, "client-2", "payment_attempt").Allowed)

	clock.Advance(61 * time.Second)
	assert.True(t, l.Admit(ctx, "client-1", "payment_attempt").Allowed)
}

func TestRedisStore_KeyExpiresWithWindowAndBlock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), Protocol: 2, DisableIdentity: true})
	t.Cleanup(func() { _ = client.Close() })
	s := NewRedisStore(client)
	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	const key = "rl:payment_attempt:client-1"

	for i := 0; i < 5; i++ {
		d, err := s.Hit(ctx, key, paymentPolicy, now)
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}
	assert.Equal(t, time.Minute, mr.TTL(key))

	d, err := s.Hit(ctx, key, paymentPolicy, now)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 5*time.Minute, mr.TTL(key), "the block outlasts the window")

	mr.FastForward(5*time.Minute + time.Second)
	assert.False(t, mr.Exists(key))
}
