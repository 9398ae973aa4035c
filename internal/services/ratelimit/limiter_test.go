package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/Egham-7/token-gate/internal/services/cache"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newMemoryLimiter() (*Limiter, *clock) {
	clk := &clock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	counter := cache.NewMemoryWindowCounter().WithClock(clk.Now)
	return New(counter, WithClock(clk.Now)), clk
}

func TestCheckWindowBoundary(t *testing.T) {
	limiter, clk := newMemoryLimiter()
	ctx := context.Background()
	id := Identity("summarize", "acct-1")

	for i := 1; i <= 10; i++ {
		res := limiter.Check(ctx, id, 10, time.Minute)
		require.True(t, res.Allowed, "request %d", i)
		assert.Equal(t, 10-i, res.Remaining)
	}

	res := limiter.Check(ctx, id, 10, time.Minute)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.True(t, res.ResetAt.After(clk.Now()))
	assert.Equal(t, time.Minute, res.RetryAfter)

	clk.Advance(time.Minute)

	res = limiter.Check(ctx, id, 10, time.Minute)
	assert.True(t, res.Allowed)
	assert.Equal(t, 9, res.Remaining)
	assert.Equal(t, 1, limiter.Info(ctx, id, 10, time.Minute).Used)
}

func TestCheckWindowBoundaryRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter := New(cache.NewRedisWindowCounter(client, ""))
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		require.True(t, limiter.Check(ctx, "ops:a", 10, time.Minute).Allowed, "request %d", i)
	}
	res := limiter.Check(ctx, "ops:a", 10, time.Minute)
	require.False(t, res.Allowed)
	assert.True(t, res.ResetAt.After(time.Now()))
	assert.Greater(t, res.RetryAfter, time.Duration(0))

	mr.FastForward(time.Minute)

	res = limiter.Check(ctx, "ops:a", 10, time.Minute)
	assert.True(t, res.Allowed)
	assert.Equal(t, 9, res.Remaining)
}

func TestIdentitiesAreIndependent(t *testing.T) {
	limiter, _ := newMemoryLimiter()
	ctx := context.Background()

	require.True(t, limiter.Check(ctx, Identity("a", "u"), 1, time.Minute).Allowed)
	require.False(t, limiter.Check(ctx, Identity("a", "u"), 1, time.Minute).Allowed)
	assert.True(t, limiter.Check(ctx, Identity("b", "u"), 1, time.Minute).Allowed)
	assert.True(t, limiter.Check(ctx, Identity("a", "v"), 1, time.Minute).Allowed)
}

func TestInfoIsReadOnly(t *testing.T) {
	limiter, clk := newMemoryLimiter()
	ctx := context.Background()

	info := limiter.Info(ctx, "x", 5, time.Minute)
	assert.Equal(t, Info{Used: 0, Remaining: 5, ResetAt: clk.Now().Add(time.Minute)}, info)

	limiter.Check(ctx, "x", 5, time.Minute)
	limiter.Check(ctx, "x", 5, time.Minute)

	for range 3 {
		info = limiter.Info(ctx, "x", 5, time.Minute)
		assert.Equal(t, 2, info.Used)
		assert.Equal(t, 3, info.Remaining)
	}

	clk.Advance(2 * time.Minute)
	info = limiter.Info(ctx, "x", 5, time.Minute)
	assert.Equal(t, 0, info.Used)
}

func TestCheckFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	limiter := New(cache.NewRedisWindowCounter(client, ""))
	ctx := context.Background()

	for range 5 {
		res := limiter.Check(ctx, "down", 1, time.Minute)
		assert.True(t, res.Allowed)
	}
	assert.Equal(t, 0, limiter.Info(ctx, "down", 1, time.Minute).Used)
}

func TestHeaders(t *testing.T) {
	reset := time.Unix(1_700_000_000, 0)

	allowed := Result{Allowed: true, Limit: 10, Remaining: 3, ResetAt: reset}
	h := allowed.Headers()
	assert.Equal(t, "10", h[HeaderLimit])
	assert.Equal(t, "3", h[HeaderRemaining])
	assert.Equal(t, "1700000000", h[HeaderReset])
	assert.NotContains(t, h, HeaderRetryAfter)

	limited := Result{Allowed: false, Limit: 10, ResetAt: reset, RetryAfter: 1500 * time.Millisecond}
	assert.Equal(t, "2", limited.Headers()[HeaderRetryAfter])
}
