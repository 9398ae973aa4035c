package cache

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryWindowCounterFixedWindow(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	counter := NewMemoryWindowCounter().WithClock(func() time.Time { return now })
	ctx := context.Background()

	w, err := counter.Incr(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), w.Count)
	assert.Equal(t, now.Add(time.Minute), w.ResetAt)

	now = now.Add(30 * time.Second)
	w, err = counter.Incr(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), w.Count)
	// The window does not slide.
	assert.Equal(t, now.Add(30*time.Second), w.ResetAt)

	peek, ok, err := counter.Peek(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), peek.Count)

	now = now.Add(30 * time.Second)
	_, ok, err = counter.Peek(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	w, err = counter.Incr(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), w.Count)
}

func TestRedisWindowCounterFixedWindow(t *testing.T) {
	mr, client := newMiniredis(t)
	counter := NewRedisWindowCounter(client, "")
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		w, err := counter.Incr(ctx, "feature:user", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(i), w.Count)
		assert.True(t, w.ResetAt.After(time.Now()))
	}
	assert.True(t, mr.Exists("ratelimit:feature:user"))

	mr.FastForward(30 * time.Second)
	w, err := counter.Incr(ctx, "feature:user", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(4), w.Count)
	assert.LessOrEqual(t, mr.TTL("ratelimit:feature:user"), 30*time.Second)

	peek, ok, err := counter.Peek(ctx, "feature:user")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(4), peek.Count)

	mr.FastForward(31 * time.Second)
	_, ok, err = counter.Peek(ctx, "feature:user")
	require.NoError(t, err)
	assert.False(t, ok)

	w, err = counter.Incr(ctx, "feature:user", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), w.Count)
}

func TestRedisWindowCounterIsAtomic(t *testing.T) {
	_, client := newMiniredis(t)
	counter := NewRedisWindowCounter(client, "tg:")
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	seen := make(chan int64, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w, err := counter.Incr(ctx, "burst", time.Minute)
			if err == nil {
				seen <- w.Count
			}
		}()
	}
	wg.Wait()
	close(seen)

	counts := make(map[int64]bool)
	for c := range seen {
		assert.False(t, counts[c], "count %d observed twice", c)
		counts[c] = true
	}
	assert.Len(t, counts, n)
}

func TestRedisWindowCounterUnavailable(t *testing.T) {
	mr, client := newMiniredis(t)
	counter := NewRedisWindowCounter(client, "")
	mr.Close()

	_, err := counter.Incr(context.Background(), "k", time.Second)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestMemoryWindowCounterDropsAbandonedWindows(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	counter := NewMemoryWindowCounter().WithClock(func() time.Time { return now })
	ctx := context.Background()

	for i := range 10000 {
		_, err := counter.Incr(ctx, "ip:"+strconv.Itoa(i), time.Second)
		require.NoError(t, err)
	}
	require.Equal(t, 10000, counter.Len())

	now = now.Add(time.Hour)
	w, err := counter.Incr(ctx, "ip:new", time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), w.Count)
	assert.Equal(t, 1, counter.Len())
}

func TestMemoryWindowCounterPurge(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	counter := NewMemoryWindowCounter().WithClock(func() time.Time { return now })
	ctx := context.Background()

	_, err := counter.Incr(ctx, "short", time.Second)
	require.NoError(t, err)
	_, err = counter.Incr(ctx, "long", time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 0, counter.Purge())
	now = now.Add(time.Minute)
	assert.Equal(t, 1, counter.Purge())
	assert.Equal(t, 1, counter.Len())

	peek, ok, err := counter.Peek(ctx, "long")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), peek.Count)
}
