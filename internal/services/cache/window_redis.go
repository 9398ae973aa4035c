package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Starts the expiry on the first hit so the window is fixed, not sliding.
// Also repairs a key that lost its TTL.
const incrWindowScript = `
	local count = redis.call('INCR', KEYS[1])
	local ttl = redis.call('PTTL', KEYS[1])
	if count == 1 or ttl < 0 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
		ttl = tonumber(ARGV[1])
	end
	return {count, ttl}
`

type RedisWindowCounter struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedisWindowCounter(client *redis.Client, prefix string) *RedisWindowCounter {
	return &RedisWindowCounter{
		client: client,
		prefix: prefix,
		now:    time.Now,
	}
}

func (c *RedisWindowCounter) key(key string) string {
	return c.prefix + RateLimitNamespace + key
}

func (c *RedisWindowCounter) Incr(ctx context.Context, key string, window time.Duration) (Window, error) {
	ms := window.Milliseconds()
	if ms <= 0 {
		ms = 1
	}

	res, err := c.client.Eval(ctx, incrWindowScript, []string{c.key(key)}, ms).Int64Slice()
	if err != nil {
		return Window{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if len(res) != 2 {
		return Window{}, fmt.Errorf("unexpected window script result: %v", res)
	}

	return Window{
		Count:   res[0],
		ResetAt: c.now().Add(time.Duration(res[1]) * time.Millisecond),
	}, nil
}

func (c *RedisWindowCounter) Peek(ctx context.Context, key string) (Window, bool, error) {
	k := c.key(key)

	pipe := c.client.Pipeline()
	getCmd := pipe.Get(ctx, k)
	ttlCmd := pipe.PTTL(ctx, k)
	_, err := pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return Window{}, false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	count, err := getCmd.Int64()
	if errors.Is(err, redis.Nil) {
		return Window{}, false, nil
	}
	if err != nil {
		return Window{}, false, fmt.Errorf("failed to read window count: %w", err)
	}

	ttl := ttlCmd.Val()
	if ttl <= 0 {
		return Window{}, false, nil
	}

	return Window{Count: count, ResetAt: c.now().Add(ttl)}, true, nil
}
