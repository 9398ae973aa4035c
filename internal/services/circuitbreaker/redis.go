package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix          = "circuit_breaker:"
	stateKey           = "state"
	failureCountKey    = "failure_count"
	successCountKey    = "success_count"
	lastFailureTimeKey = "last_failure_time"
	lastStateChangeKey = "last_state_change"
	defaultTimeout     = time.Second
	maxRetries         = 3
)

const (
	// KEYS: state, failure_count, success_count, last_state_change
	// ARGV: success threshold, now (unix seconds)
	recordSuccessScript = `
		local state = tonumber(redis.call('GET', KEYS[1]) or '0')
		redis.call('SET', KEYS[2], 0)

		if state == 2 then
			local count = redis.call('INCR', KEYS[3])
			if count >= tonumber(ARGV[1]) then
				redis.call('SET', KEYS[1], 0)
				redis.call('SET', KEYS[3], 0)
				redis.call('SET', KEYS[4], ARGV[2])
				return 2
			end
			return 1
		end
		return 0
	`

	// KEYS: state, failure_count, last_failure_time, last_state_change, success_count
	// ARGV: failure threshold, now (unix seconds)
	recordFailureScript = `
		local state = tonumber(redis.call('GET', KEYS[1]) or '0')
		local failureCount = redis.call('INCR', KEYS[2])
		redis.call('SET', KEYS[3], ARGV[2])

		if (state == 0 and failureCount >= tonumber(ARGV[1])) or state == 2 then
			redis.call('SET', KEYS[1], 1)
			redis.call('SET', KEYS[4], ARGV[2])
			redis.call('SET', KEYS[5], '0')
			return 1
		end
		return 0
	`
)

// RedisBreaker shares breaker state between every replica using one Redis.
type RedisBreaker struct {
	client *redis.Client
	name   string
	config Config
	prefix string
	now    func() time.Time
}

type keyBuilder struct {
	prefix string
}

func (kb keyBuilder) state() string        { return kb.prefix + stateKey }
func (kb keyBuilder) failureCount() string { return kb.prefix + failureCountKey }
func (kb keyBuilder) successCount() string { return kb.prefix + successCountKey }
func (kb keyBuilder) lastFailure() string  { return kb.prefix + lastFailureTimeKey }
func (kb keyBuilder) lastChange() string   { return kb.prefix + lastStateChangeKey }

// NewRedisPool returns a pool of breakers stored under namespace.
func NewRedisPool(client *redis.Client, namespace string, cfg Config) *Pool {
	return NewPool(func(name string) Breaker {
		return NewRedis(client, namespace+keyPrefix+name+":", name, cfg)
	})
}

func NewRedis(client *redis.Client, prefix, name string, cfg Config) *RedisBreaker {
	return &RedisBreaker{
		client: client,
		name:   name,
		config: cfg,
		prefix: prefix,
		now:    time.Now,
	}
}

func (cb *RedisBreaker) keys() keyBuilder {
	return keyBuilder{prefix: cb.prefix}
}

func (cb *RedisBreaker) Allow(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	state, err := cb.getState(ctx, cb.client)
	if err != nil {
		fiberlog.Errorf("CircuitBreaker: Failed to get state, allowing execution: %v", err)
		return true
	}

	switch state {
	case Open:
		lastFailure, err := cb.client.Get(ctx, cb.keys().lastFailure()).Int64()
		if err != nil {
			fiberlog.Errorf("CircuitBreaker: Failed to get last failure time: %v", err)
			return false
		}
		if cb.now().Sub(time.Unix(lastFailure, 0)) > cb.config.Timeout {
			return cb.transitionToState(ctx, HalfOpen)
		}
		return false
	default:
		return true
	}
}

func (cb *RedisBreaker) RecordSuccess(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	kb := cb.keys()
	keys := []string{kb.state(), kb.failureCount(), kb.successCount(), kb.lastChange()}

	result, err := cb.client.Eval(ctx, recordSuccessScript, keys, cb.config.SuccessThreshold, cb.now().Unix()).Int()
	if err != nil {
		fiberlog.Errorf("CircuitBreaker: Failed to record success: %v", err)
		return
	}

	switch result {
	case 2:
		fiberlog.Infof("CircuitBreaker: %s transitioned to Closed state after success", cb.name)
	case 1:
		fiberlog.Infof("CircuitBreaker: %s recorded success in HalfOpen state", cb.name)
	}
}

func (cb *RedisBreaker) RecordFailure(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	kb := cb.keys()
	keys := []string{kb.state(), kb.failureCount(), kb.lastFailure(), kb.lastChange(), kb.successCount()}

	result, err := cb.client.Eval(ctx, recordFailureScript, keys, cb.config.FailureThreshold, cb.now().Unix()).Int()
	if err != nil {
		fiberlog.Errorf("CircuitBreaker: Failed to record failure: %v", err)
		return
	}

	if result == 1 {
		fiberlog.Warnf("CircuitBreaker: %s transitioned to Open state after failure", cb.name)
	} else {
		fiberlog.Debugf("CircuitBreaker: %s recorded failure", cb.name)
	}
}

func (cb *RedisBreaker) State(ctx context.Context) State {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	state, err := cb.getState(ctx, cb.client)
	if err != nil {
		fiberlog.Errorf("CircuitBreaker: Failed to get state, returning Closed: %v", err)
		return Closed
	}
	return state
}

// Reset closes the breaker and clears its counters.
func (cb *RedisBreaker) Reset(ctx context.Context) error {
	kb := cb.keys()
	pipe := cb.client.Pipeline()
	pipe.Set(ctx, kb.state(), int(Closed), 0)
	pipe.Set(ctx, kb.failureCount(), 0, 0)
	pipe.Set(ctx, kb.successCount(), 0, 0)
	pipe.Set(ctx, kb.lastChange(), cb.now().Unix(), 0)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to reset circuit breaker %s: %w", cb.name, err)
	}
	return nil
}

// getState treats a missing key as Closed.
func (cb *RedisBreaker) getState(ctx context.Context, c redis.Cmdable) (State, error) {
	stateStr, err := c.Get(ctx, cb.keys().state()).Result()
	if errors.Is(err, redis.Nil) {
		return Closed, nil
	}
	if err != nil {
		return Closed, fmt.Errorf("failed to get circuit breaker state: %w", err)
	}

	stateInt, err := strconv.Atoi(stateStr)
	if err != nil {
		return Closed, fmt.Errorf("invalid state value '%s': %w", stateStr, err)
	}
	return State(stateInt), nil
}

// transitionToState reports whether this caller moved the breaker. Only one
// of several racing replicas wins the move to HalfOpen.
func (cb *RedisBreaker) transitionToState(ctx context.Context, newState State) bool {
	kb := cb.keys()

	for attempt := range maxRetries {
		moved := false
		err := cb.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := cb.getState(ctx, tx)
			if err != nil {
				return err
			}
			if current == newState {
				return nil
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, kb.state(), int(newState), 0)
				pipe.Set(ctx, kb.lastChange(), cb.now().Unix(), 0)
				if newState != HalfOpen {
					pipe.Set(ctx, kb.successCount(), 0, 0)
				}
				return nil
			})
			moved = err == nil
			return err
		}, kb.state())

		if err == nil {
			if moved {
				fiberlog.Debugf("CircuitBreaker: %s transitioned to %s", cb.name, newState)
			}
			return moved
		}
		if !errors.Is(err, redis.TxFailedErr) {
			fiberlog.Errorf("CircuitBreaker: %s state transition failed: %v", cb.name, err)
			return false
		}

		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}

	fiberlog.Errorf("CircuitBreaker: %s state transition failed after %d attempts", cb.name, maxRetries)
	return false
}
