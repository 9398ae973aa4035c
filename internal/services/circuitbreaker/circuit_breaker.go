// Package circuitbreaker stops the gate from charging for operations whose
// backends keep failing.
package circuitbreaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Egham-7/token-gate/internal/models"
)

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "Closed"
	case Open:
		return "Open"
	case HalfOpen:
		return "HalfOpen"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

type Config struct {
	FailureThreshold int
	SuccessThreshold int
	// Timeout is how long an open breaker rejects before letting a probe through.
	Timeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 3,
		Timeout:          30 * time.Second,
	}
}

// ConfigFrom fills unset fields of the YAML settings with defaults.
func ConfigFrom(c models.CircuitBreakerConfig) Config {
	cfg := DefaultConfig()
	if c.FailureThreshold > 0 {
		cfg.FailureThreshold = c.FailureThreshold
	}
	if c.SuccessThreshold > 0 {
		cfg.SuccessThreshold = c.SuccessThreshold
	}
	if c.TimeoutMs > 0 {
		cfg.Timeout = time.Duration(c.TimeoutMs) * time.Millisecond
	}
	return cfg
}

// Breaker guards one operation. Implementations fail open when their own
// state store is unreachable.
type Breaker interface {
	Allow(ctx context.Context) bool
	RecordSuccess(ctx context.Context)
	RecordFailure(ctx context.Context)
	State(ctx context.Context) State
}

// Pool hands out one breaker per operation name.
type Pool struct {
	mu       sync.Mutex
	breakers map[string]Breaker
	factory  func(name string) Breaker
}

func NewPool(factory func(name string) Breaker) *Pool {
	return &Pool{
		breakers: make(map[string]Breaker),
		factory:  factory,
	}
}

// NewLocalPool keeps breaker state in process.
func NewLocalPool(cfg Config) *Pool {
	return NewPool(func(name string) Breaker {
		return NewLocal(name, cfg)
	})
}

func (p *Pool) Get(name string) Breaker {
	p.mu.Lock()
	defer p.mu.Unlock()

	b, ok := p.breakers[name]
	if !ok {
		b = p.factory(name)
		p.breakers[name] = b
	}
	return b
}
