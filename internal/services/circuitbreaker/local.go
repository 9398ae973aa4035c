package circuitbreaker

import (
	"context"
	"sync"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

// Local is a breaker whose state lives in this process only.
type Local struct {
	mu          sync.Mutex
	name        string
	config      Config
	state       State
	failures    int
	successes   int
	lastFailure time.Time
	now         func() time.Time
}

func NewLocal(name string, cfg Config) *Local {
	return &Local{name: name, config: cfg, now: time.Now}
}

func (b *Local) WithClock(now func() time.Time) *Local {
	b.now = now
	return b
}

func (b *Local) Allow(context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if b.now().Sub(b.lastFailure) > b.config.Timeout {
			b.state = HalfOpen
			b.successes = 0
			fiberlog.Debugf("CircuitBreaker: %s transitioned to HalfOpen", b.name)
			return true
		}
		return false
	default:
		return true
	}
}

func (b *Local) RecordSuccess(context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state != HalfOpen {
		return
	}
	b.successes++
	if b.successes >= b.config.SuccessThreshold {
		b.state = Closed
		b.successes = 0
		fiberlog.Infof("CircuitBreaker: %s transitioned to Closed state after success", b.name)
	}
}

func (b *Local) RecordFailure(context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.now()
	if b.state == HalfOpen || (b.state == Closed && b.failures >= b.config.FailureThreshold) {
		b.state = Open
		b.successes = 0
		fiberlog.Warnf("CircuitBreaker: %s transitioned to Open state after failure", b.name)
	}
}

func (b *Local) State(context.Context) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
