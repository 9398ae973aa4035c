package gate

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Egham-7/token-gate/internal/models"
)

// ChargePolicy decides when an operation's tokens leave the balance.
type ChargePolicy int

const (
	// ChargeUpfront consumes the estimate before running and reconciles after.
	ChargeUpfront ChargePolicy = iota
	// ChargeOnSuccess checks the estimate, runs, then consumes the actual cost.
	ChargeOnSuccess
)

func (p ChargePolicy) String() string {
	switch p {
	case ChargeUpfront:
		return "upfront"
	case ChargeOnSuccess:
		return "on_success"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// UseEstimate as Outcome.Tokens charges exactly the estimated cost.
const UseEstimate int64 = -1

// Outcome is what a metered operation produced and what it actually cost.
type Outcome struct {
	Value  any
	Tokens int64
}

type RunFunc func(ctx context.Context, params map[string]any) (*Outcome, error)

// Operation describes one metered unit of work.
type Operation struct {
	Name          string
	EstimatedCost int64
	Policy        ChargePolicy
	// Feature gates the operation on the caller's tier. Empty means any tier.
	Feature   string
	RateLimit models.RateLimitRule
	// CacheTTL > 0 memoizes results by parameters.
	CacheTTL time.Duration
	Run      RunFunc
}

func (o *Operation) validate() error {
	switch {
	case o.Name == "":
		return errors.New("operation name is required")
	case o.Run == nil:
		return fmt.Errorf("operation %s has no run function", o.Name)
	case o.EstimatedCost < 0:
		return fmt.Errorf("operation %s has negative estimated cost", o.Name)
	case o.Policy != ChargeUpfront && o.Policy != ChargeOnSuccess:
		return fmt.Errorf("operation %s has unknown charge policy %s", o.Name, o.Policy)
	}
	return nil
}

type Registry struct {
	mu  sync.RWMutex
	ops map[string]*Operation
}

func NewRegistry() *Registry {
	return &Registry{ops: make(map[string]*Operation)}
}

func (r *Registry) Register(op *Operation) error {
	if op == nil {
		return errors.New("operation is nil")
	}
	if err := op.validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.ops[op.Name]; exists {
		return fmt.Errorf("operation %s already registered", op.Name)
	}
	r.ops[op.Name] = op
	return nil
}

func (r *Registry) Lookup(name string) (*Operation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	op, ok := r.ops[name]
	return op, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ops))
	for name := range r.ops {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
