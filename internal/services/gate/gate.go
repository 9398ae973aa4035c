package gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Egham-7/token-gate/internal/models"
	"github.com/Egham-7/token-gate/internal/services/auth"
	"github.com/Egham-7/token-gate/internal/services/cache"
	"github.com/Egham-7/token-gate/internal/services/circuitbreaker"
	"github.com/Egham-7/token-gate/internal/services/ledger"
	"github.com/Egham-7/token-gate/internal/services/metrics"
	"github.com/Egham-7/token-gate/internal/services/ratelimit"
	"github.com/Egham-7/token-gate/internal/services/usage"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

// Request is one caller invocation of a metered operation.
type Request struct {
	Credential string
	Params     map[string]any
	Endpoint   string
	RequestID  string
	// SkipCache forces a fresh run; the result is still written back.
	SkipCache bool
}

type Response struct {
	AccountID string
	// Value is the operation's own value, or the raw JSON of a cached one.
	Value     any
	Cached    bool
	Charged   int64
	Usage     models.UsageSnapshot
	RateLimit ratelimit.Result
}

type Gate struct {
	auth     *auth.Authenticator
	ledger   *ledger.Service
	limiter  *ratelimit.Limiter
	cache    *cache.Store
	breakers *circuitbreaker.Pool
	recorder usage.Recorder
	metrics  *metrics.Recorder
	now      func() time.Time
}

type Option func(*Gate)

// WithCache enables result memoization for operations with a CacheTTL.
func WithCache(store *cache.Store) Option {
	return func(g *Gate) { g.cache = store }
}

// WithLimiter enables per-operation rate limits.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(g *Gate) { g.limiter = l }
}

// WithBreakers rejects calls to operations that keep failing before they are charged.
func WithBreakers(p *circuitbreaker.Pool) Option {
	return func(g *Gate) { g.breakers = p }
}

func WithUsageRecorder(r usage.Recorder) Option {
	return func(g *Gate) { g.recorder = r }
}

func WithMetrics(r *metrics.Recorder) Option {
	return func(g *Gate) { g.metrics = r }
}

func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

func New(authenticator *auth.Authenticator, ledgerSvc *ledger.Service, opts ...Option) *Gate {
	g := &Gate{
		auth:   authenticator,
		ledger: ledgerSvc,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Execute authenticates, rate limits, serves from cache or charges and runs
// op, and records a usage event for every caller that authenticated.
func (g *Gate) Execute(ctx context.Context, req Request, op *Operation) (*Response, error) {
	start := g.now()
	resp, event, err := g.execute(ctx, req, op)
	g.metrics.RecordOperation(ctx, op.Name, g.now().Sub(start), err)

	if event != nil && g.recorder != nil {
		event.LatencyMs = g.now().Sub(start).Milliseconds()
		event.StatusCode = StatusOf(err)
		if err != nil {
			event.ErrorMessage = err.Error()
		}
		g.recorder.Submit(event)
	}
	return resp, err
}

func (g *Gate) execute(ctx context.Context, req Request, op *Operation) (*Response, *models.UsageEvent, error) {
	authResult, err := g.auth.Validate(ctx, req.Credential, 0)
	if err != nil {
		return nil, nil, err
	}

	account := authResult.Account
	event := &models.UsageEvent{
		AccountID: account.ID,
		APIKeyID:  authResult.APIKey.ID,
		Endpoint:  req.Endpoint,
		Operation: op.Name,
		RequestID: req.RequestID,
	}

	if op.Feature != "" && !account.Limits.HasFeature(op.Feature) {
		return nil, event, &FeatureError{Feature: op.Feature, Tier: account.Tier}
	}

	resp := &Response{AccountID: account.ID, Usage: authResult.Usage}

	if g.limiter != nil && op.RateLimit.Limit > 0 && op.RateLimit.WindowMs > 0 {
		resp.RateLimit = g.limiter.Allow(ctx, op.Name, account.ID, op.RateLimit.Limit, op.RateLimit.Window())
		if !resp.RateLimit.Allowed {
			return nil, event, &RateLimitedError{Operation: op.Name, Result: resp.RateLimit}
		}
	}

	var cacheKey string
	if g.cache != nil && op.CacheTTL > 0 {
		cacheKey, err = cache.Fingerprint(op.Name, req.Params)
		if err != nil {
			fiberlog.Warnf("[%s] Gate: cannot fingerprint %s params, skipping cache: %v", req.RequestID, op.Name, err)
			cacheKey = ""
		}
	}

	if cacheKey != "" && !req.SkipCache {
		var cached json.RawMessage
		if g.cache.Get(ctx, cacheKey, &cached) {
			resp.Value = cached
			resp.Cached = true
			event.CacheHit = true
			return resp, event, nil
		}
	}

	var breaker circuitbreaker.Breaker
	if g.breakers != nil {
		breaker = g.breakers.Get(op.Name)
		if !breaker.Allow(ctx) {
			return nil, event, fmt.Errorf("%w: %s", ErrUnavailable, op.Name)
		}
	}

	charged, err := g.precharge(ctx, req, op, account.ID, authResult.APIKey.ID)
	if err != nil {
		return nil, event, err
	}

	outcome, err := op.Run(ctx, req.Params)
	if breaker != nil {
		if err != nil {
			breaker.RecordFailure(ctx)
		} else {
			breaker.RecordSuccess(ctx)
		}
	}
	if err != nil {
		if charged.Total() > 0 {
			if _, refundErr := g.ledger.RefundCharge(ctx, account.ID, charged, op.Name+" failed"); refundErr != nil {
				fiberlog.Errorf("[%s] Gate: failed to refund %d tokens to %s: %v", req.RequestID, charged.Total(), account.ID, refundErr)
			}
		}
		return nil, event, fmt.Errorf("operation %s failed: %w", op.Name, err)
	}
	if outcome == nil {
		outcome = &Outcome{Tokens: UseEstimate}
	}

	actual := outcome.Tokens
	if actual < 0 {
		actual = op.EstimatedCost
	}

	final, err := g.settle(ctx, req, op, account.ID, authResult.APIKey.ID, charged, actual)
	event.TokensCharged = final
	if err != nil {
		return nil, event, err
	}

	resp.Value = outcome.Value
	resp.Charged = final

	if cacheKey != "" {
		_ = g.cache.Set(ctx, cacheKey, outcome.Value, op.CacheTTL)
	}

	if final > 0 {
		if fresh, err := g.ledger.GetAccount(ctx, account.ID); err == nil {
			resp.Usage = g.ledger.Snapshot(fresh)
		} else {
			fiberlog.Warnf("[%s] Gate: failed to refresh usage for %s: %v", req.RequestID, account.ID, err)
		}
	}

	return resp, event, nil
}

// precharge returns what was taken before the run, split by bucket.
func (g *Gate) precharge(ctx context.Context, req Request, op *Operation, accountID string, keyID uint) (ledger.Split, error) {
	if op.EstimatedCost == 0 {
		return ledger.Split{}, nil
	}

	switch op.Policy {
	case ChargeOnSuccess:
		ok, remaining, err := g.ledger.HasSufficientTokens(ctx, accountID, op.EstimatedCost)
		if err != nil {
			return ledger.Split{}, err
		}
		if !ok {
			return ledger.Split{}, &ledger.InsufficientTokensError{AccountID: accountID, Required: op.EstimatedCost, Remaining: remaining}
		}
		return ledger.Split{}, nil
	default:
		res, err := g.ledger.Consume(ctx, accountID, op.EstimatedCost,
			ledger.WithAPIKey(keyID),
			ledger.WithDescription(op.Name),
			ledger.WithMetadata(models.Metadata{"request_id": req.RequestID}))
		if err != nil {
			return ledger.Split{}, err
		}
		return res.Split, nil
	}
}

// settle brings the charge to actual and returns the final amount.
func (g *Gate) settle(ctx context.Context, req Request, op *Operation, accountID string, keyID uint, charged ledger.Split, actual int64) (int64, error) {
	switch op.Policy {
	case ChargeOnSuccess:
		if actual == 0 {
			return 0, nil
		}
		if _, err := g.ledger.Consume(ctx, accountID, actual,
			ledger.WithAPIKey(keyID),
			ledger.WithDescription(op.Name),
			ledger.WithMetadata(models.Metadata{"request_id": req.RequestID})); err != nil {
			// The balance moved between check and charge; the result is withheld.
			return 0, err
		}
		return actual, nil
	default:
		if actual == charged.Total() {
			return actual, nil
		}
		if _, err := g.ledger.Reconcile(ctx, accountID, charged, actual); err != nil {
			fiberlog.Warnf("[%s] Gate: reconcile %s for %s (%d -> %d) failed: %v",
				req.RequestID, op.Name, accountID, charged.Total(), actual, err)
			return charged.Total(), nil
		}
		return actual, nil
	}
}

// StatusOf maps a gate error to the HTTP status it surfaces as.
func StatusOf(err error) int {
	var rateLimited *RateLimitedError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ledger.ErrInsufficientTokens):
		return http.StatusPaymentRequired
	case errors.As(err, &rateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrFeatureDisabled):
		return http.StatusForbidden
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
