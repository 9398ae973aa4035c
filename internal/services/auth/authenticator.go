package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Egham-7/token-gate/internal/models"
	"github.com/Egham-7/token-gate/internal/services/apikey"
	"github.com/Egham-7/token-gate/internal/services/ledger"
	"github.com/Egham-7/token-gate/internal/services/metrics"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

// ErrUnauthorized is the single failure callers see for a missing, malformed,
// unknown, inactive or expired credential, and for a missing account.
var ErrUnauthorized = errors.New("unauthorized")

// Result is the validated, metered context for one request.
type Result struct {
	Account *models.Account
	APIKey  *models.APIKey
	Usage   models.UsageSnapshot
	Charged int64
}

type Authenticator struct {
	keys    *apikey.Service
	ledger  *ledger.Service
	metrics *metrics.Recorder
	now     func() time.Time
}

type Option func(*Authenticator)

func WithMetrics(r *metrics.Recorder) Option {
	return func(a *Authenticator) { a.metrics = r }
}

func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) { a.now = now }
}

func NewAuthenticator(keys *apikey.Service, ledgerSvc *ledger.Service, opts ...Option) *Authenticator {
	a := &Authenticator{
		keys:   keys,
		ledger: ledgerSvc,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Validate resolves credential to its account. With estimatedCost > 0 the cost
// is charged in the same atomic step that checks the balance.
//
// Errors: ErrUnauthorized for every authentication failure,
// *ledger.InsufficientTokensError when the balance is short, and a wrapped
// backend error otherwise. Backend errors never grant access.
func (a *Authenticator) Validate(ctx context.Context, credential string, estimatedCost int64) (*Result, error) {
	result, err := a.validate(ctx, credential, estimatedCost)
	a.metrics.RecordAuth(ctx, outcome(err))
	return result, err
}

func (a *Authenticator) validate(ctx context.Context, credential string, estimatedCost int64) (*Result, error) {
	if estimatedCost < 0 {
		return nil, fmt.Errorf("%w: estimated cost %d", ledger.ErrInvalidAmount, estimatedCost)
	}
	if credential == "" || !models.ValidAPIKeyFormat(credential) {
		fiberlog.Debug("Authenticator: missing or malformed credential")
		return nil, ErrUnauthorized
	}

	preview := models.PreviewAPIKey(credential)

	key, err := a.keys.GetByHash(ctx, models.HashAPIKey(credential))
	if err != nil {
		if errors.Is(err, apikey.ErrAPIKeyNotFound) {
			fiberlog.Debugf("Authenticator: unknown key %s", preview)
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("credential lookup failed: %w", err)
	}
	if !key.IsActive {
		fiberlog.Debugf("Authenticator: inactive key %s", preview)
		return nil, ErrUnauthorized
	}
	if key.Expired(a.now()) {
		fiberlog.Debugf("Authenticator: expired key %s", preview)
		return nil, ErrUnauthorized
	}

	// One transaction loads the account, applies the daily reset, and checks
	// and charges the cost. A zero cost only reads.
	consumed, err := a.ledger.Consume(ctx, key.OwnerID, estimatedCost, ledger.WithAPIKey(key.ID))
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrAccountNotFound), errors.Is(err, ledger.ErrLegacyAccount):
			fiberlog.Debugf("Authenticator: key %s has no usable account: %v", preview, err)
			return nil, ErrUnauthorized
		case errors.Is(err, ledger.ErrInsufficientTokens):
			fiberlog.Debugf("Authenticator: key %s short of tokens: %v", preview, err)
			return nil, err
		}
		return nil, fmt.Errorf("token consumption failed: %w", err)
	}

	if err := a.keys.Touch(ctx, key.ID); err != nil {
		fiberlog.Warnf("Authenticator: failed to stamp last use of %s: %v", preview, err)
	}

	return &Result{
		Account: consumed.Account,
		APIKey:  key,
		Usage:   a.ledger.Snapshot(consumed.Account),
		Charged: estimatedCost,
	}, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.AuthSuccess
	case errors.Is(err, ErrUnauthorized):
		return metrics.AuthUnauthorized
	case errors.Is(err, ledger.ErrInsufficientTokens):
		return metrics.AuthInsufficientTokens
	default:
		return metrics.AuthError
	}
}
