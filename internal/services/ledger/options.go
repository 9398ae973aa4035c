package ledger

import (
	"time"

	"github.com/Egham-7/token-gate/internal/models"
	"github.com/Egham-7/token-gate/internal/services/metrics"
)

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocation sets the timezone that decides when a calendar day rolls over.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithTierTable(tiers models.TierTable) Option {
	return func(s *Service) { s.tiers = tiers }
}

// WithLazyMigration controls whether reads migrate legacy accounts in place.
// When disabled, legacy accounts surface as ErrLegacyAccount until the
// migration job reaches them.
func WithLazyMigration(enabled bool) Option {
	return func(s *Service) { s.lazyMigration = enabled }
}

func WithDefaultTier(tier models.Tier) Option {
	return func(s *Service) { s.defaultTier = tier }
}

func WithMetrics(r *metrics.Recorder) Option {
	return func(s *Service) { s.metrics = r }
}

// TxOption annotates the audit row written alongside a balance mutation.
type TxOption func(*models.TokenTransaction)

func WithDescription(description string) TxOption {
	return func(t *models.TokenTransaction) { t.Description = description }
}

func WithAPIKey(id uint) TxOption {
	return func(t *models.TokenTransaction) { t.APIKeyID = id }
}

// WithStripeSession makes AddTokens idempotent per checkout session.
func WithStripeSession(sessionID string) TxOption {
	return func(t *models.TokenTransaction) { t.StripeSessionID = sessionID }
}

func WithMetadata(md models.Metadata) TxOption {
	return func(t *models.TokenTransaction) { t.Metadata = md }
}
