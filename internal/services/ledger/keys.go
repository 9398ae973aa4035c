package ledger

import (
	"context"
	"fmt"

	"github.com/Egham-7/token-gate/internal/models"
)

type KeyAllowance struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Current int64  `json:"current"`
	Max     int    `json:"max"`
}

// CanCreateAPIKey compares the account's active credentials with its tier
// limit. Limits are re-derived from the tier, not read from the cached copy.
func (s *Service) CanCreateAPIKey(ctx context.Context, id string) (KeyAllowance, error) {
	account, err := s.GetAccount(ctx, id)
	if err != nil {
		return KeyAllowance{}, err
	}

	limits, err := s.tiers.Limits(account.Tier)
	if err != nil {
		return KeyAllowance{}, err
	}

	var current int64
	if err := s.db.WithContext(ctx).Model(&models.APIKey{}).
		Where("owner_id = ? AND is_active = ?", id, true).
		Count(&current).Error; err != nil {
		return KeyAllowance{}, fmt.Errorf("failed to count api keys for %s: %w", id, err)
	}

	allowance := KeyAllowance{
		Allowed: true,
		Current: current,
		Max:     limits.MaxAPIKeys,
	}
	if !limits.UnlimitedKeys() && current >= int64(limits.MaxAPIKeys) {
		allowance.Allowed = false
		allowance.Reason = fmt.Sprintf("%s tier allows at most %d active API keys", account.Tier, limits.MaxAPIKeys)
	}
	return allowance, nil
}
