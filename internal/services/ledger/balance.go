package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/Egham-7/token-gate/internal/models"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// Split records how many tokens of a charge came out of each bucket.
type Split struct {
	Daily     int64 `json:"daily"`
	Purchased int64 `json:"purchased"`
}

func (s Split) Total() int64 {
	return s.Daily + s.Purchased
}

// Surplus returns the part of s to hand back when only actual tokens were
// owed. Purchased tokens were taken last, so they are returned first.
func (s Split) Surplus(actual int64) Split {
	extra := s.Total() - actual
	if extra <= 0 {
		return Split{}
	}
	purchased := min(extra, s.Purchased)
	return Split{Daily: extra - purchased, Purchased: purchased}
}

type ConsumeResult struct {
	Success        bool            `json:"success"`
	RemainingTotal int64           `json:"remaining_total"`
	Split          Split           `json:"split"`
	Account        *models.Account `json:"-"`
}

// ResetDailyIfNeeded refills the daily bucket when the last reset happened on
// another calendar day in the ledger's timezone. A second call on the same
// day is a no-op returning false.
func (s *Service) ResetDailyIfNeeded(ctx context.Context, id string) (bool, error) {
	var reset bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p := s.period()
		account, err := s.load(tx, id)
		if err != nil {
			return err
		}
		if account.IsLegacy() {
			if !s.lazyMigration {
				return ErrLegacyAccount
			}
			reset, err = s.migrate(tx, account, p)
			return err
		}
		reset, err = s.resetDaily(tx, id, p)
		return err
	})
	return reset, err
}

// The reset guard also fires for a stored reset in the future, which only
// happens after the clock moved backwards.
func (s *Service) resetDaily(tx *gorm.DB, id string, p period) (bool, error) {
	args := make([]any, 0, 2*len(s.allowanceArgs)+7)
	args = append(args, s.allowanceArgs...)
	args = append(args, s.allowanceArgs...)
	args = append(args, p.now, p.now, id, models.AccountKindMetered, p.dayStart, p.dayEnd)

	res := tx.Exec(`UPDATE accounts SET
		balance_total = balance_purchased + `+s.allowanceSQL+`,
		balance_daily = `+s.allowanceSQL+`,
		balance_last_daily_reset = ?,
		updated_at = ?
		WHERE id = ? AND kind = ?
		AND (balance_last_daily_reset IS NULL OR balance_last_daily_reset < ? OR balance_last_daily_reset >= ?)`,
		args...)
	if res.Error != nil {
		return false, fmt.Errorf("failed to reset daily tokens for %s: %w", id, res.Error)
	}
	if res.RowsAffected == 1 {
		fiberlog.Debugf("Ledger: daily tokens reset for %s (%s)", id, p.day)
		return true, nil
	}
	return false, nil
}

// HasSufficientTokens is a dry run: it applies any pending daily reset and
// compares the total without consuming.
func (s *Service) HasSufficientTokens(ctx context.Context, id string, amount int64) (bool, int64, error) {
	if amount < 0 {
		return false, 0, ErrInvalidAmount
	}

	var remaining int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p := s.period()
		if _, err := s.loadMetered(tx, id, p); err != nil {
			return err
		}
		if _, err := s.resetDaily(tx, id, p); err != nil {
			return err
		}
		account, err := s.load(tx, id)
		if err != nil {
			return err
		}
		remaining = account.Balance.Total
		return nil
	})
	if err != nil {
		return false, 0, err
	}
	return remaining >= amount, remaining, nil
}

// Consume atomically takes amount tokens, daily bucket first and the rest from
// purchased. On insufficient funds the balance is untouched and the returned
// error is an *InsufficientTokensError.
func (s *Service) Consume(ctx context.Context, id string, amount int64, opts ...TxOption) (ConsumeResult, error) {
	if amount < 0 {
		return ConsumeResult{}, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}

	var (
		result       ConsumeResult
		insufficient bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p := s.period()
		if _, err := s.loadMetered(tx, id, p); err != nil {
			return err
		}
		if _, err := s.resetDaily(tx, id, p); err != nil {
			return err
		}
		before, err := s.lock(tx, id)
		if err != nil {
			return err
		}

		if amount > 0 {
			res := tx.Exec(`UPDATE accounts SET
				balance_purchased = CASE WHEN balance_daily >= ? THEN balance_purchased ELSE balance_purchased - (? - balance_daily) END,
				balance_daily = CASE WHEN balance_daily >= ? THEN balance_daily - ? ELSE 0 END,
				balance_total = balance_total - ?,
				usage_daily_tokens_used = CASE WHEN usage_daily_date = ? THEN usage_daily_tokens_used + ? ELSE ? END,
				usage_daily_requests = CASE WHEN usage_daily_date = ? THEN usage_daily_requests + 1 ELSE 1 END,
				usage_daily_amount_spent = CASE WHEN usage_daily_date = ? THEN usage_daily_amount_spent ELSE 0 END,
				usage_daily_date = ?,
				usage_monthly_tokens_used = CASE WHEN usage_monthly_month = ? THEN usage_monthly_tokens_used + ? ELSE ? END,
				usage_monthly_requests = CASE WHEN usage_monthly_month = ? THEN usage_monthly_requests + 1 ELSE 1 END,
				usage_monthly_amount_spent = CASE WHEN usage_monthly_month = ? THEN usage_monthly_amount_spent ELSE 0 END,
				usage_monthly_month = ?,
				usage_lifetime_tokens_used = usage_lifetime_tokens_used + ?,
				usage_lifetime_requests = usage_lifetime_requests + 1,
				updated_at = ?
				WHERE id = ? AND kind = ? AND balance_total >= ?`,
				amount, amount,
				amount, amount,
				amount,
				p.day, amount, amount,
				p.day,
				p.day,
				p.day,
				p.month, amount, amount,
				p.month,
				p.month,
				p.month,
				amount,
				p.now,
				id, models.AccountKindMetered, amount,
			)
			if res.Error != nil {
				return fmt.Errorf("failed to consume tokens for %s: %w", id, res.Error)
			}
			insufficient = res.RowsAffected == 0
		}

		account, err := s.load(tx, id)
		if err != nil {
			return err
		}
		result = ConsumeResult{
			Success:        !insufficient,
			RemainingTotal: account.Balance.Total,
			Account:        account,
		}

		if insufficient || amount == 0 {
			return nil
		}
		daily := min(before.Balance.Daily, amount)
		result.Split = Split{Daily: daily, Purchased: amount - daily}

		entry := s.transaction(id, models.TokenTransactionUsage, -amount, account.Balance.Total, 0, opts)
		md := make(models.Metadata, len(entry.Metadata)+2)
		for k, v := range entry.Metadata {
			md[k] = v
		}
		md["daily_part"] = result.Split.Daily
		md["purchased_part"] = result.Split.Purchased
		entry.Metadata = md
		return tx.Create(entry).Error
	})
	if err != nil {
		return ConsumeResult{}, err
	}

	if insufficient {
		fiberlog.Debugf("Ledger: insufficient tokens for %s: required %d, remaining %d", id, amount, result.RemainingTotal)
		return result, &InsufficientTokensError{
			AccountID: id,
			Required:  amount,
			Remaining: result.RemainingTotal,
		}
	}

	if amount > 0 {
		s.metrics.RecordTokensConsumed(ctx, result.Account.Tier, amount)
	}
	return result, nil
}

// AddTokens credits purchased tokens and records the spend. The daily bucket
// is not touched.
func (s *Service) AddTokens(ctx context.Context, id string, amount int64, amountPaid float64, opts ...TxOption) (*models.Account, error) {
	if amount <= 0 || amountPaid < 0 {
		return nil, fmt.Errorf("%w: amount=%d paid=%.2f", ErrInvalidAmount, amount, amountPaid)
	}

	entry := s.transaction(id, models.TokenTransactionPurchase, amount, 0, amountPaid, opts)

	var account *models.Account
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p := s.period()
		if _, err := s.loadMetered(tx, id, p); err != nil {
			return err
		}

		if entry.StripeSessionID != "" {
			var count int64
			if err := tx.Model(&models.TokenTransaction{}).
				Where("stripe_session_id = ?", entry.StripeSessionID).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return ErrAlreadyApplied
			}
		}

		res := tx.Exec(`UPDATE accounts SET
			balance_purchased = balance_purchased + ?,
			balance_total = balance_total + ?,
			usage_monthly_tokens_used = CASE WHEN usage_monthly_month = ? THEN usage_monthly_tokens_used ELSE 0 END,
			usage_monthly_requests = CASE WHEN usage_monthly_month = ? THEN usage_monthly_requests ELSE 0 END,
			usage_monthly_amount_spent = CASE WHEN usage_monthly_month = ? THEN usage_monthly_amount_spent + ? ELSE ? END,
			usage_monthly_month = ?,
			usage_lifetime_amount_spent = usage_lifetime_amount_spent + ?,
			updated_at = ?
			WHERE id = ? AND kind = ?`,
			amount, amount,
			p.month,
			p.month,
			p.month, amountPaid, amountPaid,
			p.month,
			amountPaid,
			p.now,
			id, models.AccountKindMetered,
		)
		if res.Error != nil {
			return fmt.Errorf("failed to add tokens for %s: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrAccountNotFound
		}

		var err error
		account, err = s.load(tx, id)
		if err != nil {
			return err
		}
		entry.BalanceAfter = account.Balance.Total
		return tx.Create(entry).Error
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordTokensPurchased(ctx, amount)
	fiberlog.Infof("Ledger: added %d tokens to %s (paid %.2f)", amount, id, amountPaid)
	return account, nil
}

// Refund returns tokens whose origin is unknown. They refill the daily bucket
// up to the tier allowance and the rest is credited as purchased, so nothing
// refunded is lost to the next daily reset.
func (s *Service) Refund(ctx context.Context, id string, amount int64, reason string) (*models.Account, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	return s.refund(ctx, id, reason, func(account *models.Account) Split {
		room := max(s.tiers.DailyAllowance(account.Tier)-account.Balance.Daily, 0)
		daily := min(amount, room)
		return Split{Daily: daily, Purchased: amount - daily}
	})
}

// RefundCharge undoes a charge returned by Consume. The purchased share goes
// back to purchased and the daily share to daily, capped at the allowance: a
// daily share that no longer fits was already replaced by a reset.
func (s *Service) RefundCharge(ctx context.Context, id string, charge Split, reason string) (*models.Account, error) {
	if charge.Daily < 0 || charge.Purchased < 0 || charge.Total() == 0 {
		return nil, fmt.Errorf("%w: daily=%d purchased=%d", ErrInvalidAmount, charge.Daily, charge.Purchased)
	}
	return s.refund(ctx, id, reason, func(*models.Account) Split { return charge })
}

// refund backs the charge out of the usage counters, clamped at zero.
// Counters for a period that already rolled over are left alone.
func (s *Service) refund(ctx context.Context, id, reason string, split func(*models.Account) Split) (*models.Account, error) {
	var (
		account  *models.Account
		credited int64
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p := s.period()
		if _, err := s.loadMetered(tx, id, p); err != nil {
			return err
		}
		if _, err := s.resetDaily(tx, id, p); err != nil {
			return err
		}
		before, err := s.lock(tx, id)
		if err != nil {
			return err
		}
		charge := split(before)
		amount := charge.Total()

		capped, cappedArgs := s.cappedDaily(charge.Daily)
		args := make([]any, 0, 2*len(cappedArgs)+14)
		args = append(args, cappedArgs...)
		args = append(args, charge.Purchased, charge.Purchased)
		args = append(args, cappedArgs...)
		args = append(args,
			p.day, amount, amount,
			p.month, amount, amount,
			amount, amount,
			p.now,
			id, models.AccountKindMetered,
		)

		// balance_total comes first: MySQL evaluates SET left to right.
		res := tx.Exec(`UPDATE accounts SET
			balance_total = `+capped+` + balance_purchased + ?,
			balance_purchased = balance_purchased + ?,
			balance_daily = `+capped+`,
			usage_daily_tokens_used = CASE WHEN usage_daily_date = ? THEN
				CASE WHEN usage_daily_tokens_used > ? THEN usage_daily_tokens_used - ? ELSE 0 END
				ELSE usage_daily_tokens_used END,
			usage_monthly_tokens_used = CASE WHEN usage_monthly_month = ? THEN
				CASE WHEN usage_monthly_tokens_used > ? THEN usage_monthly_tokens_used - ? ELSE 0 END
				ELSE usage_monthly_tokens_used END,
			usage_lifetime_tokens_used = CASE WHEN usage_lifetime_tokens_used > ? THEN usage_lifetime_tokens_used - ? ELSE 0 END,
			updated_at = ?
			WHERE id = ? AND kind = ?`,
			args...)
		if res.Error != nil {
			return fmt.Errorf("failed to refund tokens for %s: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrAccountNotFound
		}

		account, err = s.load(tx, id)
		if err != nil {
			return err
		}
		credited = account.Balance.Total - before.Balance.Total
		return tx.Create(s.transaction(id, models.TokenTransactionRefund, credited, account.Balance.Total, 0,
			[]TxOption{WithDescription(reason), WithMetadata(models.Metadata{
				"daily_part":     charge.Daily,
				"purchased_part": charge.Purchased,
			})})).Error
	})
	if err != nil {
		return nil, err
	}

	if credited > 0 {
		s.metrics.RecordTokensRefunded(ctx, credited)
	}
	return account, nil
}

// cappedDaily renders balance_daily plus n without passing the row's
// allowance. A bucket already above the allowance is left as is.
func (s *Service) cappedDaily(n int64) (string, []any) {
	args := make([]any, 0, 3*len(s.allowanceArgs)+2)
	args = append(args, n)
	args = append(args, s.allowanceArgs...)
	args = append(args, n)
	args = append(args, s.allowanceArgs...)
	args = append(args, s.allowanceArgs...)
	return `(CASE WHEN balance_daily + ? <= ` + s.allowanceSQL + ` THEN balance_daily + ?
		WHEN balance_daily >= ` + s.allowanceSQL + ` THEN balance_daily
		ELSE ` + s.allowanceSQL + ` END)`, args
}

// Reconcile settles an estimated charge against the actual cost: the overrun
// is consumed, the surplus handed back through RefundCharge.
func (s *Service) Reconcile(ctx context.Context, id string, charged Split, actual int64) (int64, error) {
	if charged.Daily < 0 || charged.Purchased < 0 || actual < 0 {
		return 0, fmt.Errorf("%w: estimated=%d actual=%d", ErrInvalidAmount, charged.Total(), actual)
	}

	delta := actual - charged.Total()
	switch {
	case delta > 0:
		if _, err := s.Consume(ctx, id, delta, WithDescription("reconciliation overrun")); err != nil {
			return 0, err
		}
	case delta < 0:
		if _, err := s.RefundCharge(ctx, id, charged.Surplus(actual), "reconciliation surplus"); err != nil {
			return 0, err
		}
	}
	return delta, nil
}

// UpgradeTier rewrites the tier and its limits and grants the new daily
// allowance immediately. Credential tier snapshots follow the account.
func (s *Service) UpgradeTier(ctx context.Context, id string, tier models.Tier) (*models.Account, error) {
	limits, err := s.tiers.Limits(tier)
	if err != nil {
		return nil, err
	}

	var account *models.Account
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p := s.period()
		before, err := s.loadMetered(tx, id, p)
		if err != nil {
			return err
		}

		res := tx.Exec(`UPDATE accounts SET
			tier = ?,
			limits = ?,
			tier_status = ?,
			tier_start_date = ?,
			balance_daily = ?,
			balance_total = balance_purchased + ?,
			balance_last_daily_reset = ?,
			updated_at = ?
			WHERE id = ? AND kind = ?`,
			tier, limits, models.TierStatusActive, p.now,
			limits.DailyFreeTokens, limits.DailyFreeTokens,
			p.now, p.now,
			id, models.AccountKindMetered,
		)
		if res.Error != nil {
			return fmt.Errorf("failed to upgrade tier for %s: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrAccountNotFound
		}

		if err := tx.Model(&models.APIKey{}).
			Where("owner_id = ?", id).
			Update("tier", tier).Error; err != nil {
			return fmt.Errorf("failed to update credential tiers for %s: %w", id, err)
		}

		account, err = s.load(tx, id)
		if err != nil {
			return err
		}
		return tx.Create(s.transaction(id, models.TokenTransactionGrant,
			account.Balance.Daily-before.Balance.Daily, account.Balance.Total, 0,
			[]TxOption{WithDescription(fmt.Sprintf("tier change %s -> %s", before.Tier, tier))})).Error
	})
	if err != nil {
		return nil, err
	}

	fiberlog.Infof("Ledger: account %s moved to %s tier", id, tier)
	return account, nil
}

// IsInsufficient unwraps an *InsufficientTokensError from err.
func IsInsufficient(err error) (*InsufficientTokensError, bool) {
	var ite *InsufficientTokensError
	if errors.As(err, &ite) {
		return ite, true
	}
	return nil, false
}
