package ledger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/Egham-7/token-gate/internal/models"
	"github.com/Egham-7/token-gate/internal/services/metrics"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Service is the only writer of account balances and usage counters. Every
// mutation is a single conditional UPDATE so concurrent requests for one
// account cannot overspend it.
type Service struct {
	db            *gorm.DB
	now           func() time.Time
	loc           *time.Location
	tiers         models.TierTable
	lazyMigration bool
	defaultTier   models.Tier
	metrics       *metrics.Recorder

	allowanceSQL  string
	allowanceArgs []any
}

func NewService(db *gorm.DB, opts ...Option) *Service {
	s := &Service{
		db:            db,
		now:           time.Now,
		loc:           time.UTC,
		tiers:         models.DefaultTierTable(),
		lazyMigration: true,
		defaultTier:   models.TierFree,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.allowanceSQL, s.allowanceArgs = allowanceCase(s.tiers)
	return s
}

// allowanceCase renders "CASE tier WHEN ? THEN ? ... ELSE 0 END" so the daily
// allowance is resolved from the row's own tier inside the UPDATE.
func allowanceCase(tiers models.TierTable) (string, []any) {
	names := make([]string, 0, len(tiers))
	for t := range tiers {
		names = append(names, string(t))
	}
	slices.Sort(names)

	var b strings.Builder
	args := make([]any, 0, len(names)*2)
	b.WriteString("(CASE tier")
	for _, name := range names {
		b.WriteString(" WHEN ? THEN ?")
		args = append(args, name, tiers[models.Tier(name)].DailyFreeTokens)
	}
	b.WriteString(" ELSE 0 END)")
	return b.String(), args
}

// period pins the calendar boundaries for one operation.
type period struct {
	now      time.Time
	day      string
	month    string
	dayStart time.Time
	dayEnd   time.Time
}

func (s *Service) period() period {
	local := s.now().In(s.loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)
	return period{
		now:      local.UTC(),
		day:      local.Format("2006-01-02"),
		month:    local.Format("2006-01"),
		dayStart: start.UTC(),
		dayEnd:   start.AddDate(0, 0, 1).UTC(),
	}
}

// Tiers exposes the static tier table.
func (s *Service) Tiers() models.TierTable {
	return s.tiers
}

func (s *Service) CreateAccount(ctx context.Context, id string, tier models.Tier) (*models.Account, error) {
	if tier == "" {
		tier = s.defaultTier
	}
	limits, err := s.tiers.Limits(tier)
	if err != nil {
		return nil, err
	}

	p := s.period()
	account := &models.Account{
		ID:            id,
		Kind:          models.AccountKindMetered,
		Tier:          tier,
		TierStatus:    models.TierStatusActive,
		TierStartDate: p.now,
		Balance: models.TokenBalance{
			Daily:          limits.DailyFreeTokens,
			Total:          limits.DailyFreeTokens,
			LastDailyReset: p.now,
		},
		Usage: models.TokenUsage{
			DailyDate:    p.day,
			MonthlyMonth: p.month,
		},
		Limits:      limits,
		Billing:     models.Metadata{},
		Preferences: models.Metadata{},
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Account{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrAccountExists
		}
		if err := tx.Create(account).Error; err != nil {
			return err
		}
		return tx.Create(s.transaction(id, models.TokenTransactionGrant, limits.DailyFreeTokens, account.Balance.Total, 0,
			[]TxOption{WithDescription("initial daily allowance")})).Error
	})
	if err != nil {
		if errors.Is(err, ErrAccountExists) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create account %s: %w", id, err)
	}

	fiberlog.Infof("Ledger: created %s account %s", tier, id)
	return account, nil
}

// GetAccount loads a metered account. Legacy records are migrated first when
// lazy migration is enabled, otherwise they return ErrLegacyAccount.
func (s *Service) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	var account *models.Account
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		account, err = s.loadMetered(tx, id, s.period())
		return err
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

func (s *Service) load(tx *gorm.DB, id string) (*models.Account, error) {
	var account models.Account
	if err := tx.Where("id = ?", id).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to load account %s: %w", id, err)
	}
	return &account, nil
}

// lock reads the row FOR UPDATE so it cannot move before the transaction
// commits. SQLite has no row locks; its writers are serialized instead.
func (s *Service) lock(tx *gorm.DB, id string) (*models.Account, error) {
	return s.load(tx.Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func (s *Service) loadMetered(tx *gorm.DB, id string, p period) (*models.Account, error) {
	account, err := s.load(tx, id)
	if err != nil {
		return nil, err
	}
	if !account.IsLegacy() {
		return account, nil
	}
	if !s.lazyMigration {
		return nil, ErrLegacyAccount
	}
	if _, err := s.migrate(tx, account, p); err != nil {
		return nil, err
	}
	return s.load(tx, id)
}

// MigrateAccount converts one legacy record into a metered account. It
// reports false when the record was already metered.
func (s *Service) MigrateAccount(ctx context.Context, id string) (bool, error) {
	var migrated bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.load(tx, id)
		if err != nil {
			return err
		}
		if !account.IsLegacy() {
			return nil
		}
		migrated, err = s.migrate(tx, account, s.period())
		return err
	})
	return migrated, err
}

// MigrateLegacyAccounts migrates up to batch legacy records and returns how
// many it converted.
func (s *Service) MigrateLegacyAccounts(ctx context.Context, batch int) (int, error) {
	if batch <= 0 {
		batch = 100
	}

	var ids []string
	if err := s.db.WithContext(ctx).Model(&models.Account{}).
		Where("kind <> ?", models.AccountKindMetered).
		Order("created_at").
		Limit(batch).
		Pluck("id", &ids).Error; err != nil {
		return 0, fmt.Errorf("failed to list legacy accounts: %w", err)
	}

	migrated := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return migrated, err
		}
		ok, err := s.MigrateAccount(ctx, id)
		if err != nil {
			return migrated, fmt.Errorf("failed to migrate account %s: %w", id, err)
		}
		if ok {
			migrated++
		}
	}
	if migrated > 0 {
		fiberlog.Infof("Ledger: migrated %d legacy accounts", migrated)
	}
	return migrated, nil
}

// migrate keeps a recognizable stored tier and falls back to the default tier.
// The kind guard makes concurrent migrations of one record apply once.
func (s *Service) migrate(tx *gorm.DB, account *models.Account, p period) (bool, error) {
	tier := account.Tier
	if !tier.Valid() {
		tier = s.defaultTier
	}
	limits, err := s.tiers.Limits(tier)
	if err != nil {
		return false, err
	}

	res := tx.Model(&models.Account{}).
		Where("id = ? AND kind <> ?", account.ID, models.AccountKindMetered).
		Updates(map[string]any{
			"kind":                        models.AccountKindMetered,
			"tier":                        tier,
			"tier_status":                 models.TierStatusActive,
			"tier_start_date":             p.now,
			"limits":                      limits,
			"balance_daily":               limits.DailyFreeTokens,
			"balance_purchased":           0,
			"balance_total":               limits.DailyFreeTokens,
			"balance_last_daily_reset":    p.now,
			"usage_daily_date":            p.day,
			"usage_daily_tokens_used":     0,
			"usage_daily_requests":        0,
			"usage_daily_amount_spent":    0,
			"usage_monthly_month":         p.month,
			"usage_monthly_tokens_used":   0,
			"usage_monthly_requests":      0,
			"usage_monthly_amount_spent":  0,
			"usage_lifetime_tokens_used":  0,
			"usage_lifetime_requests":     0,
			"usage_lifetime_amount_spent": 0,
			"updated_at":                  p.now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to migrate account %s: %w", account.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	if err := tx.Create(s.transaction(account.ID, models.TokenTransactionGrant, limits.DailyFreeTokens, limits.DailyFreeTokens, 0,
		[]TxOption{WithDescription("legacy account migration")})).Error; err != nil {
		return false, fmt.Errorf("failed to record migration for %s: %w", account.ID, err)
	}

	fiberlog.Infof("Ledger: migrated legacy account %s to %s tier", account.ID, tier)
	return true, nil
}

func (s *Service) transaction(accountID string, typ models.TokenTransactionType, amount, balanceAfter int64, amountPaid float64, opts []TxOption) *models.TokenTransaction {
	t := &models.TokenTransaction{
		ID:           uuid.NewString(),
		AccountID:    accountID,
		Type:         typ,
		Amount:       amount,
		BalanceAfter: balanceAfter,
		AmountPaid:   amountPaid,
		CreatedAt:    s.now().UTC(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Transactions returns the account's audit history, newest first.
func (s *Service) Transactions(ctx context.Context, id string, limit, offset int) ([]models.TokenTransaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var txs []models.TokenTransaction
	if err := s.db.WithContext(ctx).
		Where("account_id = ?", id).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&txs).Error; err != nil {
		return nil, fmt.Errorf("failed to list transactions for %s: %w", id, err)
	}
	return txs, nil
}

// Snapshot summarizes an account for callers.
func (s *Service) Snapshot(account *models.Account) models.UsageSnapshot {
	p := s.period()
	return models.UsageSnapshot{
		TokensRemaining: account.Balance.Total,
		TokensUsed:      account.Usage.TokensUsedOn(p.day),
		DailyFreeTokens: s.tiers.DailyAllowance(account.Tier),
		DailyRemaining:  account.Balance.Daily,
		PurchasedTokens: account.Balance.Purchased,
		Tier:            account.Tier,
	}
}
