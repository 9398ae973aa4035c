package models

import (
	"errors"
	"fmt"
	"time"
)

type AccountKind string

const (
	// AccountKindLegacy marks records created before token metering existed.
	// They carry no usable balance until migrated.
	AccountKindLegacy  AccountKind = "legacy"
	AccountKindMetered AccountKind = "metered"
)

const (
	TierStatusActive   = "active"
	TierStatusCanceled = "canceled"
)

var ErrBalanceInvariant = errors.New("token balance invariant violated")

type TokenBalance struct {
	Daily          int64     `gorm:"not null;default:0" json:"daily"`
	Purchased      int64     `gorm:"not null;default:0" json:"purchased"`
	Total          int64     `gorm:"not null;default:0" json:"total"`
	LastDailyReset time.Time `json:"last_daily_reset"`
}

// Valid reports whether the balance is non-negative and total == daily + purchased.
func (b TokenBalance) Valid() bool {
	return b.Daily >= 0 && b.Purchased >= 0 && b.Total == b.Daily+b.Purchased
}

// TokenUsage holds the daily, monthly and lifetime rollups. Daily and monthly
// buckets are keyed by period and are reset, not accumulated, on rollover.
type TokenUsage struct {
	DailyDate        string  `gorm:"size:10;not null;default:''" json:"daily_date"`
	DailyTokensUsed  int64   `gorm:"not null;default:0" json:"daily_tokens_used"`
	DailyRequests    int64   `gorm:"not null;default:0" json:"daily_requests"`
	DailyAmountSpent float64 `gorm:"not null;default:0" json:"daily_amount_spent"`

	MonthlyMonth       string  `gorm:"size:7;not null;default:''" json:"monthly_month"`
	MonthlyTokensUsed  int64   `gorm:"not null;default:0" json:"monthly_tokens_used"`
	MonthlyRequests    int64   `gorm:"not null;default:0" json:"monthly_requests"`
	MonthlyAmountSpent float64 `gorm:"not null;default:0" json:"monthly_amount_spent"`

	LifetimeTokensUsed  int64   `gorm:"not null;default:0" json:"lifetime_tokens_used"`
	LifetimeRequests    int64   `gorm:"not null;default:0" json:"lifetime_requests"`
	LifetimeAmountSpent float64 `gorm:"not null;default:0" json:"lifetime_amount_spent"`
}

// TokensUsedOn returns the daily bucket's tokens if it belongs to date, otherwise zero.
func (u TokenUsage) TokensUsedOn(date string) int64 {
	if u.DailyDate != date {
		return 0
	}
	return u.DailyTokensUsed
}

type Account struct {
	ID            string       `gorm:"primaryKey;size:255" json:"id"`
	Kind          AccountKind  `gorm:"size:20;not null;default:'legacy';index" json:"kind"`
	Tier          Tier         `gorm:"size:20;not null;default:'free'" json:"tier"`
	TierStatus    string       `gorm:"size:20;not null;default:''" json:"tier_status,omitzero"`
	TierStartDate time.Time    `json:"tier_start_date,omitzero"`
	Balance       TokenBalance `gorm:"embedded;embeddedPrefix:balance_" json:"token_balance"`
	Usage         TokenUsage   `gorm:"embedded;embeddedPrefix:usage_" json:"usage"`
	Limits        TierLimits   `json:"limits"`
	Billing       Metadata     `json:"billing,omitempty"`
	Preferences   Metadata     `json:"preferences,omitempty"`
	CreatedAt     time.Time    `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time    `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "accounts"
}

func (a *Account) IsLegacy() bool {
	return a.Kind != AccountKindMetered
}

func (a *Account) CheckInvariant() error {
	if !a.Balance.Valid() {
		return fmt.Errorf("%w: account %s daily=%d purchased=%d total=%d",
			ErrBalanceInvariant, a.ID, a.Balance.Daily, a.Balance.Purchased, a.Balance.Total)
	}
	return nil
}
