package models

import "time"

type TokenTransactionType string

const (
	TokenTransactionUsage    TokenTransactionType = "usage"
	TokenTransactionPurchase TokenTransactionType = "purchase"
	TokenTransactionRefund   TokenTransactionType = "refund"
	TokenTransactionGrant    TokenTransactionType = "grant"
)

// TokenTransaction is an append-only audit row. Amount is signed: usage is
// negative, purchases, grants and refunds are positive.
type TokenTransaction struct {
	ID              string               `gorm:"primaryKey;size:36" json:"id"`
	AccountID       string               `gorm:"not null;index;size:255" json:"account_id"`
	Type            TokenTransactionType `gorm:"not null;index;size:20" json:"type"`
	Amount          int64                `gorm:"not null" json:"amount"`
	BalanceAfter    int64                `gorm:"not null" json:"balance_after"`
	AmountPaid      float64              `gorm:"not null;default:0" json:"amount_paid,omitzero"`
	Description     string               `gorm:"type:text;default:''" json:"description,omitempty"`
	Metadata        Metadata             `json:"metadata,omitempty"`
	APIKeyID        uint                 `gorm:"index;default:0" json:"api_key_id,omitzero"`
	StripeSessionID string               `gorm:"index;size:255;default:''" json:"stripe_session_id,omitempty"`
	CreatedAt       time.Time            `gorm:"not null;autoCreateTime;index" json:"created_at"`
}

func (TokenTransaction) TableName() string {
	return "token_transactions"
}
