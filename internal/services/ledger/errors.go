package ledger

import (
	"errors"
	"fmt"
)

var (
	ErrAccountNotFound    = errors.New("ledger: account not found")
	ErrAccountExists      = errors.New("ledger: account already exists")
	ErrLegacyAccount      = errors.New("ledger: account predates token metering")
	ErrInsufficientTokens = errors.New("ledger: insufficient tokens")
	ErrInvalidAmount      = errors.New("ledger: invalid amount")
	ErrAlreadyApplied     = errors.New("ledger: purchase already applied")
)

// InsufficientTokensError carries the numbers a caller needs to render a
// top-up prompt. It matches ErrInsufficientTokens.
type InsufficientTokensError struct {
	AccountID string
	Required  int64
	Remaining int64
}

func (e *InsufficientTokensError) Error() string {
	return fmt.Sprintf("ledger: insufficient tokens for %s: required %d, remaining %d",
		e.AccountID, e.Required, e.Remaining)
}

func (e *InsufficientTokensError) Is(target error) bool {
	return target == ErrInsufficientTokens
}

func (e *InsufficientTokensError) Shortfall() int64 {
	if e.Required <= e.Remaining {
		return 0
	}
	return e.Required - e.Remaining
}
