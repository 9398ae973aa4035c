package gate

import (
	"errors"
	"fmt"

	"github.com/Egham-7/token-gate/internal/models"
	"github.com/Egham-7/token-gate/internal/services/ratelimit"
)

var (
	ErrRateLimited     = errors.New("rate limit exceeded")
	ErrFeatureDisabled = errors.New("feature not available on tier")
	// ErrUnavailable means the operation's breaker is open; nothing was charged.
	ErrUnavailable = errors.New("operation temporarily unavailable")
)

// RateLimitedError carries the window that rejected the call.
type RateLimitedError struct {
	Operation string
	Result    ratelimit.Result
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s: %s allows %d requests, retry after %s",
		ErrRateLimited, e.Operation, e.Result.Limit, e.Result.RetryAfter)
}

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

type FeatureError struct {
	Feature string
	Tier    models.Tier
}

func (e *FeatureError) Error() string {
	return fmt.Sprintf("%s: %s requires a tier above %s", ErrFeatureDisabled, e.Feature, e.Tier)
}

func (e *FeatureError) Is(target error) bool {
	return target == ErrFeatureDisabled
}
