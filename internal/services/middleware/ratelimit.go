package middleware

import (
	"time"

	"github.com/Egham-7/token-gate/internal/models"
	"github.com/Egham-7/token-gate/internal/services/auth"
	"github.com/Egham-7/token-gate/internal/services/ratelimit"

	"github.com/gofiber/fiber/v2"
)

type RateLimitMiddleware struct {
	limiter *ratelimit.Limiter
	config  models.RateLimitConfig
}

func NewRateLimitMiddleware(limiter *ratelimit.Limiter, config models.RateLimitConfig) *RateLimitMiddleware {
	return &RateLimitMiddleware{limiter: limiter, config: config}
}

// Limit counts the request against feature for the authenticated account, or
// the client IP when the route is anonymous.
func (m *RateLimitMiddleware) Limit(feature string, limit int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !m.config.Enabled || limit <= 0 || window <= 0 {
			return c.Next()
		}

		subject, ok := auth.GetAccountID(c)
		if !ok {
			subject = c.IP()
		}

		result := m.limiter.Allow(c.UserContext(), feature, subject, limit, window)
		for k, v := range result.Headers() {
			c.Set(k, v)
		}
		if !result.Allowed {
			return WriteError(c, models.NewRateLimitError(result.Limit, result.ResetAt, result.RetryAfter))
		}
		return c.Next()
	}
}

// ForFeature applies the configured rule for feature.
func (m *RateLimitMiddleware) ForFeature(feature string) fiber.Handler {
	rule := m.config.Rule(feature)
	return m.Limit(feature, rule.Limit, rule.Window())
}
