package api

import (
	"time"

	"github.com/Egham-7/token-gate/internal/models"
	"github.com/Egham-7/token-gate/internal/services/auth"
	"github.com/Egham-7/token-gate/internal/services/middleware"
	"github.com/Egham-7/token-gate/internal/services/ratelimit"
	"github.com/Egham-7/token-gate/internal/services/usage"

	"github.com/gofiber/fiber/v2"
)

// UsageHandler serves the caller's own balance and history. Routes sit
// behind CredentialMiddleware.Require(0).
type UsageHandler struct {
	usage     *usage.Service
	limiter   *ratelimit.Limiter
	rateLimit models.RateLimitConfig
	features  []string
}

func NewUsageHandler(usageSvc *usage.Service, limiter *ratelimit.Limiter, rateLimit models.RateLimitConfig, features []string) *UsageHandler {
	return &UsageHandler{
		usage:     usageSvc,
		limiter:   limiter,
		rateLimit: rateLimit,
		features:  features,
	}
}

type rateLimitInfo struct {
	Limit     int       `json:"limit"`
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
}

func (h *UsageHandler) GetUsage(c *fiber.Ctx) error {
	result := auth.GetResult(c)
	if result == nil {
		return middleware.WriteError(c, auth.ErrUnauthorized)
	}

	account := result.Account
	response := fiber.Map{
		"accountId": account.ID,
		"usage":     result.Usage,
		"limits":    account.Limits,
		"lifetime": fiber.Map{
			"tokensUsed":  account.Usage.LifetimeTokensUsed,
			"requests":    account.Usage.LifetimeRequests,
			"amountSpent": account.Usage.LifetimeAmountSpent,
		},
	}

	if h.limiter != nil && h.rateLimit.Enabled {
		limits := make(map[string]rateLimitInfo, len(h.features))
		for _, feature := range h.features {
			rule := h.rateLimit.Rule(feature)
			info := h.limiter.Info(c.UserContext(), ratelimit.Identity(feature, account.ID), rule.Limit, rule.Window())
			limits[feature] = rateLimitInfo{
				Limit:     rule.Limit,
				Used:      info.Used,
				Remaining: info.Remaining,
				ResetAt:   info.ResetAt,
			}
		}
		response["rateLimits"] = limits
	}

	return c.JSON(response)
}

// GetStats aggregates usage events. from/to are RFC3339 and optional.
func (h *UsageHandler) GetStats(c *fiber.Ctx) error {
	accountID, ok := auth.GetAccountID(c)
	if !ok {
		return middleware.WriteError(c, auth.ErrUnauthorized)
	}

	from, err := parseTimeQuery(c, "from")
	if err != nil {
		return middleware.WriteError(c, err)
	}
	to, err := parseTimeQuery(c, "to")
	if err != nil {
		return middleware.WriteError(c, err)
	}

	stats, err := h.usage.Stats(c.UserContext(), accountID, from, to)
	if err != nil {
		return middleware.WriteError(c, err)
	}
	byOperation, err := h.usage.StatsByOperation(c.UserContext(), accountID, from, to)
	if err != nil {
		return middleware.WriteError(c, err)
	}

	return c.JSON(fiber.Map{
		"stats":       stats,
		"byOperation": byOperation,
	})
}

func (h *UsageHandler) ListEvents(c *fiber.Ctx) error {
	accountID, ok := auth.GetAccountID(c)
	if !ok {
		return middleware.WriteError(c, auth.ErrUnauthorized)
	}

	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)

	events, err := h.usage.ListEvents(c.UserContext(), accountID, limit, offset)
	if err != nil {
		return middleware.WriteError(c, err)
	}
	return c.JSON(fiber.Map{
		"data":   events,
		"limit":  limit,
		"offset": offset,
	})
}

func parseTimeQuery(c *fiber.Ctx, name string) (time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, models.NewValidationError(name+" must be an RFC3339 timestamp", err)
	}
	return t, nil
}
