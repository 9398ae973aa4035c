package auth

import (
	"github.com/Egham-7/token-gate/internal/models"

	"github.com/gofiber/fiber/v2"
)

const localsKey = "auth_result"

// SetResult stores the validated request context on the fiber context.
func SetResult(c *fiber.Ctx, result *Result) {
	c.Locals(localsKey, result)
}

func GetResult(c *fiber.Ctx) *Result {
	result, ok := c.Locals(localsKey).(*Result)
	if !ok {
		return nil
	}
	return result
}

func GetAccountID(c *fiber.Ctx) (string, bool) {
	result := GetResult(c)
	if result == nil || result.Account == nil {
		return "", false
	}
	return result.Account.ID, true
}

func GetAPIKey(c *fiber.Ctx) (*models.APIKey, bool) {
	result := GetResult(c)
	if result == nil || result.APIKey == nil {
		return nil, false
	}
	return result.APIKey, true
}
