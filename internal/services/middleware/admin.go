package middleware

import (
	"crypto/subtle"
	"errors"

	"github.com/Egham-7/token-gate/internal/models"

	"github.com/gofiber/fiber/v2"
)

var errAdminDisabled = errors.New("admin api disabled")

// AdminMiddleware guards operator routes with a static bearer token. An empty
// token disables the routes entirely.
func AdminMiddleware(token string) fiber.Handler {
	expected := []byte(token)
	return func(c *fiber.Ctx) error {
		if len(expected) == 0 {
			return WriteError(c, models.NewNotFoundError("route", errAdminDisabled))
		}

		presented := ExtractAPIKey(c, []string{"X-Admin-Token"})
		if subtle.ConstantTimeCompare([]byte(presented), expected) != 1 {
			return WriteError(c, models.NewAuthenticationError(nil))
		}
		return c.Next()
	}
}
