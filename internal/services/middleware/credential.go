package middleware

import (
	"strconv"
	"strings"

	"github.com/Egham-7/token-gate/internal/services/auth"

	"github.com/gofiber/fiber/v2"
)

const HeaderTokensRemaining = "X-Tokens-Remaining"

var defaultHeaderNames = []string{"X-API-Key", "X-Stainless-API-Key"}

type CredentialMiddleware struct {
	authenticator *auth.Authenticator
	headerNames   []string
}

func NewCredentialMiddleware(authenticator *auth.Authenticator, headerNames ...string) *CredentialMiddleware {
	if len(headerNames) == 0 {
		headerNames = defaultHeaderNames
	}
	return &CredentialMiddleware{
		authenticator: authenticator,
		headerNames:   headerNames,
	}
}

// Require authenticates the caller and charges cost tokens up front.
// 401 for any credential problem, 402 when the balance is short.
func (m *CredentialMiddleware) Require(cost int64) fiber.Handler {
	return func(c *fiber.Ctx) error {
		result, err := m.authenticator.Validate(c.UserContext(), ExtractAPIKey(c, m.headerNames), cost)
		if err != nil {
			return WriteError(c, err)
		}

		auth.SetResult(c, result)
		c.Set(HeaderTokensRemaining, strconv.FormatInt(result.Usage.TokensRemaining, 10))
		return c.Next()
	}
}

// ExtractAPIKey checks the named headers first, then a bearer token.
func ExtractAPIKey(c *fiber.Ctx, headerNames []string) string {
	for _, headerName := range headerNames {
		if key := c.Get(headerName); key != "" {
			return strings.TrimSpace(key)
		}
	}

	if authHeader := c.Get(fiber.HeaderAuthorization); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
	}

	return ""
}

// Credential is the raw key of the current request, for handlers that
// authenticate themselves.
func (m *CredentialMiddleware) Credential(c *fiber.Ctx) string {
	return ExtractAPIKey(c, m.headerNames)
}
