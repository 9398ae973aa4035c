package middleware

import (
	"context"
	"errors"

	"github.com/Egham-7/token-gate/internal/models"
	"github.com/Egham-7/token-gate/internal/services/apikey"
	"github.com/Egham-7/token-gate/internal/services/auth"
	"github.com/Egham-7/token-gate/internal/services/billing"
	"github.com/Egham-7/token-gate/internal/services/gate"
	"github.com/Egham-7/token-gate/internal/services/ledger"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
)

// AppErrorFrom maps service errors onto their HTTP representation.
func AppErrorFrom(err error) *models.AppError {
	var (
		appErr      *models.AppError
		rateLimited *gate.RateLimitedError
		featureErr  *gate.FeatureError
		limitErr    *apikey.LimitError
	)

	if ite, ok := ledger.IsInsufficient(err); ok {
		return models.NewInsufficientTokensError(ite.Required, ite.Remaining, err)
	}

	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, auth.ErrUnauthorized):
		return models.NewAuthenticationError(err)
	case errors.As(err, &rateLimited):
		return models.NewRateLimitError(rateLimited.Result.Limit, rateLimited.Result.ResetAt, rateLimited.Result.RetryAfter)
	case errors.As(err, &featureErr):
		return models.NewAuthorizationError(featureErr.Error())
	case errors.As(err, &limitErr):
		appErr := models.NewAuthorizationError(limitErr.Allowance.Reason)
		appErr.Code = "API_KEY_LIMIT"
		appErr.Details = models.Metadata{"current": limitErr.Allowance.Current, "max": limitErr.Allowance.Max}
		return appErr
	case errors.Is(err, ledger.ErrAccountNotFound):
		return models.NewNotFoundError("account", err)
	case errors.Is(err, apikey.ErrAPIKeyNotFound):
		return models.NewNotFoundError("api key", err)
	case errors.Is(err, ledger.ErrAccountExists):
		appErr := models.NewValidationError("account already exists", err)
		appErr.StatusCode = fiber.StatusConflict
		return appErr
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, models.ErrUnknownTier),
		errors.Is(err, billing.ErrUnknownPack):
		return models.NewValidationError(err.Error(), err)
	case errors.Is(err, billing.ErrInvalidSignature):
		return models.NewValidationError("invalid signature", err)
	case errors.Is(err, gate.ErrUnavailable):
		return models.NewUnavailableError("operation", err)
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewTimeoutError("request", err)
	default:
		return models.NewInternalError("request failed", err)
	}
}

// WriteError renders err as {"error": AppError}. Causes are logged, never sent.
func WriteError(c *fiber.Ctx, err error) error {
	appErr := AppErrorFrom(err)
	status := appErr.GetStatusCode()

	if status >= fiber.StatusInternalServerError {
		fiberlog.Errorf("[%s] %s %s failed: %v", RequestID(c), c.Method(), c.Path(), err)
	} else {
		fiberlog.Debugf("[%s] %s %s rejected with %d: %v", RequestID(c), c.Method(), c.Path(), status, err)
	}

	return c.Status(status).JSON(fiber.Map{"error": models.SanitizeError(appErr)})
}

// RequestID reads the id set by the requestid middleware.
func RequestID(c *fiber.Ctx) string {
	if id, ok := c.Locals("requestid").(string); ok {
		return id
	}
	return c.Get(fiber.HeaderXRequestID)
}
