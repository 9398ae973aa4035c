package middleware

import (
	"errors"
	"time"

	"github.com/Egham-7/token-gate/internal/models"
	"github.com/Egham-7/token-gate/internal/services/auth"
	"github.com/Egham-7/token-gate/internal/services/usage"

	"github.com/gofiber/fiber/v2"
)

// UsageRecordedKey marks a request whose handler already recorded its event.
const UsageRecordedKey = "usage_recorded"

type UsageTracker struct {
	recorder usage.Recorder
}

func NewUsageTracker(recorder usage.Recorder) *UsageTracker {
	return &UsageTracker{recorder: recorder}
}

func (u *UsageTracker) Track() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		result := auth.GetResult(c)
		if result == nil || result.Account == nil {
			return err
		}
		if recorded, _ := c.Locals(UsageRecordedKey).(bool); recorded {
			return err
		}

		status := c.Response().StatusCode()
		if err != nil {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}

		event := &models.UsageEvent{
			AccountID:     result.Account.ID,
			Endpoint:      c.Path(),
			TokensCharged: result.Charged,
			StatusCode:    status,
			LatencyMs:     time.Since(start).Milliseconds(),
			RequestID:     RequestID(c),
		}
		if result.APIKey != nil {
			event.APIKeyID = result.APIKey.ID
		}
		if err != nil {
			event.ErrorMessage = err.Error()
		}

		u.recorder.Submit(event)
		return err
	}
}
