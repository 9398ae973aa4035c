package api

import (
	"errors"

	"github.com/Egham-7/token-gate/internal/models"
	"github.com/Egham-7/token-gate/internal/services/auth"
	"github.com/Egham-7/token-gate/internal/services/billing"
	"github.com/Egham-7/token-gate/internal/services/middleware"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
)

type BillingHandler struct {
	stripeService *billing.StripeService
}

func NewBillingHandler(stripeService *billing.StripeService) *BillingHandler {
	return &BillingHandler{stripeService: stripeService}
}

type CreateCheckoutSessionRequest struct {
	PackID string `json:"pack_id"`
}

type CreateCheckoutSessionResponse struct {
	SessionID   string `json:"session_id"`
	CheckoutURL string `json:"checkout_url"`
}

func (h *BillingHandler) ListPacks(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": h.stripeService.Packs()})
}

// CreateCheckoutSession opens a Stripe checkout for the authenticated account.
func (h *BillingHandler) CreateCheckoutSession(c *fiber.Ctx) error {
	accountID, ok := auth.GetAccountID(c)
	if !ok {
		return middleware.WriteError(c, auth.ErrUnauthorized)
	}

	var req CreateCheckoutSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return middleware.WriteError(c, models.NewValidationError("invalid request body", err))
	}
	if req.PackID == "" {
		return middleware.WriteError(c, models.NewValidationError("pack_id is required", nil))
	}

	session, err := h.stripeService.CreateCheckoutSession(c.UserContext(), accountID, req.PackID)
	if err != nil {
		return middleware.WriteError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(CreateCheckoutSessionResponse{
		SessionID:   session.ID,
		CheckoutURL: session.URL,
	})
}

// HandleWebhook processes Stripe webhook events
func (h *BillingHandler) HandleWebhook(c *fiber.Ctx) error {
	signature := c.Get("Stripe-Signature")
	if signature == "" {
		return middleware.WriteError(c, models.NewValidationError("missing Stripe-Signature header", nil))
	}

	if err := h.stripeService.HandleWebhook(c.UserContext(), c.Body(), signature); err != nil {
		if !errors.Is(err, billing.ErrInvalidSignature) {
			fiberlog.Errorf("Stripe webhook processing failed: %v", err)
		}
		return middleware.WriteError(c, err)
	}

	return c.JSON(fiber.Map{"received": true})
}
