package api

import (
	"strconv"

	"github.com/Egham-7/token-gate/internal/models"
	"github.com/Egham-7/token-gate/internal/services/apikey"
	"github.com/Egham-7/token-gate/internal/services/middleware"

	"github.com/gofiber/fiber/v2"
)

// APIKeyHandler manages credentials of the account in :id.
type APIKeyHandler struct {
	service *apikey.Service
}

func NewAPIKeyHandler(service *apikey.Service) *APIKeyHandler {
	return &APIKeyHandler{service: service}
}

// CreateAPIKey returns the plaintext key exactly once.
func (h *APIKeyHandler) CreateAPIKey(c *fiber.Ctx) error {
	var req models.APIKeyCreateRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return middleware.WriteError(c, models.NewValidationError("invalid request body", err))
		}
	}
	req.OwnerID = c.Params("id")

	apiKey, err := h.service.CreateAPIKey(c.UserContext(), &req)
	if err != nil {
		return middleware.WriteError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(apiKey)
}

func (h *APIKeyHandler) ListAPIKeys(c *fiber.Ctx) error {
	keys, err := h.service.ListAPIKeys(c.UserContext(), c.Params("id"))
	if err != nil {
		return middleware.WriteError(c, err)
	}
	return c.JSON(fiber.Map{"data": keys})
}

func (h *APIKeyHandler) RevokeAPIKey(c *fiber.Ctx) error {
	keyID, err := strconv.ParseUint(c.Params("key_id"), 10, 64)
	if err != nil {
		return middleware.WriteError(c, models.NewValidationError("invalid key id", err))
	}

	if err := h.service.RevokeAPIKey(c.UserContext(), c.Params("id"), uint(keyID)); err != nil {
		return middleware.WriteError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
