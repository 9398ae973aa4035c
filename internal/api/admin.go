package api

import (
	"github.com/Egham-7/token-gate/internal/models"
	"github.com/Egham-7/token-gate/internal/services/ledger"
	"github.com/Egham-7/token-gate/internal/services/middleware"

	"github.com/gofiber/fiber/v2"
)

// AdminHandler is the operator surface over the ledger. Routes sit behind
// middleware.AdminMiddleware.
type AdminHandler struct {
	ledger *ledger.Service
}

func NewAdminHandler(ledgerSvc *ledger.Service) *AdminHandler {
	return &AdminHandler{ledger: ledgerSvc}
}

type CreateAccountRequest struct {
	ID   string      `json:"id"`
	Tier models.Tier `json:"tier"`
}

type UpgradeTierRequest struct {
	Tier models.Tier `json:"tier"`
}

type AddTokensRequest struct {
	Amount      int64   `json:"amount"`
	AmountPaid  float64 `json:"amount_paid"`
	Description string  `json:"description"`
}

type accountResponse struct {
	Account *models.Account      `json:"account"`
	Usage   models.UsageSnapshot `json:"usage"`
}

func (h *AdminHandler) respond(c *fiber.Ctx, status int, account *models.Account) error {
	return c.Status(status).JSON(accountResponse{
		Account: account,
		Usage:   h.ledger.Snapshot(account),
	})
}

func (h *AdminHandler) CreateAccount(c *fiber.Ctx) error {
	var req CreateAccountRequest
	if err := c.BodyParser(&req); err != nil {
		return middleware.WriteError(c, models.NewValidationError("invalid request body", err))
	}
	if req.ID == "" {
		return middleware.WriteError(c, models.NewValidationError("id is required", nil))
	}
	if req.Tier == "" {
		req.Tier = models.TierFree
	}

	account, err := h.ledger.CreateAccount(c.UserContext(), req.ID, req.Tier)
	if err != nil {
		return middleware.WriteError(c, err)
	}
	return h.respond(c, fiber.StatusCreated, account)
}

func (h *AdminHandler) GetAccount(c *fiber.Ctx) error {
	account, err := h.ledger.GetAccount(c.UserContext(), c.Params("id"))
	if err != nil {
		return middleware.WriteError(c, err)
	}
	return h.respond(c, fiber.StatusOK, account)
}

func (h *AdminHandler) UpgradeTier(c *fiber.Ctx) error {
	var req UpgradeTierRequest
	if err := c.BodyParser(&req); err != nil {
		return middleware.WriteError(c, models.NewValidationError("invalid request body", err))
	}

	account, err := h.ledger.UpgradeTier(c.UserContext(), c.Params("id"), req.Tier)
	if err != nil {
		return middleware.WriteError(c, err)
	}
	return h.respond(c, fiber.StatusOK, account)
}

func (h *AdminHandler) AddTokens(c *fiber.Ctx) error {
	var req AddTokensRequest
	if err := c.BodyParser(&req); err != nil {
		return middleware.WriteError(c, models.NewValidationError("invalid request body", err))
	}

	var opts []ledger.TxOption
	if req.Description != "" {
		opts = append(opts, ledger.WithDescription(req.Description))
	}

	account, err := h.ledger.AddTokens(c.UserContext(), c.Params("id"), req.Amount, req.AmountPaid, opts...)
	if err != nil {
		return middleware.WriteError(c, err)
	}
	return h.respond(c, fiber.StatusOK, account)
}

func (h *AdminHandler) ListTransactions(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)

	txs, err := h.ledger.Transactions(c.UserContext(), c.Params("id"), limit, offset)
	if err != nil {
		return middleware.WriteError(c, err)
	}
	return c.JSON(fiber.Map{
		"data":   txs,
		"limit":  limit,
		"offset": offset,
	})
}

// MigrateLegacyAccounts converts up to ?batch= legacy records.
func (h *AdminHandler) MigrateLegacyAccounts(c *fiber.Ctx) error {
	migrated, err := h.ledger.MigrateLegacyAccounts(c.UserContext(), c.QueryInt("batch", 100))
	if err != nil {
		return middleware.WriteError(c, err)
	}
	return c.JSON(fiber.Map{"migrated": migrated})
}
