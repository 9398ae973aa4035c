package api

import (
	"errors"
	"strconv"

	"github.com/Egham-7/token-gate/internal/models"
	"github.com/Egham-7/token-gate/internal/services/gate"
	"github.com/Egham-7/token-gate/internal/services/middleware"

	"github.com/gofiber/fiber/v2"
)

const headerCache = "X-Cache"

// OpsHandler exposes registered metered operations. The gate authenticates
// the caller itself, so these routes carry no credential middleware.
type OpsHandler struct {
	gate     *gate.Gate
	registry *gate.Registry
	creds    *middleware.CredentialMiddleware
}

func NewOpsHandler(g *gate.Gate, registry *gate.Registry, creds *middleware.CredentialMiddleware) *OpsHandler {
	return &OpsHandler{gate: g, registry: registry, creds: creds}
}

type operationInfo struct {
	Name          string `json:"name"`
	EstimatedCost int64  `json:"estimatedCost"`
	Policy        string `json:"policy"`
	Feature       string `json:"feature,omitempty"`
	Cached        bool   `json:"cached"`
}

func (h *OpsHandler) List(c *fiber.Ctx) error {
	names := h.registry.Names()
	ops := make([]operationInfo, 0, len(names))
	for _, name := range names {
		op, ok := h.registry.Lookup(name)
		if !ok {
			continue
		}
		ops = append(ops, operationInfo{
			Name:          op.Name,
			EstimatedCost: op.EstimatedCost,
			Policy:        op.Policy.String(),
			Feature:       op.Feature,
			Cached:        op.CacheTTL > 0,
		})
	}
	return c.JSON(fiber.Map{"data": ops})
}

// Execute runs POST /v1/ops/:operation with the JSON body as parameters.
// ?fresh=true bypasses the result cache.
func (h *OpsHandler) Execute(c *fiber.Ctx) error {
	name := c.Params("operation")
	op, ok := h.registry.Lookup(name)
	if !ok {
		return middleware.WriteError(c, models.NewNotFoundError("operation "+name, nil))
	}

	var params map[string]any
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&params); err != nil {
			return middleware.WriteError(c, models.NewValidationError("invalid request body", err))
		}
	}

	c.Locals(middleware.UsageRecordedKey, true)

	resp, err := h.gate.Execute(c.UserContext(), gate.Request{
		Credential: h.creds.Credential(c),
		Params:     params,
		Endpoint:   c.Path(),
		RequestID:  middleware.RequestID(c),
		SkipCache:  c.QueryBool("fresh"),
	}, op)
	if err != nil {
		var limited *gate.RateLimitedError
		if errors.As(err, &limited) {
			for k, v := range limited.Result.Headers() {
				c.Set(k, v)
			}
		}
		return middleware.WriteError(c, err)
	}

	if resp.RateLimit.Limit > 0 {
		for k, v := range resp.RateLimit.Headers() {
			c.Set(k, v)
		}
	}
	c.Set(middleware.HeaderTokensRemaining, strconv.FormatInt(resp.Usage.TokensRemaining, 10))
	if resp.Cached {
		c.Set(headerCache, "HIT")
	} else {
		c.Set(headerCache, "MISS")
	}

	return c.JSON(fiber.Map{
		"operation": op.Name,
		"result":    resp.Value,
		"cached":    resp.Cached,
		"charged":   resp.Charged,
		"usage":     resp.Usage,
	})
}
