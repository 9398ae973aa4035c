package api

import (
	"context"
	"sync"
	"time"

	"github.com/Egham-7/token-gate/internal/services/database"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const healthCheckTimeout = 2 * time.Second

// HealthHandler handles health check requests
type HealthHandler struct {
	db          *database.DB
	redisClient *redis.Client
}

// NewHealthHandler creates a new health check handler. redisClient may be nil
// when the memory backend is configured.
func NewHealthHandler(db *database.DB, redisClient *redis.Client) *HealthHandler {
	return &HealthHandler{
		db:          db,
		redisClient: redisClient,
	}
}

// HealthCheck returns the health status of the service and its dependencies
func (h *HealthHandler) HealthCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), healthCheckTimeout)
	defer cancel()

	var (
		mu     sync.Mutex
		checks = fiber.Map{}
	)
	set := func(name, status string) {
		mu.Lock()
		checks[name] = status
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if h.db == nil {
			set("database", "unknown")
			return nil
		}
		if err := h.db.PingContext(gctx); err != nil {
			set("database", "unhealthy")
			return err
		}
		set("database", "healthy")
		return nil
	})
	g.Go(func() error {
		if h.redisClient == nil {
			set("redis", "disabled")
			return nil
		}
		if err := h.redisClient.Ping(gctx).Err(); err != nil {
			set("redis", "unhealthy")
			return err
		}
		set("redis", "healthy")
		return nil
	})

	overallStatus := "healthy"
	statusCode := fiber.StatusOK
	if err := g.Wait(); err != nil {
		overallStatus = "degraded"
		statusCode = fiber.StatusServiceUnavailable
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	})
}
