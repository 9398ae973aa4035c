// Package config provides fluent configuration builders for the token gate server.
package config

import (
	"time"

	"github.com/Egham-7/token-gate/internal/config"
	"github.com/Egham-7/token-gate/internal/models"
	"github.com/Egham-7/token-gate/internal/services/gate"

	"github.com/gofiber/fiber/v2"
)

// Builder provides a fluent interface for building server configurations.
type Builder struct {
	cfg           *config.Config
	middlewares   []fiber.Handler
	timeoutConfig *models.TimeoutConfig
	operations    []*gate.Operation
}

// New creates a new configuration builder with minimal defaults.
func New() *Builder {
	cfg := &config.Config{
		Server: models.ServerConfig{
			Port:           "8080",
			AllowedOrigins: "*",
			Environment:    "development",
			LogLevel:       "info",
		},
		RateLimit: models.RateLimitConfig{
			Enabled: true,
		},
		Cache: models.CacheConfig{
			Enabled: true,
		},
	}
	cfg.ApplyDefaults()

	return &Builder{
		cfg:         cfg,
		middlewares: []fiber.Handler{},
	}
}

// Server configuration

// Port sets the server port.
func (b *Builder) Port(port string) *Builder {
	b.cfg.Server.Port = port
	return b
}

// AllowedOrigins sets CORS allowed origins.
func (b *Builder) AllowedOrigins(origins string) *Builder {
	b.cfg.Server.AllowedOrigins = origins
	return b
}

// Environment sets the environment (development/production).
func (b *Builder) Environment(env string) *Builder {
	b.cfg.Server.Environment = env
	return b
}

// LogLevel sets the logging level (trace, debug, info, warn, error, fatal).
func (b *Builder) LogLevel(level string) *Builder {
	b.cfg.Server.LogLevel = level
	return b
}

// AdminToken enables the /admin routes behind a static bearer token.
func (b *Builder) AdminToken(token string) *Builder {
	b.cfg.Server.AdminToken = token
	return b
}

// Storage

// WithDatabase sets the account datastore.
func (b *Builder) WithDatabase(cfg models.DatabaseConfig) *Builder {
	b.cfg.Database = &cfg
	return b
}

// WithRedis backs the cache and rate-limit windows with Redis.
func (b *Builder) WithRedis(url string) *Builder {
	b.cfg.Redis.URL = url
	b.cfg.Cache.Backend = models.CacheBackendRedis
	return b
}

// WithCache configures result caching.
func (b *Builder) WithCache(cfg models.CacheConfig) *Builder {
	if cfg.Backend == "" {
		cfg.Backend = b.cfg.Cache.Backend
	}
	b.cfg.Cache = cfg
	b.cfg.ApplyDefaults()
	return b
}

// Ledger

// WithLedger sets the day-boundary timezone, default tier and migration mode.
func (b *Builder) WithLedger(cfg models.LedgerConfig) *Builder {
	b.cfg.Ledger = cfg
	b.cfg.ApplyDefaults()
	return b
}

// WithMigrationScheduler runs the legacy account migration in the background.
func (b *Builder) WithMigrationScheduler(interval time.Duration, batch int) *Builder {
	b.cfg.Scheduler = models.SchedulerConfig{
		MigrationEnabled:  true,
		MigrationInterval: int(interval / time.Second),
		MigrationBatch:    batch,
	}
	b.cfg.ApplyDefaults()
	return b
}

// Billing and metrics

// WithBilling enables Stripe token-pack checkout.
func (b *Builder) WithBilling(cfg models.BillingConfig) *Builder {
	cfg.Enabled = true
	b.cfg.Billing = cfg
	return b
}

// WithMetrics exposes Prometheus metrics on /metrics.
func (b *Builder) WithMetrics(namespace string) *Builder {
	b.cfg.Metrics = models.MetricsConfig{Enabled: true, Namespace: namespace}
	b.cfg.ApplyDefaults()
	return b
}

// Middleware configuration

// WithRateLimit sets the default per-feature window.
func (b *Builder) WithRateLimit(limit int, window time.Duration) *Builder {
	b.cfg.RateLimit.Enabled = true
	b.cfg.RateLimit.Default = models.RateLimitRule{Limit: limit, WindowMs: int(window / time.Millisecond)}
	return b
}

// WithFeatureRateLimit overrides the window for one feature.
func (b *Builder) WithFeatureRateLimit(feature string, limit int, window time.Duration) *Builder {
	if b.cfg.RateLimit.Features == nil {
		b.cfg.RateLimit.Features = make(map[string]models.RateLimitRule)
	}
	b.cfg.RateLimit.Features[feature] = models.RateLimitRule{Limit: limit, WindowMs: int(window / time.Millisecond)}
	return b
}

// WithCircuitBreaker trips an operation after failureThreshold consecutive failures
// and lets a probe through after timeout.
func (b *Builder) WithCircuitBreaker(failureThreshold int, timeout time.Duration) *Builder {
	b.cfg.CircuitBreaker = models.CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: failureThreshold,
		TimeoutMs:        int(timeout / time.Millisecond),
	}
	return b
}

// WithTimeout configures request timeout middleware.
func (b *Builder) WithTimeout(timeout time.Duration) *Builder {
	b.timeoutConfig = &models.TimeoutConfig{
		Timeout: timeout,
	}
	return b
}

// WithMiddleware adds a custom middleware.
func (b *Builder) WithMiddleware(middleware fiber.Handler) *Builder {
	b.middlewares = append(b.middlewares, middleware)
	return b
}

// WithOperation registers a metered operation under /v1/ops/<name>.
// Operations without a rate limit inherit the configured rule for their name.
func (b *Builder) WithOperation(op *gate.Operation) *Builder {
	b.operations = append(b.operations, op)
	return b
}

// GetMiddlewares returns all configured middlewares.
func (b *Builder) GetMiddlewares() []fiber.Handler {
	return b.middlewares
}

// GetTimeoutConfig returns the timeout configuration.
func (b *Builder) GetTimeoutConfig() *models.TimeoutConfig {
	return b.timeoutConfig
}

// GetOperations returns the registered operations.
func (b *Builder) GetOperations() []*gate.Operation {
	return b.operations
}

// Build returns the constructed configuration.
func (b *Builder) Build() *config.Config {
	return b.cfg
}

// FromYAML creates a Builder from a YAML configuration file.
// The envFiles parameter specifies which .env files to load before parsing the YAML config.
// Files are loaded in order (first has highest priority).
// Example: builder, err := config.FromYAML("config.yaml", []string{".env.local", ".env"})
func FromYAML(path string, envFiles []string) (*Builder, error) {
	if len(envFiles) > 0 {
		config.LoadEnvFiles(envFiles)
	}

	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return nil, err
	}

	return builderFromConfig(cfg), nil
}

func builderFromConfig(cfg *config.Config) *Builder {
	return &Builder{
		cfg:         cfg,
		middlewares: []fiber.Handler{},
	}
}
