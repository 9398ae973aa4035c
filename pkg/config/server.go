package config

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/Egham-7/token-gate/internal/api"
	"github.com/Egham-7/token-gate/internal/config"
	"github.com/Egham-7/token-gate/internal/models"
	"github.com/Egham-7/token-gate/internal/services/apikey"
	"github.com/Egham-7/token-gate/internal/services/auth"
	"github.com/Egham-7/token-gate/internal/services/billing"
	"github.com/Egham-7/token-gate/internal/services/cache"
	"github.com/Egham-7/token-gate/internal/services/circuitbreaker"
	"github.com/Egham-7/token-gate/internal/services/database"
	"github.com/Egham-7/token-gate/internal/services/gate"
	"github.com/Egham-7/token-gate/internal/services/ledger"
	"github.com/Egham-7/token-gate/internal/services/metrics"
	"github.com/Egham-7/token-gate/internal/services/middleware"
	"github.com/Egham-7/token-gate/internal/services/ratelimit"
	"github.com/Egham-7/token-gate/internal/services/scheduler"
	"github.com/Egham-7/token-gate/internal/services/usage"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/pprof"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/middleware/timeout"
	"github.com/redis/go-redis/v9"
)

const (
	usageWorkerPool     = 4
	usageWorkerBuffer   = 1024
	memoryPurgeInterval = time.Minute
	shutdownTimeout     = 30 * time.Second
)

// Server represents a token gate server instance.
type Server struct {
	config   *config.Config
	app      *fiber.App
	redis    *redis.Client
	db       *database.DB
	builder  *Builder
	registry *gate.Registry
	services *serverServices
}

type serverServices struct {
	ledger    *ledger.Service
	keys      *apikey.Service
	auth      *auth.Authenticator
	limiter   *ratelimit.Limiter
	cache     *cache.Store
	usage     *usage.Service
	worker    *usage.Worker
	gate      *gate.Gate
	stripe    *billing.StripeService
	scheduler *scheduler.MigrationScheduler
	purger    *scheduler.PurgeScheduler
	metrics   *metrics.Recorder
}

type serverInfrastructure struct {
	redis *redis.Client
	db    *database.DB
}

// NewServer creates a new Server with the given configuration.
// The cfg parameter is required and must not be nil.
func NewServer(cfg *config.Config) *Server {
	if cfg == nil {
		panic("config cannot be nil - use config.LoadFromFile() or config builder to create config")
	}

	return &Server{
		config:   cfg,
		registry: gate.NewRegistry(),
	}
}

// NewServerWithBuilder creates a new Server from a configuration builder,
// including its middlewares and operations.
func NewServerWithBuilder(b *Builder) *Server {
	return &Server{
		config:   b.Build(),
		builder:  b,
		registry: gate.NewRegistry(),
	}
}

// Register adds a metered operation. Call before Setup.
func (s *Server) Register(op *gate.Operation) error {
	if op != nil && op.RateLimit.Limit == 0 && s.config.RateLimit.Enabled {
		op.RateLimit = s.config.RateLimit.Rule(op.Name)
	}
	return s.registry.Register(op)
}

// App returns the fiber app once Setup has run.
func (s *Server) App() *fiber.App {
	return s.app
}

// Ledger returns the token ledger once Setup has run.
func (s *Server) Ledger() *ledger.Service {
	if s.services == nil {
		return nil
	}
	return s.services.ledger
}

// Setup validates configuration and wires infrastructure, services,
// middleware and routes without listening.
func (s *Server) Setup() error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	setupLogLevel(s.config)

	if s.builder != nil {
		for _, op := range s.builder.GetOperations() {
			if err := s.Register(op); err != nil {
				return fmt.Errorf("failed to register operation: %w", err)
			}
		}
	}

	s.app = createFiberApp(s.config)

	infra, err := initializeInfrastructure(s.config)
	if err != nil {
		return err
	}
	s.redis = infra.redis
	s.db = infra.db

	services, err := initializeServices(s.config, infra)
	if err != nil {
		s.Close()
		return err
	}
	s.services = services

	setupMiddleware(s.app, s.config, s.builder)
	setupRoutes(s.app, s.config, infra, services, s.registry)

	s.app.Get("/", welcomeHandler(s.registry))
	return nil
}

// Close stops background workers and releases connections.
func (s *Server) Close() {
	if s.services != nil {
		if s.services.scheduler != nil {
			s.services.scheduler.Stop()
		}
		if s.services.purger != nil {
			s.services.purger.Stop()
		}
		if s.services.worker != nil {
			s.services.worker.Stop()
		}
		if s.services.metrics != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.services.metrics.Shutdown(ctx); err != nil {
				fiberlog.Errorf("Failed to shut down metrics: %v", err)
			}
			cancel()
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			fiberlog.Errorf("Failed to close Redis client: %v", err)
		}
		s.redis = nil
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			fiberlog.Errorf("Failed to close database connection: %v", err)
		}
		s.db = nil
	}
}

// Run starts the server and blocks until shutdown.
func (s *Server) Run() error {
	if err := s.Setup(); err != nil {
		return err
	}
	defer s.Close()

	listenAddr := ":" + s.config.Server.Port

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if s.services.scheduler != nil {
		go s.services.scheduler.Start(ctx)
	}
	if s.services.purger != nil {
		go s.services.purger.Start(ctx)
	}

	fmt.Printf("token-gate starting on %s\n", listenAddr)
	fmt.Printf("   Environment: %s\n", s.config.Server.Environment)
	fmt.Printf("   Operations: %s\n", strings.Join(s.registry.Names(), ", "))
	fmt.Printf("   Go version: %s\n", runtime.Version())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		if err := s.app.Listen(listenAddr); err != nil {
			serverErrChan <- err
		}
	}()

	select {
	case sig := <-sigChan:
		fiberlog.Infof("Received signal: %v. Starting graceful shutdown...", sig)
	case err := <-serverErrChan:
		return fmt.Errorf("server error: %w", err)
	}

	fiberlog.Info("Server shutting down gracefully...")
	if err := s.app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	fiberlog.Info("Server shutdown completed successfully")
	return nil
}

func createFiberApp(cfg *config.Config) *fiber.App {
	isProd := cfg.IsProduction()

	return fiber.New(fiber.Config{
		AppName:           "token-gate v1.0",
		EnablePrintRoutes: !isProd,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
		ReadBufferSize:    8192,
		WriteBufferSize:   8192,
		CaseSensitive:     true,
		StrictRouting:     false,
		Network:           "tcp",
		ServerHeader:      "token-gate",
	})
}

func setupMiddleware(app *fiber.App, cfg *config.Config, b *Builder) {
	isProd := cfg.IsProduction()

	// Recover middleware (must be first)
	app.Use(recover.New(recover.Config{
		EnableStackTrace: !isProd,
	}))

	app.Use(requestid.New())

	if b != nil && b.GetTimeoutConfig() != nil {
		timeoutDuration := b.GetTimeoutConfig().Timeout
		app.Use(func(c *fiber.Ctx) error {
			handler := func(c *fiber.Ctx) error {
				return c.Next()
			}
			return timeout.NewWithContext(handler, timeoutDuration)(c)
		})
	} else {
		app.Use(func(c *fiber.Ctx) error {
			const (
				defaultTimeout = 30 * time.Second
				maxTimeout     = 2 * time.Minute
			)

			timeout := defaultTimeout
			if customTimeout := c.Get("X-Request-Timeout"); customTimeout != "" {
				if d, err := time.ParseDuration(customTimeout); err == nil && d > 0 {
					timeout = min(d, maxTimeout)
				}
			}

			ctx, cancel := context.WithTimeout(c.UserContext(), timeout)
			defer cancel()
			c.SetUserContext(ctx)

			return c.Next()
		})
	}

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	if isProd {
		app.Use(logger.New(logger.Config{
			Format: "${time} ${status} ${method} ${path} ${latency} ${bytesSent}b\n",
			Output: os.Stdout,
		}))
	} else {
		app.Use(logger.New(logger.Config{
			Format: "[${time}] ${locals:requestid} ${status} - ${latency} ${method} ${path} ${error}\n",
			Output: os.Stdout,
		}))
	}

	allowedHeaders := []string{
		"Origin", "Content-Type", "Accept", "Authorization", "User-Agent",
		"X-API-Key", "X-Stainless-API-Key", "X-Request-Timeout",
	}
	exposedHeaders := []string{
		"Content-Length", "Content-Type", "X-Request-ID",
		ratelimit.HeaderLimit, ratelimit.HeaderRemaining, ratelimit.HeaderReset, ratelimit.HeaderRetryAfter,
		middleware.HeaderTokensRemaining,
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowHeaders:     strings.Join(allowedHeaders, ", "),
		AllowMethods:     "GET, POST, PUT, DELETE, OPTIONS",
		AllowCredentials: cfg.Server.AllowedOrigins != "*",
		MaxAge:           86400,
		ExposeHeaders:    strings.Join(exposedHeaders, ", "),
	}))

	if b != nil {
		for _, mw := range b.GetMiddlewares() {
			app.Use(mw)
		}
	}

	// Profiler (dev only)
	if !isProd {
		app.Use(pprof.New())
	}
}

func setupRoutes(app *fiber.App, cfg *config.Config, infra *serverInfrastructure, svc *serverServices, registry *gate.Registry) {
	health := api.NewHealthHandler(infra.db, infra.redis)
	app.Get("/health", health.HealthCheck)

	if svc.metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(svc.metrics.Handler()))
	}

	creds := middleware.NewCredentialMiddleware(svc.auth)
	limits := middleware.NewRateLimitMiddleware(svc.limiter, cfg.RateLimit)
	tracker := middleware.NewUsageTracker(svc.worker)

	v1 := app.Group("/v1", tracker.Track())

	usageHandler := api.NewUsageHandler(svc.usage, svc.limiter, cfg.RateLimit, registry.Names())
	v1.Get("/usage", creds.Require(0), usageHandler.GetUsage)
	v1.Get("/usage/stats", creds.Require(0), usageHandler.GetStats)
	v1.Get("/usage/events", creds.Require(0), usageHandler.ListEvents)

	ops := api.NewOpsHandler(svc.gate, registry, creds)
	v1.Get("/ops", ops.List)
	v1.Post("/ops/:operation", ops.Execute)

	if svc.stripe != nil {
		billingHandler := api.NewBillingHandler(svc.stripe)
		v1.Get("/billing/packs", billingHandler.ListPacks)
		v1.Post("/billing/checkout", creds.Require(0), limits.ForFeature("checkout"), billingHandler.CreateCheckoutSession)
		app.Post("/webhooks/stripe", billingHandler.HandleWebhook)
	}

	adminHandler := api.NewAdminHandler(svc.ledger)
	keyHandler := api.NewAPIKeyHandler(svc.keys)

	if !cfg.Server.AdminEnabled() {
		fiberlog.Warn("Admin API disabled: server.admin_token is not set")
	}
	admin := app.Group("/admin", middleware.AdminMiddleware(cfg.Server.AdminToken))
	admin.Post("/accounts", adminHandler.CreateAccount)
	admin.Post("/accounts/migrate", adminHandler.MigrateLegacyAccounts)
	admin.Get("/accounts/:id", adminHandler.GetAccount)
	admin.Put("/accounts/:id/tier", adminHandler.UpgradeTier)
	admin.Post("/accounts/:id/tokens", adminHandler.AddTokens)
	admin.Get("/accounts/:id/transactions", adminHandler.ListTransactions)
	admin.Post("/accounts/:id/api-keys", keyHandler.CreateAPIKey)
	admin.Get("/accounts/:id/api-keys", keyHandler.ListAPIKeys)
	admin.Delete("/accounts/:id/api-keys/:key_id", keyHandler.RevokeAPIKey)
}

func welcomeHandler(registry *gate.Registry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"message":    "token-gate",
			"version":    "1.0.0",
			"go_version": runtime.Version(),
			"status":     "running",
			"operations": registry.Names(),
			"endpoints": fiber.Map{
				"usage":  "/v1/usage",
				"ops":    "/v1/ops/:operation",
				"health": "/health",
			},
		})
	}
}

func setupLogLevel(cfg *config.Config) {
	logLevel := cfg.GetNormalizedLogLevel()

	switch logLevel {
	case "trace":
		fiberlog.SetLevel(fiberlog.LevelTrace)
	case "debug":
		fiberlog.SetLevel(fiberlog.LevelDebug)
	case "info":
		fiberlog.SetLevel(fiberlog.LevelInfo)
	case "warn", "warning":
		fiberlog.SetLevel(fiberlog.LevelWarn)
	case "error":
		fiberlog.SetLevel(fiberlog.LevelError)
	case "fatal":
		fiberlog.SetLevel(fiberlog.LevelFatal)
	case "panic":
		fiberlog.SetLevel(fiberlog.LevelPanic)
	default:
		fiberlog.SetLevel(fiberlog.LevelInfo)
		fiberlog.Warnf("Unknown log level '%s', defaulting to 'info'", logLevel)
	}

	fiberlog.Infof("Log level set to: %s", logLevel)
}

func createRedisClient(cfg *config.Config) (*redis.Client, error) {
	if cfg.Redis.URL == "" {
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opt.PoolSize = 50
	opt.MinIdleConns = 10
	opt.PoolTimeout = 4 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute
	opt.ConnMaxLifetime = 30 * time.Minute
	opt.DialTimeout = 10 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second
	opt.MaxRetries = 3
	opt.MinRetryBackoff = 8 * time.Millisecond
	opt.MaxRetryBackoff = 512 * time.Millisecond

	fiberlog.Debugf("Redis client configuration: PoolSize=%d, MinIdle=%d, MaxRetries=%d",
		opt.PoolSize, opt.MinIdleConns, opt.MaxRetries)

	return testRedisConnectionWithRetry(redis.NewClient(opt))
}

func testRedisConnectionWithRetry(client *redis.Client) (*redis.Client, error) {
	const maxAttempts = 3
	const baseDelay = 1 * time.Second

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Ping(ctx).Err()
		cancel()

		if err == nil {
			fiberlog.Infof("Redis connection established successfully (attempt %d/%d)", attempt, maxAttempts)
			return client, nil
		}

		fiberlog.Warnf("Redis connection failed (attempt %d/%d): %v", attempt, maxAttempts, err)

		if attempt < maxAttempts {
			delay := time.Duration(attempt) * baseDelay
			fiberlog.Infof("Retrying Redis connection in %v...", delay)
			time.Sleep(delay)
		}
	}

	if err := client.Close(); err != nil {
		fiberlog.Errorf("Failed to close Redis client after connection failures: %v", err)
	}

	return nil, fmt.Errorf("failed to connect to Redis after %d attempts", maxAttempts)
}

func runDatabaseMigrations(db *database.DB) error {
	if err := db.Migrate(); err != nil {
		return err
	}
	if err := apikey.Migrate(db.DB); err != nil {
		return fmt.Errorf("failed to migrate api_keys indexes: %w", err)
	}
	return nil
}

func initializeInfrastructure(cfg *config.Config) (*serverInfrastructure, error) {
	infra := &serverInfrastructure{}

	if cfg.Cache.Backend == models.CacheBackendRedis {
		redisClient, err := createRedisClient(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create Redis client: %w", err)
		}
		infra.redis = redisClient
		fiberlog.Info("Redis client initialized successfully")
	} else {
		fiberlog.Info("Using in-process cache and rate-limit windows")
	}

	db, err := database.New(*cfg.Database)
	if err != nil {
		if infra.redis != nil {
			_ = infra.redis.Close()
		}
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}
	infra.db = db
	fiberlog.Infof("Database (%s) initialized successfully", db.DriverName())

	if err := runDatabaseMigrations(db); err != nil {
		_ = db.Close()
		if infra.redis != nil {
			_ = infra.redis.Close()
		}
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}
	fiberlog.Info("Database migrations completed successfully")

	return infra, nil
}

func initializeServices(cfg *config.Config, infra *serverInfrastructure) (*serverServices, error) {
	recorder, err := metrics.New(cfg.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	svc := &serverServices{metrics: recorder}

	svc.ledger = ledger.NewService(infra.db.DB,
		ledger.WithLocation(loc),
		ledger.WithDefaultTier(cfg.Ledger.DefaultTier),
		ledger.WithLazyMigration(cfg.Ledger.LazyMigrationEnabled()),
		ledger.WithMetrics(recorder),
	)
	svc.keys = apikey.NewService(infra.db.DB, svc.ledger)
	svc.auth = auth.NewAuthenticator(svc.keys, svc.ledger, auth.WithMetrics(recorder))

	var (
		backend cache.Backend
		counter cache.WindowCounter
	)
	if infra.redis != nil {
		backend = cache.NewRedisBackend(infra.redis)
		counter = cache.NewRedisWindowCounter(infra.redis, cfg.Cache.KeyPrefix)
	} else {
		memBackend := cache.NewMemoryBackend()
		memCounter := cache.NewMemoryWindowCounter()
		svc.purger = scheduler.NewPurgeScheduler(memoryPurgeInterval, memBackend, memCounter)
		backend = memBackend
		counter = memCounter
	}

	svc.limiter = ratelimit.New(counter, ratelimit.WithMetrics(recorder))
	svc.cache = cache.NewStore(backend,
		cache.WithKeyPrefix(cfg.Cache.KeyPrefix),
		cache.WithDefaultTTL(time.Duration(cfg.Cache.DefaultTTL)*time.Second),
		cache.WithMetrics(recorder),
	)

	svc.usage = usage.NewService(infra.db.DB)
	svc.worker = usage.NewWorker(svc.usage, usageWorkerPool, usageWorkerBuffer)

	gateOpts := []gate.Option{
		gate.WithUsageRecorder(svc.worker),
		gate.WithMetrics(recorder),
	}
	if cfg.RateLimit.Enabled {
		gateOpts = append(gateOpts, gate.WithLimiter(svc.limiter))
	}
	if cfg.Cache.Enabled {
		gateOpts = append(gateOpts, gate.WithCache(svc.cache))
	}
	if cfg.CircuitBreaker.Enabled {
		breakerCfg := circuitbreaker.ConfigFrom(cfg.CircuitBreaker)
		if infra.redis != nil {
			gateOpts = append(gateOpts, gate.WithBreakers(circuitbreaker.NewRedisPool(infra.redis, cfg.Cache.KeyPrefix, breakerCfg)))
		} else {
			gateOpts = append(gateOpts, gate.WithBreakers(circuitbreaker.NewLocalPool(breakerCfg)))
		}
	}
	svc.gate = gate.New(svc.auth, svc.ledger, gateOpts...)

	if cfg.Billing.Enabled {
		svc.stripe = billing.NewStripeService(cfg.Billing, svc.ledger)
	}

	if cfg.Scheduler.MigrationEnabled {
		svc.scheduler = scheduler.NewMigrationScheduler(svc.ledger, cfg.MigrationInterval(), cfg.Scheduler.MigrationBatch)
	}

	return svc, nil
}
