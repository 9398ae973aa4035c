package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/Egham-7/token-gate/internal/models"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultPort              = "8080"
	defaultLogLevel          = "info"
	defaultCacheTTL          = 3600
	defaultRateLimit         = 60
	defaultRateWindowMs      = 60_000
	defaultMigrationInterval = 300
	defaultMigrationBatch    = 100
	defaultMetricsNamespace  = "token_gate"
)

var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::(-[^}]*))?\}`)

// Config represents the complete application configuration
type Config struct {
	Server    models.ServerConfig    `yaml:"server"`
	Database  *models.DatabaseConfig `yaml:"database,omitempty"`
	Redis     models.RedisConfig     `yaml:"redis"`
	Ledger    models.LedgerConfig    `yaml:"ledger"`
	RateLimit models.RateLimitConfig `yaml:"rate_limit"`
	Cache     models.CacheConfig     `yaml:"cache"`
	Billing   models.BillingConfig   `yaml:"billing"`
	Metrics   models.MetricsConfig   `yaml:"metrics"`
	Scheduler models.SchedulerConfig `yaml:"scheduler"`

	CircuitBreaker models.CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// LoadFromFile loads configuration from a YAML file with environment variable substitution
func LoadFromFile(configPath string) (*Config, error) {
	cleanPath := filepath.Clean(configPath)

	if strings.Contains(cleanPath, "..") {
		return nil, fmt.Errorf("invalid config path: path traversal not allowed")
	}

	ext := filepath.Ext(cleanPath)
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("invalid config file: only .yaml and .yml files are allowed")
	}

	data, err := os.ReadFile(cleanPath) // #nosec G304 - path is validated above
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", cleanPath, err)
	}

	return Parse(data)
}

// Parse decodes YAML bytes after environment substitution and applies defaults.
func Parse(data []byte) (*Config, error) {
	content := substituteEnvVars(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(content), &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	config.ApplyDefaults()
	return &config, nil
}

// LoadEnvFiles loads environment variables from .env files in order of precedence
// Loads files in the order provided (first has highest priority)
func LoadEnvFiles(envFiles []string) {
	for _, envFile := range envFiles {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err == nil {
				fiberlog.Infof("Loaded environment variables from %s", envFile)
			}
		}
	}
}

// New creates a new Config instance by loading from the specified config file path
func New(configPath string) (*Config, error) {
	return LoadFromFile(configPath)
}

// substituteEnvVars replaces ${VAR_NAME} and ${VAR_NAME:-default} patterns with environment variables
func substituteEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		defaultValue := ""
		if len(submatches) > 2 && submatches[2] != "" {
			defaultValue = strings.TrimPrefix(submatches[2], "-")
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

// ApplyDefaults fills zero values with documented defaults. It is idempotent.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = defaultPort
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = defaultLogLevel
	}
	if c.Server.Environment == "" {
		c.Server.Environment = "development"
	}
	if c.Ledger.Timezone == "" {
		c.Ledger.Timezone = "UTC"
	}
	if c.Ledger.DefaultTier == "" {
		c.Ledger.DefaultTier = models.TierFree
	}
	if c.Cache.Backend == "" {
		if c.Redis.URL != "" {
			c.Cache.Backend = models.CacheBackendRedis
		} else {
			c.Cache.Backend = models.CacheBackendMemory
		}
	}
	if c.Cache.DefaultTTL <= 0 {
		c.Cache.DefaultTTL = defaultCacheTTL
	}
	if c.RateLimit.Default.Limit <= 0 {
		c.RateLimit.Default.Limit = defaultRateLimit
	}
	if c.RateLimit.Default.WindowMs <= 0 {
		c.RateLimit.Default.WindowMs = defaultRateWindowMs
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = defaultMetricsNamespace
	}
	if c.Scheduler.MigrationInterval <= 0 {
		c.Scheduler.MigrationInterval = defaultMigrationInterval
	}
	if c.Scheduler.MigrationBatch <= 0 {
		c.Scheduler.MigrationBatch = defaultMigrationBatch
	}
}

// GetNormalizedLogLevel returns the log level in lowercase for consistent comparison
func (c *Config) GetNormalizedLogLevel() string {
	return strings.ToLower(c.Server.LogLevel)
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// Location resolves the ledger's day-boundary timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Ledger.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Ledger.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid ledger.timezone %q: %w", c.Ledger.Timezone, err)
	}
	return loc, nil
}

// MigrationInterval returns the legacy account migration interval.
func (c *Config) MigrationInterval() time.Duration {
	return time.Duration(c.Scheduler.MigrationInterval) * time.Second
}

// Validate checks if all required configuration values are set
func (c *Config) Validate() error {
	var missing []string

	if c.Server.Port == "" {
		missing = append(missing, "server.port")
	}
	if c.Server.AllowedOrigins == "" {
		missing = append(missing, "server.allowed_origins")
	}
	if c.Database == nil {
		missing = append(missing, "database")
	}
	if c.Cache.Backend == models.CacheBackendRedis && c.Redis.URL == "" {
		missing = append(missing, "redis.url")
	}
	if c.Billing.Enabled {
		if c.Billing.Stripe.SecretKey == "" {
			missing = append(missing, "billing.stripe.secret_key")
		}
		if c.Billing.Stripe.WebhookSecret == "" {
			missing = append(missing, "billing.stripe.webhook_secret")
		}
	}

	if len(missing) > 0 {
		return &ValidationError{MissingFields: missing}
	}

	if c.Ledger.DefaultTier != "" && !c.Ledger.DefaultTier.Valid() {
		return fmt.Errorf("ledger.default_tier: %w: %q", models.ErrUnknownTier, c.Ledger.DefaultTier)
	}
	if _, err := c.Location(); err != nil {
		return err
	}

	return nil
}

// ValidationError represents configuration validation errors
type ValidationError struct {
	MissingFields []string
}

func (e *ValidationError) Error() string {
	return "missing required configuration fields: " + strings.Join(e.MissingFields, ", ")
}
