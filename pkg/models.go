package pkg

import "github.com/Egham-7/token-gate/internal/models"

type (
	ServerConfig    = models.ServerConfig
	DatabaseConfig  = models.DatabaseConfig
	RedisConfig     = models.RedisConfig
	CacheConfig     = models.CacheConfig
	LedgerConfig    = models.LedgerConfig
	RateLimitConfig = models.RateLimitConfig
	RateLimitRule   = models.RateLimitRule
	BillingConfig   = models.BillingConfig
	TokenPack       = models.TokenPack
	MetricsConfig   = models.MetricsConfig
	TimeoutConfig   = models.TimeoutConfig
	Tier            = models.Tier
	TierLimits      = models.TierLimits
	UsageSnapshot   = models.UsageSnapshot

	CircuitBreakerConfig = models.CircuitBreakerConfig
)
