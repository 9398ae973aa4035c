package models

// CacheBackendType selects where cache entries and rate-limit windows live.
type CacheBackendType string

const (
	CacheBackendRedis  CacheBackendType = "redis"
	CacheBackendMemory CacheBackendType = "memory"
)

type RedisConfig struct {
	URL string `json:"url,omitzero" yaml:"url"`
}

type CacheConfig struct {
	Backend    CacheBackendType `json:"backend,omitzero" yaml:"backend"`
	Enabled    bool             `json:"enabled,omitzero" yaml:"enabled"`
	DefaultTTL int              `json:"default_ttl,omitzero" yaml:"default_ttl"` // seconds
	KeyPrefix  string           `json:"key_prefix,omitzero" yaml:"key_prefix"`
}
