package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Egham-7/token-gate/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
server:
  port: "${TG_TEST_PORT:-9090}"
  allowed_origins: "*"
  admin_token: "${TG_TEST_ADMIN}"
database:
  type: sqlite
  file_path: ":memory:"
ledger:
  timezone: Europe/Berlin
rate_limit:
  enabled: true
  default:
    limit: 10
    window_ms: 1000
  features:
    summarize:
      limit: 2
      window_ms: 60000
billing:
  packs:
    - id: small
      name: Small pack
      tokens: 1000
      price_cents: 500
      currency: usd
`

func TestParseSubstitutesEnvAndDefaults(t *testing.T) {
	t.Setenv("TG_TEST_ADMIN", "s3cret")

	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "s3cret", cfg.Server.AdminToken)
	assert.Equal(t, models.CacheBackendMemory, cfg.Cache.Backend)
	assert.Equal(t, defaultCacheTTL, cfg.Cache.DefaultTTL)
	assert.Equal(t, models.TierFree, cfg.Ledger.DefaultTier)
	assert.True(t, cfg.Ledger.LazyMigrationEnabled())

	assert.Equal(t, 2, cfg.RateLimit.Rule("summarize").Limit)
	assert.Equal(t, 10, cfg.RateLimit.Rule("unknown").Limit)

	pack, ok := cfg.Billing.Pack("small")
	require.True(t, ok)
	assert.Equal(t, int64(1000), pack.Tokens)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", loc.String())

	require.NoError(t, cfg.Validate())
}

func TestParseEnvOverridesDefault(t *testing.T) {
	t.Setenv("TG_TEST_PORT", "7000")

	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, "7000", cfg.Server.Port)
}

func TestValidateReportsMissingFields(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()
	cfg.Cache.Backend = models.CacheBackendRedis
	cfg.Billing.Enabled = true

	err := cfg.Validate()
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ElementsMatch(t, []string{
		"server.allowed_origins",
		"database",
		"redis.url",
		"billing.stripe.secret_key",
		"billing.stripe.webhook_secret",
	}, verr.MissingFields)
}

func TestValidateRejectsBadTimezone(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)
	cfg.Ledger.Timezone = "Mars/Olympus"

	assert.Error(t, cfg.Validate())
}

func TestLoadFromFileRejectsUnsafePaths(t *testing.T) {
	_, err := LoadFromFile("../config.yaml")
	assert.Error(t, err)

	_, err = LoadFromFile("config.json")
	assert.Error(t, err)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, models.SQLite, cfg.Database.Type)
}
