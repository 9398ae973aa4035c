package database

import (
	"testing"
	"time"

	"github.com/Egham-7/token-gate/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSQLiteInMemoryAndMigrate(t *testing.T) {
	db, err := New(models.DatabaseConfig{Type: models.SQLite, FilePath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	assert.Equal(t, "sqlite3", db.DriverName())
	require.NoError(t, db.Migrate())

	for _, table := range []string{"accounts", "api_keys", "token_transactions", "usage_events"} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}
	assert.True(t, db.Migrator().HasColumn(&models.Account{}, "balance_total"))
	assert.True(t, db.Migrator().HasColumn(&models.Account{}, "usage_daily_date"))
}

func TestLegacyRowsDefaultToLegacyKind(t *testing.T) {
	db, err := New(models.DatabaseConfig{Type: models.SQLite, FilePath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())

	require.NoError(t, db.Exec("INSERT INTO accounts (id, created_at, updated_at) VALUES ('old', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)").Error)

	var account models.Account
	require.NoError(t, db.First(&account, "id = ?", "old").Error)
	assert.Equal(t, models.AccountKindLegacy, account.Kind)
	assert.True(t, account.IsLegacy())
}

func TestNewRejectsUnknownType(t *testing.T) {
	_, err := New(models.DatabaseConfig{Type: "oracle"})
	assert.Error(t, err)

	_, err = New(models.DatabaseConfig{Type: models.SQLite})
	assert.Error(t, err)
}

func TestDSNBuilders(t *testing.T) {
	cfg := models.DatabaseConfig{
		Host:     "db",
		Port:     5432,
		Username: "gate",
		Password: "pw",
		Database: "tokens",
	}

	pg := postgresDSN(cfg)
	assert.Contains(t, pg, "host=db port=5432 user=gate password=pw dbname=tokens sslmode=disable")
	assert.Contains(t, pg, "TimeZone=UTC")

	cfg.Port = 3306
	assert.Equal(t, "gate:pw@tcp(db:3306)/tokens?parseTime=true&loc=UTC&charset=utf8mb4", mysqlDSN(cfg))

	cfg.DSN = "postgres://explicit"
	assert.Equal(t, "postgres://explicit", postgresDSN(cfg))
	assert.Equal(t, "postgres://explicit", mysqlDSN(cfg))
}

func TestGormClockIsUTC(t *testing.T) {
	assert.Equal(t, time.UTC, gormConfig().NowFunc().Location())
}
