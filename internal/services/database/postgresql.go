package database

import (
	"fmt"

	"github.com/Egham-7/token-gate/internal/models"
	"gorm.io/driver/postgres"
)

// postgresDSN pins the session to UTC so day keys computed in Go agree with
// timestamps the database writes.
func postgresDSN(config models.DatabaseConfig) string {
	if config.DSN != "" {
		return config.DSN
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC application_name=token-gate",
		config.Host,
		config.Port,
		config.Username,
		config.Password,
		config.Database,
		getSSLMode(config.SSLMode),
	)
}

func newPostgreSQL(config models.DatabaseConfig) (*DB, error) {
	return open(postgres.Open(postgresDSN(config)), config, "postgres")
}

func getSSLMode(mode string) string {
	if mode == "" {
		return "disable"
	}
	return mode
}
