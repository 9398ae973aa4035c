package database

import (
	"fmt"

	"github.com/Egham-7/token-gate/internal/models"
	"gorm.io/driver/mysql"
)

// mysqlDSN reads DATETIME columns back as UTC time.Time values.
func mysqlDSN(config models.DatabaseConfig) string {
	if config.DSN != "" {
		return config.DSN
	}
	return fmt.Sprintf(
		"%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=UTC&charset=utf8mb4",
		config.Username,
		config.Password,
		config.Host,
		config.Port,
		config.Database,
	)
}

func newMySQL(config models.DatabaseConfig) (*DB, error) {
	return open(mysql.Open(mysqlDSN(config)), config, "mysql")
}
