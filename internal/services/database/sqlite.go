package database

import (
	"fmt"
	"strings"

	"github.com/Egham-7/token-gate/internal/models"
	"gorm.io/driver/sqlite"
)

func newSQLite(config models.DatabaseConfig) (*DB, error) {
	if config.FilePath == "" {
		return nil, fmt.Errorf("file_path is required for SQLite")
	}

	// Every connection to :memory: is a separate database.
	if isInMemory(config.FilePath) {
		config.MaxOpenConns = 1
		config.MaxIdleConns = 1
	}

	return open(sqlite.Open(config.FilePath), config, "sqlite3")
}

func isInMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}
