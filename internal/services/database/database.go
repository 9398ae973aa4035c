package database

import (
	"context"
	"fmt"
	"time"

	"github.com/Egham-7/token-gate/internal/models"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type DB struct {
	*gorm.DB
	config     models.DatabaseConfig
	driverName string
}

func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (db *DB) Ping() error {
	return db.PingContext(context.Background())
}

func (db *DB) PingContext(ctx context.Context) error {
	if db.DB == nil {
		return fmt.Errorf("database not connected")
	}
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (db *DB) DriverName() string {
	return db.driverName
}

// Migrate creates or updates every table the gate owns. Existing account rows
// without a kind column are tagged legacy by the column default.
func (db *DB) Migrate() error {
	if err := db.AutoMigrate(
		&models.Account{},
		&models.APIKey{},
		&models.TokenTransaction{},
		&models.UsageEvent{},
	); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	fiberlog.Infof("Database schema migrated (%s)", db.driverName)
	return nil
}

func (db *DB) setConnectionPool() {
	if db.DB == nil {
		return
	}

	sqlDB, err := db.DB.DB()
	if err != nil {
		return
	}

	if db.config.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(db.config.MaxOpenConns)
	}
	if db.config.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(db.config.MaxIdleConns)
	}
	if db.config.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(db.config.ConnMaxLifetimeDuration())
	}
}

const pingTimeout = 5 * time.Second

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// open connects through dialector, applies pool limits and verifies the
// connection. A connection that cannot be pinged is closed again.
func open(dialector gorm.Dialector, config models.DatabaseConfig, driverName string) (*DB, error) {
	gormDB, err := gorm.Open(dialector, gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", driverName, err)
	}

	db := &DB{
		DB:         gormDB,
		config:     config,
		driverName: driverName,
	}
	db.setConnectionPool()

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", driverName, err)
	}

	return db, nil
}

func New(config models.DatabaseConfig) (*DB, error) {
	switch config.Type {
	case models.PostgreSQL:
		return newPostgreSQL(config)
	case models.MySQL:
		return newMySQL(config)
	case models.SQLite:
		return newSQLite(config)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", config.Type)
	}
}
