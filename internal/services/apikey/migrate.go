package apikey

import (
	"fmt"

	"github.com/Egham-7/token-gate/internal/models"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.APIKey{}); err != nil {
		return fmt.Errorf("failed to migrate api_keys table: %w", err)
	}

	if err := createIndexes(db); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}

// createIndexes adds the composite lookup used when counting active keys per owner.
func createIndexes(db *gorm.DB) error {
	indexes := []struct {
		name    string
		columns string
	}{
		{name: "idx_api_keys_owner_active", columns: "owner_id, is_active"},
		{name: "idx_api_keys_expires_at", columns: "expires_at"},
	}

	migrator := db.Migrator()
	for _, idx := range indexes {
		if migrator.HasIndex(&models.APIKey{}, idx.name) {
			continue
		}
		sql := fmt.Sprintf("CREATE INDEX %s ON api_keys (%s)", idx.name, idx.columns)
		if err := db.Exec(sql).Error; err != nil {
			return fmt.Errorf("failed to create index %s: %w", idx.name, err)
		}
	}

	return nil
}
