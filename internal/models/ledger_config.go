package models

type LedgerConfig struct {
	// Timezone is an IANA name used to decide calendar-day rollover.
	Timezone      string `json:"timezone" yaml:"timezone"`
	LazyMigration *bool  `json:"lazy_migration,omitempty" yaml:"lazy_migration,omitempty"`
	DefaultTier   Tier   `json:"default_tier" yaml:"default_tier"`
}

func (c LedgerConfig) LazyMigrationEnabled() bool {
	return c.LazyMigration == nil || *c.LazyMigration
}

type MetricsConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Namespace string `json:"namespace" yaml:"namespace"`
}

type SchedulerConfig struct {
	MigrationEnabled  bool `json:"migration_enabled" yaml:"migration_enabled"`
	MigrationInterval int  `json:"migration_interval" yaml:"migration_interval"` // seconds
	MigrationBatch    int  `json:"migration_batch" yaml:"migration_batch"`
}
