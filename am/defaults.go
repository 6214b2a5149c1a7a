package am

import (
	"github.com/spf13/viper"
)

// Default values referenced outside the viper cascade
const (
	DefaultDatabasePath          = "qntx-migrate.db"
	DefaultTickerIntervalSeconds = 1
	DefaultDueBatchLimit         = 100
	DefaultHistoryRetentionDays  = 90
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", DefaultDatabasePath)

	v.SetDefault("migration.timezone", "") // UTC
	v.SetDefault("migration.run_at_upgrade", true)

	v.SetDefault("pulse.ticker_interval_seconds", DefaultTickerIntervalSeconds)
	v.SetDefault("pulse.due_batch_limit", DefaultDueBatchLimit)
	v.SetDefault("pulse.max_fires_per_minute", 0) // unlimited
	v.SetDefault("pulse.history_retention_days", DefaultHistoryRetentionDays)
}
