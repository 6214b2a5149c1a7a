package am

// Config represents the qntx-migrate configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database" toml:"database" json:"database" yaml:"database"`
	Migration MigrationConfig `mapstructure:"migration" toml:"migration" json:"migration" yaml:"migration"`
	Pulse     PulseConfig     `mapstructure:"pulse" toml:"pulse" json:"pulse" yaml:"pulse"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path" toml:"path" json:"path" yaml:"path"`
}

// MigrationConfig configures migration job handling
type MigrationConfig struct {
	// Server timezone used to interpret user-entered wall-clock times ("" = UTC)
	Timezone string `mapstructure:"timezone" toml:"timezone" json:"timezone" yaml:"timezone"`
	// Run the at-upgrade batch when the upgrade entry point is invoked
	RunAtUpgrade bool `mapstructure:"run_at_upgrade" toml:"run_at_upgrade" json:"run_at_upgrade" yaml:"run_at_upgrade"`
}

// PulseConfig configures the pulse scheduler
type PulseConfig struct {
	TickerIntervalSeconds int `mapstructure:"ticker_interval_seconds" toml:"ticker_interval_seconds" json:"ticker_interval_seconds" yaml:"ticker_interval_seconds"` // How often to check for due registrations (default: 1)
	DueBatchLimit         int `mapstructure:"due_batch_limit" toml:"due_batch_limit" json:"due_batch_limit" yaml:"due_batch_limit"`                                 // Registrations fired per tick (default: 100)
	MaxFiresPerMinute     int `mapstructure:"max_fires_per_minute" toml:"max_fires_per_minute" json:"max_fires_per_minute" yaml:"max_fires_per_minute"`             // Ticker fire rate cap (0 = unlimited)
	HistoryRetentionDays  int `mapstructure:"history_retention_days" toml:"history_retention_days" json:"history_retention_days" yaml:"history_retention_days"`     // Fire history kept by the daemon (0 = forever)
}

// File system constants
const (
	DefaultDirPermissions  = 0755 // Standard directory permissions (rwxr-xr-x)
	DefaultFilePermissions = 0644 // Standard file permissions (rw-r--r--)
)
