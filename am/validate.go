package am

import (
	"github.com/teranos/qntx-migrate/am/geotime"
	"github.com/teranos/qntx-migrate/errors"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// Empty database path falls back to DefaultDatabasePath

	// Ticker interval: 0 = no periodic ticking, negative = invalid
	if c.Pulse.TickerIntervalSeconds < 0 {
		return errors.Newf("pulse.ticker_interval_seconds must be >= 0, got %d", c.Pulse.TickerIntervalSeconds)
	}

	// Due batch limit: 0 = unlimited, negative = invalid
	if c.Pulse.DueBatchLimit < 0 {
		return errors.Newf("pulse.due_batch_limit must be >= 0, got %d", c.Pulse.DueBatchLimit)
	}

	if c.Pulse.MaxFiresPerMinute < 0 {
		return errors.Newf("pulse.max_fires_per_minute must be >= 0, got %d", c.Pulse.MaxFiresPerMinute)
	}
	if c.Pulse.HistoryRetentionDays < 0 {
		return errors.Newf("pulse.history_retention_days must be >= 0, got %d", c.Pulse.HistoryRetentionDays)
	}

	if _, err := geotime.LoadLocation(c.Migration.Timezone); err != nil {
		return errors.Wrap(err, "migration.timezone")
	}

	return nil
}
