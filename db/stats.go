package db

import (
	"context"
	"database/sql"

	"github.com/teranos/qntx-migrate/errors"
)

// TableCount is the number of rows in one application table
type TableCount struct {
	Table string `json:"table" yaml:"table"`
	Rows  int64  `json:"rows" yaml:"rows"`
}

// Stats describes the state of the application database
type Stats struct {
	SchemaVersion string       `json:"schema_version" yaml:"schema_version"`
	Tables        []TableCount `json:"tables" yaml:"tables"`
	PageCount     int64        `json:"page_count" yaml:"page_count"`
	PageSize      int64        `json:"page_size" yaml:"page_size"`
}

var statsTables = []string{"data_migrations", "pulse_registrations", "pulse_executions"}

// CollectStats reads row counts and storage figures
func CollectStats(ctx context.Context, db *sql.DB) (*Stats, error) {
	version, err := SchemaVersion(db)
	if err != nil {
		return nil, err
	}
	stats := &Stats{SchemaVersion: version}

	for _, table := range statsTables {
		var n int64
		// table names come from the fixed list above
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, errors.Wrapf(err, "count %s", table)
		}
		stats.Tables = append(stats.Tables, TableCount{Table: table, Rows: n})
	}

	if err := db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&stats.PageCount); err != nil {
		return nil, errors.Wrap(err, "read page_count")
	}
	if err := db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&stats.PageSize); err != nil {
		return nil, errors.Wrap(err, "read page_size")
	}
	return stats, nil
}
