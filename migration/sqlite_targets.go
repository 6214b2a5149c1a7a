package migration

import (
	"context"
	"database/sql"

	"github.com/teranos/qntx-migrate/errors"
)

// SQLiteModel is the built-in target for maintenance of the application database
const SQLiteModel = "sqlite"

// RegisterSQLiteTargets registers vacuum, analyze, optimize and integrity_check
// against conn under the sqlite model.
func RegisterSQLiteTargets(r *Registry, conn *sql.DB) {
	exec := func(stmt string) Func {
		return func(ctx context.Context) (any, error) {
			if _, err := conn.ExecContext(ctx, stmt); err != nil {
				return nil, errors.Wrapf(err, "%s failed", stmt)
			}
			return "ok", nil
		}
	}

	r.RegisterModel(SQLiteModel)
	r.Register(SQLiteModel, "vacuum", exec("VACUUM"))
	r.Register(SQLiteModel, "analyze", exec("ANALYZE"))
	r.Register(SQLiteModel, "optimize", exec("PRAGMA optimize"))
	r.Register(SQLiteModel, "integrity_check", func(ctx context.Context) (any, error) {
		rows, err := conn.QueryContext(ctx, "PRAGMA integrity_check")
		if err != nil {
			return nil, errors.Wrap(err, "integrity check failed")
		}
		defer rows.Close()

		var problems []string
		for rows.Next() {
			var line string
			if err := rows.Scan(&line); err != nil {
				return nil, errors.Wrap(err, "failed to read integrity check result")
			}
			if line != "ok" {
				problems = append(problems, line)
			}
		}
		if err := rows.Err(); err != nil {
			return nil, errors.Wrap(err, "failed to read integrity check result")
		}
		if len(problems) > 0 {
			return nil, errors.WithDetailf(
				errors.Newf("integrity check found %d problems", len(problems)),
				"%v", problems)
		}
		return "ok", nil
	})
}
