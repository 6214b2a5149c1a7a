package schedule

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/qntx-migrate/errors"
)

// ExecutionStore handles persistence of fire history
type ExecutionStore struct {
	db *sql.DB
}

// NewExecutionStore creates a new execution store
func NewExecutionStore(db *sql.DB) *ExecutionStore {
	return &ExecutionStore{db: db}
}

// CreateExecution creates a new execution record
func (s *ExecutionStore) CreateExecution(ctx context.Context, exec *Execution) error {
	query := `
		INSERT INTO pulse_executions (
			id, registration_id, status, triggered_by,
			started_at, completed_at, duration_ms, error_message,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		exec.ID,
		string(exec.RegistrationID),
		exec.Status,
		exec.TriggeredBy,
		formatTime(exec.StartedAt),
		formatTimePtr(exec.CompletedAt),
		nullableInt64(exec.DurationMs),
		nullableString(exec.ErrorMessage),
		formatTime(exec.CreatedAt),
		formatTime(exec.UpdatedAt),
	)
	if err != nil {
		return errors.Wrap(err, "failed to create execution")
	}
	return nil
}

// UpdateExecution writes the outcome of an execution
func (s *ExecutionStore) UpdateExecution(ctx context.Context, exec *Execution) error {
	query := `
		UPDATE pulse_executions
		SET status = ?,
		    completed_at = ?,
		    duration_ms = ?,
		    error_message = ?,
		    updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		exec.Status,
		formatTimePtr(exec.CompletedAt),
		nullableInt64(exec.DurationMs),
		nullableString(exec.ErrorMessage),
		formatTime(exec.UpdatedAt),
		exec.ID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update execution")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("execution %s not found", exec.ID)
	}
	return nil
}

// GetExecution retrieves a single execution by ID
func (s *ExecutionStore) GetExecution(ctx context.Context, id string) (*Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM pulse_executions WHERE id = ?`

	exec, err := scanExecution(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("execution %s not found", id)
		}
		return nil, errors.Wrap(err, "failed to get execution")
	}
	return exec, nil
}

// ListExecutions returns the fire history of a registration, newest first.
// limit <= 0 defaults to 50.
func (s *ExecutionStore) ListExecutions(ctx context.Context, registrationID Handle, limit int) ([]*Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + executionColumns + ` FROM pulse_executions
		WHERE registration_id = ?
		ORDER BY started_at DESC, created_at DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, string(registrationID), limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query executions")
	}
	defer rows.Close()

	var executions []*Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan execution")
		}
		executions = append(executions, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating executions")
	}
	return executions, nil
}

// CleanupOldExecutions deletes executions started before the retention window
func (s *ExecutionStore) CleanupOldExecutions(ctx context.Context, retentionDays int, now time.Time) (int64, error) {
	cutoff := now.AddDate(0, 0, -retentionDays)
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM pulse_executions WHERE started_at < ? AND status != ?`,
		formatTime(cutoff), ExecutionStatusRunning)
	if err != nil {
		return 0, errors.Wrap(err, "failed to cleanup old executions")
	}
	return result.RowsAffected()
}

const executionColumns = `id, registration_id, status, triggered_by, started_at,
	completed_at, duration_ms, error_message, created_at, updated_at`

func scanExecution(row rowScanner) (*Execution, error) {
	var exec Execution
	var registrationID, startedAt, createdAt, updatedAt string
	var completedAt, errorMessage sql.NullString
	var durationMs sql.NullInt64

	err := row.Scan(
		&exec.ID,
		&registrationID,
		&exec.Status,
		&exec.TriggeredBy,
		&startedAt,
		&completedAt,
		&durationMs,
		&errorMessage,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	exec.RegistrationID = Handle(registrationID)
	exec.ErrorMessage = errorMessage.String
	if durationMs.Valid {
		exec.DurationMs = &durationMs.Int64
	}

	if exec.StartedAt, err = parseTime(startedAt, "started_at", exec.RegistrationID); err != nil {
		return nil, err
	}
	if exec.CreatedAt, err = parseTime(createdAt, "created_at", exec.RegistrationID); err != nil {
		return nil, err
	}
	if exec.UpdatedAt, err = parseTime(updatedAt, "updated_at", exec.RegistrationID); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t, err := parseTime(completedAt.String, "completed_at", exec.RegistrationID)
		if err != nil {
			return nil, err
		}
		exec.CompletedAt = &t
	}
	return &exec, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt64(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
