package migration

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/teranos/qntx-migrate/db"
	"github.com/teranos/qntx-migrate/errors"
	"github.com/teranos/qntx-migrate/pulse/schedule"
)

// Timestamps are stored as UTC RFC3339 text, second precision
const timeLayout = time.RFC3339

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullableHandle(h schedule.Handle) interface{} {
	if h.IsZero() {
		return nil
	}
	return string(h)
}

// Store handles persistence of migration jobs in data_migrations
type Store struct {
	db *sql.DB
}

// NewStore creates a new migration store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const jobColumns = `id, name, description, target_model, target_function, status,
	running_method, scheduled_at, last_run_at, error_detail, scheduler_handle,
	created_at, updated_at`

// ListFilter narrows List. Zero values match everything.
type ListFilter struct {
	Status        Status
	RunningMethod RunningMethod
	Name          string // Substring match
	Limit         int
}

// Create inserts job and sets its ID
func (s *Store) Create(ctx context.Context, job *Job) error {
	query := `INSERT INTO data_migrations (
			name, description, target_model, target_function, status, running_method,
			scheduled_at, last_run_at, error_detail, scheduler_handle, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := s.db.ExecContext(ctx, query,
		job.Name,
		job.Description,
		job.TargetModel,
		job.TargetFunction,
		string(job.Status),
		string(job.RunningMethod),
		formatTimePtr(job.ScheduledAt),
		formatTimePtr(job.LastRunAt),
		job.ErrorDetail,
		nullableHandle(job.SchedulerHandle),
		formatTime(job.CreatedAt),
		formatTime(job.UpdatedAt),
	)
	if err != nil {
		return wrapWriteError(err, "failed to create migration %q", job.Name)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "failed to read migration id")
	}
	job.ID = id
	return nil
}

// Get retrieves a migration by ID
func (s *Store) Get(ctx context.Context, id int64) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM data_migrations WHERE id = ?`

	job, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("migration %d not found", id)
		}
		return nil, errors.Wrapf(err, "failed to get migration %d", id)
	}
	return job, nil
}

// FindByName returns the oldest migration with exactly this name
func (s *Store) FindByName(ctx context.Context, name string) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM data_migrations WHERE name = ? ORDER BY id LIMIT 1`

	job, err := scanJob(s.db.QueryRowContext(ctx, query, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("migration %q not found", name)
		}
		return nil, errors.Wrapf(err, "failed to find migration %q", name)
	}
	return job, nil
}

// SaveDefinition writes the definition fields of job, applied only if the stored status
// is still prev. Status and run bookkeeping are not touched; those change only through
// SaveTransition. A lost race fails like SaveTransition.
func (s *Store) SaveDefinition(ctx context.Context, job *Job, prev Status) error {
	query := `UPDATE data_migrations
		SET name = ?, description = ?, target_model = ?, target_function = ?,
		    running_method = ?, scheduled_at = ?, scheduler_handle = ?, updated_at = ?
		WHERE id = ? AND status = ?`

	result, err := s.db.ExecContext(ctx, query,
		job.Name,
		job.Description,
		job.TargetModel,
		job.TargetFunction,
		string(job.RunningMethod),
		formatTimePtr(job.ScheduledAt),
		nullableHandle(job.SchedulerHandle),
		formatTime(job.UpdatedAt),
		job.ID,
		string(prev),
	)
	if err != nil {
		return wrapWriteError(err, "failed to update migration %d", job.ID)
	}
	return expectStatusRow(result, job.ID, prev)
}

// SaveTransition persists a status change of job, applied only if the stored status
// is still prev. A lost race returns an error matching both ErrConflict and
// ErrIllegalTransition; the stored row is unchanged.
func (s *Store) SaveTransition(ctx context.Context, job *Job, prev Status) error {
	query := `UPDATE data_migrations
		SET status = ?, running_method = ?, scheduled_at = ?, last_run_at = ?,
		    error_detail = ?, scheduler_handle = ?, updated_at = ?
		WHERE id = ? AND status = ?`

	result, err := s.db.ExecContext(ctx, query,
		string(job.Status),
		string(job.RunningMethod),
		formatTimePtr(job.ScheduledAt),
		formatTimePtr(job.LastRunAt),
		job.ErrorDetail,
		nullableHandle(job.SchedulerHandle),
		formatTime(job.UpdatedAt),
		job.ID,
		string(prev),
	)
	if err != nil {
		return wrapWriteError(err, "failed to save migration %d as %s", job.ID, job.Status)
	}
	return expectStatusRow(result, job.ID, prev)
}

// SetHandle attaches or, with an empty handle, detaches a scheduler registration
func (s *Store) SetHandle(ctx context.Context, id int64, h schedule.Handle, now time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE data_migrations SET scheduler_handle = ?, updated_at = ? WHERE id = ?`,
		nullableHandle(h), formatTime(now), id)
	if err != nil {
		return errors.Wrapf(err, "failed to set scheduler handle of migration %d", id)
	}
	return expectOneRow(result, id)
}

// Remove deletes a migration row. Used only to undo a creation whose registration failed.
func (s *Store) Remove(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM data_migrations WHERE id = ?`, id)
	if err != nil {
		return errors.Wrapf(err, "failed to remove migration %d", id)
	}
	return expectOneRow(result, id)
}

// List returns migrations matching filter in creation order
func (s *Store) List(ctx context.Context, filter ListFilter) ([]*Job, error) {
	var where []string
	var args []interface{}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.RunningMethod != "" {
		where = append(where, "running_method = ?")
		args = append(args, string(filter.RunningMethod))
	}
	if filter.Name != "" {
		where = append(where, "name LIKE ?")
		args = append(args, "%"+filter.Name+"%")
	}

	query := `SELECT ` + jobColumns + ` FROM data_migrations`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query migrations")
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate migrations")
	}
	return jobs, nil
}

// ListQueuedAtUpgrade returns the migrations the next upgrade pass runs, in creation order
func (s *Store) ListQueuedAtUpgrade(ctx context.Context) ([]*Job, error) {
	return s.List(ctx, ListFilter{Status: StatusQueued, RunningMethod: RunAtUpgrade})
}

// ListRunning returns migrations currently marked running
func (s *Store) ListRunning(ctx context.Context) ([]*Job, error) {
	return s.List(ctx, ListFilter{Status: StatusRunning})
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var status, method, createdAt, updatedAt string
	var scheduledAt, lastRunAt, handle sql.NullString

	err := row.Scan(
		&job.ID,
		&job.Name,
		&job.Description,
		&job.TargetModel,
		&job.TargetFunction,
		&status,
		&method,
		&scheduledAt,
		&lastRunAt,
		&job.ErrorDetail,
		&handle,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Status = Status(status)
	job.RunningMethod = RunningMethod(method)
	job.SchedulerHandle = schedule.Handle(handle.String)

	if job.CreatedAt, err = parseTime(createdAt, "created_at", job.ID); err != nil {
		return nil, err
	}
	if job.UpdatedAt, err = parseTime(updatedAt, "updated_at", job.ID); err != nil {
		return nil, err
	}
	if job.ScheduledAt, err = parseTimePtr(scheduledAt, "scheduled_at", job.ID); err != nil {
		return nil, err
	}
	if job.LastRunAt, err = parseTimePtr(lastRunAt, "last_run_at", job.ID); err != nil {
		return nil, err
	}
	return &job, nil
}

func parseTime(s, field string, id int64) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "failed to parse %s for migration %d", field, id)
	}
	return t.UTC(), nil
}

func parseTimePtr(s sql.NullString, field string, id int64) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String, field, id)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func expectOneRow(result sql.Result, id int64) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read affected rows")
	}
	if rows == 0 {
		return errors.NewNotFoundError("migration %d not found", id)
	}
	return nil
}

// expectStatusRow turns a conditional write that matched no row into a lost race
func expectStatusRow(result sql.Result, id int64, prev Status) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read affected rows")
	}
	if rows == 0 {
		return errors.Mark(
			errors.NewConflictError("migration %d is no longer %s", id, prev),
			errors.ErrIllegalTransition)
	}
	return nil
}

// wrapWriteError reports schema constraint failures as validation errors
func wrapWriteError(err error, format string, args ...interface{}) error {
	wrapped := errors.Wrapf(err, format, args...)
	if db.IsConstraintViolation(err) {
		return errors.Mark(wrapped, errors.ErrValidation)
	}
	return wrapped
}
