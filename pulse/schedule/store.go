package schedule

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/qntx-migrate/errors"
)

// Timestamps are stored as UTC RFC3339 text so lexical order matches time order
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

func parseTime(s, field string, id Handle) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "failed to parse %s for registration %s", field, id)
	}
	return t.UTC(), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Store handles persistence of registrations
type Store struct {
	db *sql.DB
}

// NewStore creates a new registration store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const registrationColumns = `id, name, callback, payload, fire_at, remaining, interval_seconds,
	active, firing, last_call_at, last_execution_id, created_at, updated_at`

// Create inserts a new registration
func (s *Store) Create(ctx context.Context, reg *Registration) error {
	query := `INSERT INTO pulse_registrations (` + registrationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var lastExecutionID interface{}
	if reg.LastExecutionID != "" {
		lastExecutionID = reg.LastExecutionID
	}

	_, err := s.db.ExecContext(ctx, query,
		string(reg.ID),
		reg.Name,
		reg.Callback,
		reg.Payload,
		formatTime(reg.FireAt),
		reg.Remaining,
		reg.IntervalSeconds,
		boolToInt(reg.Active),
		boolToInt(reg.Firing),
		formatTimePtr(reg.LastCallAt),
		lastExecutionID,
		formatTime(reg.CreatedAt),
		formatTime(reg.UpdatedAt),
	)
	if err != nil {
		return errors.Wrap(err, "failed to create registration")
	}
	return nil
}

// Get retrieves a registration by handle
func (s *Store) Get(ctx context.Context, id Handle) (*Registration, error) {
	query := `SELECT ` + registrationColumns + ` FROM pulse_registrations WHERE id = ?`

	reg, err := scanRegistration(s.db.QueryRowContext(ctx, query, string(id)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("registration %s not found", id)
		}
		return nil, errors.Wrapf(err, "failed to get registration %s", id)
	}
	return reg, nil
}

// Update writes every mutable field of a registration
func (s *Store) Update(ctx context.Context, reg *Registration) error {
	query := `UPDATE pulse_registrations
		SET name = ?, callback = ?, payload = ?, fire_at = ?, remaining = ?,
		    interval_seconds = ?, active = ?, firing = ?, last_call_at = ?,
		    last_execution_id = ?, updated_at = ?
		WHERE id = ?`

	var lastExecutionID interface{}
	if reg.LastExecutionID != "" {
		lastExecutionID = reg.LastExecutionID
	}

	result, err := s.db.ExecContext(ctx, query,
		reg.Name,
		reg.Callback,
		reg.Payload,
		formatTime(reg.FireAt),
		reg.Remaining,
		reg.IntervalSeconds,
		boolToInt(reg.Active),
		boolToInt(reg.Firing),
		formatTimePtr(reg.LastCallAt),
		lastExecutionID,
		formatTime(reg.UpdatedAt),
		string(reg.ID),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to update registration %s", reg.ID)
	}
	return expectOneRow(result, reg.ID)
}

// SetActive changes activation of a registration that is not firing.
// Returns ErrConflict when the registration is firing.
func (s *Store) SetActive(ctx context.Context, id Handle, active bool, fireAt *time.Time, remaining *int, now time.Time) error {
	query := `UPDATE pulse_registrations
		SET active = ?,
		    fire_at = COALESCE(?, fire_at),
		    remaining = COALESCE(?, remaining),
		    updated_at = ?
		WHERE id = ? AND firing = 0`

	var remainingArg interface{}
	if remaining != nil {
		remainingArg = *remaining
	}

	result, err := s.db.ExecContext(ctx, query,
		boolToInt(active),
		formatTimePtr(fireAt),
		remainingArg,
		formatTime(now),
		string(id),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to update registration %s", id)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read affected rows")
	}
	if rows == 0 {
		return errors.NewConflictError("registration %s is firing or missing", id)
	}
	return nil
}

// Claim marks a registration as firing. Returns false when another caller holds it.
func (s *Store) Claim(ctx context.Context, id Handle, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE pulse_registrations SET firing = 1, updated_at = ? WHERE id = ? AND firing = 0`,
		formatTime(now), string(id))
	if err != nil {
		return false, errors.Wrapf(err, "failed to claim registration %s", id)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read affected rows")
	}
	return rows == 1, nil
}

// ReleaseStale clears firing flags left behind by a process that stopped mid-fire
func (s *Store) ReleaseStale(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE pulse_registrations SET firing = 0, updated_at = ? WHERE firing = 1`,
		formatTime(now))
	if err != nil {
		return 0, errors.Wrap(err, "failed to release stale registrations")
	}
	return result.RowsAffected()
}

// Delete removes a registration and its fire history
func (s *Store) Delete(ctx context.Context, id Handle) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM pulse_registrations WHERE id = ?`, string(id))
	if err != nil {
		return errors.Wrapf(err, "failed to delete registration %s", id)
	}
	return expectOneRow(result, id)
}

// ListDue returns active registrations whose fire time has passed, oldest first.
// limit <= 0 means no limit.
func (s *Store) ListDue(ctx context.Context, now time.Time, limit int) ([]*Registration, error) {
	query := `SELECT ` + registrationColumns + ` FROM pulse_registrations
		WHERE active = 1 AND firing = 0 AND remaining != 0 AND fire_at <= ?
		ORDER BY fire_at ASC, created_at ASC`
	args := []interface{}{formatTime(now)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.query(ctx, query, args...)
}

// NextDue returns the soonest active registration, or nil when none is scheduled
func (s *Store) NextDue(ctx context.Context) (*Registration, error) {
	query := `SELECT ` + registrationColumns + ` FROM pulse_registrations
		WHERE active = 1 AND remaining != 0
		ORDER BY fire_at ASC
		LIMIT 1`

	reg, err := scanRegistration(s.db.QueryRowContext(ctx, query))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get next registration")
	}
	return reg, nil
}

// List returns registrations, newest first. inactive includes deactivated ones.
func (s *Store) List(ctx context.Context, inactive bool) ([]*Registration, error) {
	query := `SELECT ` + registrationColumns + ` FROM pulse_registrations`
	if !inactive {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY created_at DESC, id ASC LIMIT 1000`
	return s.query(ctx, query)
}

// query scans all rows before returning so callers may issue further queries
func (s *Store) query(ctx context.Context, query string, args ...interface{}) ([]*Registration, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query registrations")
	}
	defer rows.Close()

	var regs []*Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		regs = append(regs, reg)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate registrations")
	}
	return regs, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRegistration(row rowScanner) (*Registration, error) {
	var reg Registration
	var id, fireAt, createdAt, updatedAt string
	var lastCallAt, lastExecutionID sql.NullString
	var active, firing int

	err := row.Scan(
		&id,
		&reg.Name,
		&reg.Callback,
		&reg.Payload,
		&fireAt,
		&reg.Remaining,
		&reg.IntervalSeconds,
		&active,
		&firing,
		&lastCallAt,
		&lastExecutionID,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	reg.ID = Handle(id)
	reg.Active = active == 1
	reg.Firing = firing == 1
	reg.LastExecutionID = lastExecutionID.String

	// Parse failures indicate data corruption or schema mismatch
	if reg.FireAt, err = parseTime(fireAt, "fire_at", reg.ID); err != nil {
		return nil, err
	}
	if reg.CreatedAt, err = parseTime(createdAt, "created_at", reg.ID); err != nil {
		return nil, err
	}
	if reg.UpdatedAt, err = parseTime(updatedAt, "updated_at", reg.ID); err != nil {
		return nil, err
	}
	if lastCallAt.Valid {
		t, err := parseTime(lastCallAt.String, "last_call_at", reg.ID)
		if err != nil {
			return nil, err
		}
		reg.LastCallAt = &t
	}

	return &reg, nil
}

func expectOneRow(result sql.Result, id Handle) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read affected rows")
	}
	if rows == 0 {
		return errors.NewNotFoundError("registration %s not found", id)
	}
	return nil
}
