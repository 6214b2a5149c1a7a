package migration

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/qntx-migrate/errors"
	"github.com/teranos/qntx-migrate/logger"
	"github.com/teranos/qntx-migrate/pulse/schedule"
)

// CallbackName is the pulse callback that runs a migration
const CallbackName = "migration.run"

// registrationPrefix names registrations after the migration they run
const registrationPrefix = "Scheduled Migration - "

// CallbackPayload is the job reference stored in a registration
type CallbackPayload struct {
	MigrationID int64 `json:"migration_id"`
}

// EncodePayload serializes the reference to migration id
func EncodePayload(id int64) ([]byte, error) {
	data, err := json.Marshal(CallbackPayload{MigrationID: id})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode callback payload")
	}
	return data, nil
}

// DecodePayload reads a job reference written by EncodePayload
func DecodePayload(data []byte) (int64, error) {
	var p CallbackPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return 0, errors.Wrap(err, "failed to decode callback payload")
	}
	if p.MigrationID <= 0 {
		return 0, errors.NewInvalidRequestError("callback payload has no migration id: %s", data)
	}
	return p.MigrationID, nil
}

// Coordinator keeps scheduler registrations in step with Timer migrations.
// It never changes job status.
type Coordinator struct {
	scheduler ExternalScheduler
	logger    *zap.SugaredLogger
}

// NewCoordinator creates a coordinator over scheduler
func NewCoordinator(scheduler ExternalScheduler, log *zap.SugaredLogger) *Coordinator {
	return &Coordinator{
		scheduler: scheduler,
		logger:    logger.AddMigrateSymbol(log),
	}
}

// NeedsRegistration reports whether job is a Timer job with a time and no registration yet
func NeedsRegistration(job *Job) bool {
	return job.IsTimer() && job.ScheduledAt != nil && !job.HasHandle()
}

// EnsureRegistration registers job to fire once at its scheduled time when it needs a
// registration, and sets job.SchedulerHandle. Returns whether a registration was created.
// The caller persists the handle.
func (c *Coordinator) EnsureRegistration(ctx context.Context, job *Job) (bool, error) {
	if !NeedsRegistration(job) {
		return false, nil
	}

	payload, err := EncodePayload(job.ID)
	if err != nil {
		return false, err
	}

	h, err := c.scheduler.Register(ctx, schedule.RegisterRequest{
		Name:     registrationPrefix + job.Name,
		FireAt:   *job.ScheduledAt,
		Callback: CallbackName,
		Payload:  payload,
	})
	if err != nil {
		return false, markScheduler(err, "register migration %d", job.ID)
	}

	job.SchedulerHandle = h
	c.logger.Infow("Migration registered with scheduler",
		logger.FieldMigrationID, job.ID,
		logger.FieldHandle, h,
		logger.FieldScheduledAt, job.ScheduledAt.Format(time.RFC3339))
	return true, nil
}

// Rearm arms the existing registration of job to fire once at its scheduled time
func (c *Coordinator) Rearm(ctx context.Context, job *Job) error {
	if !job.HasHandle() || job.ScheduledAt == nil {
		return errors.AssertionFailedf("migration %d has no registration to rearm", job.ID)
	}
	if err := c.scheduler.Reactivate(ctx, job.SchedulerHandle, *job.ScheduledAt); err != nil {
		return markScheduler(err, "rearm migration %d", job.ID)
	}

	c.logger.Infow("Migration registration rearmed",
		logger.FieldMigrationID, job.ID,
		logger.FieldHandle, job.SchedulerHandle,
		logger.FieldScheduledAt, job.ScheduledAt.Format(time.RFC3339))
	return nil
}

// Release disarms the registration of job, if any. Idempotent; a registration that
// no longer exists counts as released.
func (c *Coordinator) Release(ctx context.Context, job *Job) error {
	if !job.HasHandle() {
		return nil
	}
	err := c.scheduler.Deactivate(ctx, job.SchedulerHandle)
	if errors.IsNotFoundError(err) {
		c.logger.Warnw("Migration registration is gone",
			logger.FieldMigrationID, job.ID,
			logger.FieldHandle, job.SchedulerHandle)
		return nil
	}
	if err != nil {
		return markScheduler(err, "release migration %d", job.ID)
	}
	return nil
}

// markScheduler wraps err and marks it as a scheduler failure
func markScheduler(err error, format string, args ...interface{}) error {
	return errors.Mark(errors.Wrapf(err, format, args...), errors.ErrScheduler)
}
