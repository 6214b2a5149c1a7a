package migration

import (
	"context"
	"time"

	"github.com/teranos/qntx-migrate/errors"
	"github.com/teranos/qntx-migrate/logger"
)

// Reschedule queues migration id to run once at fireAt (UTC) through the scheduler.
//
// Queued, Failed and Done migrations can be rescheduled; the method is forced to
// RunTimer. An existing registration is rearmed in place, otherwise one is created.
// Scheduler failures leave the migration unchanged.
func (s *Service) Reschedule(ctx context.Context, id int64, fireAt time.Time) (*Job, error) {
	orig, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canReschedule(orig.Status) {
		return nil, errors.NewIllegalTransitionError(
			"migration %d is %s and cannot be rescheduled", id, orig.Status)
	}

	now := s.now()
	job := orig.clone()
	at := fireAt.UTC().Truncate(time.Second)
	job.RunningMethod = RunTimer
	job.ScheduledAt = &at
	if job.Status != StatusQueued {
		if err := job.transition(StatusQueued, now, ""); err != nil {
			return nil, err
		}
	}
	job.UpdatedAt = now

	created := false
	if job.HasHandle() {
		err := s.coordinator.Rearm(ctx, job)
		if errors.IsNotFoundError(err) {
			// The registration was removed outside this service; make a new one
			s.logger.Warnw("Registration missing, creating a new one",
				logger.FieldMigrationID, id,
				logger.FieldHandle, job.SchedulerHandle)
			job.SchedulerHandle = ""
			err = nil
		}
		if err != nil {
			return nil, err
		}
	}
	if !job.HasHandle() {
		if created, err = s.coordinator.EnsureRegistration(ctx, job); err != nil {
			return nil, err
		}
	}

	if err := s.store.SaveTransition(ctx, job, orig.Status); err != nil {
		if created {
			s.undoRegistration(job)
		} else {
			s.restoreRegistration(orig)
		}
		return nil, err
	}

	s.logger.Infow("Migration rescheduled",
		logger.FieldMigrationID, id,
		logger.FieldFromStatus, orig.Status,
		logger.FieldHandle, job.SchedulerHandle,
		logger.FieldScheduledAt, at.Format(time.RFC3339))
	return job, nil
}
