package migration

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/qntx-migrate/am/geotime"
	"github.com/teranos/qntx-migrate/errors"
	"github.com/teranos/qntx-migrate/logger"
)

// Service is the entry point for creating, changing and running migrations.
// Every operation acts on a single migration; the Batch* variants iterate and
// continue past individual failures.
type Service struct {
	store       *Store
	registry    *Registry
	coordinator *Coordinator
	dispatcher  *Dispatcher
	normalizer  *geotime.Normalizer
	logger      *zap.SugaredLogger
	now         func() time.Time
}

// NewService wires a service over db. normalizer interprets wall-clock input times.
func NewService(db *sql.DB, registry *Registry, scheduler ExternalScheduler, normalizer *geotime.Normalizer, log *zap.SugaredLogger) *Service {
	store := NewStore(db)
	coordinator := NewCoordinator(scheduler, log)
	return &Service{
		store:       store,
		registry:    registry,
		coordinator: coordinator,
		dispatcher:  NewDispatcher(store, registry, coordinator, log),
		normalizer:  normalizer,
		logger:      logger.AddMigrateSymbol(log),
		now:         utcNow,
	}
}

// Dispatcher returns the dispatcher, for registering its pulse callback
func (s *Service) Dispatcher() *Dispatcher {
	return s.dispatcher
}

// Registry returns the target registry
func (s *Service) Registry() *Registry {
	return s.registry
}

// CreateRequest describes a new migration
type CreateRequest struct {
	Name           string
	Description    string
	TargetModel    string
	TargetFunction string
	RunningMethod  RunningMethod // Defaults to RunAtUpgrade
	ScheduledAt    *time.Time    // Wall clock in the server timezone unless AlreadyUTC
	AlreadyUTC     bool
}

// UpdateRequest changes a migration. Nil fields are left as they are.
// Status cannot be changed here; use Cancel, Requeue, Reschedule or Run.
type UpdateRequest struct {
	Name           *string
	Description    *string
	TargetModel    *string
	TargetFunction *string
	RunningMethod  *RunningMethod
	ScheduledAt    *time.Time
	ClearSchedule  bool // Removes ScheduledAt; rejected for Timer migrations
	AlreadyUTC     bool
}

// validate checks a migration definition before it is written
func (s *Service) validate(job *Job) error {
	if strings.TrimSpace(job.Name) == "" {
		return errors.NewValidationError("migration name is required")
	}
	if job.TargetModel == "" {
		return errors.NewValidationError("target model is required")
	}
	if !s.registry.HasModel(job.TargetModel) {
		return errors.WithHint(
			errors.NewValidationError("model %q is not registered", job.TargetModel),
			"run `qntx-migrate targets` to list registered models")
	}
	if strings.TrimSpace(job.TargetFunction) == "" {
		return errors.NewValidationError("target function is required")
	}
	if !IsValidRunningMethod(string(job.RunningMethod)) {
		return errors.NewValidationError("unknown running method %q", job.RunningMethod)
	}
	if job.IsTimer() && job.ScheduledAt == nil {
		return errors.NewValidationError("migration %q runs on a timer but has no scheduled time", job.Name)
	}
	return nil
}

// Create validates and stores a new Queued migration, registering it with the scheduler
// when it runs on a timer. If the registration fails no record is left behind.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Job, error) {
	now := s.now()
	job := &Job{
		Name:           strings.TrimSpace(req.Name),
		Description:    req.Description,
		TargetModel:    strings.TrimSpace(req.TargetModel),
		TargetFunction: strings.TrimSpace(req.TargetFunction),
		Status:         StatusQueued,
		RunningMethod:  req.RunningMethod,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if job.RunningMethod == "" {
		job.RunningMethod = RunAtUpgrade
	}
	if req.ScheduledAt != nil {
		t := s.normalizer.Normalize(*req.ScheduledAt, req.AlreadyUTC)
		job.ScheduledAt = &t
	}

	if err := s.validate(job); err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, job); err != nil {
		return nil, err
	}

	created, err := s.coordinator.EnsureRegistration(ctx, job)
	if err != nil {
		s.undoCreate(job)
		return nil, err
	}
	if created {
		if err := s.store.SetHandle(ctx, job.ID, job.SchedulerHandle, now); err != nil {
			s.undoRegistration(job)
			s.undoCreate(job)
			return nil, errors.Wrapf(err, "failed to attach registration to migration %d", job.ID)
		}
	}

	s.logger.Infow("Migration created",
		logger.FieldMigrationID, job.ID,
		"name", job.Name,
		logger.FieldModel, job.TargetModel,
		logger.FieldFunction, job.TargetFunction,
		logger.FieldRunningMethod, job.RunningMethod)
	return job, nil
}

// undoCreate removes a migration whose creation could not be completed
func (s *Service) undoCreate(job *Job) {
	if err := s.store.Remove(context.Background(), job.ID); err != nil {
		s.logger.Errorw("Failed to remove partially created migration",
			logger.FieldMigrationID, job.ID,
			logger.FieldError, err)
	}
}

// undoRegistration disarms a registration made for a write that did not persist
func (s *Service) undoRegistration(job *Job) {
	if err := s.coordinator.Release(context.Background(), job); err != nil {
		s.logger.Errorw("Failed to disarm orphaned registration",
			logger.FieldMigrationID, job.ID,
			logger.FieldHandle, job.SchedulerHandle,
			logger.FieldError, err)
	}
}

// restoreRegistration arms a registration back to the state before a failed write
func (s *Service) restoreRegistration(orig *Job) {
	if !orig.HasHandle() {
		return
	}
	var err error
	if orig.Status == StatusQueued && orig.IsTimer() && orig.ScheduledAt != nil {
		err = s.coordinator.Rearm(context.Background(), orig)
	} else {
		err = s.coordinator.Release(context.Background(), orig)
	}
	if err != nil {
		s.logger.Errorw("Failed to restore registration",
			logger.FieldMigrationID, orig.ID,
			logger.FieldHandle, orig.SchedulerHandle,
			logger.FieldError, err)
	}
}

// Update applies req to migration id and keeps its registration in step:
//   - a Queued migration that newly runs on a timer with a time gets a registration
//   - a new time on a registered Queued timer migration rearms the registration
//   - switching to RunAtUpgrade disarms and detaches the registration
//
// A running migration cannot be changed.
func (s *Service) Update(ctx context.Context, id int64, req UpdateRequest) (*Job, error) {
	orig, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if orig.Status == StatusRunning {
		return nil, errors.Mark(
			errors.NewConflictError("migration %d is running and cannot be changed", id),
			errors.ErrIllegalTransition)
	}

	job := orig.clone()
	if req.Name != nil {
		job.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		job.Description = *req.Description
	}
	if req.TargetModel != nil {
		job.TargetModel = strings.TrimSpace(*req.TargetModel)
	}
	if req.TargetFunction != nil {
		job.TargetFunction = strings.TrimSpace(*req.TargetFunction)
	}
	if req.RunningMethod != nil {
		job.RunningMethod = *req.RunningMethod
	}
	if req.ClearSchedule {
		job.ScheduledAt = nil
	}
	if req.ScheduledAt != nil {
		t := s.normalizer.Normalize(*req.ScheduledAt, req.AlreadyUTC)
		job.ScheduledAt = &t
	}
	job.UpdatedAt = s.now()

	if err := s.validate(job); err != nil {
		return nil, err
	}

	timeChanged := !sameTime(orig.ScheduledAt, job.ScheduledAt)
	// restore runs only when the row is still as read; a new registration is always undone
	var undo, restore func()
	switch {
	case !job.IsTimer() && job.HasHandle():
		if err := s.coordinator.Release(ctx, job); err != nil {
			return nil, err
		}
		job.SchedulerHandle = ""
		restore = func() { s.restoreRegistration(orig) }

	case job.Status == StatusQueued && NeedsRegistration(job):
		if _, err := s.coordinator.EnsureRegistration(ctx, job); err != nil {
			return nil, err
		}
		undo = func() { s.undoRegistration(job) }

	case job.Status == StatusQueued && job.IsTimer() && job.HasHandle() && timeChanged:
		if err := s.coordinator.Rearm(ctx, job); err != nil {
			return nil, err
		}
		restore = func() { s.restoreRegistration(orig) }
	}

	if err := s.store.SaveDefinition(ctx, job, orig.Status); err != nil {
		switch {
		case undo != nil:
			undo()
		case restore != nil && !errors.IsConflictError(err):
			restore()
		}
		return nil, err
	}

	s.logger.Infow("Migration updated",
		logger.FieldMigrationID, job.ID,
		logger.FieldRunningMethod, job.RunningMethod,
		logger.FieldHandle, job.SchedulerHandle)
	return job, nil
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// Cancel moves a Queued or Failed migration to Cancelled and disarms its registration.
// If the registration cannot be disarmed the migration is left unchanged.
func (s *Service) Cancel(ctx context.Context, id int64) (*Job, error) {
	orig, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	job := orig.clone()
	if err := job.transition(StatusCancelled, s.now(), ""); err != nil {
		return nil, err
	}
	if err := s.coordinator.Release(ctx, job); err != nil {
		return nil, err
	}
	if err := s.store.SaveTransition(ctx, job, orig.Status); err != nil {
		// A lost race leaves the registration released: the migration moved on
		if !errors.IsConflictError(err) {
			s.restoreRegistration(orig)
		}
		return nil, err
	}

	s.logger.Infow("Migration cancelled",
		logger.FieldMigrationID, job.ID,
		logger.FieldFromStatus, orig.Status)
	return job, nil
}

// Requeue moves a Done or Failed migration back to Queued. A timer migration with a
// time but no registration is registered now; an existing registration stays as it is
// (disarmed after its fire) until the migration is rescheduled.
func (s *Service) Requeue(ctx context.Context, id int64) (*Job, error) {
	orig, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	job := orig.clone()
	if err := job.transition(StatusQueued, s.now(), ""); err != nil {
		return nil, err
	}
	registered, err := s.coordinator.EnsureRegistration(ctx, job)
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveTransition(ctx, job, orig.Status); err != nil {
		if registered {
			s.undoRegistration(job)
		}
		return nil, err
	}

	s.logger.Infow("Migration requeued",
		logger.FieldMigrationID, job.ID,
		logger.FieldFromStatus, orig.Status)
	return job, nil
}

// BatchResultOf collects per-migration errors of a batch operation
type BatchResultOf struct {
	Total     int
	Succeeded int
	Failures  map[int64]error
}

// Err returns a combined error when any migration failed
func (r BatchResultOf) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	return errors.Newf("%d of %d migrations failed", len(r.Failures), r.Total)
}

func (s *Service) batch(ctx context.Context, ids []int64, op func(context.Context, int64) (*Job, error)) BatchResultOf {
	result := BatchResultOf{Total: len(ids), Failures: make(map[int64]error)}
	for _, id := range ids {
		if _, err := op(ctx, id); err != nil {
			result.Failures[id] = err
			continue
		}
		result.Succeeded++
	}
	return result
}

// BatchCancel cancels each migration, continuing past failures
func (s *Service) BatchCancel(ctx context.Context, ids []int64) BatchResultOf {
	return s.batch(ctx, ids, s.Cancel)
}

// BatchRequeue requeues each migration, continuing past failures
func (s *Service) BatchRequeue(ctx context.Context, ids []int64) BatchResultOf {
	return s.batch(ctx, ids, s.Requeue)
}

// Run dispatches a single migration now
func (s *Service) Run(ctx context.Context, id int64) (*Job, error) {
	return s.dispatcher.Run(ctx, id)
}

// BatchRun dispatches migrations in order, continuing past failures
func (s *Service) BatchRun(ctx context.Context, ids []int64) BatchResult {
	return s.dispatcher.BatchRun(ctx, ids)
}

// Get returns a migration
func (s *Service) Get(ctx context.Context, id int64) (*Job, error) {
	return s.store.Get(ctx, id)
}

// List returns migrations matching filter in creation order
func (s *Service) List(ctx context.Context, filter ListFilter) ([]*Job, error) {
	return s.store.List(ctx, filter)
}
