package migration

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/qntx-migrate/errors"
	"github.com/teranos/qntx-migrate/logger"
)

// Dispatcher runs migrations. Each status change is committed before the next step,
// so a process killed mid-run leaves the job in its last persisted state.
type Dispatcher struct {
	store       *Store
	registry    *Registry
	coordinator *Coordinator
	logger      *zap.SugaredLogger
	now         func() time.Time
}

// NewDispatcher creates a dispatcher
func NewDispatcher(store *Store, registry *Registry, coordinator *Coordinator, log *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{
		store:       store,
		registry:    registry,
		coordinator: coordinator,
		logger:      logger.AddMigrateSymbol(log),
		now:         utcNow,
	}
}

func utcNow() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

// Run dispatches migration id: Queued -> Running, invoke, Running -> Done or Failed.
//
// A failing or panicking callable never makes Run fail; the outcome is recorded on the
// returned job. Run returns an error only when the job cannot be dispatched (unknown id,
// not Queued, lost race) or a transition cannot be persisted.
func (d *Dispatcher) Run(ctx context.Context, id int64) (*Job, error) {
	log := logger.LoggerFromContext(logger.WithMigrationID(ctx, id), d.logger)

	job, err := d.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := job.transition(StatusRunning, d.now(), ""); err != nil {
		return nil, err
	}
	if err := d.store.SaveTransition(ctx, job, StatusQueued); err != nil {
		return nil, errors.Wrapf(err, "failed to start migration %d", id)
	}

	log.Infow("Migration started",
		"name", job.Name,
		logger.FieldModel, job.TargetModel,
		logger.FieldFunction, job.TargetFunction)

	began := time.Now()
	result, invokeErr := d.invoke(ctx, job)
	durationMs := time.Since(began).Milliseconds()

	// The terminal transition is committed even if the caller gave up
	persistCtx := context.WithoutCancel(ctx)
	if invokeErr != nil {
		detail := errors.Verbose(errors.WrapInvocationError(invokeErr, "run "+job.Target()))
		if err := job.transition(StatusFailed, d.now(), detail); err != nil {
			return nil, err
		}
		if err := d.store.SaveTransition(persistCtx, job, StatusRunning); err != nil {
			return nil, errors.Wrapf(err, "failed to record failure of migration %d", id)
		}
		log.Errorw("Migration FAILED",
			"name", job.Name,
			logger.FieldDurationMS, durationMs,
			logger.FieldError, invokeErr)
		return job, nil
	}

	if err := job.transition(StatusDone, d.now(), ""); err != nil {
		return nil, err
	}
	if err := d.store.SaveTransition(persistCtx, job, StatusRunning); err != nil {
		return nil, errors.Wrapf(err, "failed to record completion of migration %d", id)
	}
	log.Infow("Migration done",
		"name", job.Name,
		logger.FieldDurationMS, durationMs,
		"result", result)
	return job, nil
}

// invoke resolves and calls the target, converting a panic into an error
func (d *Dispatcher) invoke(ctx context.Context, job *Job) (result any, err error) {
	fn, err := d.registry.Resolve(job.TargetModel, job.TargetFunction)
	if err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			err = errors.WithDetail(
				errors.Newf("%s panicked: %v", job.Target(), r),
				fmt.Sprintf("goroutine stack:\n%s", debug.Stack()))
		}
	}()

	return fn(ctx)
}

// RunOutcome is the result of one migration in a batch
type RunOutcome struct {
	ID  int64
	Job *Job  // nil when the migration was not dispatched
	Err error // why the migration was not dispatched
}

// BatchResult summarises a batch run
type BatchResult struct {
	Total     int
	Succeeded int
	Failed    int
	Skipped   int // not dispatched: unknown, not queued, or lost race
	Outcomes  []RunOutcome
}

// BatchRun runs ids sequentially in the given order, continuing past failures.
// Timer migrations that ran have their registration disarmed afterwards so the
// scheduler cannot fire them again.
func (d *Dispatcher) BatchRun(ctx context.Context, ids []int64) BatchResult {
	result := BatchResult{Total: len(ids)}

	for _, id := range ids {
		job, err := d.Run(ctx, id)
		result.Outcomes = append(result.Outcomes, RunOutcome{ID: id, Job: job, Err: err})

		if err != nil {
			result.Skipped++
			d.logger.Warnw("Migration not dispatched",
				logger.FieldMigrationID, id,
				logger.FieldError, err)
			continue
		}
		if job.Status == StatusDone {
			result.Succeeded++
		} else {
			result.Failed++
		}

		if job.IsTimer() && job.HasHandle() {
			if err := d.coordinator.Release(ctx, job); err != nil {
				d.logger.Errorw("Failed to disarm registration after run",
					logger.FieldMigrationID, id,
					logger.FieldHandle, job.SchedulerHandle,
					logger.FieldError, err)
			}
		}
	}
	return result
}

// HandleCallback is the pulse callback registered as CallbackName.
// The payload references the migration to run.
func (d *Dispatcher) HandleCallback(ctx context.Context, payload []byte) error {
	id, err := DecodePayload(payload)
	if err != nil {
		return err
	}
	job, err := d.Run(ctx, id)
	if err != nil {
		return err
	}
	if job.Status == StatusFailed {
		// Reported to pulse for its execution history; the job already records it
		return errors.Newf("migration %d failed", id)
	}
	return nil
}
