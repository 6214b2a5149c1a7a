package schedule

import (
	"context"
	"database/sql"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/qntx-migrate/errors"
	"github.com/teranos/qntx-migrate/logger"
)

// Scheduler registers, arms and fires callbacks persisted in pulse_registrations.
// Safe for use by a single process; concurrent fires of the same registration are
// prevented by the firing claim.
type Scheduler struct {
	store      *Store
	executions *ExecutionStore
	callbacks  *CallbackRegistry
	logger     *zap.SugaredLogger
	now        func() time.Time
	limiter    *rate.Limiter // nil = unthrottled
}

// NewScheduler creates a scheduler over db using callbacks for invocation
func NewScheduler(db *sql.DB, callbacks *CallbackRegistry, log *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		store:      NewStore(db),
		executions: NewExecutionStore(db),
		callbacks:  callbacks,
		logger:     logger.AddPulseSymbol(log),
		now:        func() time.Time { return time.Now().UTC().Truncate(time.Second) },
	}
}

// SetRateLimit caps ticker fires at perMinute; 0 removes the cap.
// Manual fires through TriggerNow are never throttled.
func (s *Scheduler) SetRateLimit(perMinute int) {
	if perMinute <= 0 {
		s.limiter = nil
		return
	}
	s.limiter = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), 1)
}

// Register creates an active registration and returns its handle
func (s *Scheduler) Register(ctx context.Context, req RegisterRequest) (Handle, error) {
	if req.Name == "" {
		return "", errors.WrapSchedulerError(errors.NewInvalidRequestError("registration name is required"), "register")
	}
	if !s.callbacks.Has(req.Callback) {
		return "", errors.WrapSchedulerError(
			errors.NewInvalidRequestError("callback %q is not registered (known: %s)",
				req.Callback, strings.Join(s.callbacks.Names(), ", ")), "register")
	}
	if req.FireAt.IsZero() {
		return "", errors.WrapSchedulerError(errors.NewInvalidRequestError("fire time is required"), "register")
	}
	if req.Recurring && req.IntervalSeconds <= 0 {
		return "", errors.WrapSchedulerError(
			errors.NewInvalidRequestError("recurring registration needs a positive interval, got %d", req.IntervalSeconds), "register")
	}

	now := s.now()
	reg := &Registration{
		ID:        Handle(uuid.NewString()),
		Name:      req.Name,
		Callback:  req.Callback,
		Payload:   req.Payload,
		FireAt:    req.FireAt.UTC(),
		Remaining: 1,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.Recurring {
		reg.Remaining = remainingUnlimited
		reg.IntervalSeconds = req.IntervalSeconds
	}

	if err := s.store.Create(ctx, reg); err != nil {
		return "", errors.WrapSchedulerError(err, "register")
	}

	s.logger.Infow("Registration created",
		logger.FieldHandle, reg.ID,
		"name", reg.Name,
		logger.FieldCallback, reg.Callback,
		logger.FieldFireAt, reg.FireAt.Format(time.RFC3339))
	return reg.ID, nil
}

// Deactivate disarms a registration. Deactivating an inactive registration is a no-op.
// Fails while the registration is firing.
func (s *Scheduler) Deactivate(ctx context.Context, h Handle) error {
	reg, err := s.store.Get(ctx, h)
	if err != nil {
		return err
	}
	if reg.Firing {
		return errors.WrapSchedulerError(errors.Newf("registration %s is firing", h), "deactivate")
	}
	if !reg.Active {
		return nil
	}

	if err := s.store.SetActive(ctx, h, false, nil, nil, s.now()); err != nil {
		return errors.WrapSchedulerError(err, "deactivate")
	}

	s.logger.Infow("Registration deactivated", logger.FieldHandle, h)
	return nil
}

// Reactivate arms a registration to fire at fireAt. One-shot registrations get one fire.
func (s *Scheduler) Reactivate(ctx context.Context, h Handle, fireAt time.Time) error {
	reg, err := s.store.Get(ctx, h)
	if err != nil {
		return err
	}
	if reg.Firing {
		return errors.WrapSchedulerError(errors.Newf("registration %s is firing", h), "reactivate")
	}

	remaining := 1
	if reg.Recurring() {
		remaining = remainingUnlimited
	}
	fireAt = fireAt.UTC()
	if err := s.store.SetActive(ctx, h, true, &fireAt, &remaining, s.now()); err != nil {
		return errors.WrapSchedulerError(err, "reactivate")
	}

	s.logger.Infow("Registration reactivated",
		logger.FieldHandle, h,
		logger.FieldFireAt, fireAt.Format(time.RFC3339))
	return nil
}

// Remove deletes a disarmed registration together with its fire history.
// Armed or firing registrations must be deactivated first.
func (s *Scheduler) Remove(ctx context.Context, h Handle) error {
	reg, err := s.store.Get(ctx, h)
	if err != nil {
		return err
	}
	if reg.Active || reg.Firing {
		return errors.WrapSchedulerError(
			errors.NewInvalidRequestError("registration %s is still armed", h), "remove")
	}
	if err := s.store.Delete(ctx, h); err != nil {
		return errors.WrapSchedulerError(err, "remove")
	}

	s.logger.Infow("Registration removed", logger.FieldHandle, h)
	return nil
}

// TriggerNow fires a registration immediately, regardless of its fire time.
// The fire is consumed like a ticker fire. The callback error is returned.
func (s *Scheduler) TriggerNow(ctx context.Context, h Handle) error {
	reg, err := s.store.Get(ctx, h)
	if err != nil {
		return err
	}
	return s.fire(ctx, reg, TriggerManual)
}

// Get returns a registration
func (s *Scheduler) Get(ctx context.Context, h Handle) (*Registration, error) {
	return s.store.Get(ctx, h)
}

// List returns registrations, newest first
func (s *Scheduler) List(ctx context.Context, includeInactive bool) ([]*Registration, error) {
	return s.store.List(ctx, includeInactive)
}

// History returns the fire history of a registration, newest first
func (s *Scheduler) History(ctx context.Context, h Handle, limit int) ([]*Execution, error) {
	return s.executions.ListExecutions(ctx, h, limit)
}

// PruneHistory deletes finished executions that started more than retentionDays ago.
// retentionDays <= 0 keeps everything.
func (s *Scheduler) PruneHistory(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	return s.executions.CleanupOldExecutions(ctx, retentionDays, s.now())
}

// NextDue returns the soonest armed registration, or nil
func (s *Scheduler) NextDue(ctx context.Context) (*Registration, error) {
	return s.store.NextDue(ctx)
}

// RecoverStale clears firing flags left by a process that stopped mid-fire.
// Call once at startup before the ticker runs.
func (s *Scheduler) RecoverStale(ctx context.Context) (int64, error) {
	n, err := s.store.ReleaseStale(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.PulseOpenInfow("Released registrations left firing", logger.FieldCount, n)
	}
	return n, nil
}

// FireDue fires every due registration sequentially and returns how many fired.
// A failing callback does not stop the batch.
func (s *Scheduler) FireDue(ctx context.Context, now time.Time, limit int) (int, error) {
	due, err := s.store.ListDue(ctx, now, limit)
	if err != nil {
		return 0, errors.Wrap(err, "failed to list due registrations")
	}

	fired := 0
	for _, reg := range due {
		select {
		case <-ctx.Done():
			return fired, ctx.Err()
		default:
		}

		// Throttled registrations stay due for a later tick
		if s.limiter != nil && !s.limiter.Allow() {
			s.logger.Debugw("Fire rate limit reached", logger.FieldHandle, reg.ID, "deferred", len(due)-fired)
			break
		}

		if err := s.fire(ctx, reg, TriggerTicker); err != nil {
			s.logger.Errorw("Registration fire failed",
				logger.FieldHandle, reg.ID,
				"name", reg.Name,
				logger.FieldError, err)
		}
		fired++
	}
	return fired, nil
}

// fire claims the registration, invokes its callback, consumes the fire and records history
func (s *Scheduler) fire(ctx context.Context, reg *Registration, trigger string) error {
	start := s.now()

	claimed, err := s.store.Claim(ctx, reg.ID, start)
	if err != nil {
		return errors.WrapSchedulerError(err, "fire")
	}
	if !claimed {
		return errors.WrapSchedulerError(errors.Newf("registration %s is already firing", reg.ID), "fire")
	}

	// Finishing bookkeeping must survive cancellation of the caller
	bookkeeping := context.WithoutCancel(ctx)

	// Re-read under the claim: the registration may have changed since it was listed
	fresh, err := s.store.Get(bookkeeping, reg.ID)
	if err != nil {
		return errors.WrapSchedulerError(err, "fire")
	}
	if trigger == TriggerTicker && (!fresh.Active || fresh.Remaining == 0 || fresh.FireAt.After(start)) {
		fresh.Firing = false
		fresh.UpdatedAt = start
		return s.store.Update(bookkeeping, fresh)
	}

	exec := &Execution{
		ID:             uuid.NewString(),
		RegistrationID: fresh.ID,
		Status:         ExecutionStatusRunning,
		TriggeredBy:    trigger,
		StartedAt:      start,
		CreatedAt:      start,
		UpdatedAt:      start,
	}
	if err := s.executions.CreateExecution(bookkeeping, exec); err != nil {
		// History is nice-to-have; the fire continues
		s.logger.Errorw("Failed to create execution record",
			logger.FieldHandle, fresh.ID,
			logger.FieldError, err)
	}

	s.logger.Infow("Pulse firing",
		logger.FieldHandle, fresh.ID,
		"name", fresh.Name,
		logger.FieldCallback, fresh.Callback,
		"trigger", trigger)

	began := time.Now()
	cbErr := s.invoke(ctx, fresh)
	durationMs := time.Since(began).Milliseconds()

	fresh.consume(start)
	fresh.Firing = false
	fresh.LastExecutionID = exec.ID
	completed := s.now()
	fresh.UpdatedAt = completed
	if err := s.store.Update(bookkeeping, fresh); err != nil {
		return errors.WrapSchedulerError(err, "release after fire")
	}

	exec.CompletedAt = &completed
	exec.DurationMs = &durationMs
	exec.UpdatedAt = completed
	if cbErr != nil {
		exec.Status = ExecutionStatusFailed
		exec.ErrorMessage = cbErr.Error()
		s.logger.Errorw("Pulse FAILED",
			logger.FieldHandle, fresh.ID,
			"execution_id", exec.ID,
			logger.FieldDurationMS, durationMs,
			logger.FieldError, cbErr)
	} else {
		exec.Status = ExecutionStatusCompleted
		s.logger.Infow("Pulse OK",
			logger.FieldHandle, fresh.ID,
			"execution_id", exec.ID,
			logger.FieldDurationMS, durationMs,
			"active", fresh.Active)
	}
	if err := s.executions.UpdateExecution(bookkeeping, exec); err != nil {
		s.logger.Errorw("Failed to update execution record",
			"execution_id", exec.ID,
			logger.FieldError, err)
	}

	return cbErr
}

// invoke runs the callback, converting a panic into an error
func (s *Scheduler) invoke(ctx context.Context, reg *Registration) (err error) {
	cb, ok := s.callbacks.Get(reg.Callback)
	if !ok {
		return errors.Newf("callback %q is not registered", reg.Callback)
	}

	defer func() {
		if r := recover(); r != nil {
			err = errors.WithDetail(
				errors.Newf("callback %s panicked: %v", reg.Callback, r),
				fmt.Sprintf("goroutine stack:\n%s", debug.Stack()))
		}
	}()

	return cb(ctx, reg.Payload)
}
