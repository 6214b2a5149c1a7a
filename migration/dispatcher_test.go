package migration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/qntx-migrate/errors"
)

func TestRun_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.create(t, "fix partner names", "fix_names")

	// A previous failure is cleared by a successful run
	_, err := f.db.Exec(`UPDATE data_migrations SET error_detail = 'old' WHERE id = ?`, job.ID)
	require.NoError(t, err)

	ran, err := f.svc.Run(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, ran.Status)
	assert.Empty(t, ran.ErrorDetail)

	stored := f.reload(t, job.ID)
	assert.Equal(t, StatusDone, stored.Status)
	assert.Equal(t, "", stored.ErrorDetail)
	require.NotNil(t, stored.LastRunAt)
	assert.Equal(t, f.now, *stored.LastRunAt)
	assert.Equal(t, []string{"fix_names"}, f.calls)
}

func TestRun_CallableErrorIsRecorded(t *testing.T) {
	f := newFixture(t)
	job := f.create(t, "explode", "explode")

	ran, err := f.svc.Run(context.Background(), job.ID)
	require.NoError(t, err, "invocation errors never propagate")
	assert.Equal(t, StatusFailed, ran.Status)

	stored := f.reload(t, job.ID)
	assert.Equal(t, StatusFailed, stored.Status)
	assert.NotEmpty(t, stored.ErrorDetail)
	assert.Contains(t, stored.ErrorDetail, "division by zero")
	assert.Contains(t, stored.ErrorDetail, "run res.partner.explode")
}

func TestRun_PanicIsRecorded(t *testing.T) {
	f := newFixture(t)
	job := f.create(t, "panics", "panic")

	ran, err := f.svc.Run(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, ran.Status)
	assert.Contains(t, ran.ErrorDetail, "panicked")
}

func TestRun_UnknownFunctionFails(t *testing.T) {
	f := newFixture(t)
	job := f.create(t, "missing", "does_not_exist")

	ran, err := f.svc.Run(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, ran.Status)
	assert.Contains(t, ran.ErrorDetail, `has no function "does_not_exist"`)

	// A model without functions validates, but every run fails
	empty, err := f.svc.Create(context.Background(), CreateRequest{
		Name: "empty", TargetModel: emptyModel, TargetFunction: "anything",
	})
	require.NoError(t, err)
	ran, err = f.svc.Run(context.Background(), empty.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, ran.Status)
}

func TestRun_PersistsRunningBeforeInvoking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var seen Status
	f.svc.registry.Register(testModel, "observe", func(ctx context.Context) (any, error) {
		job, err := f.store.FindByName(ctx, "observer")
		if err != nil {
			return nil, err
		}
		seen = job.Status
		return nil, nil
	})
	job := f.create(t, "observer", "observe")

	_, err := f.svc.Run(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, seen)
}

func TestRun_RejectsJobsNotQueued(t *testing.T) {
	for _, status := range []Status{StatusRunning, StatusDone, StatusFailed, StatusCancelled} {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t)
			job := f.create(t, "once", "fix_names")
			f.forceStatus(t, job.ID, status)

			_, err := f.svc.Run(context.Background(), job.ID)
			require.Error(t, err)
			assert.True(t, errors.IsIllegalTransitionError(err))
			assert.Equal(t, status, f.reload(t, job.ID).Status)
			assert.Empty(t, f.calls, "callable must not run")
		})
	}
}

func TestRun_UnknownMigration(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Run(context.Background(), 404)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestRun_SecondTriggerRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var nested error
	f.svc.registry.Register(testModel, "reenter", func(ctx context.Context) (any, error) {
		// The scheduler firing while the upgrade pass runs the same job
		_, nested = f.svc.Run(ctx, 1)
		return nil, nil
	})
	job := f.create(t, "reentrant", "reenter")
	require.Equal(t, int64(1), job.ID)

	ran, err := f.svc.Run(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, ran.Status)
	require.Error(t, nested)
	assert.True(t, errors.IsIllegalTransitionError(nested))
}

func TestBatchRun_ContinuesPastFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.create(t, "first", "fix_names")
	second := f.create(t, "second", "explode")
	third := f.create(t, "third", "merge_duplicates")
	done := f.create(t, "already done", "fix_names")
	f.forceStatus(t, done.ID, StatusDone)

	result := f.svc.BatchRun(ctx, []int64{first.ID, second.ID, 999, third.ID, done.ID})
	assert.Equal(t, 5, result.Total)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 2, result.Skipped)
	require.Len(t, result.Outcomes, 5)
	assert.True(t, errors.IsNotFoundError(result.Outcomes[2].Err))
	assert.True(t, errors.IsIllegalTransitionError(result.Outcomes[4].Err))

	assert.Equal(t, []string{"fix_names", "explode", "merge_duplicates"}, f.calls)
	assert.Equal(t, StatusDone, f.reload(t, first.ID).Status)
	assert.Equal(t, StatusFailed, f.reload(t, second.ID).Status)
	assert.Equal(t, StatusDone, f.reload(t, third.ID).Status)
}

func TestBatchRun_DisarmsTimerRegistrations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job := f.createTimer(t, "timer", "fix_names", f.now.Add(24*time.Hour))
	require.True(t, job.HasHandle())

	result := f.svc.BatchRun(ctx, []int64{job.ID})
	assert.Equal(t, 1, result.Succeeded)

	reg, err := f.sched.Get(ctx, job.SchedulerHandle)
	require.NoError(t, err)
	assert.False(t, reg.Active)

	// Disarming again is a no-op
	require.NoError(t, f.svc.coordinator.Release(ctx, f.reload(t, job.ID)))
	assert.Equal(t, 1, f.sched.count())
}

func TestHandleCallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ok := f.create(t, "ok", "fix_names")
	bad := f.create(t, "bad", "explode")

	payload, err := EncodePayload(ok.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"migration_id": 1}`, string(payload))
	require.NoError(t, f.svc.Dispatcher().HandleCallback(ctx, payload))
	assert.Equal(t, StatusDone, f.reload(t, ok.ID).Status)

	payload, err = EncodePayload(bad.ID)
	require.NoError(t, err)
	assert.Error(t, f.svc.Dispatcher().HandleCallback(ctx, payload))
	assert.Equal(t, StatusFailed, f.reload(t, bad.ID).Status)

	assert.Error(t, f.svc.Dispatcher().HandleCallback(ctx, []byte(`not json`)))
	assert.Error(t, f.svc.Dispatcher().HandleCallback(ctx, []byte(`{}`)))
}

func TestDecodePayload(t *testing.T) {
	id, err := DecodePayload([]byte(`{"migration_id": 42}`))
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	_, err = DecodePayload([]byte(`{"migration_id": 0}`))
	assert.True(t, errors.IsInvalidRequestError(err))
}
