package migration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/qntx-migrate/am/geotime"
	"github.com/teranos/qntx-migrate/errors"
	qntxtest "github.com/teranos/qntx-migrate/internal/testing"
	"github.com/teranos/qntx-migrate/pulse/schedule"
)

// pulseFixture wires the service to the real pulse scheduler, as the daemon does
func pulseFixture(t *testing.T) (*Service, *schedule.Scheduler) {
	t.Helper()
	conn := qntxtest.CreateTestDB(t)
	log := zaptest.NewLogger(t).Sugar()

	normalizer, err := geotime.NewNormalizer("UTC")
	require.NoError(t, err)

	registry := NewRegistry()
	registry.Register(testModel, "fix_names", func(ctx context.Context) (any, error) { return "ok", nil })
	registry.Register(testModel, "explode", func(ctx context.Context) (any, error) {
		return nil, errors.New("constraint failed")
	})

	callbacks := schedule.NewCallbackRegistry()
	sched := schedule.NewScheduler(conn, callbacks, log)
	svc := NewService(conn, registry, sched, normalizer, log)
	callbacks.Register(CallbackName, svc.Dispatcher().HandleCallback)
	return svc, sched
}

func createPulseTimer(t *testing.T, svc *Service, name, function string, at time.Time) *Job {
	t.Helper()
	job, err := svc.Create(context.Background(), CreateRequest{
		Name:           name,
		TargetModel:    testModel,
		TargetFunction: function,
		RunningMethod:  RunTimer,
		ScheduledAt:    &at,
		AlreadyUTC:     true,
	})
	require.NoError(t, err)
	return job
}

func TestPulse_DueTimerRuns(t *testing.T) {
	svc, sched := pulseFixture(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Hour)
	ok := createPulseTimer(t, svc, "due", "fix_names", past)
	bad := createPulseTimer(t, svc, "due and failing", "explode", past)
	later := createPulseTimer(t, svc, "later", "fix_names", time.Now().UTC().Add(24*time.Hour))

	fired, err := sched.FireDue(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, fired)

	got, err := svc.Get(ctx, ok.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, got.Status)

	got, err = svc.Get(ctx, bad.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Contains(t, got.ErrorDetail, "constraint failed")

	got, err = svc.Get(ctx, later.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, got.Status)

	// One-shot: spent after firing
	reg, err := sched.Get(ctx, ok.SchedulerHandle)
	require.NoError(t, err)
	assert.False(t, reg.Active)
	assert.Zero(t, reg.Remaining)

	history, err := sched.History(ctx, bad.SchedulerHandle, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, schedule.ExecutionStatusFailed, history[0].Status)

	// Nothing fires twice
	fired, err = sched.FireDue(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	assert.Zero(t, fired)
}

func TestPulse_TriggerNowAndReschedule(t *testing.T) {
	svc, sched := pulseFixture(t)
	ctx := context.Background()

	job := createPulseTimer(t, svc, "manual", "explode", time.Now().UTC().Add(24*time.Hour))
	require.Error(t, sched.TriggerNow(ctx, job.SchedulerHandle))

	got, err := svc.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, got.Status)

	t2 := time.Now().UTC().Add(48 * time.Hour).Truncate(time.Second)
	rescheduled, err := svc.Reschedule(ctx, job.ID, t2)
	require.NoError(t, err)
	assert.Equal(t, job.SchedulerHandle, rescheduled.SchedulerHandle)

	reg, err := sched.Get(ctx, job.SchedulerHandle)
	require.NoError(t, err)
	assert.True(t, reg.Active)
	assert.Equal(t, 1, reg.Remaining)
	assert.Equal(t, t2, reg.FireAt)

	all, err := sched.List(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 1, "reschedule reuses the registration")
}

func TestPulse_CancelDisarms(t *testing.T) {
	svc, sched := pulseFixture(t)
	ctx := context.Background()

	job := createPulseTimer(t, svc, "cancel me", "fix_names", time.Now().UTC().Add(-time.Minute))
	_, err := svc.Cancel(ctx, job.ID)
	require.NoError(t, err)

	fired, err := sched.FireDue(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	assert.Zero(t, fired)

	got, err := svc.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)

	// Cancelling a disarmed registration's migration again is illegal, not a scheduler error
	_, err = svc.Cancel(ctx, job.ID)
	assert.True(t, errors.IsIllegalTransitionError(err))
}

func TestPulse_BatchRunDisarms(t *testing.T) {
	svc, sched := pulseFixture(t)
	ctx := context.Background()

	job := createPulseTimer(t, svc, "run early", "fix_names", time.Now().UTC().Add(time.Hour))
	result := svc.BatchRun(ctx, []int64{job.ID})
	assert.Equal(t, 1, result.Succeeded)

	reg, err := sched.Get(ctx, job.SchedulerHandle)
	require.NoError(t, err)
	assert.False(t, reg.Active)
}
