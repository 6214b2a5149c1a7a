package migration

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/qntx-migrate/am/geotime"
	"github.com/teranos/qntx-migrate/errors"
	qntxtest "github.com/teranos/qntx-migrate/internal/testing"
	"github.com/teranos/qntx-migrate/pulse/schedule"
)

// fakeScheduler is an in-memory ExternalScheduler that records every call
type fakeScheduler struct {
	mu            sync.Mutex
	regs          map[schedule.Handle]*schedule.Registration
	order         []schedule.Handle
	deactivations int
	reactivations int

	registerErr   error
	deactivateErr error
	reactivateErr error

	// onTrigger runs for TriggerNow, standing in for the callback
	onTrigger func(ctx context.Context, payload []byte) error
	// onDeactivate runs after a successful Deactivate, to interleave a concurrent write
	onDeactivate func()
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{regs: make(map[schedule.Handle]*schedule.Registration)}
}

func (f *fakeScheduler) Register(_ context.Context, req schedule.RegisterRequest) (schedule.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.registerErr != nil {
		return "", f.registerErr
	}
	h := schedule.Handle(fmt.Sprintf("reg-%d", len(f.order)+1))
	remaining := 1
	if req.Recurring {
		remaining = -1
	}
	f.regs[h] = &schedule.Registration{
		ID:              h,
		Name:            req.Name,
		Callback:        req.Callback,
		Payload:         req.Payload,
		FireAt:          req.FireAt.UTC(),
		Remaining:       remaining,
		IntervalSeconds: req.IntervalSeconds,
		Active:          true,
	}
	f.order = append(f.order, h)
	return h, nil
}

func (f *fakeScheduler) Deactivate(_ context.Context, h schedule.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	reg, ok := f.regs[h]
	if !ok {
		return errors.NewNotFoundError("registration %s not found", h)
	}
	if f.deactivateErr != nil {
		return f.deactivateErr
	}
	f.deactivations++
	reg.Active = false
	if f.onDeactivate != nil {
		f.onDeactivate()
	}
	return nil
}

func (f *fakeScheduler) Reactivate(_ context.Context, h schedule.Handle, fireAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	reg, ok := f.regs[h]
	if !ok {
		return errors.NewNotFoundError("registration %s not found", h)
	}
	if f.reactivateErr != nil {
		return f.reactivateErr
	}
	f.reactivations++
	reg.Active = true
	reg.Remaining = 1
	reg.FireAt = fireAt.UTC()
	return nil
}

func (f *fakeScheduler) TriggerNow(ctx context.Context, h schedule.Handle) error {
	f.mu.Lock()
	reg, ok := f.regs[h]
	f.mu.Unlock()
	if !ok {
		return errors.NewNotFoundError("registration %s not found", h)
	}
	if f.onTrigger == nil {
		return nil
	}
	err := f.onTrigger(ctx, reg.Payload)
	f.mu.Lock()
	reg.Remaining = 0
	reg.Active = false
	f.mu.Unlock()
	return err
}

func (f *fakeScheduler) Get(_ context.Context, h schedule.Handle) (*schedule.Registration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reg, ok := f.regs[h]
	if !ok {
		return nil, errors.NewNotFoundError("registration %s not found", h)
	}
	c := *reg
	return &c, nil
}

func (f *fakeScheduler) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.order)
}

func (f *fakeScheduler) forget(h schedule.Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.regs, h)
}

// Registered test targets
const (
	testModel  = "res.partner"
	emptyModel = "res.empty"
)

// fixture is a service over an in-memory database with a fake scheduler.
// The server timezone is Europe/Amsterdam and the clock is fixed.
type fixture struct {
	svc   *Service
	store *Store
	sched *fakeScheduler
	db    *sql.DB
	now   time.Time

	mu    sync.Mutex
	calls []string // target functions in invocation order
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	conn := qntxtest.CreateTestDB(t)
	normalizer, err := geotime.NewNormalizer("Europe/Amsterdam")
	require.NoError(t, err)

	f := &fixture{
		sched: newFakeScheduler(),
		db:    conn,
		now:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	registry := NewRegistry()
	registry.Register(testModel, "fix_names", f.record("fix_names", nil))
	registry.Register(testModel, "merge_duplicates", f.record("merge_duplicates", nil))
	registry.Register(testModel, "explode", f.record("explode", errors.New("division by zero")))
	registry.Register(testModel, "panic", func(ctx context.Context) (any, error) {
		f.note("panic")
		var m map[string]int
		m["boom"]++
		return nil, nil
	})
	registry.RegisterModel(emptyModel)

	f.svc = NewService(conn, registry, f.sched, normalizer, zaptest.NewLogger(t).Sugar())
	f.store = f.svc.store
	clock := func() time.Time { return f.now }
	f.svc.now = clock
	f.svc.dispatcher.now = clock
	f.sched.onTrigger = f.svc.Dispatcher().HandleCallback
	return f
}

func (f *fixture) note(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fixture) record(name string, err error) Func {
	return func(ctx context.Context) (any, error) {
		f.note(name)
		if err != nil {
			return nil, err
		}
		return name + " ok", nil
	}
}

func (f *fixture) create(t *testing.T, name, function string) *Job {
	t.Helper()
	job, err := f.svc.Create(context.Background(), CreateRequest{
		Name:           name,
		TargetModel:    testModel,
		TargetFunction: function,
	})
	require.NoError(t, err)
	return job
}

func (f *fixture) createTimer(t *testing.T, name, function string, at time.Time) *Job {
	t.Helper()
	job, err := f.svc.Create(context.Background(), CreateRequest{
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

func (f *fixture) reload(t *testing.T, id int64) *Job {
	t.Helper()
	job, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	return job
}

// forceStatus writes a status directly, to set up states a test needs
func (f *fixture) forceStatus(t *testing.T, id int64, status Status) {
	t.Helper()
	_, err := f.db.Exec(`UPDATE data_migrations SET status = ? WHERE id = ?`, string(status), id)
	require.NoError(t, err)
}

func (f *fixture) count(t *testing.T) int {
	t.Helper()
	var n int
	require.NoError(t, f.db.QueryRow(`SELECT COUNT(*) FROM data_migrations`).Scan(&n))
	return n
}
