package migration

import (
	"context"
	"time"

	"github.com/teranos/qntx-migrate/pulse/schedule"
)

// ExternalScheduler is the timer service Timer migrations are registered with.
// *schedule.Scheduler implements it.
type ExternalScheduler interface {
	// Register creates an active registration and returns its handle
	Register(ctx context.Context, req schedule.RegisterRequest) (schedule.Handle, error)
	// Deactivate disarms a registration; disarming an inactive one is a no-op
	Deactivate(ctx context.Context, h schedule.Handle) error
	// Reactivate arms a registration to fire once at fireAt
	Reactivate(ctx context.Context, h schedule.Handle, fireAt time.Time) error
	// TriggerNow fires a registration immediately
	TriggerNow(ctx context.Context, h schedule.Handle) error
	// Get returns a registration
	Get(ctx context.Context, h schedule.Handle) (*schedule.Registration, error)
}

var _ ExternalScheduler = (*schedule.Scheduler)(nil)
