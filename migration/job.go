// Package migration schedules and runs one-shot data migrations.
//
// A migration names a registered target model and a zero-argument function on it.
// It runs either during an upgrade pass (AtUpgrade) or once at a wall-clock time
// through the pulse scheduler (Timer). Every status change goes through the state
// machine in state.go and is persisted before the next step begins.
package migration

import (
	"strings"
	"time"

	"github.com/teranos/qntx-migrate/errors"
	"github.com/teranos/qntx-migrate/pulse/schedule"
)

// Status is the lifecycle state of a migration
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusDone      Status = "done"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// RunningMethod selects what triggers a migration
type RunningMethod string

const (
	// RunAtUpgrade runs the migration during the next upgrade pass
	RunAtUpgrade RunningMethod = "at_upgrade"
	// RunTimer runs the migration once at ScheduledAt
	RunTimer RunningMethod = "timer"
)

// IsValidStatus returns true if the status string is a valid Status
func IsValidStatus(s string) bool {
	switch Status(s) {
	case StatusQueued, StatusRunning, StatusDone, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsValidRunningMethod returns true if the string is a valid RunningMethod
func IsValidRunningMethod(s string) bool {
	switch RunningMethod(s) {
	case RunAtUpgrade, RunTimer:
		return true
	default:
		return false
	}
}

// ParseStatus parses a status name, case-insensitively
func ParseStatus(s string) (Status, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if !IsValidStatus(s) {
		return "", errors.NewValidationError("unknown status %q", s)
	}
	return Status(s), nil
}

// ParseRunningMethod parses a running method. "cron" and "cron_job" are accepted for timer.
func ParseRunningMethod(s string) (RunningMethod, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "cron", "cron_job":
		return RunTimer, nil
	case "upgrade":
		return RunAtUpgrade, nil
	}
	if !IsValidRunningMethod(s) {
		return "", errors.NewValidationError("unknown running method %q", s)
	}
	return RunningMethod(s), nil
}

// Job is a persisted migration record
type Job struct {
	ID             int64         `json:"id" yaml:"id"`
	Name           string        `json:"name" yaml:"name"`
	Description    string        `json:"description,omitempty" yaml:"description,omitempty"`
	TargetModel    string        `json:"target_model" yaml:"target_model"`
	TargetFunction string        `json:"target_function" yaml:"target_function"`
	Status         Status        `json:"status" yaml:"status"`
	RunningMethod  RunningMethod `json:"running_method" yaml:"running_method"`
	ScheduledAt    *time.Time    `json:"scheduled_at,omitempty" yaml:"scheduled_at,omitempty"` // UTC
	LastRunAt      *time.Time    `json:"last_run_at,omitempty" yaml:"last_run_at,omitempty"`
	ErrorDetail    string        `json:"error_detail,omitempty" yaml:"error_detail,omitempty"`
	CreatedAt      time.Time     `json:"created_at" yaml:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at" yaml:"updated_at"`

	// Weak reference to the pulse registration; the registration is not owned
	SchedulerHandle schedule.Handle `json:"scheduler_handle,omitempty" yaml:"scheduler_handle,omitempty"`
}

// IsTimer reports whether the job is triggered by the scheduler
func (j *Job) IsTimer() bool {
	return j.RunningMethod == RunTimer
}

// HasHandle reports whether a scheduler registration is attached
func (j *Job) HasHandle() bool {
	return !j.SchedulerHandle.IsZero()
}

// Target returns "model.function", for logs and display
func (j *Job) Target() string {
	return j.TargetModel + "." + j.TargetFunction
}

// clone returns a copy that shares no pointers with j
func (j *Job) clone() *Job {
	c := *j
	if j.ScheduledAt != nil {
		t := *j.ScheduledAt
		c.ScheduledAt = &t
	}
	if j.LastRunAt != nil {
		t := *j.LastRunAt
		c.LastRunAt = &t
	}
	return &c
}
