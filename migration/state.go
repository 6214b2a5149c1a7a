package migration

import (
	"time"

	"github.com/teranos/qntx-migrate/errors"
)

// transitions lists every allowed status change. Cancelled has no outgoing edge.
var transitions = map[Status][]Status{
	StatusQueued:  {StatusRunning, StatusCancelled},
	StatusRunning: {StatusDone, StatusFailed},
	StatusDone:    {StatusQueued},
	StatusFailed:  {StatusQueued, StatusCancelled},
}

// CanTransition reports whether a job in status from may move to status to
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// canReschedule reports whether a job in status s may be rescheduled back to Queued.
// A queued job stays queued with a new time.
func canReschedule(s Status) bool {
	switch s {
	case StatusQueued, StatusFailed, StatusDone:
		return true
	default:
		return false
	}
}

// transition moves j to status to and applies the side effects of the edge.
// detail is recorded on the Failed edge. On an illegal edge j is left untouched.
func (j *Job) transition(to Status, now time.Time, detail string) error {
	if !CanTransition(j.Status, to) {
		return errors.NewIllegalTransitionError(
			"migration %d cannot move from %s to %s", j.ID, j.Status, to)
	}

	switch to {
	case StatusRunning:
		j.LastRunAt = &now
	case StatusDone:
		j.ErrorDetail = ""
	case StatusFailed:
		if detail == "" {
			detail = "migration failed without a diagnostic"
		}
		j.ErrorDetail = detail
	}
	j.Status = to
	j.UpdatedAt = now
	return nil
}
