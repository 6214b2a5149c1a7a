// Package schedule provides pulse, a persistent callback scheduler.
//
// A registration names a statically registered callback and the payload to pass it.
// The ticker fires active registrations whose fire time has passed; non-recurring
// registrations fire once and then deactivate.
package schedule

import "time"

// Handle identifies a registration
type Handle string

// String returns the handle text
func (h Handle) String() string { return string(h) }

// IsZero reports whether h refers to no registration
func (h Handle) IsZero() bool { return h == "" }

// Short returns the first 8 characters, for display
func (h Handle) Short() string {
	if len(h) <= 8 {
		return string(h)
	}
	return string(h[:8])
}

// Recurring registrations never run out of fires
const remainingUnlimited = -1

// Registration is a scheduled callback
type Registration struct {
	ID              Handle
	Name            string
	Callback        string // Name in the CallbackRegistry
	Payload         []byte // Passed verbatim to the callback
	FireAt          time.Time
	Remaining       int // Fires left; -1 for recurring
	IntervalSeconds int // Recurring interval; 0 for one-shot
	Active          bool
	Firing          bool
	LastCallAt      *time.Time
	LastExecutionID string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Recurring reports whether the registration fires repeatedly
func (r *Registration) Recurring() bool {
	return r.Remaining == remainingUnlimited
}

// Due reports whether the registration should fire at now
func (r *Registration) Due(now time.Time) bool {
	return r.Active && !r.Firing && r.Remaining != 0 && !r.FireAt.After(now)
}

// consume applies one fire: recurring registrations advance, one-shot ones count down
// and deactivate when exhausted.
func (r *Registration) consume(now time.Time) {
	r.LastCallAt = &now
	if r.Recurring() {
		next := r.FireAt
		step := time.Duration(r.IntervalSeconds) * time.Second
		if step <= 0 {
			step = time.Second
		}
		for !next.After(now) {
			next = next.Add(step)
		}
		r.FireAt = next
		return
	}
	if r.Remaining > 0 {
		r.Remaining--
	}
	if r.Remaining == 0 {
		r.Active = false
	}
}

// RegisterRequest describes a new registration
type RegisterRequest struct {
	Name            string
	FireAt          time.Time
	Recurring       bool
	IntervalSeconds int // Required when Recurring
	Callback        string
	Payload         []byte
}
