package schedule

import "time"

// Execution records a single fire of a registration.
//
// Each fire creates a record tracking timing, outcome and what triggered it,
// providing history for debugging and failure troubleshooting.
type Execution struct {
	ID             string     `json:"id" yaml:"id"`
	RegistrationID Handle     `json:"registration_id" yaml:"registration_id"`
	Status         string     `json:"status" yaml:"status"`             // running, completed, failed
	TriggeredBy    string     `json:"triggered_by" yaml:"triggered_by"` // ticker, manual
	StartedAt      time.Time  `json:"started_at" yaml:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	DurationMs     *int64     `json:"duration_ms,omitempty" yaml:"duration_ms,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty" yaml:"error_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" yaml:"updated_at"`
}

// Execution status constants
const (
	ExecutionStatusRunning   = "running"
	ExecutionStatusCompleted = "completed"
	ExecutionStatusFailed    = "failed"
)

// What caused a fire
const (
	TriggerTicker = "ticker"
	TriggerManual = "manual"
)
