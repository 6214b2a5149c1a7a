package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity
	FieldMigrationID = "migration_id"
	FieldHandle      = "handle"

	// Migration job
	FieldModel         = "model"
	FieldFunction      = "function"
	FieldRunningMethod = "running_method"
	FieldScheduledAt   = "scheduled_at"
	FieldFromStatus    = "from_status"
	FieldToStatus      = "to_status"

	// Operations
	FieldOperation = "operation"
	FieldCallback  = "callback"

	// Timing
	FieldDurationMS = "duration_ms"
	FieldFireAt     = "fire_at"
	FieldTimezone   = "timezone"

	// Errors
	FieldError = "error"

	// Counts
	FieldCount     = "count"
	FieldBatchSize = "batch_size"

	// Status
	FieldStatus = "status"

	// Files and paths
	FieldFile = "file"
	FieldPath = "path"

	FieldSymbol = "symbol" // segment symbol (꩜, ⇡, ⊔, etc.)
)

// Context keys for propagating logging context
type contextKey string

const (
	migrationIDKey contextKey = "logger_migration_id"
)

// WithMigrationID adds a migration job ID to the context for logging
func WithMigrationID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, migrationIDKey, id)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if id, ok := ctx.Value(migrationIDKey).(int64); ok && id != 0 {
		fields = append(fields, FieldMigrationID, id)
	}

	return fields
}

// LoggerFromContext returns the given logger with fields extracted from context.
func LoggerFromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	if base == nil {
		base = Logger
	}
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	d := &Dispatcher{
//	    logger: logger.ComponentLogger("migration.dispatcher"),
//	}
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
