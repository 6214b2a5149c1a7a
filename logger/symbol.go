package logger

import (
	"github.com/teranos/qntx-migrate/sym"
	"go.uber.org/zap"
)

// Symbol-aware logging helpers.
// The symbol goes into a structured field, not into the message, so logs stay
// queryable by segment.

// AddPulseSymbol adds the Pulse symbol (꩜) to a logger
func AddPulseSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, sym.Pulse)
}

// AddMigrateSymbol adds the Migrate symbol (⇡) to a logger
func AddMigrateSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, sym.Migrate)
}

// PulseOpenInfow logs an info message with the PulseOpen symbol (✿)
// Used for graceful startup operations
func PulseOpenInfow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.With(FieldSymbol, sym.PulseOpen).Infow(msg, keysAndValues...)
	}
}

// PulseCloseInfow logs an info message with the PulseClose symbol (❀)
// Used for graceful shutdown operations
func PulseCloseInfow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.With(FieldSymbol, sym.PulseClose).Infow(msg, keysAndValues...)
	}
}
