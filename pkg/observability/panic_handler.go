package observability

import (
	"runtime/debug"
)

// RecoverPanic recovers from a panic and logs it with the stack trace.
// It must be called directly in a defer statement:
//
//	defer observability.RecoverPanic(logger, "audit retention job")
//
// The panic is not re-raised.
func RecoverPanic(logger *Logger, context string) {
	if r := recover(); r != nil {
		LogPanic(logger, context, r)
	}
}

// LogPanic logs an already recovered panic value
func LogPanic(logger *Logger, context string, value interface{}) {
	logger.WithFields(map[string]interface{}{
		"panic":   value,
		"stack":   string(debug.Stack()),
		"context": context,
	}).Error("PANIC recovered")
}
