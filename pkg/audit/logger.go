package audit

import (
	"context"
	"time"

	"github.com/platinummonkey/warden/pkg/contextkeys"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *AuditEvent) error

	// Close closes the logger and flushes any buffered logs
	Close() error
}

// NewNoOpLogger returns a logger that discards every event
func NewNoOpLogger() Logger {
	return &noOpLogger{}
}

// noOpLogger is a logger that does nothing (used when no logger is configured)
type noOpLogger struct{}

func (l *noOpLogger) Log(ctx context.Context, event *AuditEvent) error {
	return nil
}

func (l *noOpLogger) Close() error {
	return nil
}

// NewEvent creates an event with the timestamp and request id filled in
func NewEvent(ctx context.Context, eventType EventType, status EventStatus) *AuditEvent {
	return &AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		RequestID: contextkeys.GetRequestID(ctx),
		Metadata:  make(map[string]interface{}),
	}
}

// StatusFor returns the event status matching the outcome of an operation
func StatusFor(err error) EventStatus {
	if err != nil {
		return EventStatusFailure
	}
	return EventStatusSuccess
}
