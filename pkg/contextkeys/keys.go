// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/warden/pkg/contextkeys"
//	ctx = contextkeys.WithSession(ctx, session)
//	session, ok := ctx.Value(contextkeys.SessionKey).(rbac.Session)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// SessionKey contains rbac.Session
	// Set by: middleware.SessionMiddleware (pkg/middleware/session.go)
	// Required by: All /rbac endpoints
	// Type: rbac.Session
	SessionKey Key = "session"

	// TenantIDKey contains the caller's tenant ID string
	// Set by: middleware.SessionMiddleware
	// Used by: Audit handlers, logger
	// Type: string
	TenantIDKey Key = "tenant_id"

	// RequestIDKey contains request ID string (UUID)
	// Set by: middleware.RequestIDMiddleware
	// Used by: Logger, audit trail, distributed tracing
	// Type: string
	RequestIDKey Key = "request_id"

	// UserIDKey contains the acting user ID string
	// Set by: middleware.SessionMiddleware
	// Used by: Logger, audit trail
	// Type: string
	UserIDKey Key = "user_id"

	// LoggerKey contains *observability.Logger
	// Set by: httputil.LoggerMiddleware, enriched by middleware.SessionMiddleware
	// Used by: Handlers and services that need structured logging with request context
	// Type: *observability.Logger
	LoggerKey Key = "logger"
)

// Helper functions for type-safe context operations

// WithSession adds the caller session to the context
func WithSession(ctx context.Context, session interface{}) context.Context {
	return context.WithValue(ctx, SessionKey, session)
}

// WithTenantID adds tenant ID to the context
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, TenantIDKey, tenantID)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetTenantID retrieves tenant ID from context
func GetTenantID(ctx context.Context) string {
	if tenantID, ok := ctx.Value(TenantIDKey).(string); ok {
		return tenantID
	}
	return ""
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetUserID retrieves user ID from context
func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDKey).(string); ok {
		return userID
	}
	return ""
}
