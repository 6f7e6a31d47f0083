package audit

import (
	"context"
	"time"
)

// Store provides methods for querying and managing audit logs
type Store interface {
	// Search searches audit logs based on filters
	Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error)

	// Cleanup removes audit logs older than the retention period
	Cleanup(ctx context.Context, policy RetentionPolicy) (int64, error)
}

// DBStore implements Store interface using PostgreSQL
type DBStore struct {
	logger *DBLogger
}

// NewDBStore creates a new database-backed audit store
func NewDBStore(logger *DBLogger) *DBStore {
	return &DBStore{
		logger: logger,
	}
}

// Search searches audit logs based on filters
func (s *DBStore) Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error) {
	return s.logger.Search(ctx, filter)
}

// Cleanup removes audit logs older than the retention period
func (s *DBStore) Cleanup(ctx context.Context, policy RetentionPolicy) (int64, error) {
	return s.logger.Purge(ctx, policy.Cutoff(time.Now()))
}
