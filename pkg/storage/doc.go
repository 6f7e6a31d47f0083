// Package storage holds connection settings for Warden's backing services.
//
// # Overview
//
// Role data lives in PostgreSQL. A primary takes every write and the reads that must
// observe them; optional read replicas serve directory listings. Redis is optional and
// carries role change notifications and the shared write rate limiter.
//
// Config is loaded by pkg/config and handed to the constructors in storage/postgres:
//
//	cm, err := postgres.NewConnectionManager(postgres.ConnectionConfigFrom(cfg.Storage), logger)
//	if err != nil {
//		return err
//	}
//	defer cm.Close()
//
//	store := rbac.NewStore(cm.Primary())
//	svc := rbac.NewService(store, catalog, rbac.WithReadStore(rbac.NewStore(cm.Replica())))
//
// # Related Packages
//
//   - pkg/storage/postgres: ConnectionManager and the Redis client factory
//   - pkg/rbac: the Store built on these connections
package storage
