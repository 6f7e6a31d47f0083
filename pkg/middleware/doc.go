// Package middleware provides HTTP middleware for caller sessions and write throttling.
//
// # Overview
//
// Warden sits behind an authentication gateway. The gateway verifies the caller and
// forwards its identity as headers; this package turns those headers into an
// rbac.Session and limits how fast one tenant can mutate roles.
//
// # Middleware Components
//
// SessionMiddleware: builds the session from X-Tenant-ID, X-App-ID and X-User-ID
//
//	sub := router.PathPrefix("/rbac").Subrouter()
//	sub.Use(middleware.NewSessionMiddleware(false).Handler)
//	// missing or malformed headers yield 401
//
// RateLimitMiddleware: per-tenant limit on POST, PUT and DELETE
//
//	limiter := middleware.NewDistributedRateLimiter(redisClient, nil, "")
//	sub.Use(middleware.NewRateLimitMiddleware(limiter).Handler)
//
// The limiter is either the in-process token bucket (RateLimiter) or the Redis
// fixed window shared by all replicas (DistributedRateLimiter). Limiter errors fail
// open unless SetFailOpen(false) is called.
//
// # Related Packages
//
//   - pkg/rbac: Session and the handlers these wrap
//   - pkg/contextkeys: where the session and IDs are stored
package middleware
