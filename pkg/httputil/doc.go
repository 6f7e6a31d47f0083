// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
//	httputil.WriteSuccess(w, role)
//	httputil.WriteCreated(w, map[string]string{"id": id.String()})
//	httputil.WriteCodedError(w, http.StatusConflict, "duplicate_name", "role name already in use")
//
// Error bodies are always {"error": "...", "code": "..."} with code omitted when empty.
//
// # Request Parsing
//
//	var req createRoleRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
//	rows, ok := httputil.ParseQueryIntOrError(w, r, "rows", 20)
//
// # Middleware
//
//	router.Use(
//		httputil.RequestIDMiddleware,
//		httputil.LoggerMiddleware(logger),
//		httputil.RecoveryMiddleware,
//		httputil.LoggingMiddleware,
//		httputil.MaxBytesMiddleware(1<<20),
//	)
package httputil
