package rbac

import (
	"errors"

	"github.com/lib/pq"
)

var (
	// ErrNotFound is returned when a role, override or member does not exist.
	// Built-in roles are reported as not found on delete.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateName is returned when another active role in the tenant has the same name
	ErrDuplicateName = errors.New("duplicate role name")

	// ErrStateConflict is returned when a submitted permission entry disagrees with stored state
	ErrStateConflict = errors.New("permission state conflict")

	// ErrPersistence is returned for storage failures, including lost uniqueness races
	ErrPersistence = errors.New("persistence error")

	// ErrForbidden is returned for structural mutations of built-in roles
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidArgument is returned for malformed requests
	ErrInvalidArgument = errors.New("invalid argument")
)

// Error codes exposed to callers
const (
	CodeNotFound         = "not_found"
	CodeDuplicateName    = "duplicate_name"
	CodeStateConflict    = "state_conflict"
	CodePersistenceError = "persistence_error"
	CodeForbidden        = "forbidden"
	CodeInvalidArgument  = "invalid_argument"
	CodeInternal         = "internal"
)

// ErrorCode maps an error to its stable wire code
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrDuplicateName):
		return CodeDuplicateName
	case errors.Is(err, ErrStateConflict):
		return CodeStateConflict
	case errors.Is(err, ErrPersistence):
		return CodePersistenceError
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.Is(err, ErrInvalidArgument):
		return CodeInvalidArgument
	default:
		return CodeInternal
	}
}

// PostgreSQL error codes the store distinguishes
const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

// pqCode returns the SQLSTATE of a lib/pq error, or "" for anything else
func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

// pqConstraint returns the violated constraint name of a lib/pq error
func pqConstraint(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Constraint
	}
	return ""
}
