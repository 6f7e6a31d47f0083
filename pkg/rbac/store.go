package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// dbtx is the query surface shared by *sql.DB and *sql.Tx
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store handles role, override and membership persistence
type Store struct {
	db   dbtx
	conn *sql.DB
}

// NewStore creates a new RBAC store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, conn: db}
}

// WithTx returns a store whose queries run inside tx
func (s *Store) WithTx(tx *sql.Tx) *Store {
	return &Store{db: tx, conn: s.conn}
}

// RunInTx runs fn inside a single transaction.
// The transaction is rolled back if fn returns an error or panics, and committed otherwise.
func (s *Store) RunInTx(ctx context.Context, fn func(tx *Store) error) (err error) {
	if s.conn == nil {
		return fmt.Errorf("%w: store has no connection", ErrPersistence)
	}
	if _, nested := s.db.(*sql.Tx); nested {
		return fn(s)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("failed to start transaction", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(s.WithTx(tx)); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return persistErr("failed to commit transaction", err)
	}
	return nil
}

// persistErr wraps a driver error as a persistence failure
func persistErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}

// CreateRole inserts a role. The serial is assigned by the database.
func (s *Store) CreateRole(ctx context.Context, role *Role) error {
	query := `
		INSERT INTO roles (id, tenant_id, name, description, built_in, validity, creator_user_id, create_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING sn
	`

	err := s.db.QueryRowContext(ctx, query,
		role.ID,
		role.TenantID,
		role.Name,
		role.Description,
		role.BuiltIn,
		role.Validity,
		role.CreatorUserID,
		role.CreateTime,
	).Scan(&role.Serial)

	if err != nil {
		if pqCode(err) == pqUniqueViolation && pqConstraint(err) == roleNameIndex {
			return fmt.Errorf("%w: %s", ErrDuplicateName, role.Name)
		}
		return persistErr("failed to create role", err)
	}

	return nil
}

// RoleNameTaken reports whether another active role of the tenant uses name
func (s *Store) RoleNameTaken(ctx context.Context, tenantID uuid.UUID, name string, exclude uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM roles
			WHERE tenant_id = $1 AND name = $2 AND validity AND id <> $3
		)
	`

	var taken bool
	if err := s.db.QueryRowContext(ctx, query, tenantID, name, exclude).Scan(&taken); err != nil {
		return false, persistErr("failed to check role name", err)
	}
	return taken, nil
}

// GetRole retrieves an active role of the tenant by ID
func (s *Store) GetRole(ctx context.Context, tenantID, roleID uuid.UUID) (*Role, error) {
	query := `
		SELECT id, tenant_id, name, description, built_in, validity, sn, creator_user_id, create_time
		FROM roles
		WHERE id = $1 AND tenant_id = $2 AND validity
	`

	var role Role
	var description sql.NullString

	err := s.db.QueryRowContext(ctx, query, roleID, tenantID).Scan(
		&role.ID,
		&role.TenantID,
		&role.Name,
		&description,
		&role.BuiltIn,
		&role.Validity,
		&role.Serial,
		&role.CreatorUserID,
		&role.CreateTime,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: role %s", ErrNotFound, roleID)
	}
	if err != nil {
		return nil, persistErr("failed to get role", err)
	}

	role.Description = description.String
	return &role, nil
}

// UpdateRole changes the name and description of an active role
func (s *Store) UpdateRole(ctx context.Context, tenantID, roleID uuid.UUID, name, description string) error {
	query := `
		UPDATE roles
		SET name = $1, description = $2
		WHERE id = $3 AND tenant_id = $4 AND validity
	`

	result, err := s.db.ExecContext(ctx, query, name, description, roleID, tenantID)
	if err != nil {
		if pqCode(err) == pqUniqueViolation && pqConstraint(err) == roleNameIndex {
			return fmt.Errorf("%w: %s", ErrDuplicateName, name)
		}
		return persistErr("failed to update role", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return persistErr("failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: role %s", ErrNotFound, roleID)
	}

	return nil
}

// DeleteRole removes a non-built-in role; overrides and members go with it through
// ON DELETE CASCADE. Built-in and missing roles both yield ErrNotFound.
func (s *Store) DeleteRole(ctx context.Context, tenantID, roleID uuid.UUID) error {
	query := `DELETE FROM roles WHERE id = $1 AND tenant_id = $2 AND NOT built_in`

	result, err := s.db.ExecContext(ctx, query, roleID, tenantID)
	if err != nil {
		return persistErr("failed to delete role", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return persistErr("failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: role %s", ErrNotFound, roleID)
	}

	return nil
}

// CountRoles counts the active roles of a tenant
func (s *Store) CountRoles(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM roles WHERE tenant_id = $1 AND validity`, tenantID,
	).Scan(&total)
	if err != nil {
		return 0, persistErr("failed to count roles", err)
	}
	return total, nil
}

// ListRoles lists active roles of a tenant ordered by serial
func (s *Store) ListRoles(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]Role, error) {
	query := `
		SELECT id, tenant_id, name, description, built_in, validity, sn, creator_user_id, create_time
		FROM roles
		WHERE tenant_id = $1 AND validity
		ORDER BY sn ASC
		LIMIT $2 OFFSET $3
	`

	rows, err := s.db.QueryContext(ctx, query, tenantID, limit, offset)
	if err != nil {
		return nil, persistErr("failed to list roles", err)
	}
	defer rows.Close()

	roles := make([]Role, 0, limit)
	for rows.Next() {
		var role Role
		var description sql.NullString

		err := rows.Scan(
			&role.ID,
			&role.TenantID,
			&role.Name,
			&description,
			&role.BuiltIn,
			&role.Validity,
			&role.Serial,
			&role.CreatorUserID,
			&role.CreateTime,
		)
		if err != nil {
			return nil, persistErr("failed to scan role", err)
		}

		role.Description = description.String
		roles = append(roles, role)
	}

	if err := rows.Err(); err != nil {
		return nil, persistErr("failed to iterate roles", err)
	}
	return roles, nil
}

// FindOverride returns the override of roleID for key, or ErrNotFound
func (s *Store) FindOverride(ctx context.Context, roleID uuid.UUID, key OverrideKey) (*OverrideRecord, error) {
	var row *sql.Row
	switch key.Kind {
	case KindAction:
		row = s.db.QueryRowContext(ctx, `
			SELECT id, role_id, action_id, action, creator_user_id, create_time
			FROM role_actions
			WHERE role_id = $1 AND action_id = $2
		`, roleID, key.ActionID)
	case KindDataScope:
		row = s.db.QueryRowContext(ctx, `
			SELECT id, role_id, module_id, mode, mode_id, permission, creator_user_id, create_time
			FROM role_datas
			WHERE role_id = $1 AND module_id = $2 AND mode = $3 AND mode_id = $4
		`, roleID, key.ModuleID, key.Mode, key.ModeID)
	default:
		return nil, fmt.Errorf("%w: unknown node kind %q", ErrInvalidArgument, key.Kind)
	}

	rec := OverrideRecord{Key: OverrideKey{Kind: key.Kind}}
	var err error
	if key.Kind == KindAction {
		err = row.Scan(&rec.ID, &rec.RoleID, &rec.Key.ActionID, &rec.Value, &rec.CreatorUserID, &rec.CreateTime)
	} else {
		err = row.Scan(&rec.ID, &rec.RoleID, &rec.Key.ModuleID, &rec.Key.Mode, &rec.Key.ModeID,
			&rec.Value, &rec.CreatorUserID, &rec.CreateTime)
	}

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: override %s of role %s", ErrNotFound, key, roleID)
	}
	if err != nil {
		return nil, persistErr("failed to find override", err)
	}
	return &rec, nil
}

// ListOverrides returns every override of a role for one catalog kind
func (s *Store) ListOverrides(ctx context.Context, roleID uuid.UUID, kind NodeKind) ([]OverrideRecord, error) {
	var query string
	switch kind {
	case KindAction:
		query = `
			SELECT id, role_id, action_id, action, creator_user_id, create_time
			FROM role_actions
			WHERE role_id = $1
		`
	case KindDataScope:
		query = `
			SELECT id, role_id, module_id, mode, mode_id, permission, creator_user_id, create_time
			FROM role_datas
			WHERE role_id = $1
		`
	default:
		return nil, fmt.Errorf("%w: unknown node kind %q", ErrInvalidArgument, kind)
	}

	rows, err := s.db.QueryContext(ctx, query, roleID)
	if err != nil {
		return nil, persistErr("failed to list overrides", err)
	}
	defer rows.Close()

	var records []OverrideRecord
	for rows.Next() {
		rec := OverrideRecord{Key: OverrideKey{Kind: kind}}
		if kind == KindAction {
			err = rows.Scan(&rec.ID, &rec.RoleID, &rec.Key.ActionID, &rec.Value, &rec.CreatorUserID, &rec.CreateTime)
		} else {
			err = rows.Scan(&rec.ID, &rec.RoleID, &rec.Key.ModuleID, &rec.Key.Mode, &rec.Key.ModeID,
				&rec.Value, &rec.CreatorUserID, &rec.CreateTime)
		}
		if err != nil {
			return nil, persistErr("failed to scan override", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, persistErr("failed to iterate overrides", err)
	}
	return records, nil
}

// InsertOverride stores a new override. A concurrent insert for the same
// (role, node) loses on the unique index and surfaces as ErrPersistence.
func (s *Store) InsertOverride(ctx context.Context, rec *OverrideRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreateTime.IsZero() {
		rec.CreateTime = time.Now()
	}

	var err error
	switch rec.Key.Kind {
	case KindAction:
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO role_actions (id, role_id, action_id, action, creator_user_id, create_time)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, rec.ID, rec.RoleID, rec.Key.ActionID, rec.Value, rec.CreatorUserID, rec.CreateTime)
	case KindDataScope:
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO role_datas (id, role_id, module_id, mode, mode_id, permission, creator_user_id, create_time)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, rec.ID, rec.RoleID, rec.Key.ModuleID, rec.Key.Mode, rec.Key.ModeID, rec.Value, rec.CreatorUserID, rec.CreateTime)
	default:
		return fmt.Errorf("%w: unknown node kind %q", ErrInvalidArgument, rec.Key.Kind)
	}

	if err != nil {
		return persistErr(fmt.Sprintf("failed to insert override %s", rec.Key), err)
	}
	return nil
}

// UpdateOverride sets the value of an existing override
func (s *Store) UpdateOverride(ctx context.Context, kind NodeKind, id uuid.UUID, value bool) error {
	var query string
	switch kind {
	case KindAction:
		query = `UPDATE role_actions SET action = $1 WHERE id = $2`
	case KindDataScope:
		query = `UPDATE role_datas SET permission = $1 WHERE id = $2`
	default:
		return fmt.Errorf("%w: unknown node kind %q", ErrInvalidArgument, kind)
	}

	result, err := s.db.ExecContext(ctx, query, value, id)
	if err != nil {
		return persistErr("failed to update override", err)
	}
	return expectOneRow(result, "override", id)
}

// DeleteOverride removes an override, reverting the node to its inherited default
func (s *Store) DeleteOverride(ctx context.Context, kind NodeKind, id uuid.UUID) error {
	var query string
	switch kind {
	case KindAction:
		query = `DELETE FROM role_actions WHERE id = $1`
	case KindDataScope:
		query = `DELETE FROM role_datas WHERE id = $1`
	default:
		return fmt.Errorf("%w: unknown node kind %q", ErrInvalidArgument, kind)
	}

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return persistErr("failed to delete override", err)
	}
	return expectOneRow(result, "override", id)
}

// expectOneRow turns a zero-row write into ErrNotFound
func expectOneRow(result sql.Result, what string, id uuid.UUID) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return persistErr("failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s %s", ErrNotFound, what, id)
	}
	return nil
}
