package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/warden/pkg/observability"
)

// roleNameIndex enforces unique active role names per tenant
const roleNameIndex = "roles_tenant_name_active_key"

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all RBAC migrations
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create directory tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id UUID PRIMARY KEY,
					tenant_id UUID NOT NULL,
					name VARCHAR(255) NOT NULL,
					login_name VARCHAR(255) NOT NULL,
					description TEXT,
					validity BOOLEAN NOT NULL DEFAULT TRUE,
					create_time TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS user_groups (
					id UUID PRIMARY KEY,
					tenant_id UUID NOT NULL,
					parent_id UUID,
					node_type INT NOT NULL DEFAULT 2,
					idx INT NOT NULL DEFAULT 0,
					name VARCHAR(255) NOT NULL,
					description TEXT,
					sn BIGSERIAL,
					create_time TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS organizations (
					id UUID PRIMARY KEY,
					tenant_id UUID NOT NULL,
					parent_id UUID,
					node_type INT NOT NULL DEFAULT 2,
					idx INT NOT NULL DEFAULT 0,
					name VARCHAR(255) NOT NULL,
					description TEXT,
					validity BOOLEAN NOT NULL DEFAULT TRUE,
					create_time TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_users_tenant_id ON users(tenant_id);
				CREATE INDEX IF NOT EXISTS idx_user_groups_tenant_id ON user_groups(tenant_id);
				CREATE INDEX IF NOT EXISTS idx_organizations_tenant_id ON organizations(tenant_id);
			`,
		},
		{
			Version:     2,
			Description: "Create permission catalog tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS catalog_actions (
					id UUID PRIMARY KEY,
					tenant_id UUID NOT NULL,
					app_id UUID NOT NULL,
					parent_id UUID,
					node_type INT NOT NULL,
					idx INT NOT NULL DEFAULT 0,
					name VARCHAR(255) NOT NULL,
					alias VARCHAR(255),
					permit BOOLEAN
				);

				CREATE TABLE IF NOT EXISTS catalog_datas (
					id UUID PRIMARY KEY,
					tenant_id UUID NOT NULL,
					app_id UUID NOT NULL,
					parent_id UUID,
					node_type INT NOT NULL,
					idx INT NOT NULL DEFAULT 0,
					name VARCHAR(255) NOT NULL,
					module_id UUID,
					mode INT,
					mode_id UUID,
					permission BOOLEAN
				);

				CREATE INDEX IF NOT EXISTS idx_catalog_actions_scope ON catalog_actions(tenant_id, app_id);
				CREATE INDEX IF NOT EXISTS idx_catalog_datas_scope ON catalog_datas(tenant_id, app_id);
			`,
		},
		{
			Version:     3,
			Description: "Create roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					id UUID PRIMARY KEY,
					tenant_id UUID NOT NULL,
					name VARCHAR(255) NOT NULL,
					description TEXT,
					built_in BOOLEAN NOT NULL DEFAULT FALSE,
					validity BOOLEAN NOT NULL DEFAULT TRUE,
					sn BIGSERIAL,
					creator_user_id UUID NOT NULL,
					create_time TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE UNIQUE INDEX IF NOT EXISTS ` + roleNameIndex + ` ON roles(tenant_id, name) WHERE validity;
				CREATE INDEX IF NOT EXISTS idx_roles_tenant_sn ON roles(tenant_id, sn);
			`,
		},
		{
			Version:     4,
			Description: "Create role override tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS role_actions (
					id UUID PRIMARY KEY,
					role_id UUID NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					action_id UUID NOT NULL,
					action BOOLEAN NOT NULL,
					creator_user_id UUID NOT NULL,
					create_time TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(role_id, action_id)
				);

				CREATE TABLE IF NOT EXISTS role_datas (
					id UUID PRIMARY KEY,
					role_id UUID NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					module_id UUID NOT NULL,
					mode INT NOT NULL,
					mode_id UUID NOT NULL,
					permission BOOLEAN NOT NULL,
					creator_user_id UUID NOT NULL,
					create_time TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(role_id, module_id, mode, mode_id)
				);
			`,
		},
		{
			Version:     5,
			Description: "Create role_members table",
			SQL: `
				CREATE TABLE IF NOT EXISTS role_members (
					id UUID PRIMARY KEY,
					role_id UUID NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					member_id UUID NOT NULL,
					type INT NOT NULL,
					creator_user_id UUID NOT NULL,
					create_time TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(role_id, member_id, type)
				);

				CREATE INDEX IF NOT EXISTS idx_role_members_member ON role_members(member_id, type);
			`,
		},
		{
			Version:     6,
			Description: "Add principal visibility columns",
			SQL: `
				-- type 0 marks service accounts, which are never offered as members
				ALTER TABLE users ADD COLUMN IF NOT EXISTS type INT NOT NULL DEFAULT 1;
				ALTER TABLE user_groups ADD COLUMN IF NOT EXISTS visible BOOLEAN NOT NULL DEFAULT TRUE;
			`,
		},
	}
}

// RunMigrations executes all pending migrations
func RunMigrations(ctx context.Context, db *sql.DB) error {
	logger := observability.FromContext(ctx)

	// Create migration tracking table
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS rbac_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	// Get applied migrations
	rows, err := db.QueryContext(ctx, "SELECT version FROM rbac_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		logger.Infof("Running migration %d: %s", migration.Version, migration.Description)

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO rbac_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// CheckSchema fails until every known migration has been applied to db
func CheckSchema(ctx context.Context, db *sql.DB) error {
	var applied sql.NullInt64
	if err := db.QueryRowContext(ctx, "SELECT MAX(version) FROM rbac_migrations").Scan(&applied); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	want := GetMigrations()[len(GetMigrations())-1].Version
	if int(applied.Int64) < want {
		return fmt.Errorf("schema at version %d, want %d", applied.Int64, want)
	}
	return nil
}

// BuiltInRole describes a system role seeded for every tenant
type BuiltInRole struct {
	Name        string
	Description string
}

// BuiltInRoles returns the system roles every tenant starts with
func BuiltInRoles() []BuiltInRole {
	return []BuiltInRole{
		{Name: "Administrator", Description: "Full access to every action and data scope"},
		{Name: "Auditor", Description: "Read-only access for compliance review"},
	}
}

// InitializeBuiltInRoles creates the built-in roles of a tenant if they don't exist
func InitializeBuiltInRoles(ctx context.Context, store *Store, tenantID, creatorUserID uuid.UUID) error {
	logger := observability.FromContext(ctx)

	for _, b := range BuiltInRoles() {
		taken, err := store.RoleNameTaken(ctx, tenantID, b.Name, uuid.Nil)
		if err != nil {
			return err
		}
		if taken {
			continue
		}

		role := Role{
			ID:            uuid.New(),
			TenantID:      tenantID,
			Name:          b.Name,
			Description:   b.Description,
			BuiltIn:       true,
			Validity:      true,
			CreatorUserID: creatorUserID,
			CreateTime:    time.Now(),
		}
		if err := store.CreateRole(ctx, &role); err != nil {
			return fmt.Errorf("failed to create built-in role %s: %w", b.Name, err)
		}

		logger.Infof("Created built-in role %s for tenant %s", b.Name, tenantID)
	}

	return nil
}
