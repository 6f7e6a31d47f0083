package rbac

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// Catalog supplies the permission node tree of a tenant/app.
// Implementations must return the same nodes in the same order for the same snapshot,
// with inherited defaults attached to leaf nodes.
type Catalog interface {
	Nodes(ctx context.Context, scope Scope, kind NodeKind) ([]PermissionNode, error)
}

// SQLCatalog reads the catalog tables owned by the catalog service
type SQLCatalog struct {
	db *sql.DB
}

// NewSQLCatalog creates a catalog reader. Reads may be served by a replica.
func NewSQLCatalog(db *sql.DB) *SQLCatalog {
	return &SQLCatalog{db: db}
}

// Ping checks that both catalog tables are readable
func (c *SQLCatalog) Ping(ctx context.Context) error {
	var actions, datas bool
	err := c.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM catalog_actions LIMIT 1),
		       EXISTS (SELECT 1 FROM catalog_datas LIMIT 1)
	`).Scan(&actions, &datas)
	if err != nil {
		return persistErr("catalog unreachable", err)
	}
	return nil
}

// Nodes returns all nodes of kind for the scope, ordered by index then id
func (c *SQLCatalog) Nodes(ctx context.Context, scope Scope, kind NodeKind) ([]PermissionNode, error) {
	switch kind {
	case KindAction:
		return c.actionNodes(ctx, scope)
	case KindDataScope:
		return c.dataNodes(ctx, scope)
	default:
		return nil, fmt.Errorf("%w: unknown node kind %q", ErrInvalidArgument, kind)
	}
}

func (c *SQLCatalog) actionNodes(ctx context.Context, scope Scope) ([]PermissionNode, error) {
	query := `
		SELECT id, parent_id, node_type, idx, name, alias, permit
		FROM catalog_actions
		WHERE tenant_id = $1 AND app_id = $2
		ORDER BY idx ASC, id ASC
	`

	rows, err := c.db.QueryContext(ctx, query, scope.TenantID, scope.AppID)
	if err != nil {
		return nil, persistErr("failed to load action catalog", err)
	}
	defer rows.Close()

	var nodes []PermissionNode
	for rows.Next() {
		n := PermissionNode{Kind: KindAction}
		var parentID uuid.NullUUID
		var alias sql.NullString
		var permit sql.NullBool

		if err := rows.Scan(&n.ID, &parentID, &n.NodeType, &n.Index, &n.Name, &alias, &permit); err != nil {
			return nil, persistErr("failed to scan action node", err)
		}

		if parentID.Valid {
			id := parentID.UUID
			n.ParentID = &id
		}
		n.Alias = alias.String
		if n.IsLeaf() && permit.Valid {
			n.Default = Bool(permit.Bool)
		}
		nodes = append(nodes, n)
	}

	if err := rows.Err(); err != nil {
		return nil, persistErr("failed to iterate action catalog", err)
	}
	return nodes, nil
}

func (c *SQLCatalog) dataNodes(ctx context.Context, scope Scope) ([]PermissionNode, error) {
	query := `
		SELECT id, parent_id, node_type, idx, name, module_id, mode, mode_id, permission
		FROM catalog_datas
		WHERE tenant_id = $1 AND app_id = $2
		ORDER BY idx ASC, id ASC
	`

	rows, err := c.db.QueryContext(ctx, query, scope.TenantID, scope.AppID)
	if err != nil {
		return nil, persistErr("failed to load data catalog", err)
	}
	defer rows.Close()

	var nodes []PermissionNode
	for rows.Next() {
		n := PermissionNode{Kind: KindDataScope}
		var parentID, moduleID, modeID uuid.NullUUID
		var mode sql.NullInt64
		var permission sql.NullBool

		err := rows.Scan(&n.ID, &parentID, &n.NodeType, &n.Index, &n.Name, &moduleID, &mode, &modeID, &permission)
		if err != nil {
			return nil, persistErr("failed to scan data node", err)
		}

		if parentID.Valid {
			id := parentID.UUID
			n.ParentID = &id
		}
		n.ModuleID = moduleID.UUID
		n.Mode = int(mode.Int64)
		n.ModeID = modeID.UUID
		if n.IsLeaf() && permission.Valid {
			n.Default = Bool(permission.Bool)
		}
		nodes = append(nodes, n)
	}

	if err := rows.Err(); err != nil {
		return nil, persistErr("failed to iterate data catalog", err)
	}
	return nodes, nil
}

// StaticCatalog serves a fixed node list, for embedding and tests
type StaticCatalog struct {
	Actions []PermissionNode
	Datas   []PermissionNode
}

// Nodes returns a copy of the configured nodes of kind
func (c StaticCatalog) Nodes(_ context.Context, _ Scope, kind NodeKind) ([]PermissionNode, error) {
	var src []PermissionNode
	switch kind {
	case KindAction:
		src = c.Actions
	case KindDataScope:
		src = c.Datas
	default:
		return nil, fmt.Errorf("%w: unknown node kind %q", ErrInvalidArgument, kind)
	}

	out := make([]PermissionNode, len(src))
	copy(out, src)
	for i := range out {
		out[i].Kind = kind
	}
	return out, nil
}
