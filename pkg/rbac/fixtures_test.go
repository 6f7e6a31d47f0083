package rbac

import (
	"database/sql"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// Fixed ids keep sqlmock expectations readable
var (
	tenantID = uuid.MustParse("10000000-0000-0000-0000-000000000001")
	appID    = uuid.MustParse("10000000-0000-0000-0000-000000000002")
	userID   = uuid.MustParse("10000000-0000-0000-0000-000000000003")
	roleID   = uuid.MustParse("20000000-0000-0000-0000-000000000001")

	appNode    = uuid.MustParse("30000000-0000-0000-0000-000000000001")
	moduleNode = uuid.MustParse("30000000-0000-0000-0000-000000000002")
	readNode   = uuid.MustParse("30000000-0000-0000-0000-000000000003")
	writeNode  = uuid.MustParse("30000000-0000-0000-0000-000000000004")
	adminNode  = uuid.MustParse("30000000-0000-0000-0000-000000000005")

	dataRoot  = uuid.MustParse("40000000-0000-0000-0000-000000000001")
	dataLeaf  = uuid.MustParse("40000000-0000-0000-0000-000000000002")
	moduleID  = uuid.MustParse("40000000-0000-0000-0000-000000000003")
	modeID    = uuid.MustParse("40000000-0000-0000-0000-000000000004")
	overrideA = uuid.MustParse("50000000-0000-0000-0000-000000000001")

	testSession = Session{TenantID: tenantID, AppID: appID, UserID: userID}
	testTime    = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
)

func ptr(id uuid.UUID) *uuid.UUID {
	return &id
}

// testActionNodes is an app with one module holding three actions:
// read defaults to true, write defaults to false, admin has no default.
func testActionNodes() []PermissionNode {
	return []PermissionNode{
		{ID: appNode, NodeType: 0, Index: 0, Name: "app"},
		{ID: moduleNode, ParentID: ptr(appNode), NodeType: 1, Index: 0, Name: "orders"},
		{ID: writeNode, ParentID: ptr(moduleNode), NodeType: 2, Index: 2, Name: "write", Default: Bool(false)},
		{ID: readNode, ParentID: ptr(moduleNode), NodeType: 2, Index: 1, Name: "read", Default: Bool(true)},
		{ID: adminNode, ParentID: ptr(moduleNode), NodeType: 2, Index: 3, Name: "admin"},
	}
}

func testDataNodes() []PermissionNode {
	return []PermissionNode{
		{ID: dataRoot, NodeType: 1, Name: "orders data"},
		{ID: dataLeaf, ParentID: ptr(dataRoot), NodeType: 2, Name: "own orders",
			ModuleID: moduleID, Mode: 1, ModeID: modeID, Default: Bool(true)},
	}
}

func testCatalog() StaticCatalog {
	return StaticCatalog{Actions: testActionNodes(), Datas: testDataNodes()}
}

func actionKey(id uuid.UUID) OverrideKey {
	return OverrideKey{Kind: KindAction, ActionID: id}
}

func dataKey() OverrideKey {
	return OverrideKey{Kind: KindDataScope, ModuleID: moduleID, Mode: 1, ModeID: modeID}
}

func setupMockStore(t *testing.T) (*Store, *sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db), db, mock
}

var roleColumns = []string{"id", "tenant_id", "name", "description", "built_in", "validity", "sn", "creator_user_id", "create_time"}

func roleRow(id uuid.UUID, name string, builtIn bool, sn int64) []driver.Value {
	return []driver.Value{id.String(), tenantID.String(), name, "desc", builtIn, true, sn, userID.String(), testTime}
}

var actionOverrideColumns = []string{"id", "role_id", "action_id", "action", "creator_user_id", "create_time"}

var memberColumns = []string{"id", "role_id", "member_id", "type", "creator_user_id", "create_time"}

// expectGetRole queues a GetRole lookup returning an active custom role
func expectGetRole(mock sqlmock.Sqlmock, id uuid.UUID, name string) {
	mock.ExpectQuery("SELECT id, tenant_id, name, description, built_in, validity, sn, creator_user_id, create_time FROM roles WHERE id = \\$1").
		WithArgs(id.String(), tenantID.String()).
		WillReturnRows(sqlmock.NewRows(roleColumns).AddRow(roleRow(id, name, false, 1)...))
}

// expectNoOverrides queues an empty override lookup
func expectNoOverrides(mock sqlmock.Sqlmock, table string) {
	mock.ExpectQuery("FROM " + table + " WHERE role_id = \\$1").WillReturnError(sql.ErrNoRows)
}
