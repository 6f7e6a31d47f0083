package rbac

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/observability"
)

type recordingAudit struct {
	mu     sync.Mutex
	events []*audit.AuditEvent
	err    error
}

func (a *recordingAudit) Log(_ context.Context, event *audit.AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return a.err
}

func (a *recordingAudit) Close() error { return nil }

func (a *recordingAudit) last(t *testing.T) *audit.AuditEvent {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	require.NotEmpty(t, a.events)
	return a.events[len(a.events)-1]
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []RoleChanged
	err    error
}

func (n *recordingNotifier) Publish(_ context.Context, event RoleChanged) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

type serviceFixture struct {
	svc      *Service
	mock     sqlmock.Sqlmock
	audit    *recordingAudit
	notifier *recordingNotifier
	metrics  *observability.Metrics
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	store, _, mock := setupMockStore(t)
	f := &serviceFixture{
		mock:     mock,
		audit:    &recordingAudit{},
		notifier: &recordingNotifier{},
		metrics:  observability.NewMetrics(prometheus.NewRegistry()),
	}
	f.svc = NewService(store, testCatalog(),
		WithAuditLogger(f.audit),
		WithNotifier(f.notifier),
		WithMetrics(f.metrics),
	)
	return f
}

func (f *serviceFixture) operations(op, result string) float64 {
	return testutil.ToFloat64(f.metrics.RoleOperationsTotal.WithLabelValues(op, result))
}

// expectAggregate queues the reads of a role aggregate; callers must disable ordering
func expectAggregate(mock sqlmock.Sqlmock, id uuid.UUID) {
	expectGetRole(mock, id, "ops")
	mock.ExpectQuery("FROM role_members WHERE role_id = \\$1 ORDER BY").
		WithArgs(id.String()).
		WillReturnRows(sqlmock.NewRows(memberColumns).
			AddRow(uuid.NewString(), id.String(), uuid.NewString(), 1, userID.String(), testTime))
	mock.ExpectQuery("FROM role_actions WHERE role_id = \\$1$").
		WithArgs(id.String()).
		WillReturnRows(sqlmock.NewRows(actionOverrideColumns).
			AddRow(overrideA.String(), id.String(), adminNode.String(), true, userID.String(), testTime))
	mock.ExpectQuery("FROM role_datas WHERE role_id = \\$1$").
		WithArgs(id.String()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "role_id", "module_id", "mode", "mode_id", "permission", "creator_user_id", "create_time"}))
}

func TestService_Create(t *testing.T) {
	t.Run("creates role and seeds overrides", func(t *testing.T) {
		f := newServiceFixture(t)

		f.mock.ExpectBegin()
		f.mock.ExpectQuery("SELECT EXISTS").
			WithArgs(tenantID.String(), "ops", uuid.Nil.String()).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		f.mock.ExpectQuery("INSERT INTO roles").
			WithArgs(roleID.String(), tenantID.String(), "ops", "night shift", false, true, userID.String(), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"sn"}).AddRow(3))
		f.mock.ExpectExec("INSERT INTO role_actions").
			WithArgs(sqlmock.AnyArg(), roleID.String(), adminNode.String(), true, userID.String(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectCommit()

		id, err := f.svc.Create(context.Background(), testSession, RoleInfo{
			ID:          roleID,
			Name:        "  ops ",
			Description: "night shift",
			Actions: []DesiredPermission{
				leaf(readNode, Bool(true), Bool(true), Bool(true)),
				leaf(adminNode, nil, nil, Bool(true)),
			},
		})
		require.NoError(t, err)
		assert.Equal(t, roleID, id)
		assert.NoError(t, f.mock.ExpectationsWereMet())

		event := f.audit.last(t)
		assert.Equal(t, audit.EventTypeAuthzRoleCreate, event.EventType)
		assert.Equal(t, audit.EventStatusSuccess, event.Status)
		assert.Equal(t, roleID.String(), event.ResourceID)
		assert.Equal(t, tenantID.String(), event.TenantID)
		assert.Equal(t, 1, event.Metadata["overrides_created"])

		require.Len(t, f.notifier.events, 1)
		assert.Equal(t, ReasonCreated, f.notifier.events[0].Reason)
		assert.Equal(t, float64(1), f.operations("create", "success"))
	})

	t.Run("generates an id", func(t *testing.T) {
		f := newServiceFixture(t)

		f.mock.ExpectBegin()
		f.mock.ExpectQuery("SELECT EXISTS").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		f.mock.ExpectQuery("INSERT INTO roles").WillReturnRows(sqlmock.NewRows([]string{"sn"}).AddRow(1))
		f.mock.ExpectCommit()

		id, err := f.svc.Create(context.Background(), testSession, RoleInfo{Name: "ops"})
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, id)
	})

	t.Run("duplicate name", func(t *testing.T) {
		f := newServiceFixture(t)

		f.mock.ExpectBegin()
		f.mock.ExpectQuery("SELECT EXISTS").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		f.mock.ExpectRollback()

		_, err := f.svc.Create(context.Background(), testSession, RoleInfo{Name: "ops"})
		assert.True(t, errors.Is(err, ErrDuplicateName))
		assert.NoError(t, f.mock.ExpectationsWereMet())

		assert.Equal(t, audit.EventStatusFailure, f.audit.last(t).Status)
		assert.Empty(t, f.notifier.events)
		assert.Equal(t, float64(1), f.operations("create", CodeDuplicateName))
	})

	t.Run("conflicting seed rolls back the role", func(t *testing.T) {
		f := newServiceFixture(t)

		f.mock.ExpectBegin()
		f.mock.ExpectQuery("SELECT EXISTS").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		f.mock.ExpectQuery("INSERT INTO roles").WillReturnRows(sqlmock.NewRows([]string{"sn"}).AddRow(1))
		f.mock.ExpectRollback()

		_, err := f.svc.Create(context.Background(), testSession, RoleInfo{
			Name:    "ops",
			Actions: []DesiredPermission{leaf(writeNode, Bool(false), Bool(false), Bool(true))},
		})
		assert.True(t, errors.Is(err, ErrStateConflict))
		assert.Contains(t, err.Error(), "actions")
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("invalid names never reach the store", func(t *testing.T) {
		f := newServiceFixture(t)

		for _, name := range []string{"", "   ", strings.Repeat("x", 256)} {
			_, err := f.svc.Create(context.Background(), testSession, RoleInfo{Name: name})
			assert.True(t, errors.Is(err, ErrInvalidArgument), "name %q", name)
		}
		assert.NoError(t, f.mock.ExpectationsWereMet())
		assert.Equal(t, float64(3), f.operations("create", CodeInvalidArgument))
	})

	t.Run("audit and publish failures are not returned", func(t *testing.T) {
		f := newServiceFixture(t)
		f.audit.err = errors.New("audit store down")
		f.notifier.err = errors.New("redis down")

		f.mock.ExpectBegin()
		f.mock.ExpectQuery("SELECT EXISTS").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		f.mock.ExpectQuery("INSERT INTO roles").WillReturnRows(sqlmock.NewRows([]string{"sn"}).AddRow(1))
		f.mock.ExpectCommit()

		_, err := f.svc.Create(context.Background(), testSession, RoleInfo{Name: "ops"})
		require.NoError(t, err)
		assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.NotificationsTotal.WithLabelValues("failure")))
	})
}

func TestService_Update(t *testing.T) {
	t.Run("renames, reconciles and returns the fresh role", func(t *testing.T) {
		f := newServiceFixture(t)
		f.mock.MatchExpectationsInOrder(false)

		f.mock.ExpectBegin()
		expectGetRole(f.mock, roleID, "ops")
		f.mock.ExpectQuery("SELECT EXISTS").
			WithArgs(tenantID.String(), "ops-2", roleID.String()).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		f.mock.ExpectExec("UPDATE roles SET name").
			WithArgs("ops-2", "d", roleID.String(), tenantID.String()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectQuery("FROM role_actions WHERE role_id = \\$1 AND action_id = \\$2").
			WithArgs(roleID.String(), adminNode.String()).
			WillReturnRows(sqlmock.NewRows(actionOverrideColumns).
				AddRow(overrideA.String(), roleID.String(), adminNode.String(), false, userID.String(), testTime))
		f.mock.ExpectExec("UPDATE role_actions SET action").
			WithArgs(true, overrideA.String()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectCommit()
		expectAggregate(f.mock, roleID)

		agg, err := f.svc.Update(context.Background(), testSession, RoleInfo{
			ID:          roleID,
			Name:        "ops-2",
			Description: "d",
			Actions:     []DesiredPermission{leaf(adminNode, nil, Bool(false), Bool(true))},
		})
		require.NoError(t, err)
		assert.NoError(t, f.mock.ExpectationsWereMet())

		require.Len(t, agg.Members, 1)
		assert.Len(t, agg.Actions, 5)
		assert.Equal(t, Bool(true), findPermission(t, agg.Actions, "admin").Effective())

		event := f.audit.last(t)
		assert.Equal(t, audit.EventTypeAuthzRoleUpdate, event.EventType)
		require.NotNil(t, event.Changes)
		assert.Equal(t, "ops", event.Changes.Before["name"])
		assert.Equal(t, "ops-2", event.Changes.After["name"])
		require.Len(t, f.notifier.events, 1)
		assert.Equal(t, ReasonUpdated, f.notifier.events[0].Reason)
	})

	t.Run("missing role", func(t *testing.T) {
		f := newServiceFixture(t)

		f.mock.ExpectBegin()
		f.mock.ExpectQuery("FROM roles").WillReturnRows(sqlmock.NewRows(roleColumns))
		f.mock.ExpectRollback()

		_, err := f.svc.Update(context.Background(), testSession, RoleInfo{ID: roleID, Name: "ops"})
		assert.True(t, errors.Is(err, ErrNotFound))
		assert.Nil(t, f.audit.last(t).Changes)
		assert.Empty(t, f.notifier.events)
	})

	t.Run("name taken by another role", func(t *testing.T) {
		f := newServiceFixture(t)

		f.mock.ExpectBegin()
		expectGetRole(f.mock, roleID, "ops")
		f.mock.ExpectQuery("SELECT EXISTS").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		f.mock.ExpectRollback()

		_, err := f.svc.Update(context.Background(), testSession, RoleInfo{ID: roleID, Name: "admins"})
		assert.True(t, errors.Is(err, ErrDuplicateName))
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("data conflict discards the rename", func(t *testing.T) {
		f := newServiceFixture(t)

		f.mock.ExpectBegin()
		expectGetRole(f.mock, roleID, "ops")
		f.mock.ExpectQuery("SELECT EXISTS").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		f.mock.ExpectExec("UPDATE roles").WillReturnResult(sqlmock.NewResult(0, 1))
		expectNoOverrides(f.mock, "role_datas")
		f.mock.ExpectRollback()

		entry := DesiredPermission{NodeID: dataLeaf, NodeType: 2, ModuleID: moduleID, Mode: 1, ModeID: modeID,
			Default: Bool(true), Prior: Bool(true), Desired: Bool(false)}
		_, err := f.svc.Update(context.Background(), testSession, RoleInfo{ID: roleID, Name: "ops", Datas: []DesiredPermission{entry}})
		assert.True(t, errors.Is(err, ErrStateConflict))
		assert.Contains(t, err.Error(), "datas")
		assert.NoError(t, f.mock.ExpectationsWereMet())
		assert.Equal(t, float64(1), f.operations("update", CodeStateConflict))
	})

	t.Run("built-in role cannot be renamed", func(t *testing.T) {
		f := newServiceFixture(t)

		f.mock.ExpectBegin()
		f.mock.ExpectQuery("FROM roles").
			WillReturnRows(sqlmock.NewRows(roleColumns).AddRow(roleRow(roleID, "Administrator", true, 1)...))
		f.mock.ExpectRollback()

		_, err := f.svc.Update(context.Background(), testSession, RoleInfo{ID: roleID, Name: "root"})
		assert.True(t, errors.Is(err, ErrForbidden))
		assert.NoError(t, f.mock.ExpectationsWereMet())
		assert.Equal(t, float64(1), f.operations("update", CodeForbidden))
	})

	t.Run("id required", func(t *testing.T) {
		f := newServiceFixture(t)
		_, err := f.svc.Update(context.Background(), testSession, RoleInfo{Name: "ops"})
		assert.True(t, errors.Is(err, ErrInvalidArgument))
	})
}

func TestService_Reconcile(t *testing.T) {
	t.Run("notifies when something changed", func(t *testing.T) {
		f := newServiceFixture(t)

		f.mock.ExpectBegin()
		expectGetRole(f.mock, roleID, "ops")
		expectNoOverrides(f.mock, "role_actions")
		f.mock.ExpectExec("INSERT INTO role_actions").WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectCommit()

		result, err := f.svc.Reconcile(context.Background(), testSession, roleID, KindAction,
			[]DesiredPermission{leaf(adminNode, nil, nil, Bool(false))})
		require.NoError(t, err)
		assert.Equal(t, 1, result.Created)
		assert.Len(t, f.notifier.events, 1)
		assert.Equal(t, "action", f.audit.last(t).Metadata["kind"])
	})

	t.Run("no-op does not notify", func(t *testing.T) {
		f := newServiceFixture(t)

		f.mock.ExpectBegin()
		expectGetRole(f.mock, roleID, "ops")
		f.mock.ExpectCommit()

		result, err := f.svc.Reconcile(context.Background(), testSession, roleID, KindAction,
			[]DesiredPermission{leaf(readNode, Bool(true), Bool(true), Bool(true))})
		require.NoError(t, err)
		assert.False(t, result.Changed())
		assert.Empty(t, f.notifier.events)
		assert.Len(t, f.audit.events, 1)
	})

	t.Run("echoed default must match the catalog", func(t *testing.T) {
		f := newServiceFixture(t)

		f.mock.ExpectBegin()
		expectGetRole(f.mock, roleID, "ops")
		f.mock.ExpectRollback()

		// read defaults to true in the catalog
		_, err := f.svc.Reconcile(context.Background(), testSession, roleID, KindAction,
			[]DesiredPermission{leaf(readNode, nil, nil, Bool(false))})
		assert.True(t, errors.Is(err, ErrStateConflict))
		assert.Empty(t, f.notifier.events)
		assert.Equal(t, float64(1), f.operations("reconcile", CodeStateConflict))
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("category sent as a leaf is skipped", func(t *testing.T) {
		f := newServiceFixture(t)

		f.mock.ExpectBegin()
		expectGetRole(f.mock, roleID, "ops")
		f.mock.ExpectCommit()

		result, err := f.svc.Reconcile(context.Background(), testSession, roleID, KindAction,
			[]DesiredPermission{leaf(moduleNode, nil, nil, Bool(true))})
		require.NoError(t, err)
		assert.Equal(t, ReconcileResult{Skipped: 1}, result)
		assert.Empty(t, f.notifier.events)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("unknown node", func(t *testing.T) {
		f := newServiceFixture(t)

		f.mock.ExpectBegin()
		expectGetRole(f.mock, roleID, "ops")
		f.mock.ExpectRollback()

		_, err := f.svc.Reconcile(context.Background(), testSession, roleID, KindAction,
			[]DesiredPermission{leaf(uuid.New(), nil, nil, Bool(true))})
		assert.True(t, errors.Is(err, ErrInvalidArgument))
		assert.Equal(t, float64(1), f.operations("reconcile", CodeInvalidArgument))
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("role of another tenant", func(t *testing.T) {
		f := newServiceFixture(t)

		f.mock.ExpectBegin()
		f.mock.ExpectQuery("FROM roles").WillReturnRows(sqlmock.NewRows(roleColumns))
		f.mock.ExpectRollback()

		_, err := f.svc.Reconcile(context.Background(), testSession, roleID, KindAction, nil)
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}

func TestService_Delete(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		f := newServiceFixture(t)
		f.mock.ExpectExec("DELETE FROM roles").
			WithArgs(roleID.String(), tenantID.String()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, f.svc.Delete(context.Background(), testSession, roleID))
		assert.Equal(t, audit.EventTypeAuthzRoleDelete, f.audit.last(t).EventType)
		require.Len(t, f.notifier.events, 1)
		assert.Equal(t, ReasonDeleted, f.notifier.events[0].Reason)
	})

	t.Run("built-in role reads as not found", func(t *testing.T) {
		f := newServiceFixture(t)
		f.mock.ExpectExec("DELETE FROM roles").WillReturnResult(sqlmock.NewResult(0, 0))

		err := f.svc.Delete(context.Background(), testSession, roleID)
		assert.True(t, errors.Is(err, ErrNotFound))
		assert.Empty(t, f.notifier.events)
		assert.Equal(t, float64(1), f.operations("delete", CodeNotFound))
	})
}

func TestService_List(t *testing.T) {
	t.Run("pages by serial", func(t *testing.T) {
		f := newServiceFixture(t)
		f.mock.MatchExpectationsInOrder(false)

		f.mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM roles").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(21))
		f.mock.ExpectQuery("ORDER BY sn ASC LIMIT").
			WithArgs(tenantID.String(), 10, 20).
			WillReturnRows(sqlmock.NewRows(roleColumns).AddRow(roleRow(roleID, "ops", false, 21)...))

		page, err := f.svc.List(context.Background(), testSession, 10, 3)
		require.NoError(t, err)
		assert.Equal(t, int64(21), page.Total)
		require.Len(t, page.Items, 1)
		assert.Equal(t, int64(21), page.Items[0].Serial)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("invalid paging", func(t *testing.T) {
		f := newServiceFixture(t)
		for _, p := range [][2]int{{0, 1}, {10, 0}, {-1, -1}} {
			_, err := f.svc.List(context.Background(), testSession, p[0], p[1])
			assert.True(t, errors.Is(err, ErrInvalidArgument))
		}
	})
}

func TestService_GetAndResolve(t *testing.T) {
	t.Run("get uses the read store", func(t *testing.T) {
		primary, _, primaryMock := setupMockStore(t)
		replica, _, replicaMock := setupMockStore(t)
		replicaMock.MatchExpectationsInOrder(false)
		expectAggregate(replicaMock, roleID)

		svc := NewService(primary, testCatalog(), WithReadStore(replica))
		agg, err := svc.Get(context.Background(), testSession, roleID)
		require.NoError(t, err)
		assert.Equal(t, "ops", agg.Name)
		assert.Len(t, agg.Datas, 2)
		assert.NoError(t, replicaMock.ExpectationsWereMet())
		assert.NoError(t, primaryMock.ExpectationsWereMet())
	})

	t.Run("resolve unknown role", func(t *testing.T) {
		f := newServiceFixture(t)
		f.mock.ExpectQuery("FROM roles").WillReturnRows(sqlmock.NewRows(roleColumns))

		_, err := f.svc.Resolve(context.Background(), testSession, roleID)
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}

func TestService_AddMembers(t *testing.T) {
	t.Run("inserts and notifies", func(t *testing.T) {
		f := newServiceFixture(t)
		alice := uuid.New()

		f.mock.ExpectBegin()
		expectGetRole(f.mock, roleID, "ops")
		f.mock.ExpectExec("INSERT INTO role_members").
			WithArgs(sqlmock.AnyArg(), roleID.String(), alice.String(), int(MemberUser), userID.String(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectCommit()

		inserted, err := f.svc.AddMembers(context.Background(), testSession, roleID, []RoleMember{{MemberID: alice, Type: MemberUser}})
		require.NoError(t, err)
		assert.Equal(t, 1, inserted)
		assert.Equal(t, audit.EventTypeAuthzRoleMemberAdd, f.audit.last(t).EventType)
		require.Len(t, f.notifier.events, 1)
		assert.Equal(t, ReasonMembersAdded, f.notifier.events[0].Reason)
	})

	t.Run("already bound members are a silent no-op", func(t *testing.T) {
		f := newServiceFixture(t)

		f.mock.ExpectBegin()
		expectGetRole(f.mock, roleID, "ops")
		f.mock.ExpectExec("INSERT INTO role_members").WillReturnResult(sqlmock.NewResult(0, 0))
		f.mock.ExpectCommit()

		inserted, err := f.svc.AddMembers(context.Background(), testSession, roleID, []RoleMember{{MemberID: uuid.New(), Type: MemberGroup}})
		require.NoError(t, err)
		assert.Zero(t, inserted)
		assert.Empty(t, f.notifier.events)
	})

	t.Run("empty request", func(t *testing.T) {
		f := newServiceFixture(t)
		_, err := f.svc.AddMembers(context.Background(), testSession, roleID, nil)
		assert.True(t, errors.Is(err, ErrInvalidArgument))
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})
}

func TestService_RemoveMember(t *testing.T) {
	t.Run("returns refreshed role", func(t *testing.T) {
		f := newServiceFixture(t)
		f.mock.MatchExpectationsInOrder(false)
		memberRecord := uuid.New()

		f.mock.ExpectQuery("DELETE FROM role_members").
			WithArgs(memberRecord.String(), tenantID.String()).
			WillReturnRows(sqlmock.NewRows([]string{"role_id"}).AddRow(roleID.String()))
		expectAggregate(f.mock, roleID)

		agg, err := f.svc.RemoveMember(context.Background(), testSession, memberRecord)
		require.NoError(t, err)
		assert.Equal(t, roleID, agg.ID)

		event := f.audit.last(t)
		assert.Equal(t, audit.ResourceTypeRoleMember, event.ResourceType)
		assert.Equal(t, memberRecord.String(), event.ResourceID)
		assert.Equal(t, roleID.String(), event.Metadata["role_id"])
		require.Len(t, f.notifier.events, 1)
		assert.Equal(t, roleID, f.notifier.events[0].RoleID)
	})

	t.Run("unknown member", func(t *testing.T) {
		f := newServiceFixture(t)
		f.mock.ExpectQuery("DELETE FROM role_members").WillReturnRows(sqlmock.NewRows([]string{"role_id"}))

		_, err := f.svc.RemoveMember(context.Background(), testSession, uuid.New())
		assert.True(t, errors.Is(err, ErrNotFound))
		assert.Empty(t, f.notifier.events)
	})
}

func TestService_MemberQueries(t *testing.T) {
	t.Run("member users page", func(t *testing.T) {
		f := newServiceFixture(t)
		f.mock.MatchExpectationsInOrder(false)

		expectGetRole(f.mock, roleID, "ops")
		f.mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM role_members").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		f.mock.ExpectQuery("ORDER BY u.login_name").
			WithArgs(roleID.String(), int(MemberUser), tenantID.String(), 20, 0).
			WillReturnRows(sqlmock.NewRows([]string{"id", "role_id", "user_id", "name", "login_name", "description", "validity"}).
				AddRow(uuid.NewString(), roleID.String(), uuid.NewString(), "Amy", "amy", "", true))

		page, err := f.svc.MemberUsers(context.Background(), testSession, roleID, 20, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), page.Total)
		assert.Len(t, page.Items, 1)
	})

	t.Run("members of unknown role", func(t *testing.T) {
		f := newServiceFixture(t)
		f.mock.ExpectQuery("FROM roles").WillReturnRows(sqlmock.NewRows(roleColumns))

		_, err := f.svc.Members(context.Background(), testSession, roleID)
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("candidates reject unknown type", func(t *testing.T) {
		f := newServiceFixture(t)
		_, err := f.svc.Candidates(context.Background(), testSession, roleID, MemberType(0))
		assert.True(t, errors.Is(err, ErrInvalidArgument))
	})

	t.Run("candidates", func(t *testing.T) {
		f := newServiceFixture(t)
		expectGetRole(f.mock, roleID, "ops")
		f.mock.ExpectQuery("FROM organizations o").
			WillReturnRows(sqlmock.NewRows([]string{"id", "parent_id", "node_type", "idx", "name", "login_name", "description"}).
				AddRow(uuid.NewString(), nil, 1, 0, "HQ", nil, nil))

		candidates, err := f.svc.Candidates(context.Background(), testSession, roleID, MemberOrganization)
		require.NoError(t, err)
		require.Len(t, candidates, 1)
		assert.Equal(t, "HQ", candidates[0].Name)
	})
}
