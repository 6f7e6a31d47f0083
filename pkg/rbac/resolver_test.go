package rbac

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findPermission(t *testing.T, perms []EffectivePermission, name string) EffectivePermission {
	t.Helper()
	for _, p := range perms {
		if p.Name == name {
			return p
		}
	}
	t.Fatalf("permission %q not found", name)
	return EffectivePermission{}
}

func TestMerge(t *testing.T) {
	records := []OverrideRecord{
		{Key: actionKey(readNode), Value: false},
		{Key: actionKey(adminNode), Value: true},
		{Key: actionKey(appNode), Value: true},
	}

	perms, err := merge(testActionNodes(), records)
	require.NoError(t, err)
	require.Len(t, perms, 5)

	t.Run("keeps tree order", func(t *testing.T) {
		names := make([]string, 0, len(perms))
		for _, p := range perms {
			names = append(names, p.Name)
		}
		assert.Equal(t, []string{"app", "orders", "read", "write", "admin"}, names)
	})

	t.Run("categories carry no value", func(t *testing.T) {
		app := findPermission(t, perms, "app")
		assert.Nil(t, app.Default)
		assert.Nil(t, app.Override)
		assert.Nil(t, app.Effective())
	})

	t.Run("override replaces default", func(t *testing.T) {
		read := findPermission(t, perms, "read")
		assert.Equal(t, Bool(true), read.Default)
		assert.Equal(t, Bool(false), read.Override)
		assert.Equal(t, Bool(false), read.Effective())
	})

	t.Run("default inherited without override", func(t *testing.T) {
		write := findPermission(t, perms, "write")
		assert.Nil(t, write.Override)
		assert.Equal(t, Bool(false), write.Effective())
	})

	t.Run("override without default", func(t *testing.T) {
		admin := findPermission(t, perms, "admin")
		assert.Nil(t, admin.Default)
		assert.Equal(t, Bool(true), admin.Effective())
	})
}

func TestMerge_DataScope(t *testing.T) {
	nodes, err := testCatalog().Nodes(context.Background(), testSession.Scope(), KindDataScope)
	require.NoError(t, err)

	perms, err := merge(nodes, []OverrideRecord{{Key: dataKey(), Value: false}})
	require.NoError(t, err)

	leaf := findPermission(t, perms, "own orders")
	assert.Equal(t, moduleID, leaf.ModuleID)
	assert.Equal(t, Bool(false), leaf.Effective())
}

func TestResolver_Resolve(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		store, _, mock := setupMockStore(t)
		mock.MatchExpectationsInOrder(false)

		mock.ExpectQuery("FROM role_actions WHERE role_id = \\$1").
			WithArgs(roleID.String()).
			WillReturnRows(sqlmock.NewRows(actionOverrideColumns).
				AddRow(overrideA.String(), roleID.String(), writeNode.String(), true, userID.String(), testTime))
		mock.ExpectQuery("FROM role_datas WHERE role_id = \\$1").
			WithArgs(roleID.String()).
			WillReturnRows(sqlmock.NewRows([]string{"id", "role_id", "module_id", "mode", "mode_id", "permission", "creator_user_id", "create_time"}))

		resolver := NewResolver(testCatalog(), store)
		tree, err := resolver.Resolve(context.Background(), testSession.Scope(), roleID)
		require.NoError(t, err)

		assert.Len(t, tree.Actions, 5)
		assert.Len(t, tree.Datas, 2)
		write := findPermission(t, tree.Actions, "write")
		assert.Equal(t, Bool(false), write.Default)
		assert.Equal(t, Bool(true), write.Effective())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("store error", func(t *testing.T) {
		store, _, mock := setupMockStore(t)
		mock.MatchExpectationsInOrder(false)

		mock.ExpectQuery("FROM role_actions WHERE role_id = \\$1").WillReturnError(errors.New("connection reset"))
		mock.ExpectQuery("FROM role_datas WHERE role_id = \\$1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "role_id", "module_id", "mode", "mode_id", "permission", "creator_user_id", "create_time"}))

		resolver := NewResolver(testCatalog(), store)
		_, err := resolver.Resolve(context.Background(), testSession.Scope(), roleID)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrPersistence))
	})

	t.Run("invalid catalog", func(t *testing.T) {
		store, _, mock := setupMockStore(t)
		mock.MatchExpectationsInOrder(false)
		mock.ExpectQuery("FROM role_actions").WillReturnRows(sqlmock.NewRows(actionOverrideColumns))
		mock.ExpectQuery("FROM role_datas").
			WillReturnRows(sqlmock.NewRows([]string{"id", "role_id", "module_id", "mode", "mode_id", "permission", "creator_user_id", "create_time"}))

		catalog := StaticCatalog{Actions: append(testActionNodes(), PermissionNode{ID: readNode})}
		_, err := NewResolver(catalog, store).Resolve(context.Background(), testSession.Scope(), roleID)
		assert.True(t, errors.Is(err, ErrInvalidArgument))
	})
}
