package postgres

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/storage"
)

func newTestManager(primary *sql.DB, replicas ...*sql.DB) *ConnectionManager {
	if replicas == nil {
		replicas = []*sql.DB{}
	}
	return &ConnectionManager{
		primary:  primary,
		replicas: replicas,
		logger:   observability.NewLogger(observability.DebugLevel, io.Discard),
	}
}

func pingMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestParseReplicaURLs(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"empty string", "", nil},
		{"single URL", "postgres://localhost:5432/db", []string{"postgres://localhost:5432/db"}},
		{
			name:     "URLs with whitespace",
			input:    " postgres://host1:5432/db , postgres://host2:5432/db ",
			expected: []string{"postgres://host1:5432/db", "postgres://host2:5432/db"},
		},
		{
			name:     "URLs with empty entries",
			input:    "postgres://host1:5432/db,,postgres://host2:5432/db,",
			expected: []string{"postgres://host1:5432/db", "postgres://host2:5432/db"},
		},
		{"only commas and whitespace", " , , , ", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseReplicaURLs(tt.input))
		})
	}
}

func TestConnectionConfigFrom(t *testing.T) {
	cfg := storage.DefaultConfig()
	cfg.PostgresURL = "postgres://primary/warden"
	cfg.PostgresReplicaURLs = "postgres://r1/warden, postgres://r2/warden"

	conn := ConnectionConfigFrom(cfg)
	assert.Equal(t, "postgres://primary/warden", conn.PrimaryURL)
	assert.Equal(t, []string{"postgres://r1/warden", "postgres://r2/warden"}, conn.ReplicaURLs)
	assert.Equal(t, cfg.PostgresMaxConns, conn.MaxConns)
	assert.Equal(t, cfg.PostgresMinConns, conn.MinConns)
	assert.Equal(t, cfg.PostgresTimeout, conn.Timeout)
	assert.Equal(t, time.Hour, conn.MaxLifetime)
	assert.Equal(t, 10*time.Minute, conn.MaxIdleTime)
}

func TestNewConnectionManager_InvalidPrimary(t *testing.T) {
	t.Run("invalid primary URL", func(t *testing.T) {
		cm, err := NewConnectionManager(ConnectionConfig{
			PrimaryURL: "invalid://badurl",
			MaxConns:   10,
			MinConns:   2,
			Timeout:    5 * time.Second,
		}, nil)
		assert.Error(t, err)
		assert.Nil(t, cm)
		assert.True(t, strings.Contains(err.Error(), "failed to open primary connection") ||
			strings.Contains(err.Error(), "failed to ping primary"))
	})

	t.Run("unreachable primary", func(t *testing.T) {
		cm, err := NewConnectionManager(ConnectionConfig{
			PrimaryURL: "postgres://nonexistent:9999/testdb?connect_timeout=1",
			MaxConns:   10,
			MinConns:   2,
			Timeout:    2 * time.Second,
		}, nil)
		assert.Error(t, err)
		assert.Nil(t, cm)
		assert.Contains(t, err.Error(), "failed to ping primary")
	})
}

func TestConnectionManager_Replica(t *testing.T) {
	t.Run("no replicas falls back to primary", func(t *testing.T) {
		primaryDB := &sql.DB{}
		cm := newTestManager(primaryDB)
		assert.Same(t, primaryDB, cm.Replica())
		assert.Same(t, primaryDB, cm.Primary())
	})

	t.Run("round robin", func(t *testing.T) {
		r1, r2 := &sql.DB{}, &sql.DB{}
		cm := newTestManager(&sql.DB{}, r1, r2)

		seen := map[*sql.DB]int{}
		for i := 0; i < 10; i++ {
			seen[cm.Replica()]++
		}
		assert.Equal(t, 5, seen[r1])
		assert.Equal(t, 5, seen[r2])
	})
}

func TestConnectionManager_HealthCheck(t *testing.T) {
	t.Run("healthy primary and replicas", func(t *testing.T) {
		primaryDB, primaryMock := pingMock(t)
		replicaDB, replicaMock := pingMock(t)
		primaryMock.ExpectPing()
		replicaMock.ExpectPing()

		cm := newTestManager(primaryDB, replicaDB)
		assert.NoError(t, cm.HealthCheck(context.Background()))
		assert.NoError(t, primaryMock.ExpectationsWereMet())
		assert.NoError(t, replicaMock.ExpectationsWereMet())
	})

	t.Run("unhealthy primary", func(t *testing.T) {
		primaryDB, primaryMock := pingMock(t)
		primaryMock.ExpectPing().WillReturnError(errors.New("connection refused"))

		cm := newTestManager(primaryDB)
		err := cm.HealthCheck(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "primary unhealthy")
	})

	t.Run("some replicas down is tolerated", func(t *testing.T) {
		primaryDB, primaryMock := pingMock(t)
		r1, r1Mock := pingMock(t)
		r2, r2Mock := pingMock(t)
		primaryMock.ExpectPing()
		r1Mock.ExpectPing()
		r2Mock.ExpectPing().WillReturnError(errors.New("connection refused"))

		cm := newTestManager(primaryDB, r1, r2)
		assert.NoError(t, cm.HealthCheck(context.Background()))
	})

	t.Run("all replicas down", func(t *testing.T) {
		primaryDB, primaryMock := pingMock(t)
		r1, r1Mock := pingMock(t)
		r2, r2Mock := pingMock(t)
		primaryMock.ExpectPing()
		r1Mock.ExpectPing().WillReturnError(errors.New("connection refused"))
		r2Mock.ExpectPing().WillReturnError(errors.New("connection refused"))

		cm := newTestManager(primaryDB, r1, r2)
		err := cm.HealthCheck(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "all replicas unhealthy: replica-0, replica-1")
	})

	t.Run("context timeout", func(t *testing.T) {
		primaryDB, primaryMock := pingMock(t)
		primaryMock.ExpectPing().WillDelayFor(2 * time.Second)

		cm := newTestManager(primaryDB)
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		assert.Error(t, cm.HealthCheck(ctx))
	})
}

func TestConnectionManager_Stats(t *testing.T) {
	primaryDB, _ := pingMock(t)
	r1, _ := pingMock(t)
	r2, _ := pingMock(t)

	cm := newTestManager(primaryDB, r1, r2)
	stats := cm.Stats()
	assert.Len(t, stats.Replicas, 2)
	assert.Zero(t, stats.Primary.InUse)
}

func TestConnectionManager_RemoveUnhealthyReplicas(t *testing.T) {
	t.Run("one replica unhealthy", func(t *testing.T) {
		r1, r1Mock := pingMock(t)
		r2, r2Mock := pingMock(t)
		r1Mock.ExpectPing()
		r2Mock.ExpectPing().WillReturnError(errors.New("connection refused"))
		r2Mock.ExpectClose()

		cm := newTestManager(&sql.DB{}, r1, r2)
		assert.Equal(t, 1, cm.RemoveUnhealthyReplicas(context.Background()))
		require.Len(t, cm.replicas, 1)
		assert.Same(t, r1, cm.replicas[0])
	})

	t.Run("no replicas", func(t *testing.T) {
		cm := newTestManager(&sql.DB{})
		assert.Zero(t, cm.RemoveUnhealthyReplicas(context.Background()))
	})
}

func TestConnectionManager_Close(t *testing.T) {
	t.Run("closes primary and replicas", func(t *testing.T) {
		primaryDB, primaryMock, err := sqlmock.New()
		require.NoError(t, err)
		replicaDB, replicaMock, err := sqlmock.New()
		require.NoError(t, err)
		primaryMock.ExpectClose()
		replicaMock.ExpectClose()

		cm := newTestManager(primaryDB, replicaDB)
		require.NoError(t, cm.Close())
		assert.Nil(t, cm.replicas)
		assert.NoError(t, primaryMock.ExpectationsWereMet())
		assert.NoError(t, replicaMock.ExpectationsWereMet())
	})

	t.Run("collects close errors", func(t *testing.T) {
		primaryDB, primaryMock, err := sqlmock.New()
		require.NoError(t, err)
		replicaDB, replicaMock, err := sqlmock.New()
		require.NoError(t, err)
		primaryMock.ExpectClose().WillReturnError(errors.New("primary close error"))
		replicaMock.ExpectClose().WillReturnError(errors.New("replica close error"))

		cm := newTestManager(primaryDB, replicaDB)
		err = cm.Close()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection close errors")
	})
}

func TestConnectionManager_StartHealthCheckRoutine(t *testing.T) {
	t.Run("removes unhealthy replicas", func(t *testing.T) {
		replicaDB, replicaMock := pingMock(t)
		replicaMock.ExpectPing().WillReturnError(errors.New("connection lost"))
		replicaMock.ExpectClose()

		cm := newTestManager(&sql.DB{}, replicaDB)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		cm.StartHealthCheckRoutine(ctx, 20*time.Millisecond)

		assert.Eventually(t, func() bool {
			cm.mu.RLock()
			defer cm.mu.RUnlock()
			return len(cm.replicas) == 0
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("stops on context cancellation", func(t *testing.T) {
		cm := newTestManager(&sql.DB{})
		ctx, cancel := context.WithCancel(context.Background())
		cm.StartHealthCheckRoutine(ctx, 0)
		cancel()
	})
}

func TestConnectionManager_ConcurrentOperations(t *testing.T) {
	replicaDB, replicaMock := pingMock(t)
	replicaMock.MatchExpectationsInOrder(false)
	for i := 0; i < 25; i++ {
		replicaMock.ExpectPing()
	}

	cm := newTestManager(&sql.DB{}, replicaDB)

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = cm.Replica()
		}()
		go func() {
			defer wg.Done()
			_ = cm.RemoveUnhealthyReplicas(context.Background())
		}()
	}
	wg.Wait()

	assert.Len(t, cm.replicas, 1)
}
