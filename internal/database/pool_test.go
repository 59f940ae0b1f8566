package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/BaSui01/poolgovernor/governor"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// =============================================================================
// 🧪 PoolManager 测试
// =============================================================================

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *gorm.DB) {
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	// gorm.Open 会自动 ping 一次
	mock.ExpectPing()

	dialector := postgres.New(postgres.Config{
		Conn: mockDB,
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{})
	require.NoError(t, err)

	return mockDB, mock, gormDB
}

func setupSQLiteDB(t *testing.T) *gorm.DB {
	path := filepath.Join(t.TempDir(), "pool.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func TestNewPoolManager(t *testing.T) {
	mockDB, _, gormDB := setupTestDB(t)
	defer mockDB.Close()

	cfg := governor.DefaultPoolConfig()
	manager, err := NewPoolManager(gormDB, "primary", cfg, zap.NewNop())
	require.NoError(t, err)

	assert.NotNil(t, manager)
	assert.Equal(t, "primary", manager.Name())
	assert.Equal(t, cfg, manager.Config())
	assert.Equal(t, 50, manager.Stats().MaxOpenConnections)
}

func TestNewPoolManager_NilDB(t *testing.T) {
	_, err := NewPoolManager(nil, "primary", governor.DefaultPoolConfig(), nil)
	assert.Error(t, err)
}

func TestPoolManager_Ping(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	manager, err := NewPoolManager(gormDB, "primary", governor.DefaultPoolConfig(), zap.NewNop())
	require.NoError(t, err)

	mock.ExpectPing()
	assert.NoError(t, manager.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(sql.ErrConnDone)
	assert.Error(t, manager.Ping(context.Background()))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_ApplyConfig(t *testing.T) {
	mockDB, _, gormDB := setupTestDB(t)
	defer mockDB.Close()

	manager, err := NewPoolManager(gormDB, "primary", governor.DefaultPoolConfig(), zap.NewNop())
	require.NoError(t, err)

	next := governor.DefaultPoolConfig()
	next.Max = 75
	manager.ApplyConfig(next)

	assert.Equal(t, 75, manager.Stats().MaxOpenConnections)
	assert.Equal(t, next, manager.Config())
}

func TestPoolManager_ApplyConfigNeverUnlimited(t *testing.T) {
	mockDB, _, gormDB := setupTestDB(t)
	defer mockDB.Close()

	manager, err := NewPoolManager(gormDB, "primary", governor.DefaultPoolConfig(), zap.NewNop())
	require.NoError(t, err)

	manager.ApplyConfig(governor.PoolConfig{Min: 0, Max: 0, IdleTimeout: time.Minute})

	assert.Equal(t, 1, manager.Stats().MaxOpenConnections)
}

func TestPoolManager_ObserveTickAppliesOnlyChanges(t *testing.T) {
	mockDB, _, gormDB := setupTestDB(t)
	defer mockDB.Close()

	initial := governor.DefaultPoolConfig()
	manager, err := NewPoolManager(gormDB, "primary", initial, zap.NewNop())
	require.NoError(t, err)

	unchanged := initial
	unchanged.Max = 99
	// Previous == Config 时不应用
	manager.ObserveTick(governor.TickReport{Previous: unchanged, Config: unchanged})
	assert.Equal(t, 50, manager.Stats().MaxOpenConnections)

	next := initial
	next.Max = 75
	manager.ObserveTick(governor.TickReport{Previous: initial, Config: next})
	assert.Equal(t, 75, manager.Stats().MaxOpenConnections)
}

func TestPoolManager_Close(t *testing.T) {
	_, mock, gormDB := setupTestDB(t)

	manager, err := NewPoolManager(gormDB, "primary", governor.DefaultPoolConfig(), zap.NewNop())
	require.NoError(t, err)

	mock.ExpectClose()

	require.NoError(t, manager.Close())
	assert.NoError(t, manager.Close(), "second close is a no-op")
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.ErrorIs(t, manager.Ping(context.Background()), ErrPoolClosed)
	_, err = manager.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)
	_, err = manager.Sample(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)
}

// =============================================================================
// 🧪 观测换算测试
// =============================================================================

func TestObservationFromStats(t *testing.T) {
	prev := sql.DBStats{
		OpenConnections: 10,
		InUse:           6,
		Idle:            4,
		WaitCount:       100,
		MaxIdleClosed:   3,
	}
	cur := sql.DBStats{
		OpenConnections:   12,
		InUse:             9,
		Idle:              3,
		WaitCount:         107,
		MaxIdleClosed:     4,
		MaxIdleTimeClosed: 1,
		MaxLifetimeClosed: 1,
	}

	obs := ObservationFromStats(prev, cur)

	assert.Equal(t, int64(9), *obs.Active)
	assert.Equal(t, int64(3), *obs.Idle)
	assert.Equal(t, int64(7), *obs.Waiting)
	assert.Equal(t, int64(3), *obs.Destroyed)
	assert.Equal(t, int64(5), *obs.Created, "2 net new plus 3 replaced")
}

func TestObservationFromStats_ShrinkingPool(t *testing.T) {
	prev := sql.DBStats{OpenConnections: 10, Idle: 10}
	cur := sql.DBStats{OpenConnections: 4, Idle: 4, MaxIdleClosed: 6}

	obs := ObservationFromStats(prev, cur)

	assert.Equal(t, int64(6), *obs.Destroyed)
	assert.Equal(t, int64(0), *obs.Created)
	assert.Equal(t, int64(0), *obs.Waiting)
}

func TestObservationFromStats_CounterResetClampsToZero(t *testing.T) {
	prev := sql.DBStats{WaitCount: 50, MaxIdleClosed: 20}
	cur := sql.DBStats{WaitCount: 2}

	obs := ObservationFromStats(prev, cur)

	assert.Equal(t, int64(0), *obs.Waiting)
	assert.Equal(t, int64(0), *obs.Destroyed)
}

// =============================================================================
// 🧪 真实连接池测试（SQLite）
// =============================================================================

func TestPoolManager_SampleTracksRealPool(t *testing.T) {
	db := setupSQLiteDB(t)
	manager, err := NewPoolManager(db, "local", governor.DefaultPoolConfig(), zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	conn, err := manager.Acquire(ctx)
	require.NoError(t, err)

	obs, err := manager.Sample(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), *obs.Active)

	require.NoError(t, conn.Close())

	obs, err = manager.Sample(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), *obs.Active)
	assert.Equal(t, int64(1), *obs.Idle)
	assert.Equal(t, int64(0), *obs.Created, "no new connections since last sample")
}

func TestPoolManager_SampleCancelledContext(t *testing.T) {
	db := setupSQLiteDB(t)
	manager, err := NewPoolManager(db, "local", governor.DefaultPoolConfig(), zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = manager.Sample(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPoolManager_AcquireTimeout(t *testing.T) {
	db := setupSQLiteDB(t)
	cfg := governor.DefaultPoolConfig()
	cfg.Min = 1
	cfg.Max = 1
	cfg.AcquireTimeout = 50 * time.Millisecond
	manager, err := NewPoolManager(db, "local", cfg, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	held, err := manager.Acquire(ctx)
	require.NoError(t, err)
	defer held.Close()

	start := time.Now()
	_, err = manager.Acquire(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)

	obs, err := manager.Sample(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), *obs.Waiting, "the timed out acquire counted as a wait")
}
