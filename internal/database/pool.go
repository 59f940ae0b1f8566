package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/BaSui01/poolgovernor/governor"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrPoolClosed 连接池已关闭
var ErrPoolClosed = errors.New("pool is closed")

// =============================================================================
// 🗄️ 数据库连接池管理器
// =============================================================================

// PoolManager 被调控的数据库连接池
// 它把 sql.DBStats 转换为调控器观测值，并把调控结果应用回 sql.DB。
type PoolManager struct {
	sqlDB  *sql.DB
	name   string
	logger *zap.Logger

	mu      sync.RWMutex
	closed  bool
	applied governor.PoolConfig

	sampleMu sync.Mutex
	last     sql.DBStats
}

// NewPoolManager 创建连接池管理器并应用初始配置
func NewPoolManager(db *gorm.DB, name string, initial governor.PoolConfig, logger *zap.Logger) (*PoolManager, error) {
	if db == nil {
		return nil, errors.New("nil gorm db")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	pm := &PoolManager{
		sqlDB:  sqlDB,
		name:   name,
		logger: logger.With(zap.String("component", "db_pool"), zap.String("pool", name)),
	}
	pm.ApplyConfig(initial)

	pm.logger.Info("database pool initialized",
		zap.Int("max_open_conns", initial.Max),
		zap.Int("max_idle_conns", initial.Min),
		zap.Duration("conn_max_idle_time", initial.IdleTimeout),
	)

	return pm, nil
}

// Name 返回连接池名称
func (pm *PoolManager) Name() string {
	return pm.name
}

// Config 返回最近一次应用的配置
func (pm *PoolManager) Config() governor.PoolConfig {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.applied
}

// ApplyConfig 把调控结果应用到 sql.DB
// Max 对应最大打开连接数，Min 对应保留的空闲连接数。
func (pm *PoolManager) ApplyConfig(cfg governor.PoolConfig) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.closed {
		return
	}

	// database/sql 把 0 视为不限制，至少保留 1 个连接
	pm.sqlDB.SetMaxOpenConns(max(cfg.Max, 1))
	pm.sqlDB.SetMaxIdleConns(cfg.Min)
	pm.sqlDB.SetConnMaxIdleTime(cfg.IdleTimeout)
	pm.applied = cfg
}

// ObserveTick 实现 governor.Observer，配置变化时立即应用
func (pm *PoolManager) ObserveTick(r governor.TickReport) {
	if !r.Changed() {
		return
	}
	pm.ApplyConfig(r.Config)
	pm.logger.Info("applied governed config",
		zap.Int("max_open_conns", r.Config.Max),
		zap.Int("max_idle_conns", r.Config.Min),
		zap.Duration("conn_max_idle_time", r.Config.IdleTimeout),
	)
}

// Ping 检查数据库连接，超时取自 ConnectionTimeout
func (pm *PoolManager) Ping(ctx context.Context) error {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	if pm.closed {
		return ErrPoolClosed
	}

	if timeout := pm.applied.ConnectionTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return pm.sqlDB.PingContext(ctx)
}

// Acquire 获取一个专用连接，超时取自 AcquireTimeout
// 调用方必须 Close 返回的连接。
func (pm *PoolManager) Acquire(ctx context.Context) (*sql.Conn, error) {
	pm.mu.RLock()
	if pm.closed {
		pm.mu.RUnlock()
		return nil, ErrPoolClosed
	}
	sqlDB := pm.sqlDB
	timeout := pm.applied.AcquireTimeout
	pm.mu.RUnlock()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	return conn, nil
}

// Stats 返回连接池统计信息
func (pm *PoolManager) Stats() sql.DBStats {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.sqlDB.Stats()
}

// Close 关闭连接池
func (pm *PoolManager) Close() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.closed {
		return nil
	}

	pm.closed = true
	pm.logger.Info("closing database pool")

	return pm.sqlDB.Close()
}

// =============================================================================
// 📊 采样
// =============================================================================

// Sample 实现 sampling.Source
// active/idle 取当前值；waiting 为本周期新增等待次数；
// destroyed 为本周期因空闲或生命周期关闭的连接数；created 由打开数变化反推。
func (pm *PoolManager) Sample(ctx context.Context) (governor.PoolObservation, error) {
	if err := ctx.Err(); err != nil {
		return governor.PoolObservation{}, err
	}

	pm.mu.RLock()
	if pm.closed {
		pm.mu.RUnlock()
		return governor.PoolObservation{}, ErrPoolClosed
	}
	stats := pm.sqlDB.Stats()
	pm.mu.RUnlock()

	pm.sampleMu.Lock()
	prev := pm.last
	pm.last = stats
	pm.sampleMu.Unlock()

	return ObservationFromStats(prev, stats), nil
}

// ObservationFromStats 计算两次 sql.DBStats 之间的观测值
func ObservationFromStats(prev, cur sql.DBStats) governor.PoolObservation {
	closed := func(s sql.DBStats) int64 {
		return s.MaxIdleClosed + s.MaxIdleTimeClosed + s.MaxLifetimeClosed
	}

	// WaitCount 只有累计的等待次数，用本周期新增次数近似等待数；
	// 一次跨周期的长等待在每个周期都记为 waiting=1，持续触发扩容规则。
	waiting := nonNegative(cur.WaitCount - prev.WaitCount)
	destroyed := nonNegative(closed(cur) - closed(prev))
	created := nonNegative(int64(cur.OpenConnections-prev.OpenConnections) + destroyed)

	return governor.PoolObservation{
		Active:    governor.Int64(int64(cur.InUse)),
		Idle:      governor.Int64(int64(cur.Idle)),
		Waiting:   governor.Int64(waiting),
		Created:   governor.Int64(created),
		Destroyed: governor.Int64(destroyed),
	}
}

func nonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
