package mongomon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/poolgovernor/governor"
	"go.mongodb.org/mongo-driver/v2/event"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.uber.org/zap"
)

// =============================================================================
// 🍃 MongoDB 连接池监视
// =============================================================================

// CMAP 事件类型
const (
	eventPoolCleared     = "ConnectionPoolCleared"
	eventPoolClosed      = "ConnectionPoolClosed"
	eventConnCreated     = "ConnectionCreated"
	eventConnClosed      = "ConnectionClosed"
	eventCheckOutStarted = "ConnectionCheckOutStarted"
	eventCheckOutFailed  = "ConnectionCheckOutFailed"
	eventConnCheckedOut  = "ConnectionCheckedOut"
	eventConnCheckedIn   = "ConnectionCheckedIn"
)

// Monitor 通过驱动的连接池事件维护连接计数
//
// driver 不直接暴露池内连接数，这里按事件累加：
// open = 已创建 - 已关闭，inUse = 已借出 - 已归还，
// pending = 开始借出但尚未成功或失败的请求数。
type Monitor struct {
	logger *zap.Logger

	mu        sync.Mutex
	open      int64
	inUse     int64
	pending   int64
	created   int64
	destroyed int64

	lastCreated   int64
	lastDestroyed int64
	sampled       bool
}

// NewMonitor 创建监视器
func NewMonitor(logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{logger: logger.With(zap.String("component", "mongo_monitor"))}
}

// PoolMonitor 返回注册到客户端选项的事件监视器
func (m *Monitor) PoolMonitor() *event.PoolMonitor {
	return &event.PoolMonitor{Event: m.HandleEvent}
}

// HandleEvent 处理一条连接池事件
func (m *Monitor) HandleEvent(evt *event.PoolEvent) {
	if evt == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch evt.Type {
	case eventConnCreated:
		m.open++
		m.created++
	case eventConnClosed:
		m.open = clampDec(m.open)
		m.destroyed++
	case eventCheckOutStarted:
		m.pending++
	case eventCheckOutFailed:
		m.pending = clampDec(m.pending)
		m.logger.Debug("mongo checkout failed",
			zap.String("address", evt.Address),
			zap.String("reason", evt.Reason))
	case eventConnCheckedOut:
		m.pending = clampDec(m.pending)
		m.inUse++
	case eventConnCheckedIn:
		m.inUse = clampDec(m.inUse)
	case eventPoolCleared:
		m.logger.Warn("mongo pool cleared", zap.String("address", evt.Address))
	case eventPoolClosed:
		m.open, m.inUse, m.pending = 0, 0, 0
	}
}

func clampDec(v int64) int64 {
	if v > 0 {
		return v - 1
	}
	return 0
}

// Sample 实现 sampling.Source
// 首次采样只上报瞬时值，之后 created/destroyed 按差值上报。
func (m *Monitor) Sample(ctx context.Context) (governor.PoolObservation, error) {
	if err := ctx.Err(); err != nil {
		return governor.PoolObservation{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	idle := m.open - m.inUse
	if idle < 0 {
		idle = 0
	}
	obs := governor.PoolObservation{
		Active:  governor.Int64(m.inUse),
		Idle:    governor.Int64(idle),
		Waiting: governor.Int64(m.pending),
	}
	if m.sampled {
		obs.Created = governor.Int64(m.created - m.lastCreated)
		obs.Destroyed = governor.Int64(m.destroyed - m.lastDestroyed)
	}
	m.lastCreated, m.lastDestroyed = m.created, m.destroyed
	m.sampled = true
	return obs, nil
}

// =============================================================================
// 🔌 客户端
// =============================================================================

// ClientConfig 连接参数
type ClientConfig struct {
	URI            string
	MaxPoolSize    uint64
	MinPoolSize    uint64
	ConnectTimeout time.Duration
}

// Connect 创建挂载了监视器的客户端，并在 ConnectTimeout 内完成 Ping
func Connect(ctx context.Context, cfg ClientConfig, m *Monitor) (*mongo.Client, error) {
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetMaxPoolSize(cfg.MaxPoolSize).
		SetMinPoolSize(cfg.MinPoolSize).
		SetPoolMonitor(m.PoolMonitor())
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
	}

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	pingCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	m.logger.Info("mongo client connected",
		zap.Uint64("max_pool_size", cfg.MaxPoolSize),
		zap.Uint64("min_pool_size", cfg.MinPoolSize))
	return client, nil
}
