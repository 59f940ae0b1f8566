package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/poolgovernor/governor"
	"go.uber.org/zap"
)

// =============================================================================
// 📸 配置快照
// =============================================================================

// 快照操作名，用于指标标签
const (
	OpSave = "save"
	OpLoad = "load"
)

// Snapshot 某个连接池最近一次推荐配置
type Snapshot struct {
	Pool    string              `json:"pool"`
	Config  governor.PoolConfig `json:"config"`
	SavedAt time.Time           `json:"saved_at"`
}

// SnapshotRecorder 接收快照操作结果
type SnapshotRecorder interface {
	RecordSnapshot(operation string, err error)
}

// SnapshotOption 配置 SnapshotStore
type SnapshotOption func(*SnapshotStore)

// WithSnapshotRecorder 设置结果记录器
func WithSnapshotRecorder(r SnapshotRecorder) SnapshotOption {
	return func(s *SnapshotStore) {
		s.recorder = r
	}
}

// WithSnapshotLogger 设置日志
func WithSnapshotLogger(logger *zap.Logger) SnapshotOption {
	return func(s *SnapshotStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSnapshotClock 设置时钟
func WithSnapshotClock(now func() time.Time) SnapshotOption {
	return func(s *SnapshotStore) {
		if now != nil {
			s.now = now
		}
	}
}

// SnapshotStore 把配置变化写入 Redis
//
// ObserveTick 只登记每个池最新的配置，Run 负责写出；
// 同一池在两次写出之间的多次变化只保留最后一次。
type SnapshotStore struct {
	manager  *Manager
	prefix   string
	ttl      time.Duration
	timeout  time.Duration
	recorder SnapshotRecorder
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	pending map[string]governor.PoolConfig
	signal  chan struct{}
}

// NewSnapshotStore 创建快照存储，ttl 为 0 时快照不过期
func NewSnapshotStore(manager *Manager, prefix string, ttl time.Duration, opts ...SnapshotOption) *SnapshotStore {
	s := &SnapshotStore{
		manager: manager,
		prefix:  prefix,
		ttl:     ttl,
		timeout: 2 * time.Second,
		logger:  zap.NewNop(),
		now:     time.Now,
		pending: make(map[string]governor.PoolConfig),
		signal:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "snapshot_store"))
	return s
}

// Key 返回连接池对应的键
func (s *SnapshotStore) Key(pool string) string {
	return s.prefix + pool
}

// ObserveTick 实现 governor.Observer
func (s *SnapshotStore) ObserveTick(r governor.TickReport) {
	if !r.Changed() {
		return
	}

	s.mu.Lock()
	s.pending[r.Pool] = r.Config
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// Run 写出待写快照直到 ctx 取消，退出前写完剩余部分
func (s *SnapshotStore) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			s.flush(ctx)
			return nil
		case <-s.signal:
			s.flush(ctx)
		}
	}
}

func (s *SnapshotStore) flush(ctx context.Context) {
	s.mu.Lock()
	batch := s.pending
	s.pending = make(map[string]governor.PoolConfig, len(batch))
	s.mu.Unlock()

	for pool, cfg := range batch {
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		if err := s.Save(wctx, pool, cfg); err != nil {
			s.logger.Warn("failed to save config snapshot", zap.String("pool", pool), zap.Error(err))
		}
		cancel()
	}
}

// Save 同步写入快照
func (s *SnapshotStore) Save(ctx context.Context, pool string, cfg governor.PoolConfig) error {
	snap := Snapshot{Pool: pool, Config: cfg, SavedAt: s.now()}
	err := s.manager.SetJSON(ctx, s.Key(pool), snap, s.ttl)
	s.record(OpSave, err)
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", pool, err)
	}
	return nil
}

// Load 读取快照，不存在时返回 ErrCacheMiss
func (s *SnapshotStore) Load(ctx context.Context, pool string) (Snapshot, error) {
	var snap Snapshot
	err := s.manager.GetJSON(ctx, s.Key(pool), &snap)
	if IsCacheMiss(err) {
		s.record(OpLoad, nil)
		return Snapshot{}, err
	}
	s.record(OpLoad, err)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load snapshot %s: %w", pool, err)
	}
	return snap, nil
}

// Delete 删除快照
func (s *SnapshotStore) Delete(ctx context.Context, pool string) error {
	return s.manager.Delete(ctx, s.Key(pool))
}

func (s *SnapshotStore) record(op string, err error) {
	if s.recorder != nil {
		s.recorder.RecordSnapshot(op, err)
	}
}
