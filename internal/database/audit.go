package database

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/BaSui01/poolgovernor/governor"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// =============================================================================
// 📝 调整审计
// =============================================================================

// AdjustmentRecord pool_adjustments 表的一行
type AdjustmentRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Pool      string    `gorm:"size:128;not null;index:idx_pool_adjustments_pool_tick,priority:1" json:"pool"`
	Rule      string    `gorm:"size:64;not null" json:"rule"`
	Field     string    `gorm:"size:64;not null" json:"field"`
	Before    float64   `gorm:"column:before_value;not null" json:"before"`
	After     float64   `gorm:"column:after_value;not null" json:"after"`
	TickAt    time.Time `gorm:"not null;index:idx_pool_adjustments_pool_tick,priority:2" json:"tick_at"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName 表名
func (AdjustmentRecord) TableName() string {
	return "pool_adjustments"
}

const auditBatchSize = 100

// AuditStore 异步把每次 Tick 的调整写入数据库
// ObserveTick 只做非阻塞入队，队列满时丢弃并告警。
type AuditStore struct {
	db      *gorm.DB
	queue   chan []AdjustmentRecord
	timeout time.Duration
	retry   retryPolicy
	logger  *zap.Logger
}

// NewAuditStore 创建审计存储，queueSize <= 0 时使用 256
func NewAuditStore(db *gorm.DB, queueSize int, logger *zap.Logger) *AuditStore {
	if queueSize <= 0 {
		queueSize = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditStore{
		db:      db,
		queue:   make(chan []AdjustmentRecord, queueSize),
		timeout: 5 * time.Second,
		retry:   defaultRetryPolicy,
		logger:  logger.With(zap.String("component", "adjustment_audit")),
	}
}

// ObserveTick 实现 governor.Observer
func (s *AuditStore) ObserveTick(r governor.TickReport) {
	if len(r.Adjustments) == 0 {
		return
	}

	records := make([]AdjustmentRecord, 0, len(r.Adjustments))
	for _, adj := range r.Adjustments {
		records = append(records, AdjustmentRecord{
			Pool:   r.Pool,
			Rule:   adj.Rule,
			Field:  adj.Field,
			Before: adj.Before,
			After:  adj.After,
			TickAt: r.At,
		})
	}

	select {
	case s.queue <- records:
	default:
		s.logger.Warn("audit queue full, dropping adjustments",
			zap.String("pool", r.Pool),
			zap.Int("count", len(records)))
	}
}

// Run 消费队列直到 ctx 取消，退出前尽量写完已入队的记录
func (s *AuditStore) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			s.drain()
			return nil
		case records := <-s.queue:
			s.write(ctx, records)
		}
	}
}

func (s *AuditStore) drain() {
	for {
		select {
		case records := <-s.queue:
			s.write(context.Background(), records)
		default:
			return
		}
	}
}

func (s *AuditStore) write(ctx context.Context, records []AdjustmentRecord) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	if err := s.Save(wctx, records); err != nil {
		s.logger.Error("failed to write adjustments", zap.Error(err))
	}
}

// Save 同步写入一批调整记录，死锁与锁冲突按退避重试
// 每次尝试都从原始记录的副本开始，失败的尝试不会留下已分配的主键。
func (s *AuditStore) Save(ctx context.Context, records []AdjustmentRecord) error {
	if len(records) == 0 {
		return nil
	}
	err := s.retry.do(ctx, s.logger, func() error {
		batch := slices.Clone(records)
		return s.db.WithContext(ctx).CreateInBatches(&batch, auditBatchSize).Error
	})
	if err != nil {
		return fmt.Errorf("insert pool adjustments: %w", err)
	}
	return nil
}

// List 按时间倒序返回某个连接池最近的调整，limit <= 0 时返回 100 条
func (s *AuditStore) List(ctx context.Context, pool string, limit int) ([]AdjustmentRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	var records []AdjustmentRecord
	err := s.db.WithContext(ctx).
		Where("pool = ?", pool).
		Order("id DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list pool adjustments: %w", err)
	}
	return records, nil
}
