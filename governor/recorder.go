package governor

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultHistoryCapacity 历史窗口容量（1 分钟分辨率约 24 小时）
const DefaultHistoryCapacity = 1440

// =============================================================================
// 📈 指标记录器
// =============================================================================

// MetricsRecorder 维护当前 gauge/counter 与有界历史
// Ingest 可被任意数量的 goroutine 并发调用；SampleTick 只由 Tick 调用。
type MetricsRecorder struct {
	active    atomic.Int64
	idle      atomic.Int64
	waiting   atomic.Int64
	created   atomic.Int64
	destroyed atomic.Int64

	mu      sync.RWMutex
	usage   *ring[Sample]
	waiters *ring[WaitSample]
}

// NewMetricsRecorder 创建指标记录器
func NewMetricsRecorder(capacity int) *MetricsRecorder {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &MetricsRecorder{
		usage:   newRing[Sample](capacity),
		waiters: newRing[WaitSample](capacity),
	}
}

// Ingest 应用一次部分更新：gauge 覆盖，counter 累加，nil 字段忽略
func (r *MetricsRecorder) Ingest(obs PoolObservation) {
	if obs.Active != nil {
		r.active.Store(*obs.Active)
	}
	if obs.Idle != nil {
		r.idle.Store(*obs.Idle)
	}
	if obs.Waiting != nil {
		r.waiting.Store(*obs.Waiting)
	}
	if obs.Created != nil {
		r.created.Add(*obs.Created)
	}
	if obs.Destroyed != nil {
		r.destroyed.Add(*obs.Destroyed)
	}
}

// Gauges 返回当前瞬时值
func (r *MetricsRecorder) Gauges() Gauges {
	return Gauges{
		Active:    r.active.Load(),
		Idle:      r.idle.Load(),
		Waiting:   r.waiting.Load(),
		Created:   r.created.Load(),
		Destroyed: r.destroyed.Load(),
	}
}

// SampleTick 将当前 gauge 快照写入历史，满时淘汰最旧样本
func (r *MetricsRecorder) SampleTick(now time.Time) Gauges {
	g := r.Gauges()

	r.mu.Lock()
	r.usage.Push(Sample{Timestamp: now, Active: g.Active, Idle: g.Idle})
	r.waiters.Push(WaitSample{Timestamp: now, Waiting: g.Waiting})
	r.mu.Unlock()

	return g
}

// Reset 清零所有 gauge/counter 并清空历史
func (r *MetricsRecorder) Reset() {
	r.active.Store(0)
	r.idle.Store(0)
	r.waiting.Store(0)
	r.created.Store(0)
	r.destroyed.Store(0)

	r.mu.Lock()
	r.usage.Clear()
	r.waiters.Clear()
	r.mu.Unlock()
}

// History 返回两个历史缓冲的副本（从旧到新）
func (r *MetricsRecorder) History() ([]Sample, []WaitSample) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.usage.Last(0), r.waiters.Last(0)
}

// Len 返回当前历史样本数
func (r *MetricsRecorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.usage.Len()
}

// Capacity 返回历史容量
func (r *MetricsRecorder) Capacity() int {
	return r.usage.Cap()
}
