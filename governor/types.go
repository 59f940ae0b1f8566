package governor

import "time"

// =============================================================================
// 📥 观测数据
// =============================================================================

// PoolObservation 协作方推送的部分更新
// 字段为 nil 表示本次未上报，对应状态保持不变。
// Active/Idle/Waiting 为 gauge（覆盖写），Created/Destroyed 为 counter（累加）。
type PoolObservation struct {
	Active    *int64 `json:"active,omitempty"`
	Idle      *int64 `json:"idle,omitempty"`
	Waiting   *int64 `json:"waiting,omitempty"`
	Created   *int64 `json:"created,omitempty"`
	Destroyed *int64 `json:"destroyed,omitempty"`
}

// Int64 返回 v 的指针，便于构造 PoolObservation
func Int64(v int64) *int64 {
	return &v
}

// IsEmpty 判断观测是否不包含任何字段
func (o PoolObservation) IsEmpty() bool {
	return o.Active == nil && o.Idle == nil && o.Waiting == nil &&
		o.Created == nil && o.Destroyed == nil
}

// Gauges 某一时刻的 gauge 与 counter 快照
type Gauges struct {
	Active    int64 `json:"active"`
	Idle      int64 `json:"idle"`
	Waiting   int64 `json:"waiting"`
	Created   int64 `json:"created"`
	Destroyed int64 `json:"destroyed"`
}

// Sample 活跃/空闲历史采样点
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	Active    int64     `json:"active"`
	Idle      int64     `json:"idle"`
}

// WaitSample 等待请求历史采样点
type WaitSample struct {
	Timestamp time.Time `json:"timestamp"`
	Waiting   int64     `json:"waiting"`
}

// =============================================================================
// ⚙️ 池配置
// =============================================================================

// PoolConfig 推荐的连接池配置
// 值类型，Governor 每个 Tick 结束时整体替换，读取方永远拿到完整快照。
type PoolConfig struct {
	Min               int           `json:"min"`
	Max               int           `json:"max"`
	IdleTimeout       time.Duration `json:"idle_timeout"`
	ConnectionTimeout time.Duration `json:"connection_timeout"`
	AcquireTimeout    time.Duration `json:"acquire_timeout"`
}

// DefaultPoolConfig 返回默认池配置
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Min:               5,
		Max:               50,
		IdleTimeout:       30 * time.Second,
		ConnectionTimeout: 10 * time.Second,
		AcquireTimeout:    5 * time.Second,
	}
}

// Limits 策略硬边界
type Limits struct {
	// Max 的硬上限
	MaxCeiling int `json:"max_ceiling"`
	// IdleTimeout 的下限
	IdleTimeoutFloor time.Duration `json:"idle_timeout_floor"`
	// AcquireTimeout 的上限
	AcquireTimeoutCeiling time.Duration `json:"acquire_timeout_ceiling"`
}

// minPoolMax Max 的下限
const minPoolMax = 1

// DefaultLimits 返回默认边界，也是允许配置的最宽边界
func DefaultLimits() Limits {
	return Limits{
		MaxCeiling:            100,
		IdleTimeoutFloor:      10 * time.Second,
		AcquireTimeoutCeiling: 30 * time.Second,
	}
}

// Clamp 将配置钳制到边界内
func (l Limits) Clamp(cfg PoolConfig) PoolConfig {
	if cfg.Min < 0 {
		cfg.Min = 0
	}
	if cfg.Min > l.MaxCeiling {
		cfg.Min = l.MaxCeiling
	}
	if cfg.Max > l.MaxCeiling {
		cfg.Max = l.MaxCeiling
	}
	if cfg.Max < cfg.Min {
		cfg.Max = cfg.Min
	}
	// max 为 0 时按比例增长无法恢复，database/sql 还会把 0 当作不限
	if cfg.Max < minPoolMax {
		cfg.Max = minPoolMax
	}
	if cfg.IdleTimeout < l.IdleTimeoutFloor {
		cfg.IdleTimeout = l.IdleTimeoutFloor
	}
	if cfg.AcquireTimeout > l.AcquireTimeoutCeiling {
		cfg.AcquireTimeout = l.AcquireTimeoutCeiling
	}
	return cfg
}

// Within 判断配置是否满足全部边界
func (l Limits) Within(cfg PoolConfig) bool {
	return cfg.Min <= cfg.Max &&
		cfg.Max >= minPoolMax &&
		cfg.Max <= l.MaxCeiling &&
		cfg.IdleTimeout >= l.IdleTimeoutFloor &&
		cfg.AcquireTimeout <= l.AcquireTimeoutCeiling
}

// =============================================================================
// 📊 统计与报告
// =============================================================================

// DerivedStatistics 基于尾部窗口的派生统计
type DerivedStatistics struct {
	AvgActive       float64 `json:"avg_active"`
	AvgIdle         float64 `json:"avg_idle"`
	AvgWaiting      float64 `json:"avg_waiting"`
	UtilizationRate float64 `json:"utilization_rate"`
	PoolEfficiency  float64 `json:"pool_efficiency"`
	// 参与计算的样本数
	Samples int `json:"samples"`
}

// OptimizedConfig 推荐配置及其依据的关键比率
type OptimizedConfig struct {
	PoolConfig
	UtilizationRate float64 `json:"utilization_rate"`
	PoolEfficiency  float64 `json:"pool_efficiency"`
}

// Adjustment 一次规则触发产生的调整
type Adjustment struct {
	Rule   string  `json:"rule"`
	Field  string  `json:"field"`
	Before float64 `json:"before"`
	After  float64 `json:"after"`
}

// 规则名称
const (
	RuleWaitingGrowMax        = "waiting_grow_max"
	RuleIdleShrinkMax         = "idle_shrink_max"
	RuleAvgWaitingGrowAcquire = "avg_waiting_grow_acquire_timeout"
	RuleIdleShrinkIdleTimeout = "idle_shrink_idle_timeout"
)

// TickReport 单次 Tick 的完整结果
type TickReport struct {
	Pool        string            `json:"pool"`
	At          time.Time         `json:"at"`
	Gauges      Gauges            `json:"gauges"`
	Statistics  DerivedStatistics `json:"statistics"`
	Previous    PoolConfig        `json:"previous"`
	Config      PoolConfig        `json:"config"`
	Adjustments []Adjustment      `json:"adjustments,omitempty"`
	Duration    time.Duration     `json:"duration"`
}

// Changed 判断本次 Tick 是否改变了配置
func (r TickReport) Changed() bool {
	return r.Previous != r.Config
}
