package governor

import (
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// 🎛️ 自适应策略
// =============================================================================

// PolicyConfig 策略阈值与调整系数
type PolicyConfig struct {
	// 规则 1：存在等待请求时 max 的增长系数
	GrowFactor float64 `json:"grow_factor" yaml:"grow_factor"`
	// 规则 2：空闲过多时 max 的收缩系数
	ShrinkFactor float64 `json:"shrink_factor" yaml:"shrink_factor"`
	// 规则 2：idle > IdleToActiveRatio × active
	IdleToActiveRatio float64 `json:"idle_to_active_ratio" yaml:"idle_to_active_ratio"`
	// 规则 2：idle > IdleCountThreshold
	IdleCountThreshold int64 `json:"idle_count_threshold" yaml:"idle_count_threshold"`
	// 规则 3：窗口平均等待数阈值
	AvgWaitingThreshold float64 `json:"avg_waiting_threshold" yaml:"avg_waiting_threshold"`
	// 规则 3：acquireTimeout 的增长系数
	AcquireGrowFactor float64 `json:"acquire_grow_factor" yaml:"acquire_grow_factor"`
	// 规则 4：idle > IdleOfMaxRatio × max
	IdleOfMaxRatio float64 `json:"idle_of_max_ratio" yaml:"idle_of_max_ratio"`
	// 规则 4：idleTimeout 的收缩系数
	IdleTimeoutShrinkFactor float64 `json:"idle_timeout_shrink_factor" yaml:"idle_timeout_shrink_factor"`

	Limits Limits `json:"limits" yaml:"limits"`
}

// DefaultPolicyConfig 返回默认策略
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		GrowFactor:              1.5,
		ShrinkFactor:            0.8,
		IdleToActiveRatio:       2,
		IdleCountThreshold:      10,
		AvgWaitingThreshold:     10,
		AcquireGrowFactor:       1.2,
		IdleOfMaxRatio:          0.8,
		IdleTimeoutShrinkFactor: 0.8,
		Limits:                  DefaultLimits(),
	}
}

// Validate 校验策略参数
func (p PolicyConfig) Validate() error {
	var errs []error
	if p.GrowFactor <= 1 {
		errs = append(errs, fmt.Errorf("grow_factor must be > 1, got %v", p.GrowFactor))
	}
	if p.AcquireGrowFactor <= 1 {
		errs = append(errs, fmt.Errorf("acquire_grow_factor must be > 1, got %v", p.AcquireGrowFactor))
	}
	if p.ShrinkFactor <= 0 || p.ShrinkFactor >= 1 {
		errs = append(errs, fmt.Errorf("shrink_factor must be in (0,1), got %v", p.ShrinkFactor))
	}
	if p.IdleTimeoutShrinkFactor <= 0 || p.IdleTimeoutShrinkFactor >= 1 {
		errs = append(errs, fmt.Errorf("idle_timeout_shrink_factor must be in (0,1), got %v", p.IdleTimeoutShrinkFactor))
	}
	if p.IdleToActiveRatio < 0 || p.IdleOfMaxRatio < 0 || p.AvgWaitingThreshold < 0 {
		errs = append(errs, errors.New("thresholds must not be negative"))
	}
	if err := p.Limits.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Validate 边界只能比 DefaultLimits 更严，不能放宽
func (l Limits) Validate() error {
	hard := DefaultLimits()
	var errs []error
	if l.MaxCeiling < minPoolMax || l.MaxCeiling > hard.MaxCeiling {
		errs = append(errs, fmt.Errorf("limits.max_ceiling must be within [%d,%d], got %d",
			minPoolMax, hard.MaxCeiling, l.MaxCeiling))
	}
	if l.IdleTimeoutFloor < hard.IdleTimeoutFloor {
		errs = append(errs, fmt.Errorf("limits.idle_timeout_floor must be >= %s, got %s",
			hard.IdleTimeoutFloor, l.IdleTimeoutFloor))
	}
	if l.AcquireTimeoutCeiling <= 0 || l.AcquireTimeoutCeiling > hard.AcquireTimeoutCeiling {
		errs = append(errs, fmt.Errorf("limits.acquire_timeout_ceiling must be within (0,%s], got %s",
			hard.AcquireTimeoutCeiling, l.AcquireTimeoutCeiling))
	}
	return errors.Join(errs...)
}

// AdaptivePolicyEngine 在每个 Tick 上应用阈值规则
type AdaptivePolicyEngine struct {
	policy PolicyConfig
	logger *zap.Logger
}

// NewAdaptivePolicyEngine 创建策略引擎
func NewAdaptivePolicyEngine(policy PolicyConfig, logger *zap.Logger) *AdaptivePolicyEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdaptivePolicyEngine{
		policy: policy,
		logger: logger.With(zap.String("component", "policy_engine")),
	}
}

// Policy 返回当前策略
func (e *AdaptivePolicyEngine) Policy() PolicyConfig {
	return e.policy
}

// Evaluate 按固定顺序应用四条规则，返回新配置与调整列表
// 每条规则读取前序规则写入后的最新值。纯计算，不修改入参。
func (e *AdaptivePolicyEngine) Evaluate(cfg PoolConfig, g Gauges, stats DerivedStatistics) (PoolConfig, []Adjustment) {
	p := e.policy
	lim := p.Limits
	next := lim.Clamp(cfg)
	var adjustments []Adjustment

	// 1. 存在等待请求：扩大 max
	if g.Waiting > 0 {
		before := next.Max
		next.Max = min(growInt(next.Max, p.GrowFactor), lim.MaxCeiling)
		adjustments = e.record(adjustments, RuleWaitingGrowMax, "max", float64(before), float64(next.Max))
	}

	// 2. 空闲远多于活跃：收缩 max，不低于 min 与 1
	if float64(g.Idle) > p.IdleToActiveRatio*float64(g.Active) && g.Idle > p.IdleCountThreshold {
		before := next.Max
		next.Max = max(shrinkInt(next.Max, p.ShrinkFactor), next.Min, minPoolMax)
		adjustments = e.record(adjustments, RuleIdleShrinkMax, "max", float64(before), float64(next.Max))
	}

	// 3. 持续排队：延长 acquireTimeout
	if stats.AvgWaiting > p.AvgWaitingThreshold {
		before := next.AcquireTimeout
		next.AcquireTimeout = min(scaleDuration(next.AcquireTimeout, p.AcquireGrowFactor), lim.AcquireTimeoutCeiling)
		adjustments = e.record(adjustments, RuleAvgWaitingGrowAcquire, "acquire_timeout_ms", ms(before), ms(next.AcquireTimeout))
	}

	// 4. 空闲接近上限：缩短 idleTimeout
	if float64(g.Idle) > p.IdleOfMaxRatio*float64(next.Max) {
		before := next.IdleTimeout
		next.IdleTimeout = max(scaleDuration(next.IdleTimeout, p.IdleTimeoutShrinkFactor), lim.IdleTimeoutFloor)
		adjustments = e.record(adjustments, RuleIdleShrinkIdleTimeout, "idle_timeout_ms", ms(before), ms(next.IdleTimeout))
	}

	return next, adjustments
}

func (e *AdaptivePolicyEngine) record(list []Adjustment, rule, field string, before, after float64) []Adjustment {
	fields := []zap.Field{
		zap.String("rule", rule),
		zap.String("field", field),
		zap.Float64("before", before),
		zap.Float64("after", after),
	}
	if before == after {
		// 已处于边界，规则触发但值不变
		e.logger.Debug("pool config rule fired at bound", fields...)
	} else {
		e.logger.Info("pool config adjusted", fields...)
	}
	return append(list, Adjustment{Rule: rule, Field: field, Before: before, After: after})
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// growInt 向上取整，保证增长至少前进 1
func growInt(v int, factor float64) int {
	return int(math.Ceil(float64(v) * factor))
}

// shrinkInt 向下取整
func shrinkInt(v int, factor float64) int {
	return int(math.Floor(float64(v) * factor))
}

func scaleDuration(d time.Duration, factor float64) time.Duration {
	return time.Duration(math.Round(float64(d) * factor))
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
