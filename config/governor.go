package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/poolgovernor/governor"
	"go.uber.org/zap"
)

// =============================================================================
// 🎛️ 调控器配置
// =============================================================================

// GovernorConfig 调控器配置
type GovernorConfig struct {
	// Tick 周期
	Interval time.Duration `yaml:"interval" env:"INTERVAL"`
	// 统计窗口样本数
	WindowSize int `yaml:"window_size" env:"WINDOW_SIZE"`
	// 历史缓冲容量
	HistoryCapacity int `yaml:"history_capacity" env:"HISTORY_CAPACITY"`
	// 各连接池缺省值
	Defaults PoolSettings `yaml:"defaults" env:"DEFAULTS"`
	// 策略参数（支持热重载）
	Policy PolicySettings `yaml:"policy" env:"POLICY"`
	// 建议阈值
	Reporter ReporterSettings `yaml:"reporter" env:"REPORTER"`
	// 启动时从快照恢复配置
	RestoreSnapshots bool `yaml:"restore_snapshots" env:"RESTORE_SNAPSHOTS"`
	// 被调控的连接池列表
	Pools []PoolSettings `yaml:"pools" env:"-"`
}

// 连接池数据来源
const (
	SourcePush     = "push"
	SourceDatabase = "database"
	SourceRedis    = "redis"
	SourceMongo    = "mongo"
	// SourceHTTP 本进程 API 服务的连接
	SourceHTTP     = "http"
)

// PoolSettings 单个连接池配置，零值字段继承 Defaults
type PoolSettings struct {
	// 名称
	Name string `yaml:"name" env:"NAME"`
	// 数据来源: push, database, redis, mongo, http
	Source string `yaml:"source" env:"SOURCE"`
	// 最小连接数
	Min int `yaml:"min" env:"MIN"`
	// 最大连接数
	Max int `yaml:"max" env:"MAX"`
	// 空闲超时
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	// 建连超时
	ConnectionTimeout time.Duration `yaml:"connection_timeout" env:"CONNECTION_TIMEOUT"`
	// 获取连接超时
	AcquireTimeout time.Duration `yaml:"acquire_timeout" env:"ACQUIRE_TIMEOUT"`
}

// PolicySettings 策略参数
type PolicySettings struct {
	GrowFactor              float64       `yaml:"grow_factor" env:"GROW_FACTOR"`
	ShrinkFactor            float64       `yaml:"shrink_factor" env:"SHRINK_FACTOR"`
	IdleToActiveRatio       float64       `yaml:"idle_to_active_ratio" env:"IDLE_TO_ACTIVE_RATIO"`
	IdleCountThreshold      int64         `yaml:"idle_count_threshold" env:"IDLE_COUNT_THRESHOLD"`
	AvgWaitingThreshold     float64       `yaml:"avg_waiting_threshold" env:"AVG_WAITING_THRESHOLD"`
	AcquireGrowFactor       float64       `yaml:"acquire_grow_factor" env:"ACQUIRE_GROW_FACTOR"`
	IdleOfMaxRatio          float64       `yaml:"idle_of_max_ratio" env:"IDLE_OF_MAX_RATIO"`
	IdleTimeoutShrinkFactor float64       `yaml:"idle_timeout_shrink_factor" env:"IDLE_TIMEOUT_SHRINK_FACTOR"`
	MaxCeiling              int           `yaml:"max_ceiling" env:"MAX_CEILING"`
	IdleTimeoutFloor        time.Duration `yaml:"idle_timeout_floor" env:"IDLE_TIMEOUT_FLOOR"`
	AcquireTimeoutCeiling   time.Duration `yaml:"acquire_timeout_ceiling" env:"ACQUIRE_TIMEOUT_CEILING"`
}

// ReporterSettings 建议阈值
type ReporterSettings struct {
	LowUtilization  float64 `yaml:"low_utilization" env:"LOW_UTILIZATION"`
	HighUtilization float64 `yaml:"high_utilization" env:"HIGH_UTILIZATION"`
	LowEfficiency   float64 `yaml:"low_efficiency" env:"LOW_EFFICIENCY"`
	HighAvgWaiting  float64 `yaml:"high_avg_waiting" env:"HIGH_AVG_WAITING"`
}

// ToPolicy 转换为 governor.PolicyConfig
func (p PolicySettings) ToPolicy() governor.PolicyConfig {
	return governor.PolicyConfig{
		GrowFactor:              p.GrowFactor,
		ShrinkFactor:            p.ShrinkFactor,
		IdleToActiveRatio:       p.IdleToActiveRatio,
		IdleCountThreshold:      p.IdleCountThreshold,
		AvgWaitingThreshold:     p.AvgWaitingThreshold,
		AcquireGrowFactor:       p.AcquireGrowFactor,
		IdleOfMaxRatio:          p.IdleOfMaxRatio,
		IdleTimeoutShrinkFactor: p.IdleTimeoutShrinkFactor,
		Limits: governor.Limits{
			MaxCeiling:            p.MaxCeiling,
			IdleTimeoutFloor:      p.IdleTimeoutFloor,
			AcquireTimeoutCeiling: p.AcquireTimeoutCeiling,
		},
	}
}

// ToThresholds 转换为 governor.ReporterThresholds
func (r ReporterSettings) ToThresholds() governor.ReporterThresholds {
	return governor.ReporterThresholds{
		LowUtilization:  r.LowUtilization,
		HighUtilization: r.HighUtilization,
		LowEfficiency:   r.LowEfficiency,
		HighAvgWaiting:  r.HighAvgWaiting,
	}
}

// ToPoolConfig 转换为 governor.PoolConfig
func (s PoolSettings) ToPoolConfig() governor.PoolConfig {
	return governor.PoolConfig{
		Min:               s.Min,
		Max:               s.Max,
		IdleTimeout:       s.IdleTimeout,
		ConnectionTimeout: s.ConnectionTimeout,
		AcquireTimeout:    s.AcquireTimeout,
	}
}

// Resolve 用 Defaults 填充零值字段
func (c GovernorConfig) Resolve(s PoolSettings) PoolSettings {
	d := c.Defaults
	if s.Source == "" {
		s.Source = d.Source
	}
	if s.Source == "" {
		s.Source = SourcePush
	}
	if s.Min == 0 {
		s.Min = d.Min
	}
	if s.Max == 0 {
		s.Max = d.Max
	}
	if s.IdleTimeout == 0 {
		s.IdleTimeout = d.IdleTimeout
	}
	if s.ConnectionTimeout == 0 {
		s.ConnectionTimeout = d.ConnectionTimeout
	}
	if s.AcquireTimeout == 0 {
		s.AcquireTimeout = d.AcquireTimeout
	}
	return s
}

// ResolvedPools 返回填充缺省值后的连接池列表
func (c GovernorConfig) ResolvedPools() []PoolSettings {
	out := make([]PoolSettings, 0, len(c.Pools))
	for _, p := range c.Pools {
		out = append(out, c.Resolve(p))
	}
	return out
}

// Options 构造单个连接池调控器的选项
func (c GovernorConfig) Options(pool PoolSettings, logger *zap.Logger) []governor.Option {
	resolved := c.Resolve(pool)
	return []governor.Option{
		governor.WithLogger(logger),
		governor.WithInterval(c.Interval),
		governor.WithWindowSize(c.WindowSize),
		governor.WithHistoryCapacity(c.HistoryCapacity),
		governor.WithInitialConfig(resolved.ToPoolConfig()),
		governor.WithPolicy(c.Policy.ToPolicy()),
		governor.WithReporterThresholds(c.Reporter.ToThresholds()),
	}
}

// Validate 校验调控器配置
func (c GovernorConfig) Validate() error {
	var errs []error
	if c.Interval <= 0 {
		errs = append(errs, errors.New("governor.interval must be positive"))
	}
	if c.WindowSize <= 0 {
		errs = append(errs, errors.New("governor.window_size must be positive"))
	}
	if c.HistoryCapacity < c.WindowSize {
		errs = append(errs, errors.New("governor.history_capacity must be >= window_size"))
	}
	if err := c.Policy.ToPolicy().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("governor.policy: %w", err))
	}

	seen := make(map[string]struct{}, len(c.Pools))
	sources := make(map[string]string)
	for i, p := range c.ResolvedPools() {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("governor.pools[%d]: name is required", i))
			continue
		}
		if _, dup := seen[p.Name]; dup {
			errs = append(errs, fmt.Errorf("governor.pools[%d]: duplicate name %q", i, p.Name))
		}
		seen[p.Name] = struct{}{}

		switch p.Source {
		case SourcePush:
		case SourceDatabase, SourceRedis, SourceMongo, SourceHTTP:
			if owner, taken := sources[p.Source]; taken {
				errs = append(errs, fmt.Errorf("governor.pools[%d]: source %q already bound to %q", i, p.Source, owner))
			}
			sources[p.Source] = p.Name
		default:
			errs = append(errs, fmt.Errorf("governor.pools[%d]: unknown source %q", i, p.Source))
		}

		if p.Min < 0 || p.Max <= 0 || p.Min > p.Max {
			errs = append(errs, fmt.Errorf("governor.pools[%d]: requires 0 <= min <= max and max > 0", i))
		}
	}
	return errors.Join(errs...)
}
