package governor

import (
	"errors"
	"time"

	"go.uber.org/zap"
)

// DefaultInterval 默认 Tick 周期
const DefaultInterval = 60 * time.Second

var (
	// ErrAlreadyRunning 周期循环已启动
	ErrAlreadyRunning = errors.New("governor already running")
	// ErrEmptyName 调控器名称为空
	ErrEmptyName = errors.New("governor name must not be empty")
	// ErrDuplicateGovernor 注册表中已存在同名调控器
	ErrDuplicateGovernor = errors.New("governor already registered")
	// ErrGovernorNotFound 注册表中不存在该调控器
	ErrGovernorNotFound = errors.New("governor not found")
)

// Option 配置 Governor
type Option func(*options)

type options struct {
	logger          *zap.Logger
	interval        time.Duration
	windowSize      int
	historyCapacity int
	initial         PoolConfig
	policy          PolicyConfig
	thresholds      ReporterThresholds
	now             func() time.Time
	observers       []Observer
}

func defaultOptions() options {
	return options{
		logger:          zap.NewNop(),
		interval:        DefaultInterval,
		windowSize:      DefaultWindowSize,
		historyCapacity: DefaultHistoryCapacity,
		initial:         DefaultPoolConfig(),
		policy:          DefaultPolicyConfig(),
		thresholds:      DefaultReporterThresholds(),
		now:             time.Now,
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithInterval 设置周期 Tick 间隔
func WithInterval(d time.Duration) Option {
	return func(o *options) {
		o.interval = d
	}
}

// WithWindowSize 设置统计窗口样本数
func WithWindowSize(n int) Option {
	return func(o *options) {
		o.windowSize = n
	}
}

// WithHistoryCapacity 设置历史缓冲容量
func WithHistoryCapacity(n int) Option {
	return func(o *options) {
		o.historyCapacity = n
	}
}

// WithInitialConfig 设置初始池配置
func WithInitialConfig(cfg PoolConfig) Option {
	return func(o *options) {
		o.initial = cfg
	}
}

// WithPolicy 设置策略参数
func WithPolicy(p PolicyConfig) Option {
	return func(o *options) {
		o.policy = p
	}
}

// WithReporterThresholds 设置建议阈值
func WithReporterThresholds(t ReporterThresholds) Option {
	return func(o *options) {
		o.thresholds = t
	}
}

// WithClock 设置时钟，用于测试中生成确定的采样时间戳
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithObserver 注册 Tick 观察者
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observers = append(o.observers, obs)
		}
	}
}

func (o options) validate() error {
	var errs []error
	if o.interval <= 0 {
		errs = append(errs, errors.New("interval must be positive"))
	}
	if o.windowSize <= 0 {
		errs = append(errs, errors.New("window size must be positive"))
	}
	if o.historyCapacity <= 0 {
		errs = append(errs, errors.New("history capacity must be positive"))
	}
	if o.initial.Min < 0 || o.initial.Max <= 0 {
		errs = append(errs, errors.New("initial config requires min >= 0 and max > 0"))
	}
	if o.initial.Min > o.initial.Max {
		errs = append(errs, errors.New("initial config requires min <= max"))
	}
	if err := o.policy.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
