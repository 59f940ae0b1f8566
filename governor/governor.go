package governor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/BaSui01/poolgovernor/governor"

// Observer 接收每次 Tick 的结果
// 在 Tick 内同步调用，实现不得阻塞，也不得调用 Stop。
type Observer interface {
	ObserveTick(report TickReport)
}

// ObserverFunc 函数形式的 Observer
type ObserverFunc func(report TickReport)

// ObserveTick 实现 Observer
func (f ObserverFunc) ObserveTick(report TickReport) {
	f(report)
}

// =============================================================================
// 🧭 连接池调控器
// =============================================================================

// Governor 单个连接池的自适应调控器
type Governor struct {
	name       string
	interval   time.Duration
	windowSize int
	initial    PoolConfig
	now        func() time.Time
	logger     *zap.Logger
	tracer     trace.Tracer

	recorder   *MetricsRecorder
	aggregator *StatisticsAggregator
	reporter   *RecommendationReporter
	engine     atomic.Pointer[AdaptivePolicyEngine]
	config     atomic.Pointer[PoolConfig]

	// Tick 不可重入
	tickMu sync.Mutex

	mu        sync.Mutex
	observers []Observer
	subs      map[int]chan TickReport
	nextSub   int
	cancel    context.CancelFunc
	done      chan struct{}
}

// New 创建调控器
func New(name string, opts ...Option) (*Governor, error) {
	if name == "" {
		return nil, ErrEmptyName
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.validate(); err != nil {
		return nil, fmt.Errorf("invalid governor options for %q: %w", name, err)
	}

	recorder := NewMetricsRecorder(o.historyCapacity)
	logger := o.logger.With(zap.String("component", "governor"), zap.String("pool", name))

	g := &Governor{
		name:       name,
		interval:   o.interval,
		windowSize: o.windowSize,
		initial:    o.policy.Limits.Clamp(o.initial),
		now:        o.now,
		logger:     logger,
		tracer:     otel.Tracer(tracerName),
		recorder:   recorder,
		aggregator: NewStatisticsAggregator(recorder),
		reporter:   NewRecommendationReporter(o.thresholds),
		observers:  o.observers,
		subs:       make(map[int]chan TickReport),
	}
	g.engine.Store(NewAdaptivePolicyEngine(o.policy, logger))
	initial := g.engine.Load().Policy().Limits.Clamp(g.initial)
	g.config.Store(&initial)

	logger.Info("governor created",
		zap.Int("min", initial.Min),
		zap.Int("max", initial.Max),
		zap.Duration("idle_timeout", initial.IdleTimeout),
		zap.Duration("acquire_timeout", initial.AcquireTimeout),
		zap.Duration("interval", o.interval),
		zap.Int("window_size", o.windowSize),
	)

	return g, nil
}

// Name 返回调控器名称
func (g *Governor) Name() string {
	return g.name
}

// Interval 返回 Tick 周期
func (g *Governor) Interval() time.Duration {
	return g.interval
}

// =============================================================================
// 📥 采集
// =============================================================================

// UpdateStats 接收协作方的部分更新，可并发调用
// Stop 之后的调用仍会写入内存，但不会再被 Tick 观察到。
func (g *Governor) UpdateStats(obs PoolObservation) {
	g.recorder.Ingest(obs)
}

// =============================================================================
// 🔁 控制循环
// =============================================================================

// Tick 执行一次采样、统计与规则调整，并原子替换配置快照
// 纯内存计算，不会失败；持续压力下重复调用会累积调整（受边界钳制）。
func (g *Governor) Tick() TickReport {
	g.tickMu.Lock()
	defer g.tickMu.Unlock()

	start := time.Now()
	_, span := g.tracer.Start(context.Background(), "governor.tick",
		trace.WithAttributes(attribute.String("pool", g.name)))
	defer span.End()

	at := g.now()
	gauges := g.recorder.SampleTick(at)
	prev := *g.config.Load()
	stats := g.aggregator.Compute(g.windowSize, prev.Max)
	next, adjustments := g.engine.Load().Evaluate(prev, gauges, stats)
	g.config.Store(&next)

	report := TickReport{
		Pool:        g.name,
		At:          at,
		Gauges:      gauges,
		Statistics:  stats,
		Previous:    prev,
		Config:      next,
		Adjustments: adjustments,
		Duration:    time.Since(start),
	}

	span.SetAttributes(
		attribute.Int("adjustments", len(adjustments)),
		attribute.Int("max", next.Max),
		attribute.Float64("utilization_rate", stats.UtilizationRate),
	)

	g.logger.Debug("governor tick",
		zap.Int64("active", gauges.Active),
		zap.Int64("idle", gauges.Idle),
		zap.Int64("waiting", gauges.Waiting),
		zap.Float64("avg_waiting", stats.AvgWaiting),
		zap.Float64("utilization_rate", stats.UtilizationRate),
		zap.Int("adjustments", len(adjustments)),
	)

	g.notify(report)
	return report
}

func (g *Governor) notify(report TickReport) {
	g.mu.Lock()
	observers := make([]Observer, len(g.observers))
	copy(observers, g.observers)
	if report.Changed() {
		// 持锁发送，避免与取消订阅时的 close 竞争
		for _, ch := range g.subs {
			select {
			case ch <- report:
			default:
				g.logger.Warn("subscriber too slow, dropping tick report")
			}
		}
	}
	g.mu.Unlock()

	for _, obs := range observers {
		obs.ObserveTick(report)
	}
}

// Start 启动周期 Tick（非阻塞）
func (g *Governor) Start(ctx context.Context) error {
	loopCtx, done, err := g.begin(ctx)
	if err != nil {
		return err
	}
	go g.loop(loopCtx, done)
	return nil
}

// Run 运行周期 Tick，阻塞到 ctx 取消或 Stop 被调用
func (g *Governor) Run(ctx context.Context) error {
	loopCtx, done, err := g.begin(ctx)
	if err != nil {
		return err
	}
	g.loop(loopCtx, done)
	return nil
}

func (g *Governor) begin(ctx context.Context) (context.Context, chan struct{}, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.done != nil {
		return nil, nil, ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.done = make(chan struct{})
	return loopCtx, g.done, nil
}

func (g *Governor) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		g.mu.Lock()
		if g.done == done {
			g.cancel()
			g.cancel = nil
			g.done = nil
		}
		g.mu.Unlock()
		close(done)
	}()

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	g.logger.Info("governor loop started", zap.Duration("interval", g.interval))

	for {
		select {
		case <-ctx.Done():
			g.logger.Info("governor loop stopped")
			return
		case <-ticker.C:
			g.Tick()
		}
	}
}

// Stop 注销周期 Tick 并等待循环退出，可重复调用
func (g *Governor) Stop() {
	g.mu.Lock()
	cancel, done := g.cancel, g.done
	g.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running 判断周期循环是否运行中
func (g *Governor) Running() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.done != nil
}

// =============================================================================
// 🔍 查询
// =============================================================================

// Config 返回当前配置快照
func (g *Governor) Config() PoolConfig {
	return *g.config.Load()
}

// GetStatistics 基于当前历史与配置计算统计，无副作用
func (g *Governor) GetStatistics() DerivedStatistics {
	return g.aggregator.Compute(g.windowSize, g.config.Load().Max)
}

// GetOptimizedConfig 返回推荐配置及利用率、池效率
func (g *Governor) GetOptimizedConfig() OptimizedConfig {
	cfg := *g.config.Load()
	stats := g.aggregator.Compute(g.windowSize, cfg.Max)
	return OptimizedConfig{
		PoolConfig:      cfg,
		UtilizationRate: stats.UtilizationRate,
		PoolEfficiency:  stats.PoolEfficiency,
	}
}

// GetRecommendations 返回人工建议，不修改任何状态
func (g *Governor) GetRecommendations() []string {
	cfg := *g.config.Load()
	return g.reporter.Recommend(g.aggregator.Compute(g.windowSize, cfg.Max), cfg)
}

// Gauges 返回当前瞬时 gauge/counter
func (g *Governor) Gauges() Gauges {
	return g.recorder.Gauges()
}

// History 返回历史样本副本（从旧到新）
func (g *Governor) History() ([]Sample, []WaitSample) {
	return g.recorder.History()
}

// Policy 返回当前策略
func (g *Governor) Policy() PolicyConfig {
	return g.engine.Load().Policy()
}

// =============================================================================
// 🔧 管理
// =============================================================================

// Reset 清零计数并清空历史；策略产生的配置调整保留
func (g *Governor) Reset() {
	g.tickMu.Lock()
	defer g.tickMu.Unlock()

	g.recorder.Reset()
	g.logger.Info("governor metrics reset")
}

// ResetConfig 将配置恢复为构造时的初始配置，并钳制到当前边界
func (g *Governor) ResetConfig() {
	g.tickMu.Lock()
	defer g.tickMu.Unlock()

	initial := g.engine.Load().Policy().Limits.Clamp(g.initial)
	g.config.Store(&initial)
	g.logger.Info("governor config reset to initial",
		zap.Int("min", initial.Min),
		zap.Int("max", initial.Max),
	)
}

// SetPolicy 热替换策略参数，规则从下一次 Tick 起生效
func (g *Governor) SetPolicy(p PolicyConfig) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid policy for %q: %w", g.name, err)
	}

	// 与 Tick 互斥，收紧的边界立即作用于当前配置
	g.tickMu.Lock()
	g.engine.Store(NewAdaptivePolicyEngine(p, g.logger))
	clamped := p.Limits.Clamp(*g.config.Load())
	g.config.Store(&clamped)
	g.tickMu.Unlock()

	g.logger.Info("governor policy updated",
		zap.Float64("grow_factor", p.GrowFactor),
		zap.Float64("shrink_factor", p.ShrinkFactor),
		zap.Int("max_ceiling", p.Limits.MaxCeiling),
	)
	return nil
}

// AddObserver 注册 Tick 观察者
func (g *Governor) AddObserver(obs Observer) {
	if obs == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.observers = append(g.observers, obs)
}

// Subscribe 订阅配置发生变化的 Tick 报告
// 通道满时丢弃报告；返回的函数用于取消订阅并关闭通道。
func (g *Governor) Subscribe(buffer int) (<-chan TickReport, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan TickReport, buffer)

	g.mu.Lock()
	id := g.nextSub
	g.nextSub++
	g.subs[id] = ch
	g.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.subs, id)
			g.mu.Unlock()
			close(ch)
		})
	}
}
