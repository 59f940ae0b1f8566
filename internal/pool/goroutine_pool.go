// Package pool 提供可由调控器在线调整大小的协程池。
package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/poolgovernor/governor"
	"go.uber.org/zap"
)

var (
	ErrPoolClosed     = errors.New("pool is closed")
	ErrPoolFull       = errors.New("pool is full")
	ErrAcquireTimeout = errors.New("task submission timeout")
)

// Task 一个工作单元
type Task func(ctx context.Context) error

type taskWrapper struct {
	task   Task
	ctx    context.Context
	result chan error
}

// GoroutinePoolConfig 协程池配置
type GoroutinePoolConfig struct {
	// 常驻 worker 数，空闲超时不会让 worker 数低于该值
	MinWorkers int `json:"min_workers"`
	// worker 上限
	MaxWorkers int `json:"max_workers"`
	// 任务队列长度
	QueueSize int `json:"queue_size"`
	// 超过 MinWorkers 的 worker 空闲多久后退出
	IdleTimeout time.Duration `json:"idle_timeout"`
	// SubmitWait 等待队列空位的上限
	AcquireTimeout time.Duration `json:"acquire_timeout"`
	PanicHandler   func(any)     `json:"-"`
	Logger         *zap.Logger   `json:"-"`
}

// DefaultGoroutinePoolConfig 返回与 governor.DefaultPoolConfig 一致的默认值
func DefaultGoroutinePoolConfig() GoroutinePoolConfig {
	cfg := governor.DefaultPoolConfig()
	return GoroutinePoolConfig{
		MinWorkers:     cfg.Min,
		MaxWorkers:     cfg.Max,
		QueueSize:      1000,
		IdleTimeout:    cfg.IdleTimeout,
		AcquireTimeout: cfg.AcquireTimeout,
	}
}

// GoroutinePool 协程池
//
// Max/Min/IdleTimeout/AcquireTimeout 可通过 Apply 在线修改：
// 上限下调时多余的 worker 在完成当前任务后退出。
type GoroutinePool struct {
	mu        sync.RWMutex
	taskQueue chan taskWrapper
	closed    atomic.Bool
	wg        sync.WaitGroup

	minWorkers     atomic.Int32
	maxWorkers     atomic.Int32
	idleTimeout    atomic.Int64
	acquireTimeout atomic.Int64

	workerCount atomic.Int32
	activeCount atomic.Int32

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
	waited    atomic.Int64
	spawned   atomic.Int64
	exited    atomic.Int64

	panicHandler func(any)
	logger       *zap.Logger

	sampleMu sync.Mutex
	last     *GoroutinePoolStats
}

// NewGoroutinePool 创建协程池并预启动 MinWorkers 个 worker
func NewGoroutinePool(config GoroutinePoolConfig) *GoroutinePool {
	if config.QueueSize < 0 {
		config.QueueSize = 0
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &GoroutinePool{
		taskQueue:    make(chan taskWrapper, config.QueueSize),
		panicHandler: config.PanicHandler,
		logger:       logger.With(zap.String("component", "goroutine_pool")),
	}
	p.setLimits(config.MinWorkers, config.MaxWorkers, config.IdleTimeout, config.AcquireTimeout)

	for i := 0; i < int(p.minWorkers.Load()); i++ {
		p.trySpawnWorker()
	}
	return p
}

func (p *GoroutinePool) setLimits(minWorkers, maxWorkers int, idle, acquire time.Duration) {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if minWorkers < 0 {
		minWorkers = 0
	}
	if minWorkers > maxWorkers {
		minWorkers = maxWorkers
	}
	if idle <= 0 {
		idle = time.Minute
	}
	p.minWorkers.Store(int32(minWorkers))
	p.maxWorkers.Store(int32(maxWorkers))
	p.idleTimeout.Store(int64(idle))
	p.acquireTimeout.Store(int64(acquire))
}

// =============================================================================
// 🎛️ 调控接入
// =============================================================================

// Apply 应用推荐配置，ConnectionTimeout 对协程池无意义被忽略
func (p *GoroutinePool) Apply(cfg governor.PoolConfig) {
	p.setLimits(cfg.Min, cfg.Max, cfg.IdleTimeout, cfg.AcquireTimeout)

	// 上调后立即补足积压任务所需的 worker
	for i := 0; i < len(p.taskQueue); i++ {
		if !p.trySpawnWorker() {
			break
		}
	}

	p.logger.Info("pool limits applied",
		zap.Int("min", cfg.Min),
		zap.Int("max", cfg.Max),
		zap.Duration("idle_timeout", cfg.IdleTimeout),
		zap.Duration("acquire_timeout", cfg.AcquireTimeout))
}

// ObserveTick 实现 governor.Observer，仅在配置变化时应用
func (p *GoroutinePool) ObserveTick(r governor.TickReport) {
	if r.Changed() {
		p.Apply(r.Config)
	}
}

// Sample 实现 sampling.Source
//
//	active    = 正在执行任务的 worker 数
//	idle      = worker 总数 - active
//	waiting   = 队列中等待 worker 的任务数
//	created   = 两次采样间启动的 worker 数
//	destroyed = 两次采样间退出的 worker 数
func (p *GoroutinePool) Sample(ctx context.Context) (governor.PoolObservation, error) {
	if err := ctx.Err(); err != nil {
		return governor.PoolObservation{}, err
	}

	cur := p.Stats()

	p.sampleMu.Lock()
	prev := p.last
	p.last = &cur
	p.sampleMu.Unlock()

	idle := int64(cur.Workers - cur.Active)
	if idle < 0 {
		idle = 0
	}
	obs := governor.PoolObservation{
		Active:  governor.Int64(int64(cur.Active)),
		Idle:    governor.Int64(idle),
		Waiting: governor.Int64(int64(cur.Queued)),
	}
	if prev != nil {
		obs.Created = governor.Int64(cur.Spawned - prev.Spawned)
		obs.Destroyed = governor.Int64(cur.Exited - prev.Exited)
	}
	return obs, nil
}

// =============================================================================
// 📥 提交
// =============================================================================

// Submit 非阻塞提交，队列满且无法扩容时返回 ErrPoolFull
func (p *GoroutinePool) Submit(ctx context.Context, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed.Load() {
		return ErrPoolClosed
	}

	p.submitted.Add(1)
	wrapper := taskWrapper{task: task, ctx: ctx}

	select {
	case p.taskQueue <- wrapper:
		p.ensureWorker()
		return nil
	default:
	}

	if p.trySpawnWorker() {
		select {
		case p.taskQueue <- wrapper:
			return nil
		default:
		}
	}
	p.rejected.Add(1)
	return ErrPoolFull
}

// SubmitWait 提交并等待任务完成
// 队列满时最多等待 AcquireTimeout（为 0 时只受 ctx 约束）。
func (p *GoroutinePool) SubmitWait(ctx context.Context, task Task) error {
	p.mu.RLock()
	if p.closed.Load() {
		p.mu.RUnlock()
		return ErrPoolClosed
	}

	p.submitted.Add(1)
	wrapper := taskWrapper{task: task, ctx: ctx, result: make(chan error, 1)}

	if err := p.enqueueWait(ctx, wrapper); err != nil {
		p.mu.RUnlock()
		p.rejected.Add(1)
		return err
	}
	p.mu.RUnlock()
	p.ensureWorker()

	select {
	case err := <-wrapper.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *GoroutinePool) enqueueWait(ctx context.Context, wrapper taskWrapper) error {
	select {
	case p.taskQueue <- wrapper:
		return nil
	default:
	}

	p.waited.Add(1)
	p.ensureWorker()

	var timeout <-chan time.Time
	if d := time.Duration(p.acquireTimeout.Load()); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case p.taskQueue <- wrapper:
		return nil
	case <-timeout:
		return ErrAcquireTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// =============================================================================
// 👷 worker
// =============================================================================

func (p *GoroutinePool) ensureWorker() {
	if p.workerCount.Load() < p.maxWorkers.Load() {
		p.trySpawnWorker()
	}
}

func (p *GoroutinePool) trySpawnWorker() bool {
	for {
		current := p.workerCount.Load()
		if current >= p.maxWorkers.Load() {
			return false
		}
		if p.workerCount.CompareAndSwap(current, current+1) {
			p.spawned.Add(1)
			p.wg.Add(1)
			go p.worker()
			return true
		}
	}
}

// tryRetire 在 worker 数超过 limit 时注销当前 worker
func (p *GoroutinePool) tryRetire(limit int32) bool {
	for {
		current := p.workerCount.Load()
		if current <= limit {
			return false
		}
		if p.workerCount.CompareAndSwap(current, current-1) {
			return true
		}
	}
}

func (p *GoroutinePool) worker() {
	defer p.wg.Done()
	defer p.exited.Add(1)

	timer := time.NewTimer(time.Duration(p.idleTimeout.Load()))
	defer timer.Stop()

	for {
		select {
		case wrapper, ok := <-p.taskQueue:
			if !ok {
				p.workerCount.Add(-1)
				return
			}

			p.activeCount.Add(1)
			err := p.executeTask(wrapper)
			p.activeCount.Add(-1)

			if wrapper.result != nil {
				wrapper.result <- err
				close(wrapper.result)
			}
			if err != nil {
				p.failed.Add(1)
			} else {
				p.completed.Add(1)
			}

			if p.tryRetire(p.maxWorkers.Load()) {
				return
			}
			resetTimer(timer, time.Duration(p.idleTimeout.Load()))

		case <-timer.C:
			if p.tryRetire(p.minWorkers.Load()) {
				return
			}
			timer.Reset(time.Duration(p.idleTimeout.Load()))
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

func (p *GoroutinePool) executeTask(wrapper taskWrapper) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if p.panicHandler != nil {
				p.panicHandler(r)
			}
			p.logger.Error("task panicked", zap.Any("panic", r))
			err = errors.New("task panicked")
		}
	}()

	return wrapper.task(wrapper.ctx)
}

// Close 关闭队列并等待所有 worker 退出
func (p *GoroutinePool) Close() {
	if p.closed.Swap(true) {
		return
	}
	p.mu.Lock()
	close(p.taskQueue)
	p.mu.Unlock()
	p.wg.Wait()
}

// =============================================================================
// 📊 统计
// =============================================================================

// GoroutinePoolStats 协程池统计
type GoroutinePoolStats struct {
	Workers   int   `json:"workers"`
	Active    int   `json:"active"`
	Queued    int   `json:"queued"`
	Min       int   `json:"min"`
	Max       int   `json:"max"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
	Waited    int64 `json:"waited"`
	Spawned   int64 `json:"spawned"`
	Exited    int64 `json:"exited"`
}

// Stats 返回统计快照
func (p *GoroutinePool) Stats() GoroutinePoolStats {
	return GoroutinePoolStats{
		Workers:   int(p.workerCount.Load()),
		Active:    int(p.activeCount.Load()),
		Queued:    len(p.taskQueue),
		Min:       int(p.minWorkers.Load()),
		Max:       int(p.maxWorkers.Load()),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
		Waited:    p.waited.Load(),
		Spawned:   p.spawned.Load(),
		Exited:    p.exited.Load(),
	}
}
