// Package sampling 周期性地从连接池实现读取用量并推送给调控器。
package sampling

import (
	"context"
	"errors"
	"time"

	"github.com/BaSui01/poolgovernor/governor"
	"github.com/BaSui01/poolgovernor/internal/ctxkeys"
	"go.uber.org/zap"
)

// ErrInvalidInterval 采样间隔非法
var ErrInvalidInterval = errors.New("sampling interval must be positive")

// Source 连接池用量来源
type Source interface {
	Sample(ctx context.Context) (governor.PoolObservation, error)
}

// SourceFunc 函数形式的 Source
type SourceFunc func(ctx context.Context) (governor.PoolObservation, error)

// Sample 实现 Source
func (f SourceFunc) Sample(ctx context.Context) (governor.PoolObservation, error) {
	return f(ctx)
}

// Sink 接收观测值，通常是 *governor.Governor
type Sink interface {
	UpdateStats(obs governor.PoolObservation)
}

// Loop 采样循环
type Loop struct {
	pool     string
	source   Source
	sink     Sink
	interval time.Duration
	timeout  time.Duration
	onError  func(err error)
	logger   *zap.Logger
}

// Option 配置采样循环
type Option func(*Loop)

// WithTimeout 单次采样超时，默认等于采样间隔
func WithTimeout(d time.Duration) Option {
	return func(l *Loop) {
		l.timeout = d
	}
}

// WithErrorHandler 采样失败回调
func WithErrorHandler(fn func(err error)) Option {
	return func(l *Loop) {
		l.onError = fn
	}
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLoop 创建采样循环
func NewLoop(pool string, source Source, sink Sink, interval time.Duration, opts ...Option) (*Loop, error) {
	if interval <= 0 {
		return nil, ErrInvalidInterval
	}
	if source == nil || sink == nil {
		return nil, errors.New("sampling source and sink are required")
	}

	l := &Loop{
		pool:     pool,
		source:   source,
		sink:     sink,
		interval: interval,
		timeout:  interval,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With(zap.String("component", "sampler"), zap.String("pool", pool))
	return l, nil
}

// Run 按间隔采样直到 ctx 取消，返回 nil
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.logger.Info("sampler started", zap.Duration("interval", l.interval))
	defer l.logger.Info("sampler stopped")

	l.SampleOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.SampleOnce(ctx)
		}
	}
}

// SampleOnce 采样一次，失败时不推送
// 传给 Source 的 ctx 携带连接池名称（ctxkeys.PoolName）。
func (l *Loop) SampleOnce(ctx context.Context) bool {
	sctx, cancel := context.WithTimeout(ctxkeys.WithPoolName(ctx, l.pool), l.timeout)
	defer cancel()

	obs, err := l.source.Sample(sctx)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		l.logger.Warn("pool sample failed", zap.Error(err))
		if l.onError != nil {
			l.onError(err)
		}
		return false
	}
	if obs.IsEmpty() {
		return false
	}
	l.sink.UpdateStats(obs)
	return true
}
