package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// 🔄 配置热重载
// =============================================================================

// Reloader 在配置文件变更时重新加载并校验配置
// 只有校验通过的配置才会交给回调；失败时保留上一份配置。
type Reloader struct {
	loader  *Loader
	watcher *FileWatcher
	logger  *zap.Logger

	mu        sync.RWMutex
	current   *Config
	callbacks []func(*Config) error
}

// NewReloader 创建重载器，initial 为已加载的配置
func NewReloader(path string, initial *Config, logger *zap.Logger, opts ...WatcherOption) (*Reloader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = append([]WatcherOption{WithWatcherLogger(logger)}, opts...)
	watcher, err := NewFileWatcher([]string{path}, opts...)
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}

	r := &Reloader{
		loader:  NewLoader().WithConfigPath(path),
		watcher: watcher,
		logger:  logger.With(zap.String("component", "config_reloader")),
		current: initial,
	}
	watcher.OnChange(r.handle)
	return r, nil
}

// OnReload 注册回调，按注册顺序调用
func (r *Reloader) OnReload(fn func(*Config) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, fn)
}

// Current 返回最近一次生效的配置
func (r *Reloader) Current() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Start 启动文件监听
func (r *Reloader) Start(ctx context.Context) error {
	return r.watcher.Start(ctx)
}

// Stop 停止文件监听
func (r *Reloader) Stop() error {
	return r.watcher.Stop()
}

// Reload 立即重新加载配置
func (r *Reloader) Reload() error {
	start := time.Now()
	cfg, err := r.loader.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	r.current = cfg
	callbacks := make([]func(*Config) error, len(r.callbacks))
	copy(callbacks, r.callbacks)
	r.mu.Unlock()

	for _, fn := range callbacks {
		if err := fn(cfg); err != nil {
			return fmt.Errorf("apply reloaded config: %w", err)
		}
	}

	r.logger.Info("config reloaded", zap.Duration("duration", time.Since(start)))
	return nil
}

func (r *Reloader) handle(evt FileEvent) {
	if evt.Op == FileOpRemove {
		r.logger.Warn("config file removed, keeping current config", zap.String("path", evt.Path))
		return
	}
	if err := r.Reload(); err != nil {
		r.logger.Error("config reload failed, keeping current config",
			zap.String("path", evt.Path),
			zap.Error(err))
	}
}
