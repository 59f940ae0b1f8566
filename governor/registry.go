package governor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Registry 按名称管理多个连接池的调控器
type Registry struct {
	mu        sync.RWMutex
	governors map[string]*Governor
}

// NewRegistry 创建注册表
func NewRegistry() *Registry {
	return &Registry{governors: make(map[string]*Governor)}
}

// Register 注册调控器
func (r *Registry) Register(g *Governor) error {
	if g == nil {
		return fmt.Errorf("register governor: %w", ErrEmptyName)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.governors[g.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateGovernor, g.Name())
	}
	r.governors[g.Name()] = g
	return nil
}

// Get 按名称查找调控器
func (r *Registry) Get(name string) (*Governor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.governors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGovernorNotFound, name)
	}
	return g, nil
}

// Names 返回已注册名称（排序）
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.governors))
	for name := range r.governors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All 返回全部调控器（按名称排序）
func (r *Registry) All() []*Governor {
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Governor, 0, len(names))
	for _, name := range names {
		if g, ok := r.governors[name]; ok {
			out = append(out, g)
		}
	}
	return out
}

// Len 返回已注册数量
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.governors)
}

// Run 并发运行所有调控器的周期循环，阻塞到 ctx 取消
// 任一调控器启动失败时取消其余循环并返回该错误。
func (r *Registry) Run(ctx context.Context) error {
	eg, egCtx := errgroup.WithContext(ctx)
	for _, g := range r.All() {
		eg.Go(func() error {
			if err := g.Run(egCtx); err != nil {
				return fmt.Errorf("run governor %s: %w", g.Name(), err)
			}
			return nil
		})
	}
	return eg.Wait()
}

// Stop 停止所有调控器
func (r *Registry) Stop() {
	for _, g := range r.All() {
		g.Stop()
	}
}

// SetPolicy 为所有调控器替换策略
func (r *Registry) SetPolicy(p PolicyConfig) error {
	for _, g := range r.All() {
		if err := g.SetPolicy(p); err != nil {
			return err
		}
	}
	return nil
}
