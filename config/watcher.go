package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// =============================================================================
// 👀 配置文件监听
// =============================================================================

// ErrWatcherRunning 监听器已启动
var ErrWatcherRunning = errors.New("watcher already running")

// DefaultDebounceDelay 合并同一文件连续事件的窗口
const DefaultDebounceDelay = 100 * time.Millisecond

// FileOp 文件变更类型
type FileOp int

const (
	FileOpCreate FileOp = iota
	FileOpWrite
	// FileOpRemove 包括删除与被 rename 移走
	FileOpRemove
)

func (op FileOp) String() string {
	switch op {
	case FileOpCreate:
		return "CREATE"
	case FileOpWrite:
		return "WRITE"
	case FileOpRemove:
		return "REMOVE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent 防抖后的文件事件，同一窗口内只保留最后一次
type FileEvent struct {
	Path      string    `json:"path"`
	Op        FileOp    `json:"op"`
	Timestamp time.Time `json:"timestamp"`
}

// WatcherOption 监听器选项
type WatcherOption func(*FileWatcher)

// WithDebounceDelay 设置防抖窗口，非正值忽略
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithWatcherLogger 设置日志
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *FileWatcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// FileWatcher 基于 fsnotify 监听配置文件
// 监听的是文件所在目录，编辑器用 rename 原子替换文件后仍能继续收到事件。
type FileWatcher struct {
	files    map[string]struct{}
	dirs     []string
	debounce time.Duration
	logger   *zap.Logger

	mu        sync.Mutex
	fsw       *fsnotify.Watcher
	done      chan struct{}
	callbacks []func(FileEvent)
}

// NewFileWatcher 创建监听器
// 文件可以尚不存在，但所在目录必须存在。
func NewFileWatcher(paths []string, opts ...WatcherOption) (*FileWatcher, error) {
	if len(paths) == 0 {
		return nil, errors.New("no paths to watch")
	}

	w := &FileWatcher{
		files:    make(map[string]struct{}, len(paths)),
		debounce: DefaultDebounceDelay,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("component", "config_watcher"))

	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", p, err)
		}
		dir := filepath.Dir(abs)
		info, err := os.Stat(dir)
		if err != nil {
			return nil, fmt.Errorf("stat watch dir %s: %w", dir, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("watch dir %s is not a directory", dir)
		}
		if _, err := os.Stat(abs); os.IsNotExist(err) {
			w.logger.Warn("config file does not exist, waiting for creation", zap.String("path", abs))
		}

		w.files[abs] = struct{}{}
		if !slices.Contains(w.dirs, dir) {
			w.dirs = append(w.dirs, dir)
		}
	}
	return w, nil
}

// OnChange 注册回调，回调在监听协程中串行执行
func (w *FileWatcher) OnChange(fn func(FileEvent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

// Paths 返回被监听文件的绝对路径
func (w *FileWatcher) Paths() []string {
	paths := make([]string, 0, len(w.files))
	for p := range w.files {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	return paths
}

// IsRunning 是否已启动且未停止
func (w *FileWatcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fsw != nil
}

// Start 开始监听，ctx 取消后停止分发事件
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw != nil {
		return ErrWatcherRunning
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	for _, dir := range w.dirs {
		if err := fsw.Add(dir); err != nil {
			_ = fsw.Close()
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	w.fsw = fsw
	w.done = make(chan struct{})
	go w.loop(ctx, fsw, w.done)

	w.logger.Info("file watcher started",
		zap.Strings("paths", w.Paths()),
		zap.Duration("debounce", w.debounce))
	return nil
}

// Stop 停止监听并等待监听协程退出，可重复调用
func (w *FileWatcher) Stop() error {
	w.mu.Lock()
	fsw, done := w.fsw, w.done
	w.fsw = nil
	w.mu.Unlock()

	if fsw == nil {
		return nil
	}
	err := fsw.Close()
	<-done
	w.logger.Info("file watcher stopped")
	return err
}

func (w *FileWatcher) loop(ctx context.Context, fsw *fsnotify.Watcher, done chan<- struct{}) {
	defer close(done)

	pending := make(map[string]FileEvent)
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			evt, match := w.translate(ev)
			if !match {
				continue
			}
			pending[evt.Path] = evt
			timer.Reset(w.debounce)

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", zap.Error(err))

		case <-timer.C:
			w.dispatch(pending)
			pending = make(map[string]FileEvent)
		}
	}
}

// translate 过滤目录中无关的文件，chmod 等元数据变更忽略
func (w *FileWatcher) translate(ev fsnotify.Event) (FileEvent, bool) {
	path := filepath.Clean(ev.Name)
	if _, ok := w.files[path]; !ok {
		return FileEvent{}, false
	}

	evt := FileEvent{Path: path, Timestamp: time.Now()}
	switch {
	case ev.Has(fsnotify.Create):
		evt.Op = FileOpCreate
	case ev.Has(fsnotify.Write):
		evt.Op = FileOpWrite
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		evt.Op = FileOpRemove
	default:
		return FileEvent{}, false
	}
	return evt, true
}

func (w *FileWatcher) dispatch(pending map[string]FileEvent) {
	w.mu.Lock()
	callbacks := slices.Clone(w.callbacks)
	w.mu.Unlock()

	for _, evt := range pending {
		w.logger.Debug("config file changed",
			zap.String("path", evt.Path),
			zap.Stringer("op", evt.Op))
		for _, fn := range callbacks {
			fn(evt)
		}
	}
}
