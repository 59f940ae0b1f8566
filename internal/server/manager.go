package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// 🌐 HTTP 服务器管理器
// =============================================================================

// 生命周期错误
var (
	ErrAlreadyStarted = errors.New("server already started")
	ErrClosed         = errors.New("server is closed")
)

// Config 单个监听端口的配置
type Config struct {
	// Name 区分 api 与 metrics 服务，出现在日志与错误中
	Name string
	Addr string

	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int

	// ShutdownTimeout 优雅关闭最长等待时间，超时后强制关闭剩余连接
	ShutdownTimeout time.Duration

	// TLSConfig 非空时以 HTTPS 提供服务，证书需已加载
	TLSConfig *tls.Config
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Name:            "http",
		Addr:            ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Manager 管理 http.Server 的监听、服务与优雅关闭，并跟踪连接状态
type Manager struct {
	cfg    Config
	srv    *http.Server
	conns  *connTracker
	errCh  chan error
	logger *zap.Logger

	mu       sync.RWMutex
	listener net.Listener
	closed   bool
}

// NewManager 创建管理器，logger 可为 nil
func NewManager(handler http.Handler, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Name == "" {
		cfg.Name = "http"
	}

	m := &Manager{
		cfg:    cfg,
		conns:  newConnTracker(),
		errCh:  make(chan error, 1),
		logger: logger.With(zap.String("component", "http_server"), zap.String("server", cfg.Name)),
	}
	m.srv = &http.Server{
		Addr:           cfg.Addr,
		Handler:        handler,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
		TLSConfig:      cfg.TLSConfig,
		ConnState:      m.conns.track,
		ErrorLog:       zap.NewStdLog(m.logger),
	}
	return m
}

// =============================================================================
// 🎯 生命周期
// =============================================================================

// Start 监听并在后台提供服务
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.closed:
		return ErrClosed
	case m.listener != nil:
		return ErrAlreadyStarted
	}

	ln, err := net.Listen("tcp", m.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", m.cfg.Addr, err)
	}
	m.listener = ln

	m.logger.Info("starting HTTP server",
		zap.String("addr", ln.Addr().String()),
		zap.Bool("tls", m.cfg.TLSConfig != nil))

	go m.serve(ln)
	return nil
}

func (m *Manager) serve(ln net.Listener) {
	var err error
	if m.cfg.TLSConfig != nil {
		err = m.srv.ServeTLS(ln, "", "")
	} else {
		err = m.srv.Serve(ln)
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return
	}
	m.logger.Error("HTTP server failed", zap.Error(err))
	select {
	case m.errCh <- err:
	default:
	}
}

// Run 启动服务并阻塞到 ctx 取消或服务异常退出，随后优雅关闭
func (m *Manager) Run(ctx context.Context) error {
	if err := m.Start(); err != nil {
		return fmt.Errorf("%s server: %w", m.cfg.Name, err)
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-m.errCh:
	}

	shutdownErr := m.Shutdown(context.WithoutCancel(ctx))
	if serveErr != nil {
		return fmt.Errorf("%s server: %w", m.cfg.Name, serveErr)
	}
	return shutdownErr
}

// Shutdown 优雅关闭，可重复调用
// 超过 ShutdownTimeout 仍未结束的连接会被强制关闭。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	before := m.conns.Stats()
	m.logger.Info("shutting down HTTP server",
		zap.Int64("active", before.Active),
		zap.Int64("idle", before.Idle))

	if m.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.ShutdownTimeout)
		defer cancel()
	}

	if err := m.srv.Shutdown(ctx); err != nil {
		m.logger.Warn("graceful shutdown incomplete, closing remaining connections", zap.Error(err))
		if cerr := m.srv.Close(); cerr != nil {
			return errors.Join(err, cerr)
		}
		return err
	}

	m.logger.Info("HTTP server stopped", zap.Uint64("served_conns", m.conns.Stats().Accepted))
	return nil
}

// Errors 返回异步服务错误
func (m *Manager) Errors() <-chan error {
	return m.errCh
}

// =============================================================================
// 🔍 状态
// =============================================================================

// Addr 返回配置的监听地址
func (m *Manager) Addr() string {
	return m.cfg.Addr
}

// ListenAddr 返回实际监听地址，未启动时为空
func (m *Manager) ListenAddr() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.listener == nil {
		return ""
	}
	return m.listener.Addr().String()
}

// IsRunning 是否尚未关闭
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.closed
}

// ConnStats 返回当前连接状态计数
func (m *Manager) ConnStats() ConnStats {
	return m.conns.Stats()
}
