package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/BaSui01/poolgovernor/governor"
	"github.com/BaSui01/poolgovernor/types"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

// =============================================================================
// 📡 配置变更推送
// =============================================================================

// WatchMessage 推送给订阅者的消息
// 连接建立后先发送一条 type=snapshot，之后每次配置变化发送 type=change。
type WatchMessage struct {
	Type   string              `json:"type"`
	Pool   string              `json:"pool"`
	Config OptimizedConfigView `json:"config"`
	Tick   *TickView           `json:"tick,omitempty"`
}

// 消息类型
const (
	WatchSnapshot = "snapshot"
	WatchChange   = "change"
)

// WatchConfig websocket 推送参数
type WatchConfig struct {
	// 订阅缓冲，满时丢弃报告
	Buffer int
	// 单条消息写超时
	WriteTimeout time.Duration
	// 心跳间隔，0 表示不发送
	PingInterval time.Duration
	// 允许的跨域来源模式，为空时只接受同源
	OriginPatterns []string
}

// DefaultWatchConfig 返回默认推送参数
func DefaultWatchConfig() WatchConfig {
	return WatchConfig{
		Buffer:       16,
		WriteTimeout: 5 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

// WatchHandler 通过 websocket 推送某个连接池的配置变化
type WatchHandler struct {
	registry *governor.Registry
	cfg      WatchConfig
	logger   *zap.Logger
}

// NewWatchHandler 创建推送 handler
func NewWatchHandler(registry *governor.Registry, cfg WatchConfig, logger *zap.Logger) *WatchHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultWatchConfig()
	if cfg.Buffer <= 0 {
		cfg.Buffer = def.Buffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	return &WatchHandler{
		registry: registry,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "watch_handler")),
	}
}

// Register 注册路由
func (h *WatchHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/pools/{pool}/watch", h.HandleWatch)
}

// HandleWatch 处理 GET /api/v1/pools/{pool}/watch
func (h *WatchHandler) HandleWatch(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("pool")
	g, err := h.registry.Get(name)
	if err != nil {
		WriteError(w, types.NewPoolNotFoundError(name), h.logger)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.cfg.OriginPatterns,
	})
	if err != nil {
		// Accept 已写出错误响应
		h.logger.Warn("websocket accept failed", zap.String("pool", name), zap.Error(err))
		return
	}
	defer conn.CloseNow()

	reports, unsubscribe := g.Subscribe(h.cfg.Buffer)
	defer unsubscribe()

	// 客户端只读，CloseRead 负责处理控制帧并在对端关闭时取消 ctx
	ctx := conn.CloseRead(r.Context())

	h.logger.Info("watcher connected", zap.String("pool", name), zap.String("remote_addr", r.RemoteAddr))

	err = h.stream(ctx, conn, g, reports)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		conn.Close(websocket.StatusNormalClosure, "")
	case websocket.CloseStatus(err) != -1:
	default:
		h.logger.Warn("watch stream ended", zap.String("pool", name), zap.Error(err))
		conn.Close(websocket.StatusInternalError, "stream error")
	}
	h.logger.Info("watcher disconnected", zap.String("pool", name))
}

func (h *WatchHandler) stream(ctx context.Context, conn *websocket.Conn, g *governor.Governor, reports <-chan governor.TickReport) error {
	snapshot := WatchMessage{
		Type:   WatchSnapshot,
		Pool:   g.Name(),
		Config: optimizedView(g.GetOptimizedConfig()),
	}
	if err := h.write(ctx, conn, snapshot); err != nil {
		return err
	}

	var ping <-chan time.Time
	if h.cfg.PingInterval > 0 {
		ticker := time.NewTicker(h.cfg.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case report, ok := <-reports:
			if !ok {
				return nil
			}
			view := NewTickView(report)
			msg := WatchMessage{
				Type: WatchChange,
				Pool: report.Pool,
				Config: OptimizedConfigView{
					ConfigView:      view.Config,
					UtilizationRate: report.Statistics.UtilizationRate,
					PoolEfficiency:  report.Statistics.PoolEfficiency,
				},
				Tick: &view,
			}
			if err := h.write(ctx, conn, msg); err != nil {
				return err
			}
		case <-ping:
			pctx, cancel := context.WithTimeout(ctx, h.cfg.WriteTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

func (h *WatchHandler) write(ctx context.Context, conn *websocket.Conn, msg WatchMessage) error {
	wctx, cancel := context.WithTimeout(ctx, h.cfg.WriteTimeout)
	defer cancel()
	return wsjson.Write(wctx, conn, msg)
}
