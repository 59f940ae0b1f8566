package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/BaSui01/poolgovernor/governor"
	"github.com/BaSui01/poolgovernor/internal/database"
	"github.com/BaSui01/poolgovernor/types"
	"go.uber.org/zap"
)

// =============================================================================
// 🎛️ 连接池调控 Handler
// =============================================================================

const (
	defaultAdjustmentLimit = 100
	maxAdjustmentLimit     = 1000
)

// AdjustmentLister 审计记录查询接口，由 database.AuditStore 实现
type AdjustmentLister interface {
	List(ctx context.Context, pool string, limit int) ([]database.AdjustmentRecord, error)
}

// PoolHandler 暴露 Registry 中各调控器的查询、上报与管理接口
type PoolHandler struct {
	registry *governor.Registry
	audit    AdjustmentLister
	logger   *zap.Logger
}

// NewPoolHandler 创建连接池 handler，audit 为 nil 时审计查询返回 503
func NewPoolHandler(registry *governor.Registry, audit AdjustmentLister, logger *zap.Logger) *PoolHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PoolHandler{
		registry: registry,
		audit:    audit,
		logger:   logger.With(zap.String("component", "pool_handler")),
	}
}

// Register 注册路由
func (h *PoolHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/pools", h.HandleList)
	mux.HandleFunc("GET /api/v1/pools/{pool}", h.HandleGet)
	mux.HandleFunc("GET /api/v1/pools/{pool}/statistics", h.HandleStatistics)
	mux.HandleFunc("GET /api/v1/pools/{pool}/config", h.HandleConfig)
	mux.HandleFunc("GET /api/v1/pools/{pool}/recommendations", h.HandleRecommendations)
	mux.HandleFunc("GET /api/v1/pools/{pool}/history", h.HandleHistory)
	mux.HandleFunc("GET /api/v1/pools/{pool}/adjustments", h.HandleAdjustments)
	mux.HandleFunc("GET /api/v1/pools/{pool}/policy", h.HandleGetPolicy)
	mux.HandleFunc("PUT /api/v1/pools/{pool}/policy", h.HandleSetPolicy)
	mux.HandleFunc("POST /api/v1/pools/{pool}/observations", h.HandleObservation)
	mux.HandleFunc("POST /api/v1/pools/{pool}/tick", h.HandleTick)
	mux.HandleFunc("POST /api/v1/pools/{pool}/reset", h.HandleReset)
	mux.HandleFunc("POST /api/v1/pools/{pool}/reset-config", h.HandleResetConfig)
	mux.HandleFunc("PUT /api/v1/policy", h.HandleSetPolicyAll)
}

// =============================================================================
// 📦 响应结构
// =============================================================================

// ConfigView 池配置，时长以毫秒表示
type ConfigView struct {
	Min                 int   `json:"min"`
	Max                 int   `json:"max"`
	IdleTimeoutMs       int64 `json:"idle_timeout_ms"`
	ConnectionTimeoutMs int64 `json:"connection_timeout_ms"`
	AcquireTimeoutMs    int64 `json:"acquire_timeout_ms"`
}

// NewConfigView 转换 governor.PoolConfig
func NewConfigView(cfg governor.PoolConfig) ConfigView {
	return ConfigView{
		Min:                 cfg.Min,
		Max:                 cfg.Max,
		IdleTimeoutMs:       cfg.IdleTimeout.Milliseconds(),
		ConnectionTimeoutMs: cfg.ConnectionTimeout.Milliseconds(),
		AcquireTimeoutMs:    cfg.AcquireTimeout.Milliseconds(),
	}
}

// OptimizedConfigView 推荐配置及关键比率
type OptimizedConfigView struct {
	ConfigView
	UtilizationRate float64 `json:"utilization_rate"`
	PoolEfficiency  float64 `json:"pool_efficiency"`
}

// PoolSummary 列表项
type PoolSummary struct {
	Name    string          `json:"name"`
	Running bool            `json:"running"`
	Config  ConfigView      `json:"config"`
	Gauges  governor.Gauges `json:"gauges"`
}

// PoolDetail 单个连接池的完整视图
type PoolDetail struct {
	PoolSummary
	Statistics      governor.DerivedStatistics `json:"statistics"`
	Recommendations []string                   `json:"recommendations"`
}

// TickView 一次 Tick 的结果
type TickView struct {
	Pool        string                     `json:"pool"`
	At          time.Time                  `json:"at"`
	Changed     bool                       `json:"changed"`
	Gauges      governor.Gauges            `json:"gauges"`
	Statistics  governor.DerivedStatistics `json:"statistics"`
	Previous    ConfigView                 `json:"previous"`
	Config      ConfigView                 `json:"config"`
	Adjustments []governor.Adjustment      `json:"adjustments"`
	DurationMs  float64                    `json:"duration_ms"`
}

// NewTickView 转换 governor.TickReport
func NewTickView(r governor.TickReport) TickView {
	adjustments := r.Adjustments
	if adjustments == nil {
		adjustments = []governor.Adjustment{}
	}
	return TickView{
		Pool:        r.Pool,
		At:          r.At,
		Changed:     r.Changed(),
		Gauges:      r.Gauges,
		Statistics:  r.Statistics,
		Previous:    NewConfigView(r.Previous),
		Config:      NewConfigView(r.Config),
		Adjustments: adjustments,
		DurationMs:  float64(r.Duration) / float64(time.Millisecond),
	}
}

// HistoryView 历史样本
type HistoryView struct {
	Samples     []governor.Sample     `json:"samples"`
	WaitSamples []governor.WaitSample `json:"wait_samples"`
}

// PolicyView 策略参数，边界时长以毫秒表示
// 作为 PUT 请求体时只需携带要修改的字段。
type PolicyView struct {
	GrowFactor              float64 `json:"grow_factor"`
	ShrinkFactor            float64 `json:"shrink_factor"`
	IdleToActiveRatio       float64 `json:"idle_to_active_ratio"`
	IdleCountThreshold      int64   `json:"idle_count_threshold"`
	AvgWaitingThreshold     float64 `json:"avg_waiting_threshold"`
	AcquireGrowFactor       float64 `json:"acquire_grow_factor"`
	IdleOfMaxRatio          float64 `json:"idle_of_max_ratio"`
	IdleTimeoutShrinkFactor float64 `json:"idle_timeout_shrink_factor"`
	MaxCeiling              int     `json:"max_ceiling"`
	IdleTimeoutFloorMs      int64   `json:"idle_timeout_floor_ms"`
	AcquireTimeoutCeilingMs int64   `json:"acquire_timeout_ceiling_ms"`
}

// NewPolicyView 转换 governor.PolicyConfig
func NewPolicyView(p governor.PolicyConfig) PolicyView {
	return PolicyView{
		GrowFactor:              p.GrowFactor,
		ShrinkFactor:            p.ShrinkFactor,
		IdleToActiveRatio:       p.IdleToActiveRatio,
		IdleCountThreshold:      p.IdleCountThreshold,
		AvgWaitingThreshold:     p.AvgWaitingThreshold,
		AcquireGrowFactor:       p.AcquireGrowFactor,
		IdleOfMaxRatio:          p.IdleOfMaxRatio,
		IdleTimeoutShrinkFactor: p.IdleTimeoutShrinkFactor,
		MaxCeiling:              p.Limits.MaxCeiling,
		IdleTimeoutFloorMs:      p.Limits.IdleTimeoutFloor.Milliseconds(),
		AcquireTimeoutCeilingMs: p.Limits.AcquireTimeoutCeiling.Milliseconds(),
	}
}

// Policy 转换回 governor.PolicyConfig
func (v PolicyView) Policy() governor.PolicyConfig {
	return governor.PolicyConfig{
		GrowFactor:              v.GrowFactor,
		ShrinkFactor:            v.ShrinkFactor,
		IdleToActiveRatio:       v.IdleToActiveRatio,
		IdleCountThreshold:      v.IdleCountThreshold,
		AvgWaitingThreshold:     v.AvgWaitingThreshold,
		AcquireGrowFactor:       v.AcquireGrowFactor,
		IdleOfMaxRatio:          v.IdleOfMaxRatio,
		IdleTimeoutShrinkFactor: v.IdleTimeoutShrinkFactor,
		Limits: governor.Limits{
			MaxCeiling:            v.MaxCeiling,
			IdleTimeoutFloor:      time.Duration(v.IdleTimeoutFloorMs) * time.Millisecond,
			AcquireTimeoutCeiling: time.Duration(v.AcquireTimeoutCeilingMs) * time.Millisecond,
		},
	}
}

// =============================================================================
// 🔍 查询
// =============================================================================

// HandleList 处理 GET /api/v1/pools
func (h *PoolHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	governors := h.registry.All()
	out := make([]PoolSummary, 0, len(governors))
	for _, g := range governors {
		out = append(out, summarize(g))
	}
	WriteSuccessFor(w, r, out)
}

// HandleGet 处理 GET /api/v1/pools/{pool}
func (h *PoolHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	g, ok := h.lookup(w, r)
	if !ok {
		return
	}
	recs := g.GetRecommendations()
	if recs == nil {
		recs = []string{}
	}
	WriteSuccessFor(w, r, PoolDetail{
		PoolSummary:     summarize(g),
		Statistics:      g.GetStatistics(),
		Recommendations: recs,
	})
}

// HandleStatistics 处理 GET /api/v1/pools/{pool}/statistics
func (h *PoolHandler) HandleStatistics(w http.ResponseWriter, r *http.Request) {
	g, ok := h.lookup(w, r)
	if !ok {
		return
	}
	WriteSuccessFor(w, r, g.GetStatistics())
}

// HandleConfig 处理 GET /api/v1/pools/{pool}/config
func (h *PoolHandler) HandleConfig(w http.ResponseWriter, r *http.Request) {
	g, ok := h.lookup(w, r)
	if !ok {
		return
	}
	WriteSuccessFor(w, r, optimizedView(g.GetOptimizedConfig()))
}

// HandleRecommendations 处理 GET /api/v1/pools/{pool}/recommendations
func (h *PoolHandler) HandleRecommendations(w http.ResponseWriter, r *http.Request) {
	g, ok := h.lookup(w, r)
	if !ok {
		return
	}
	recs := g.GetRecommendations()
	if recs == nil {
		recs = []string{}
	}
	WriteSuccessFor(w, r, recs)
}

// HandleHistory 处理 GET /api/v1/pools/{pool}/history?limit=N
// limit 缺省时返回全部历史，否则返回最近 N 个样本。
func (h *PoolHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	g, ok := h.lookup(w, r)
	if !ok {
		return
	}
	limit, ok := h.parseLimit(w, r, 0, 0)
	if !ok {
		return
	}
	samples, waits := g.History()
	WriteSuccessFor(w, r, HistoryView{
		Samples:     tail(samples, limit),
		WaitSamples: tail(waits, limit),
	})
}

// HandleAdjustments 处理 GET /api/v1/pools/{pool}/adjustments?limit=N
func (h *PoolHandler) HandleAdjustments(w http.ResponseWriter, r *http.Request) {
	g, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if h.audit == nil {
		WriteError(w, types.NewError(types.ErrServiceUnavailable, "adjustment audit is disabled").
			WithPool(g.Name()), h.logger)
		return
	}
	limit, ok := h.parseLimit(w, r, defaultAdjustmentLimit, maxAdjustmentLimit)
	if !ok {
		return
	}

	records, err := h.audit.List(r.Context(), g.Name(), limit)
	if err != nil {
		WriteError(w, types.NewInternalError("failed to list adjustments").
			WithCause(err).
			WithPool(g.Name()).
			WithRetryable(true), h.logger)
		return
	}
	if records == nil {
		records = []database.AdjustmentRecord{}
	}
	WriteSuccessFor(w, r, records)
}

// HandleGetPolicy 处理 GET /api/v1/pools/{pool}/policy
func (h *PoolHandler) HandleGetPolicy(w http.ResponseWriter, r *http.Request) {
	g, ok := h.lookup(w, r)
	if !ok {
		return
	}
	WriteSuccessFor(w, r, NewPolicyView(g.Policy()))
}

// =============================================================================
// ✍️ 上报与管理
// =============================================================================

// HandleObservation 处理 POST /api/v1/pools/{pool}/observations
// 请求体为部分更新，缺省字段保持不变；负值与空请求体返回 400。
func (h *PoolHandler) HandleObservation(w http.ResponseWriter, r *http.Request) {
	g, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var obs governor.PoolObservation
	if err := DecodeJSONBody(w, r, &obs, h.logger); err != nil {
		return
	}
	if err := validateObservation(obs); err != nil {
		WriteError(w, err.WithPool(g.Name()), h.logger)
		return
	}

	g.UpdateStats(obs)
	WriteSuccessFor(w, r, g.Gauges())
}

// HandleTick 处理 POST /api/v1/pools/{pool}/tick
func (h *PoolHandler) HandleTick(w http.ResponseWriter, r *http.Request) {
	g, ok := h.lookup(w, r)
	if !ok {
		return
	}
	report := g.Tick()
	h.logger.Info("manual tick",
		zap.String("pool", g.Name()),
		zap.Bool("changed", report.Changed()),
		zap.Int("adjustments", len(report.Adjustments)),
	)
	WriteSuccessFor(w, r, NewTickView(report))
}

// HandleReset 处理 POST /api/v1/pools/{pool}/reset
func (h *PoolHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	g, ok := h.lookup(w, r)
	if !ok {
		return
	}
	g.Reset()
	WriteSuccessFor(w, r, summarize(g))
}

// HandleResetConfig 处理 POST /api/v1/pools/{pool}/reset-config
func (h *PoolHandler) HandleResetConfig(w http.ResponseWriter, r *http.Request) {
	g, ok := h.lookup(w, r)
	if !ok {
		return
	}
	g.ResetConfig()
	WriteSuccessFor(w, r, NewConfigView(g.Config()))
}

// HandleSetPolicy 处理 PUT /api/v1/pools/{pool}/policy
func (h *PoolHandler) HandleSetPolicy(w http.ResponseWriter, r *http.Request) {
	g, ok := h.lookup(w, r)
	if !ok {
		return
	}
	policy, ok := h.decodePolicy(w, r, g.Policy())
	if !ok {
		return
	}
	if err := g.SetPolicy(policy); err != nil {
		WriteError(w, types.NewError(types.ErrInvalidPolicy, err.Error()).
			WithCause(err).
			WithPool(g.Name()), h.logger)
		return
	}
	WriteSuccessFor(w, r, NewPolicyView(g.Policy()))
}

// HandleSetPolicyAll 处理 PUT /api/v1/policy，为所有连接池替换策略
// 以第一个连接池的当前策略为底，请求体覆盖其上。
func (h *PoolHandler) HandleSetPolicyAll(w http.ResponseWriter, r *http.Request) {
	governors := h.registry.All()
	if len(governors) == 0 {
		WriteError(w, types.NewNotFoundError("no pools registered"), h.logger)
		return
	}
	policy, ok := h.decodePolicy(w, r, governors[0].Policy())
	if !ok {
		return
	}
	if err := policy.Validate(); err != nil {
		WriteError(w, types.NewError(types.ErrInvalidPolicy, err.Error()).WithCause(err), h.logger)
		return
	}
	if err := h.registry.SetPolicy(policy); err != nil {
		WriteError(w, types.NewInternalError("failed to apply policy").WithCause(err), h.logger)
		return
	}
	WriteSuccessFor(w, r, NewPolicyView(policy))
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

func (h *PoolHandler) lookup(w http.ResponseWriter, r *http.Request) (*governor.Governor, bool) {
	name := r.PathValue("pool")
	g, err := h.registry.Get(name)
	if err != nil {
		if errors.Is(err, governor.ErrGovernorNotFound) {
			WriteError(w, types.NewPoolNotFoundError(name), h.logger)
		} else {
			WriteError(w, types.NewInternalError("pool lookup failed").WithCause(err), h.logger)
		}
		return nil, false
	}
	return g, true
}

func (h *PoolHandler) decodePolicy(w http.ResponseWriter, r *http.Request, base governor.PolicyConfig) (governor.PolicyConfig, bool) {
	if !ValidateContentType(w, r, h.logger) {
		return governor.PolicyConfig{}, false
	}
	view := NewPolicyView(base)
	if err := DecodeJSONBody(w, r, &view, h.logger); err != nil {
		return governor.PolicyConfig{}, false
	}
	return view.Policy(), true
}

// parseLimit 解析 limit 参数；def 为缺省值，ceiling > 0 时作为上限
func (h *PoolHandler) parseLimit(w http.ResponseWriter, r *http.Request, def, ceiling int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		WriteError(w, types.NewInvalidRequestError("limit must be a positive integer"), h.logger)
		return 0, false
	}
	if ceiling > 0 && n > ceiling {
		n = ceiling
	}
	return n, true
}

func validateObservation(obs governor.PoolObservation) *types.Error {
	if obs.IsEmpty() {
		return types.NewInvalidRequestError("observation must report at least one field")
	}
	fields := []struct {
		name string
		v    *int64
	}{
		{"active", obs.Active},
		{"idle", obs.Idle},
		{"waiting", obs.Waiting},
		{"created", obs.Created},
		{"destroyed", obs.Destroyed},
	}
	for _, f := range fields {
		if f.v != nil && *f.v < 0 {
			return types.NewInvalidRequestError(f.name + " must be non-negative")
		}
	}
	return nil
}

func summarize(g *governor.Governor) PoolSummary {
	return PoolSummary{
		Name:    g.Name(),
		Running: g.Running(),
		Config:  NewConfigView(g.Config()),
		Gauges:  g.Gauges(),
	}
}

func optimizedView(c governor.OptimizedConfig) OptimizedConfigView {
	return OptimizedConfigView{
		ConfigView:      NewConfigView(c.PoolConfig),
		UtilizationRate: c.UtilizationRate,
		PoolEfficiency:  c.PoolEfficiency,
	}
}

// tail 返回最后 n 个元素，n <= 0 表示全部
func tail[T any](items []T, n int) []T {
	if items == nil {
		return []T{}
	}
	if n <= 0 || n >= len(items) {
		return items
	}
	return items[len(items)-n:]
}
