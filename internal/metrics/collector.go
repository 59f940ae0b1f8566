// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/BaSui01/poolgovernor/governor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标注册表
// =============================================================================

// NewRegistry 返回带 Go 运行时与进程指标的独立注册表
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler 以 OpenMetrics 或文本格式导出 reg，抓取错误写入 logger
func Handler(reg *prometheus.Registry, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		Registry:          reg,
		ErrorLog:          zap.NewStdLog(logger.With(zap.String("component", "metrics_handler"))),
		EnableOpenMetrics: true,
	})
}

// =============================================================================
// 📈 指标收集器
// =============================================================================

// Collector 调控器、采样、快照与 HTTP 指标
// 连接池维度的指标都带 pool 标签。
type Collector struct {
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpReqSize  *prometheus.HistogramVec
	httpRespSize *prometheus.HistogramVec

	connections  *prometheus.GaugeVec
	lifecycle    *prometheus.GaugeVec
	utilization  *prometheus.GaugeVec
	efficiency   *prometheus.GaugeVec
	windowAvg    *prometheus.GaugeVec
	configValue  *prometheus.GaugeVec
	adjustments  *prometheus.CounterVec
	ticks        *prometheus.CounterVec
	tickDuration *prometheus.HistogramVec

	samplerErrors *prometheus.CounterVec
	snapshotOps   *prometheus.CounterVec
}

// NewCollector 在 reg 上注册全部指标，reg 为 nil 时使用 prometheus.DefaultRegisterer
// 同一注册表上重复注册同名指标会 panic。
func NewCollector(reg prometheus.Registerer, namespace string, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	f := promauto.With(reg)
	sizeBuckets := prometheus.ExponentialBuckets(100, 10, 8)

	c := &Collector{
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		httpReqSize: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_size_bytes",
			Help:    "HTTP request body size in bytes",
			Buckets: sizeBuckets,
		}, []string{"method", "path"}),
		httpRespSize: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "response_size_bytes",
			Help:    "HTTP response body size in bytes",
			Buckets: sizeBuckets,
		}, []string{"method", "path"}),

		connections: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "pool", Name: "connections",
			Help: "Current connection gauges by state (active, idle, waiting)",
		}, []string{"pool", "state"}),
		lifecycle: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "pool", Name: "connection_events",
			Help: "Cumulative created and destroyed counts since the last reset",
		}, []string{"pool", "event"}),
		utilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "pool", Name: "utilization_ratio",
			Help: "Window average of active connections divided by max",
		}, []string{"pool"}),
		efficiency: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "pool", Name: "efficiency_ratio",
			Help: "Window average of active over active plus idle",
		}, []string{"pool"}),
		windowAvg: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "pool", Name: "window_average_connections",
			Help: "Window averages of connection gauges by state",
		}, []string{"pool", "state"}),
		configValue: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "pool", Name: "config",
			Help: "Current governed pool configuration (counts, or seconds for timeouts)",
		}, []string{"pool", "field"}),
		adjustments: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pool", Name: "adjustments_total",
			Help: "Total number of policy rule firings",
		}, []string{"pool", "rule"}),

		ticks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "governor", Name: "ticks_total",
			Help: "Total number of governor ticks",
		}, []string{"pool", "changed"}),
		tickDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "governor", Name: "tick_duration_seconds",
			Help:    "Governor tick duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"pool"}),

		samplerErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sampler", Name: "errors_total",
			Help: "Total number of failed pool samples",
		}, []string{"pool", "source"}),
		snapshotOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "snapshot", Name: "operations_total",
			Help: "Total number of config snapshot store operations",
		}, []string{"operation", "status"}),
	}

	logger.Debug("metrics collector registered", zap.String("namespace", namespace))
	return c
}

// RecordHTTPRequest 记录一次 HTTP 请求，状态码按类别聚合
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequests.WithLabelValues(method, path, statusClass(status)).Inc()
	c.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpReqSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpRespSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// ObserveTick 实现 governor.Observer，每次 Tick 刷新一个连接池的全部指标
func (c *Collector) ObserveTick(r governor.TickReport) {
	pool := r.Pool
	g, st := r.Gauges, r.Statistics

	for state, v := range map[string]int64{"active": g.Active, "idle": g.Idle, "waiting": g.Waiting} {
		c.connections.WithLabelValues(pool, state).Set(float64(v))
	}
	c.lifecycle.WithLabelValues(pool, "created").Set(float64(g.Created))
	c.lifecycle.WithLabelValues(pool, "destroyed").Set(float64(g.Destroyed))

	c.utilization.WithLabelValues(pool).Set(st.UtilizationRate)
	c.efficiency.WithLabelValues(pool).Set(st.PoolEfficiency)
	for state, v := range map[string]float64{"active": st.AvgActive, "idle": st.AvgIdle, "waiting": st.AvgWaiting} {
		c.windowAvg.WithLabelValues(pool, state).Set(v)
	}

	c.RecordConfig(pool, r.Config)
	for _, adj := range r.Adjustments {
		c.adjustments.WithLabelValues(pool, adj.Rule).Inc()
	}
	c.ticks.WithLabelValues(pool, strconv.FormatBool(r.Changed())).Inc()
	c.tickDuration.WithLabelValues(pool).Observe(r.Duration.Seconds())
}

// RecordConfig 记录连接池当前配置，超时以秒为单位
func (c *Collector) RecordConfig(pool string, cfg governor.PoolConfig) {
	set := func(field string, v float64) { c.configValue.WithLabelValues(pool, field).Set(v) }
	set("min", float64(cfg.Min))
	set("max", float64(cfg.Max))
	set("idle_timeout_seconds", cfg.IdleTimeout.Seconds())
	set("connection_timeout_seconds", cfg.ConnectionTimeout.Seconds())
	set("acquire_timeout_seconds", cfg.AcquireTimeout.Seconds())
}

// RecordSamplerError 记录一次采样失败
func (c *Collector) RecordSamplerError(pool, source string) {
	c.samplerErrors.WithLabelValues(pool, source).Inc()
}

// RecordSnapshot 实现 cache.SnapshotRecorder
func (c *Collector) RecordSnapshot(operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.snapshotOps.WithLabelValues(operation, status).Inc()
}

// statusClass 把状态码归为 2xx/3xx/4xx/5xx
func statusClass(code int) string {
	if code < 200 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}
