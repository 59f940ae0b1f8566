package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/BaSui01/poolgovernor/api/handlers"
	"github.com/BaSui01/poolgovernor/config"
	"github.com/BaSui01/poolgovernor/governor"
	"github.com/BaSui01/poolgovernor/internal/cache"
	"github.com/BaSui01/poolgovernor/internal/database"
	"github.com/BaSui01/poolgovernor/internal/metrics"
	"github.com/BaSui01/poolgovernor/internal/mongomon"
	"github.com/BaSui01/poolgovernor/internal/sampling"
	"github.com/BaSui01/poolgovernor/internal/server"
	"github.com/BaSui01/poolgovernor/internal/telemetry"
	"github.com/BaSui01/poolgovernor/internal/tlsutil"
	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// skipAuthPaths 不需要认证的路径
var skipAuthPaths = []string{"/health", "/healthz", "/ready", "/readyz", "/version", "/metrics"}

// Server 组装调控器、协作方连接池与 HTTP 服务
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	telemetry  *telemetry.Providers

	// Prometheus 指标命名空间
	namespace string
	registry  *governor.Registry
	promReg   *prometheus.Registry
	collector *metrics.Collector

	// 协作方
	db        *gorm.DB
	dbPool    *database.PoolManager
	audit     *database.AuditStore
	cache     *cache.Manager
	snapshots *cache.SnapshotStore
	mongo     *mongo.Client
	mongoMon  *mongomon.Monitor

	samplers []*sampling.Loop
	reloader *config.Reloader
	health   *handlers.HealthHandler

	httpManager    *server.Manager
	metricsManager *server.Manager
}

// NewServer 创建服务器，providers 可为 nil
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger, providers *telemetry.Providers) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		telemetry:  providers,
		namespace:  "poolgovernor",
		registry:   governor.NewRegistry(),
		promReg:    metrics.NewRegistry(),
	}
}

// =============================================================================
// 🚀 初始化
// =============================================================================

// Init 连接协作方、创建调控器并构建 HTTP 服务
// 出错时调用方负责 Close 已打开的资源。
func (s *Server) Init(ctx context.Context) error {
	s.collector = metrics.NewCollector(s.promReg, s.namespace, s.logger)

	if err := s.connect(ctx); err != nil {
		return err
	}
	if err := s.buildGovernors(ctx); err != nil {
		return fmt.Errorf("failed to build governors: %w", err)
	}
	s.initHealth()
	if err := s.initReloader(); err != nil {
		return fmt.Errorf("failed to init config reloader: %w", err)
	}
	if err := s.initHTTP(ctx); err != nil {
		return fmt.Errorf("failed to init HTTP server: %w", err)
	}

	s.logger.Info("Server initialized",
		zap.Strings("pools", s.registry.Names()),
		zap.Int("samplers", len(s.samplers)),
		zap.Bool("audit", s.audit != nil),
		zap.Bool("snapshots", s.snapshots != nil),
		zap.Bool("hot_reload", s.reloader != nil),
	)
	return nil
}

// connect 打开配置中启用的数据库、Redis 与 MongoDB 连接
func (s *Server) connect(ctx context.Context) error {
	if s.cfg.Database.Enabled {
		db, err := openDatabase(s.cfg.Database, s.logger)
		if err != nil {
			return err
		}
		s.db = db

		if s.cfg.Database.AuditEnabled {
			if err := db.WithContext(ctx).AutoMigrate(&database.AdjustmentRecord{}); err != nil {
				return fmt.Errorf("failed to migrate audit table: %w", err)
			}
			s.audit = database.NewAuditStore(db, 256, s.logger)
		}
	}

	if s.cfg.Redis.Enabled {
		rc := s.cfg.Redis
		manager, err := cache.NewManager(ctx, cache.Config{
			Addr:         rc.Addr,
			Password:     rc.Password,
			DB:           rc.DB,
			PoolSize:     rc.PoolSize,
			MinIdleConns: rc.MinIdleConns,
			MaxRetries:   3,
			TLS:          rc.TLS,
		}, s.logger)
		if err != nil {
			return fmt.Errorf("failed to connect redis: %w", err)
		}
		s.cache = manager
		s.snapshots = cache.NewSnapshotStore(manager, rc.SnapshotPrefix, rc.SnapshotTTL,
			cache.WithSnapshotRecorder(s.collector),
			cache.WithSnapshotLogger(s.logger),
		)
	}

	if s.cfg.Mongo.Enabled {
		mc := s.cfg.Mongo
		s.mongoMon = mongomon.NewMonitor(s.logger)
		client, err := mongomon.Connect(ctx, mongomon.ClientConfig{
			URI:            mc.URI,
			MaxPoolSize:    mc.MaxPoolSize,
			MinPoolSize:    mc.MinPoolSize,
			ConnectTimeout: mc.ConnectTimeout,
		}, s.mongoMon)
		if err != nil {
			return err
		}
		s.mongo = client
	}
	return nil
}

// buildGovernors 为每个连接池创建调控器、挂载观察者并准备采样循环
func (s *Server) buildGovernors(ctx context.Context) error {
	tracer, err := telemetry.NewTickTracer()
	if err != nil {
		return err
	}

	for _, pool := range s.cfg.Governor.ResolvedPools() {
		opts := s.cfg.Governor.Options(pool, s.logger)
		if restored, ok := s.restoreSnapshot(ctx, pool.Name); ok {
			opts = append(opts, governor.WithInitialConfig(restored))
		}
		opts = append(opts,
			governor.WithObserver(s.collector),
			governor.WithObserver(tracer),
		)
		if s.audit != nil {
			opts = append(opts, governor.WithObserver(s.audit))
		}
		if s.snapshots != nil {
			opts = append(opts, governor.WithObserver(s.snapshots))
		}

		g, err := governor.New(pool.Name, opts...)
		if err != nil {
			return fmt.Errorf("pool %s: %w", pool.Name, err)
		}
		if err := s.attachSource(g, pool); err != nil {
			return fmt.Errorf("pool %s: %w", pool.Name, err)
		}
		if err := s.registry.Register(g); err != nil {
			return err
		}
		s.collector.RecordConfig(g.Name(), g.Config())
	}
	return nil
}

// restoreSnapshot 读取上次保存的配置，未启用或未命中时返回 false
func (s *Server) restoreSnapshot(ctx context.Context, pool string) (governor.PoolConfig, bool) {
	if !s.cfg.Governor.RestoreSnapshots || s.snapshots == nil {
		return governor.PoolConfig{}, false
	}
	snap, err := s.snapshots.Load(ctx, pool)
	if err != nil {
		if !cache.IsCacheMiss(err) {
			s.logger.Warn("failed to load config snapshot", zap.String("pool", pool), zap.Error(err))
		}
		return governor.PoolConfig{}, false
	}
	s.logger.Info("restored config snapshot",
		zap.String("pool", pool),
		zap.Time("saved_at", snap.SavedAt),
		zap.Int("max", snap.Config.Max),
	)
	return snap.Config, true
}

// attachSource 按数据来源挂载采样循环；database 来源同时把推荐配置应用回 sql.DB
func (s *Server) attachSource(g *governor.Governor, pool config.PoolSettings) error {
	var (
		source   sampling.Source
		interval time.Duration
	)
	switch pool.Source {
	case config.SourcePush:
		return nil
	case config.SourceDatabase:
		if s.db == nil {
			return errors.New("source database requires database.enabled")
		}
		pm, err := database.NewPoolManager(s.db, pool.Name, g.Config(), s.logger)
		if err != nil {
			return err
		}
		g.AddObserver(pm)
		s.dbPool = pm
		source, interval = pm, s.cfg.Database.SampleInterval
	case config.SourceRedis:
		if s.cache == nil {
			return errors.New("source redis requires redis.enabled")
		}
		source, interval = cache.NewPoolSampler(s.cache.Client()), s.cfg.Redis.SampleInterval
	case config.SourceMongo:
		if s.mongoMon == nil {
			return errors.New("source mongo requires mongo.enabled")
		}
		source, interval = s.mongoMon, s.cfg.Mongo.SampleInterval
	case config.SourceHTTP:
		// httpManager 在 initHTTP 中创建，采样循环只在 Run 之后读取
		source = server.NewConnSampler(server.ConnStatsFunc(func() server.ConnStats {
			return s.httpManager.ConnStats()
		}))
	default:
		return fmt.Errorf("unknown source %q", pool.Source)
	}

	if interval <= 0 {
		interval = g.Interval()
	}
	name, src := pool.Name, pool.Source
	loop, err := sampling.NewLoop(name, source, g, interval,
		sampling.WithLogger(s.logger),
		sampling.WithErrorHandler(func(error) {
			s.collector.RecordSamplerError(name, src)
		}),
	)
	if err != nil {
		return err
	}
	s.samplers = append(s.samplers, loop)
	return nil
}

// initHealth 注册就绪检查
// 协作方只在有连接池从它采样时才是关键检查；仅用于审计或快照时失败只降级。
func (s *Server) initHealth() {
	s.health = handlers.NewHealthHandler(s.logger)
	s.health.RegisterCheck(handlers.NewGovernorHealthCheck(s.registry))

	if s.db != nil {
		db := s.db
		s.registerCheck(config.SourceDatabase, handlers.NewPingHealthCheck("database", func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}))
	}
	if s.cache != nil {
		s.registerCheck(config.SourceRedis, handlers.NewPingHealthCheck("redis", s.cache.Ping))
	}
	if s.mongo != nil {
		client := s.mongo
		s.registerCheck(config.SourceMongo, handlers.NewPingHealthCheck("mongo", func(ctx context.Context) error {
			return client.Ping(ctx, readpref.Primary())
		}))
	}
}

func (s *Server) registerCheck(source string, check handlers.HealthCheck) {
	for _, pool := range s.cfg.Governor.ResolvedPools() {
		if pool.Source == source {
			s.health.RegisterCheck(check)
			return
		}
	}
	s.health.RegisterOptionalCheck(check)
}

// initReloader 配置文件变更时热替换所有调控器的策略
func (s *Server) initReloader() error {
	if s.configPath == "" {
		return nil
	}
	reloader, err := config.NewReloader(s.configPath, s.cfg, s.logger)
	if err != nil {
		return err
	}
	reloader.OnReload(func(cfg *config.Config) error {
		if err := s.registry.SetPolicy(cfg.Governor.Policy.ToPolicy()); err != nil {
			return err
		}
		s.logger.Info("governor policy reloaded", zap.Strings("pools", s.registry.Names()))
		return nil
	})
	s.reloader = reloader
	return nil
}

// =============================================================================
// 🌐 HTTP
// =============================================================================

// routes 注册全部路由
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.health.HandleHealth)
	mux.HandleFunc("GET /healthz", s.health.HandleHealthz)
	mux.HandleFunc("GET /ready", s.health.HandleReady)
	mux.HandleFunc("GET /readyz", s.health.HandleReady)
	mux.HandleFunc("GET /version", s.health.HandleVersion(Version, BuildTime, GitCommit))

	var audit handlers.AdjustmentLister
	if s.audit != nil {
		audit = s.audit
	}
	handlers.NewPoolHandler(s.registry, audit, s.logger).Register(mux)

	watchCfg := handlers.DefaultWatchConfig()
	watchCfg.OriginPatterns = s.cfg.Server.CORSAllowedOrigins
	handlers.NewWatchHandler(s.registry, watchCfg, s.logger).Register(mux)

	return mux
}

// handler 构建中间件链，ctx 控制限流器清理协程的生命周期
func (s *Server) handler(ctx context.Context) http.Handler {
	sc := s.cfg.Server
	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		CORS(sc.CORSAllowedOrigins),
	}
	if sc.RateLimitRPS > 0 {
		middlewares = append(middlewares, RateLimiter(ctx, sc.RateLimitRPS, sc.RateLimitBurst, s.logger))
	}
	if len(sc.APIKeys) > 0 {
		middlewares = append(middlewares, APIKeyAuth(sc.APIKeys, skipAuthPaths, sc.AllowQueryAPIKey, s.logger))
	}
	if sc.JWT.Enabled() {
		middlewares = append(middlewares, JWTAuth(sc.JWT, skipAuthPaths, s.logger))
	}
	return Chain(s.routes(), middlewares...)
}

func (s *Server) initHTTP(ctx context.Context) error {
	sc := s.cfg.Server
	httpConfig := server.Config{
		Name:            "api",
		Addr:            fmt.Sprintf(":%d", sc.HTTPPort),
		ReadTimeout:     sc.ReadTimeout,
		WriteTimeout:    sc.WriteTimeout,
		IdleTimeout:     2 * sc.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: sc.ShutdownTimeout,
	}
	if sc.TLSEnabled() {
		tlsConfig, err := tlsutil.ServerTLSConfig(sc.TLSCertFile, sc.TLSKeyFile)
		if err != nil {
			return err
		}
		httpConfig.TLSConfig = tlsConfig
	}
	s.httpManager = server.NewManager(s.handler(ctx), httpConfig, s.logger)

	if sc.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(s.promReg, s.logger))
		s.metricsManager = server.NewManager(mux, server.Config{
			Name:            "metrics",
			Addr:            fmt.Sprintf(":%d", sc.MetricsPort),
			ReadTimeout:     sc.ReadTimeout,
			WriteTimeout:    sc.WriteTimeout,
			ShutdownTimeout: sc.ShutdownTimeout,
		}, s.logger)
	}
	return nil
}

// =============================================================================
// 🏃 运行与关闭
// =============================================================================

// Run 并发运行调控器、采样循环、写出器与 HTTP 服务，阻塞到 ctx 取消
// 任一组件异常退出都会取消其余组件。
func (s *Server) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error { return s.registry.Run(ctx) })
	for _, loop := range s.samplers {
		eg.Go(func() error { return loop.Run(ctx) })
	}
	if s.audit != nil {
		eg.Go(func() error { return s.audit.Run(ctx) })
	}
	if s.snapshots != nil {
		eg.Go(func() error { return s.snapshots.Run(ctx) })
	}
	if s.reloader != nil {
		if err := s.reloader.Start(ctx); err != nil {
			return fmt.Errorf("failed to start config reloader: %w", err)
		}
		eg.Go(func() error {
			<-ctx.Done()
			return s.reloader.Stop()
		})
	}

	eg.Go(func() error { return s.httpManager.Run(ctx) })
	if s.metricsManager != nil {
		eg.Go(func() error { return s.metricsManager.Run(ctx) })
	}

	s.logger.Info("All components started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("tls", s.cfg.Server.TLSEnabled()),
		zap.Bool("telemetry", s.telemetry.Enabled()),
	)

	return eg.Wait()
}

// Close 释放连接与遥测 provider，可在 Init 失败后调用
func (s *Server) Close() {
	s.logger.Info("Starting graceful shutdown...")
	s.registry.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if s.dbPool != nil {
		if err := s.dbPool.Close(); err != nil {
			s.logger.Error("database pool close error", zap.Error(err))
		}
	} else if s.db != nil {
		if sqlDB, err := s.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Error("redis close error", zap.Error(err))
		}
	}
	if s.mongo != nil {
		if err := s.mongo.Disconnect(ctx); err != nil {
			s.logger.Error("mongo disconnect error", zap.Error(err))
		}
	}
	if s.telemetry != nil {
		if err := s.telemetry.Shutdown(ctx); err != nil {
			s.logger.Error("telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
