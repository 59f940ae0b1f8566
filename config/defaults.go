package config

import (
	"time"

	"github.com/BaSui01/poolgovernor/governor"
)

// DefaultConfig 返回默认配置，每次调用返回独立副本
// 默认只启用 push 数据来源的单个 default 池，数据库、Redis、MongoDB 与遥测均关闭。
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			MetricsPort:     9091,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RateLimitRPS:    100,
			RateLimitBurst:  200,
		},
		Governor: DefaultGovernorConfig(),
		Database: DatabaseConfig{
			Driver:          DriverPostgres,
			Host:            "localhost",
			Port:            5432,
			User:            "poolgovernor",
			Name:            "poolgovernor",
			SSLMode:         "disable",
			ConnMaxLifetime: 5 * time.Minute,
			SampleInterval:  time.Second,
		},
		Redis: RedisConfig{
			Addr:           "localhost:6379",
			PoolSize:       10,
			MinIdleConns:   2,
			SnapshotPrefix: "poolgovernor:snapshot:",
			SnapshotTTL:    24 * time.Hour,
			SampleInterval: time.Second,
		},
		Mongo: MongoConfig{
			URI:            "mongodb://localhost:27017",
			MaxPoolSize:    50,
			MinPoolSize:    5,
			ConnectTimeout: 10 * time.Second,
			SampleInterval: time.Second,
		},
		Log: LogConfig{
			Level:        "info",
			Format:       "json",
			OutputPaths:  []string{"stdout"},
			EnableCaller: true,
		},
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultGovernorConfig 调控器默认值，与 governor 包的默认策略保持一致
func DefaultGovernorConfig() GovernorConfig {
	pool := governor.DefaultPoolConfig()
	policy := governor.DefaultPolicyConfig()
	thresholds := governor.DefaultReporterThresholds()

	return GovernorConfig{
		Interval:        governor.DefaultInterval,
		WindowSize:      governor.DefaultWindowSize,
		HistoryCapacity: governor.DefaultHistoryCapacity,
		Defaults:        poolSettingsFrom(pool),
		Policy:          policySettingsFrom(policy),
		Reporter: ReporterSettings{
			LowUtilization:  thresholds.LowUtilization,
			HighUtilization: thresholds.HighUtilization,
			LowEfficiency:   thresholds.LowEfficiency,
			HighAvgWaiting:  thresholds.HighAvgWaiting,
		},
		Pools: []PoolSettings{{Name: "default"}},
	}
}

// DefaultTelemetryConfig 遥测默认值：本机 collector，明文 gRPC，10% 采样
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		OTLPEndpoint:   "localhost:4317",
		ServiceName:    "poolgovernor",
		SampleRate:     0.1,
		Insecure:       true,
		ExportInterval: 30 * time.Second,
	}
}

func poolSettingsFrom(c governor.PoolConfig) PoolSettings {
	return PoolSettings{
		Source:            SourcePush,
		Min:               c.Min,
		Max:               c.Max,
		IdleTimeout:       c.IdleTimeout,
		ConnectionTimeout: c.ConnectionTimeout,
		AcquireTimeout:    c.AcquireTimeout,
	}
}

func policySettingsFrom(p governor.PolicyConfig) PolicySettings {
	return PolicySettings{
		GrowFactor:              p.GrowFactor,
		ShrinkFactor:            p.ShrinkFactor,
		IdleToActiveRatio:       p.IdleToActiveRatio,
		IdleCountThreshold:      p.IdleCountThreshold,
		AvgWaitingThreshold:     p.AvgWaitingThreshold,
		AcquireGrowFactor:       p.AcquireGrowFactor,
		IdleOfMaxRatio:          p.IdleOfMaxRatio,
		IdleTimeoutShrinkFactor: p.IdleTimeoutShrinkFactor,
		MaxCeiling:              p.Limits.MaxCeiling,
		IdleTimeoutFloor:        p.Limits.IdleTimeoutFloor,
		AcquireTimeoutCeiling:   p.Limits.AcquireTimeoutCeiling,
	}
}
