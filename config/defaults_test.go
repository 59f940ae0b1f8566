package config

import (
	"testing"
	"time"

	"github.com/BaSui01/poolgovernor/governor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	// 外部协作方默认全部关闭
	assert.False(t, cfg.Database.Enabled)
	assert.False(t, cfg.Redis.Enabled)
	assert.False(t, cfg.Mongo.Enabled)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.False(t, cfg.Server.TLSEnabled())
	assert.False(t, cfg.Server.JWT.Enabled())
	assert.Empty(t, cfg.Server.APIKeys)
}

func TestDefaultConfig_IndependentCopies(t *testing.T) {
	a, b := DefaultConfig(), DefaultConfig()
	a.Log.OutputPaths[0] = "stderr"
	a.Governor.Pools[0].Name = "changed"

	assert.Equal(t, []string{"stdout"}, b.Log.OutputPaths)
	assert.Equal(t, "default", b.Governor.Pools[0].Name)
}

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"http port", cfg.Server.HTTPPort, 8080},
		{"metrics port", cfg.Server.MetricsPort, 9091},
		{"shutdown timeout", cfg.Server.ShutdownTimeout, 15 * time.Second},
		{"rate limit", cfg.Server.RateLimitRPS, 100.0},
		{"rate burst", cfg.Server.RateLimitBurst, 200},
		{"database driver", cfg.Database.Driver, DriverPostgres},
		{"database sample interval", cfg.Database.SampleInterval, time.Second},
		{"redis pool size", cfg.Redis.PoolSize, 10},
		{"snapshot prefix", cfg.Redis.SnapshotPrefix, "poolgovernor:snapshot:"},
		{"snapshot ttl", cfg.Redis.SnapshotTTL, 24 * time.Hour},
		{"mongo max pool", cfg.Mongo.MaxPoolSize, uint64(50)},
		{"mongo min pool", cfg.Mongo.MinPoolSize, uint64(5)},
		{"log level", cfg.Log.Level, "info"},
		{"log format", cfg.Log.Format, "json"},
		{"log caller", cfg.Log.EnableCaller, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestDefaultGovernorConfig_MatchesLibrary(t *testing.T) {
	cfg := DefaultGovernorConfig()
	assert.Equal(t, governor.DefaultInterval, cfg.Interval)
	assert.Equal(t, governor.DefaultWindowSize, cfg.WindowSize)
	assert.Equal(t, governor.DefaultHistoryCapacity, cfg.HistoryCapacity)
	assert.Equal(t, SourcePush, cfg.Defaults.Source)
	assert.False(t, cfg.RestoreSnapshots)

	// 往返转换不丢字段
	assert.Equal(t, governor.DefaultPoolConfig(), cfg.Defaults.ToPoolConfig())
	assert.Equal(t, governor.DefaultPolicyConfig(), cfg.Policy.ToPolicy())
	assert.Equal(t, governor.DefaultReporterThresholds(), cfg.Reporter.ToThresholds())

	pools := cfg.ResolvedPools()
	require.Len(t, pools, 1)
	assert.Equal(t, "default", pools[0].Name)
	assert.Equal(t, governor.DefaultPoolConfig(), pools[0].ToPoolConfig())
}

func TestDefaultTelemetryConfig(t *testing.T) {
	cfg := DefaultTelemetryConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	assert.Equal(t, 0.1, cfg.SampleRate)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, 30*time.Second, cfg.ExportInterval)

	// 打开开关即可通过校验
	cfg.Enabled = true
	full := DefaultConfig()
	full.Telemetry = cfg
	assert.NoError(t, full.Validate())
}
