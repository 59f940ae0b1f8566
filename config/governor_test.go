package config

import (
	"testing"
	"time"

	"github.com/BaSui01/poolgovernor/governor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGovernorConfig_Resolve(t *testing.T) {
	cfg := DefaultGovernorConfig()

	got := cfg.Resolve(PoolSettings{Name: "orders", Max: 20, IdleTimeout: time.Minute})

	assert.Equal(t, "orders", got.Name)
	assert.Equal(t, SourcePush, got.Source)
	assert.Equal(t, 5, got.Min)
	assert.Equal(t, 20, got.Max)
	assert.Equal(t, time.Minute, got.IdleTimeout)
	assert.Equal(t, 10*time.Second, got.ConnectionTimeout)
	assert.Equal(t, 5*time.Second, got.AcquireTimeout)
}

func TestGovernorConfig_ResolveEmptyDefaultsSource(t *testing.T) {
	cfg := DefaultGovernorConfig()
	cfg.Defaults.Source = ""

	assert.Equal(t, SourcePush, cfg.Resolve(PoolSettings{Name: "x"}).Source)
}

func TestGovernorConfig_OptionsBuildGovernor(t *testing.T) {
	cfg := DefaultGovernorConfig()
	cfg.Interval = 5 * time.Second
	cfg.Policy.GrowFactor = 2

	pool := PoolSettings{Name: "orders", Min: 2, Max: 10}
	g, err := governor.New(pool.Name, cfg.Options(pool, zap.NewNop())...)
	require.NoError(t, err)

	assert.Equal(t, "orders", g.Name())
	assert.Equal(t, 10, g.Config().Max)
	assert.Equal(t, 2, g.Config().Min)
	assert.Equal(t, 2.0, g.Policy().GrowFactor)
}

func TestPolicySettings_ToPolicy(t *testing.T) {
	s := DefaultGovernorConfig().Policy
	s.MaxCeiling = 60
	s.IdleTimeoutFloor = 20 * time.Second

	p := s.ToPolicy()

	assert.Equal(t, 60, p.Limits.MaxCeiling)
	assert.Equal(t, 20*time.Second, p.Limits.IdleTimeoutFloor)
	assert.Equal(t, 30*time.Second, p.Limits.AcquireTimeoutCeiling)
	assert.NoError(t, p.Validate())
}

func TestGovernorConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*GovernorConfig)
		wantErr string
	}{
		{"zero interval", func(c *GovernorConfig) { c.Interval = 0 }, "interval"},
		{"zero window", func(c *GovernorConfig) { c.WindowSize = 0 }, "window_size"},
		{"capacity below window", func(c *GovernorConfig) { c.HistoryCapacity = c.WindowSize - 1 }, "history_capacity"},
		{"bad policy", func(c *GovernorConfig) { c.Policy.ShrinkFactor = 1.5 }, "governor.policy"},
		{"ceiling above hard limit", func(c *GovernorConfig) { c.Policy.MaxCeiling = 500 }, "max_ceiling"},
		{"floor below hard limit", func(c *GovernorConfig) { c.Policy.IdleTimeoutFloor = time.Second }, "idle_timeout_floor"},
		{"missing name", func(c *GovernorConfig) { c.Pools = []PoolSettings{{}} }, "name is required"},
		{"duplicate name", func(c *GovernorConfig) {
			c.Pools = []PoolSettings{{Name: "a"}, {Name: "a"}}
		}, "duplicate name"},
		{"unknown source", func(c *GovernorConfig) {
			c.Pools = []PoolSettings{{Name: "a", Source: "kafka"}}
		}, "unknown source"},
		{"source bound twice", func(c *GovernorConfig) {
			c.Pools = []PoolSettings{{Name: "a", Source: SourceDatabase}, {Name: "b", Source: SourceDatabase}}
		}, "already bound"},
		{"http source bound twice", func(c *GovernorConfig) {
			c.Pools = []PoolSettings{{Name: "a", Source: SourceHTTP}, {Name: "b", Source: SourceHTTP}}
		}, "already bound"},
		{"min above max", func(c *GovernorConfig) {
			c.Pools = []PoolSettings{{Name: "a", Min: 30, Max: 10}}
		}, "min <= max"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultGovernorConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGovernorConfig_ValidateMultiplePushPools(t *testing.T) {
	cfg := DefaultGovernorConfig()
	cfg.Pools = []PoolSettings{
		{Name: "a"},
		{Name: "b"},
		{Name: "db", Source: SourceDatabase},
		{Name: "cache", Source: SourceRedis},
		{Name: "docs", Source: SourceMongo},
		{Name: "self", Source: SourceHTTP},
	}

	assert.NoError(t, cfg.Validate())
}
