package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Governor.Interval)
	assert.NoError(t, cfg.Validate())
}

func TestLoader_LoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "poolgovernor.yaml")

	yamlContent := `
server:
  http_port: 8888
  read_timeout: 60s
  api_keys: ["k1", "k2"]

governor:
  interval: 15s
  window_size: 20
  history_capacity: 200
  defaults:
    min: 2
    max: 40
    idle_timeout: 45s
  policy:
    grow_factor: 2
    max_ceiling: 80
  pools:
    - name: orders
      source: database
      max: 30
    - name: cache
      source: redis

redis:
  enabled: true
  addr: "redis.example.com:6379"
  password: "secret"
  db: 1

log:
  level: "debug"
  format: "console"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Server.APIKeys)

	assert.Equal(t, 15*time.Second, cfg.Governor.Interval)
	assert.Equal(t, 20, cfg.Governor.WindowSize)
	assert.Equal(t, 2.0, cfg.Governor.Policy.GrowFactor)
	assert.Equal(t, 0.8, cfg.Governor.Policy.ShrinkFactor, "unset policy fields keep defaults")
	assert.Equal(t, 80, cfg.Governor.Policy.MaxCeiling)
	require.Len(t, cfg.Governor.Pools, 2)

	pools := cfg.Governor.ResolvedPools()
	assert.Equal(t, "orders", pools[0].Name)
	assert.Equal(t, SourceDatabase, pools[0].Source)
	assert.Equal(t, 30, pools[0].Max)
	assert.Equal(t, 2, pools[0].Min)
	assert.Equal(t, 45*time.Second, pools[0].IdleTimeout)
	assert.Equal(t, 5*time.Second, pools[1].AcquireTimeout)

	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis.example.com:6379", cfg.Redis.Addr)
	assert.Equal(t, 1, cfg.Redis.DB)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.NoError(t, cfg.Validate())
}

func TestLoader_LoadFromEnv(t *testing.T) {
	envVars := map[string]string{
		"POOLGOVERNOR_SERVER_HTTP_PORT":               "7777",
		"POOLGOVERNOR_SERVER_API_KEYS":                "a, b",
		"POOLGOVERNOR_GOVERNOR_INTERVAL":              "5s",
		"POOLGOVERNOR_GOVERNOR_POLICY_SHRINK_FACTOR":  "0.5",
		"POOLGOVERNOR_GOVERNOR_DEFAULTS_MAX":          "60",
		"POOLGOVERNOR_REDIS_ADDR":                     "env-redis:6379",
		"POOLGOVERNOR_MONGO_MAX_POOL_SIZE":            "25",
		"POOLGOVERNOR_LOG_LEVEL":                      "warn",
	}
	for k, v := range envVars {
		t.Setenv(k, v)
	}

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.HTTPPort)
	assert.Equal(t, []string{"a", "b"}, cfg.Server.APIKeys)
	assert.Equal(t, 5*time.Second, cfg.Governor.Interval)
	assert.Equal(t, 0.5, cfg.Governor.Policy.ShrinkFactor)
	assert.Equal(t, 60, cfg.Governor.Defaults.Max)
	assert.Equal(t, "env-redis:6379", cfg.Redis.Addr)
	assert.Equal(t, uint64(25), cfg.Mongo.MaxPoolSize)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "poolgovernor.yaml")

	yamlContent := `
server:
  http_port: 8888
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	t.Setenv("POOLGOVERNOR_SERVER_HTTP_PORT", "9999")
	t.Setenv("POOLGOVERNOR_LOG_LEVEL", "error")

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.HTTPPort)
	assert.Equal(t, "error", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}


func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "poolgovernor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_SERVER_HTTP_PORT", "6666")
	t.Setenv("POOLGOVERNOR_SERVER_HTTP_PORT", "7777")

	cfg, err := NewLoader().WithEnvPrefix("MYAPP").Load()
	require.NoError(t, err)
	assert.Equal(t, 6666, cfg.Server.HTTPPort)
}

func TestLoader_EnvErrorsCollected(t *testing.T) {
	t.Setenv("POOLGOVERNOR_GOVERNOR_INTERVAL", "soon")
	t.Setenv("POOLGOVERNOR_SERVER_HTTP_PORT", "eighty")
	t.Setenv("POOLGOVERNOR_REDIS_ENABLED", "maybe")

	_, err := NewLoader().Load()
	require.Error(t, err)
	for _, key := range []string{"POOLGOVERNOR_GOVERNOR_INTERVAL", "POOLGOVERNOR_SERVER_HTTP_PORT", "POOLGOVERNOR_REDIS_ENABLED"} {
		assert.Contains(t, err.Error(), key)
	}
}

func TestLoader_EnvEdgeCases(t *testing.T) {
	env := map[string]string{
		"POOLGOVERNOR_SERVER_CORS_ALLOWED_ORIGINS": " https://a.example, ,https://b.example ",
		"POOLGOVERNOR_LOG_LEVEL":                   "",
		"POOLGOVERNOR_GOVERNOR_POOLS":              "ignored",
		"POOLGOVERNOR_MONGO_MIN_POOL_SIZE":         "7",
	}
	l := NewLoader()
	l.lookupEnv = func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSAllowedOrigins)
	assert.Equal(t, "info", cfg.Log.Level, "empty value keeps default")
	assert.Equal(t, []PoolSettings{{Name: "default"}}, cfg.Governor.Pools)
	assert.Equal(t, uint64(7), cfg.Mongo.MinPoolSize)
}

func TestLoader_IntOverflow(t *testing.T) {
	l := NewLoader()
	l.lookupEnv = func(key string) (string, bool) {
		if key == "POOLGOVERNOR_GOVERNOR_POLICY_MAX_CEILING" {
			return "99999999999999999999", true
		}
		return "", false
	}
	_, err := l.Load()
	assert.ErrorContains(t, err, "MAX_CEILING")
}

func TestLoader_WithValidator(t *testing.T) {
	t.Setenv("POOLGOVERNOR_SERVER_HTTP_PORT", "80")

	_, err := NewLoader().
		WithValidator(func(cfg *Config) error {
			if cfg.Server.HTTPPort < 1024 {
				return errors.New("privileged port")
			}
			return nil
		}).
		Load()
	assert.ErrorContains(t, err, "privileged port")
}

func TestLoader_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)

	_, err = NewLoader().WithConfigPath(path).RequireFile().Load()
	assert.ErrorContains(t, err, "read config file")
}

func TestLoader_EmptyFile(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath(writeTempConfig(t, "")).Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoader_FileErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{name: "malformed", content: "server:\n  http_port: [broken\n", wantErr: "parse config file"},
		{name: "unknown top-level key", content: "sever:\n  http_port: 1\n", wantErr: "sever"},
		{name: "unknown nested key", content: "governor:\n  policy:\n    grow_factr: 2\n", wantErr: "grow_factr"},
		{name: "wrong type", content: "server:\n  http_port: high\n", wantErr: "parse config file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader().WithConfigPath(writeTempConfig(t, tt.content)).Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{name: "defaults", modify: func(c *Config) {}},
		{name: "negative http port", modify: func(c *Config) { c.Server.HTTPPort = -1 }, wantErr: "server.http_port"},
		{name: "http port too large", modify: func(c *Config) { c.Server.HTTPPort = 70000 }, wantErr: "server.http_port"},
		{name: "metrics disabled", modify: func(c *Config) { c.Server.MetricsPort = 0 }},
		{name: "metrics port collides", modify: func(c *Config) { c.Server.MetricsPort = c.Server.HTTPPort }, wantErr: "must differ"},
		{name: "negative rate limit", modify: func(c *Config) { c.Server.RateLimitRPS = -1 }, wantErr: "rate_limit_rps"},
		{name: "tls cert without key", modify: func(c *Config) { c.Server.TLSCertFile = "server.crt" }, wantErr: "set together"},
		{name: "tls pair", modify: func(c *Config) {
			c.Server.TLSCertFile, c.Server.TLSKeyFile = "server.crt", "server.key"
		}},
		{name: "bad policy", modify: func(c *Config) { c.Governor.Policy.GrowFactor = 0.5 }, wantErr: "governor.policy"},
		{name: "unsupported driver", modify: func(c *Config) {
			c.Database.Enabled, c.Database.Driver = true, "oracle"
		}, wantErr: `"oracle" unsupported`},
		{name: "database without name", modify: func(c *Config) {
			c.Database.Enabled, c.Database.Name = true, ""
		}, wantErr: "database.name"},
		{name: "disabled database ignores driver", modify: func(c *Config) { c.Database.Driver = "oracle" }},
		{name: "redis without addr", modify: func(c *Config) {
			c.Redis.Enabled, c.Redis.Addr = true, ""
		}, wantErr: "redis.addr"},
		{name: "mongo without uri", modify: func(c *Config) {
			c.Mongo.Enabled, c.Mongo.URI = true, ""
		}, wantErr: "mongo.uri"},
		{name: "mongo min above max", modify: func(c *Config) { c.Mongo.MinPoolSize = 80 }, wantErr: "min_pool_size"},
		{name: "mongo unbounded max", modify: func(c *Config) { c.Mongo.MaxPoolSize = 0 }},
		{name: "telemetry without endpoint", modify: func(c *Config) {
			c.Telemetry.Enabled, c.Telemetry.OTLPEndpoint = true, ""
		}, wantErr: "otlp_endpoint"},
		{name: "telemetry sample rate above one", modify: func(c *Config) {
			c.Telemetry.Enabled, c.Telemetry.SampleRate = true, 1.5
		}, wantErr: "sample_rate"},
		{name: "disabled telemetry ignores sample rate", modify: func(c *Config) { c.Telemetry.SampleRate = 7 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_ValidateReportsEveryProblem(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.HTTPPort = 0
	cfg.Redis.Enabled, cfg.Redis.Addr = true, ""
	cfg.Governor.Interval = 0

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "invalid config")
	assert.Contains(t, msg, "server.http_port")
	assert.Contains(t, msg, "redis.addr")
	assert.Contains(t, msg, "interval")
}

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name   string
		config DatabaseConfig
		want   string
	}{
		{
			name: "postgres",
			config: DatabaseConfig{
				Driver: DriverPostgres, Host: "localhost", Port: 5432,
				User: "user", Password: "pass", Name: "dbname", SSLMode: "disable",
			},
			want: "host=localhost port=5432 user=user password=pass dbname=dbname sslmode=disable",
		},
		{
			name: "postgres quotes special values",
			config: DatabaseConfig{
				Driver: DriverPostgres, Host: "db", Port: 5432,
				User: "svc", Password: `it's a \secret`, Name: "pool gov",
			},
			want: `host=db port=5432 user=svc password='it\'s a \\secret' dbname='pool gov'`,
		},
		{
			name: "postgres empty password",
			config: DatabaseConfig{
				Driver: DriverPostgres, Host: "db", Port: 5432, User: "svc", Name: "pg",
			},
			want: "host=db port=5432 user=svc password='' dbname=pg",
		},
		{
			name: "mysql",
			config: DatabaseConfig{
				Driver: DriverMySQL, Host: "localhost", Port: 3306,
				User: "user", Password: "pass", Name: "dbname",
			},
			want: "user:pass@tcp(localhost:3306)/dbname?parseTime=true",
		},
		{
			name: "mysql ipv6",
			config: DatabaseConfig{
				Driver: DriverMySQL, Host: "::1", Port: 3306,
				User: "user", Password: "pass", Name: "dbname",
			},
			want: "user:pass@tcp([::1]:3306)/dbname?parseTime=true",
		},
		{
			name:   "sqlite",
			config: DatabaseConfig{Driver: DriverSQLite, Name: "/var/lib/poolgovernor/audit.db"},
			want:   "/var/lib/poolgovernor/audit.db",
		},
		{
			name:   "unknown driver",
			config: DatabaseConfig{Driver: "oracle"},
			want:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.config.DSN())
		})
	}
}
