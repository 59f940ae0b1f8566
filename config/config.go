package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// =============================================================================
// 🎯 配置结构
// =============================================================================

// Config poolgovernor 完整配置
// yaml 标签对应配置文件键，env 标签拼接成 PREFIX_SECTION_FIELD 形式的环境变量。
type Config struct {
	Server    ServerConfig    `yaml:"server" env:"SERVER"`
	Governor  GovernorConfig  `yaml:"governor" env:"GOVERNOR"`
	Database  DatabaseConfig  `yaml:"database" env:"DATABASE"`
	Redis     RedisConfig     `yaml:"redis" env:"REDIS"`
	Mongo     MongoConfig     `yaml:"mongo" env:"MONGO"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig API 与 metrics 监听配置
type ServerConfig struct {
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// 0 表示不单独开 metrics 端口
	MetricsPort     int           `yaml:"metrics_port" env:"METRICS_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`

	// APIKeys 为空时不校验 X-API-Key
	APIKeys []string `yaml:"api_keys" env:"API_KEYS"`
	// 允许 ?api_key=，浏览器 websocket 无法设置请求头
	AllowQueryAPIKey bool `yaml:"allow_query_api_key" env:"ALLOW_QUERY_API_KEY"`

	// 按客户端 IP 限流，RPS 为 0 时关闭
	RateLimitRPS   float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`

	CORSAllowedOrigins []string  `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
	JWT                JWTConfig `yaml:"jwt" env:"JWT"`

	// 证书与私钥同时设置时以 HTTPS 提供服务
	TLSCertFile string `yaml:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile  string `yaml:"tls_key_file" env:"TLS_KEY_FILE"`
}

// TLSEnabled 是否启用 HTTPS
func (s ServerConfig) TLSEnabled() bool {
	return s.TLSCertFile != "" && s.TLSKeyFile != ""
}

// JWTConfig Bearer token 校验，Secret（HS256）与 PublicKey（RS256 PEM）都为空时关闭
type JWTConfig struct {
	Secret    string `yaml:"secret" env:"SECRET"`
	PublicKey string `yaml:"public_key" env:"PUBLIC_KEY"`
	Issuer    string `yaml:"issuer" env:"ISSUER"`
	Audience  string `yaml:"audience" env:"AUDIENCE"`
}

// Enabled 是否配置了验签密钥
func (j JWTConfig) Enabled() bool {
	return j.Secret != "" || j.PublicKey != ""
}

// 支持的数据库驱动
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
)

// DatabaseConfig 被调控的 SQL 连接池，同时承载调整审计表
type DatabaseConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Driver  string `yaml:"driver" env:"DRIVER"`

	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	User     string `yaml:"user" env:"USER"`
	Password string `yaml:"password" env:"PASSWORD"`
	// sqlite 时为文件路径
	Name    string `yaml:"name" env:"NAME"`
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`

	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	SampleInterval  time.Duration `yaml:"sample_interval" env:"SAMPLE_INTERVAL"`
	AuditEnabled    bool          `yaml:"audit_enabled" env:"AUDIT_ENABLED"`
}

// RedisConfig 配置快照存储，也可作为被调控的连接池
type RedisConfig struct {
	Enabled      bool   `yaml:"enabled" env:"ENABLED"`
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	TLS          bool   `yaml:"tls" env:"TLS"`

	SnapshotPrefix string `yaml:"snapshot_prefix" env:"SNAPSHOT_PREFIX"`
	// 0 表示快照不过期
	SnapshotTTL    time.Duration `yaml:"snapshot_ttl" env:"SNAPSHOT_TTL"`
	SampleInterval time.Duration `yaml:"sample_interval" env:"SAMPLE_INTERVAL"`
}

// MongoConfig 被调控的 MongoDB 客户端连接池
type MongoConfig struct {
	Enabled        bool          `yaml:"enabled" env:"ENABLED"`
	URI            string        `yaml:"uri" env:"URI"`
	MaxPoolSize    uint64        `yaml:"max_pool_size" env:"MAX_POOL_SIZE"`
	MinPoolSize    uint64        `yaml:"min_pool_size" env:"MIN_POOL_SIZE"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"CONNECT_TIMEOUT"`
	SampleInterval time.Duration `yaml:"sample_interval" env:"SAMPLE_INTERVAL"`
}

// LogConfig zap 日志配置
type LogConfig struct {
	// debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// json 或 console
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig OpenTelemetry 导出配置
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string `yaml:"service_name" env:"SERVICE_NAME"`
	// [0,1]，带父 span 的请求沿用父决策
	SampleRate     float64       `yaml:"sample_rate" env:"SAMPLE_RATE"`
	Insecure       bool          `yaml:"insecure" env:"INSECURE"`
	ExportInterval time.Duration `yaml:"export_interval" env:"EXPORT_INTERVAL"`
	// 写入 deployment.environment 资源属性
	Environment string `yaml:"environment" env:"ENVIRONMENT"`
}

// =============================================================================
// ✅ 校验
// =============================================================================

// Validate 校验整份配置，一次返回全部问题
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	s := c.Server
	check(validPort(s.HTTPPort), "server.http_port %d out of range", s.HTTPPort)
	check(s.MetricsPort == 0 || validPort(s.MetricsPort), "server.metrics_port %d out of range", s.MetricsPort)
	check(s.MetricsPort == 0 || s.MetricsPort != s.HTTPPort, "server.metrics_port must differ from server.http_port")
	check((s.TLSCertFile == "") == (s.TLSKeyFile == ""), "server.tls_cert_file and server.tls_key_file must be set together")
	check(s.RateLimitRPS >= 0, "server.rate_limit_rps must be >= 0")

	if err := c.Governor.Validate(); err != nil {
		errs = append(errs, err)
	}

	if d := c.Database; d.Enabled {
		switch d.Driver {
		case DriverPostgres, DriverMySQL, DriverSQLite:
		default:
			errs = append(errs, fmt.Errorf("database.driver %q unsupported (postgres, mysql, sqlite)", d.Driver))
		}
		check(d.Name != "", "database.name is required when database is enabled")
	}
	check(!c.Redis.Enabled || c.Redis.Addr != "", "redis.addr is required when redis is enabled")
	check(!c.Mongo.Enabled || c.Mongo.URI != "", "mongo.uri is required when mongo is enabled")
	check(c.Mongo.MinPoolSize <= c.Mongo.MaxPoolSize || c.Mongo.MaxPoolSize == 0,
		"mongo.min_pool_size must not exceed mongo.max_pool_size")

	if t := c.Telemetry; t.Enabled {
		check(t.OTLPEndpoint != "", "telemetry.otlp_endpoint is required when telemetry is enabled")
		check(t.SampleRate >= 0 && t.SampleRate <= 1, "telemetry.sample_rate %v must be within [0,1]", t.SampleRate)
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}

// =============================================================================
// 🔌 连接串
// =============================================================================

// DSN 返回 gorm 驱动使用的连接串，未知驱动返回空串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case DriverPostgres:
		pairs := []string{
			"host=" + pgQuote(d.Host),
			"port=" + strconv.Itoa(d.Port),
			"user=" + pgQuote(d.User),
			"password=" + pgQuote(d.Password),
			"dbname=" + pgQuote(d.Name),
		}
		if d.SSLMode != "" {
			pairs = append(pairs, "sslmode="+pgQuote(d.SSLMode))
		}
		return strings.Join(pairs, " ")
	case DriverMySQL:
		mc := mysql.NewConfig()
		mc.User = d.User
		mc.Passwd = d.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
		mc.DBName = d.Name
		mc.ParseTime = true
		return mc.FormatDSN()
	case DriverSQLite:
		return d.Name
	default:
		return ""
	}
}

// pgQuote 按 libpq keyword/value 规则给含空格、引号或为空的值加单引号
func pgQuote(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}
