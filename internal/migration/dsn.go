package migration

import (
	"net"
	"net/url"
	"strconv"

	"github.com/BaSui01/poolgovernor/config"
	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
)

// URLFromConfig 把 database 配置转换为迁移驱动使用的连接串
// 与 gorm 连接串不同：postgres 使用 URL 形式，mysql 打开 multiStatements，
// sqlite 使用 file: URI 并打开外键约束。
func URLFromConfig(db config.DatabaseConfig) (Dialect, string, error) {
	d, err := ParseDialect(db.Driver)
	if err != nil {
		return "", "", err
	}

	switch d {
	case DialectPostgres:
		sslMode := db.SSLMode
		if sslMode == "" {
			sslMode = "require"
		}
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(db.User, db.Password),
			Host:     net.JoinHostPort(db.Host, strconv.Itoa(db.Port)),
			Path:     "/" + db.Name,
			RawQuery: url.Values{"sslmode": {sslMode}}.Encode(),
		}
		return d, u.String(), nil

	case DialectMySQL:
		mc := mysql.NewConfig()
		mc.User = db.User
		mc.Passwd = db.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(db.Host, strconv.Itoa(db.Port))
		mc.DBName = db.Name
		mc.ParseTime = true
		mc.MultiStatements = true
		return d, mc.FormatDSN(), nil

	default:
		q := url.Values{"mode": {"rwc"}, "_foreign_keys": {"on"}}
		return d, "file:" + db.Name + "?" + q.Encode(), nil
	}
}

// OpenFromConfig 按 database 配置打开迁移器
func OpenFromConfig(db config.DatabaseConfig, logger *zap.Logger) (*SchemaMigrator, error) {
	d, dsn, err := URLFromConfig(db)
	if err != nil {
		return nil, err
	}
	return Open(Options{Dialect: d, URL: dsn, Logger: logger})
}
