package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"go.uber.org/zap"
)

// =============================================================================
// 🗄️ Schema 迁移
// =============================================================================

// Dialect SQL 方言，决定驱动与内嵌 SQL 目录
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
	DialectSQLite   Dialect = "sqlite"
)

// ParseDialect 解析方言名，接受常见别名，大小写不敏感
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgres", "postgresql", "pg":
		return DialectPostgres, nil
	case "mysql", "mariadb":
		return DialectMySQL, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database type %q (postgres, mysql, sqlite)", s)
	}
}

// sqlDriver database/sql 注册名，与 golang-migrate 的数据库驱动一致
func (d Dialect) sqlDriver() string {
	if d == DialectSQLite {
		return "sqlite3"
	}
	return string(d)
}

// DefaultTable 版本表名
const DefaultTable = "schema_migrations"

// Options 迁移器参数，Table 与 LockTimeout 为零值时使用默认值
type Options struct {
	Dialect     Dialect
	URL         string
	Table       string
	LockTimeout time.Duration
	Logger      *zap.Logger
}

// Status 单个迁移的状态
type Status struct {
	Version uint   `json:"version"`
	Name    string `json:"name"`
	Applied bool   `json:"applied"`
	Dirty   bool   `json:"dirty"`
}

// Summary 迁移摘要
type Summary struct {
	Version uint `json:"version"`
	Dirty   bool `json:"dirty"`
	Total   int  `json:"total"`
	Applied int  `json:"applied"`
}

// Pending 待执行数
func (s Summary) Pending() int {
	return s.Total - s.Applied
}

// Migrator CLI 依赖的迁移操作
type Migrator interface {
	Up(ctx context.Context) error
	// Down 回滚最近一次迁移
	Down(ctx context.Context) error
	DownAll(ctx context.Context) error
	// Steps n > 0 向前 n 步，n < 0 回滚 |n| 步
	Steps(ctx context.Context, n int) error
	Goto(ctx context.Context, version uint) error
	// Force 只改写版本号，用于修复 dirty 状态
	Force(ctx context.Context, version int) error
	Version(ctx context.Context) (uint, bool, error)
	Status(ctx context.Context) ([]Status, error)
	Summary(ctx context.Context) (Summary, error)
	Close() error
}

// SchemaMigrator 基于 golang-migrate 的 Migrator，SQL 来自内嵌目录
type SchemaMigrator struct {
	migrate *migrate.Migrate
	plan    []step
	logger  *zap.Logger
}

var _ Migrator = (*SchemaMigrator)(nil)

// Open 连接数据库并加载内嵌迁移
func Open(opts Options) (*SchemaMigrator, error) {
	if opts.URL == "" {
		return nil, errors.New("database URL is required")
	}
	if _, err := ParseDialect(string(opts.Dialect)); err != nil {
		return nil, err
	}
	if opts.Table == "" {
		opts.Table = DefaultTable
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = migrate.DefaultLockTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	logger := opts.Logger.With(zap.String("component", "migration"), zap.String("dialect", string(opts.Dialect)))

	plan, err := loadPlan(opts.Dialect)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(opts.Dialect.sqlDriver(), opts.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	m, err := newMigrate(db, opts)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	m.LockTimeout = opts.LockTimeout
	m.Log = migrateLogger{logger: logger}

	return &SchemaMigrator{migrate: m, plan: plan, logger: logger}, nil
}

func newMigrate(db *sql.DB, opts Options) (*migrate.Migrate, error) {
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	var (
		driver database.Driver
		err    error
	)
	switch opts.Dialect {
	case DialectPostgres:
		driver, err = postgres.WithInstance(db, &postgres.Config{MigrationsTable: opts.Table})
	case DialectMySQL:
		driver, err = mysql.WithInstance(db, &mysql.Config{MigrationsTable: opts.Table})
	case DialectSQLite:
		driver, err = sqlite3.WithInstance(db, &sqlite3.Config{MigrationsTable: opts.Table})
	}
	if err != nil {
		return nil, fmt.Errorf("create %s driver: %w", opts.Dialect, err)
	}

	src, err := openSource(opts.Dialect)
	if err != nil {
		return nil, err
	}
	m, err := migrate.NewWithInstance("iofs", src, string(opts.Dialect), driver)
	if err != nil {
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}
	return m, nil
}

// run 执行一次迁移操作，ctx 取消时在当前迁移完成后停止
// ErrNoChange 视为成功。
func (s *SchemaMigrator) run(ctx context.Context, op string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			select {
			case s.migrate.GracefulStop <- true:
			default:
			}
		case <-done:
		}
	}()

	start := time.Now()
	err := fn()
	close(done)
	// 未被消费的停止信号不能留给下一次操作
	select {
	case <-s.migrate.GracefulStop:
	default:
	}

	switch {
	case errors.Is(err, migrate.ErrNoChange):
		s.logger.Debug("no migration to apply", zap.String("op", op))
		return nil
	case err != nil:
		return fmt.Errorf("migration %s failed: %w", op, err)
	case ctx.Err() != nil:
		return fmt.Errorf("migration %s interrupted: %w", op, ctx.Err())
	}
	s.logger.Info("migration finished", zap.String("op", op), zap.Duration("took", time.Since(start)))
	return nil
}

// Up 执行全部待执行迁移
func (s *SchemaMigrator) Up(ctx context.Context) error {
	return s.run(ctx, "up", s.migrate.Up)
}

// Down 回滚最近一次迁移
func (s *SchemaMigrator) Down(ctx context.Context) error {
	return s.run(ctx, "down", func() error { return s.migrate.Steps(-1) })
}

// DownAll 回滚全部迁移
func (s *SchemaMigrator) DownAll(ctx context.Context) error {
	return s.run(ctx, "down-all", s.migrate.Down)
}

// Steps 执行或回滚 n 步
func (s *SchemaMigrator) Steps(ctx context.Context, n int) error {
	return s.run(ctx, "steps", func() error { return s.migrate.Steps(n) })
}

// Goto 迁移到指定版本
func (s *SchemaMigrator) Goto(ctx context.Context, version uint) error {
	return s.run(ctx, "goto", func() error { return s.migrate.Migrate(version) })
}

// Force 只改写版本号并清除 dirty
func (s *SchemaMigrator) Force(ctx context.Context, version int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.migrate.Force(version); err != nil {
		return fmt.Errorf("migration force failed: %w", err)
	}
	s.logger.Warn("migration version forced", zap.Int("version", version))
	return nil
}

// Version 当前版本，尚未迁移时返回 0
func (s *SchemaMigrator) Version(ctx context.Context) (uint, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	version, dirty, err := s.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read migration version: %w", err)
	}
	return version, dirty, nil
}

// Status 按版本升序列出内嵌迁移的状态
func (s *SchemaMigrator) Status(ctx context.Context) ([]Status, error) {
	current, dirty, err := s.Version(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Status, len(s.plan))
	for i, st := range s.plan {
		out[i] = Status{
			Version: st.version,
			Name:    st.name,
			Applied: st.version <= current,
			Dirty:   dirty && st.version == current,
		}
	}
	return out, nil
}

// Summary 迁移摘要，数据库版本不在内嵌列表中时同样如实返回
func (s *SchemaMigrator) Summary(ctx context.Context) (Summary, error) {
	current, dirty, err := s.Version(ctx)
	if err != nil {
		return Summary{}, err
	}
	sum := Summary{Version: current, Dirty: dirty, Total: len(s.plan)}
	for _, st := range s.plan {
		if st.version <= current {
			sum.Applied++
		}
	}
	return sum, nil
}

// Close 关闭源与数据库连接
func (s *SchemaMigrator) Close() error {
	srcErr, dbErr := s.migrate.Close()
	if err := errors.Join(srcErr, dbErr); err != nil {
		return fmt.Errorf("close migrator: %w", err)
	}
	return nil
}

// migrateLogger 把 golang-migrate 的日志转到 zap，Verbose 跟随 debug 级别
type migrateLogger struct {
	logger *zap.Logger
}

func (l migrateLogger) Printf(format string, v ...any) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l migrateLogger) Verbose() bool {
	return l.logger.Core().Enabled(zap.DebugLevel)
}
