package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/BaSui01/poolgovernor/internal/migration"
	"go.uber.org/zap"
)

// =============================================================================
// 🗄️ 数据库迁移命令
// =============================================================================

// runMigrate 处理 migrate 子命令
// 迁移只涉及审计表 pool_adjustments，目标库取自 database 配置或 --db-type/--db-url。
func runMigrate(args []string) {
	if err := migrateCommand(args, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
}

func migrateCommand(args []string, out io.Writer) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		printMigrateUsage(out)
		if len(args) == 0 {
			return errors.New("missing subcommand")
		}
		return nil
	}

	name, rest := args[0], args[1:]
	// 数字参数位于 flag 之前：migrate goto 3 --config x.yaml
	var positional []string
	if migration.TakesArg(name) && len(rest) > 0 {
		positional, rest = rest[:1], rest[1:]
	}

	fs := flag.NewFlagSet("migrate "+name, flag.ContinueOnError)
	fs.SetOutput(out)
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql, sqlite)")
	dbURL := fs.String("db-url", "", "Database connection URL")
	verbose := fs.Bool("verbose", false, "Log migration steps")
	if err := fs.Parse(rest); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	logger := zap.NewNop()
	if *verbose {
		logger, _ = zap.NewDevelopment()
	}

	m, err := openMigrator(*configPath, *dbType, *dbURL, logger)
	if err != nil {
		return err
	}
	defer m.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return migration.NewCLI(m, out).Execute(ctx, name, positional)
}

// openMigrator --db-type 与 --db-url 同时给出时不读配置文件
func openMigrator(configPath, dbType, dbURL string, logger *zap.Logger) (*migration.SchemaMigrator, error) {
	if dbType != "" && dbURL != "" {
		d, err := migration.ParseDialect(dbType)
		if err != nil {
			return nil, err
		}
		return migration.Open(migration.Options{Dialect: d, URL: dbURL, Logger: logger})
	}
	if dbURL != "" {
		return nil, errors.New("--db-url requires --db-type")
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if dbType != "" {
		cfg.Database.Driver = dbType
	}
	return migration.OpenFromConfig(cfg.Database, logger)
}

func printMigrateUsage(w io.Writer) {
	fmt.Fprint(w, `Database Migration Commands

Usage:
  poolgovernor migrate <subcommand> [arg] [options]

Subcommands:
`)
	migration.WriteUsage(w)
	fmt.Fprint(w, `
Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)
  --db-url <url>      Database connection URL (default: from config)
  --verbose           Log migration steps

Examples:
  poolgovernor migrate up --config /etc/poolgovernor/config.yaml
  poolgovernor migrate status --db-type sqlite --db-url "file:governor.db?mode=rwc"
  poolgovernor migrate goto 1
  poolgovernor migrate force -1
`)
}
