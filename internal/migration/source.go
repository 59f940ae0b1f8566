package migration

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"

	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// 每个方言一个目录，文件名形如 000001_create_pool_adjustments.up.sql
//
//go:embed migrations/*/*.sql
var migrationsFS embed.FS

// step 内嵌的一个迁移版本
type step struct {
	version uint
	name    string
}

func openSource(d Dialect) (source.Driver, error) {
	src, err := iofs.New(migrationsFS, path.Join("migrations", string(d)))
	if err != nil {
		return nil, fmt.Errorf("open %s migrations: %w", d, err)
	}
	return src, nil
}

// loadPlan 沿 source 驱动的版本链读出全部迁移，顺序与执行顺序一致
func loadPlan(d Dialect) ([]step, error) {
	src, err := openSource(d)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	var plan []step
	version, err := src.First()
	for err == nil {
		r, name, rerr := src.ReadUp(version)
		if rerr != nil {
			return nil, fmt.Errorf("read migration %d: %w", version, rerr)
		}
		_ = r.Close()
		plan = append(plan, step{version: version, name: name})
		version, err = src.Next(version)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("list %s migrations: %w", d, err)
	}
	return plan, nil
}
