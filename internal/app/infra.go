package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/offsoc/copr/internal/config"
	"github.com/offsoc/copr/internal/db"
	"github.com/offsoc/copr/internal/directory"
	"github.com/offsoc/copr/internal/logger"
	"github.com/offsoc/copr/internal/redis"
	"github.com/offsoc/copr/internal/session"
)

type Infra struct {
	Directory directory.Directory
	Sessions  session.Store
	closers   []func() error
}

// Close releases connections in reverse order of creation.
func (i *Infra) Close() error {
	var errs []error
	for n := len(i.closers) - 1; n >= 0; n-- {
		if err := i.closers[n](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func setupInfra(ctx context.Context, cfg *config.Config) (*Infra, error) {
	infra := &Infra{}

	dir, err := setupDirectory(ctx, cfg.Database, infra)
	if err != nil {
		_ = infra.Close()
		return nil, err
	}
	infra.Directory = dir
	logger.Info("user directory ready", map[string]any{"driver": cfg.Database.Driver})

	switch cfg.Session.Store {
	case "memory":
		infra.Sessions = session.NewMemoryStore()
	default:
		redisClient, err := redis.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			_ = infra.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		infra.closers = append(infra.closers, redisClient.Close)
		infra.Sessions = session.NewRedisStore(redisClient.Client)
	}
	logger.Info("session store ready", map[string]any{"store": cfg.Session.Store})

	return infra, nil
}

func setupDirectory(ctx context.Context, cfg config.DatabaseConfig, infra *Infra) (directory.Directory, error) {
	switch cfg.Driver {
	case "memory":
		return directory.NewMemoryDirectory(), nil
	case "sqlite":
		dir, err := directory.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		infra.closers = append(infra.closers, dir.Close)
		return dir, nil
	case "postgres":
		if cfg.UseGORM {
			dir, err := directory.OpenPostgres(cfg.DSN)
			if err != nil {
				return nil, err
			}
			infra.closers = append(infra.closers, dir.Close)
			return dir, nil
		}
		fallthrough
	default:
		pg, err := db.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		infra.closers = append(infra.closers, pg.Close)
		if err := db.RunDirectoryMigration(ctx, pg.DB); err != nil {
			return nil, fmt.Errorf("db: migrate: %w", err)
		}
		return directory.NewSQLDirectory(pg), nil
	}
}
