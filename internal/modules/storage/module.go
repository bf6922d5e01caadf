package storage

import (
	"context"
	"fmt"

	"lifecycle_bot/internal/modules/config"
	"lifecycle_bot/internal/modules/storage/service"
	"lifecycle_bot/pkg/db"
	"lifecycle_bot/pkg/logger"

	"go.uber.org/fx"
)

// NewStore выбирает бэкенд по storage.driver.
func NewStore(ctx context.Context, lc fx.Lifecycle, cfg *config.Config, tm *db.PgTxManager) (service.Store, error) {
	var (
		st  service.Store
		err error
	)
	switch cfg.Storage.Driver {
	case "memory":
		st = service.NewMemory()
	case "", "sqlite":
		st, err = service.OpenSQLite(ctx, cfg.Storage.SQLitePath)
	case "postgres":
		if tm == nil {
			return nil, fmt.Errorf("storage: postgres tx manager is not initialised")
		}
		pg := service.NewPostgres(tm)
		err = pg.Migrate(ctx)
		st = pg
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.Storage.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("storage %s: %w", cfg.Storage.Driver, err)
	}
	logger.Info("storage: %s", cfg.Storage.Driver)

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return st.Close() },
	})
	return st, nil
}

func Module() fx.Option {
	return fx.Module("storage",
		fx.Provide(NewStore),
	)
}
