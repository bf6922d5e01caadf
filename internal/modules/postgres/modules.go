package postgres

import (
	"context"
	"fmt"

	"lifecycle_bot/internal/modules/config"
	"lifecycle_bot/pkg/db"

	"go.uber.org/fx"
)

// NewTxManager поднимает пул только для storage.driver=postgres, иначе nil.
func NewTxManager(ctx context.Context, lc fx.Lifecycle, cfg *config.Config) (*db.PgTxManager, error) {
	if cfg.Storage.Driver != "postgres" {
		return nil, nil
	}
	if cfg.DB == "" {
		return nil, fmt.Errorf("postgres: empty dsn")
	}
	poolMaster, err := db.NewPool(ctx, db.PoolConfig{
		DSN: cfg.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create poolMaster: %w", err)
	}

	err = poolMaster.Ping(ctx)
	if err != nil {
		poolMaster.Close()
		return nil, err
	}

	tm := db.NewPgTxManager(poolMaster)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			tm.Close()
			return nil
		},
	})
	return tm, nil
}

func Module() fx.Option {
	return fx.Module("postgres",
		fx.Provide(NewTxManager),
	)
}
