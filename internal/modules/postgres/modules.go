package postgres

import (
	"context"
	"fmt"

	"fibo_bot/internal/modules/config"
	"fibo_bot/pkg/db"
	"fibo_bot/pkg/logger"

	"go.uber.org/fx"
)

// Module provides the pool-backed tx manager. With an empty db_dsn it
// provides nil and storage falls back to memory.
func Module() fx.Option {
	return fx.Module("postgres",
		fx.Provide(
			func(ctx context.Context, lc fx.Lifecycle, cfg *config.Config) (*db.PgTxManager, error) {
				if cfg.DB == "" {
					logger.Warn("[PG] db_dsn is empty, running without postgres")
					return nil, nil
				}
				poolMaster, err := db.NewPool(ctx, db.PoolConfig{
					DSN:      cfg.DB,
					MaxConns: 16,
				})
				if err != nil {
					return nil, fmt.Errorf("failed to create poolMaster: %w", err)
				}

				err = poolMaster.Ping(ctx)
				if err != nil {
					return nil, err
				}

				tm := db.NewPgTxManager(poolMaster)
				lc.Append(fx.StopHook(tm.Close))
				return tm, nil
			},
		),
	)
}
