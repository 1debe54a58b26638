package storage

import (
	"context"

	"fibo_bot/internal/modules/config"
	"fibo_bot/internal/modules/storage/service"
	"fibo_bot/pkg/db"
	"fibo_bot/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

// NewStore picks postgres when a pool exists, memory otherwise, and puts
// the redis cache in front when redis.addr is set.
func NewStore(ctx context.Context, lc fx.Lifecycle, cfg *config.Config, tm *db.PgTxManager) (service.Store, error) {
	var store service.Store
	if tm != nil {
		pg := service.NewPostgresStore(tm)
		if err := pg.Migrate(ctx); err != nil {
			return nil, err
		}
		store = pg
	} else {
		logger.Warn("[STORE] using in-memory store, state is lost on restart")
		store = service.NewMemoryStore()
	}

	if cfg.Redis.Addr == "" {
		return store, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("[STORE] redis %s unreachable, cache disabled: %v", cfg.Redis.Addr, err)
		_ = rdb.Close()
		return store, nil
	}
	lc.Append(fx.StopHook(rdb.Close))
	return service.NewCachedStore(store, rdb, cfg.Redis.TTL), nil
}

func Module() fx.Option {
	return fx.Module("storage",
		fx.Provide(NewStore),
	)
}
