package main

import (
	"context"
	"log"

	"fibo_bot/internal/modules/api"
	"fibo_bot/internal/modules/config"
	"fibo_bot/internal/modules/exchange_client"
	"fibo_bot/internal/modules/health"
	"fibo_bot/internal/modules/market_feed"
	"fibo_bot/internal/modules/postgres"
	"fibo_bot/internal/modules/storage"
	"fibo_bot/internal/modules/strategy"
	telegram "fibo_bot/internal/modules/telegram_bot"
	"fibo_bot/internal/modules/tracing"
	"fibo_bot/internal/runner"
	"fibo_bot/pkg/logger"

	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		fx.Provide(
			func() context.Context {
				return context.Background()
			},
		),
		config.Module(),
		fx.Invoke(func(cfg *config.Config) error {
			return logger.Init(cfg.Service.Name, cfg.Service.Debug)
		}),
		tracing.Module(),
		postgres.Module(),
		storage.Module(),
		health.Module(),
		market_feed.Module(),
		exchange_client.Module(),
		strategy.Module(),
		telegram.Module(),
		runner.Module(),
		api.Module(),
		fx.NopLogger,
	)
	if err := app.Err(); err != nil {
		log.Fatal(err)
	}
	app.Run()
	logger.Sync()
}
