package strategy

import (
	"fibo_bot/internal/modules/strategy/service"
	"fibo_bot/pkg/logger"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("strategy",
		fx.Provide(
			service.DefaultConfig, // service.Config
			func(cfg service.Config) service.EngineFactory {
				logger.Info("[STRAT] fib_divergence rsi=%d lookback=%d", cfg.RSIPeriod, cfg.DivergenceLookback)
				return func() service.Engine { return service.NewFibDivergence(cfg) }
			},
		),
	)
}
