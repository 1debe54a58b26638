package market_feed

import (
	"context"

	"fibo_bot/internal/modules/config"
	healthsvc "fibo_bot/internal/modules/health/service"
	"fibo_bot/internal/modules/market_feed/service"

	"go.uber.org/fx"
)

// Module runs the shared candle stream.
func Module() fx.Option {
	return fx.Module("market_feed",
		fx.Provide(
			func(cfg *config.Config, state *healthsvc.State) *service.Hub {
				return service.NewHub(service.Options{URL: cfg.Exchange.WsURL}, state)
			},
		),
		fx.Invoke(func(lc fx.Lifecycle, hub *service.Hub) {
			ctx, cancel := context.WithCancel(context.Background())
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go hub.Run(ctx)
					return nil
				},
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})
		}),
	)
}
