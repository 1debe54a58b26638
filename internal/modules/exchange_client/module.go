package exchange_client

import (
	"fibo_bot/internal/modules/config"
	"fibo_bot/internal/modules/exchange_client/service"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("exchange_client",
		fx.Provide(
			func(cfg *config.Config) service.Options {
				return service.Options{
					BaseURL:    cfg.Exchange.BaseURL,
					RatePerSec: cfg.Exchange.RatePerSec,
					Burst:      cfg.Exchange.Burst,
					Timeout:    cfg.Exchange.RequestTimeout,
					Simulated:  cfg.Exchange.Simulated,
				}
			},
			service.NewFactory,
		),
	)
}
