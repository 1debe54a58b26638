package tracing

import (
	"context"

	"fibo_bot/internal/modules/config"
	"fibo_bot/pkg/logger"
	"fibo_bot/pkg/tracing"

	"go.uber.org/fx"
)

// Module installs the jaeger tracer as the global tracer when an agent is
// configured. Without one the opentracing noop tracer stays in place.
func Module() fx.Option {
	return fx.Module("tracing",
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config) error {
			conf := tracing.Config{Host: cfg.Tracing.Host, Port: cfg.Tracing.Port}
			if !conf.Enabled() {
				logger.Info("[TRACING] no agent configured, tracing disabled")
				return nil
			}
			tracing.SetServiceName(cfg.Service.Name)
			_, closeFn, err := tracing.InitTracer(conf)
			if err != nil {
				return err
			}
			lc.Append(fx.StopHook(func(context.Context) error {
				closeFn()
				return nil
			}))
			return nil
		}),
	)
}
