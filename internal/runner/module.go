package runner

import (
	"context"

	"fibo_bot/internal/models"
	"fibo_bot/internal/modules/config"
	exchange "fibo_bot/internal/modules/exchange_client/service"
	healthsvc "fibo_bot/internal/modules/health/service"
	feed "fibo_bot/internal/modules/market_feed/service"
	storage "fibo_bot/internal/modules/storage/service"
	strategy "fibo_bot/internal/modules/strategy/service"
	telegram "fibo_bot/internal/modules/telegram_bot/service"
	"fibo_bot/internal/runner/sessions"
	"fibo_bot/internal/runner/supervisor"

	"go.uber.org/fx"
)

func sessionOptions(cfg *config.Config) sessions.Options {
	return sessions.Options{
		CandleHistory:             cfg.Engine.CandleHistory,
		EntryTimeoutBars:          cfg.Engine.EntryTimeoutBars,
		FillPollInterval:          cfg.Engine.FillPollInterval,
		HeartbeatInterval:         cfg.Engine.HeartbeatInterval,
		MinNotionalUSD:            cfg.Engine.MinNotionalUSD,
		MinAvailableExposureUSD:   cfg.Engine.MinAvailableExposureUSD,
		FallbackStopPct:           cfg.Engine.FallbackStopPct,
		BreakEvenAfterFirstTarget: cfg.Engine.BreakEvenAfterFirstTarget,
		MaxRetries:                cfg.Exchange.MaxRetries,
		PollAttempts:              cfg.Exchange.PollAttempts,
		PollBackoff:               cfg.Exchange.PollBackoff,
	}
}

// NewSupervisor wires sessions to the shared feed, the per-user gateways,
// the store and the telegram notifier.
func NewSupervisor(
	cfg *config.Config,
	store storage.Store,
	gateways *exchange.Factory,
	hub *feed.Hub,
	tg *telegram.Telegram,
	state *healthsvc.State,
	engines strategy.EngineFactory,
) *supervisor.Supervisor {
	opt := sessionOptions(cfg)
	subscribe := func() sessions.Stream { return hub.NewSubscription() }

	build := func(creds models.Credentials) (sessions.Gateway, error) {
		c, err := gateways.ForUser(creds)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	factory := func(u models.BotUser, gw sessions.Gateway) supervisor.Session {
		return sessions.New(u, opt, sessions.Deps{
			Gateway:   gw,
			Store:     store,
			Notifier:  tg,
			Subscribe: subscribe,
			Engine:    engines(),
		})
	}

	return supervisor.New(supervisor.Options{
		ReconcileInterval: cfg.Supervisor.ReconcileInterval,
		HeartbeatTimeout:  cfg.Supervisor.HeartbeatTimeout,
		MaxRestarts:       cfg.Supervisor.MaxRestarts,
		StopTimeout:       cfg.Supervisor.StopTimeout,
		OnReconcile:       state.Reconciled,
	}, store, build, factory, tg, tg)
}

func Module() fx.Option {
	return fx.Module("runner",
		fx.Provide(
			NewSupervisor, // *supervisor.Supervisor
		),
		fx.Invoke(func(lc fx.Lifecycle, sup *supervisor.Supervisor, tg *telegram.Telegram) {
			tg.Attach(sup)

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go func() {
						defer close(done)
						sup.Run(ctx)
					}()
					return nil
				},
				OnStop: func(stopCtx context.Context) error {
					cancel()
					select {
					case <-done:
					case <-stopCtx.Done():
					}
					return nil
				},
			})
		}),
	)
}
