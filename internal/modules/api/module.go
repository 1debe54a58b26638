package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"fibo_bot/internal/models"
	"fibo_bot/internal/modules/api/service"
	"fibo_bot/internal/modules/config"
	exchange "fibo_bot/internal/modules/exchange_client/service"
	storage "fibo_bot/internal/modules/storage/service"
	"fibo_bot/internal/runner/supervisor"
	"fibo_bot/pkg/logger"

	"go.uber.org/fx"
)

func NewAPI(store storage.Store, sup *supervisor.Supervisor, gateways *exchange.Factory) *service.API {
	balance := func(ctx context.Context, creds models.Credentials) (float64, error) {
		c, err := gateways.ForUser(creds)
		if err != nil {
			return 0, err
		}
		return c.Balance(ctx)
	}
	return service.New(store, sup, balance)
}

func RunHTTP(lc fx.Lifecycle, cfg *config.Config, api *service.API) {
	addr := fmt.Sprintf("%s:%d", cfg.Service.Host, cfg.Service.PublicPort)
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			logger.Info("[API] listening on %s", addr)
			go func() {
				if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("[API] serve: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func Module() fx.Option {
	return fx.Module("api",
		fx.Provide(NewAPI),
		fx.Invoke(RunHTTP),
	)
}
