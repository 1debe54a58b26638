package telegram

import (
	"context"

	"fibo_bot/internal/modules/config"
	storage "fibo_bot/internal/modules/storage/service"
	"fibo_bot/internal/modules/telegram_bot/service"
	"fibo_bot/pkg/logger"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("telegram",
		fx.Provide(
			func(cfg *config.Config, store storage.Store) (*service.Telegram, error) {
				if cfg.Telegram.Token == "" {
					return nil, errors.New("telegram token is not set")
				}
				bot, err := tgbot.NewBotAPI(cfg.Telegram.Token)
				if err != nil {
					return nil, errors.Wrap(err, "telegram bot")
				}
				bot.Debug = cfg.Telegram.Debug
				logger.Info("[TELEGRAM] authorized as @%s", bot.Self.UserName)
				return service.NewTelegram(bot, store, 256), nil
			},
		),
		fx.Invoke(
			func(lc fx.Lifecycle, t *service.Telegram) {
				ctx, cancel := context.WithCancel(context.Background())
				lc.Append(fx.Hook{
					OnStart: func(context.Context) error {
						t.Start(ctx)
						return nil
					},
					OnStop: func(context.Context) error {
						cancel()
						t.Stop()
						return nil
					},
				})
			},
		),
	)
}
