package telegram

import (
	"hunter_bot/internal/modules/config"
	"hunter_bot/internal/notify"
	"hunter_bot/pkg/logger"

	"go.uber.org/fx"
)

// NewNotifier: без токена — Stdout, с токеном — бот в чат telegram.chat_id.
// Telegram отдаётся и отдельно, чтобы trading-модуль запустил команды.
func NewNotifier(cfg *config.Config) (notify.Notifier, *notify.Telegram, error) {
	if cfg.Telegram.Token == "" {
		logger.Info("[TELEGRAM] token is empty, notifications go to log")
		return notify.NewStdout(), nil, nil
	}
	tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID)
	if err != nil {
		return nil, nil, err
	}
	return tg, tg, nil
}

func Module() fx.Option {
	return fx.Module("telegram",
		fx.Provide(NewNotifier),
	)
}
