package main

import (
	"hunter_bot/internal/modules/api"
	"hunter_bot/internal/modules/broker"
	"hunter_bot/internal/modules/config"
	"hunter_bot/internal/modules/health"
	"hunter_bot/internal/modules/journal"
	"hunter_bot/internal/modules/telegram"
	"hunter_bot/internal/modules/tracing"
	"hunter_bot/internal/modules/trading"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	fx.New(
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.With(zap.String("component", "fx"))}
		}),
		config.Module(),
		tracing.Module(),
		health.Module(),
		broker.Module(),
		journal.Module(),
		telegram.Module(),
		trading.Module(),
		api.Module(),
	).Run()
}
