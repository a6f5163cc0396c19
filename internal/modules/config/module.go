package config

import (
	"context"

	"hunter_bot/pkg/logger"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewLogger поднимает zap по секции service; его же берёт fx для событий.
func NewLogger(cfg *Config) (*zap.Logger, error) {
	if err := logger.Init(cfg.Service.Name, cfg.Service.Debug); err != nil {
		return nil, err
	}
	return logger.InfoLogger, nil
}

func syncLogger(lc fx.Lifecycle, _ *zap.Logger) {
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			logger.Sync()
			return nil
		},
	})
}

func Module() fx.Option {
	return fx.Module("config",
		fx.Provide(
			NewConfig,
			NewLogger,
		),
		fx.Invoke(syncLogger),
	)
}
