package tracing

import (
	"context"

	"hunter_bot/internal/modules/config"
	"hunter_bot/pkg/logger"
	"hunter_bot/pkg/tracing"

	"go.uber.org/fx"
)

func setup(lc fx.Lifecycle, cfg *config.Config) error {
	if !cfg.Tracing.Enabled {
		return nil
	}
	tracing.SetServiceName(cfg.Service.Name)

	_, closeFn, err := tracing.InitTracer(cfg.TracingConfig())
	if err != nil {
		return err
	}
	logger.Info("[TRACING] jaeger agent %s:%d", cfg.Tracing.Host, cfg.Tracing.Port)

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			closeFn()
			return nil
		},
	})
	return nil
}

func Module() fx.Option {
	return fx.Module("tracing",
		fx.Invoke(setup),
	)
}
