package broker

import (
	"context"
	"sync"

	"hunter_bot/internal/broker"
	"hunter_bot/internal/modules/config"
	"hunter_bot/pkg/logger"

	"github.com/pkg/errors"
	"go.uber.org/fx"
)

func NewGateway(cfg *config.Config) (broker.Gateway, error) {
	return broker.New(cfg.BrokerConfig())
}

// connect подключает брокера на старте и поднимает стрим тиков, если он настроен.
func connect(lc fx.Lifecycle, cfg *config.Config, gw broker.Gateway) {
	var (
		cancel context.CancelFunc
		wg     sync.WaitGroup
	)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := gw.Connect(ctx); err != nil {
				return errors.Wrapf(err, "connect %s %s", cfg.Broker.Platform, cfg.Broker.Server)
			}
			logger.Info("[BROKER] connected to %s (%s)", cfg.Broker.Server, cfg.Broker.Platform)

			if cfg.Broker.StreamURL == "" {
				return nil
			}
			sink, ok := gw.(broker.QuoteSink)
			if !ok {
				logger.Warn("[BROKER] %s does not accept streamed ticks", cfg.Broker.Platform)
				return nil
			}

			var streamCtx context.Context
			streamCtx, cancel = context.WithCancel(context.Background())
			stream := broker.NewTickStream(cfg.Broker.StreamURL, sink)
			wg.Add(1)
			go func() {
				defer wg.Done()
				stream.Run(streamCtx)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
				wg.Wait()
			}
			if err := gw.Disconnect(ctx); err != nil {
				logger.Error("[BROKER] disconnect: %v", err)
				return err
			}
			logger.Info("[BROKER] disconnected")
			return nil
		},
	})
}

func Module() fx.Option {
	return fx.Module("broker",
		fx.Provide(NewGateway),
		fx.Invoke(connect),
	)
}
