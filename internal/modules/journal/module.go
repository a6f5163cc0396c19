package journal

import (
	"context"
	"time"

	"hunter_bot/internal/journal"
	"hunter_bot/internal/modules/config"
	"hunter_bot/pkg/logger"

	"go.uber.org/fx"
)

const openTimeout = 15 * time.Second

func NewStore(lc fx.Lifecycle, cfg *config.Config) (journal.Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()

	store, err := journal.Open(ctx, cfg.JournalConfig())
	if err != nil {
		return nil, err
	}
	logger.Info("[JOURNAL] driver=%s", cfg.Journal.Driver)

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return store.Close()
		},
	})
	return store, nil
}

func Module() fx.Option {
	return fx.Module("journal",
		fx.Provide(NewStore),
	)
}
