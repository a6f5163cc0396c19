package trading

import (
	"context"
	"time"

	"hunter_bot/internal/broker"
	"hunter_bot/internal/executor"
	"hunter_bot/internal/instructions"
	"hunter_bot/internal/journal"
	"hunter_bot/internal/models"
	"hunter_bot/internal/modules/config"
	"hunter_bot/internal/modules/health/service"
	"hunter_bot/internal/monitor"
	"hunter_bot/internal/notify"
	"hunter_bot/pkg/logger"

	"go.uber.org/fx"
)

func NewMonitor(gw broker.Gateway, cfg *config.Config, state *service.State) *monitor.Monitor {
	m := monitor.New(gw, cfg.MonitorConfig())
	m.OnPositions(monitor.PositionsObserverFunc(func(_ context.Context, _ []models.Position, at time.Time) {
		state.SetGatewayConnected(true)
		state.TouchCycle(at, len(m.Symbols()))
	}))
	return m
}

func NewExecutor(
	gw broker.Gateway,
	m *monitor.Monitor,
	cfg *config.Config,
	store journal.Store,
	n notify.Notifier,
) *executor.Executor {
	return executor.New(gw, m, cfg.ExecutorConfig(),
		executor.WithRecorder(store),
		executor.WithNotifier(n),
	)
}

// LoadInstructions ставит инструкции из файла; битые пропускаются с логом.
func LoadInstructions(ctx context.Context, path string, ex *executor.Executor) (int, error) {
	raws, err := instructions.Load(path)
	if err != nil {
		return 0, err
	}
	added := 0
	for i, raw := range raws {
		if _, err := ex.AddInstruction(ctx, raw); err != nil {
			logger.Warn("[TRADING] skip instruction %d from %s: %v", i, path, err)
			continue
		}
		added++
	}
	return added, nil
}

type params struct {
	fx.In

	LC       fx.Lifecycle
	Cfg      *config.Config
	Monitor  *monitor.Monitor
	Executor *executor.Executor
	State    *service.State
	Notifier notify.Notifier
	Telegram *notify.Telegram
}

func run(p params) {
	stop := make(chan struct{})
	watched := make(chan struct{})

	p.LC.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			n, err := LoadInstructions(ctx, p.Cfg.Instructions.File, p.Executor)
			if err != nil {
				return err
			}
			logger.Info("[TRADING] loaded %d instructions from %s", n, p.Cfg.Instructions.File)

			if err := p.Monitor.Start(); err != nil {
				return err
			}
			p.State.SetGatewayConnected(true)
			p.State.SetReady(true)

			go watch(p, stop, watched)

			if p.Telegram != nil {
				if err := p.Telegram.Start(context.Background(), p.Executor); err != nil {
					logger.Error("[TRADING] telegram start: %v", err)
				}
			}
			p.Notifier.Sendf("🚀 Hunter Bot запущен: %d инструкций", n)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			p.State.SetReady(false)
			if p.Telegram != nil {
				p.Telegram.Stop()
			}
			close(stop)
			<-watched

			stopErr := p.Monitor.Stop()
			if stopErr != nil {
				logger.Error("[TRADING] monitor stop: %v", stopErr)
			}

			if p.Cfg.Instructions.Autosave {
				list := p.Executor.Instructions()
				if err := instructions.Save(p.Cfg.Instructions.File, list); err != nil {
					logger.Error("[TRADING] autosave: %v", err)
				} else {
					logger.Info("[TRADING] saved %d instructions to %s", len(list), p.Cfg.Instructions.File)
				}
			}
			return stopErr
		},
	})
}

// watch ловит падение цикла мониторинга (потеря соединения) и снимает готовность.
func watch(p params, stop <-chan struct{}, watched chan<- struct{}) {
	defer close(watched)

	select {
	case <-stop:
		return
	case <-p.Monitor.Done():
	}

	err := p.Monitor.Err()
	if err == nil {
		return
	}
	p.State.SetReady(false)
	p.State.SetGatewayConnected(false)
	logger.Error("[TRADING] monitor terminated: %v", err)
	p.Notifier.Sendf("⛔️ Мониторинг остановлен: %v", err)
}

func Module() fx.Option {
	return fx.Module("trading",
		fx.Provide(
			NewMonitor,
			NewExecutor,
		),
		fx.Invoke(run),
	)
}
