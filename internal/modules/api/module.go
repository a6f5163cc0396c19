package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"hunter_bot/internal/broker"
	"hunter_bot/internal/executor"
	"hunter_bot/internal/journal"
	"hunter_bot/internal/modules/config"
	"hunter_bot/internal/monitor"
	"hunter_bot/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

func NewRouter(cfg *config.Config, ex *executor.Executor, m *monitor.Monitor, gw broker.Gateway, store journal.Store) *gin.Engine {
	if !cfg.Service.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	NewHandlers(ex, m, gw, store).Register(r)
	return r
}

func RunHTTP(lc fx.Lifecycle, cfg *config.Config, r *gin.Engine) {
	if !cfg.API.Enabled || cfg.API.Addr == "" {
		return
	}
	srv := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", cfg.API.Addr)
			if err != nil {
				return err
			}
			logger.Info("[API] listening on %s", cfg.API.Addr)
			go func() { _ = srv.Serve(ln) }()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func Module() fx.Option {
	return fx.Module("api",
		fx.Provide(NewRouter),
		fx.Invoke(RunHTTP),
	)
}
