package health

import (
	"context"
	"net"
	"net/http"
	"time"

	"hunter_bot/internal/modules/config"
	"hunter_bot/internal/modules/health/service"
	"hunter_bot/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

type Config struct {
	Addr string // например ":8080"
}

func NewConfig(cfg *config.Config) Config {
	return Config{Addr: cfg.Health.Addr}
}

func NewMux(state *service.State) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		// liveness: процесс жив
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		// readiness: брокер подключён и монитор крутится
		if !state.Ready() || !state.GatewayConnected() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"ready":            state.Ready(),
			"gatewayConnected": state.GatewayConnected(),
			"monitored":        state.Monitored(),
			"uptimeSec":        int64(state.Uptime().Seconds()),
			"lastCycleUnix": func() int64 {
				t := state.LastCycle()
				if t.IsZero() {
					return 0
				}
				return t.Unix()
			}(),
		}
		w.Header().Set("Content-Type", "application/json")
		_ = sonic.ConfigDefault.NewEncoder(w).Encode(resp)
	})

	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

func RunHTTP(lc fx.Lifecycle, cfg Config, mux *http.ServeMux) {
	if cfg.Addr == "" {
		return
	}
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", cfg.Addr)
			if err != nil {
				return err
			}
			logger.Info("[HEALTH] listening on %s", cfg.Addr)
			go func() { _ = srv.Serve(ln) }()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func Module() fx.Option {
	return fx.Module("health",
		fx.Provide(
			service.NewState,
			NewConfig,
			NewMux,
		),
		fx.Invoke(RunHTTP),
	)
}
