package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"lifecycle_bot/internal/engine/chains"
	"lifecycle_bot/internal/engine/monitor"
	"lifecycle_bot/internal/engine/risk"
	"lifecycle_bot/internal/modules/config"
	"lifecycle_bot/internal/modules/health/service"
	notify "lifecycle_bot/internal/modules/notify/service"
	"lifecycle_bot/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

type Config struct {
	Addr string // например ":8080"
}

func NewConfig(cfg *config.Config) Config {
	return Config{Addr: fmt.Sprintf("%s:%d", cfg.Service.Host, cfg.Service.AdminPort)}
}

// Deps: всё, что админка показывает или трогает.
type Deps struct {
	fx.In

	State    *service.State
	Monitor  *monitor.Monitor
	Gate     *risk.Gate
	Registry *chains.Registry
	Queue    *notify.Queue
}

func NewMux(d Deps) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		// liveness: процесс жив
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		// readiness: состояние восстановлено, циклы запущены
		if !d.State.Ready() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		if d.Monitor.State().CircuitOpen {
			http.Error(w, "circuit open", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		rs := d.Gate.Snapshot()
		resp := map[string]any{
			"ready":           d.State.Ready(),
			"marketConnected": d.State.MarketConnected(),
			"feedConnected":   d.State.FeedConnected(),
			"uptimeSec":       int64(d.State.Uptime().Seconds()),
			"lastCandleUnix":  unix(d.State.LastCandle()),
			"monitor":         d.Monitor.State(),
			"risk": map[string]any{
				"day":           rs.Day.Format(time.DateOnly),
				"dailyPnl":      rs.DailyPnL,
				"lifetimePnl":   rs.LifetimePnL,
				"tradesToday":   rs.TradesToday,
				"openPositions": len(d.Registry.OpenPositions()),
			},
			"recentNotifications": len(d.Queue.Recent()),
		}
		writeJSON(w, http.StatusOK, resp)
	})

	mux.HandleFunc("/notifications", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Queue.Recent())
	})

	mux.HandleFunc("/admin/breaker/reset", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		d.Monitor.Reset()
		logger.Warn("health: circuit breaker reset via admin endpoint")
		writeJSON(w, http.StatusOK, d.Monitor.State())
	})

	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	body, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

func RunHTTP(lc fx.Lifecycle, cfg Config, mux *http.ServeMux) {
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
			logger.Info("health: listening on %s", cfg.Addr)
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("health: serve: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

// Module отдаёт *service.State наружу: его двигают marketdata и runner.
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
