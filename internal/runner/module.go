package runner

import (
	"context"
	"time"

	"lifecycle_bot/internal/engine/chains"
	"lifecycle_bot/internal/engine/events"
	"lifecycle_bot/internal/engine/lifecycle"
	"lifecycle_bot/internal/engine/monitor"
	"lifecycle_bot/internal/engine/orders"
	"lifecycle_bot/internal/engine/profit"
	"lifecycle_bot/internal/engine/reconcile"
	"lifecycle_bot/internal/engine/recovery"
	"lifecycle_bot/internal/engine/risk"
	"lifecycle_bot/internal/engine/trend"
	"lifecycle_bot/internal/models"
	broker "lifecycle_bot/internal/modules/broker/service"
	"lifecycle_bot/internal/modules/config"
	health "lifecycle_bot/internal/modules/health/service"
	notify "lifecycle_bot/internal/modules/notify/service"
	"lifecycle_bot/pkg/logger"

	"go.uber.org/fx"
)

func NewHub(cfg *config.Config) *trend.Hub { return trend.NewHub(cfg.MarketData.TrendTTL) }

func NewIndicator(p *config.Provider, hub *trend.Hub) *trend.Indicator {
	fast, slow, adx := p.IndicatorPeriods()
	return trend.NewIndicator(trend.IndicatorConfig{FastEMA: fast, SlowEMA: slow, ADXPeriod: adx}, hub)
}

func NewService(
	reg *chains.Registry,
	gw broker.Gateway,
	gate *risk.Gate,
	placer *orders.Placer,
	rec *recovery.Coordinator,
	prof *profit.Coordinator,
	tc trend.Checker,
	locks *broker.TicketLocks,
	p *config.Provider,
	sink notify.Sink,
) *lifecycle.Service {
	return lifecycle.NewService(lifecycle.Deps{
		Registry: reg,
		Gateway:  gw,
		Gate:     gate,
		Placer:   placer,
		Recovery: rec,
		Profit:   prof,
		Trend:    tc,
		Locks:    locks,
		Config:   p,
		Sink:     sink,
	})
}

// NewDispatcher: события монитора уходят в lifecycle по шардам цепочек.
func NewDispatcher(cfg *config.Config, svc *lifecycle.Service) *events.Dispatcher {
	return events.NewDispatcher(cfg.Dispatcher.Shards, cfg.Dispatcher.Queue, svc.HandleEvent)
}

func NewMonitor(reg *chains.Registry, gw broker.Gateway, d *events.Dispatcher, p *config.Provider, sink notify.Sink) *monitor.Monitor {
	return monitor.New(reg, gw, d, p, sink)
}

func NewReconcile(reg *chains.Registry, gw broker.Gateway, svc *lifecycle.Service, locks *broker.TicketLocks, p *config.Provider, sink notify.Sink) *reconcile.Loop {
	return reconcile.NewLoop(reg, gw, svc, locks, p, sink)
}

func NewEngine(reg *chains.Registry, gate *risk.Gate, svc *lifecycle.Service, d *events.Dispatcher, m *monitor.Monitor, rl *reconcile.Loop) *Engine {
	return &Engine{reg: reg, gate: gate, svc: svc, dispatcher: d, monitor: m, reconcile: rl}
}

// RegisterCommands: команды оператора в Telegram; без бота ничего не делаем.
func RegisterCommands(tg *notify.Telegram, reg *chains.Registry, gate *risk.Gate, m *monitor.Monitor) {
	if tg == nil {
		return
	}
	tg.Handle("status", func(context.Context) string {
		return formatStatus(gate.Snapshot(), m.State(), len(reg.OpenPositions()), len(reg.ActiveChains()))
	})
	tg.Handle("positions", func(context.Context) string { return formatPositions(reg.OpenPositions()) })
	tg.Handle("chains", func(context.Context) string { return formatChains(reg.ActiveChains()) })
	tg.Handle("reset_breaker", func(context.Context) string {
		m.Reset()
		logger.Warn("runner: circuit breaker reset from telegram")
		return "✅ Монитор снова запущен"
	})
}

func Module() fx.Option {
	return fx.Module("runner",
		fx.Provide(
			NewHub,
			func(h *trend.Hub) trend.Checker { return h },
			NewIndicator,
			chains.NewRegistry,
			risk.NewGate,
			orders.NewPlacer,
			recovery.NewCoordinator,
			func(c *recovery.Coordinator) profit.StopLossHandler { return c },
			profit.NewCoordinator,
			NewService,
			NewDispatcher,
			NewMonitor,
			NewReconcile,
			NewEngine,
		),
		fx.Invoke(RegisterCommands),
		fx.Invoke(func(lc fx.Lifecycle, e *Engine, signals <-chan models.Signal, state *health.State) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					restoreCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
					defer cancel()
					if err := e.Restore(restoreCtx); err != nil {
						return err
					}
					e.Start(signals)
					state.SetReady(true)
					logger.Info("runner: engine started")
					return nil
				},
				OnStop: func(ctx context.Context) error {
					state.SetReady(false)
					return e.Stop(ctx)
				},
			})
		}),
	)
}
