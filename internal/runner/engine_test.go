package runner

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"lifecycle_bot/internal/engine/enginetest"
	"lifecycle_bot/internal/engine/events"
	"lifecycle_bot/internal/engine/lifecycle"
	"lifecycle_bot/internal/engine/monitor"
	"lifecycle_bot/internal/engine/profit"
	"lifecycle_bot/internal/engine/reconcile"
	"lifecycle_bot/internal/engine/recovery"
	"lifecycle_bot/internal/engine/trend"
	"lifecycle_bot/internal/models"
	"lifecycle_bot/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logger.InitNop()
	os.Exit(m.Run())
}

func newEngine(t *testing.T) (*enginetest.Env, *Engine) {
	env := enginetest.New(t, map[string]any{
		"monitor.tick_interval": "10ms",
		"reconcile.interval":    "10ms",
	})
	hub := trend.NewHub(time.Hour)
	hub.Set(trend.Update{Symbol: "EURUSD", Direction: models.SideBuy, ADX: 35, Confidence: 0.9})

	rec := recovery.NewCoordinator(env.Reg, env.Placer, env.Sim, hub, env.Cfg, env.Sink)
	prof := profit.NewCoordinator(env.Reg, env.Placer, env.Sim, rec, env.Cfg, env.Sink)
	svc := lifecycle.NewService(lifecycle.Deps{
		Registry: env.Reg,
		Gateway:  env.Sim,
		Gate:     env.Gate,
		Placer:   env.Placer,
		Recovery: rec,
		Profit:   prof,
		Trend:    hub,
		Locks:    env.Locks,
		Config:   env.Cfg,
		Sink:     env.Sink,
	})
	d := events.NewDispatcher(2, 16, svc.HandleEvent)
	m := monitor.New(env.Reg, env.Sim, d, env.Cfg, env.Sink)
	rl := reconcile.NewLoop(env.Reg, env.Sim, svc, env.Locks, env.Cfg, env.Sink)
	return env, NewEngine(env.Reg, env.Gate, svc, d, m, rl)
}

func openRole(env *enginetest.Env, role models.OrderRole) int {
	n := 0
	for _, p := range env.Reg.OpenPositions() {
		if p.Role == role {
			n++
		}
	}
	return n
}

// Сигнал -> обе ноги -> SL у брокера -> сверка -> ожидание -> возврат цены -> перезаход.
func TestEngine_SignalToRecoveryReentry(t *testing.T) {
	env, e := newEngine(t)
	require.NoError(t, e.Restore(context.Background()))

	signals := make(chan models.Signal, 1)
	e.Start(signals)
	defer func() { require.NoError(t, e.Stop(context.Background())) }()

	signals <- models.Signal{
		Symbol: "EURUSD", Side: models.SideBuy, Entry: 1.1000,
		SL: 1.0950, TP1: 1.1050, TP2: 1.1100, Strategy: "combined",
	}
	require.Eventually(t, func() bool { return len(env.Reg.OpenPositions()) == 2 }, 2*time.Second, 5*time.Millisecond)

	env.Sim.SetPrice("EURUSD", 1.0940)
	require.Eventually(t, func() bool {
		return len(env.Reg.OpenPositions()) == 0 && len(env.Reg.Watches()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	env.Sim.SetPrice("EURUSD", 1.0999)
	require.Eventually(t, func() bool {
		return env.Sink.Count(models.NotifyReentryExecuted) == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, openRole(env, models.RoleRecovery))
	assert.Empty(t, env.Reg.Watches())
	assert.Less(t, env.Gate.Snapshot().DailyPnL, 0.0)
}

func TestEngine_StopsWhenSignalsClosed(t *testing.T) {
	_, e := newEngine(t)
	signals := make(chan models.Signal)
	e.Start(signals)
	close(signals)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, e.Stop(ctx))
}

// Монитор, застрявший в тике на момент Stop, всё равно доносит событие до обработчика.
func TestEngine_StopLetsMonitorFinishTick(t *testing.T) {
	env := enginetest.New(t, map[string]any{
		"monitor.tick_interval": "10ms",
		"reconcile.interval":    "1h",
	})
	var handled atomic.Int32
	d := events.NewDispatcher(2, 16, func(context.Context, models.MonitorEvent) { handled.Add(1) })
	m := monitor.New(env.Reg, env.Sim, d, env.Cfg, env.Sink)
	rl := reconcile.NewLoop(env.Reg, env.Sim, nil, env.Locks, env.Cfg, env.Sink)
	e := NewEngine(env.Reg, env.Gate, nil, d, m, rl)

	require.NoError(t, env.Reg.AddWatch(context.Background(), &models.Watch{
		Kind: models.WatchRecovery, ChainID: "c1", Symbol: "EURUSD", Side: models.SideBuy,
		Entry: 1.1000, StopPrice: 1.0950, TriggerPrice: 1.0985, Deadline: time.Now().Add(time.Hour),
	}))
	env.Sim.SetPrice("EURUSD", 1.0990)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	env.Sim.PriceHook = func(string) error {
		once.Do(func() {
			close(entered)
			<-release
		})
		return nil
	}

	e.Start(make(chan models.Signal))
	<-entered

	stopped := make(chan error, 1)
	go func() { stopped <- e.Stop(context.Background()) }()

	select {
	case <-stopped:
		t.Fatal("stop returned while the monitor tick was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)

	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stop timed out")
	}
	assert.Equal(t, int32(1), handled.Load())
	assert.Empty(t, env.Reg.Watches())
}

func TestEngine_StopWithoutStart(t *testing.T) {
	_, e := newEngine(t)
	assert.NoError(t, e.Stop(context.Background()))
}
