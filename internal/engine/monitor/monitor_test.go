package monitor

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"lifecycle_bot/internal/engine/enginetest"
	"lifecycle_bot/internal/models"
	broker "lifecycle_bot/internal/modules/broker/service"
	"lifecycle_bot/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logger.InitNop()
	os.Exit(m.Run())
}

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func setup(t *testing.T, values map[string]any) (*enginetest.Env, *enginetest.Events, *Monitor) {
	env := enginetest.New(t, values)
	evs := &enginetest.Events{}
	return env, evs, New(env.Reg, env.Sim, evs, env.Cfg, env.Sink)
}

func addWatch(t *testing.T, env *enginetest.Env, w *models.Watch) *models.Watch {
	t.Helper()
	require.NoError(t, env.Reg.AddWatch(context.Background(), w))
	return w
}

func recoveryWatch(chain string) *models.Watch {
	return &models.Watch{
		Kind: models.WatchRecovery, ChainID: chain, Symbol: "EURUSD", Side: models.SideBuy,
		Entry: 1.1000, StopPrice: 1.0950, TriggerPrice: 1.0985, Deadline: t0.Add(30 * time.Minute),
	}
}

func TestTick_RecoveryTriggerRemovesThenEmits(t *testing.T) {
	env, evs, m := setup(t, nil)
	addWatch(t, env, recoveryWatch("c1"))

	env.Sim.SetPrice("EURUSD", 1.0984)
	st := m.Tick(context.Background(), t0)
	assert.Equal(t, 0, st.Emitted)
	assert.Len(t, env.Reg.Watches(), 1)

	env.Sim.SetPrice("EURUSD", 1.0986)
	st = m.Tick(context.Background(), t0.Add(time.Second))
	assert.Equal(t, 1, st.Emitted)
	assert.Empty(t, env.Reg.Watches())

	list := evs.List()
	require.Len(t, list, 1)
	assert.Equal(t, models.EventRecoveryTriggered, list[0].Kind)
	assert.Equal(t, "c1", list[0].Watch.ChainID)
	assert.InDelta(t, 1.0986, list[0].Price, 1e-9)

	// повторный тик ничего не шлёт
	m.Tick(context.Background(), t0.Add(2*time.Second))
	assert.Len(t, evs.List(), 1)
}

func TestTick_TimeoutWhenNotTriggered(t *testing.T) {
	env, evs, m := setup(t, nil)
	addWatch(t, env, recoveryWatch("c1"))
	env.Sim.SetPrice("EURUSD", 1.0960)

	m.Tick(context.Background(), t0.Add(31*time.Minute))

	list := evs.List()
	require.Len(t, list, 1)
	assert.Equal(t, models.EventRecoveryTimedOut, list[0].Kind)
	assert.Empty(t, env.Reg.Watches())
}

func TestTick_ContinuationIsInverted(t *testing.T) {
	env, evs, m := setup(t, nil)
	addWatch(t, env, &models.Watch{
		Kind: models.WatchContinuation, ChainID: "c2", Symbol: "EURUSD", Side: models.SideBuy,
		Entry: 1.1000, TakeProfit: 1.1050, TriggerPrice: 1.1048, Deadline: t0.Add(time.Hour),
	})

	env.Sim.SetPrice("EURUSD", 1.1060)
	m.Tick(context.Background(), t0)
	assert.Empty(t, evs.List())

	env.Sim.SetPrice("EURUSD", 1.1047)
	m.Tick(context.Background(), t0)
	list := evs.List()
	require.Len(t, list, 1)
	assert.Equal(t, models.EventContinuationTriggered, list[0].Kind)
}

func TestTick_TargetReachedOnce(t *testing.T) {
	env, evs, m := setup(t, nil)
	pos := &models.Position{
		Ticket: "T1", Symbol: "EURUSD", Side: models.SideBuy, Entry: 1.1000,
		SL: 1.0950, TP: 1.1100, TP1: 1.1050, Lot: 0.1, Role: models.RoleA,
	}
	require.NoError(t, env.Reg.RegisterPosition(context.Background(), pos))

	env.Sim.SetPrice("EURUSD", 1.1051)
	m.Tick(context.Background(), t0)
	m.Tick(context.Background(), t0.Add(time.Second))

	list := evs.List()
	require.Len(t, list, 1)
	assert.Equal(t, models.EventTargetReached, list[0].Kind)
	assert.True(t, list[0].Position.TP1Handled)

	stored, ok := env.Reg.Position(pos.ID)
	require.True(t, ok)
	assert.True(t, stored.TP1Handled)
}

func TestTick_EmitFailureKeepsWatch(t *testing.T) {
	env, evs, m := setup(t, nil)
	addWatch(t, env, recoveryWatch("c1"))
	evs.Err = errors.New("queue closed")

	env.Sim.SetPrice("EURUSD", 1.0990)
	st := m.Tick(context.Background(), t0)
	assert.Equal(t, 0, st.Emitted)
	assert.Len(t, env.Reg.Watches(), 1)

	evs.Err = nil
	m.Tick(context.Background(), t0)
	assert.Len(t, evs.List(), 1)
	assert.Empty(t, env.Reg.Watches())
}

func TestTick_TargetEmitFailureKeepsCheckpoint(t *testing.T) {
	env, evs, m := setup(t, nil)
	pos := &models.Position{
		Ticket: "T1", Symbol: "EURUSD", Side: models.SideBuy, Entry: 1.1000,
		SL: 1.0950, TP: 1.1100, TP1: 1.1050, Lot: 0.1, Role: models.RoleA,
	}
	require.NoError(t, env.Reg.RegisterPosition(context.Background(), pos))
	evs.Err = errors.New("queue closed")

	env.Sim.SetPrice("EURUSD", 1.1051)
	st := m.Tick(context.Background(), t0)
	assert.Equal(t, 0, st.Emitted)
	stored, ok := env.Reg.Position(pos.ID)
	require.True(t, ok)
	assert.False(t, stored.TP1Handled)
	persisted, ok := env.Store.Position(pos.ID)
	require.True(t, ok)
	assert.False(t, persisted.TP1Handled)

	evs.Err = nil
	st = m.Tick(context.Background(), t0.Add(time.Second))
	assert.Equal(t, 1, st.Emitted)
	list := evs.List()
	require.Len(t, list, 1)
	assert.Equal(t, models.EventTargetReached, list[0].Kind)

	stored, ok = env.Reg.Position(pos.ID)
	require.True(t, ok)
	assert.True(t, stored.TP1Handled)
}

func TestBreaker_OpensAfterConsecutiveFailuresAndResets(t *testing.T) {
	env, evs, m := setup(t, map[string]any{"monitor.breaker_threshold": 3})
	addWatch(t, env, recoveryWatch("c1"))
	env.Sim.PriceHook = func(string) error { return broker.ErrTransient }

	for i := 0; i < 3; i++ {
		st := m.Tick(context.Background(), t0)
		assert.Equal(t, 1, st.Errors)
	}
	assert.True(t, m.State().CircuitOpen)
	assert.Equal(t, 1, env.Sink.Count(models.NotifyCircuitOpen))

	st := m.Tick(context.Background(), t0)
	assert.True(t, st.Skipped)

	env.Sim.PriceHook = nil
	env.Sim.SetPrice("EURUSD", 1.0990)
	m.Reset()
	assert.False(t, m.State().CircuitOpen)

	st = m.Tick(context.Background(), t0)
	assert.False(t, st.Skipped)
	assert.Equal(t, 1, st.Emitted)
	assert.Len(t, evs.List(), 1)
}

func TestBreaker_PartialFailureDoesNotCount(t *testing.T) {
	env, _, m := setup(t, map[string]any{"monitor.breaker_threshold": 2})
	addWatch(t, env, recoveryWatch("c1"))
	w := recoveryWatch("c2")
	w.Symbol = "GBPUSD"
	w.TriggerPrice = 2.0
	addWatch(t, env, w)

	env.Sim.PriceHook = func(symbol string) error {
		if symbol == "EURUSD" {
			return broker.ErrTransient
		}
		return nil
	}
	for i := 0; i < 5; i++ {
		m.Tick(context.Background(), t0)
	}
	assert.False(t, m.State().CircuitOpen)
	assert.Equal(t, 0, m.State().ConsecutiveFailures)
}

func TestBreaker_PanicCounts(t *testing.T) {
	env, _, m := setup(t, map[string]any{"monitor.breaker_threshold": 1})
	addWatch(t, env, recoveryWatch("c1"))
	env.Sim.PriceHook = func(string) error { panic("feed exploded") }

	st := m.Tick(context.Background(), t0)
	assert.Equal(t, 1, st.Panics)
	assert.True(t, m.State().CircuitOpen)
}

func TestRun_StopsOnCancel(t *testing.T) {
	env, evs, m := setup(t, map[string]any{"monitor.tick_interval": "10ms"})
	addWatch(t, env, recoveryWatch("c1"))
	env.Sim.SetPrice("EURUSD", 1.0990)
	m.now = func() time.Time { return t0 }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { m.Run(ctx); close(done) }()

	assert.Eventually(t, func() bool { return len(evs.List()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}
