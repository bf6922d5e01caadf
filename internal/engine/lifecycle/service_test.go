package lifecycle

import (
	"context"
	"os"
	"testing"

	"lifecycle_bot/internal/engine/enginetest"
	"lifecycle_bot/internal/engine/orders"
	"lifecycle_bot/internal/engine/profit"
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

type fixedTrend struct{ snap trend.Snapshot }

func (f *fixedTrend) Snapshot(context.Context, string, models.Side) (trend.Snapshot, error) {
	return f.snap, nil
}

var (
	strong = trend.Snapshot{ADX: 30, Confidence: 0.75, Aligned: true}
	weak   = trend.Snapshot{ADX: 15, Confidence: 0.4, Aligned: true}
)

func newService(t *testing.T, values map[string]any) (*enginetest.Env, *fixedTrend, *Service) {
	env := enginetest.New(t, values)
	tr := &fixedTrend{snap: strong}
	rec := recovery.NewCoordinator(env.Reg, env.Placer, env.Sim, tr, env.Cfg, env.Sink)
	prof := profit.NewCoordinator(env.Reg, env.Placer, env.Sim, rec, env.Cfg, env.Sink)
	svc := NewService(Deps{
		Registry: env.Reg,
		Gateway:  env.Sim,
		Gate:     env.Gate,
		Placer:   env.Placer,
		Recovery: rec,
		Profit:   prof,
		Trend:    tr,
		Locks:    env.Locks,
		Config:   env.Cfg,
		Sink:     env.Sink,
	})
	return env, tr, svc
}

func longSignal() models.Signal {
	return models.Signal{
		Symbol: "EURUSD", Side: models.SideBuy, Entry: 1.1000,
		SL: 1.0950, TP1: 1.1050, TP2: 1.1100, Strategy: "combined",
	}
}

func TestHandleClose_StopLossArmsRecoveryOnce(t *testing.T) {
	env, _, svc := newService(t, nil)
	ctx := context.Background()
	pos := env.Open(t, orders.SingleRequest{Side: models.SideBuy, Lot: 0.1, SLDistance: 0.0050})

	closed, err := svc.HandleClose(ctx, pos, models.CloseSLHit, -50)
	require.NoError(t, err)
	assert.Equal(t, models.PositionClosed, closed.Status)

	_, err = svc.HandleClose(ctx, pos, models.CloseSLHit, -50)
	require.NoError(t, err)

	st := env.Gate.Snapshot()
	assert.InDelta(t, -50, st.DailyPnL, 1e-9)
	assert.Equal(t, 1, st.TradesToday)
	assert.Len(t, env.Reg.Watches(), 1)
	assert.Equal(t, 1, env.Sink.Count(models.NotifyPositionClosed))
}

func TestHandleClose_TakeProfitOnLegAArmsContinuation(t *testing.T) {
	env, _, svc := newService(t, nil)
	pos := env.Open(t, orders.SingleRequest{Side: models.SideBuy, Lot: 0.1, SLDistance: 0.0050, Role: models.RoleA})

	_, err := svc.HandleClose(context.Background(), pos, models.CloseTPHit, 100)
	require.NoError(t, err)

	ws := env.Reg.Watches()
	require.Len(t, ws, 1)
	assert.Equal(t, models.WatchContinuation, ws[0].Kind)
}

func TestHandleClose_ManualDoesNothingElse(t *testing.T) {
	env, _, svc := newService(t, nil)
	res := env.Placer.PlaceDual(context.Background(), longSignal(), "", 50)
	require.Equal(t, 2, res.Placed())

	_, err := svc.HandleClose(context.Background(), res.OrderB.Position, models.CloseManual, 3)
	require.NoError(t, err)

	assert.Empty(t, env.Reg.Watches())
	pc, ok := env.Reg.Chain(res.ProfitChainID)
	require.True(t, ok)
	assert.Equal(t, models.ChainClosed, pc.Status)
}

func TestClosePosition_ManualAtBroker(t *testing.T) {
	env, _, svc := newService(t, nil)
	pos := env.Open(t, orders.SingleRequest{Side: models.SideBuy, Lot: 0.1, SLDistance: 0.0050})
	env.Sim.SetPrice("EURUSD", 1.1020)

	closed, err := svc.ClosePosition(context.Background(), pos.ID, models.CloseManual)
	require.NoError(t, err)
	assert.Equal(t, models.CloseManual, closed.CloseReason)
	// 20 пипов * $10 * 0.1
	assert.InDelta(t, 20, closed.PnL, 1e-9)

	bp, err := env.Sim.GetPosition(context.Background(), pos.Ticket)
	require.NoError(t, err)
	assert.Nil(t, bp)
	assert.Empty(t, env.Reg.Watches())

	// второй раз: позиция уже закрыта, брокер не трогается
	again, err := svc.ClosePosition(context.Background(), pos.ID, models.CloseManual)
	require.NoError(t, err)
	assert.Equal(t, models.PositionClosed, again.Status)
	assert.Equal(t, 1, env.Sink.Count(models.NotifyPositionClosed))
}

func TestHandleSignal_PlacesDual(t *testing.T) {
	env, _, svc := newService(t, nil)
	res, err := svc.HandleSignal(context.Background(), longSignal())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Placed())
	assert.Len(t, env.Reg.OpenPositions(), 2)
}

func TestHandleSignal_ReversalClosesOpposite(t *testing.T) {
	env, _, svc := newService(t, nil)
	ctx := context.Background()
	first, err := svc.HandleSignal(ctx, longSignal())
	require.NoError(t, err)

	short := models.Signal{Symbol: "EURUSD", Side: models.SideSell, Entry: 1.1000, SL: 1.1050, TP1: 1.0950}
	res, err := svc.HandleSignal(ctx, short)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Placed())

	open := env.Reg.OpenPositions()
	require.Len(t, open, 2)
	for _, p := range open {
		assert.Equal(t, models.SideSell, p.Side)
	}
	a, ok := env.Store.Position(first.OrderA.Position.ID)
	require.True(t, ok)
	assert.Equal(t, models.CloseReversal, a.CloseReason)
	assert.Empty(t, env.Reg.Watches())
}

func TestHandleSignal_HaltedByDailyLoss(t *testing.T) {
	env, _, svc := newService(t, nil)
	env.Gate.RecordClose(context.Background(), -200)

	res, err := svc.HandleSignal(context.Background(), longSignal())
	assert.ErrorIs(t, err, ErrTradingHalted)
	assert.Equal(t, 0, res.Placed())
	assert.Equal(t, 1, env.Sink.Count(models.NotifyRiskRejected))
}

func TestHandleSignal_InvalidSignal(t *testing.T) {
	_, _, svc := newService(t, nil)
	_, err := svc.HandleSignal(context.Background(), models.Signal{Symbol: "EURUSD", Side: models.SideBuy})
	assert.Error(t, err)
}

func targetEvent(pos *models.Position, price float64) models.MonitorEvent {
	return models.MonitorEvent{Kind: models.EventTargetReached, Position: pos, Price: price}
}

func TestOnTargetReached_StrongTrendHolds(t *testing.T) {
	env, _, svc := newService(t, nil)
	pos := env.Open(t, orders.SingleRequest{Side: models.SideBuy, Lot: 0.1, SLDistance: 0.0050})
	env.Sim.SetPrice("EURUSD", 1.1050)

	d := svc.OnTargetReached(context.Background(), targetEvent(pos, 1.1050))

	assert.Equal(t, ExitHold, d.Action)
	got, _ := env.Reg.Position(pos.ID)
	assert.InDelta(t, 0.1, got.Lot, 1e-9)
	assert.Equal(t, 1, env.Sink.Count(models.NotifyExitDecision))
}

func TestOnTargetReached_WeakTrendClosesHalf(t *testing.T) {
	env, tr, svc := newService(t, nil)
	tr.snap = weak
	pos := env.Open(t, orders.SingleRequest{Side: models.SideBuy, Lot: 0.1, SLDistance: 0.0050})
	env.Sim.SetPrice("EURUSD", 1.1050)

	d := svc.OnTargetReached(context.Background(), targetEvent(pos, 1.1050))

	assert.Equal(t, ExitPartial, d.Action)
	assert.Equal(t, "conditions_weak", d.Reason)
	assert.InDelta(t, 0.05, d.ClosedLot, 1e-9)
	assert.InDelta(t, 25, d.PnL, 1e-9)

	got, _ := env.Reg.Position(pos.ID)
	assert.InDelta(t, 0.05, got.Lot, 1e-9)
	assert.True(t, got.IsOpen())
	bp, err := env.Sim.GetPosition(context.Background(), pos.Ticket)
	require.NoError(t, err)
	require.NotNil(t, bp)
	assert.InDelta(t, 0.05, bp.Lot, 1e-9)

	st := env.Gate.Snapshot()
	assert.InDelta(t, 25, st.DailyPnL, 1e-9)
	assert.Equal(t, 0, st.TradesToday)
}

func TestOnTargetReached_LotTooSmallHolds(t *testing.T) {
	env, tr, svc := newService(t, nil)
	tr.snap = weak
	pos := env.Open(t, orders.SingleRequest{Side: models.SideBuy, Lot: 0.01, SLDistance: 0.0050})

	d := svc.OnTargetReached(context.Background(), targetEvent(pos, 1.1050))
	assert.Equal(t, ExitHold, d.Action)
	assert.Equal(t, "lot_too_small", d.Reason)
}

func TestHandleEvent_RoutesRecovery(t *testing.T) {
	env, _, svc := newService(t, nil)
	ctx := context.Background()
	pos := env.Open(t, orders.SingleRequest{Side: models.SideBuy, Lot: 0.1, SLDistance: 0.0050})
	_, err := svc.HandleClose(ctx, pos, models.CloseSLHit, -50)
	require.NoError(t, err)

	ws := env.Reg.Watches()
	require.Len(t, ws, 1)
	w, _ := env.Reg.RemoveWatch(ctx, ws[0].ID)
	env.Sim.SetPrice("EURUSD", 1.0990)

	svc.HandleEvent(ctx, models.MonitorEvent{Kind: models.EventRecoveryTriggered, Watch: w, Price: 1.0990})
	assert.Equal(t, 1, env.Sink.Count(models.NotifyReentryExecuted))
}
