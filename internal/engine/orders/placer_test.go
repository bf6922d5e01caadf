package orders

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"

	"lifecycle_bot/internal/engine/chains"
	"lifecycle_bot/internal/engine/risk"
	"lifecycle_bot/internal/models"
	broker "lifecycle_bot/internal/modules/broker/service"
	"lifecycle_bot/internal/modules/config"
	notify "lifecycle_bot/internal/modules/notify/service"
	storage "lifecycle_bot/internal/modules/storage/service"
	"lifecycle_bot/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logger.InitNop()
	os.Exit(m.Run())
}

type recorder struct {
	mu    sync.Mutex
	kinds []models.NotifyKind
}

func (r *recorder) Notify(kind models.NotifyKind, _ notify.Fields) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind)
}

func (r *recorder) count(kind models.NotifyKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, k := range r.kinds {
		if k == kind {
			n++
		}
	}
	return n
}

type fixture struct {
	sim  *broker.Simulator
	reg  *chains.Registry
	gate *risk.Gate
	p    *Placer
	sink *recorder
}

func newFixture(t *testing.T) fixture {
	return newFixtureWith(t, nil)
}

func newFixtureWith(t *testing.T, values map[string]any) fixture {
	t.Helper()
	base := map[string]any{
		"risk.tiers.default.max_risk_per_trade": 0.0,
		"risk.tiers.default.min_margin_level":   0.0,
	}
	for k, v := range values {
		base[k] = v
	}
	cfg := config.NewProviderWithValues(base)
	sim := broker.NewSimulator(10000)
	sim.SetPrice("EURUSD", 1.1000)
	store := storage.NewMemory()
	reg := chains.NewRegistry(store)
	gate := risk.NewGate(cfg, sim, store)
	sink := &recorder{}
	return fixture{sim: sim, reg: reg, gate: gate, p: NewPlacer(sim, gate, reg, cfg, sink), sink: sink}
}

func longSignal() models.Signal {
	return models.Signal{
		Symbol: "EURUSD", Side: models.SideBuy, Entry: 1.1000,
		SL: 1.0950, TP1: 1.1050, TP2: 1.1100, Strategy: "combined",
	}
}

func TestPlaceDual_BothLegs(t *testing.T) {
	f := newFixture(t)
	res := f.p.PlaceDual(context.Background(), longSignal(), "", 50)

	require.Empty(t, res.Errors)
	require.NotNil(t, res.OrderA.Position)
	require.NotNil(t, res.OrderB.Position)

	a, b := res.OrderA.Position, res.OrderB.Position
	// $50 / (50 пипов * $10) = 0.1 лота, пополам
	assert.InDelta(t, 0.05, a.Lot, 1e-9)
	assert.InDelta(t, 0.05, b.Lot, 1e-9)

	assert.InDelta(t, 1.0950, a.SL, 1e-9)
	assert.InDelta(t, 1.1100, a.TP, 1e-9)
	assert.InDelta(t, 1.1050, a.TP1, 1e-9)

	// B: $10 фиксированного риска / ($10 * 0.05) = 20 пипов
	assert.InDelta(t, 1.0980, b.SL, 1e-9)
	assert.InDelta(t, 1.1050, b.TP, 1e-9)

	chain, ok := f.reg.Chain(res.ChainID)
	require.True(t, ok)
	assert.Equal(t, models.ChainSLHunt, chain.Kind)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, chain.Positions)

	pc, ok := f.reg.Chain(res.ProfitChainID)
	require.True(t, ok)
	assert.Equal(t, models.ChainProfitBooking, pc.Kind)
	assert.Equal(t, []string{b.ID}, pc.Positions)

	stored, ok := f.reg.Position(b.ID)
	require.True(t, ok)
	assert.Equal(t, res.ChainID, stored.ChainID)
	assert.Equal(t, res.ProfitChainID, stored.ProfitChainID)
	assert.Equal(t, 2, f.sink.count(models.NotifyOrderPlaced))
}

func TestPlaceDual_LotKeepsStep(t *testing.T) {
	tests := []struct {
		name string
		risk float64
		lot  float64
	}{
		{"0.14 total", 70, 0.07},
		{"0.06 total", 30, 0.03},
		{"0.26 total", 130, 0.13},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			res := f.p.PlaceDual(context.Background(), longSignal(), "", tt.risk)
			require.Equal(t, 2, res.Placed(), "%v", res.Errors)
			assert.InDelta(t, tt.lot, res.OrderA.Position.Lot, 1e-9)
			assert.InDelta(t, tt.lot, res.OrderB.Position.Lot, 1e-9)
		})
	}
}

func TestPlaceDual_CombinedRiskBreachesDaily(t *testing.T) {
	ctx := context.Background()
	f := newFixtureWith(t, map[string]any{"risk.tiers.default.daily_loss_limit": 100.0})
	f.gate.RecordClose(ctx, -65)

	// A: 0.07 * 50 пипов * $10 = $35 (ровно до -100), B: $10; вместе -110
	res := f.p.PlaceDual(ctx, longSignal(), "", 70)

	assert.Equal(t, 0, res.Placed())
	assert.ErrorIs(t, res.OrderA.Err, ErrRiskRejected)
	assert.ErrorIs(t, res.OrderB.Err, ErrRiskRejected)
	assert.Empty(t, res.ChainID)
	assert.Empty(t, f.reg.OpenPositions())
	open, err := f.sim.GetAllPositions(ctx, "EURUSD")
	require.NoError(t, err)
	assert.Empty(t, open)
	assert.Equal(t, 1, f.sink.count(models.NotifyRiskRejected))
	assert.InDelta(t, -65, f.gate.Snapshot().DailyPnL, 1e-9)
}

func TestPlaceDual_CombinedRiskWithinDaily(t *testing.T) {
	ctx := context.Background()
	f := newFixtureWith(t, map[string]any{"risk.tiers.default.daily_loss_limit": 100.0})
	f.gate.RecordClose(ctx, -50)

	res := f.p.PlaceDual(ctx, longSignal(), "", 70)
	assert.Equal(t, 2, res.Placed(), "%v", res.Errors)
}

func TestPlaceDual_PartialFailureKeepsOtherLeg(t *testing.T) {
	f := newFixture(t)
	f.sim.PlaceHook = func(req broker.PlaceRequest) error {
		if strings.HasSuffix(req.Comment, "-A") {
			return broker.ErrInsufficientMargin
		}
		return nil
	}

	res := f.p.PlaceDual(context.Background(), longSignal(), "combined", 50)

	assert.Nil(t, res.OrderA.Position)
	assert.ErrorIs(t, res.OrderA.Err, broker.ErrInsufficientMargin)
	require.NotNil(t, res.OrderB.Position)
	assert.Equal(t, 1, res.Placed())
	require.Len(t, res.Errors, 1)

	chain, ok := f.reg.Chain(res.ChainID)
	require.True(t, ok)
	assert.Equal(t, []string{res.OrderB.Position.ID}, chain.Positions)
	assert.Len(t, f.reg.OpenPositions(), 1)
	assert.Equal(t, 1, f.sink.count(models.NotifyOrderFailed))
}

func TestPlaceDual_WrongSideSLRejectsOnlyThatLeg(t *testing.T) {
	f := newFixture(t)
	sig := longSignal()
	sig.SL = 1.1020 // выше цены для long

	res := f.p.PlaceDual(context.Background(), sig, "", 50)

	// лот считается от |цена-SL| = 20 пипов, A отклонена по стороне SL
	assert.ErrorIs(t, res.OrderA.Err, ErrInvalidStops)
	require.NotNil(t, res.OrderB.Position)
	assert.Less(t, res.OrderB.Position.SL, 1.1000)
}

func TestPlaceDual_BothFailNoChain(t *testing.T) {
	f := newFixture(t)
	f.sim.PlaceHook = func(req broker.PlaceRequest) error { return broker.ErrRejected }

	res := f.p.PlaceDual(context.Background(), longSignal(), "", 50)
	assert.Equal(t, 0, res.Placed())
	assert.Empty(t, res.ChainID)
	assert.Len(t, res.Errors, 2)
	assert.Empty(t, f.reg.OpenPositions())
}

func TestPlaceDual_InvalidSignal(t *testing.T) {
	f := newFixture(t)
	res := f.p.PlaceDual(context.Background(), models.Signal{Symbol: "EURUSD"}, "", 50)
	assert.Equal(t, 0, res.Placed())
	assert.NotEmpty(t, res.Errors)
}

func TestPlaceSingle_RiskRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.p.PlaceSingle(context.Background(), SingleRequest{
		Symbol: "EURUSD", Side: models.SideBuy, Lot: 10, SLDistance: 0.0300, Role: models.RoleRecovery,
	})
	// 10 лотов * 300 пипов * $10 = $30000 > дневного лимита
	assert.ErrorIs(t, err, ErrRiskRejected)
	assert.Equal(t, 1, f.sink.count(models.NotifyRiskRejected))
	assert.Empty(t, f.reg.OpenPositions())
}

func TestPlaceSingle_ShortUsesRR(t *testing.T) {
	f := newFixture(t)
	pos, err := f.p.PlaceSingle(context.Background(), SingleRequest{
		Symbol: "EURUSD", Side: models.SideSell, Lot: 0.1, SLDistance: 0.0040, RR: 1.5,
		Role: models.RoleRecovery, ChainID: "c1",
	})
	require.NoError(t, err)
	assert.InDelta(t, 1.1040, pos.SL, 1e-9)
	assert.InDelta(t, 1.0940, pos.TP, 1e-9)
	assert.Equal(t, "c1", pos.ChainID)
}

func TestValidateStops(t *testing.T) {
	tests := []struct {
		name    string
		side    models.Side
		sl, tp  float64
		wantSL  float64
		wantTP  float64
		wantErr bool
	}{
		{"long ok", models.SideBuy, 1.0950, 1.1100, 1.0950, 1.1100, false},
		{"long sl too close widened", models.SideBuy, 1.0998, 1.1100, 1.0995, 1.1100, false},
		{"long tp too close widened", models.SideBuy, 1.0950, 1.1001, 1.0950, 1.1005, false},
		{"long sl above price", models.SideBuy, 1.1010, 1.1100, 0, 0, true},
		{"long tp below price", models.SideBuy, 1.0950, 1.0990, 0, 0, true},
		{"short ok", models.SideSell, 1.1050, 1.0900, 1.1050, 1.0900, false},
		{"short sl below price", models.SideSell, 1.0990, 1.0900, 0, 0, true},
		{"no tp", models.SideBuy, 1.0950, 0, 1.0950, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sl, tp, err := ValidateStops(tt.side, 1.1000, tt.sl, tt.tp, 0.0005)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidStops)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.wantSL, sl, 1e-9)
			assert.InDelta(t, tt.wantTP, tp, 1e-9)
		})
	}
}
