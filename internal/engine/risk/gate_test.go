package risk

import (
	"context"
	"os"
	"testing"
	"time"

	"lifecycle_bot/internal/models"
	broker "lifecycle_bot/internal/modules/broker/service"
	"lifecycle_bot/internal/modules/config"
	storage "lifecycle_bot/internal/modules/storage/service"
	"lifecycle_bot/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logger.InitNop()
	os.Exit(m.Run())
}

func newGate(t *testing.T, values map[string]any) (*Gate, *broker.Simulator, *storage.Memory) {
	t.Helper()
	base := map[string]any{
		"risk.tiers.default.daily_loss_limit":    200.0,
		"risk.tiers.default.lifetime_loss_limit": 1000.0,
		"risk.tiers.default.max_risk_per_trade":  0.0,
		"risk.tiers.default.min_margin_level":    0.0,
	}
	for k, v := range values {
		base[k] = v
	}
	sim := broker.NewSimulator(10000)
	store := storage.NewMemory()
	return NewGate(config.NewProviderWithValues(base), sim, store), sim, store
}

func TestValidateTradeRisk_DailyBoundary(t *testing.T) {
	ctx := context.Background()
	g, _, _ := newGate(t, nil)
	g.RecordClose(ctx, -150)

	// EURUSD: $10 за пип на 1.0 лот => 0.1 лота * 50 пипов = $50, ровно до -200
	ok, reason := g.ValidateTradeRisk(ctx, "EURUSD", 0.1, 50)
	assert.True(t, ok, reason)

	ok, _ = g.ValidateTradeRisk(ctx, "EURUSD", 0.1, 50.1)
	assert.False(t, ok)

	// 0.01 лота * 500.1 пипа = $50.01: один цент за границей
	ok, _ = g.ValidateTradeRisk(ctx, "EURUSD", 0.01, 500.1)
	assert.False(t, ok)
	ok, reason = g.ValidateTradeRisk(ctx, "EURUSD", 0.01, 500)
	assert.True(t, ok, reason)
}

func TestValidateCombinedRisk_PairBreachesDaily(t *testing.T) {
	ctx := context.Background()
	g, _, _ := newGate(t, map[string]any{"risk.tiers.default.daily_loss_limit": 100.0})
	g.RecordClose(ctx, -65)

	a := LegRisk{Lot: 0.07, SLPips: 50} // $35
	b := LegRisk{Lot: 0.07, SLPips: 14.29}

	// каждая нога отдельно укладывается в лимит
	ok, reason := g.ValidateTradeRisk(ctx, "EURUSD", a.Lot, a.SLPips)
	assert.True(t, ok, reason)
	ok, reason = g.ValidateTradeRisk(ctx, "EURUSD", b.Lot, b.SLPips)
	assert.True(t, ok, reason)

	ok, reason = g.ValidateCombinedRisk(ctx, "EURUSD", a, b)
	assert.False(t, ok)
	assert.Contains(t, reason, "daily")

	ok, reason = g.ValidateCombinedRisk(ctx, "EURUSD", a)
	assert.True(t, ok, reason)
}

func TestValidateCombinedRisk_InvalidLeg(t *testing.T) {
	g, _, _ := newGate(t, nil)
	ok, _ := g.ValidateCombinedRisk(context.Background(), "EURUSD", LegRisk{Lot: 0.1, SLPips: 10}, LegRisk{Lot: 0})
	assert.False(t, ok)
}

func TestCanTrade_LifetimeAndDaily(t *testing.T) {
	ctx := context.Background()
	g, _, _ := newGate(t, map[string]any{"risk.tiers.default.lifetime_loss_limit": 300.0})

	ok, _ := g.CanTrade()
	assert.True(t, ok)

	g.RecordClose(ctx, -200)
	ok, reason := g.CanTrade()
	assert.False(t, ok)
	assert.Contains(t, reason, "daily")

	// новый день: дневной сброшен, lifetime остался
	g.now = func() time.Time { return time.Now().Add(24 * time.Hour) }
	ok, _ = g.CanTrade()
	assert.True(t, ok)

	g.RecordClose(ctx, -100)
	ok, reason = g.CanTrade()
	assert.False(t, ok)
	assert.Contains(t, reason, "lifetime")
}

func TestValidateTradeRisk_PerTradeCapAndMargin(t *testing.T) {
	ctx := context.Background()
	g, sim, _ := newGate(t, map[string]any{
		"risk.tiers.default.max_risk_per_trade": 40.0,
		"risk.tiers.default.min_free_margin":    9500.0,
	})

	ok, reason := g.ValidateTradeRisk(ctx, "EURUSD", 0.1, 50)
	assert.False(t, ok)
	assert.Contains(t, reason, "risk per trade")

	ok, reason = g.ValidateTradeRisk(ctx, "EURUSD", 0.1, 30)
	assert.True(t, ok, reason)

	// 1 лот съедает $1000 маржи => свободной 9000 < 9500
	_, err := sim.PlaceOrder(ctx, broker.PlaceRequest{Symbol: "EURUSD", Side: models.SideBuy, Lot: 1})
	require.NoError(t, err)
	ok, reason = g.ValidateTradeRisk(ctx, "EURUSD", 0.1, 30)
	assert.False(t, ok)
	assert.Contains(t, reason, "free margin")
}

func TestValidateTradeRisk_UnknownSymbol(t *testing.T) {
	g, _, _ := newGate(t, nil)
	ok, reason := g.ValidateTradeRisk(context.Background(), "NOPE", 0.1, 10)
	assert.False(t, ok)
	assert.Contains(t, reason, "NOPE")
}

func TestRecordClose_PersistsAndRestores(t *testing.T) {
	ctx := context.Background()
	g, sim, store := newGate(t, nil)
	g.RecordClose(ctx, -12)
	g.RecordClose(ctx, 5)

	st, ok, err := store.LoadRiskState(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, -7.0, st.DailyPnL, 1e-9)
	assert.Equal(t, 2, st.TradesToday)

	g2 := NewGate(config.NewProviderWithValues(nil), sim, store)
	require.NoError(t, g2.Restore(ctx))
	assert.InDelta(t, -7.0, g2.Snapshot().LifetimePnL, 1e-9)
}
