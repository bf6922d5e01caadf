package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"lifecycle_bot/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testChain(id string, status models.ChainStatus) *models.Chain {
	return &models.Chain{
		ID:             id,
		Kind:           models.ChainSLHunt,
		Symbol:         "EURUSD",
		Side:           models.SideBuy,
		Status:         status,
		Level:          1,
		MaxLevels:      3,
		Reduction:      0.2,
		Positions:      []string{"p1", "p2"},
		BaseEntry:      1.1,
		BaseSLDistance: 0.005,
		BaseLot:        0.1,
		CreatedAt:      time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestSQL_SaveChainUpserts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO chains .* ON CONFLICT \(id\) DO UPDATE`).
		WithArgs("c1", "SL_HUNT", "EURUSD", "ACTIVE", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := NewSQL(db)
	require.NoError(t, s.SaveChain(context.Background(), testChain("c1", models.ChainActive)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQL_LoadOpenChainsDecodesPayload(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"payload"}).
		AddRow(`{"id":"c1","kind":"SL_HUNT","symbol":"EURUSD","side":"BUY","status":"ACTIVE","level":2,"max_levels":3,"positions":["p1"],"base_sl_distance":0.005}`)
	mock.ExpectQuery(`SELECT payload FROM chains WHERE status <> \?`).
		WithArgs("CLOSED").
		WillReturnRows(rows)

	s := NewSQL(db)
	chains, err := s.LoadOpenChains(context.Background())
	require.NoError(t, err)
	require.Len(t, chains, 1)
	assert.Equal(t, 2, chains[0].Level)
	assert.Equal(t, []string{"p1"}, chains[0].Positions)
	assert.InDelta(t, 0.005, chains[0].BaseSLDistance, 1e-12)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQL_SaveErrorIsWrapped(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`DELETE FROM watches`).WithArgs("w1").WillReturnError(assert.AnError)

	s := NewSQL(db)
	err = s.DeleteWatch(context.Background(), "w1")
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "delete watch w1")
}

func TestSQL_LoadRiskStateEmpty(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT payload FROM risk_state`).WillReturnRows(sqlmock.NewRows([]string{"payload"}))

	s := NewSQL(db)
	_, ok, err := s.LoadRiskState(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLite_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "state", "lifecycle.db"))
	require.NoError(t, err)
	defer s.Close()

	open := testChain("c1", models.ChainActive)
	require.NoError(t, s.SaveChain(ctx, open))
	require.NoError(t, s.SaveChain(ctx, testChain("c2", models.ChainClosed)))
	require.NoError(t, s.SaveChain(ctx, testChain("c3", models.ChainExhausted)))

	open.Level = 2
	require.NoError(t, s.SaveChain(ctx, open))

	chains, err := s.LoadOpenChains(ctx)
	require.NoError(t, err)
	require.Len(t, chains, 2)
	byID := map[string]*models.Chain{}
	for _, c := range chains {
		byID[c.ID] = c
	}
	require.Contains(t, byID, "c1")
	require.Contains(t, byID, "c3")
	assert.Equal(t, 2, byID["c1"].Level)
	assert.Equal(t, models.ChainExhausted, byID["c3"].Status)

	pos := &models.Position{ID: "p1", Ticket: "SIM-1", Symbol: "EURUSD", Side: models.SideBuy, Status: models.PositionOpen, Lot: 0.05}
	require.NoError(t, s.SavePosition(ctx, pos))
	pos.Status = models.PositionClosed
	pos.CloseReason = models.CloseSLHit
	require.NoError(t, s.SavePosition(ctx, pos))
	positions, err := s.LoadOpenPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions)

	w := &models.Watch{ID: "w1", Kind: models.WatchRecovery, ChainID: "c1", Symbol: "EURUSD", TriggerPrice: 1.0985}
	require.NoError(t, s.SaveWatch(ctx, w))
	watches, err := s.LoadWatches(ctx)
	require.NoError(t, err)
	require.Len(t, watches, 1)
	assert.InDelta(t, 1.0985, watches[0].TriggerPrice, 1e-12)
	require.NoError(t, s.DeleteWatch(ctx, "w1"))
	watches, err = s.LoadWatches(ctx)
	require.NoError(t, err)
	assert.Empty(t, watches)

	st := models.RiskState{Day: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), DailyPnL: -120.5, LifetimePnL: -300, TradesToday: 4}
	require.NoError(t, s.SaveRiskState(ctx, st))
	got, ok, err := s.LoadRiskState(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, -120.5, got.DailyPnL, 1e-9)
	assert.Equal(t, 4, got.TradesToday)
}

func TestMemory_ClosedChainsSkipped(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	c1 := testChain("c1", models.ChainActive)
	c2 := testChain("c2", models.ChainExhausted)
	c2.CreatedAt = c1.CreatedAt.Add(time.Minute)
	require.NoError(t, m.SaveChain(ctx, c1))
	require.NoError(t, m.SaveChain(ctx, c2))
	require.NoError(t, m.SaveChain(ctx, testChain("c3", models.ChainClosed)))

	chains, err := m.LoadOpenChains(ctx)
	require.NoError(t, err)
	require.Len(t, chains, 2)
	assert.Equal(t, "c1", chains[0].ID)
	assert.Equal(t, "c2", chains[1].ID)

	// отданная копия не должна менять хранилище
	chains[0].Positions[0] = "changed"
	again, _ := m.LoadOpenChains(ctx)
	assert.Equal(t, "p1", again[0].Positions[0])
	assert.Len(t, m.Chains(), 2)
}
