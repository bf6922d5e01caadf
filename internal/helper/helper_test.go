package helper

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeLot(t *testing.T) {
	tests := []struct {
		name   string
		lot    float64
		min    float64
		step   float64
		max    float64
		expect float64
	}{
		{"floor to step", 0.0789, 0.01, 0.01, 100, 0.07},
		{"exact step survives", 0.07, 0.01, 0.01, 100, 0.07},
		{"below min raised", 0.004, 0.01, 0.01, 100, 0.01},
		{"capped by max", 150, 0.01, 0.01, 100, 100},
		{"coarse step", 1.37, 0.1, 0.5, 0, 1.0},
		{"zero step falls back to min", 0.37, 0.1, 0, 0, 0.3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expect, NormalizeLot(tt.lot, tt.min, tt.step, tt.max), 1e-9)
		})
	}
}

func TestLotForRisk(t *testing.T) {
	tests := []struct {
		name   string
		risk   float64
		entry  float64
		sl     float64
		expect float64
	}{
		{"50 pips long", 70, 1.1000, 1.0950, 0.14},
		{"50 pips short", 50, 1.1000, 1.1050, 0.1},
		{"fractional pips", 30, 1.23456, 1.23156, 0.1},
		{"zero distance", 50, 1.1000, 1.1000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expect, LotForRisk(tt.risk, tt.entry, tt.sl, 0.0001, 10), 1e-9)
		})
	}
	// половина от 0.14 не должна терять шаг
	assert.InDelta(t, 0.07, NormalizeLot(LotForRisk(70, 1.1000, 1.0950, 0.0001, 10)/2, 0.01, 0.01, 100), 1e-9)
}

func TestCents(t *testing.T) {
	assert.Equal(t, int64(-20000), Cents(-200))
	assert.Equal(t, int64(-20001), Cents(-200.01))
	assert.Equal(t, int64(30), Cents(0.1+0.2))
}

func TestPositionKey(t *testing.T) {
	key := PositionKey("BTC-USDT-SWAP", "long")
	inst, side, ok := SplitPositionKey(key)
	assert.True(t, ok)
	assert.Equal(t, "BTC-USDT-SWAP", inst)
	assert.Equal(t, "long", side)

	_, _, ok = SplitPositionKey("BTC-USDT-SWAP:flat")
	assert.False(t, ok)
	_, _, ok = SplitPositionKey("nokey")
	assert.False(t, ok)
}

func TestRoundToTick(t *testing.T) {
	assert.InDelta(t, 1.0985, RoundToTick(1.09849999, 0.0001), 1e-12)
	assert.InDelta(t, 1.2, RoundUpToTick(1.11, 0.1), 1e-12)
	assert.InDelta(t, 1.1, RoundDownToTick(1.19, 0.1), 1e-12)
}
