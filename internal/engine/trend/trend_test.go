package trend

import (
	"context"
	"testing"
	"time"

	"lifecycle_bot/internal/models"
	"lifecycle_bot/internal/modules/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStrong(t *testing.T) {
	th := config.TrendThresholds{ADX: 25, Confidence: 0.6}
	tests := []struct {
		name string
		s    Snapshot
		want bool
	}{
		{"all thresholds met", Snapshot{ADX: 25, Confidence: 0.6, Aligned: true}, true},
		{"adx low", Snapshot{ADX: 24.9, Confidence: 0.9, Aligned: true}, false},
		{"confidence low", Snapshot{ADX: 40, Confidence: 0.59, Aligned: true}, false},
		{"not aligned", Snapshot{ADX: 40, Confidence: 0.9, Aligned: false}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Strong(tt.s, th))
		})
	}
}

func TestHub_StaleAndAlignment(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	h := NewHub(10 * time.Minute)
	h.now = func() time.Time { return now }

	h.Set(Update{Symbol: "eurusd", Direction: models.SideBuy, ADX: 30, Confidence: 0.8})

	s, err := h.Snapshot(context.Background(), "EURUSD", models.SideBuy)
	require.NoError(t, err)
	assert.True(t, s.Aligned)
	assert.InDelta(t, 30.0, s.ADX, 1e-9)

	s, _ = h.Snapshot(context.Background(), "EURUSD", models.SideSell)
	assert.False(t, s.Aligned)

	now = now.Add(11 * time.Minute)
	s, _ = h.Snapshot(context.Background(), "EURUSD", models.SideBuy)
	assert.Equal(t, Snapshot{}, s)
}
