package trend

import (
	"context"
	"strings"
	"sync"
	"time"

	"lifecycle_bot/internal/models"
	"lifecycle_bot/internal/modules/config"
)

// Snapshot: оценка тренда по символу на момент решения.
type Snapshot struct {
	ADX        float64
	Confidence float64
	Aligned    bool // тренд совпадает со стороной позиции
	At         time.Time
}

// Checker: «достаточно ли хорош сетап для перезахода / удержания».
type Checker interface {
	Snapshot(ctx context.Context, symbol string, side models.Side) (Snapshot, error)
}

// Strong: ADX и уверенность не ниже порогов и тренд по стороне позиции.
func Strong(s Snapshot, th config.TrendThresholds) bool {
	return s.Aligned && s.ADX >= th.ADX && s.Confidence >= th.Confidence
}

// Update: обновление тренда от внешнего источника (signal feed).
type Update struct {
	Symbol     string
	Direction  models.Side
	ADX        float64
	Confidence float64
	At         time.Time
}

// Hub хранит последнее обновление по символу. Нет данных или устарели => слабый тренд.
type Hub struct {
	mu     sync.RWMutex
	last   map[string]Update
	maxAge time.Duration
	now    func() time.Time
}

func NewHub(maxAge time.Duration) *Hub {
	if maxAge <= 0 {
		maxAge = 15 * time.Minute
	}
	return &Hub{last: make(map[string]Update), maxAge: maxAge, now: time.Now}
}

func (h *Hub) Set(u Update) {
	if u.At.IsZero() {
		u.At = h.now()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last[strings.ToUpper(u.Symbol)] = u
}

func (h *Hub) Snapshot(_ context.Context, symbol string, side models.Side) (Snapshot, error) {
	h.mu.RLock()
	u, ok := h.last[strings.ToUpper(symbol)]
	h.mu.RUnlock()
	if !ok || h.now().Sub(u.At) > h.maxAge {
		return Snapshot{}, nil
	}
	return Snapshot{
		ADX:        u.ADX,
		Confidence: u.Confidence,
		Aligned:    u.Direction == side,
		At:         u.At,
	}, nil
}

var _ Checker = (*Hub)(nil)
