package models

import (
	"math"
	"time"
)

type ChainKind string

const (
	ChainSLHunt         ChainKind = "SL_HUNT"
	ChainTPContinuation ChainKind = "TP_CONTINUATION"
	ChainProfitBooking  ChainKind = "PROFIT_BOOKING"
)

type ChainStatus string

const (
	ChainActive    ChainStatus = "ACTIVE"
	ChainExhausted ChainStatus = "EXHAUSTED"
	ChainClosed    ChainStatus = "CLOSED"
)

// Chain: цепочка перезаходов. Base* замораживаются при создании,
// все уровни считаются от них, а не от предыдущего уровня.
type Chain struct {
	ID        string      `json:"id"`
	Kind      ChainKind   `json:"kind"`
	Symbol    string      `json:"symbol"`
	Side      Side        `json:"side"`
	Strategy  string      `json:"strategy"`
	Status    ChainStatus `json:"status"`
	Level     int         `json:"level"`
	MaxLevels int         `json:"max_levels"`
	Reduction float64     `json:"reduction"`
	Positions []string    `json:"positions"`

	BaseEntry      float64 `json:"base_entry"`
	BaseSLDistance float64 `json:"base_sl_distance"`
	BaseLot        float64 `json:"base_lot"`

	AccumulatedProfit float64 `json:"accumulated_profit"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *Chain) IsOpen() bool { return c != nil && c.Status == ChainActive }

// Clone: копия для отдачи наружу из реестра.
func (c *Chain) Clone() *Chain {
	if c == nil {
		return nil
	}
	out := *c
	out.Positions = append([]string(nil), c.Positions...)
	return &out
}

// ReductionFactor = max(minFraction, 1 - level*reduction).
// minFraction > 0 гарантирует, что дистанция не станет нулевой.
func ReductionFactor(level int, reduction, minFraction float64) float64 {
	if minFraction <= 0 || minFraction > 1 {
		minFraction = 0.1
	}
	if level <= 0 || reduction <= 0 {
		return 1
	}
	return math.Max(minFraction, 1-float64(level)*reduction)
}

// SLDistanceForLevel: дистанция SL для уровня, всегда от базы.
func (c *Chain) SLDistanceForLevel(level int, minFraction float64) float64 {
	return c.BaseSLDistance * ReductionFactor(level, c.Reduction, minFraction)
}
