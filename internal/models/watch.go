package models

import "time"

type WatchKind string

const (
	WatchRecovery     WatchKind = "RECOVERY"
	WatchContinuation WatchKind = "CONTINUATION"
)

// Watch: ожидание отката после SL (recovery) или после TP (continuation).
type Watch struct {
	ID           string    `json:"id"`
	Kind         WatchKind `json:"kind"`
	ChainID      string    `json:"chain_id"`
	PositionID   string    `json:"position_id"`
	Symbol       string    `json:"symbol"`
	Side         Side      `json:"side"`
	Entry        float64   `json:"entry"`
	StopPrice    float64   `json:"stop_price"`
	TakeProfit   float64   `json:"take_profit"`
	TriggerPrice float64   `json:"trigger_price"`
	Deadline     time.Time `json:"deadline"`
	Attempts     int       `json:"attempts"`
	MaxAttempts  int       `json:"max_attempts"`
	CreatedAt    time.Time `json:"created_at"`
}

// Key: symbol+chain, по нему держим не более одного активного ожидания.
func (w *Watch) Key() string { return w.Symbol + ":" + w.ChainID }

// Triggered: для recovery цена вернулась к входу, для continuation откатилась от TP.
func (w *Watch) Triggered(price float64) bool {
	if price <= 0 {
		return false
	}
	long := w.Side == SideBuy
	if w.Kind == WatchContinuation {
		long = !long
	}
	if long {
		return price >= w.TriggerPrice
	}
	return price <= w.TriggerPrice
}

func (w *Watch) Expired(now time.Time) bool { return now.After(w.Deadline) }
