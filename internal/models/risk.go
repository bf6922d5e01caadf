package models

import "time"

// RiskState: процессный риск-стейт, сбрасывается ежедневно (кроме lifetime).
// PnL знаковый: убыток отрицательный.
type RiskState struct {
	Day         time.Time `json:"day"`
	DailyPnL    float64   `json:"daily_pnl"`
	LifetimePnL float64   `json:"lifetime_pnl"`
	TradesToday int       `json:"trades_today"`
}

// DailyLoss: положительная величина дневного убытка.
func (s RiskState) DailyLoss() float64 {
	if s.DailyPnL < 0 {
		return -s.DailyPnL
	}
	return 0
}

func (s RiskState) LifetimeLoss() float64 {
	if s.LifetimePnL < 0 {
		return -s.LifetimePnL
	}
	return 0
}
