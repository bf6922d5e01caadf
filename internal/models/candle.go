package models

import "time"

// Candle: закрытая свеча рыночных данных.
type Candle struct {
	InstID    string
	Timeframe string
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Start     time.Time
	End       time.Time
}
