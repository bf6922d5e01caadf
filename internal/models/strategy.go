package models

import (
	"fmt"
	"strings"
	"time"
)

// Side как у раннера: "BUY"/"SELL" или пустая строка.
type Side string

const (
	SideNone Side = ""
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide принимает BUY/SELL, long/short, buy/sell.
func ParseSide(raw string) Side {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "BUY", "LONG":
		return SideBuy
	case "SELL", "SHORT":
		return SideSell
	default:
		return SideNone
	}
}

func (s Side) Opposite() Side {
	switch s {
	case SideBuy:
		return SideSell
	case SideSell:
		return SideBuy
	default:
		return SideNone
	}
}

// Sign: +1 для long, -1 для short.
func (s Side) Sign() float64 {
	if s == SideSell {
		return -1
	}
	return 1
}

// Signal: входящий торговый сигнал после разбора.
type Signal struct {
	Symbol   string
	Side     Side
	Entry    float64
	SL       float64 // 0 => SL считаем сами
	TP1      float64
	TP2      float64
	TP3      float64
	Strategy string
	Reason   string

	ReceivedAt time.Time
}

// Validate проверяет только обязательные поля; стороны SL/TP проверяет OrderPlacer.
func (s Signal) Validate() error {
	if strings.TrimSpace(s.Symbol) == "" {
		return fmt.Errorf("signal: empty symbol")
	}
	if s.Side != SideBuy && s.Side != SideSell {
		return fmt.Errorf("signal %s: unknown side %q", s.Symbol, s.Side)
	}
	if s.Entry <= 0 {
		return fmt.Errorf("signal %s: entry <= 0", s.Symbol)
	}
	if s.SL < 0 || s.TP1 < 0 || s.TP2 < 0 || s.TP3 < 0 {
		return fmt.Errorf("signal %s: negative price level", s.Symbol)
	}
	return nil
}
