package helper

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// PositionKey: тикет позиции в хедж-режиме: один инструмент + одна сторона.
func PositionKey(instID, posSide string) string { return instID + ":" + posSide }

func SplitPositionKey(key string) (instID string, posSide string, ok bool) {
	// ожидаем формат "instId:posSide"
	i := strings.LastIndexByte(key, ':')
	if i <= 0 || i >= len(key)-1 {
		return "", "", false
	}

	instID = key[:i]
	posSide = key[i+1:]

	switch posSide {
	case "long", "short":
		// ok
	default:
		return "", "", false
	}

	return instID, posSide, true
}

func RoundDownToTick(px, tick float64) float64 {
	if tick <= 0 {
		return px
	}
	steps := math.Floor(px/tick + 1e-12)
	return steps * tick
}

func RoundUpToTick(px, tick float64) float64 {
	if tick <= 0 {
		return px
	}
	steps := math.Ceil(px/tick - 1e-12)
	return steps * tick
}

// RoundToTick: ближайший тик.
func RoundToTick(px, tick float64) float64 {
	if tick <= 0 {
		return px
	}
	return decimal.NewFromFloat(px).
		Div(decimal.NewFromFloat(tick)).
		Round(0).
		Mul(decimal.NewFromFloat(tick)).
		InexactFloat64()
}

// NormalizeLot: вниз до шага lotStep, не меньше minLot, не больше maxLot (если задан).
// Считаем в decimal, чтобы 0.07/0.01 не превращалось в 6.9999.
func NormalizeLot(lot, minLot, lotStep, maxLot float64) float64 {
	if lotStep <= 0 {
		lotStep = minLot
	}
	if lotStep <= 0 {
		return lot
	}
	step := decimal.NewFromFloat(lotStep)
	steps := decimal.NewFromFloat(lot).Div(step).Floor()
	out := steps.Mul(step)

	if min := decimal.NewFromFloat(minLot); out.LessThan(min) {
		out = min
	}
	if maxLot > 0 {
		if max := decimal.NewFromFloat(maxLot); out.GreaterThan(max) {
			out = max.Div(step).Floor().Mul(step)
		}
	}
	return out.InexactFloat64()
}

// LotForRisk: объём, при котором уход от entry до sl стоит risk.
// Считается в decimal, пипсы до сотых.
func LotForRisk(risk, entry, sl, pipSize, pipValuePerLot float64) float64 {
	if pipSize <= 0 || pipValuePerLot <= 0 {
		return 0
	}
	pips := decimal.NewFromFloat(entry).Sub(decimal.NewFromFloat(sl)).Abs().
		Div(decimal.NewFromFloat(pipSize)).
		Round(2)
	if pips.IsZero() {
		return 0
	}
	return decimal.NewFromFloat(risk).
		Div(pips.Mul(decimal.NewFromFloat(pipValuePerLot))).
		Round(8).
		InexactFloat64()
}

// Cents: сумма в центах, для сравнений на границе без float-шума.
func Cents(v float64) int64 {
	return decimal.NewFromFloat(v).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
