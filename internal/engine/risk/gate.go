package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"lifecycle_bot/internal/helper"
	"lifecycle_bot/internal/metrics"
	"lifecycle_bot/internal/models"
	broker "lifecycle_bot/internal/modules/broker/service"
	"lifecycle_bot/internal/modules/config"
	storage "lifecycle_bot/internal/modules/storage/service"
	"lifecycle_bot/pkg/logger"
)

// Gate: проверки перед каждым размещением и единственный владелец RiskState.
// Отказ: это значение (false, reason), а не ошибка.
type Gate struct {
	mu    sync.Mutex
	state models.RiskState

	cfg   *config.Provider
	gw    broker.Gateway
	store storage.Store
	now   func() time.Time
}

func NewGate(cfg *config.Provider, gw broker.Gateway, store storage.Store) *Gate {
	g := &Gate{cfg: cfg, gw: gw, store: store, now: time.Now}
	g.state.Day = day(g.now())
	return g
}

// Restore подтягивает сохранённый стейт; день сменится при первой проверке.
func (g *Gate) Restore(ctx context.Context) error {
	st, ok, err := g.store.LoadRiskState(ctx)
	if err != nil {
		return fmt.Errorf("risk.Restore: %w", err)
	}
	if !ok {
		return nil
	}
	g.mu.Lock()
	g.state = st
	g.rolloverLocked()
	g.mu.Unlock()
	metrics.RealizedPnL.Set(st.LifetimePnL)
	return nil
}

func day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// rolloverLocked: в новые сутки (UTC) обнуляем дневные счётчики, lifetime сохраняем.
func (g *Gate) rolloverLocked() {
	today := day(g.now())
	if g.state.Day.Equal(today) {
		return
	}
	logger.Info("risk: new day %s, daily pnl %.2f reset", today.Format("2006-01-02"), g.state.DailyPnL)
	g.state.Day = today
	g.state.DailyPnL = 0
	g.state.TradesToday = 0
}

func (g *Gate) Snapshot() models.RiskState {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked()
	return g.state
}

// CanTrade: лимиты, не зависящие от конкретной сделки.
func (g *Gate) CanTrade() (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked()
	return g.canTradeLocked(g.cfg.RiskLimits())
}

func (g *Gate) canTradeLocked(lim config.RiskLimits) (bool, string) {
	if lim.LifetimeLossLimit > 0 && helper.Cents(g.state.LifetimeLoss()) >= helper.Cents(lim.LifetimeLossLimit) {
		return reject("lifetime", "lifetime loss limit reached: %.2f >= %.2f", g.state.LifetimeLoss(), lim.LifetimeLossLimit)
	}
	if lim.DailyLossLimit > 0 && helper.Cents(g.state.DailyLoss()) >= helper.Cents(lim.DailyLossLimit) {
		return reject("daily", "daily loss limit reached: %.2f >= %.2f", g.state.DailyLoss(), lim.DailyLossLimit)
	}
	if lim.MaxTradesPerDay > 0 && g.state.TradesToday >= lim.MaxTradesPerDay {
		return reject("trades", "daily trade cap reached: %d", g.state.TradesToday)
	}
	return true, ""
}

// ValidateTradeRisk: потенциальный убыток = slPips * pipValue(lot).
// Граница дневного лимита включительная, сравнение в центах.
func (g *Gate) ValidateTradeRisk(ctx context.Context, symbol string, lot, slPips float64) (bool, string) {
	if lot <= 0 || slPips <= 0 {
		return reject("invalid", "invalid trade: lot=%.4f slPips=%.1f", lot, slPips)
	}
	info, err := g.gw.SymbolInfo(ctx, symbol)
	if err != nil {
		return reject("symbol", "symbol %s unavailable: %v", symbol, err)
	}
	potential := slPips * info.PipValue(lot)

	lim := g.cfg.RiskLimits()

	g.mu.Lock()
	g.rolloverLocked()
	if ok, reason := g.canTradeLocked(lim); !ok {
		g.mu.Unlock()
		return ok, reason
	}
	projected := g.state.DailyPnL - potential
	g.mu.Unlock()

	if lim.MaxRiskPerTrade > 0 && helper.Cents(potential) > helper.Cents(lim.MaxRiskPerTrade) {
		return reject("per_trade", "risk per trade %.2f exceeds cap %.2f", potential, lim.MaxRiskPerTrade)
	}
	if ok, reason := dailyHeadroom(lim, potential, projected); !ok {
		return ok, reason
	}

	if lim.MinMarginLevel > 0 || lim.MinFreeMargin > 0 {
		acc, err := g.gw.Account(ctx)
		if err != nil {
			return reject("account", "account unavailable: %v", err)
		}
		// MarginLevel == 0 => позиций нет, уровень не определён
		if lim.MinMarginLevel > 0 && acc.MarginLevel > 0 && acc.MarginLevel < lim.MinMarginLevel {
			return reject("margin", "margin level %.1f%% below %.1f%%", acc.MarginLevel, lim.MinMarginLevel)
		}
		if lim.MinFreeMargin > 0 && acc.FreeMargin < lim.MinFreeMargin {
			return reject("margin", "free margin %.2f below %.2f", acc.FreeMargin, lim.MinFreeMargin)
		}
	}
	return true, ""
}

// LegRisk: одна нога группового размещения.
type LegRisk struct {
	Lot    float64
	SLPips float64
}

// ValidateCombinedRisk: сумма потенциальных убытков всех ног против дневного лимита.
// Лимиты на сделку и маржу проверяет ValidateTradeRisk по каждой ноге.
func (g *Gate) ValidateCombinedRisk(ctx context.Context, symbol string, legs ...LegRisk) (bool, string) {
	info, err := g.gw.SymbolInfo(ctx, symbol)
	if err != nil {
		return reject("symbol", "symbol %s unavailable: %v", symbol, err)
	}
	var potential float64
	for _, l := range legs {
		if l.Lot <= 0 || l.SLPips <= 0 {
			return reject("invalid", "invalid trade: lot=%.4f slPips=%.1f", l.Lot, l.SLPips)
		}
		potential += l.SLPips * info.PipValue(l.Lot)
	}

	lim := g.cfg.RiskLimits()

	g.mu.Lock()
	g.rolloverLocked()
	if ok, reason := g.canTradeLocked(lim); !ok {
		g.mu.Unlock()
		return ok, reason
	}
	projected := g.state.DailyPnL - potential
	g.mu.Unlock()

	return dailyHeadroom(lim, potential, projected)
}

func dailyHeadroom(lim config.RiskLimits, potential, projected float64) (bool, string) {
	if lim.DailyLossLimit > 0 && helper.Cents(projected) < -helper.Cents(lim.DailyLossLimit) {
		return reject("daily", "potential loss %.2f would push daily pnl to %.2f below -%.2f", potential, projected, lim.DailyLossLimit)
	}
	return true, ""
}

// RecordClose: стейт меняется только закрытием позиции.
func (g *Gate) RecordClose(ctx context.Context, pnl float64) {
	g.record(ctx, pnl, true)
}

// RecordPartial: реализованный PnL частичного закрытия, без счётчика сделок.
func (g *Gate) RecordPartial(ctx context.Context, pnl float64) {
	g.record(ctx, pnl, false)
}

func (g *Gate) record(ctx context.Context, pnl float64, trade bool) {
	g.mu.Lock()
	g.rolloverLocked()
	g.state.DailyPnL += pnl
	g.state.LifetimePnL += pnl
	if trade {
		g.state.TradesToday++
	}
	st := g.state
	g.mu.Unlock()

	metrics.RealizedPnL.Set(st.LifetimePnL)
	if err := g.store.SaveRiskState(ctx, st); err != nil {
		logger.Error("risk: save state: %v", err)
	}
}

func reject(kind, format string, args ...any) (bool, string) {
	metrics.RiskRejections.WithLabelValues(kind).Inc()
	return false, fmt.Sprintf(format, args...)
}
