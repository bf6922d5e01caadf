package lifecycle

import (
	"context"

	"lifecycle_bot/internal/engine/trend"
	"lifecycle_bot/internal/helper"
	"lifecycle_bot/internal/metrics"
	"lifecycle_bot/internal/models"
	notify "lifecycle_bot/internal/modules/notify/service"
	"lifecycle_bot/pkg/logger"
)

type ExitAction string

const (
	ExitHold    ExitAction = "hold"
	ExitPartial ExitAction = "partial_close"
	ExitIgnored ExitAction = "ignored"
)

// ExitDecision: решение на TP1-чекпоинте.
type ExitDecision struct {
	Action    ExitAction
	Reason    string
	ClosedLot float64
	PnL       float64
}

// OnTargetReached: при сильном тренде держим, при слабом закрываем долю позиции.
func (s *Service) OnTargetReached(ctx context.Context, ev models.MonitorEvent) (d ExitDecision) {
	if ev.Position == nil {
		return ExitDecision{Action: ExitIgnored}
	}
	pos, ok := s.reg.Position(ev.Position.ID)
	if !ok || !pos.IsOpen() {
		return ExitDecision{Action: ExitIgnored, Reason: "not_open"}
	}
	defer func() {
		if d.Action == ExitIgnored {
			return
		}
		s.sink.Notify(models.NotifyExitDecision, notify.Fields{
			"symbol": pos.Symbol, "ticket": pos.Ticket, "action": string(d.Action),
			"reason": d.Reason, "closed_lot": d.ClosedLot, "pnl": d.PnL,
		})
	}()

	snap, err := s.trend.Snapshot(ctx, pos.Symbol, pos.Side)
	if err == nil && trend.Strong(snap, s.cfg.TrendThresholds()) {
		return ExitDecision{Action: ExitHold, Reason: "trend_strong"}
	}

	info, err := s.gw.SymbolInfo(ctx, pos.Symbol)
	if err != nil {
		logger.Error("lifecycle: exit %s symbol info: %v", pos.Ticket, err)
		return ExitDecision{Action: ExitHold, Reason: "symbol_unavailable"}
	}
	raw := pos.Lot * s.cfg.PartialCloseFraction()
	if raw < info.MinLot {
		return ExitDecision{Action: ExitHold, Reason: "lot_too_small"}
	}
	lot := helper.NormalizeLot(raw, info.MinLot, info.LotStep, info.MaxLot)

	unlock := s.locks.Lock(pos.Ticket)
	defer unlock()
	if cur, ok := s.reg.Position(pos.ID); !ok || !cur.IsOpen() {
		return ExitDecision{Action: ExitIgnored, Reason: "not_open"}
	}

	bctx := context.WithoutCancel(ctx)
	price := ev.Price
	if px, err := s.gw.GetCurrentPrice(bctx, pos.Symbol); err == nil {
		price = px
	}
	done, err := s.gw.ClosePartial(bctx, pos.Ticket, lot)
	if err != nil || !done {
		logger.Error("lifecycle: partial close %s lot=%.2f: done=%t err=%v", pos.Ticket, lot, done, err)
		reason := "partial_close_failed"
		if err != nil {
			s.sink.Notify(models.NotifyCloseFailed, notify.Fields{"symbol": pos.Symbol, "ticket": pos.Ticket, "error": err.Error()})
		}
		return ExitDecision{Action: ExitHold, Reason: reason}
	}

	pnl := info.Pips(price-pos.Entry) * info.PipValue(lot)
	if (price-pos.Entry)*pos.Side.Sign() < 0 {
		pnl = -pnl
	}
	pnl = float64(helper.Cents(pnl)) / 100

	if _, err := s.reg.ReducePosition(bctx, pos.ID, lot, pnl); err != nil {
		logger.Error("lifecycle: reduce %s: %v", pos.ID, err)
	}
	s.gate.RecordPartial(bctx, pnl)
	metrics.PositionsClosed.WithLabelValues(string(models.ClosePartial)).Inc()
	logger.Info("lifecycle: partial close %s %s lot=%.2f pnl=%.2f", pos.Symbol, pos.Ticket, lot, pnl)
	return ExitDecision{Action: ExitPartial, Reason: "conditions_weak", ClosedLot: lot, PnL: pnl}
}
