package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"lifecycle_bot/internal/engine/chains"
	"lifecycle_bot/internal/engine/orders"
	"lifecycle_bot/internal/engine/profit"
	"lifecycle_bot/internal/engine/recovery"
	"lifecycle_bot/internal/engine/risk"
	"lifecycle_bot/internal/engine/trend"
	"lifecycle_bot/internal/metrics"
	"lifecycle_bot/internal/models"
	broker "lifecycle_bot/internal/modules/broker/service"
	"lifecycle_bot/internal/modules/config"
	notify "lifecycle_bot/internal/modules/notify/service"
	"lifecycle_bot/pkg/logger"
)

var ErrTradingHalted = errors.New("trading halted by risk limits")

// Service: единственный путь закрытия позиции и точка входа сигналов.
type Service struct {
	reg      *chains.Registry
	gw       broker.Gateway
	gate     *risk.Gate
	placer   *orders.Placer
	recovery *recovery.Coordinator
	profit   *profit.Coordinator
	trend    trend.Checker
	locks    *broker.TicketLocks
	cfg      *config.Provider
	sink     notify.Sink
}

type Deps struct {
	Registry *chains.Registry
	Gateway  broker.Gateway
	Gate     *risk.Gate
	Placer   *orders.Placer
	Recovery *recovery.Coordinator
	Profit   *profit.Coordinator
	Trend    trend.Checker
	Locks    *broker.TicketLocks
	Config   *config.Provider
	Sink     notify.Sink
}

func NewService(d Deps) *Service {
	return &Service{
		reg:      d.Registry,
		gw:       d.Gateway,
		gate:     d.Gate,
		placer:   d.Placer,
		recovery: d.Recovery,
		profit:   d.Profit,
		trend:    d.Trend,
		locks:    d.Locks,
		cfg:      d.Config,
		sink:     d.Sink,
	}
}

// HandleClose фиксирует закрытие и запускает побочные эффекты.
// Повторное закрытие той же позиции ничего не делает.
func (s *Service) HandleClose(ctx context.Context, pos *models.Position, reason models.CloseReason, pnl float64) (*models.Position, error) {
	closed, changed, err := s.reg.ClosePosition(ctx, pos.ID, reason, pnl)
	if err != nil {
		return nil, fmt.Errorf("lifecycle.HandleClose %s: %w", pos.ID, err)
	}
	if !changed {
		return closed, nil
	}

	s.gate.RecordClose(ctx, pnl)
	metrics.PositionsClosed.WithLabelValues(string(reason)).Inc()
	logger.Info("lifecycle: closed %s %s %s ticket=%s reason=%s pnl=%.2f",
		closed.Role, closed.Side, closed.Symbol, closed.Ticket, reason, pnl)
	s.sink.Notify(models.NotifyPositionClosed, notify.Fields{
		"symbol": closed.Symbol, "side": string(closed.Side), "role": string(closed.Role),
		"ticket": closed.Ticket, "reason": string(reason), "pnl": pnl,
	})

	if !reason.IsStopLoss() && !reason.IsTakeProfit() {
		// ручное закрытие и разворот не продолжают цепочки
		if closed.ProfitChainID != "" {
			if err := s.reg.CloseChain(ctx, closed.ProfitChainID); err != nil && !errors.Is(err, chains.ErrChainNotFound) {
				logger.Error("lifecycle: close profit chain %s: %v", closed.ProfitChainID, err)
			}
		}
		return closed, nil
	}

	switch {
	case closed.ProfitChainID != "":
		s.profit.OnPositionClosed(ctx, closed)
	case reason.IsStopLoss():
		if err := s.recovery.OnStopLoss(ctx, closed); err != nil {
			logger.Error("lifecycle: arm recovery for %s: %v", closed.ID, err)
		}
	}
	if reason.IsTakeProfit() && (closed.Role == models.RoleA || closed.Role == models.RoleContinuation) {
		if err := s.recovery.OnTakeProfit(ctx, closed); err != nil {
			logger.Error("lifecycle: arm continuation for %s: %v", closed.ID, err)
		}
	}
	return closed, nil
}

// ClosePosition закрывает позицию у брокера под локом тикета.
func (s *Service) ClosePosition(ctx context.Context, id string, reason models.CloseReason) (_ *models.Position, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("lifecycle.ClosePosition %s: %w", id, err)
		}
	}()

	pos, ok := s.reg.Position(id)
	if !ok {
		return nil, chains.ErrPositionNotFound
	}
	unlock := s.locks.Lock(pos.Ticket)
	defer unlock()

	// сверка могла закрыть позицию, пока ждали лок
	if pos, ok = s.reg.Position(id); !ok || !pos.IsOpen() {
		return pos, nil
	}

	bctx := context.WithoutCancel(ctx)
	var floating float64
	if bp, err := s.gw.GetPosition(bctx, pos.Ticket); err == nil && bp != nil {
		floating = bp.Profit
	}
	if _, err := s.gw.ClosePosition(bctx, pos.Ticket); err != nil {
		s.sink.Notify(models.NotifyCloseFailed, notify.Fields{
			"symbol": pos.Symbol, "ticket": pos.Ticket, "reason": string(reason), "error": err.Error(),
		})
		return nil, err
	}

	pnl := floating
	if realized, err := s.gw.GetClosedTradeProfit(bctx, pos.Ticket); err == nil && realized != nil {
		pnl = *realized
	}
	return s.HandleClose(bctx, pos, reason, pnl)
}

// HandleSignal: разворот по противоположному сигналу, проверка лимитов, dual-размещение.
func (s *Service) HandleSignal(ctx context.Context, sig models.Signal) (orders.DualResult, error) {
	if err := sig.Validate(); err != nil {
		return orders.DualResult{Errors: []error{err}}, err
	}

	if s.cfg.ReversalEnabled() {
		for _, p := range s.reg.OpenPositions() {
			if p.Symbol != sig.Symbol || p.Side != sig.Side.Opposite() {
				continue
			}
			if _, err := s.ClosePosition(ctx, p.ID, models.CloseReversal); err != nil {
				logger.Error("lifecycle: reversal exit %s: %v", p.Ticket, err)
			}
		}
	}

	if ok, reason := s.gate.CanTrade(); !ok {
		s.sink.Notify(models.NotifyRiskRejected, notify.Fields{"symbol": sig.Symbol, "reason": reason})
		err := fmt.Errorf("%w: %s", ErrTradingHalted, reason)
		return orders.DualResult{Errors: []error{err}}, err
	}

	res := s.placer.PlaceDual(ctx, sig, sig.Strategy, s.cfg.RiskPerTrade())
	if res.Placed() == 0 {
		return res, errors.Join(res.Errors...)
	}
	return res, nil
}

// HandleEvent: обработчик диспетчера событий монитора.
func (s *Service) HandleEvent(ctx context.Context, ev models.MonitorEvent) {
	if ev.Kind == models.EventTargetReached {
		s.OnTargetReached(ctx, ev)
		return
	}
	out := s.recovery.Handle(ctx, ev)
	logger.Debug("lifecycle: %s chain=%s -> %s %s", ev.Kind, ev.ChainKey(), out.Action, out.Reason)
}
