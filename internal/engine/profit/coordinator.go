package profit

import (
	"context"
	"fmt"
	"math"

	"lifecycle_bot/internal/engine/chains"
	"lifecycle_bot/internal/engine/orders"
	"lifecycle_bot/internal/helper"
	"lifecycle_bot/internal/metrics"
	"lifecycle_bot/internal/models"
	broker "lifecycle_bot/internal/modules/broker/service"
	"lifecycle_bot/internal/modules/config"
	notify "lifecycle_bot/internal/modules/notify/service"
	"lifecycle_bot/pkg/logger"
)

type Action string

const (
	ActionIgnored  Action = "ignored"
	ActionReentry  Action = "reentry"
	ActionBlocked  Action = "blocked"
	ActionComplete Action = "complete"
	ActionLoss     Action = "loss_delegated"
	ActionFailed   Action = "failed"
)

type Outcome struct {
	Action   Action
	ChainID  string
	Level    int
	Position *models.Position
	Reason   string
}

// StopLossHandler: куда уходят убыточные закрытия (recovery).
type StopLossHandler interface {
	OnStopLoss(ctx context.Context, pos *models.Position) error
}

// Coordinator ведёт profit-booking цепочки: копит прибыль и перезаходит
// уменьшенным лотом, пока накопленное перекрывает риск с запасом.
type Coordinator struct {
	reg      *chains.Registry
	placer   *orders.Placer
	gw       broker.Gateway
	recovery StopLossHandler
	cfg      *config.Provider
	sink     notify.Sink
}

func NewCoordinator(reg *chains.Registry, placer *orders.Placer, gw broker.Gateway, recovery StopLossHandler, cfg *config.Provider, sink notify.Sink) *Coordinator {
	return &Coordinator{reg: reg, placer: placer, gw: gw, recovery: recovery, cfg: cfg, sink: sink}
}

// LotForLevel = base * max(minFraction, 1 - level*reduction).
func LotForLevel(base float64, level int, reduction, minFraction float64) float64 {
	return base * models.ReductionFactor(level, reduction, minFraction)
}

func (c *Coordinator) OnPositionClosed(ctx context.Context, pos *models.Position) Outcome {
	if pos == nil || pos.ProfitChainID == "" {
		return Outcome{Action: ActionIgnored}
	}
	chain, ok := c.reg.Chain(pos.ProfitChainID)
	if !ok || !chain.IsOpen() {
		if !ok {
			logger.Error("profit: position %s references missing chain %s", pos.ID, pos.ProfitChainID)
			c.sink.Notify(models.NotifyStateInconsistency, notify.Fields{"position": pos.ID, "chain": pos.ProfitChainID})
		}
		return c.loss(ctx, pos, nil)
	}

	if pos.PnL < 0 {
		return c.loss(ctx, pos, chain)
	}

	chain, err := c.reg.AddProfit(ctx, chain.ID, pos.PnL)
	if err != nil {
		logger.Error("profit: add profit to %s: %v", pos.ProfitChainID, err)
		return Outcome{Action: ActionFailed, ChainID: pos.ProfitChainID, Reason: err.Error()}
	}
	c.sink.Notify(models.NotifyProfitBooked, notify.Fields{
		"chain": chain.ID, "symbol": chain.Symbol, "pnl": pos.PnL,
		"accumulated": chain.AccumulatedProfit, "level": chain.Level,
	})

	if chain.Level >= chain.MaxLevels {
		return c.finish(ctx, chain, ActionComplete, models.NotifyProfitComplete, "max levels reached")
	}
	return c.reenter(ctx, chain, pos)
}

func (c *Coordinator) reenter(ctx context.Context, chain *models.Chain, closed *models.Position) Outcome {
	info, err := c.gw.SymbolInfo(ctx, chain.Symbol)
	if err != nil {
		return c.finish(ctx, chain, ActionFailed, models.NotifyProfitComplete, err.Error())
	}

	level := chain.Level + 1
	minFraction := c.cfg.MinSLFraction()
	lot := helper.NormalizeLot(LotForLevel(chain.BaseLot, level, c.cfg.ProfitLotReduction(), minFraction),
		info.MinLot, info.LotStep, info.MaxLot)
	dist := chain.SLDistanceForLevel(level, minFraction)
	potential := info.Pips(dist) * info.PipValue(lot)
	mult := c.cfg.ProtectionMultiplier()
	required := potential * mult

	if helper.Cents(chain.AccumulatedProfit) <= helper.Cents(required) {
		reason := fmt.Sprintf("accumulated %.2f <= %.2f (risk %.2f x %.1f)", chain.AccumulatedProfit, required, potential, mult)
		return c.finish(ctx, chain, ActionBlocked, models.NotifyProfitBlocked, reason)
	}

	pos, err := c.placer.PlaceSingle(ctx, orders.SingleRequest{
		Symbol:        chain.Symbol,
		Side:          chain.Side,
		Lot:           lot,
		SLDistance:    dist,
		RR:            c.cfg.DefaultRR(),
		Role:          models.RoleProfit,
		Strategy:      chain.Strategy,
		ChainID:       closed.ChainID,
		ProfitChainID: chain.ID,
	})
	if err != nil {
		return c.finish(ctx, chain, ActionFailed, models.NotifyProfitComplete, err.Error())
	}
	if _, err := c.reg.AdvanceLevel(ctx, chain.ID, pos.ID); err != nil {
		logger.Error("profit: advance chain %s: %v", chain.ID, err)
	}
	metrics.Reentries.WithLabelValues(string(models.ChainProfitBooking), "executed").Inc()
	logger.Info("profit: chain %s level %d/%d lot=%.2f accumulated=%.2f", chain.ID, level, chain.MaxLevels, lot, chain.AccumulatedProfit)
	c.sink.Notify(models.NotifyReentryExecuted, notify.Fields{
		"chain": chain.ID, "kind": string(models.ChainProfitBooking), "symbol": chain.Symbol,
		"level": level, "lot": lot, "entry": pos.Entry, "sl": pos.SL, "tp": pos.TP,
	})
	return Outcome{Action: ActionReentry, ChainID: chain.ID, Level: level, Position: pos}
}

// loss: profit-цепочка на убытке заканчивается, сама позиция уходит в recovery.
func (c *Coordinator) loss(ctx context.Context, pos *models.Position, chain *models.Chain) Outcome {
	if chain != nil {
		if _, err := c.reg.AddProfit(ctx, chain.ID, pos.PnL); err != nil {
			logger.Error("profit: record loss on %s: %v", chain.ID, err)
		}
		if err := c.reg.CloseChain(ctx, chain.ID); err != nil {
			logger.Error("profit: close chain %s: %v", chain.ID, err)
		}
	}
	if pos.PnL >= 0 {
		return Outcome{Action: ActionIgnored, ChainID: pos.ProfitChainID}
	}
	if err := c.recovery.OnStopLoss(ctx, pos); err != nil {
		logger.Error("profit: delegate %s to recovery: %v", pos.ID, err)
		return Outcome{Action: ActionFailed, ChainID: pos.ProfitChainID, Reason: err.Error()}
	}
	return Outcome{Action: ActionLoss, ChainID: pos.ProfitChainID}
}

func (c *Coordinator) finish(ctx context.Context, chain *models.Chain, action Action, kind models.NotifyKind, reason string) Outcome {
	if err := c.reg.CloseChain(ctx, chain.ID); err != nil {
		logger.Error("profit: close chain %s: %v", chain.ID, err)
	}
	logger.Info("profit: chain %s closed (%s): %s", chain.ID, action, reason)
	c.sink.Notify(kind, notify.Fields{
		"chain": chain.ID, "symbol": chain.Symbol, "level": chain.Level,
		"accumulated": math.Round(chain.AccumulatedProfit*100) / 100, "reason": reason,
	})
	return Outcome{Action: action, ChainID: chain.ID, Level: chain.Level, Reason: reason}
}
