package recovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"lifecycle_bot/internal/engine/chains"
	"lifecycle_bot/internal/engine/orders"
	"lifecycle_bot/internal/engine/trend"
	"lifecycle_bot/internal/metrics"
	"lifecycle_bot/internal/models"
	broker "lifecycle_bot/internal/modules/broker/service"
	"lifecycle_bot/internal/modules/config"
	notify "lifecycle_bot/internal/modules/notify/service"
	"lifecycle_bot/pkg/logger"
)

type Action string

const (
	ActionExecuted  Action = "reentry_executed"
	ActionSkipped   Action = "reentry_skipped"
	ActionFailed    Action = "reentry_failed"
	ActionRearmed   Action = "reentry_rearmed"
	ActionExhausted Action = "recovery_exhausted"
	ActionTimeout   Action = "timeout"
	ActionIgnored   Action = "ignored"
)

// Outcome: что координатор сделал с событием.
type Outcome struct {
	Action   Action
	Reason   string
	ChainID  string
	Level    int
	Position *models.Position
}

// Coordinator ведёт SL-hunt и TP-continuation цепочки:
// ставит ожидания после SL/TP и решает, перезаходить ли по сработавшему.
type Coordinator struct {
	reg    *chains.Registry
	placer *orders.Placer
	gw     broker.Gateway
	trend  trend.Checker
	cfg    *config.Provider
	sink   notify.Sink
	now    func() time.Time

	mu        sync.Mutex
	lastEntry map[string]time.Time
}

func NewCoordinator(reg *chains.Registry, placer *orders.Placer, gw broker.Gateway, tc trend.Checker, cfg *config.Provider, sink notify.Sink) *Coordinator {
	return &Coordinator{
		reg:       reg,
		placer:    placer,
		gw:        gw,
		trend:     tc,
		cfg:       cfg,
		sink:      sink,
		now:       time.Now,
		lastEntry: make(map[string]time.Time),
	}
}

// OnStopLoss ставит recovery-ожидание по закрытой по SL позиции.
func (c *Coordinator) OnStopLoss(ctx context.Context, pos *models.Position) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("recovery.OnStopLoss %s: %w", pos.ID, err)
		}
	}()
	if !c.cfg.RecoveryEnabled() {
		return nil
	}

	chainID := pos.ChainID
	if chainID == "" {
		chainID = pos.ProfitChainID
	}
	var chain *models.Chain
	if chainID != "" {
		var ok bool
		if chain, ok = c.reg.Chain(chainID); !ok {
			logger.Warn("recovery: position %s references missing chain %s, treated as exhausted", pos.ID, chainID)
			c.sink.Notify(models.NotifyStateInconsistency, notify.Fields{"position": pos.ID, "chain": chainID})
			return nil
		}
	} else {
		if chain, err = c.reg.CreateChain(ctx, models.ChainSLHunt, pos,
			c.cfg.MaxChainLevels(models.ChainSLHunt), c.cfg.ChainReduction(models.ChainSLHunt)); err != nil {
			return err
		}
	}

	if chain.Kind == models.ChainTPContinuation {
		// continuation заканчивается на стопе
		return c.reg.CloseChain(ctx, chain.ID)
	}
	if c.reg.IsExhausted(chain.ID) {
		c.exhausted(chain, "max levels reached")
		return nil
	}

	info, err := c.gw.SymbolInfo(ctx, pos.Symbol)
	if err != nil {
		return err
	}
	now := c.now()
	w := &models.Watch{
		Kind:       models.WatchRecovery,
		ChainID:    chain.ID,
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		Entry:      pos.Entry,
		StopPrice:  pos.SL,
		TakeProfit: pos.TP,
		TriggerPrice: Trigger(c.cfg.RecoveryTriggerMode(), pos.Side, pos.Entry, pos.SL,
			c.cfg.RetraceFraction(), c.cfg.SLHuntOffsetPips(), info.PipSize),
		Deadline:    now.Add(c.cfg.RecoveryWindow(pos.Symbol)),
		MaxAttempts: c.cfg.RecoveryMaxAttempts(),
	}
	return c.arm(ctx, w)
}

// OnTakeProfit ставит continuation-ожидание: нога A открывает новую цепочку,
// continuation-позиция продолжает свою.
func (c *Coordinator) OnTakeProfit(ctx context.Context, pos *models.Position) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("recovery.OnTakeProfit %s: %w", pos.ID, err)
		}
	}()
	if !c.cfg.ContinuationEnabled() {
		return nil
	}

	var chain *models.Chain
	if pos.Role == models.RoleContinuation && pos.ChainID != "" {
		var ok bool
		if chain, ok = c.reg.Chain(pos.ChainID); !ok {
			return chains.ErrChainNotFound
		}
	} else {
		if chain, err = c.reg.CreateChain(ctx, models.ChainTPContinuation, pos,
			c.cfg.MaxChainLevels(models.ChainTPContinuation), c.cfg.ChainReduction(models.ChainTPContinuation)); err != nil {
			return err
		}
	}
	if c.reg.IsExhausted(chain.ID) {
		_ = c.reg.CloseChain(ctx, chain.ID)
		return nil
	}

	info, err := c.gw.SymbolInfo(ctx, pos.Symbol)
	if err != nil {
		return err
	}
	w := &models.Watch{
		Kind:         models.WatchContinuation,
		ChainID:      chain.ID,
		PositionID:   pos.ID,
		Symbol:       pos.Symbol,
		Side:         pos.Side,
		Entry:        pos.Entry,
		StopPrice:    pos.SL,
		TakeProfit:   pos.TP,
		TriggerPrice: ContinuationTrigger(pos.Side, pos.TP, c.cfg.ContinuationGapPips(), info.PipSize),
		Deadline:     c.now().Add(c.cfg.ContinuationWindow(pos.Symbol)),
		MaxAttempts:  c.cfg.RecoveryMaxAttempts(),
	}
	return c.arm(ctx, w)
}

func (c *Coordinator) arm(ctx context.Context, w *models.Watch) error {
	if err := c.reg.AddWatch(ctx, w); err != nil {
		if errors.Is(err, chains.ErrWatchExists) {
			logger.Debug("recovery: watch for %s already armed", w.Key())
			return nil
		}
		return err
	}
	logger.Info("recovery: %s watch %s %s trigger=%.5f until %s",
		w.Kind, w.Symbol, w.ChainID, w.TriggerPrice, w.Deadline.Format(time.RFC3339))
	c.sink.Notify(models.NotifyRecoveryArmed, notify.Fields{
		"kind": string(w.Kind), "symbol": w.Symbol, "chain": w.ChainID,
		"trigger": w.TriggerPrice, "deadline": w.Deadline.UTC().Format(time.RFC3339),
	})
	return nil
}

// Handle: обработка события монитора по recovery/continuation ожиданию.
func (c *Coordinator) Handle(ctx context.Context, ev models.MonitorEvent) Outcome {
	w := ev.Watch
	if w == nil {
		return Outcome{Action: ActionIgnored}
	}
	switch ev.Kind {
	case models.EventRecoveryTimedOut, models.EventContinuationTimedOut:
		c.sink.Notify(models.NotifyRecoveryTimeout, notify.Fields{
			"kind": string(w.Kind), "symbol": w.Symbol, "chain": w.ChainID,
		})
		return Outcome{Action: ActionTimeout, ChainID: w.ChainID}
	case models.EventRecoveryTriggered, models.EventContinuationTriggered:
		return c.reenter(ctx, w, ev.Price)
	}
	return Outcome{Action: ActionIgnored}
}

func (c *Coordinator) reenter(ctx context.Context, w *models.Watch, price float64) Outcome {
	chain, ok := c.reg.Chain(w.ChainID)
	if !ok {
		logger.Error("recovery: watch %s references missing chain %s", w.ID, w.ChainID)
		c.sink.Notify(models.NotifyStateInconsistency, notify.Fields{"watch": w.ID, "chain": w.ChainID})
		return Outcome{Action: ActionExhausted, ChainID: w.ChainID, Reason: "chain missing"}
	}
	kind := string(chain.Kind)
	if c.reg.IsExhausted(chain.ID) {
		c.exhausted(chain, "max levels reached")
		return Outcome{Action: ActionExhausted, ChainID: chain.ID, Level: chain.Level}
	}

	snap, err := c.trend.Snapshot(ctx, w.Symbol, w.Side)
	if err != nil {
		logger.Warn("recovery: trend %s: %v", w.Symbol, err)
	}
	if err != nil || !trend.Strong(snap, c.cfg.TrendThresholds()) {
		return c.skip(chain, w, "trend_weak", fmt.Sprintf("adx=%.1f conf=%.2f aligned=%t", snap.ADX, snap.Confidence, snap.Aligned))
	}
	if c.cooling(w.Symbol) {
		return c.skip(chain, w, "cooldown", "")
	}

	level := chain.Level + 1
	role := models.RoleRecovery
	if w.Kind == models.WatchContinuation {
		role = models.RoleContinuation
	}
	req := orders.SingleRequest{
		Symbol:     w.Symbol,
		Side:       w.Side,
		Lot:        chain.BaseLot,
		SLDistance: chain.SLDistanceForLevel(level, c.cfg.MinSLFraction()),
		RR:         c.cfg.RecoveryRR(),
		Role:       role,
		Strategy:   chain.Strategy,
		ChainID:    chain.ID,
	}
	if w.Kind == models.WatchRecovery {
		req.TP = w.TakeProfit
	}

	pos, err := c.placer.PlaceSingle(ctx, req)
	if err != nil {
		if errors.Is(err, orders.ErrRiskRejected) {
			return c.skip(chain, w, "risk_rejected", err.Error())
		}
		return c.failed(ctx, chain, w, err)
	}

	if _, err := c.reg.AdvanceLevel(ctx, chain.ID, pos.ID); err != nil {
		// ордер уже у брокера, позиция зарегистрирована; цепочка просто дальше не пойдёт
		logger.Error("recovery: advance chain %s after %s: %v", chain.ID, pos.Ticket, err)
	}
	c.mu.Lock()
	c.lastEntry[w.Symbol] = c.now()
	c.mu.Unlock()

	metrics.Reentries.WithLabelValues(kind, "executed").Inc()
	logger.Info("recovery: %s level %d/%d %s %s @%.5f ticket=%s",
		kind, level, chain.MaxLevels, w.Symbol, w.Side, price, pos.Ticket)
	c.sink.Notify(models.NotifyReentryExecuted, notify.Fields{
		"chain": chain.ID, "kind": kind, "symbol": w.Symbol, "side": string(w.Side),
		"level": level, "lot": pos.Lot, "entry": pos.Entry, "sl": pos.SL, "tp": pos.TP,
	})
	return Outcome{Action: ActionExecuted, ChainID: chain.ID, Level: level, Position: pos}
}

func (c *Coordinator) cooling(symbol string) bool {
	cd := c.cfg.Cooldown()
	if cd <= 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	last, ok := c.lastEntry[symbol]
	return ok && c.now().Sub(last) < cd
}

func (c *Coordinator) skip(chain *models.Chain, w *models.Watch, reason, detail string) Outcome {
	metrics.Reentries.WithLabelValues(string(chain.Kind), "skipped").Inc()
	logger.Info("recovery: skip %s %s: %s %s", chain.Kind, w.Symbol, reason, detail)
	fields := notify.Fields{"chain": chain.ID, "symbol": w.Symbol, "reason": reason}
	if detail != "" {
		fields["detail"] = detail
	}
	c.sink.Notify(models.NotifyReentrySkipped, fields)
	return Outcome{Action: ActionSkipped, Reason: reason, ChainID: chain.ID, Level: chain.Level}
}

// failed: пока есть попытки, ожидание ставится заново с тем же триггером и дедлайном.
func (c *Coordinator) failed(ctx context.Context, chain *models.Chain, w *models.Watch, cause error) Outcome {
	metrics.Reentries.WithLabelValues(string(chain.Kind), "failed").Inc()
	attempts := w.Attempts + 1
	fields := notify.Fields{
		"chain": chain.ID, "symbol": w.Symbol, "error": cause.Error(),
		"attempt": attempts, "max_attempts": w.MaxAttempts,
	}
	c.sink.Notify(models.NotifyReentryFailed, fields)

	if attempts >= w.MaxAttempts || !c.now().Before(w.Deadline) {
		logger.Warn("recovery: %s %s gave up after %d attempts: %v", chain.Kind, w.Symbol, attempts, cause)
		return Outcome{Action: ActionFailed, Reason: cause.Error(), ChainID: chain.ID, Level: chain.Level}
	}
	next := *w
	next.ID = ""
	next.CreatedAt = time.Time{}
	next.Attempts = attempts
	if err := c.reg.AddWatch(ctx, &next); err != nil {
		logger.Error("recovery: re-arm %s: %v", w.Key(), err)
		return Outcome{Action: ActionFailed, Reason: err.Error(), ChainID: chain.ID, Level: chain.Level}
	}
	return Outcome{Action: ActionRearmed, Reason: cause.Error(), ChainID: chain.ID, Level: chain.Level}
}

func (c *Coordinator) exhausted(chain *models.Chain, reason string) {
	metrics.Reentries.WithLabelValues(string(chain.Kind), "exhausted").Inc()
	c.sink.Notify(models.NotifyRecoveryExhausted, notify.Fields{
		"chain": chain.ID, "kind": string(chain.Kind), "symbol": chain.Symbol,
		"level": chain.Level, "max_levels": chain.MaxLevels, "reason": reason,
	})
}
