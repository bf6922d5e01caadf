package reconcile

import (
	"context"
	"fmt"
	"time"

	"lifecycle_bot/internal/engine/chains"
	"lifecycle_bot/internal/metrics"
	"lifecycle_bot/internal/models"
	broker "lifecycle_bot/internal/modules/broker/service"
	"lifecycle_bot/internal/modules/config"
	notify "lifecycle_bot/internal/modules/notify/service"
	"lifecycle_bot/pkg/logger"

	"github.com/shopspring/decimal"
)

// Closer: путь закрытия позиции (lifecycle.Service).
type Closer interface {
	HandleClose(ctx context.Context, pos *models.Position, reason models.CloseReason, pnl float64) (*models.Position, error)
}

// Loop находит позиции, закрытые брокером без ведома бота (SL/TP на стороне брокера).
type Loop struct {
	reg    *chains.Registry
	gw     broker.Gateway
	closer Closer
	locks  *broker.TicketLocks
	cfg    *config.Provider
	sink   notify.Sink
}

func NewLoop(reg *chains.Registry, gw broker.Gateway, closer Closer, locks *broker.TicketLocks, cfg *config.Provider, sink notify.Sink) *Loop {
	return &Loop{reg: reg, gw: gw, closer: closer, locks: locks, cfg: cfg, sink: sink}
}

type Result struct {
	Checked int
	Closed  int
	Pending int
}

// Classify: прибыль >= 0 => TP, иначе SL.
func Classify(profit float64) models.CloseReason {
	if profit >= 0 {
		return models.CloseTPHitAuto
	}
	return models.CloseSLHitAuto
}

func (l *Loop) Reconcile(ctx context.Context) (res Result, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("reconcile.Reconcile: %w", err)
		}
	}()

	open := l.reg.OpenPositions()
	res.Checked = len(open)
	if len(open) == 0 {
		return res, nil
	}
	live, err := l.gw.GetAllPositions(ctx, "")
	if err != nil {
		return res, err
	}
	tickets := make(map[string]struct{}, len(live))
	for _, bp := range live {
		tickets[bp.Ticket] = struct{}{}
	}

	// на неттинговом брокере обе ноги живут под одним тикетом
	var order []string
	gone := make(map[string][]*models.Position)
	for _, pos := range open {
		if _, ok := tickets[pos.Ticket]; ok {
			continue
		}
		if _, seen := gone[pos.Ticket]; !seen {
			order = append(order, pos.Ticket)
		}
		gone[pos.Ticket] = append(gone[pos.Ticket], pos)
	}
	for _, ticket := range order {
		closed, pending := l.reconcileTicket(ctx, ticket, gone[ticket])
		res.Closed += closed
		res.Pending += pending
	}
	if res.Closed > 0 || res.Pending > 0 {
		logger.Info("reconcile: checked=%d closed=%d pending=%d", res.Checked, res.Closed, res.Pending)
	}
	return res, nil
}

func (l *Loop) reconcileTicket(ctx context.Context, ticket string, group []*models.Position) (closed, pending int) {
	unlock := l.locks.Lock(ticket)
	defer unlock()

	// ручное закрытие могло успеть раньше
	var still []*models.Position
	for _, pos := range group {
		if cur, ok := l.reg.Position(pos.ID); ok && cur.IsOpen() {
			still = append(still, pos)
		}
	}
	if len(still) == 0 {
		return 0, 0
	}

	profit, err := l.gw.GetClosedTradeProfit(ctx, ticket)
	if err != nil {
		logger.Warn("reconcile: closed profit %s: %v", ticket, err)
		return 0, len(still)
	}
	if profit == nil {
		// история у брокера ещё не доехала, попробуем на следующем проходе
		return 0, len(still)
	}

	for i, pnl := range SplitByLot(*profit, still) {
		pos := still[i]
		reason := Classify(pnl)
		if _, err := l.closer.HandleClose(context.WithoutCancel(ctx), pos, reason, pnl); err != nil {
			logger.Error("reconcile: close %s %s: %v", ticket, pos.ID, err)
			pending++
			continue
		}
		metrics.ReconcileClosed.WithLabelValues(string(reason)).Inc()
		l.sink.Notify(models.NotifyReconciled, notify.Fields{
			"symbol": pos.Symbol, "ticket": ticket, "reason": string(reason), "pnl": pnl,
		})
		closed++
	}
	return closed, pending
}

// SplitByLot делит реализованный PnL тикета между позициями пропорционально лоту.
// Сумма долей в центах равна исходной: остаток уходит последней позиции.
func SplitByLot(total float64, positions []*models.Position) []float64 {
	out := make([]float64, len(positions))
	if len(positions) == 0 {
		return out
	}
	if len(positions) == 1 {
		out[0] = total
		return out
	}
	sum := decimal.Zero
	for _, p := range positions {
		sum = sum.Add(decimal.NewFromFloat(p.Lot))
	}
	whole := decimal.NewFromFloat(total)
	rest := whole
	for i, p := range positions {
		if i == len(positions)-1 {
			out[i] = rest.InexactFloat64()
			break
		}
		var share decimal.Decimal
		if sum.IsZero() {
			share = whole.Div(decimal.NewFromInt(int64(len(positions)))).Round(2)
		} else {
			share = whole.Mul(decimal.NewFromFloat(p.Lot)).Div(sum).Round(2)
		}
		out[i] = share.InexactFloat64()
		rest = rest.Sub(share)
	}
	return out
}

// Run: сверка по тикеру, интервал перечитывается из конфига.
func (l *Loop) Run(ctx context.Context) {
	interval := l.cfg.ReconcileInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := l.Reconcile(context.WithoutCancel(ctx)); err != nil {
				logger.Error("%v", err)
			}
			if next := l.cfg.ReconcileInterval(); next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}
