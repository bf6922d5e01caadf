package orders

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"lifecycle_bot/internal/engine/chains"
	"lifecycle_bot/internal/engine/risk"
	"lifecycle_bot/internal/helper"
	"lifecycle_bot/internal/metrics"
	"lifecycle_bot/internal/models"
	broker "lifecycle_bot/internal/modules/broker/service"
	"lifecycle_bot/internal/modules/config"
	notify "lifecycle_bot/internal/modules/notify/service"
	"lifecycle_bot/pkg/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var (
	ErrInvalidStops = errors.New("invalid stop levels")
	ErrRiskRejected = errors.New("risk rejected")
)

// Placer считает лоты и SL/TP и размещает ордера через брокера.
type Placer struct {
	gw   broker.Gateway
	gate *risk.Gate
	reg  *chains.Registry
	cfg  *config.Provider
	sink notify.Sink
	now  func() time.Time
}

func NewPlacer(gw broker.Gateway, gate *risk.Gate, reg *chains.Registry, cfg *config.Provider, sink notify.Sink) *Placer {
	return &Placer{gw: gw, gate: gate, reg: reg, cfg: cfg, sink: sink, now: time.Now}
}

// LegResult: итог одной ноги dual-размещения.
type LegResult struct {
	Role     models.OrderRole
	Position *models.Position
	Err      error
}

type DualResult struct {
	OrderA        LegResult
	OrderB        LegResult
	ChainID       string
	ProfitChainID string
	Errors        []error
}

// Placed: сколько ног реально открыто.
func (r DualResult) Placed() int {
	n := 0
	if r.OrderA.Position != nil {
		n++
	}
	if r.OrderB.Position != nil {
		n++
	}
	return n
}

type legPlan struct {
	role models.OrderRole
	lot  float64
	sl   float64
	tp   float64
	tp1  float64
}

// PlaceDual: общий лот от riskAmount делится 50/50, ноги размещаются параллельно
// и независимо. Упавшая нога не мешает второй и не попадает в цепочку.
func (p *Placer) PlaceDual(ctx context.Context, sig models.Signal, strategy string, riskAmount float64) (res DualResult) {
	res.OrderA.Role = models.RoleA
	res.OrderB.Role = models.RoleB
	if strategy == "" {
		strategy = sig.Strategy
	}

	fail := func(err error) DualResult {
		res.OrderA.Err, res.OrderB.Err = err, err
		res.Errors = append(res.Errors, err)
		p.sink.Notify(models.NotifyOrderFailed, notify.Fields{"symbol": sig.Symbol, "side": string(sig.Side), "error": err.Error()})
		return res
	}

	if err := sig.Validate(); err != nil {
		return fail(err)
	}
	info, err := p.gw.SymbolInfo(ctx, sig.Symbol)
	if err != nil {
		return fail(fmt.Errorf("symbol info %s: %w", sig.Symbol, err))
	}
	price, err := p.gw.GetCurrentPrice(ctx, sig.Symbol)
	if err != nil {
		return fail(fmt.Errorf("price %s: %w", sig.Symbol, err))
	}

	planA, planB, err := p.plan(sig, info, price, riskAmount)
	if err != nil {
		return fail(err)
	}

	specA, errA := p.prepare(sig, strategy, info, price, planA)
	specB, errB := p.prepare(sig, strategy, info, price, planB)
	res.OrderA.Err, res.OrderB.Err = errA, errB

	// дневной лимит проверяем по сумме ног: по отдельности каждая может пройти
	var legs []risk.LegRisk
	for _, s := range []*placeSpec{specA, specB} {
		if s != nil {
			legs = append(legs, s.legRisk())
		}
	}
	if len(legs) > 1 {
		if ok, reason := p.gate.ValidateCombinedRisk(ctx, sig.Symbol, legs...); !ok {
			metrics.OrdersPlaced.WithLabelValues("dual", "risk_rejected").Inc()
			p.sink.Notify(models.NotifyRiskRejected, notify.Fields{
				"symbol": sig.Symbol, "role": "dual", "reason": reason,
			})
			err := fmt.Errorf("%w: %s", ErrRiskRejected, reason)
			res.OrderA.Err, res.OrderB.Err = err, err
			specA, specB = nil, nil
		}
	}

	// размещение не отменяется вместе с ctx: отправленный ордер всегда фиксируем
	placeCtx := context.WithoutCancel(ctx)
	var g errgroup.Group
	if specA != nil {
		g.Go(func() error {
			res.OrderA.Position, res.OrderA.Err = p.send(placeCtx, *specA)
			return nil
		})
	}
	if specB != nil {
		g.Go(func() error {
			res.OrderB.Position, res.OrderB.Err = p.send(placeCtx, *specB)
			return nil
		})
	}
	_ = g.Wait()

	for _, leg := range []LegResult{res.OrderA, res.OrderB} {
		if leg.Err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("order %s: %w", leg.Role, leg.Err))
		}
	}
	p.register(placeCtx, &res)
	return res
}

// plan: A: SL сигнала и дальний TP (TP2, иначе TP1, иначе RR), TP1 как чекпоинт;
// B: SL на фиксированный долларовый риск и ближний TP.
func (p *Placer) plan(sig models.Signal, info models.SymbolInfo, price, riskAmount float64) (a, b legPlan, err error) {
	side := sig.Side.Sign()

	slA := sig.SL
	if slA <= 0 {
		slA = price - side*p.cfg.DefaultSLPips()*info.PipSize
	}
	distA := math.Abs(price - slA)
	if distA <= 0 {
		return a, b, fmt.Errorf("%w: zero sl distance", ErrInvalidStops)
	}

	if riskAmount <= 0 {
		riskAmount = p.cfg.RiskPerTrade()
	}
	half := helper.NormalizeLot(helper.LotForRisk(riskAmount, price, slA, info.PipSize, info.PipValuePerLot)/2,
		info.MinLot, info.LotStep, info.MaxLot)
	pipsA := info.Pips(distA)

	a = legPlan{role: models.RoleA, lot: half, sl: slA}
	switch {
	case sig.TP2 > 0:
		a.tp = sig.TP2
		a.tp1 = sig.TP1
	case sig.TP1 > 0:
		a.tp = sig.TP1
	default:
		a.tp = price + side*p.cfg.DefaultRR()*distA
	}

	b = legPlan{role: models.RoleB, lot: half}
	fixedRisk := p.cfg.FixedRiskUSD()
	pipsB := pipsA
	if fixedRisk > 0 {
		pipsB = fixedRisk / (info.PipValuePerLot * half)
	}
	distB := pipsB * info.PipSize
	b.sl = price - side*distB
	if sig.TP1 > 0 {
		b.tp = sig.TP1
	} else {
		b.tp = price + side*p.cfg.NearTPRR()*distB
	}
	return a, b, nil
}

// prepare: SL/TP ноги после проверки сторон и минимальной дистанции.
func (p *Placer) prepare(sig models.Signal, strategy string, info models.SymbolInfo, price float64, plan legPlan) (*placeSpec, error) {
	sl, tp, err := ValidateStops(sig.Side, price, plan.sl, plan.tp, info.MinStopDistance)
	if err != nil {
		p.notifyFailed(sig.Symbol, plan.role, err)
		return nil, err
	}
	return &placeSpec{
		symbol:   sig.Symbol,
		side:     sig.Side,
		lot:      plan.lot,
		price:    price,
		sl:       sl,
		tp:       tp,
		tp1:      plan.tp1,
		role:     plan.role,
		strategy: strategy,
		info:     info,
	}, nil
}

// register: успешные ноги в одну SL-hunt цепочку, нога B ещё и в profit-booking.
func (p *Placer) register(ctx context.Context, res *DualResult) {
	var placed []*models.Position
	for _, pos := range []*models.Position{res.OrderA.Position, res.OrderB.Position} {
		if pos != nil {
			placed = append(placed, pos)
		}
	}
	if len(placed) == 0 {
		return
	}

	chain, err := p.reg.CreateChain(ctx, models.ChainSLHunt, placed[0],
		p.cfg.MaxChainLevels(models.ChainSLHunt), p.cfg.ChainReduction(models.ChainSLHunt))
	if err != nil {
		logger.Error("orders: create sl-hunt chain: %v", err)
		res.Errors = append(res.Errors, err)
	} else {
		res.ChainID = chain.ID
	}

	if res.OrderB.Position != nil && p.cfg.ProfitEnabled() {
		pc, err := p.reg.CreateChain(ctx, models.ChainProfitBooking, res.OrderB.Position,
			p.cfg.MaxChainLevels(models.ChainProfitBooking), p.cfg.ChainReduction(models.ChainProfitBooking))
		if err != nil {
			logger.Error("orders: create profit chain: %v", err)
			res.Errors = append(res.Errors, err)
		} else {
			res.ProfitChainID = pc.ID
			res.OrderB.Position.ProfitChainID = pc.ID
		}
	}

	for i, pos := range placed {
		pos.ChainID = res.ChainID
		if err := p.reg.RegisterPosition(ctx, pos); err != nil {
			// ордер у брокера есть, позиция подхватится сверкой только если сохранится
			logger.Error("orders: register %s %s: %v", pos.Role, pos.Ticket, err)
			res.Errors = append(res.Errors, err)
			continue
		}
		if i > 0 && res.ChainID != "" {
			if err := p.reg.Attach(ctx, res.ChainID, pos.ID); err != nil {
				logger.Error("orders: attach %s to chain %s: %v", pos.ID, res.ChainID, err)
			}
		}
	}
}

// SingleRequest: одиночный ордер (перезаход). SLDistance в цене, TP=0 => RR.
type SingleRequest struct {
	Symbol        string
	Side          models.Side
	Lot           float64
	SLDistance    float64
	TP            float64
	RR            float64
	Role          models.OrderRole
	Strategy      string
	ChainID       string
	ProfitChainID string
}

func (p *Placer) PlaceSingle(ctx context.Context, req SingleRequest) (pos *models.Position, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("orders.PlaceSingle %s %s: %w", req.Role, req.Symbol, err)
		}
	}()

	info, err := p.gw.SymbolInfo(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}
	price, err := p.gw.GetCurrentPrice(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}
	if req.SLDistance <= 0 {
		return nil, fmt.Errorf("%w: sl distance <= 0", ErrInvalidStops)
	}
	lot := helper.NormalizeLot(req.Lot, info.MinLot, info.LotStep, info.MaxLot)

	side := req.Side.Sign()
	sl := price - side*req.SLDistance
	tp := req.TP
	// TP уже позади цены: берём от RR
	if tp <= 0 || (tp-price)*side <= 0 {
		rr := req.RR
		if rr <= 0 {
			rr = p.cfg.DefaultRR()
		}
		tp = price + side*rr*req.SLDistance
	}
	sl, tp, err = ValidateStops(req.Side, price, sl, tp, info.MinStopDistance)
	if err != nil {
		p.notifyFailed(req.Symbol, req.Role, err)
		return nil, err
	}

	pos, err = p.send(context.WithoutCancel(ctx), placeSpec{
		symbol:   req.Symbol,
		side:     req.Side,
		lot:      lot,
		price:    price,
		sl:       sl,
		tp:       tp,
		role:     req.Role,
		strategy: req.Strategy,
		info:     info,
	})
	if err != nil {
		return nil, err
	}
	pos.ChainID = req.ChainID
	pos.ProfitChainID = req.ProfitChainID
	if err := p.reg.RegisterPosition(context.WithoutCancel(ctx), pos); err != nil {
		return pos, err
	}
	return pos, nil
}

type placeSpec struct {
	symbol   string
	side     models.Side
	lot      float64
	price    float64
	sl       float64
	tp       float64
	tp1      float64
	role     models.OrderRole
	strategy string
	info     models.SymbolInfo
}

func (s placeSpec) legRisk() risk.LegRisk {
	return risk.LegRisk{Lot: s.lot, SLPips: s.info.Pips(s.price - s.sl)}
}

// send: риск-гейт и сам вызов брокера. ClientID один на все ретраи.
func (p *Placer) send(ctx context.Context, s placeSpec) (*models.Position, error) {
	lr := s.legRisk()
	if ok, reason := p.gate.ValidateTradeRisk(ctx, s.symbol, lr.Lot, lr.SLPips); !ok {
		metrics.OrdersPlaced.WithLabelValues(string(s.role), "risk_rejected").Inc()
		p.sink.Notify(models.NotifyRiskRejected, notify.Fields{
			"symbol": s.symbol, "role": string(s.role), "lot": s.lot, "reason": reason,
		})
		return nil, fmt.Errorf("%w: %s", ErrRiskRejected, reason)
	}

	ticket, err := p.gw.PlaceOrder(ctx, broker.PlaceRequest{
		ClientID: uuid.NewString(),
		Symbol:   s.symbol,
		Side:     s.side,
		Lot:      s.lot,
		Price:    s.price,
		SL:       s.sl,
		TP:       s.tp,
		Comment:  fmt.Sprintf("%s-%s", p.cfg.CommentPrefix(), s.role),
	})
	if err != nil {
		p.notifyFailed(s.symbol, s.role, err)
		return nil, err
	}

	pos := &models.Position{
		ID:       uuid.NewString(),
		Ticket:   ticket,
		Symbol:   s.symbol,
		Side:     s.side,
		Entry:    s.price,
		SL:       s.sl,
		TP:       s.tp,
		TP1:      s.tp1,
		Lot:      s.lot,
		Strategy: s.strategy,
		Role:     s.role,
		Status:   models.PositionOpen,
		OpenedAt: p.now().UTC(),
	}
	metrics.OrdersPlaced.WithLabelValues(string(s.role), "ok").Inc()
	logger.Info("orders: %s %s %s lot=%.2f @%.5f sl=%.5f tp=%.5f ticket=%s",
		s.role, s.side, s.symbol, s.lot, s.price, s.sl, s.tp, ticket)
	p.sink.Notify(models.NotifyOrderPlaced, notify.Fields{
		"symbol": s.symbol, "side": string(s.side), "role": string(s.role),
		"lot": s.lot, "entry": s.price, "sl": s.sl, "tp": s.tp, "ticket": ticket,
	})
	return pos, nil
}

func (p *Placer) notifyFailed(symbol string, role models.OrderRole, err error) {
	metrics.OrdersPlaced.WithLabelValues(string(role), "failed").Inc()
	logger.Warn("orders: %s %s failed: %v", role, symbol, err)
	p.sink.Notify(models.NotifyOrderFailed, notify.Fields{"symbol": symbol, "role": string(role), "error": err.Error()})
}
