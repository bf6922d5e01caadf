package models

import "time"

type OrderRole string

const (
	RoleA            OrderRole = "A" // smart SL, TP-trail
	RoleB            OrderRole = "B" // fixed SL, profit-trail
	RoleRecovery     OrderRole = "RECOVERY"
	RoleContinuation OrderRole = "CONTINUATION"
	RoleProfit       OrderRole = "PROFIT"
)

type PositionStatus string

const (
	PositionOpen   PositionStatus = "OPEN"
	PositionClosed PositionStatus = "CLOSED"
)

type CloseReason string

const (
	CloseSLHit     CloseReason = "SL_HIT"
	CloseTPHit     CloseReason = "TP_HIT"
	CloseManual    CloseReason = "MANUAL_CLOSE"
	CloseReversal  CloseReason = "REVERSAL_EXIT"
	CloseSLHitAuto CloseReason = "SL_HIT_AUTO_CLOSED"
	CloseTPHitAuto CloseReason = "TP_HIT_AUTO_CLOSED"
	ClosePartial   CloseReason = "PARTIAL_CLOSE"
)

// IsStopLoss: SL-классификация, в т.ч. найденная сверкой.
func (r CloseReason) IsStopLoss() bool { return r == CloseSLHit || r == CloseSLHitAuto }

// IsTakeProfit: TP-классификация, в т.ч. найденная сверкой.
func (r CloseReason) IsTakeProfit() bool { return r == CloseTPHit || r == CloseTPHitAuto }

// Position: один ордер у брокера. Не удаляется, только закрывается.
type Position struct {
	ID       string    `json:"id"`
	Ticket   string    `json:"ticket"`
	Symbol   string    `json:"symbol"`
	Side     Side      `json:"side"`
	Entry    float64   `json:"entry"`
	SL       float64   `json:"sl"`
	TP       float64   `json:"tp"`
	TP1      float64   `json:"tp1"` // промежуточная цель (0 => нет)
	Lot      float64   `json:"lot"`
	Strategy string    `json:"strategy"`
	Role     OrderRole `json:"role"`

	Status      PositionStatus `json:"status"`
	CloseReason CloseReason    `json:"close_reason,omitempty"`
	PnL         float64        `json:"pnl"`
	OpenedAt    time.Time      `json:"opened_at"`
	ClosedAt    time.Time      `json:"closed_at"`

	TP1Handled bool `json:"tp1_handled"`

	ChainID       string `json:"chain_id,omitempty"`        // SL-hunt / continuation цепочка
	ProfitChainID string `json:"profit_chain_id,omitempty"` // profit-booking цепочка
}

func (p *Position) IsOpen() bool { return p != nil && p.Status == PositionOpen }

// SLDistance: расстояние до стопа в цене.
func (p *Position) SLDistance() float64 {
	d := p.Entry - p.SL
	if d < 0 {
		return -d
	}
	return d
}

// CanTransition: OPEN -> CLOSED, CLOSED терминален.
func CanTransition(from, to PositionStatus) bool {
	return from == PositionOpen && to == PositionClosed
}

// BrokerPosition: то, что брокер отдаёт по открытой позиции.
type BrokerPosition struct {
	Ticket string
	Symbol string
	Side   Side
	Lot    float64
	Entry  float64
	SL     float64
	TP     float64
	Profit float64
}

// SymbolInfo: метаданные инструмента для расчёта лота и стопов.
type SymbolInfo struct {
	Symbol          string
	PipSize         float64
	PipValuePerLot  float64 // $ за 1 пип при лоте 1.0
	MinLot          float64
	LotStep         float64
	MaxLot          float64
	MinStopDistance float64 // минимальная дистанция SL/TP от цены, в цене
	Digits          int
}

// Pips переводит ценовую дистанцию в пипсы.
func (s SymbolInfo) Pips(distance float64) float64 {
	if s.PipSize <= 0 {
		return 0
	}
	if distance < 0 {
		distance = -distance
	}
	return distance / s.PipSize
}

// PipValue: стоимость пипа для заданного лота.
func (s SymbolInfo) PipValue(lot float64) float64 { return s.PipValuePerLot * lot }

type Account struct {
	Balance     float64
	Equity      float64
	Margin      float64
	FreeMargin  float64
	MarginLevel float64 // %, 0 => нет открытых позиций
}
