package service

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"lifecycle_bot/internal/models"
)

// Simulator: детерминированный брокер для simulation-режима и тестов.
// Цены двигаются только через SetPrice; SL/TP исполняются «на стороне брокера»
// при пересечении, как у живого брокера, без уведомления ядра.
type Simulator struct {
	mu sync.Mutex

	seq     int
	balance float64
	// MarginPerLot: упрощённая маржа, фиксированная сумма на 1.0 лот.
	MarginPerLot float64
	prices       map[string]float64
	symbols      map[string]models.SymbolInfo
	positions    map[string]*models.BrokerPosition
	closed       map[string]float64
	clientIDs    map[string]string

	// PlaceHook: тестовый перехват размещения, ошибка => ордер отклонён.
	PlaceHook func(req PlaceRequest) error
	// PriceHook: тестовый перехват котировок.
	PriceHook func(symbol string) error
}

func NewSimulator(balance float64) *Simulator {
	s := &Simulator{
		balance:      balance,
		MarginPerLot: 1000,
		prices:       make(map[string]float64),
		symbols:      make(map[string]models.SymbolInfo),
		positions:    make(map[string]*models.BrokerPosition),
		closed:       make(map[string]float64),
		clientIDs:    make(map[string]string),
	}
	for _, sym := range []string{"EURUSD", "GBPUSD", "AUDUSD", "NZDUSD", "USDCAD"} {
		s.symbols[sym] = forexInfo(sym)
		s.prices[sym] = 1.1
	}
	s.prices["GBPUSD"] = 1.27
	s.prices["AUDUSD"] = 0.66
	s.prices["NZDUSD"] = 0.61
	s.prices["USDCAD"] = 1.36
	s.symbols["USDJPY"] = models.SymbolInfo{
		Symbol: "USDJPY", PipSize: 0.01, PipValuePerLot: 6.7, MinLot: 0.01, LotStep: 0.01,
		MaxLot: 100, MinStopDistance: 0.05, Digits: 3,
	}
	s.prices["USDJPY"] = 150
	s.symbols["XAUUSD"] = models.SymbolInfo{
		Symbol: "XAUUSD", PipSize: 0.1, PipValuePerLot: 10, MinLot: 0.01, LotStep: 0.01,
		MaxLot: 50, MinStopDistance: 0.5, Digits: 2,
	}
	s.prices["XAUUSD"] = 2000
	return s
}

func forexInfo(sym string) models.SymbolInfo {
	return models.SymbolInfo{
		Symbol:          sym,
		PipSize:         0.0001,
		PipValuePerLot:  10,
		MinLot:          0.01,
		LotStep:         0.01,
		MaxLot:          100,
		MinStopDistance: 0.0005,
		Digits:          5,
	}
}

// AddSymbol регистрирует инструмент со стартовой ценой.
func (s *Simulator) AddSymbol(info models.SymbolInfo, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.symbols[info.Symbol] = info
	s.prices[info.Symbol] = price
}

// SetPrice двигает цену и исполняет SL/TP задетых позиций.
func (s *Simulator) SetPrice(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = price
	for ticket, p := range s.positions {
		if p.Symbol != symbol {
			continue
		}
		if exit, hit := stopHit(p, price); hit {
			s.closeLocked(ticket, exit)
		}
	}
}

// Drop убирает позицию так, будто брокер закрыл её сам с указанной прибылью.
func (s *Simulator) Drop(ticket string, profit float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[ticket]; !ok {
		return
	}
	delete(s.positions, ticket)
	s.closed[ticket] = profit
	s.balance += profit
}

func stopHit(p *models.BrokerPosition, price float64) (float64, bool) {
	if p.Side == models.SideBuy {
		if p.SL > 0 && price <= p.SL {
			return p.SL, true
		}
		if p.TP > 0 && price >= p.TP {
			return p.TP, true
		}
		return 0, false
	}
	if p.SL > 0 && price >= p.SL {
		return p.SL, true
	}
	if p.TP > 0 && price <= p.TP {
		return p.TP, true
	}
	return 0, false
}

func (s *Simulator) profitLocked(p *models.BrokerPosition, exit float64, lot float64) float64 {
	info := s.symbols[p.Symbol]
	if info.PipSize <= 0 {
		return 0
	}
	pips := (exit - p.Entry) / info.PipSize * p.Side.Sign()
	return math.Round(pips*info.PipValuePerLot*lot*100) / 100
}

func (s *Simulator) closeLocked(ticket string, exit float64) float64 {
	p := s.positions[ticket]
	profit := s.profitLocked(p, exit, p.Lot)
	delete(s.positions, ticket)
	s.closed[ticket] = profit
	s.balance += profit
	return profit
}

func (s *Simulator) PlaceOrder(ctx context.Context, req PlaceRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.ClientID != "" {
		if t, ok := s.clientIDs[req.ClientID]; ok {
			return t, nil
		}
	}
	if s.PlaceHook != nil {
		if err := s.PlaceHook(req); err != nil {
			return "", err
		}
	}
	info, ok := s.symbols[req.Symbol]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownSymbol, req.Symbol)
	}
	if req.Lot < info.MinLot || req.Lot <= 0 {
		return "", fmt.Errorf("%w: lot %.4f below min %.4f", ErrRejected, req.Lot, info.MinLot)
	}
	price := s.prices[req.Symbol]
	if req.SL > 0 && math.Abs(price-req.SL) < info.MinStopDistance-1e-12 {
		return "", fmt.Errorf("%w: sl too close", ErrRejected)
	}
	if s.freeMarginLocked() < s.marginFor(req.Lot, price) {
		return "", ErrInsufficientMargin
	}

	s.seq++
	ticket := "SIM-" + strconv.Itoa(s.seq)
	s.positions[ticket] = &models.BrokerPosition{
		Ticket: ticket,
		Symbol: req.Symbol,
		Side:   req.Side,
		Lot:    req.Lot,
		Entry:  price,
		SL:     req.SL,
		TP:     req.TP,
	}
	if req.ClientID != "" {
		s.clientIDs[req.ClientID] = ticket
	}
	return ticket, nil
}

func (s *Simulator) ClosePosition(ctx context.Context, ticket string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[ticket]
	if !ok {
		return false, nil
	}
	s.closeLocked(ticket, s.prices[p.Symbol])
	return true, nil
}

func (s *Simulator) ClosePartial(ctx context.Context, ticket string, lot float64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[ticket]
	if !ok {
		return false, nil
	}
	if lot >= p.Lot-1e-9 {
		s.closeLocked(ticket, s.prices[p.Symbol])
		return true, nil
	}
	profit := s.profitLocked(p, s.prices[p.Symbol], lot)
	p.Lot = math.Round((p.Lot-lot)*1e8) / 1e8
	s.balance += profit
	return true, nil
}

func (s *Simulator) GetPosition(ctx context.Context, ticket string) (*models.BrokerPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[ticket]
	if !ok {
		return nil, nil
	}
	cp := *p
	cp.Profit = s.profitLocked(p, s.prices[p.Symbol], p.Lot)
	return &cp, nil
}

func (s *Simulator) GetAllPositions(ctx context.Context, symbol string) ([]models.BrokerPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.BrokerPosition, 0, len(s.positions))
	for _, p := range s.positions {
		if symbol != "" && !strings.EqualFold(p.Symbol, symbol) {
			continue
		}
		cp := *p
		cp.Profit = s.profitLocked(p, s.prices[p.Symbol], p.Lot)
		out = append(out, cp)
	}
	return out, nil
}

func (s *Simulator) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PriceHook != nil {
		if err := s.PriceHook(symbol); err != nil {
			return 0, err
		}
	}
	px, ok := s.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return px, nil
}

func (s *Simulator) GetClosedTradeProfit(ctx context.Context, ticket string) (*float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.closed[ticket]; ok {
		return &v, nil
	}
	return nil, nil
}

func (s *Simulator) Account(ctx context.Context) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accountLocked(), nil
}

func (s *Simulator) accountLocked() models.Account {
	var floating, margin float64
	for _, p := range s.positions {
		floating += s.profitLocked(p, s.prices[p.Symbol], p.Lot)
		margin += s.marginFor(p.Lot, s.prices[p.Symbol])
	}
	acc := models.Account{
		Balance:    s.balance,
		Equity:     s.balance + floating,
		Margin:     margin,
		FreeMargin: s.balance + floating - margin,
	}
	if margin > 0 {
		acc.MarginLevel = acc.Equity / margin * 100
	}
	return acc
}

func (s *Simulator) freeMarginLocked() float64 { return s.accountLocked().FreeMargin }

func (s *Simulator) marginFor(lot, _ float64) float64 {
	return lot * s.MarginPerLot
}

func (s *Simulator) SymbolInfo(ctx context.Context, symbol string) (models.SymbolInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.symbols[symbol]
	if !ok {
		return models.SymbolInfo{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return info, nil
}

var _ Gateway = (*Simulator)(nil)
