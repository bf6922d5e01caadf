package service

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"lifecycle_bot/internal/models"
	"lifecycle_bot/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// History: REST-история свечей (строки OKX).
type History interface {
	CandleRows(ctx context.Context, instID, bar string, limit int) ([][]string, error)
}

// Warmuper прогревает индикатор историей, чтобы тренд был готов до первой живой свечи.
type Warmuper struct {
	hist     History
	onCandle func(models.Candle) bool
	// ограничитель параллелизма, чтобы не словить rate limit
	parallel int
}

func NewWarmuper(hist History, onCandle func(models.Candle) bool) *Warmuper {
	return &Warmuper{hist: hist, onCandle: onCandle, parallel: 8}
}

// Warmup возвращает число скормленных свечей. Ошибка по одному символу не отменяет остальные.
func (w *Warmuper) Warmup(ctx context.Context, symbols []string, timeframe string, need int) (int64, error) {
	var (
		cnt      atomic.Int64
		firstErr atomic.Pointer[error]
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.parallel)

	for _, sym := range symbols {
		g.Go(func() error {
			rows, err := w.hist.CandleRows(gctx, sym, timeframe, need)
			if err != nil {
				err = fmt.Errorf("warmup %s: %w", sym, err)
				firstErr.CompareAndSwap(nil, &err)
				logger.Warn("marketdata: %v", err)
				return nil
			}
			candles := ParseRows(sym, timeframe, rows)
			sort.Slice(candles, func(i, j int) bool { return candles[i].Start.Before(candles[j].Start) })
			for _, c := range candles {
				w.onCandle(c)
				cnt.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	if p := firstErr.Load(); p != nil {
		return cnt.Load(), *p
	}
	return cnt.Load(), nil
}
