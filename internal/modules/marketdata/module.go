package marketdata

import (
	"context"

	"lifecycle_bot/internal/engine/trend"
	"lifecycle_bot/internal/modules/broker/service/okx"
	"lifecycle_bot/internal/modules/config"
	health "lifecycle_bot/internal/modules/health/service"
	"lifecycle_bot/internal/modules/marketdata/service"
	"lifecycle_bot/pkg/logger"

	"go.uber.org/fx"
)

func NewStream(cfg *config.Config, state *health.State) *service.Stream {
	s := service.NewStream(service.Config{
		URL:       cfg.MarketData.URL,
		Symbols:   cfg.MarketData.Symbols,
		Timeframe: cfg.MarketData.Timeframe,
	})
	s.OnConnect = state.SetMarketConnected
	return s
}

// NewWarmuper: история берётся с публичного REST OKX, ключи не нужны.
func NewWarmuper(cfg *config.Config, ind *trend.Indicator) *service.Warmuper {
	return service.NewWarmuper(okx.NewClient(okx.Config{BaseURL: cfg.Broker.BaseURL}), ind.OnCandle)
}

// warmupDepth: сколько свечей нужно, чтобы EMA и ADX успели сойтись.
func warmupDepth(p *config.Provider) int {
	_, slow, adx := p.IndicatorPeriods()
	return max(slow, 2*adx) + 30
}

// Run прокачивает закрытые свечи в индикатор тренда.
func Run(ctx context.Context, s *service.Stream, ind *trend.Indicator, state *health.State) {
	for c := range s.Candles(ctx) {
		state.TouchCandle(c.End)
		if ind.OnCandle(c) {
			logger.Debug("marketdata: trend updated for %s at %s", c.InstID, c.End.Format("15:04"))
		}
	}
}

func Module() fx.Option {
	return fx.Module("marketdata",
		fx.Provide(NewStream, NewWarmuper),
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, p *config.Provider, s *service.Stream, wu *service.Warmuper, ind *trend.Indicator, state *health.State) {
			if !cfg.MarketData.Enabled {
				logger.Info("marketdata: disabled")
				return
			}
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go func() {
						defer close(done)
						n, err := wu.Warmup(ctx, cfg.MarketData.Symbols, cfg.MarketData.Timeframe, warmupDepth(p))
						if err != nil {
							logger.Warn("marketdata: warmup finished with error: %v", err)
						}
						logger.Info("marketdata: warmup fed %d candles", n)
						Run(ctx, s, ind, state)
					}()
					return nil
				},
				OnStop: func(stopCtx context.Context) error {
					cancel()
					select {
					case <-done:
					case <-stopCtx.Done():
					}
					return nil
				},
			})
		}),
	)
}
