package signalfeed

import (
	"context"

	"lifecycle_bot/internal/engine/trend"
	"lifecycle_bot/internal/models"
	"lifecycle_bot/internal/modules/config"
	health "lifecycle_bot/internal/modules/health/service"
	"lifecycle_bot/internal/modules/signalfeed/service"
	"lifecycle_bot/pkg/logger"

	"go.uber.org/fx"
)

func NewClient(cfg *config.Config, hub *trend.Hub, state *health.State) *service.Client {
	c := service.NewClient(cfg.SignalFeed.URL, cfg.SignalFeed.Buffer, hub)
	c.OnConnect = state.SetFeedConnected
	return c
}

// NewSignals отдаёт канал раннеру; при выключенном фиде канал пустой и никогда не пишется.
func NewSignals(cfg *config.Config, c *service.Client) <-chan models.Signal {
	if !cfg.SignalFeed.Enabled {
		return make(chan models.Signal)
	}
	return c.Signals()
}

func Module() fx.Option {
	return fx.Module("signalfeed",
		fx.Provide(NewClient, NewSignals),
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, c *service.Client) {
			if !cfg.SignalFeed.Enabled || cfg.SignalFeed.URL == "" {
				logger.Info("signalfeed: disabled")
				return
			}
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go func() {
						defer close(done)
						c.Run(ctx)
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
