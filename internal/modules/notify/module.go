package notify

import (
	"context"

	"lifecycle_bot/internal/modules/config"
	"lifecycle_bot/internal/modules/notify/service"
	"lifecycle_bot/pkg/logger"

	"go.uber.org/fx"
)

// NewTelegram: без токена Telegram не поднимаем, уведомления идут только в лог.
func NewTelegram(cfg *config.Config) *service.Telegram {
	if cfg.Telegram.Token == "" || cfg.Telegram.ChatID == 0 {
		logger.Warn("telegram disabled: token or chat id is empty")
		return nil
	}
	t, err := service.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID)
	if err != nil {
		logger.Error("telegram disabled: %v", err)
		return nil
	}
	return t
}

func NewQueue(cfg *config.Config, tg *service.Telegram) *service.Queue {
	backends := []service.Backend{service.NewLog()}
	if tg != nil {
		backends = append(backends, tg)
	}
	return service.NewQueue(cfg.NotifyQueue, backends...)
}

func Module() fx.Option {
	return fx.Module("notify",
		fx.Provide(
			NewTelegram,
			NewQueue,
			func(q *service.Queue) service.Sink { return q },
		),
		fx.Invoke(func(lc fx.Lifecycle, q *service.Queue, tg *service.Telegram) {
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go func() {
						defer close(done)
						q.Run(ctx)
					}()
					if tg != nil {
						tg.Start(ctx)
					}
					return nil
				},
				OnStop: func(stopCtx context.Context) error {
					if tg != nil {
						tg.Stop()
					}
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
