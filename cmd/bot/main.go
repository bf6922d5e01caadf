package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lifecycle_bot/internal/modules/broker"
	"lifecycle_bot/internal/modules/config"
	"lifecycle_bot/internal/modules/health"
	"lifecycle_bot/internal/modules/marketdata"
	"lifecycle_bot/internal/modules/notify"
	"lifecycle_bot/internal/modules/postgres"
	"lifecycle_bot/internal/modules/signalfeed"
	"lifecycle_bot/internal/modules/storage"
	"lifecycle_bot/internal/runner"
	"lifecycle_bot/pkg/logger"
	"lifecycle_bot/pkg/tracing"

	"go.uber.org/fx"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatal(err)
	}
	if err := logger.Init(cfg.Log); err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	if cfg.Tracing.Enabled {
		_, closeTracer, err := tracing.InitTracer(tracing.Config{Host: cfg.Tracing.Host, Port: cfg.Tracing.Port})
		if err != nil {
			logger.Warn("tracing disabled: %v", err)
		} else {
			defer closeTracer()
		}
	}

	app := fx.New(
		fx.NopLogger,
		fx.Provide(
			func() context.Context {
				return context.Background()
			},
		),
		config.Module(cfg),
		postgres.Module(),
		storage.Module(),
		broker.Module(),
		notify.Module(),
		health.Module(),
		signalfeed.Module(),
		runner.Module(),
		marketdata.Module(),
	)

	startCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		logger.Fatal("start: %v", err)
	}
	logger.Info("lifecycle bot started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	stopCtx, cancelStop := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStop()
	if err := app.Stop(stopCtx); err != nil {
		logger.Error("stop: %v", err)
	}
}
