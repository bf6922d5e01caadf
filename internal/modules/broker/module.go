package broker

import (
	"fmt"

	"lifecycle_bot/internal/modules/broker/service"
	"lifecycle_bot/internal/modules/broker/service/okx"
	"lifecycle_bot/internal/modules/config"
	"lifecycle_bot/pkg/logger"

	"go.uber.org/fx"
)

// NewGateway выбирает брокера по режиму и оборачивает ретраями.
func NewGateway(cfg *config.Config) (service.Gateway, error) {
	var raw service.Gateway
	switch cfg.Broker.Mode {
	case "", "simulation":
		raw = service.NewSimulator(cfg.Broker.SimBalance)
		logger.Info("broker: simulation, balance=%.2f", cfg.Broker.SimBalance)
	case "okx":
		if cfg.Broker.APIKey == "" || cfg.Broker.APISecret == "" {
			return nil, fmt.Errorf("broker okx: api key/secret are empty")
		}
		raw = okx.NewClient(okx.Config{
			BaseURL:    cfg.Broker.BaseURL,
			APIKey:     cfg.Broker.APIKey,
			APISecret:  cfg.Broker.APISecret,
			Passphrase: cfg.Broker.Passphrase,
		})
		logger.Info("broker: okx %s", cfg.Broker.BaseURL)
	default:
		return nil, fmt.Errorf("broker: unknown mode %q", cfg.Broker.Mode)
	}

	return service.NewReliable(raw, service.RetryConfig{
		Attempts:  cfg.Broker.RetryAttempts,
		BaseDelay: cfg.Broker.RetryBaseDelay,
	}), nil
}

func Module() fx.Option {
	return fx.Module("broker",
		fx.Provide(
			NewGateway,
			service.NewTicketLocks,
		),
	)
}
