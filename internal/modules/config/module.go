package config

import "go.uber.org/fx"

// Module отдаёт уже прочитанный статический конфиг и провайдер торговых параметров.
// Статику читаем до fx: от неё зависят логгер и трейсер.
func Module(cfg *Config) fx.Option {
	return fx.Module("config",
		fx.Supply(cfg),
		fx.Provide(
			func(cfg *Config) (*Provider, error) {
				p, err := NewProvider(cfg)
				if err != nil {
					return nil, err
				}
				p.Watch()
				return p, nil
			},
		),
	)
}
