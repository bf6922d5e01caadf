package tracing

import (
	"fmt"

	"lifecycle_bot/pkg/logger"

	"github.com/opentracing/opentracing-go"
	jCfg "github.com/uber/jaeger-client-go/config"
	"github.com/uber/jaeger-lib/metrics"
)

var serviceName = "lifecycle_bot"

func SetServiceName(newName string) string {
	oldName := serviceName
	serviceName = newName

	return oldName
}

type Config struct {
	Host string
	Port int
	// SampleRate: 1: каждый спан, 0.1: каждый десятый.
	SampleRate float64
}

// InitTracer ставит глобальный jaeger-трейсер; без вызова работает noop из opentracing.
func InitTracer(conf Config) (opentracing.Tracer, func(), error) {
	sampler := &jCfg.SamplerConfig{Type: "const", Param: 1}
	if conf.SampleRate > 0 && conf.SampleRate < 1 {
		sampler = &jCfg.SamplerConfig{Type: "probabilistic", Param: conf.SampleRate}
	}
	cfg := &jCfg.Configuration{
		ServiceName: serviceName,
		Sampler:     sampler,
		Reporter: &jCfg.ReporterConfig{
			LocalAgentHostPort: fmt.Sprintf("%s:%d", conf.Host, conf.Port),
		},
	}

	tracer, closer, err := cfg.NewTracer(jCfg.Metrics(metrics.NullFactory))
	if err != nil {
		return nil, nil, fmt.Errorf("tracing.InitTracer: %w", err)
	}

	opentracing.SetGlobalTracer(tracer)
	logger.Info("tracing: jaeger agent %s:%d", conf.Host, conf.Port)
	return tracer, func() {
		if err := closer.Close(); err != nil {
			logger.Error("tracing: close jaeger tracer: %v", err)
		}
	}, nil
}
