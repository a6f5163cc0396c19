package tracing

import (
	"fmt"

	"hunter_bot/pkg/logger"

	"github.com/opentracing/opentracing-go"
	jCfg "github.com/uber/jaeger-client-go/config"
	"github.com/uber/jaeger-lib/metrics"
)

var (
	serviceName = "hunter_bot"
)

func SetServiceName(newName string) string {
	oldName := serviceName
	serviceName = newName

	return oldName
}

type Config struct {
	Host string
	Port int
}

// InitTracer ставит глобальный jaeger-трейсер. Пока он не поднят,
// opentracing отдаёт NoopTracer и спаны ничего не стоят.
func InitTracer(conf Config) (opentracing.Tracer, func(), error) {
	cfg := &jCfg.Configuration{
		ServiceName: serviceName,
		Sampler: &jCfg.SamplerConfig{
			Type:  "const",
			Param: 1,
		},
		Reporter: &jCfg.ReporterConfig{
			LogSpans:           true,
			LocalAgentHostPort: fmt.Sprintf("%s:%d", conf.Host, conf.Port),
		},
	}

	tracer, closer, err := cfg.NewTracer(
		jCfg.Metrics(metrics.NullFactory),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("init jaeger: %w", err)
	}

	prev := opentracing.GlobalTracer()
	opentracing.SetGlobalTracer(tracer)
	return tracer, func() {
		opentracing.SetGlobalTracer(prev)
		if err := closer.Close(); err != nil {
			logger.Error("Error closing Jaeger tracer: %v", err)
		}
	}, nil
}
