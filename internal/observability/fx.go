package observability

import (
	"github.com/sdiaoune/reel-foundry-landing-page/internal/observability/logger"
	"github.com/sdiaoune/reel-foundry-landing-page/internal/observability/metrics"
	"github.com/sdiaoune/reel-foundry-landing-page/internal/observability/tracing"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		provideLoggerConfig,
		logger.New,
		provideTracingConfig,
		tracing.NewTracerProvider,
		provideMetricsConfig,
		metrics.NewMeterProvider,
		metrics.NewMetrics,
	),
	fx.Invoke(ensureTracerProvider),
)

func ensureTracerProvider(_ trace.TracerProvider) {}

func provideLoggerConfig(cfg Config) logger.Config {
	return logger.Config{
		ServiceName:         cfg.ServiceName,
		Environment:         cfg.Environment,
		Version:             cfg.Version,
		Level:               cfg.LogLevel,
		Format:              cfg.LogFormat,
		Debug:               cfg.Debug(),
		IncludeCaller:       true,
		IncludeStackOnError: cfg.Debug(),
	}
}

func provideTracingConfig(cfg Config) tracing.Config {
	return tracing.Config{
		Enabled:     cfg.OtelEnabled,
		Endpoint:    cfg.OtelExporterEndpoint,
		Insecure:    isDevEnv(cfg.Environment),
		SampleRatio: cfg.OtelSamplingRatio,
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		Version:     cfg.Version,
	}
}

func provideMetricsConfig(cfg Config) metrics.Config {
	return metrics.Config{
		Enabled:     cfg.OtelEnabled,
		Endpoint:    cfg.OtelExporterEndpoint,
		Protocol:    cfg.OtelExporterProtocol,
		Insecure:    isDevEnv(cfg.Environment),
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		Version:     cfg.Version,
	}
}
