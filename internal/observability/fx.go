package observability

import (
	"github.com/smallbiznis/dojopay/internal/observability/logger"
	"github.com/smallbiznis/dojopay/internal/observability/metrics"
	"github.com/smallbiznis/dojopay/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module wires logging, tracing and the billing metrics. Sweep metrics are
// registered at boot so /metrics exposes them before the first run.
var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		loggerConfig,
		logger.New,
		tracingConfig,
		tracing.NewProvider,
		metricsConfig,
		metrics.NewProvider,
		metrics.New,
		metrics.NewHTTPMetrics,
	),
	fx.Invoke(registerSweepMetrics, reportReady),
)

func loggerConfig(cfg Config) logger.Config {
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

func tracingConfig(cfg Config) tracing.Config {
	return tracing.Config{
		Enabled:          cfg.OtelEnabled,
		ServiceName:      cfg.ServiceName,
		ServiceVersion:   cfg.Version,
		Environment:      cfg.Environment,
		ExporterEndpoint: cfg.OtelExporterEndpoint,
		ExporterProtocol: cfg.OtelExporterProtocol,
		SamplingRatio:    cfg.OtelSamplingRatio,
	}
}

func metricsConfig(cfg Config) metrics.Config {
	return metrics.Config{
		Enabled:          cfg.OtelEnabled,
		ExporterEndpoint: cfg.OtelExporterEndpoint,
		ExporterProtocol: cfg.OtelExporterProtocol,
		ServiceName:      cfg.ServiceName,
		Environment:      cfg.Environment,
	}
}

func registerSweepMetrics(cfg metrics.Config) {
	metrics.SweepsWithConfig(cfg)
}

// reportReady depends on the tracer provider so it is built even when no
// handler asks for it.
func reportReady(log *zap.Logger, cfg Config, _ *sdktrace.TracerProvider) {
	log.Info("observability.ready",
		zap.String("environment", cfg.Environment),
		zap.String("version", cfg.Version),
		zap.String("log_level", cfg.LogLevel),
		zap.Bool("tracing", cfg.OtelEnabled),
		zap.Float64("trace_sampling", cfg.OtelSamplingRatio),
	)
}
