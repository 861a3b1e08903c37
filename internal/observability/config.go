package observability

import (
	"os"
	"strconv"
	"strings"

	"github.com/smallbiznis/dojopay/internal/config"
)

// Config is resolved once at boot. DOJOPAY_* variables win over the generic
// OTEL_* and LOG_* ones so a shared host can tune the billing core alone.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "dojopay"
	}
	environment := lookup(cfg.Environment, "DOJOPAY_ENV", "DEPLOYMENT_ENV")
	version := lookup(cfg.AppVersion, "DOJOPAY_VERSION", "SERVICE_VERSION")

	endpoint := lookup(cfg.OTLPEndpoint, "DOJOPAY_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
	protocol := lookup("grpc", "DOJOPAY_OTLP_PROTOCOL", "OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", "OTEL_EXPORTER_OTLP_PROTOCOL")

	// Sandbox academies trace everything; production samples.
	defaultRatio := 0.1
	if isDevEnv(environment) {
		defaultRatio = 1
	}
	ratio := defaultRatio
	if raw := lookup("", "DOJOPAY_TRACE_SAMPLING", "OTEL_SAMPLING_RATIO"); raw != "" {
		if parsed, err := strconv.ParseFloat(raw, 64); err == nil {
			ratio = clampRatio(parsed)
		}
	}

	enabled := endpoint != ""
	if raw := lookup("", "DOJOPAY_OTEL_ENABLED", "OTEL_ENABLED"); raw != "" {
		enabled = parseBool(raw, enabled)
	}

	return Config{
		ServiceName:          serviceName,
		Environment:          environment,
		Version:              version,
		LogLevel:             strings.ToLower(lookup("info", "DOJOPAY_LOG_LEVEL", "LOG_LEVEL")),
		LogFormat:            strings.ToLower(lookup("json", "DOJOPAY_LOG_FORMAT", "LOG_FORMAT")),
		OtelEnabled:          enabled,
		OtelExporterEndpoint: endpoint,
		OtelExporterProtocol: strings.ToLower(protocol),
		OtelSamplingRatio:    ratio,
	}
}

// Debug turns on stack traces and verbose request logs.
func (c Config) Debug() bool {
	return c.LogLevel == "debug" || isDevEnv(c.Environment)
}

func isDevEnv(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "development", "local", "test", "sandbox":
		return true
	default:
		return false
	}
}

// lookup returns the first non-empty variable among keys, else def.
func lookup(def string, keys ...string) string {
	for _, key := range keys {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return value
		}
	}
	return strings.TrimSpace(def)
}

func parseBool(value string, def bool) bool {
	switch strings.ToLower(value) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func clampRatio(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
