package observability

import (
	"testing"

	"github.com/smallbiznis/dojopay/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigPrefersDojopayVariables(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("DOJOPAY_LOG_LEVEL", "DEBUG")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("DOJOPAY_OTLP_ENDPOINT", "billing-collector:4317")
	t.Setenv("DOJOPAY_OTEL_ENABLED", "")
	t.Setenv("OTEL_ENABLED", "")

	cfg := LoadConfig(config.Config{AppName: "dojopay", Environment: "production"})

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "billing-collector:4317", cfg.OtelExporterEndpoint)
	assert.True(t, cfg.OtelEnabled)
	assert.True(t, cfg.Debug())
}

func TestLoadConfigSamplingFollowsEnvironment(t *testing.T) {
	cases := []struct {
		name string
		env  string
		raw  string
		want float64
	}{
		{name: "production default", env: "production", want: 0.1},
		{name: "sandbox default", env: "sandbox", want: 1},
		{name: "override", env: "production", raw: "0.5", want: 0.5},
		{name: "clamped", env: "production", raw: "7", want: 1},
		{name: "garbage", env: "production", raw: "lots", want: 0.1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("DOJOPAY_TRACE_SAMPLING", tc.raw)
			t.Setenv("OTEL_SAMPLING_RATIO", "")
			t.Setenv("DOJOPAY_ENV", "")
			t.Setenv("DEPLOYMENT_ENV", "")

			cfg := LoadConfig(config.Config{Environment: tc.env})

			assert.Equal(t, tc.want, cfg.OtelSamplingRatio)
			assert.Equal(t, "dojopay", cfg.ServiceName)
		})
	}
}

func TestLoadConfigTracingOffWithoutEndpoint(t *testing.T) {
	t.Setenv("DOJOPAY_OTLP_ENDPOINT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("DOJOPAY_OTEL_ENABLED", "")
	t.Setenv("OTEL_ENABLED", "")
	t.Setenv("DOJOPAY_LOG_LEVEL", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("DOJOPAY_LOG_FORMAT", "")
	t.Setenv("LOG_FORMAT", "")
	t.Setenv("DOJOPAY_ENV", "")
	t.Setenv("DEPLOYMENT_ENV", "")

	cfg := LoadConfig(config.Config{Environment: "production"})

	assert.False(t, cfg.OtelEnabled)
	assert.False(t, cfg.Debug())
	assert.Equal(t, "json", cfg.LogFormat)
}
