package observability

import (
	"testing"

	"github.com/smallbiznis/entitlements/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestNewSettingsNormalizes(t *testing.T) {
	s := NewSettings(config.Config{
		Environment: " Test ",
		Telemetry: config.TelemetryConfig{
			LogLevel:      "info",
			OTLPProtocol:  "http/protobuf",
			SamplingRatio: 4,
		},
	})

	assert.Equal(t, defaultServiceName, s.Service)
	assert.Equal(t, "http", s.Tracing().ExporterProtocol)
	assert.Equal(t, 0.1, s.Tracing().SamplingRatio)
	assert.True(t, s.Logger().IncludeStackOnError)
}

func TestSettingsQuietInProduction(t *testing.T) {
	s := NewSettings(config.Config{
		AppName:     "billing-entitlements",
		Environment: "production",
		Telemetry:   config.TelemetryConfig{LogLevel: "warn", OTLPProtocol: "grpc", OTLPEnabled: true},
	})

	assert.False(t, s.Verbose())
	assert.Equal(t, "billing-entitlements", s.Metrics().ServiceName)
	assert.True(t, s.Metrics().Enabled)
	assert.Equal(t, "grpc", s.Metrics().ExporterProtocol)
}
