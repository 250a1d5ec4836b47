package observability

import (
	"strings"

	"github.com/smallbiznis/entitlements/internal/config"
	"github.com/smallbiznis/entitlements/internal/observability/logger"
	"github.com/smallbiznis/entitlements/internal/observability/metrics"
	"github.com/smallbiznis/entitlements/internal/observability/tracing"
)

const defaultServiceName = "entitlements"

// verboseEnvironments get debug-level stack traces on error logs.
var verboseEnvironments = map[string]bool{
	"dev":         true,
	"development": true,
	"local":       true,
	"test":        true,
}

// Settings is the resolved telemetry setup shared by the logger, the tracer
// provider and the metric provider.
type Settings struct {
	Service     string
	Environment string
	Version     string
	Telemetry   config.TelemetryConfig
}

func NewSettings(cfg config.Config) Settings {
	service := strings.TrimSpace(cfg.AppName)
	if service == "" {
		service = defaultServiceName
	}
	telemetry := cfg.Telemetry
	switch telemetry.OTLPProtocol {
	case "http", "http/protobuf":
		telemetry.OTLPProtocol = "http"
	default:
		telemetry.OTLPProtocol = "grpc"
	}
	if telemetry.SamplingRatio < 0 || telemetry.SamplingRatio > 1 {
		telemetry.SamplingRatio = 0.1
	}
	return Settings{
		Service:     service,
		Environment: strings.ToLower(strings.TrimSpace(cfg.Environment)),
		Version:     strings.TrimSpace(cfg.AppVersion),
		Telemetry:   telemetry,
	}
}

// Verbose reports whether error logs should carry stack traces.
func (s Settings) Verbose() bool {
	return s.Telemetry.LogLevel == "debug" || verboseEnvironments[s.Environment]
}

func (s Settings) Logger() logger.Config {
	return logger.Config{
		ServiceName:         s.Service,
		Environment:         s.Environment,
		Version:             s.Version,
		Level:               s.Telemetry.LogLevel,
		Format:              s.Telemetry.LogFormat,
		IncludeCaller:       true,
		IncludeStackOnError: s.Verbose(),
	}
}

func (s Settings) Tracing() tracing.Config {
	return tracing.Config{
		Enabled:          s.Telemetry.OTLPEnabled,
		ServiceName:      s.Service,
		ServiceVersion:   s.Version,
		Environment:      s.Environment,
		ExporterEndpoint: s.Telemetry.OTLPEndpoint,
		ExporterProtocol: s.Telemetry.OTLPProtocol,
		SamplingRatio:    s.Telemetry.SamplingRatio,
	}
}

func (s Settings) Metrics() metrics.Config {
	return metrics.Config{
		Enabled:          s.Telemetry.OTLPEnabled,
		ExporterEndpoint: s.Telemetry.OTLPEndpoint,
		ExporterProtocol: s.Telemetry.OTLPProtocol,
		ServiceName:      s.Service,
	}
}
