package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/entitlements/internal/observability/logger"
	"github.com/smallbiznis/entitlements/internal/observability/metrics"
	"github.com/smallbiznis/entitlements/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

// Module wires logging, tracing and the OTel and prometheus metric surfaces
// from a single Settings value.
var Module = fx.Module("observability",
	fx.Provide(
		NewSettings,
		Settings.Logger,
		Settings.Tracing,
		Settings.Metrics,
		logger.New,
		tracing.NewProvider,
		metrics.NewProvider,
		metrics.New,
		metrics.NewHTTPMetrics,
		func() prometheus.Registerer { return prometheus.DefaultRegisterer },
	),
	// Tracing has no consumer in the graph; force it so the global provider is set.
	fx.Invoke(func(*sdktrace.TracerProvider) {}),
)
