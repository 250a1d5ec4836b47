package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
}

// Metrics exposes the engine's domain instruments. A nil *Metrics is a valid no-op.
type Metrics struct {
	versionBumps     metric.Int64Counter
	versionConflicts metric.Int64Counter
	inPlaceEdits     metric.Int64Counter
	usageUnits       metric.Int64Counter
	atRiskScans      metric.Int64Counter
	cacheLookups     metric.Int64Counter
	priceSyncs       metric.Int64Counter
	rateLimited      metric.Int64Counter
	jobRuns          metric.Int64Counter
	jobDuration      metric.Float64Histogram
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}
	return provider, nil
}

// New creates the domain instruments on provider.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "entitlements"
	}
	meter := provider.Meter(name)

	var (
		m   Metrics
		err error
	)
	counters := []struct {
		dst  *metric.Int64Counter
		name string
	}{
		{&m.versionBumps, "entitlements_product_version_bumps_total"},
		{&m.versionConflicts, "entitlements_product_version_conflicts_total"},
		{&m.inPlaceEdits, "entitlements_product_in_place_edits_total"},
		{&m.usageUnits, "entitlements_usage_units_total"},
		{&m.atRiskScans, "entitlements_at_risk_scans_total"},
		{&m.cacheLookups, "entitlements_cache_lookups_total"},
		{&m.priceSyncs, "entitlements_price_sync_total"},
		{&m.rateLimited, "entitlements_usage_rate_limited_total"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", c.name, err)
		}
	}
	m.jobRuns, err = meter.Int64Counter("entitlements_scheduler_job_runs_total")
	if err != nil {
		return nil, fmt.Errorf("create entitlements_scheduler_job_runs_total: %w", err)
	}
	m.jobDuration, err = meter.Float64Histogram("entitlements_scheduler_job_duration_seconds", metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("create entitlements_scheduler_job_duration_seconds: %w", err)
	}
	return &m, nil
}

func (m *Metrics) RecordVersionBump(ctx context.Context, orgID string) {
	if m == nil {
		return
	}
	m.versionBumps.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("org_id", orgID))...))
}

func (m *Metrics) RecordVersionConflict(ctx context.Context, orgID string) {
	if m == nil {
		return
	}
	m.versionConflicts.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("org_id", orgID))...))
}

func (m *Metrics) RecordInPlaceEdit(ctx context.Context, orgID string) {
	if m == nil {
		return
	}
	m.inPlaceEdits.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("org_id", orgID))...))
}

func (m *Metrics) RecordUsageUnits(ctx context.Context, orgID, featureKey string, units int64) {
	if m == nil || units <= 0 {
		return
	}
	attrs := FilterAttributes(
		attribute.String("org_id", orgID),
		attribute.String("feature_key", featureKey),
	)
	m.usageUnits.Add(ctx, units, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordAtRiskScan(ctx context.Context, orgID string) {
	if m == nil {
		return
	}
	m.atRiskScans.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("org_id", orgID))...))
}

// RecordCacheLookup counts entitlement cache reads by outcome (hit, miss, error).
func (m *Metrics) RecordCacheLookup(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("outcome", outcome))...))
}

func (m *Metrics) RecordPriceSync(ctx context.Context, provider, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", provider),
		attribute.String("outcome", outcome),
	)
	m.priceSyncs.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, orgID, route string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("org_id", orgID),
		attribute.String("route", route),
	)
	m.rateLimited.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"org_id":      {},
	"feature_key": {},
	"outcome":     {},
	"provider":    {},
	"route":       {},
	"job":         {},
	"method":      {},
	"status_code": {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}

// RecordJobRun counts one scheduler job run by outcome (ok, error, timeout).
func (m *Metrics) RecordJobRun(ctx context.Context, job, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.jobRuns.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("job", job),
		attribute.String("outcome", outcome),
	)...))
	m.jobDuration.Record(ctx, took.Seconds(), metric.WithAttributes(FilterAttributes(attribute.String("job", job))...))
}
