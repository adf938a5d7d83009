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
	Environment      string
}

// Metrics exposes application-level instruments. A single instance is
// provided through fx and shared by request handlers; counters are never
// package-level globals.
type Metrics struct {
	sessionsStarted    metric.Int64Counter
	decisions          metric.Int64Counter
	neverLossViolation metric.Int64Counter
	rateCacheHits      metric.Int64Counter
	rateCacheMisses    metric.Int64Counter
	auditDropped       metric.Int64Counter
	auditWritten       metric.Int64Counter
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
				if log != nil {
					log.Info("shutting down meter provider")
				}
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

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "bargain"
	}
	meter := provider.Meter(name)

	sessionsStarted, err := meter.Int64Counter("bargain_sessions_started_total")
	if err != nil {
		return nil, err
	}
	decisions, err := meter.Int64Counter("bargain_decisions_total")
	if err != nil {
		return nil, err
	}
	neverLossViolation, err := meter.Int64Counter("bargain_never_loss_violations_total")
	if err != nil {
		return nil, err
	}
	rateCacheHits, err := meter.Int64Counter("bargain_rate_cache_hits_total")
	if err != nil {
		return nil, err
	}
	rateCacheMisses, err := meter.Int64Counter("bargain_rate_cache_misses_total")
	if err != nil {
		return nil, err
	}
	auditDropped, err := meter.Int64Counter("bargain_audit_events_dropped_total")
	if err != nil {
		return nil, err
	}
	auditWritten, err := meter.Int64Counter("bargain_audit_events_written_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		sessionsStarted:    sessionsStarted,
		decisions:          decisions,
		neverLossViolation: neverLossViolation,
		rateCacheHits:      rateCacheHits,
		rateCacheMisses:    rateCacheMisses,
		auditDropped:       auditDropped,
		auditWritten:       auditWritten,
	}, nil
}

// RecordSessionStarted increments started session counts.
func (m *Metrics) RecordSessionStarted(ctx context.Context, buyerTier string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("buyer_tier", strings.TrimSpace(buyerTier)))
	m.sessionsStarted.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordDecision increments decision counts by category (accept, reject, counter).
func (m *Metrics) RecordDecision(ctx context.Context, decision string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("decision", strings.TrimSpace(decision)))
	m.decisions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordNeverLossViolation increments aborted-transition counts.
func (m *Metrics) RecordNeverLossViolation(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("reason", strings.TrimSpace(reason)))
	m.neverLossViolation.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateCacheHit increments rate-context cache hit counts.
func (m *Metrics) RecordRateCacheHit(ctx context.Context) {
	if m == nil {
		return
	}
	m.rateCacheHits.Add(ctx, 1)
}

// RecordRateCacheMiss increments rate-context cache miss counts.
func (m *Metrics) RecordRateCacheMiss(ctx context.Context) {
	if m == nil {
		return
	}
	m.rateCacheMisses.Add(ctx, 1)
}

// RecordAuditDropped increments dropped audit event counts.
func (m *Metrics) RecordAuditDropped(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("reason", strings.TrimSpace(reason)))
	m.auditDropped.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordAuditWritten increments persisted audit event counts.
func (m *Metrics) RecordAuditWritten(ctx context.Context, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.auditWritten.Add(ctx, int64(count))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
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
	"buyer_tier":  {},
	"decision":    {},
	"endpoint":    {},
	"status_code": {},
	"reason":      {},
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
