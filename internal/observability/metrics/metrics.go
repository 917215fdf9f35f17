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
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the OTLP metric pipeline.
type Config struct {
	Enabled     bool
	Endpoint    string
	Protocol    string
	Insecure    bool
	Interval    time.Duration
	ServiceName string
	Environment string
	Version     string
}

// Metrics holds the instruments used by the entitlement engine.
type Metrics struct {
	BillingEventsTotal    metric.Int64Counter
	GateDecisionsTotal    metric.Int64Counter
	QuotaDeniedTotal      metric.Int64Counter
	CheckoutSessionsTotal metric.Int64Counter
	WebhookLatency        metric.Float64Histogram
}

// allowedAttributeKeys bounds attribute cardinality on hot paths.
var allowedAttributeKeys = map[string]struct{}{
	"event_type": {},
	"result":     {},
	"provider":   {},
	"plan":       {},
	"status":     {},
	"feature":    {},
}

// FilterAttributes drops attributes outside the allowlist.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedAttributeKeys[string(attr.Key)]; ok {
			filtered = append(filtered, attr)
		}
	}
	return filtered
}

// NewMeterProvider wires the OTLP exporter, or a noop provider when disabled.
func NewMeterProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		log.Info("metrics disabled, using noop meter provider")
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.Version),
		semconv.DeploymentEnvironment(cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("build metric resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
	)
	otel.SetMeterProvider(provider)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return provider.Shutdown(ctx)
		},
	})

	return provider, nil
}

func newExporter(cfg Config) (sdkmetric.Exporter, error) {
	ctx := context.Background()
	switch strings.ToLower(strings.TrimSpace(cfg.Protocol)) {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)
	default:
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		return otlpmetricgrpc.New(ctx, opts...)
	}
}

// NewMetrics registers the engine's instruments on the provider.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter("reelfoundry/entitlement")

	billingEvents, err := meter.Int64Counter(
		"reelfoundry_billing_events_total",
		metric.WithDescription("Billing events ingested, by type and outcome"),
	)
	if err != nil {
		return nil, err
	}

	gateDecisions, err := meter.Int64Counter(
		"reelfoundry_gate_decisions_total",
		metric.WithDescription("Authorization gate decisions, by outcome"),
	)
	if err != nil {
		return nil, err
	}

	quotaDenied, err := meter.Int64Counter(
		"reelfoundry_quota_denied_total",
		metric.WithDescription("Generation requests denied for quota exhaustion"),
	)
	if err != nil {
		return nil, err
	}

	checkoutSessions, err := meter.Int64Counter(
		"reelfoundry_checkout_sessions_total",
		metric.WithDescription("Checkout sessions created, by plan"),
	)
	if err != nil {
		return nil, err
	}

	webhookLatency, err := meter.Float64Histogram(
		"reelfoundry_webhook_duration_seconds",
		metric.WithDescription("Webhook ingest latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		BillingEventsTotal:    billingEvents,
		GateDecisionsTotal:    gateDecisions,
		QuotaDeniedTotal:      quotaDenied,
		CheckoutSessionsTotal: checkoutSessions,
		WebhookLatency:        webhookLatency,
	}, nil
}

// RecordBillingEvent increments the billing event counter.
func (m *Metrics) RecordBillingEvent(ctx context.Context, eventType, result string) {
	if m == nil || m.BillingEventsTotal == nil {
		return
	}
	m.BillingEventsTotal.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("event_type", eventType),
		attribute.String("result", result),
	)...))
}

// RecordGateDecision increments the gate decision counter.
func (m *Metrics) RecordGateDecision(ctx context.Context, result string) {
	if m == nil || m.GateDecisionsTotal == nil {
		return
	}
	m.GateDecisionsTotal.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("result", result),
	)...))
}

// RecordQuotaDenied increments the quota denial counter.
func (m *Metrics) RecordQuotaDenied(ctx context.Context, plan string) {
	if m == nil || m.QuotaDeniedTotal == nil {
		return
	}
	m.QuotaDeniedTotal.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("plan", plan),
	)...))
}

// RecordCheckoutSession increments the checkout session counter.
func (m *Metrics) RecordCheckoutSession(ctx context.Context, plan string) {
	if m == nil || m.CheckoutSessionsTotal == nil {
		return
	}
	m.CheckoutSessionsTotal.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("plan", plan),
	)...))
}

// ObserveWebhookLatency records webhook ingest duration.
func (m *Metrics) ObserveWebhookLatency(ctx context.Context, provider string, seconds float64) {
	if m == nil || m.WebhookLatency == nil {
		return
	}
	m.WebhookLatency.Record(ctx, seconds, metric.WithAttributes(FilterAttributes(
		attribute.String("provider", provider),
	)...))
}
