package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributes(t *testing.T) {
	filtered := FilterAttributes(
		attribute.String("event_type", "subscription.created"),
		attribute.String("tenant_id", "1234"),
		attribute.String("result", "applied"),
		attribute.String("request_id", "abc"),
	)

	keys := make([]string, 0, len(filtered))
	for _, attr := range filtered {
		keys = append(keys, string(attr.Key))
	}
	assert.ElementsMatch(t, []string{"event_type", "result"}, keys)
}

func TestNewMetricsWithNoopProvider(t *testing.T) {
	m, err := NewMetrics(noop.NewMeterProvider())
	require.NoError(t, err)
	require.NotNil(t, m)

	ctx := context.Background()
	m.RecordBillingEvent(ctx, "subscription.created", "applied")
	m.RecordGateDecision(ctx, "allowed")
	m.RecordQuotaDenied(ctx, "operator")
	m.RecordCheckoutSession(ctx, "foundry")
	m.ObserveWebhookLatency(ctx, "stripe", 0.012)
}

func TestMetricsNilReceiverIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordBillingEvent(context.Background(), "subscription.created", "applied")
	m.RecordGateDecision(context.Background(), "denied")
}
