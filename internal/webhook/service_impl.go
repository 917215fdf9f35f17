// Package webhook ingests signed billing provider events and hands the
// canonical form to the reconciler.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sdiaoune/reel-foundry-landing-page/internal/clock"
	entitlementdomain "github.com/sdiaoune/reel-foundry-landing-page/internal/entitlement/domain"
	entitlementservice "github.com/sdiaoune/reel-foundry-landing-page/internal/entitlement/service"
	obsmetrics "github.com/sdiaoune/reel-foundry-landing-page/internal/observability/metrics"
	"github.com/sdiaoune/reel-foundry-landing-page/internal/webhook/adapters"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log            *zap.Logger
	Clock          clock.Clock
	Adapters       *adapters.Registry
	EntitlementSvc *entitlementservice.Service
	Reconciler     entitlementdomain.Reconciler
	ObsMetrics     *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log            *zap.Logger
	clock          clock.Clock
	adapters       *adapters.Registry
	entitlementSvc *entitlementservice.Service
	reconciler     entitlementdomain.Reconciler
	obsMetrics     *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		log:            p.Log.Named("webhook.service"),
		clock:          p.Clock,
		adapters:       p.Adapters,
		entitlementSvc: p.EntitlementSvc,
		reconciler:     p.Reconciler,
		obsMetrics:     p.ObsMetrics,
	}
}

// ingestTimeout bounds how long one delivery can hold the tenant's row
// lock. A delivery that overruns fails with a non-2xx and the provider
// redelivers it.
const ingestTimeout = 15 * time.Second

// IngestWebhook verifies the signature, normalizes the payload, and applies
// the canonical event. A nil return acknowledges the delivery to the
// provider; any error return triggers provider redelivery.
func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	ctx, cancel := context.WithTimeout(ctx, ingestTimeout)
	defer cancel()

	start := s.clock.Now()

	adapter, err := s.adapters.Lookup(provider)
	if err != nil {
		return err
	}
	if !json.Valid(payload) {
		return entitlementdomain.ErrMalformedEvent
	}

	if err := adapter.Verify(ctx, payload, headers); err != nil {
		s.log.Warn("webhook signature rejected", zap.String("provider", provider))
		return err
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		return s.handleParseFailure(ctx, provider, payload, err)
	}

	if _, err := s.reconciler.Apply(ctx, *event); err != nil {
		if errors.Is(err, entitlementdomain.ErrMalformedEvent) || errors.Is(err, entitlementdomain.ErrEventIgnored) {
			// Unrecoverable for this payload. Acknowledge so the provider
			// stops redelivering.
			return nil
		}
		return err
	}

	s.obsMetrics.ObserveWebhookLatency(ctx, provider, s.clock.Now().Sub(start).Seconds())
	return nil
}

// handleParseFailure decides between ack-and-drop and provider redelivery.
// Malformed and unrecognized events are dropped with a ledger row so a
// redelivered copy is not reparsed; anything else is returned to the caller
// as a failure.
func (s *Service) handleParseFailure(ctx context.Context, provider string, payload []byte, parseErr error) error {
	if !errors.Is(parseErr, entitlementdomain.ErrMalformedEvent) && !errors.Is(parseErr, entitlementdomain.ErrEventIgnored) {
		return parseErr
	}

	eventID, eventType, occurredAt := envelopeSummary(payload)
	result := "dropped"
	if errors.Is(parseErr, entitlementdomain.ErrEventIgnored) {
		result = "ignored"
	}

	s.log.Warn("webhook event dropped",
		zap.String("provider", provider),
		zap.String("event_id", eventID),
		zap.String("event_type", eventType),
		zap.String("reason", result),
	)
	s.obsMetrics.RecordBillingEvent(ctx, eventType, result)

	if errors.Is(parseErr, entitlementdomain.ErrMalformedEvent) && eventID != "" {
		if err := s.entitlementSvc.RecordDroppedEvent(ctx, eventID, entitlementdomain.EventType(eventType), provider, occurredAt); err != nil {
			return err
		}
	}
	return nil
}

func envelopeSummary(payload []byte) (string, string, time.Time) {
	var envelope struct {
		ID      string `json:"id"`
		Type    string `json:"type"`
		Created int64  `json:"created"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return "", "", time.Time{}
	}
	occurredAt := time.Time{}
	if envelope.Created > 0 {
		occurredAt = time.Unix(envelope.Created, 0).UTC()
	}
	return strings.TrimSpace(envelope.ID), strings.TrimSpace(envelope.Type), occurredAt
}
