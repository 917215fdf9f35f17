package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	entitlementdomain "github.com/sdiaoune/reel-foundry-landing-page/internal/entitlement/domain"
)

type Adapter struct {
	webhookSecret string
}

func NewAdapter(webhookSecret string) (*Adapter, error) {
	webhookSecret = strings.TrimSpace(webhookSecret)
	if webhookSecret == "" {
		return nil, errors.New("stripe webhook secret is required")
	}
	return &Adapter{webhookSecret: webhookSecret}, nil
}

func (a *Adapter) Provider() string {
	return "stripe"
}

// Verify checks the Stripe-Signature header against the shared secret. The
// signed payload is "<timestamp>.<body>" per Stripe's scheme.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return entitlementdomain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return entitlementdomain.ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return entitlementdomain.ErrInvalidSignature
}

// Parse maps a raw Stripe event onto the canonical form. Event types outside
// the accepted set return ErrEventIgnored so the caller can acknowledge them
// without processing.
func (a *Adapter) Parse(ctx context.Context, payload []byte) (*entitlementdomain.CanonicalEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, entitlementdomain.ErrMalformedEvent
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, entitlementdomain.ErrMalformedEvent
	}

	switch strings.TrimSpace(event.Type) {
	case "checkout.session.completed":
		return a.parseCheckoutSession(event, payload)
	case "customer.subscription.created":
		return a.parseSubscription(event, payload, entitlementdomain.EventSubscriptionCreated)
	case "customer.subscription.updated":
		return a.parseSubscription(event, payload, entitlementdomain.EventSubscriptionUpdated)
	case "customer.subscription.deleted":
		return a.parseSubscription(event, payload, entitlementdomain.EventSubscriptionCanceled)
	case "invoice.payment_failed":
		return a.parseInvoice(event, payload, entitlementdomain.EventInvoicePaymentFailed)
	case "invoice.paid":
		return a.parseRenewalInvoice(event, payload)
	default:
		return nil, entitlementdomain.ErrEventIgnored
	}
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripeCheckoutSession struct {
	ID           string            `json:"id"`
	Customer     string            `json:"customer"`
	Subscription string            `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

type stripeSubscription struct {
	ID                 string            `json:"id"`
	Customer           string            `json:"customer"`
	Status             string            `json:"status"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	Metadata           map[string]string `json:"metadata"`
	Items              struct {
		Data []struct {
			Price struct {
				LookupKey string `json:"lookup_key"`
				Nickname  string `json:"nickname"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

type stripeInvoice struct {
	ID            string            `json:"id"`
	Customer      string            `json:"customer"`
	Subscription  string            `json:"subscription"`
	BillingReason string            `json:"billing_reason"`
	PeriodStart   int64             `json:"period_start"`
	PeriodEnd     int64             `json:"period_end"`
	Metadata      map[string]string `json:"metadata"`
	Lines         struct {
		Data []struct {
			Metadata map[string]string `json:"metadata"`
			Period   struct {
				Start int64 `json:"start"`
				End   int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
}

func (a *Adapter) parseCheckoutSession(event stripeEvent, payload []byte) (*entitlementdomain.CanonicalEvent, error) {
	var session stripeCheckoutSession
	if err := json.Unmarshal(event.Data.Object, &session); err != nil {
		return nil, entitlementdomain.ErrMalformedEvent
	}

	tenantID, err := tenantFromMetadata(session.Metadata)
	if err != nil {
		return nil, err
	}

	return &entitlementdomain.CanonicalEvent{
		EventID:    event.ID,
		Type:       entitlementdomain.EventCheckoutCompleted,
		TenantID:   tenantID,
		Provider:   a.Provider(),
		OccurredAt: envelopeTime(event),
		Subscription: &entitlementdomain.SubscriptionDetails{
			CustomerID:     session.Customer,
			SubscriptionID: session.Subscription,
			PlanCode:       strings.TrimSpace(session.Metadata["plan_code"]),
			Status:         strings.TrimSpace(session.Metadata["subscription_status"]),
		},
		RawPayload: rawPayload(payload),
	}, nil
}

func (a *Adapter) parseSubscription(event stripeEvent, payload []byte, eventType entitlementdomain.EventType) (*entitlementdomain.CanonicalEvent, error) {
	var subscription stripeSubscription
	if err := json.Unmarshal(event.Data.Object, &subscription); err != nil {
		return nil, entitlementdomain.ErrMalformedEvent
	}

	tenantID, err := tenantFromMetadata(subscription.Metadata)
	if err != nil {
		return nil, err
	}

	planCode := strings.TrimSpace(subscription.Metadata["plan_code"])
	if planCode == "" && len(subscription.Items.Data) > 0 {
		price := subscription.Items.Data[0].Price
		planCode = strings.TrimSpace(price.LookupKey)
		if planCode == "" {
			planCode = strings.TrimSpace(price.Nickname)
		}
	}

	cancelAtPeriodEnd := subscription.CancelAtPeriodEnd
	return &entitlementdomain.CanonicalEvent{
		EventID:    event.ID,
		Type:       eventType,
		TenantID:   tenantID,
		Provider:   a.Provider(),
		OccurredAt: envelopeTime(event),
		Subscription: &entitlementdomain.SubscriptionDetails{
			CustomerID:         subscription.Customer,
			SubscriptionID:     subscription.ID,
			PlanCode:           planCode,
			Status:             subscription.Status,
			CurrentPeriodStart: unixTime(subscription.CurrentPeriodStart),
			CurrentPeriodEnd:   unixTime(subscription.CurrentPeriodEnd),
			CancelAtPeriodEnd:  &cancelAtPeriodEnd,
		},
		RawPayload: rawPayload(payload),
	}, nil
}

func (a *Adapter) parseInvoice(event stripeEvent, payload []byte, eventType entitlementdomain.EventType) (*entitlementdomain.CanonicalEvent, error) {
	invoice, tenantID, err := a.decodeInvoice(event)
	if err != nil {
		return nil, err
	}

	return &entitlementdomain.CanonicalEvent{
		EventID:    event.ID,
		Type:       eventType,
		TenantID:   tenantID,
		Provider:   a.Provider(),
		OccurredAt: envelopeTime(event),
		Subscription: &entitlementdomain.SubscriptionDetails{
			CustomerID:     invoice.Customer,
			SubscriptionID: invoice.Subscription,
		},
		RawPayload: rawPayload(payload),
	}, nil
}

// parseRenewalInvoice maps a paid subscription-cycle invoice to a period
// renewal. Invoices paid for other reasons (the initial subscription create,
// one-off items) are ignored because the subscription events already cover
// them.
func (a *Adapter) parseRenewalInvoice(event stripeEvent, payload []byte) (*entitlementdomain.CanonicalEvent, error) {
	invoice, tenantID, err := a.decodeInvoice(event)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(invoice.BillingReason) != "subscription_cycle" {
		return nil, entitlementdomain.ErrEventIgnored
	}

	periodStart := invoice.PeriodStart
	periodEnd := invoice.PeriodEnd
	if len(invoice.Lines.Data) > 0 {
		line := invoice.Lines.Data[0]
		if line.Period.Start > 0 {
			periodStart = line.Period.Start
		}
		if line.Period.End > 0 {
			periodEnd = line.Period.End
		}
	}

	return &entitlementdomain.CanonicalEvent{
		EventID:    event.ID,
		Type:       entitlementdomain.EventPeriodRenewed,
		TenantID:   tenantID,
		Provider:   a.Provider(),
		OccurredAt: envelopeTime(event),
		Subscription: &entitlementdomain.SubscriptionDetails{
			CustomerID:         invoice.Customer,
			SubscriptionID:     invoice.Subscription,
			CurrentPeriodStart: unixTime(periodStart),
			CurrentPeriodEnd:   unixTime(periodEnd),
		},
		RawPayload: rawPayload(payload),
	}, nil
}

func (a *Adapter) decodeInvoice(event stripeEvent) (stripeInvoice, snowflake.ID, error) {
	var invoice stripeInvoice
	if err := json.Unmarshal(event.Data.Object, &invoice); err != nil {
		return stripeInvoice{}, 0, entitlementdomain.ErrMalformedEvent
	}

	tenantID, err := tenantFromMetadata(invoice.Metadata)
	if err != nil && len(invoice.Lines.Data) > 0 {
		tenantID, err = tenantFromMetadata(invoice.Lines.Data[0].Metadata)
	}
	if err != nil {
		return stripeInvoice{}, 0, err
	}
	return invoice, tenantID, nil
}

func tenantFromMetadata(metadata map[string]string) (snowflake.ID, error) {
	raw := strings.TrimSpace(metadata["tenant_id"])
	if raw == "" {
		return 0, entitlementdomain.ErrMalformedEvent
	}
	tenantID, err := snowflake.ParseString(raw)
	if err != nil {
		return 0, entitlementdomain.ErrMalformedEvent
	}
	return tenantID, nil
}

func parseSignatureHeader(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

// envelopeTime is the provider-assigned event timestamp. Object-level
// created fields are the resource's creation time and never advance for
// subscription objects, so they cannot order a stream of updates.
func envelopeTime(event stripeEvent) time.Time {
	if event.Created == 0 {
		return time.Now().UTC()
	}
	return time.Unix(event.Created, 0).UTC()
}

func unixTime(value int64) *time.Time {
	if value == 0 {
		return nil
	}
	t := time.Unix(value, 0).UTC()
	return &t
}

func rawPayload(payload []byte) map[string]interface{} {
	var raw map[string]interface{}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil
	}
	return raw
}
