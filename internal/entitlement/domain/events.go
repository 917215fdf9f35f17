package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// EventType enumerates the canonical billing events the reconciler understands.
type EventType string

const (
	EventSubscriptionCreated  EventType = "subscription.created"
	EventSubscriptionUpdated  EventType = "subscription.updated"
	EventSubscriptionCanceled EventType = "subscription.canceled"
	EventCheckoutCompleted    EventType = "checkout.completed"
	EventInvoicePaymentFailed EventType = "invoice.payment_failed"
	EventPeriodRenewed        EventType = "period.renewed"
)

// CanonicalEvent is the provider-neutral form every webhook adapter
// normalizes into before the reconciler sees it.
type CanonicalEvent struct {
	EventID    string
	Type       EventType
	TenantID   snowflake.ID
	Provider   string
	OccurredAt time.Time

	Subscription *SubscriptionDetails
	RawPayload   map[string]interface{}
}

// SubscriptionDetails carries the provider subscription fields relevant to
// entitlement state. Pointer fields are absent when the provider event did
// not include them.
type SubscriptionDetails struct {
	CustomerID         string
	SubscriptionID     string
	PlanCode           string
	Status             string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  *bool
}
