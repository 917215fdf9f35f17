package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// ApplyResult reports what the reconciler did with an event.
type ApplyResult string

const (
	ApplyResultApplied   ApplyResult = "applied"
	ApplyResultDuplicate ApplyResult = "duplicate"
	ApplyResultStale     ApplyResult = "stale"
	ApplyResultDropped   ApplyResult = "dropped"
)

// Reconciler folds canonical billing events into the local entitlement
// snapshot. Apply is safe to call with duplicate or out-of-order events.
type Reconciler interface {
	Apply(ctx context.Context, event CanonicalEvent) (ApplyResult, error)
}

type CreateTenantRequest struct {
	Name string `json:"name"`
}

type CreateTenantResponse struct {
	TenantID string            `json:"tenant_id"`
	Status   EntitlementStatus `json:"status"`
}

type EntitlementResponse struct {
	TenantID           string            `json:"tenant_id"`
	Status             EntitlementStatus `json:"status"`
	PlanCode           string            `json:"plan_code,omitempty"`
	CurrentPeriodStart *time.Time        `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time        `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	UsageCount         int64             `json:"usage_count"`
	UsageLimit         int64             `json:"usage_limit"`
}

type Service interface {
	CreateTenant(context.Context, CreateTenantRequest) (CreateTenantResponse, error)
	GetByTenant(ctx context.Context, tenantID snowflake.ID) (EntitlementResponse, error)
}

// Decision is the outcome of an authorization gate check.
type Decision struct {
	Allowed bool
	Reason  DenyReason
}

type DenyReason string

const (
	DenyReasonNone          DenyReason = ""
	DenyReasonNoEntitlement DenyReason = "no_entitlement"
	DenyReasonPastDue       DenyReason = "past_due"
	DenyReasonCanceled      DenyReason = "canceled"
	DenyReasonPeriodEnded   DenyReason = "period_ended"
)

// Gate answers "may this tenant use the product right now" from local
// state only. It never calls the billing provider.
type Gate interface {
	Check(ctx context.Context, tenantID snowflake.ID) (Decision, error)
}

// Usage is the counter state observed by a successful consumption.
type Usage struct {
	Count int64
	Limit int64
}

func (u Usage) Remaining() int64 {
	remaining := u.Limit - u.Count
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Meter enforces per-period usage quotas.
type Meter interface {
	// TryConsume reports the post-increment counter state so callers never
	// need a second read to answer "how much is left".
	TryConsume(ctx context.Context, tenantID snowflake.ID, n int64) (Usage, error)
	Remaining(ctx context.Context, tenantID snowflake.ID) (int64, error)
}

var (
	ErrMalformedEvent   = errors.New("malformed_event")
	ErrEventIgnored     = errors.New("event_ignored")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidTenant    = errors.New("invalid_tenant")
	ErrTenantNotFound   = errors.New("tenant_not_found")
	ErrQuotaExceeded    = errors.New("quota_exceeded")
	ErrUnknownProvider  = errors.New("unknown_provider")
)
