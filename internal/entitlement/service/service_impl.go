package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/sdiaoune/reel-foundry-landing-page/internal/cache"
	"github.com/sdiaoune/reel-foundry-landing-page/internal/clock"
	"github.com/sdiaoune/reel-foundry-landing-page/internal/config"
	entitlementdomain "github.com/sdiaoune/reel-foundry-landing-page/internal/entitlement/domain"
	obsmetrics "github.com/sdiaoune/reel-foundry-landing-page/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Plans      *config.PlanCatalogHolder
	Repo       entitlementdomain.Repository
	Cache      cache.EntitlementCache `optional:"true"`
	ObsMetrics *obsmetrics.Metrics    `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	plans      *config.PlanCatalogHolder
	repo       entitlementdomain.Repository
	cache      cache.EntitlementCache
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("entitlement.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		plans:      p.Plans,
		repo:       p.Repo,
		cache:      p.Cache,
		obsMetrics: p.ObsMetrics,
	}
}

// Apply folds one canonical event into the tenant's entitlement snapshot.
// The dedup insert, the watermark check, and the snapshot mutation run in a
// single transaction holding the tenant's row lock, so concurrent deliveries
// of the same event cannot both pass the "not yet applied" check.
func (s *Service) Apply(ctx context.Context, event entitlementdomain.CanonicalEvent) (entitlementdomain.ApplyResult, error) {
	if err := validateEvent(event); err != nil {
		return entitlementdomain.ApplyResultDropped, err
	}

	result := entitlementdomain.ApplyResultApplied
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, err := s.repo.FindByTenantForUpdate(ctx, tx, event.TenantID)
		if err != nil {
			return err
		}

		inserted, err := s.repo.InsertEvent(ctx, tx, s.ledgerRow(event))
		if err != nil {
			return err
		}
		if !inserted {
			result = entitlementdomain.ApplyResultDuplicate
			return nil
		}

		if record == nil {
			// Unknown tenants are dropped, never auto-created. The ledger
			// row stays so redelivery does not reprocess the event.
			s.log.Warn("event for unknown tenant dropped",
				zap.String("event_id", event.EventID),
				zap.String("event_type", string(event.Type)),
				zap.Int64("tenant_id", int64(event.TenantID)),
			)
			result = entitlementdomain.ApplyResultDropped
			return nil
		}

		if record.LastAppliedEventTimestamp != nil && event.OccurredAt.Before(*record.LastAppliedEventTimestamp) {
			// Stale redelivery. Marked in the ledger above but the snapshot
			// keeps the newer state.
			result = entitlementdomain.ApplyResultStale
			return nil
		}

		s.transition(record, event)

		now := s.clock.Now()
		occurred := event.OccurredAt
		record.LastAppliedEventID = event.EventID
		record.LastAppliedEventTimestamp = &occurred
		record.UpdatedAt = now

		return s.repo.Update(ctx, tx, record)
	})
	if err != nil {
		return entitlementdomain.ApplyResultDropped, err
	}

	if result == entitlementdomain.ApplyResultApplied && s.cache != nil {
		s.cache.Invalidate(event.TenantID)
	}

	s.obsMetrics.RecordBillingEvent(ctx, string(event.Type), string(result))
	s.log.Info("billing event processed",
		zap.String("event_id", event.EventID),
		zap.String("event_type", string(event.Type)),
		zap.Int64("tenant_id", int64(event.TenantID)),
		zap.String("result", string(result)),
	)
	return result, nil
}

// transition applies the state machine for one event to a locked record.
func (s *Service) transition(record *entitlementdomain.Entitlement, event entitlementdomain.CanonicalEvent) {
	details := event.Subscription
	if details == nil {
		details = &entitlementdomain.SubscriptionDetails{}
	}

	switch event.Type {
	case entitlementdomain.EventCheckoutCompleted, entitlementdomain.EventSubscriptionCreated:
		record.Status = statusFromProvider(details.Status, entitlementdomain.EntitlementStatusActive)
		s.setPlan(record, details.PlanCode)
		setPeriod(record, details)
		setRefs(record, details)
		record.CancelAtPeriodEnd = false
		record.UsageCount = 0

	case entitlementdomain.EventSubscriptionUpdated:
		if details.Status != "" {
			record.Status = statusFromProvider(details.Status, record.Status)
		}
		if details.PlanCode != "" && details.PlanCode != record.PlanCode {
			// Plan changes take effect immediately without touching the
			// usage counter. Only a period advance resets it.
			s.setPlan(record, details.PlanCode)
		}
		if periodAdvanced(record, details) {
			record.UsageCount = 0
		}
		setPeriod(record, details)
		setRefs(record, details)
		if details.CancelAtPeriodEnd != nil {
			record.CancelAtPeriodEnd = *details.CancelAtPeriodEnd
		}

	case entitlementdomain.EventPeriodRenewed:
		record.Status = statusFromProvider(details.Status, entitlementdomain.EntitlementStatusActive)
		if details.PlanCode != "" {
			s.setPlan(record, details.PlanCode)
		}
		setPeriod(record, details)
		record.UsageCount = 0

	case entitlementdomain.EventSubscriptionCanceled:
		// Access decisions stay keyed on current_period_end, so the tenant
		// keeps what it already paid for. Cancellation ends future billing,
		// not current-period access.
		record.Status = entitlementdomain.EntitlementStatusCanceled
		setPeriod(record, details)

	case entitlementdomain.EventInvoicePaymentFailed:
		record.Status = entitlementdomain.EntitlementStatusPastDue
	}
}

func (s *Service) setPlan(record *entitlementdomain.Entitlement, planCode string) {
	if planCode == "" {
		return
	}
	record.PlanCode = planCode
	record.UsageLimit = s.plans.LimitFor(planCode)
}

func setPeriod(record *entitlementdomain.Entitlement, details *entitlementdomain.SubscriptionDetails) {
	if details.CurrentPeriodStart != nil {
		start := details.CurrentPeriodStart.UTC()
		record.CurrentPeriodStart = &start
	}
	if details.CurrentPeriodEnd != nil {
		end := details.CurrentPeriodEnd.UTC()
		record.CurrentPeriodEnd = &end
	}
}

func setRefs(record *entitlementdomain.Entitlement, details *entitlementdomain.SubscriptionDetails) {
	if details.CustomerID != "" {
		record.ProviderCustomerID = details.CustomerID
	}
	if details.SubscriptionID != "" {
		record.ProviderSubscriptionID = details.SubscriptionID
	}
}

func periodAdvanced(record *entitlementdomain.Entitlement, details *entitlementdomain.SubscriptionDetails) bool {
	if details.CurrentPeriodEnd == nil {
		return false
	}
	if record.CurrentPeriodEnd == nil {
		return false
	}
	return details.CurrentPeriodEnd.After(*record.CurrentPeriodEnd)
}

func statusFromProvider(status string, fallback entitlementdomain.EntitlementStatus) entitlementdomain.EntitlementStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active":
		return entitlementdomain.EntitlementStatusActive
	case "trialing":
		return entitlementdomain.EntitlementStatusTrialing
	case "past_due", "unpaid":
		return entitlementdomain.EntitlementStatusPastDue
	case "canceled", "cancelled":
		return entitlementdomain.EntitlementStatusCanceled
	default:
		return fallback
	}
}

func (s *Service) ledgerRow(event entitlementdomain.CanonicalEvent) *entitlementdomain.BillingEvent {
	payload := datatypes.JSONMap(event.RawPayload)
	return &entitlementdomain.BillingEvent{
		ID:         s.genID.Generate(),
		EventID:    event.EventID,
		TenantID:   event.TenantID,
		EventType:  event.Type,
		Provider:   event.Provider,
		OccurredAt: event.OccurredAt.UTC(),
		Payload:    payload,
		ReceivedAt: s.clock.Now(),
	}
}

// RecordDroppedEvent writes a ledger row for an event that cannot be applied
// at all, such as one missing tenant metadata. The row prevents reprocessing
// on redelivery.
func (s *Service) RecordDroppedEvent(ctx context.Context, eventID string, eventType entitlementdomain.EventType, provider string, occurredAt time.Time) error {
	if strings.TrimSpace(eventID) == "" {
		return nil
	}
	_, err := s.repo.InsertEvent(ctx, s.db, &entitlementdomain.BillingEvent{
		ID:         s.genID.Generate(),
		EventID:    eventID,
		EventType:  eventType,
		Provider:   provider,
		OccurredAt: occurredAt.UTC(),
		ReceivedAt: s.clock.Now(),
	})
	return err
}

func validateEvent(event entitlementdomain.CanonicalEvent) error {
	if strings.TrimSpace(event.EventID) == "" {
		return entitlementdomain.ErrMalformedEvent
	}
	if event.TenantID == 0 {
		return entitlementdomain.ErrMalformedEvent
	}
	if event.OccurredAt.IsZero() {
		return entitlementdomain.ErrMalformedEvent
	}
	switch event.Type {
	case entitlementdomain.EventSubscriptionCreated,
		entitlementdomain.EventSubscriptionUpdated,
		entitlementdomain.EventSubscriptionCanceled,
		entitlementdomain.EventCheckoutCompleted,
		entitlementdomain.EventInvoicePaymentFailed,
		entitlementdomain.EventPeriodRenewed:
		return nil
	default:
		return entitlementdomain.ErrEventIgnored
	}
}

// CreateTenant provisions the entitlement snapshot for a new workspace.
func (s *Service) CreateTenant(ctx context.Context, req entitlementdomain.CreateTenantRequest) (entitlementdomain.CreateTenantResponse, error) {
	now := s.clock.Now()
	record := &entitlementdomain.Entitlement{
		ID:        s.genID.Generate(),
		TenantID:  s.genID.Generate(),
		Status:    entitlementdomain.EntitlementStatusNone,
		Metadata:  datatypes.JSONMap{"name": strings.TrimSpace(req.Name)},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Insert(ctx, s.db, record); err != nil {
		return entitlementdomain.CreateTenantResponse{}, err
	}

	s.log.Info("tenant provisioned", zap.Int64("tenant_id", int64(record.TenantID)))
	return entitlementdomain.CreateTenantResponse{
		TenantID: record.TenantID.String(),
		Status:   record.Status,
	}, nil
}

func (s *Service) GetByTenant(ctx context.Context, tenantID snowflake.ID) (entitlementdomain.EntitlementResponse, error) {
	record, err := s.repo.FindByTenant(ctx, s.db, tenantID)
	if err != nil {
		return entitlementdomain.EntitlementResponse{}, err
	}
	if record == nil {
		return entitlementdomain.EntitlementResponse{}, entitlementdomain.ErrTenantNotFound
	}
	return entitlementdomain.EntitlementResponse{
		TenantID:           record.TenantID.String(),
		Status:             record.Status,
		PlanCode:           record.PlanCode,
		CurrentPeriodStart: record.CurrentPeriodStart,
		CurrentPeriodEnd:   record.CurrentPeriodEnd,
		CancelAtPeriodEnd:  record.CancelAtPeriodEnd,
		UsageCount:         record.UsageCount,
		UsageLimit:         record.UsageLimit,
	}, nil
}

var (
	_ entitlementdomain.Reconciler = (*Service)(nil)
	_ entitlementdomain.Service    = (*Service)(nil)
)
