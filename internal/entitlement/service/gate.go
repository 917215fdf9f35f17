package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/sdiaoune/reel-foundry-landing-page/internal/cache"
	"github.com/sdiaoune/reel-foundry-landing-page/internal/clock"
	entitlementdomain "github.com/sdiaoune/reel-foundry-landing-page/internal/entitlement/domain"
	obsmetrics "github.com/sdiaoune/reel-foundry-landing-page/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type GateParams struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Repo       entitlementdomain.Repository
	Cache      cache.EntitlementCache `optional:"true"`
	ObsMetrics *obsmetrics.Metrics    `optional:"true"`
}

// Gate answers allow/deny from the local entitlement snapshot. It never
// calls the billing provider, so a provider outage cannot take the product
// down with it.
type Gate struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	repo       entitlementdomain.Repository
	cache      cache.EntitlementCache
	obsMetrics *obsmetrics.Metrics
}

func NewGate(p GateParams) *Gate {
	return &Gate{
		db:         p.DB,
		log:        p.Log.Named("entitlement.gate"),
		clock:      p.Clock,
		repo:       p.Repo,
		cache:      p.Cache,
		obsMetrics: p.ObsMetrics,
	}
}

func (g *Gate) Check(ctx context.Context, tenantID snowflake.ID) (entitlementdomain.Decision, error) {
	record, err := g.snapshot(ctx, tenantID)
	if err != nil {
		return entitlementdomain.Decision{}, err
	}

	decision := Evaluate(record, g.clock.Now())
	g.record(ctx, decision)
	return decision, nil
}

func (g *Gate) snapshot(ctx context.Context, tenantID snowflake.ID) (*entitlementdomain.Entitlement, error) {
	if g.cache != nil {
		if cached, ok := g.cache.Get(tenantID); ok {
			return &cached, nil
		}
	}

	record, err := g.repo.FindByTenant(ctx, g.db, tenantID)
	if err != nil {
		return nil, err
	}
	if record != nil && g.cache != nil {
		g.cache.Set(tenantID, *record)
	}
	return record, nil
}

func (g *Gate) record(ctx context.Context, decision entitlementdomain.Decision) {
	result := "allowed"
	if !decision.Allowed {
		result = "denied:" + string(decision.Reason)
	}
	g.obsMetrics.RecordGateDecision(ctx, result)
}

// Evaluate is the pure access rule. Allowed when the status is active or
// trialing, or when the status is canceled and the paid period has not yet
// elapsed. past_due and none always deny.
func Evaluate(record *entitlementdomain.Entitlement, now time.Time) entitlementdomain.Decision {
	if record == nil {
		return deny(entitlementdomain.DenyReasonNoEntitlement)
	}

	switch record.Status {
	case entitlementdomain.EntitlementStatusActive, entitlementdomain.EntitlementStatusTrialing:
		return entitlementdomain.Decision{Allowed: true}
	case entitlementdomain.EntitlementStatusCanceled:
		if record.CurrentPeriodEnd != nil && !now.After(*record.CurrentPeriodEnd) {
			return entitlementdomain.Decision{Allowed: true}
		}
		if record.CurrentPeriodEnd == nil {
			return deny(entitlementdomain.DenyReasonCanceled)
		}
		return deny(entitlementdomain.DenyReasonPeriodEnded)
	case entitlementdomain.EntitlementStatusPastDue:
		return deny(entitlementdomain.DenyReasonPastDue)
	default:
		return deny(entitlementdomain.DenyReasonNoEntitlement)
	}
}

func deny(reason entitlementdomain.DenyReason) entitlementdomain.Decision {
	return entitlementdomain.Decision{Allowed: false, Reason: reason}
}

var _ entitlementdomain.Gate = (*Gate)(nil)
