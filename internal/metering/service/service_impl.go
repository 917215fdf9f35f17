// Package service enforces per-period generation quotas.
package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/sdiaoune/reel-foundry-landing-page/internal/cache"
	"github.com/sdiaoune/reel-foundry-landing-page/internal/clock"
	entitlementdomain "github.com/sdiaoune/reel-foundry-landing-page/internal/entitlement/domain"
	obsmetrics "github.com/sdiaoune/reel-foundry-landing-page/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Repo       entitlementdomain.Repository
	Cache      cache.EntitlementCache `optional:"true"`
	ObsMetrics *obsmetrics.Metrics    `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	repo       entitlementdomain.Repository
	cache      cache.EntitlementCache
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("metering.service"),
		clock:      p.Clock,
		repo:       p.Repo,
		cache:      p.Cache,
		obsMetrics: p.ObsMetrics,
	}
}

// TryConsume adds n to the tenant's usage counter if the plan quota allows
// it. The check and the increment are one conditional UPDATE, so concurrent
// calls for the same tenant cannot overshoot the limit. On success it returns
// the post-increment counter state.
func (s *Service) TryConsume(ctx context.Context, tenantID snowflake.ID, n int64) (entitlementdomain.Usage, error) {
	if n <= 0 {
		return entitlementdomain.Usage{}, entitlementdomain.ErrQuotaExceeded
	}

	usage, consumed, err := s.repo.ConsumeUsage(ctx, s.db, tenantID, n, s.clock.Now())
	if err != nil {
		return entitlementdomain.Usage{}, err
	}
	if !consumed {
		record, lookupErr := s.repo.FindByTenant(ctx, s.db, tenantID)
		if lookupErr != nil {
			return entitlementdomain.Usage{}, lookupErr
		}
		if record == nil {
			return entitlementdomain.Usage{}, entitlementdomain.ErrTenantNotFound
		}
		s.obsMetrics.RecordQuotaDenied(ctx, record.PlanCode)
		s.log.Info("quota exceeded",
			zap.Int64("tenant_id", int64(tenantID)),
			zap.Int64("usage_count", record.UsageCount),
			zap.Int64("usage_limit", record.UsageLimit),
		)
		return entitlementdomain.Usage{}, entitlementdomain.ErrQuotaExceeded
	}

	if s.cache != nil {
		s.cache.Invalidate(tenantID)
	}
	return usage, nil
}

// Remaining reports how much quota the tenant has left in the current period.
func (s *Service) Remaining(ctx context.Context, tenantID snowflake.ID) (int64, error) {
	record, err := s.repo.FindByTenant(ctx, s.db, tenantID)
	if err != nil {
		return 0, err
	}
	if record == nil {
		return 0, entitlementdomain.ErrTenantNotFound
	}
	remaining := record.UsageLimit - record.UsageCount
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

var _ entitlementdomain.Meter = (*Service)(nil)
