package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/sdiaoune/reel-foundry-landing-page/internal/clock"
	"github.com/sdiaoune/reel-foundry-landing-page/internal/config"
	entitlementdomain "github.com/sdiaoune/reel-foundry-landing-page/internal/entitlement/domain"
	"github.com/sdiaoune/reel-foundry-landing-page/internal/entitlement/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&entitlementdomain.Entitlement{},
		&entitlementdomain.BillingEvent{},
	))
	return db
}

func newTestService(t *testing.T, db *gorm.DB, clk clock.Clock) *Service {
	t.Helper()

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	plans, err := config.NewStaticPlanCatalogHolder(config.DefaultPlanCatalog())
	require.NoError(t, err)

	return NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Plans: plans,
		Repo:  repository.Provide(),
	})
}

func createTenant(t *testing.T, svc *Service) snowflake.ID {
	t.Helper()

	resp, err := svc.CreateTenant(context.Background(), entitlementdomain.CreateTenantRequest{Name: "acme ads"})
	require.NoError(t, err)

	tenantID, err := snowflake.ParseString(resp.TenantID)
	require.NoError(t, err)
	return tenantID
}

func checkoutEvent(tenantID snowflake.ID, eventID string, occurredAt time.Time, status, plan string, periodEnd time.Time) entitlementdomain.CanonicalEvent {
	periodStart := periodEnd.AddDate(0, -1, 0)
	return entitlementdomain.CanonicalEvent{
		EventID:    eventID,
		Type:       entitlementdomain.EventCheckoutCompleted,
		TenantID:   tenantID,
		Provider:   "stripe",
		OccurredAt: occurredAt,
		Subscription: &entitlementdomain.SubscriptionDetails{
			CustomerID:         "cus_123",
			SubscriptionID:     "sub_123",
			PlanCode:           plan,
			Status:             status,
			CurrentPeriodStart: &periodStart,
			CurrentPeriodEnd:   &periodEnd,
		},
	}
}

func TestApplyCheckoutCompleted(t *testing.T) {
	db := newTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	svc := newTestService(t, db, clk)
	tenantID := createTenant(t, svc)

	periodEnd := clk.Now().AddDate(0, 1, 0)
	result, err := svc.Apply(context.Background(), checkoutEvent(tenantID, "evt_1", clk.Now(), "trialing", "operator", periodEnd))
	require.NoError(t, err)
	assert.Equal(t, entitlementdomain.ApplyResultApplied, result)

	resp, err := svc.GetByTenant(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Equal(t, entitlementdomain.EntitlementStatusTrialing, resp.Status)
	assert.Equal(t, "operator", resp.PlanCode)
	assert.Equal(t, int64(0), resp.UsageCount)
	assert.Equal(t, int64(150), resp.UsageLimit)
	require.NotNil(t, resp.CurrentPeriodEnd)
	assert.True(t, resp.CurrentPeriodEnd.Equal(periodEnd))
}

func TestApplyDuplicateEventIsNoop(t *testing.T) {
	db := newTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	svc := newTestService(t, db, clk)
	tenantID := createTenant(t, svc)

	event := checkoutEvent(tenantID, "evt_dup", clk.Now(), "active", "prototype", clk.Now().AddDate(0, 1, 0))

	first, err := svc.Apply(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, entitlementdomain.ApplyResultApplied, first)

	// Simulate usage between the two deliveries so a second application
	// would be observable as a counter reset.
	require.NoError(t, db.Exec(`UPDATE entitlements SET usage_count = 7 WHERE tenant_id = ?`, tenantID).Error)

	second, err := svc.Apply(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, entitlementdomain.ApplyResultDuplicate, second)

	resp, err := svc.GetByTenant(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), resp.UsageCount)
}

func TestApplyOutOfOrderKeepsNewerState(t *testing.T) {
	db := newTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	svc := newTestService(t, db, clk)
	tenantID := createTenant(t, svc)

	base := clk.Now()
	_, err := svc.Apply(context.Background(), checkoutEvent(tenantID, "evt_checkout", base, "active", "operator", base.AddDate(0, 1, 0)))
	require.NoError(t, err)

	// Newer failure event arrives first.
	newer := entitlementdomain.CanonicalEvent{
		EventID:    "evt_fail",
		Type:       entitlementdomain.EventInvoicePaymentFailed,
		TenantID:   tenantID,
		Provider:   "stripe",
		OccurredAt: base.Add(2 * time.Hour),
		Subscription: &entitlementdomain.SubscriptionDetails{
			CustomerID:     "cus_123",
			SubscriptionID: "sub_123",
		},
	}
	result, err := svc.Apply(context.Background(), newer)
	require.NoError(t, err)
	assert.Equal(t, entitlementdomain.ApplyResultApplied, result)

	// The older "active" update is redelivered late. It must not clobber
	// the past_due status.
	older := entitlementdomain.CanonicalEvent{
		EventID:    "evt_stale",
		Type:       entitlementdomain.EventSubscriptionUpdated,
		TenantID:   tenantID,
		Provider:   "stripe",
		OccurredAt: base.Add(time.Hour),
		Subscription: &entitlementdomain.SubscriptionDetails{
			SubscriptionID: "sub_123",
			Status:         "active",
		},
	}
	result, err = svc.Apply(context.Background(), older)
	require.NoError(t, err)
	assert.Equal(t, entitlementdomain.ApplyResultStale, result)

	resp, err := svc.GetByTenant(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Equal(t, entitlementdomain.EntitlementStatusPastDue, resp.Status)

	// Redelivery of the stale event is now a duplicate, not a reprocess.
	result, err = svc.Apply(context.Background(), older)
	require.NoError(t, err)
	assert.Equal(t, entitlementdomain.ApplyResultDuplicate, result)
}

func TestApplyPeriodAdvanceResetsUsage(t *testing.T) {
	db := newTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	svc := newTestService(t, db, clk)
	tenantID := createTenant(t, svc)

	base := clk.Now()
	_, err := svc.Apply(context.Background(), checkoutEvent(tenantID, "evt_checkout", base, "active", "operator", base.AddDate(0, 1, 0)))
	require.NoError(t, err)

	require.NoError(t, db.Exec(`UPDATE entitlements SET usage_count = 142 WHERE tenant_id = ?`, tenantID).Error)

	newStart := base.AddDate(0, 1, 0)
	newEnd := base.AddDate(0, 2, 0)
	renewal := entitlementdomain.CanonicalEvent{
		EventID:    "evt_renew",
		Type:       entitlementdomain.EventSubscriptionUpdated,
		TenantID:   tenantID,
		Provider:   "stripe",
		OccurredAt: base.AddDate(0, 1, 0),
		Subscription: &entitlementdomain.SubscriptionDetails{
			SubscriptionID:     "sub_123",
			Status:             "active",
			CurrentPeriodStart: &newStart,
			CurrentPeriodEnd:   &newEnd,
		},
	}
	result, err := svc.Apply(context.Background(), renewal)
	require.NoError(t, err)
	assert.Equal(t, entitlementdomain.ApplyResultApplied, result)

	resp, err := svc.GetByTenant(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), resp.UsageCount)
	require.NotNil(t, resp.CurrentPeriodEnd)
	assert.True(t, resp.CurrentPeriodEnd.Equal(newEnd))
}

func TestApplyPlanChangeWithoutPeriodChangeKeepsUsage(t *testing.T) {
	db := newTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	svc := newTestService(t, db, clk)
	tenantID := createTenant(t, svc)

	base := clk.Now()
	periodEnd := base.AddDate(0, 1, 0)
	_, err := svc.Apply(context.Background(), checkoutEvent(tenantID, "evt_checkout", base, "active", "prototype", periodEnd))
	require.NoError(t, err)

	require.NoError(t, db.Exec(`UPDATE entitlements SET usage_count = 20 WHERE tenant_id = ?`, tenantID).Error)

	upgrade := entitlementdomain.CanonicalEvent{
		EventID:    "evt_upgrade",
		Type:       entitlementdomain.EventSubscriptionUpdated,
		TenantID:   tenantID,
		Provider:   "stripe",
		OccurredAt: base.Add(time.Hour),
		Subscription: &entitlementdomain.SubscriptionDetails{
			SubscriptionID:   "sub_123",
			Status:           "active",
			PlanCode:         "foundry",
			CurrentPeriodEnd: &periodEnd,
		},
	}
	_, err = svc.Apply(context.Background(), upgrade)
	require.NoError(t, err)

	resp, err := svc.GetByTenant(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Equal(t, "foundry", resp.PlanCode)
	assert.Equal(t, int64(600), resp.UsageLimit)
	assert.Equal(t, int64(20), resp.UsageCount)
}

func TestApplyUnknownTenantIsDropped(t *testing.T) {
	db := newTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	svc := newTestService(t, db, clk)

	phantom := snowflake.ID(99999999)
	event := checkoutEvent(phantom, "evt_phantom", clk.Now(), "active", "operator", clk.Now().AddDate(0, 1, 0))

	result, err := svc.Apply(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, entitlementdomain.ApplyResultDropped, result)

	var count int64
	require.NoError(t, db.Raw(`SELECT COUNT(1) FROM entitlements`).Scan(&count).Error)
	assert.Equal(t, int64(0), count)

	// Redelivery dedups against the ledger row the drop left behind.
	result, err = svc.Apply(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, entitlementdomain.ApplyResultDuplicate, result)
}

func TestApplyMalformedEvent(t *testing.T) {
	db := newTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	svc := newTestService(t, db, clk)

	_, err := svc.Apply(context.Background(), entitlementdomain.CanonicalEvent{
		EventID:    "evt_no_tenant",
		Type:       entitlementdomain.EventSubscriptionUpdated,
		OccurredAt: clk.Now(),
	})
	assert.ErrorIs(t, err, entitlementdomain.ErrMalformedEvent)
}

func TestEndToEndLifecycle(t *testing.T) {
	db := newTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	svc := newTestService(t, db, clk)
	tenantID := createTenant(t, svc)
	ctx := context.Background()

	// Starts with no access.
	record, err := svc.repo.FindByTenant(ctx, db, tenantID)
	require.NoError(t, err)
	assert.False(t, Evaluate(record, clk.Now()).Allowed)

	// Trial checkout on the operator plan.
	base := clk.Now()
	periodEnd := base.AddDate(0, 1, 0)
	_, err = svc.Apply(ctx, checkoutEvent(tenantID, "evt_1", base, "trialing", "operator", periodEnd))
	require.NoError(t, err)

	record, err = svc.repo.FindByTenant(ctx, db, tenantID)
	require.NoError(t, err)
	assert.True(t, Evaluate(record, clk.Now()).Allowed)
	assert.Equal(t, int64(150), record.UsageLimit)
	assert.Equal(t, int64(0), record.UsageCount)

	// Payment failure denies immediately.
	_, err = svc.Apply(ctx, entitlementdomain.CanonicalEvent{
		EventID: "evt_2", Type: entitlementdomain.EventInvoicePaymentFailed,
		TenantID: tenantID, Provider: "stripe", OccurredAt: base.Add(time.Hour),
	})
	require.NoError(t, err)

	record, err = svc.repo.FindByTenant(ctx, db, tenantID)
	require.NoError(t, err)
	decision := Evaluate(record, clk.Now())
	assert.False(t, decision.Allowed)
	assert.Equal(t, entitlementdomain.DenyReasonPastDue, decision.Reason)

	// Recovery re-allows.
	_, err = svc.Apply(ctx, entitlementdomain.CanonicalEvent{
		EventID: "evt_3", Type: entitlementdomain.EventSubscriptionUpdated,
		TenantID: tenantID, Provider: "stripe", OccurredAt: base.Add(2 * time.Hour),
		Subscription: &entitlementdomain.SubscriptionDetails{
			SubscriptionID:   "sub_123",
			Status:           "active",
			CurrentPeriodEnd: &periodEnd,
		},
	})
	require.NoError(t, err)

	record, err = svc.repo.FindByTenant(ctx, db, tenantID)
	require.NoError(t, err)
	assert.True(t, Evaluate(record, clk.Now()).Allowed)

	// Cancellation keeps access until the paid period lapses.
	_, err = svc.Apply(ctx, entitlementdomain.CanonicalEvent{
		EventID: "evt_4", Type: entitlementdomain.EventSubscriptionCanceled,
		TenantID: tenantID, Provider: "stripe", OccurredAt: base.Add(3 * time.Hour),
		Subscription: &entitlementdomain.SubscriptionDetails{
			SubscriptionID:   "sub_123",
			CurrentPeriodEnd: &periodEnd,
		},
	})
	require.NoError(t, err)

	record, err = svc.repo.FindByTenant(ctx, db, tenantID)
	require.NoError(t, err)
	assert.True(t, Evaluate(record, periodEnd.Add(-time.Minute)).Allowed)

	after := Evaluate(record, periodEnd.Add(time.Minute))
	assert.False(t, after.Allowed)
	assert.Equal(t, entitlementdomain.DenyReasonPeriodEnded, after.Reason)
}
