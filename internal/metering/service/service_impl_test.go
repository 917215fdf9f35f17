package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/sdiaoune/reel-foundry-landing-page/internal/clock"
	entitlementdomain "github.com/sdiaoune/reel-foundry-landing-page/internal/entitlement/domain"
	"github.com/sdiaoune/reel-foundry-landing-page/internal/entitlement/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T, usageCount, usageLimit int64) (*Service, *gorm.DB, snowflake.ID, *clock.FakeClock) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&entitlementdomain.Entitlement{}))

	// One connection keeps concurrent writers serialized instead of
	// tripping sqlite's busy handler.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	tenantID := node.Generate()
	record := &entitlementdomain.Entitlement{
		ID:         node.Generate(),
		TenantID:   tenantID,
		Status:     entitlementdomain.EntitlementStatusActive,
		PlanCode:   "operator",
		UsageCount: usageCount,
		UsageLimit: usageLimit,
		CreatedAt:  clk.Now(),
		UpdatedAt:  clk.Now(),
	}
	repo := repository.Provide()
	require.NoError(t, repo.Insert(context.Background(), db, record))

	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		Clock: clk,
		Repo:  repo,
	})
	return svc, db, tenantID, clk
}

func TestTryConsumeWithinQuota(t *testing.T) {
	svc, _, tenantID, _ := newTestService(t, 0, 10)

	usage, err := svc.TryConsume(context.Background(), tenantID, 3)
	require.NoError(t, err)
	assert.Equal(t, entitlementdomain.Usage{Count: 3, Limit: 10}, usage)
	assert.Equal(t, int64(7), usage.Remaining())

	remaining, err := svc.Remaining(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), remaining)
}

func TestTryConsumeAtLimit(t *testing.T) {
	svc, _, tenantID, _ := newTestService(t, 9, 10)

	// The last unit is consumable, one more is not.
	usage, err := svc.TryConsume(context.Background(), tenantID, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(10), usage.Count)
	assert.Equal(t, int64(0), usage.Remaining())

	_, err = svc.TryConsume(context.Background(), tenantID, 1)
	assert.ErrorIs(t, err, entitlementdomain.ErrQuotaExceeded)

	remaining, err := svc.Remaining(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), remaining)
}

func TestTryConsumeOverLimitDoesNotMutate(t *testing.T) {
	svc, _, tenantID, _ := newTestService(t, 8, 10)

	_, err := svc.TryConsume(context.Background(), tenantID, 5)
	assert.ErrorIs(t, err, entitlementdomain.ErrQuotaExceeded)

	remaining, err := svc.Remaining(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), remaining)
}

func TestTryConsumeUnknownTenant(t *testing.T) {
	svc, _, _, _ := newTestService(t, 0, 10)

	_, err := svc.TryConsume(context.Background(), 424242, 1)
	assert.ErrorIs(t, err, entitlementdomain.ErrTenantNotFound)
}

func TestTryConsumeStampsInjectedClock(t *testing.T) {
	svc, db, tenantID, clk := newTestService(t, 0, 10)
	clk.Advance(42 * time.Minute)

	_, err := svc.TryConsume(context.Background(), tenantID, 1)
	require.NoError(t, err)

	var updatedAt time.Time
	require.NoError(t, db.Raw(`SELECT updated_at FROM entitlements WHERE tenant_id = ?`, tenantID).Scan(&updatedAt).Error)
	assert.True(t, updatedAt.Equal(clk.Now()), "updated_at %s, clock %s", updatedAt, clk.Now())
}

func TestTryConsumeConcurrent(t *testing.T) {
	const workers = 25
	const headroom = 7

	svc, db, tenantID, _ := newTestService(t, 0, headroom)

	var wg sync.WaitGroup
	results := make(chan error, workers)
	counts := make(chan int64, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			usage, err := svc.TryConsume(context.Background(), tenantID, 1)
			results <- err
			if err == nil {
				counts <- usage.Count
			}
		}()
	}
	wg.Wait()
	close(results)
	close(counts)

	successes := 0
	quotaFailures := 0
	for err := range results {
		switch {
		case err == nil:
			successes++
		case assert.ErrorIs(t, err, entitlementdomain.ErrQuotaExceeded):
			quotaFailures++
		}
	}
	assert.Equal(t, headroom, successes)
	assert.Equal(t, workers-headroom, quotaFailures)

	// Each winner saw a distinct post-increment count.
	seen := make(map[int64]bool, headroom)
	for count := range counts {
		assert.False(t, seen[count], "count %d reported twice", count)
		seen[count] = true
		assert.GreaterOrEqual(t, count, int64(1))
		assert.LessOrEqual(t, count, int64(headroom))
	}

	var usageCount int64
	require.NoError(t, db.Raw(`SELECT usage_count FROM entitlements WHERE tenant_id = ?`, tenantID).Scan(&usageCount).Error)
	assert.Equal(t, int64(headroom), usageCount)
}
