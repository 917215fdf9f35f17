package retention

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/sdiaoune/reel-foundry-landing-page/internal/clock"
	appconfig "github.com/sdiaoune/reel-foundry-landing-page/internal/config"
	entitlementdomain "github.com/sdiaoune/reel-foundry-landing-page/internal/entitlement/domain"
	"github.com/sdiaoune/reel-foundry-landing-page/internal/entitlement/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestWorker(t *testing.T, retentionDays int) (*Worker, *gorm.DB, *clock.FakeClock) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&entitlementdomain.BillingEvent{}))

	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	worker := NewWorker(Params{
		DB:     db,
		Log:    zap.NewNop(),
		Clock:  clk,
		AppCfg: appconfig.Config{EventRetentionDays: retentionDays},
		Repo:   repository.Provide(),
		Config: Config{BatchSize: 2},
	})
	return worker, db, clk
}

func seedEvent(t *testing.T, db *gorm.DB, id int64, occurredAt time.Time) {
	t.Helper()

	require.NoError(t, db.Create(&entitlementdomain.BillingEvent{
		ID:         snowflake.ID(id),
		EventID:    fmt.Sprintf("evt_%d", id),
		EventType:  entitlementdomain.EventSubscriptionUpdated,
		Provider:   "stripe",
		OccurredAt: occurredAt,
		ReceivedAt: occurredAt,
	}).Error)
}

func TestRunOnceDeletesExpiredRows(t *testing.T) {
	worker, db, clk := newTestWorker(t, 30)

	// Five expired rows force multiple delete batches at BatchSize 2.
	for i := int64(1); i <= 5; i++ {
		seedEvent(t, db, i, clk.Now().AddDate(0, 0, -31))
	}
	seedEvent(t, db, 6, clk.Now().AddDate(0, 0, -29))
	seedEvent(t, db, 7, clk.Now())

	require.NoError(t, worker.RunOnce(context.Background()))

	var remaining []string
	require.NoError(t, db.Raw(`SELECT event_id FROM billing_events ORDER BY event_id`).Scan(&remaining).Error)
	assert.Equal(t, []string{"evt_6", "evt_7"}, remaining)
}

func TestRunOnceDisabledByZeroRetention(t *testing.T) {
	worker, db, clk := newTestWorker(t, 0)
	seedEvent(t, db, 1, clk.Now().AddDate(0, 0, -365))

	require.NoError(t, worker.RunOnce(context.Background()))

	var count int64
	require.NoError(t, db.Raw(`SELECT COUNT(1) FROM billing_events`).Scan(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestRunOnceNoExpiredRows(t *testing.T) {
	worker, db, clk := newTestWorker(t, 30)
	seedEvent(t, db, 1, clk.Now())

	require.NoError(t, worker.RunOnce(context.Background()))

	var count int64
	require.NoError(t, db.Raw(`SELECT COUNT(1) FROM billing_events`).Scan(&count).Error)
	assert.Equal(t, int64(1), count)
}
