package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	entitlementdomain "github.com/sdiaoune/reel-foundry-landing-page/internal/entitlement/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() entitlementdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entitlement *entitlementdomain.Entitlement) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO entitlements (
			id, tenant_id, status, plan_code, provider_customer_id, provider_subscription_id,
			current_period_start, current_period_end, cancel_at_period_end, usage_count, usage_limit,
			last_applied_event_id, last_applied_event_timestamp, metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entitlement.ID,
		entitlement.TenantID,
		entitlement.Status,
		entitlement.PlanCode,
		entitlement.ProviderCustomerID,
		entitlement.ProviderSubscriptionID,
		entitlement.CurrentPeriodStart,
		entitlement.CurrentPeriodEnd,
		entitlement.CancelAtPeriodEnd,
		entitlement.UsageCount,
		entitlement.UsageLimit,
		entitlement.LastAppliedEventID,
		entitlement.LastAppliedEventTimestamp,
		entitlement.Metadata,
		entitlement.CreatedAt,
		entitlement.UpdatedAt,
	).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, entitlement *entitlementdomain.Entitlement) error {
	return db.WithContext(ctx).Exec(
		`UPDATE entitlements SET
			status = ?, plan_code = ?, provider_customer_id = ?, provider_subscription_id = ?,
			current_period_start = ?, current_period_end = ?, cancel_at_period_end = ?,
			usage_count = ?, usage_limit = ?, last_applied_event_id = ?,
			last_applied_event_timestamp = ?, metadata = ?, updated_at = ?
		 WHERE tenant_id = ?`,
		entitlement.Status,
		entitlement.PlanCode,
		entitlement.ProviderCustomerID,
		entitlement.ProviderSubscriptionID,
		entitlement.CurrentPeriodStart,
		entitlement.CurrentPeriodEnd,
		entitlement.CancelAtPeriodEnd,
		entitlement.UsageCount,
		entitlement.UsageLimit,
		entitlement.LastAppliedEventID,
		entitlement.LastAppliedEventTimestamp,
		entitlement.Metadata,
		entitlement.UpdatedAt,
		entitlement.TenantID,
	).Error
}

func (r *repo) FindByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*entitlementdomain.Entitlement, error) {
	return r.findByTenant(ctx, db, tenantID, false)
}

func (r *repo) FindByTenantForUpdate(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*entitlementdomain.Entitlement, error) {
	return r.findByTenant(ctx, db, tenantID, true)
}

func (r *repo) findByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, forUpdate bool) (*entitlementdomain.Entitlement, error) {
	query := `SELECT id, tenant_id, status, plan_code, provider_customer_id, provider_subscription_id,
		 current_period_start, current_period_end, cancel_at_period_end, usage_count, usage_limit,
		 last_applied_event_id, last_applied_event_timestamp, metadata, created_at, updated_at
		 FROM entitlements WHERE tenant_id = ?`
	if forUpdate {
		query += lockSuffix(db)
	}

	var entitlement entitlementdomain.Entitlement
	err := db.WithContext(ctx).Raw(query, tenantID).Scan(&entitlement).Error
	if err != nil {
		return nil, err
	}
	if entitlement.ID == 0 {
		return nil, nil
	}
	return &entitlement, nil
}

// lockSuffix returns the row lock clause for dialects that support it.
// SQLite serializes writers at the connection level, so no clause is needed
// there and the syntax would be rejected.
func lockSuffix(db *gorm.DB) string {
	if db != nil && strings.EqualFold(db.Dialector.Name(), "sqlite") {
		return ""
	}
	return " FOR UPDATE"
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *entitlementdomain.BillingEvent) (bool, error) {
	result := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(event)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) DeleteEventsBefore(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = 500
	}
	result := db.WithContext(ctx).Exec(
		`DELETE FROM billing_events WHERE id IN (
			SELECT id FROM billing_events WHERE occurred_at < ? ORDER BY occurred_at ASC LIMIT ?
		)`,
		cutoff,
		limit,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repo) ConsumeUsage(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, n int64, now time.Time) (entitlementdomain.Usage, bool, error) {
	var usage entitlementdomain.Usage
	var consumed bool
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Exec(
			`UPDATE entitlements
			 SET usage_count = usage_count + ?, updated_at = ?
			 WHERE tenant_id = ? AND usage_count + ? <= usage_limit`,
			n,
			now.UTC(),
			tenantID,
			n,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		consumed = true

		var row struct {
			UsageCount int64
			UsageLimit int64
		}
		err := tx.Raw(
			`SELECT usage_count, usage_limit FROM entitlements WHERE tenant_id = ?`,
			tenantID,
		).Scan(&row).Error
		if err != nil {
			return err
		}
		usage = entitlementdomain.Usage{Count: row.UsageCount, Limit: row.UsageLimit}
		return nil
	})
	if err != nil {
		return entitlementdomain.Usage{}, false, err
	}
	return usage, consumed, nil
}
