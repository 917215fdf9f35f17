package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entitlement *Entitlement) error
	Update(ctx context.Context, db *gorm.DB, entitlement *Entitlement) error
	FindByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*Entitlement, error)
	FindByTenantForUpdate(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*Entitlement, error)

	// InsertEvent records the event in the dedup ledger. It reports false
	// when a row with the same EventID already exists.
	InsertEvent(ctx context.Context, db *gorm.DB, event *BillingEvent) (bool, error)
	DeleteEventsBefore(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) (int64, error)

	// ConsumeUsage atomically adds n to usage_count when the quota allows
	// it. It reports false when the addition would exceed usage_limit, and
	// on success returns the post-increment counter state.
	ConsumeUsage(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, n int64, now time.Time) (Usage, bool, error)
}
