// Package domain contains persistence models for tenant entitlements and the
// billing event ledger.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// EntitlementStatus represents lifecycle states for a tenant entitlement.
type EntitlementStatus string

const (
	EntitlementStatusNone     EntitlementStatus = "NONE"
	EntitlementStatusTrialing EntitlementStatus = "TRIALING"
	EntitlementStatusActive   EntitlementStatus = "ACTIVE"
	EntitlementStatusPastDue  EntitlementStatus = "PAST_DUE"
	EntitlementStatusCanceled EntitlementStatus = "CANCELED"
)

// Entitlement is the locally owned snapshot of a tenant's billing state.
// It is the only source the authorization gate ever consults.
type Entitlement struct {
	ID       snowflake.ID      `gorm:"primaryKey"`
	TenantID snowflake.ID      `gorm:"not null;uniqueIndex"`
	Status   EntitlementStatus `gorm:"type:text;not null"`
	PlanCode string            `gorm:"type:text"`

	ProviderCustomerID     string `gorm:"type:text"`
	ProviderSubscriptionID string `gorm:"type:text;index"`

	CurrentPeriodStart *time.Time `gorm:""`
	CurrentPeriodEnd   *time.Time `gorm:""`
	CancelAtPeriodEnd  bool       `gorm:"not null;default:false"`

	UsageCount int64 `gorm:"not null;default:0"`
	UsageLimit int64 `gorm:"not null;default:0"`

	LastAppliedEventID        string     `gorm:"type:text"`
	LastAppliedEventTimestamp *time.Time `gorm:""`

	Metadata  datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Entitlement) TableName() string { return "entitlements" }

// BillingEvent is the dedup ledger row for a processed provider event.
// EventID carries the provider's identifier and is unique for the life of
// the retention window.
type BillingEvent struct {
	ID         snowflake.ID      `gorm:"primaryKey"`
	EventID    string            `gorm:"type:text;not null;uniqueIndex"`
	TenantID   snowflake.ID      `gorm:"not null;index"`
	EventType  EventType         `gorm:"type:text;not null"`
	Provider   string            `gorm:"type:text;not null"`
	OccurredAt time.Time         `gorm:"not null;index"`
	Payload    datatypes.JSONMap `gorm:"type:jsonb"`
	ReceivedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (BillingEvent) TableName() string { return "billing_events" }
