package cache

import (
	"time"

	"github.com/bwmarrin/snowflake"
	entitlementdomain "github.com/sdiaoune/reel-foundry-landing-page/internal/entitlement/domain"
	"go.uber.org/fx"
)

const defaultSnapshotTTL = 5 * time.Second

// EntitlementCache stores gate-path snapshot reads. The TTL is short because
// a denial-producing event must take effect quickly, and the reconciler
// invalidates on every applied event as well.
type EntitlementCache interface {
	Get(tenantID snowflake.ID) (entitlementdomain.Entitlement, bool)
	Set(tenantID snowflake.ID, record entitlementdomain.Entitlement)
	Invalidate(tenantID snowflake.ID)
}

type entitlementCache struct {
	snapshots Cache[snowflake.ID, entitlementdomain.Entitlement]
	ttl       time.Duration
}

func NewEntitlementCache() EntitlementCache {
	return &entitlementCache{
		snapshots: NewTTLCache[snowflake.ID, entitlementdomain.Entitlement](),
		ttl:       defaultSnapshotTTL,
	}
}

func (c *entitlementCache) Get(tenantID snowflake.ID) (entitlementdomain.Entitlement, bool) {
	return c.snapshots.Get(tenantID)
}

func (c *entitlementCache) Set(tenantID snowflake.ID, record entitlementdomain.Entitlement) {
	if record.ID == 0 {
		return
	}
	c.snapshots.Set(tenantID, record, c.ttl)
}

func (c *entitlementCache) Invalidate(tenantID snowflake.ID) {
	c.snapshots.Delete(tenantID)
}

var Module = fx.Module("cache", fx.Provide(NewEntitlementCache))
