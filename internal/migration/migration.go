// Package migration applies the schema on startup.
package migration

import (
	entitlementdomain "github.com/sdiaoune/reel-foundry-landing-page/internal/entitlement/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB, log *zap.Logger) error {
	log.Info("applying schema migrations")
	return db.AutoMigrate(
		&entitlementdomain.Entitlement{},
		&entitlementdomain.BillingEvent{},
	)
}

var Module = fx.Module("migration", fx.Invoke(Migrate))
