package metering

import (
	entitlementdomain "github.com/sdiaoune/reel-foundry-landing-page/internal/entitlement/domain"
	"github.com/sdiaoune/reel-foundry-landing-page/internal/metering/service"
	"go.uber.org/fx"
)

var Module = fx.Module("metering.service",
	fx.Provide(service.NewService),
	fx.Provide(func(s *service.Service) entitlementdomain.Meter { return s }),
)
