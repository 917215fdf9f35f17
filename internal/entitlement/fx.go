package entitlement

import (
	entitlementdomain "github.com/sdiaoune/reel-foundry-landing-page/internal/entitlement/domain"
	"github.com/sdiaoune/reel-foundry-landing-page/internal/entitlement/repository"
	"github.com/sdiaoune/reel-foundry-landing-page/internal/entitlement/service"
	"go.uber.org/fx"
)

var Module = fx.Module("entitlement.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(service.NewGate),
	fx.Provide(func(s *service.Service) entitlementdomain.Reconciler { return s }),
	fx.Provide(func(s *service.Service) entitlementdomain.Service { return s }),
	fx.Provide(func(g *service.Gate) entitlementdomain.Gate { return g }),
)
