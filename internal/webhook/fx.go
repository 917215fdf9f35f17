package webhook

import (
	"fmt"

	"github.com/sdiaoune/reel-foundry-landing-page/internal/config"
	"github.com/sdiaoune/reel-foundry-landing-page/internal/webhook/adapters"
	"github.com/sdiaoune/reel-foundry-landing-page/internal/webhook/adapters/stripe"
	"go.uber.org/fx"
)

var Module = fx.Module("webhook.service",
	fx.Provide(func(cfg config.Config) (*adapters.Registry, error) {
		stripeAdapter, err := stripe.NewAdapter(cfg.StripeWebhookSecret)
		if err != nil {
			return nil, fmt.Errorf("configure stripe adapter: %w", err)
		}
		return adapters.NewRegistry(stripeAdapter), nil
	}),
	fx.Provide(NewService),
)
