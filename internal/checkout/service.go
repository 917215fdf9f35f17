// Package checkout creates provider checkout sessions for plan purchases.
// The session carries tenant_id in its metadata so webhook events can be
// mapped back to the workspace that paid.
package checkout

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/sdiaoune/reel-foundry-landing-page/internal/config"
	obsmetrics "github.com/sdiaoune/reel-foundry-landing-page/internal/observability/metrics"
	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/checkout/session"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	ErrUnknownPlan       = errors.New("unknown_plan")
	ErrMissingPriceID    = errors.New("missing_price_id")
	ErrCheckoutDisabled  = errors.New("checkout_disabled")
	ErrProviderRejection = errors.New("provider_rejection")
)

type CreateSessionRequest struct {
	PlanCode string `json:"plan_code"`
	PriceID  string `json:"price_id"`
}

type CreateSessionResponse struct {
	SessionID   string `json:"session_id"`
	CheckoutURL string `json:"checkout_url"`
}

type Params struct {
	fx.In

	Log        *zap.Logger
	Cfg        config.Config
	Plans      *config.PlanCatalogHolder
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	cfg        config.Config
	plans      *config.PlanCatalogHolder
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	if key := strings.TrimSpace(p.Cfg.StripeAPIKey); key != "" {
		stripe.Key = key
	}
	return &Service{
		log:        p.Log.Named("checkout.service"),
		cfg:        p.Cfg,
		plans:      p.Plans,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) CreateSession(ctx context.Context, tenantID snowflake.ID, req CreateSessionRequest) (CreateSessionResponse, error) {
	if strings.TrimSpace(s.cfg.StripeAPIKey) == "" {
		return CreateSessionResponse{}, ErrCheckoutDisabled
	}

	planCode := strings.ToLower(strings.TrimSpace(req.PlanCode))
	if s.plans.LimitFor(planCode) == 0 {
		return CreateSessionResponse{}, ErrUnknownPlan
	}
	priceID := strings.TrimSpace(req.PriceID)
	if priceID == "" {
		return CreateSessionResponse{}, ErrMissingPriceID
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL: stripe.String(s.cfg.CheckoutSuccessURL),
		CancelURL:  stripe.String(s.cfg.CheckoutCancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: map[string]string{
			"tenant_id": tenantID.String(),
			"plan_code": planCode,
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				"tenant_id": tenantID.String(),
				"plan_code": planCode,
			},
		},
	}
	params.Context = ctx

	result, err := session.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) {
			s.log.Warn("checkout session rejected",
				zap.Int64("tenant_id", int64(tenantID)),
				zap.String("plan", planCode),
				zap.String("code", string(stripeErr.Code)),
			)
			return CreateSessionResponse{}, ErrProviderRejection
		}
		return CreateSessionResponse{}, err
	}

	s.obsMetrics.RecordCheckoutSession(ctx, planCode)
	s.log.Info("checkout session created",
		zap.Int64("tenant_id", int64(tenantID)),
		zap.String("plan", planCode),
		zap.String("session_id", result.ID),
	)
	return CreateSessionResponse{SessionID: result.ID, CheckoutURL: result.URL}, nil
}

var Module = fx.Module("checkout.service", fx.Provide(NewService))
