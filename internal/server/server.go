package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sdiaoune/reel-foundry-landing-page/internal/cache"
	checkoutservice "github.com/sdiaoune/reel-foundry-landing-page/internal/checkout"
	"github.com/sdiaoune/reel-foundry-landing-page/internal/clock"
	"github.com/sdiaoune/reel-foundry-landing-page/internal/config"
	"github.com/sdiaoune/reel-foundry-landing-page/internal/entitlement"
	entitlementdomain "github.com/sdiaoune/reel-foundry-landing-page/internal/entitlement/domain"
	"github.com/sdiaoune/reel-foundry-landing-page/internal/metering"
	"github.com/sdiaoune/reel-foundry-landing-page/internal/migration"
	"github.com/sdiaoune/reel-foundry-landing-page/internal/observability"
	obsmiddleware "github.com/sdiaoune/reel-foundry-landing-page/internal/observability/logger"
	obstracing "github.com/sdiaoune/reel-foundry-landing-page/internal/observability/tracing"
	"github.com/sdiaoune/reel-foundry-landing-page/internal/ratelimit"
	"github.com/sdiaoune/reel-foundry-landing-page/internal/retention"
	"github.com/sdiaoune/reel-foundry-landing-page/internal/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	cache.Module,
	ratelimit.Module,
	entitlement.Module,
	metering.Module,
	webhook.Module,
	checkoutservice.Module,
	migration.Module,
	retention.Module,
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, log *zap.Logger) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(log))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type Server struct {
	engine         *gin.Engine
	cfg            config.Config
	clock          clock.Clock
	entitlementSvc entitlementdomain.Service
	gate           entitlementdomain.Gate
	meter          entitlementdomain.Meter
	webhookSvc     *webhook.Service
	checkoutSvc    *checkoutservice.Service
	webhookLimiter *ratelimit.WebhookLimiter
	log            *zap.Logger
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            config.Config
	Log            *zap.Logger
	Clock          clock.Clock
	EntitlementSvc entitlementdomain.Service
	Gate           entitlementdomain.Gate
	Meter          entitlementdomain.Meter
	WebhookSvc     *webhook.Service
	CheckoutSvc    *checkoutservice.Service
	WebhookLimiter *ratelimit.WebhookLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		clock:          p.Clock,
		entitlementSvc: p.EntitlementSvc,
		gate:           p.Gate,
		meter:          p.Meter,
		webhookSvc:     p.WebhookSvc,
		checkoutSvc:    p.CheckoutSvc,
		webhookLimiter: p.WebhookLimiter,
		log:            p.Log.Named("http.server"),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	api := s.engine.Group("/api")

	api.POST("/billing/webhooks/:provider", s.HandleBillingWebhook)
	api.POST("/tenants", s.HandleCreateTenant)
	api.GET("/entitlements/:tenantId", s.HandleGetEntitlement)
	api.POST("/checkout/sessions", s.HandleCreateCheckoutSession)
	api.POST("/generations", s.HandleStartGeneration)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
