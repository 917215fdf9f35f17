// Package retention bounds billing_events storage by deleting ledger rows
// older than the configured window. Provider redelivery windows are far
// shorter than the retention window, so the sweep never affects dedup
// correctness.
package retention

import (
	"context"
	"time"

	"github.com/sdiaoune/reel-foundry-landing-page/internal/clock"
	appconfig "github.com/sdiaoune/reel-foundry-landing-page/internal/config"
	entitlementdomain "github.com/sdiaoune/reel-foundry-landing-page/internal/entitlement/domain"
	"github.com/sdiaoune/reel-foundry-landing-page/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	AppCfg  appconfig.Config
	Repo    entitlementdomain.Repository
	Limiter *ratelimit.WebhookLimiter `optional:"true"`
	Config  Config                    `optional:"true"`
}

type Worker struct {
	db            *gorm.DB
	log           *zap.Logger
	clock         clock.Clock
	repo          entitlementdomain.Repository
	limiter       *ratelimit.WebhookLimiter
	retentionDays int
	cfg           Config
}

func NewWorker(p Params) *Worker {
	return &Worker{
		db:            p.DB,
		log:           p.Log.Named("retention.worker"),
		clock:         p.Clock,
		repo:          p.Repo,
		limiter:       p.Limiter,
		retentionDays: p.AppCfg.EventRetentionDays,
		cfg:           p.Config.withDefaults(),
	}
}

func (w *Worker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := w.RunOnce(ctx); err != nil {
			w.log.Warn("retention sweep failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) RunOnce(parentCtx context.Context) error {
	if w.retentionDays <= 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(parentCtx, w.cfg.RunTimeout)
	defer cancel()

	token, acquired, err := w.limiter.TryLockSweep(ctx)
	if err != nil {
		return err
	}
	if !acquired {
		return nil
	}
	defer func() {
		_ = w.limiter.ReleaseSweep(ctx, token)
	}()

	cutoff := w.clock.Now().AddDate(0, 0, -w.retentionDays)
	var total int64
	for {
		deleted, err := w.repo.DeleteEventsBefore(ctx, w.db, cutoff, w.cfg.BatchSize)
		if err != nil {
			return err
		}
		total += deleted
		if deleted < int64(w.cfg.BatchSize) {
			break
		}
	}

	if total > 0 {
		w.log.Info("retention sweep completed",
			zap.Int64("deleted", total),
			zap.Time("cutoff", cutoff),
		)
	}
	return nil
}
