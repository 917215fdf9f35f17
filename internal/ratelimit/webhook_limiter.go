package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/sdiaoune/reel-foundry-landing-page/internal/config"
	"go.uber.org/fx"
)

const (
	keyWebhookProvider = "webhook:intake:%s"
	keyRetentionSweep  = "retention:sweep"

	sweepLockTTL = 5 * time.Minute
)

// WebhookLimiter throttles inbound webhook deliveries per provider and
// coordinates the retention sweep across replicas. A nil limiter means rate
// limiting is disabled and everything is allowed.
type WebhookLimiter struct {
	enabled bool

	bucket *TokenBucket
	locker *Locker

	rate  float64
	burst int
}

func NewWebhookLimiter(cfg config.Config) (*WebhookLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.Rate <= 0 || limitCfg.Burst <= 0 {
		return nil, errors.New("webhook rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})

	return &WebhookLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		locker:  NewLocker(client),
		rate:    limitCfg.Rate,
		burst:   limitCfg.Burst,
	}, nil
}

func (l *WebhookLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *WebhookLimiter) AllowProvider(ctx context.Context, provider string) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyWebhookProvider, strings.ToLower(strings.TrimSpace(provider))), l.rate, l.burst)
}

// TryLockSweep claims the retention sweep so only one replica runs it at a
// time. The returned token must be passed to ReleaseSweep.
func (l *WebhookLimiter) TryLockSweep(ctx context.Context) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	return l.locker.TryLock(ctx, keyRetentionSweep, sweepLockTTL)
}

func (l *WebhookLimiter) ReleaseSweep(ctx context.Context, token string) error {
	if !l.Enabled() {
		return nil
	}
	return l.locker.Release(ctx, keyRetentionSweep, token)
}

var Module = fx.Module("ratelimit", fx.Provide(NewWebhookLimiter))
