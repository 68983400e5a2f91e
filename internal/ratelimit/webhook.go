// Package ratelimit throttles inbound provider notifications per provider and
// source address.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/paygate/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const keyWebhookSource = "paygate:webhook:%s:%s"

type WebhookLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

// NewWebhookLimiter returns nil when rate limiting is disabled; a nil limiter
// allows everything.
func NewWebhookLimiter(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*WebhookLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.WebhookRate <= 0 || limitCfg.WebhookBurst <= 0 {
		return nil, errors.New("webhook rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.Redis.Password),
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Named("ratelimit").Info("webhook rate limit enabled",
				zap.Float64("rate", limitCfg.WebhookRate),
				zap.Int("burst", limitCfg.WebhookBurst),
			)
			return nil
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})

	return &WebhookLimiter{
		bucket: NewTokenBucket(client),
		rate:   limitCfg.WebhookRate,
		burst:  limitCfg.WebhookBurst,
	}, nil
}

func (l *WebhookLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// Allow takes one token from the bucket of provider and source.
func (l *WebhookLimiter) Allow(ctx context.Context, provider, source string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, WebhookKey(provider, source), l.rate, l.burst)
}

func WebhookKey(provider, source string) string {
	return fmt.Sprintf(keyWebhookSource,
		strings.ToLower(strings.TrimSpace(provider)),
		strings.TrimSpace(source),
	)
}
