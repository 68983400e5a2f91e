package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/paygate/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
)

func TestDisabledLimiterAllowsEverything(t *testing.T) {
	limiter, err := NewWebhookLimiter(fxtest.NewLifecycle(t), config.Config{}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, limiter)
	assert.False(t, limiter.Enabled())

	res, err := limiter.Allow(context.Background(), "stripe", "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestEnabledLimiterValidatesConfig(t *testing.T) {
	cfg := config.Config{RateLimit: config.RateLimitConfig{Enabled: true, WebhookRate: 10, WebhookBurst: 20}}
	_, err := NewWebhookLimiter(fxtest.NewLifecycle(t), cfg, zap.NewNop())
	assert.Error(t, err, "redis addr is required")

	cfg.Redis.Addr = "localhost:6379"
	cfg.RateLimit.WebhookBurst = 0
	_, err = NewWebhookLimiter(fxtest.NewLifecycle(t), cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestWebhookKey(t *testing.T) {
	assert.Equal(t, "paygate:webhook:mercadopago:10.0.0.1", WebhookKey(" MercadoPago", "10.0.0.1 "))
}

func TestNewResultRetryAfter(t *testing.T) {
	res := newResult(false, 0.5, 2, 10)
	assert.False(t, res.Allowed)
	assert.Equal(t, 10, res.Limit)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, 250*time.Millisecond, res.RetryAfter)

	res = newResult(true, 3.7, 2, 10)
	assert.True(t, res.Allowed)
	assert.Equal(t, 3, res.Remaining)
	assert.Zero(t, res.RetryAfter)
}

func TestBucketTTL(t *testing.T) {
	assert.Equal(t, 4*time.Second, bucketTTL(10, 20))
	assert.Equal(t, time.Second, bucketTTL(100, 1))
	assert.Equal(t, time.Second, bucketTTL(0, 1))
}

func TestCastHelpers(t *testing.T) {
	assert.Equal(t, int64(1), castToInt(int64(1)))
	assert.Equal(t, int64(0), castToInt("x"))
	assert.InDelta(t, 2.5, castToFloat("2.5"), 1e-9)
	assert.InDelta(t, 4.0, castToFloat(int64(4)), 1e-9)
	assert.Zero(t, castToFloat("nope"))
}
