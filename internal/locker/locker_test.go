package locker

import (
	"context"
	"testing"

	"github.com/smallbiznis/paygate/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
)

func TestDisabledLockerGrantsEveryLock(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	l, err := New(lc, config.Config{}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, l)

	token, ok, err := l.TryLock(context.Background(), ChargeKey("1", "quote", "2"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, token)
	assert.NoError(t, l.Release(context.Background(), "k", token))
}

func TestEnabledLockerRequiresAddr(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	_, err := New(lc, config.Config{Redis: config.RedisConfig{Enabled: true, Addr: " "}}, zap.NewNop())
	assert.Error(t, err)
}

func TestChargeKey(t *testing.T) {
	assert.Equal(t, "paygate:charge:create:10:quote:77", ChargeKey(" 10", "quote ", "77"))
}

func TestJobKey(t *testing.T) {
	assert.Equal(t, "paygate:scheduler:job:pending_sweep", JobKey("pending_sweep "))
}
