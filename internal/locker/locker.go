// Package locker serializes charge creation per business reference and
// background jobs across instances.
package locker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/paygate/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	keyChargeCreateLock = "paygate:charge:create:%s:%s:%s"
	keyJobLock          = "paygate:scheduler:job:%s"
	minLockTTL          = 15 * time.Second
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

type Locker struct {
	client *redis.Client
	script *redis.Script
	ttl    time.Duration
}

// New returns nil when Redis is disabled; a nil *Locker grants every lock.
func New(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*Locker, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.Redis.Password),
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis ping: %w", err)
			}
			log.Named("locker").Info("charge creation lock enabled", zap.String("addr", addr))
			return nil
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})

	// Cover the provider call plus retries.
	ttl := cfg.ProviderTimeout * 4
	if ttl < minLockTTL {
		ttl = minLockTTL
	}
	return NewLocker(client, ttl), nil
}

func NewLocker(client *redis.Client, ttl time.Duration) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
		ttl:    ttl,
	}
}

func ChargeKey(orgID, referenceType, referenceID string) string {
	return fmt.Sprintf(keyChargeCreateLock,
		strings.TrimSpace(orgID),
		strings.TrimSpace(referenceType),
		strings.TrimSpace(referenceID),
	)
}

func JobKey(job string) string {
	return fmt.Sprintf(keyJobLock, strings.TrimSpace(job))
}

// TryLock returns the release token and whether the lock was acquired.
func (l *Locker) TryLock(ctx context.Context, key string) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", true, nil
	}
	if key == "" {
		return "", false, errors.New("lock key is empty")
	}
	if l.ttl <= 0 {
		return "", false, errors.New("lock ttl must be positive")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (l *Locker) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil {
		return nil
	}
	if key == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{key}, token).Err()
}
