package config

import (
	"errors"
	"io/fs"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// GatewayPolicy tunes how the orchestrator talks to providers.
type GatewayPolicy struct {
	Currency string      `mapstructure:"currency"`
	Retry    RetryPolicy `mapstructure:"retry"`
}

// RetryPolicy bounds retries of timed-out charge creation attempts.
type RetryPolicy struct {
	MaxAttempts     uint          `mapstructure:"maxAttempts"`
	InitialInterval time.Duration `mapstructure:"initialInterval"`
	MaxInterval     time.Duration `mapstructure:"maxInterval"`
}

func DefaultGatewayPolicy() GatewayPolicy {
	return GatewayPolicy{
		Currency: "BRL",
		Retry: RetryPolicy{
			MaxAttempts:     3,
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     2 * time.Second,
		},
	}
}

type PolicyHolder struct {
	current atomic.Value // holds GatewayPolicy
}

// NewStaticPolicyHolder returns a holder that never reloads.
func NewStaticPolicyHolder(policy GatewayPolicy) *PolicyHolder {
	holder := &PolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func NewPolicyHolder(cfg Config, log *zap.Logger) (*PolicyHolder, error) {
	log = log.Named("config.policy")
	v := viper.New()

	if cfg.PolicyFile != "" {
		v.SetConfigFile(cfg.PolicyFile)
	} else {
		v.SetConfigName("gateway")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/paygate")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("PAYGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultGatewayPolicy()
	v.SetDefault("gateway.currency", defaults.Currency)
	v.SetDefault("gateway.retry.maxAttempts", defaults.Retry.MaxAttempts)
	v.SetDefault("gateway.retry.initialInterval", defaults.Retry.InitialInterval)
	v.SetDefault("gateway.retry.maxInterval", defaults.Retry.MaxInterval)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		fileLoaded = false
	}

	var policy GatewayPolicy
	if err := v.UnmarshalKey("gateway", &policy); err != nil {
		return nil, err
	}
	if err := validatePolicy(policy); err != nil {
		return nil, err
	}

	holder := NewStaticPolicyHolder(policy)
	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated GatewayPolicy
		if err := v.UnmarshalKey("gateway", &updated); err != nil {
			log.Warn("gateway policy reload failed", zap.Error(err))
			return
		}
		if err := validatePolicy(updated); err != nil {
			log.Warn("invalid gateway policy ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("gateway policy reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *PolicyHolder) Get() GatewayPolicy {
	return h.current.Load().(GatewayPolicy)
}

func validatePolicy(policy GatewayPolicy) error {
	if strings.TrimSpace(policy.Currency) == "" {
		return errors.New("gateway.currency cannot be empty")
	}
	if policy.Retry.MaxAttempts == 0 {
		return errors.New("gateway.retry.maxAttempts must be at least 1")
	}
	if policy.Retry.InitialInterval <= 0 || policy.Retry.MaxInterval < policy.Retry.InitialInterval {
		return errors.New("gateway.retry intervals are invalid")
	}
	return nil
}
