package adapters

import (
	"net/http"
	"sort"
	"strings"
	"time"

	gatewaydomain "github.com/smallbiznis/paygate/internal/gatewayconfig/domain"
	"github.com/smallbiznis/paygate/internal/payment/domain"
)

const defaultTimeout = 12 * time.Second

type Registry struct {
	factories map[string]domain.AdapterFactory
	timeout   time.Duration
}

// NewRegistry indexes factories by lower-cased provider id. A non-positive
// timeout falls back to 12s.
func NewRegistry(timeout time.Duration, factories ...domain.AdapterFactory) *Registry {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	registry := &Registry{factories: map[string]domain.AdapterFactory{}, timeout: timeout}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		provider := normalizeProvider(factory.Provider())
		if provider == "" {
			continue
		}
		registry.factories[provider] = factory
	}
	return registry
}

func (r *Registry) ProviderExists(provider string) bool {
	if r == nil {
		return false
	}
	_, ok := r.factories[normalizeProvider(provider)]
	return ok
}

func (r *Registry) Providers() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.factories))
	for provider := range r.factories {
		out = append(out, provider)
	}
	sort.Strings(out)
	return out
}

// EnvironmentFor returns env when set, otherwise the configuration's sandbox flag decides.
func EnvironmentFor(cfg *gatewaydomain.ResolvedConfig, env domain.Environment) domain.Environment {
	if env != "" {
		return env
	}
	if cfg != nil && cfg.IsSandbox {
		return domain.EnvironmentSandbox
	}
	return domain.EnvironmentProduction
}

// NewAdapter selects the credential set for env and builds the provider's adapter.
// A missing credential set or key is reported as *domain.ConfigurationError before
// any provider is contacted.
func (r *Registry) NewAdapter(cfg *gatewaydomain.ResolvedConfig, env domain.Environment) (domain.Adapter, error) {
	if r == nil || cfg == nil {
		return nil, domain.ErrProviderNotFound
	}
	provider := normalizeProvider(cfg.Provider)
	factory, ok := r.factories[provider]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}

	env = EnvironmentFor(cfg, env)
	var credentials map[string]string
	switch env {
	case domain.EnvironmentSandbox:
		credentials = cfg.Sandbox
	case domain.EnvironmentProduction:
		credentials = cfg.Production
	default:
		return nil, &domain.ConfigurationError{Provider: provider, Environment: env, Reason: "unknown environment"}
	}
	if len(credentials) == 0 {
		return nil, &domain.ConfigurationError{
			Provider:    provider,
			Environment: env,
			Missing:     []string{string(env) + "_credentials"},
		}
	}

	return factory.NewAdapter(domain.AdapterConfig{
		OrgID:       cfg.OrgID,
		Provider:    provider,
		Environment: env,
		Credentials: credentials,
		Timeout:     r.timeout,
	})
}

// RequireCredentials returns a ConfigurationError naming every key absent from cfg.
func RequireCredentials(cfg domain.AdapterConfig, keys ...string) error {
	var missing []string
	for _, key := range keys {
		if strings.TrimSpace(cfg.Credentials[key]) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &domain.ConfigurationError{Provider: cfg.Provider, Environment: cfg.Environment, Missing: missing}
}

func normalizeProvider(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}

// HTTPClient returns the injected client or one bounded by the configured timeout.
func HTTPClient(cfg domain.AdapterConfig) *http.Client {
	if cfg.HTTPClient != nil {
		return cfg.HTTPClient
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}
