package webhook

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	gatewaydomain "github.com/smallbiznis/paygate/internal/gatewayconfig/domain"
	obsmetrics "github.com/smallbiznis/paygate/internal/observability/metrics"
	"github.com/smallbiznis/paygate/internal/payment/adapters"
	"github.com/smallbiznis/paygate/internal/payment/domain"
	"github.com/smallbiznis/paygate/internal/payment/reconcile"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Repo     domain.Repository
	Registry *adapters.Registry
	Gateways gatewaydomain.Service
	Guard    *reconcile.Guard
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

// Service turns provider callbacks into guarded status changes.
type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	repo     domain.Repository
	registry *adapters.Registry
	gateways gatewaydomain.Service
	guard    *reconcile.Guard
	metrics  *obsmetrics.Metrics
}

var _ domain.NotificationService = (*Service)(nil)

func NewService(p Params) *Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("payment.webhook"),
		repo:     p.Repo,
		registry: p.Registry,
		gateways: p.Gateways,
		guard:    p.Guard,
		metrics:  p.Metrics,
	}
}

// candidate is one tenant credential set that authenticated a callback.
type candidate struct {
	orgID       snowflake.ID
	environment domain.Environment
	adapter     domain.Adapter
}

// IngestNotification authenticates a callback against the active configurations
// of the provider, maps every event it carries to a canonical status and applies
// each one to the charge it names. Unknown charges and unsupported shapes are
// acknowledged with an outcome instead of an error so providers stop
// redelivering them.
func (s *Service) IngestNotification(ctx context.Context, provider string, orgHint snowflake.ID, payload []byte, headers http.Header) (*domain.IngestResult, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if !s.registry.ProviderExists(provider) {
		return nil, domain.ErrProviderNotFound
	}

	candidates, err := s.candidates(ctx, provider, orgHint, payload, headers)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSignature) {
			s.metrics.RecordNotification(ctx, provider, "invalid_signature")
			s.log.Warn("notification signature rejected", zap.String("provider", provider))
		}
		return nil, err
	}

	result := &domain.IngestResult{Provider: provider}
	var lastErr error
	for _, c := range candidates {
		notifications, err := c.adapter.HandleNotification(ctx, payload)
		if err == nil && len(notifications) == 0 {
			err = domain.UnsupportedNotification(provider, "empty")
		}
		if err != nil {
			if errors.Is(err, domain.ErrUnsupportedNotification) {
				result.Outcome = domain.OutcomeUnsupported
				s.record(ctx, c.orgID, result, zap.Error(err))
				return result, nil
			}
			// Credentials of another environment or tenant may still resolve it.
			s.log.Debug("credential set could not handle notification",
				zap.String("provider", provider),
				zap.String("org_id", c.orgID.String()),
				zap.String("environment", string(c.environment)),
				zap.Error(err),
			)
			lastErr = err
			continue
		}
		return s.applyAll(ctx, c, result, notifications)
	}

	s.metrics.RecordNotification(ctx, provider, "error")
	s.log.Error("failed to handle notification",
		zap.String("provider", provider),
		zap.Int("credential_sets", len(candidates)),
		zap.Error(lastErr),
	)
	return nil, lastErr
}

// applyAll applies the notifications in order. Conflicts are collected so the
// rest of a batch still lands; any other failure stops the batch, and the
// provider's redelivery replays the applied items as duplicates.
func (s *Service) applyAll(ctx context.Context, c candidate, result *domain.IngestResult, notifications []domain.Notification) (*domain.IngestResult, error) {
	var conflicts []error
	for _, notification := range notifications {
		item := domain.IngestItem{ExternalReference: notification.ExternalReference, Status: notification.Status}

		charge, err := s.repo.FindByExternalReference(ctx, s.db, c.orgID, notification.ExternalReference)
		if err != nil {
			return nil, err
		}
		fields := []zap.Field{zap.String("environment", string(c.environment))}
		if charge == nil {
			item.Outcome = domain.OutcomeUnknownCharge
		} else {
			transition, err := s.guard.Apply(ctx, charge.OrgID, charge.ID, notification.Update())
			if err != nil && !errors.Is(err, domain.ErrReconciliationConflict) {
				return nil, err
			}
			if err != nil {
				conflicts = append(conflicts, err)
			}
			item.Outcome = transition.Outcome
			fields = append(fields, zap.String("charge_id", charge.ID.String()))
		}
		result.Items = append(result.Items, item)
		s.recordItem(ctx, c.orgID, result.Provider, item, fields...)
	}

	first := result.Items[0]
	result.ExternalReference = first.ExternalReference
	result.Status = first.Status
	result.Outcome = first.Outcome
	if len(conflicts) > 0 {
		result.Outcome = domain.OutcomeConflict
	}
	return result, errors.Join(conflicts...)
}

// candidates lists the active credential sets that authenticate the callback:
// per configuration the default environment first, then the other one, since
// a charge keeps the environment it was created in. Adapters without a
// verifier accept every callback.
func (s *Service) candidates(ctx context.Context, provider string, orgHint snowflake.ID, payload []byte, headers http.Header) ([]candidate, error) {
	configs, err := s.gateways.ListActive(ctx, provider, orgHint)
	if err != nil {
		return nil, err
	}
	if len(configs) == 0 {
		return nil, domain.ErrProviderNotFound
	}

	var out []candidate
	for i := range configs {
		cfg := &configs[i]
		primary := adapters.EnvironmentFor(cfg, "")
		for _, env := range []domain.Environment{primary, otherEnvironment(primary)} {
			adapter, err := s.registry.NewAdapter(cfg, env)
			if err != nil {
				s.log.Debug("skipping gateway credentials",
					zap.String("provider", provider),
					zap.String("org_id", cfg.OrgID.String()),
					zap.String("environment", string(env)),
					zap.Error(err),
				)
				continue
			}
			if verifier, ok := adapter.(domain.NotificationVerifier); ok {
				if err := verifier.VerifyNotification(ctx, payload, headers); err != nil {
					continue
				}
			}
			out = append(out, candidate{orgID: cfg.OrgID, environment: env, adapter: adapter})
		}
	}
	if len(out) == 0 {
		return nil, domain.ErrInvalidSignature
	}
	return out, nil
}

func otherEnvironment(env domain.Environment) domain.Environment {
	if env == domain.EnvironmentProduction {
		return domain.EnvironmentSandbox
	}
	return domain.EnvironmentProduction
}

func (s *Service) recordItem(ctx context.Context, orgID snowflake.ID, provider string, item domain.IngestItem, fields ...zap.Field) {
	s.record(ctx, orgID, &domain.IngestResult{
		Provider:          provider,
		Outcome:           item.Outcome,
		ExternalReference: item.ExternalReference,
		Status:            item.Status,
	}, fields...)
}

func (s *Service) record(ctx context.Context, orgID snowflake.ID, result *domain.IngestResult, fields ...zap.Field) {
	s.metrics.RecordNotification(ctx, result.Provider, string(result.Outcome))
	fields = append([]zap.Field{
		zap.String("provider", result.Provider),
		zap.String("org_id", orgID.String()),
		zap.String("external_reference", result.ExternalReference),
		zap.String("status", string(result.Status)),
		zap.String("outcome", string(result.Outcome)),
	}, fields...)
	switch result.Outcome {
	case domain.OutcomeConflict:
		s.log.Error("notification conflicts with charge state", fields...)
	case domain.OutcomeUnknownCharge, domain.OutcomeUnsupported:
		s.log.Warn("notification ignored", fields...)
	default:
		s.log.Info("notification processed", fields...)
	}
}
