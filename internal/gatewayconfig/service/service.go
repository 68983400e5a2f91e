package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paygate/internal/clock"
	"github.com/smallbiznis/paygate/internal/config"
	"github.com/smallbiznis/paygate/internal/gatewayconfig/domain"
	"github.com/smallbiznis/paygate/internal/orgcontext"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ProviderCatalog reports which providers have an adapter.
type ProviderCatalog interface {
	ProviderExists(provider string) bool
}

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Repo    domain.Repository
	Cfg     config.Config
	Catalog ProviderCatalog `optional:"true"`
	Clock   clock.Clock     `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	repo    domain.Repository
	genID   *snowflake.Node
	sealer  *sealer
	catalog ProviderCatalog
	clock   clock.Clock
}

func New(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("gatewayconfig.service"),
		repo:    p.Repo,
		genID:   p.GenID,
		sealer:  newSealer(p.Cfg.GatewayConfigSecret),
		catalog: p.Catalog,
		clock:   clk,
	}
}

func (s *Service) ListConfigs(ctx context.Context) ([]domain.ConfigSummary, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidOrganization
	}

	items, err := s.repo.ListConfigs(ctx, s.db, orgID)
	if err != nil {
		return nil, err
	}

	resp := make([]domain.ConfigSummary, 0, len(items))
	for _, item := range items {
		summary, err := s.summarize(&item)
		if err != nil {
			return nil, err
		}
		resp = append(resp, *summary)
	}
	return resp, nil
}

func (s *Service) GetConfig(ctx context.Context, provider string) (*domain.ConfigSummary, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidOrganization
	}
	provider, err := s.normalizeProvider(provider)
	if err != nil {
		return nil, err
	}

	item, err := s.repo.FindConfig(ctx, s.db, orgID, provider)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrNotFound
	}
	return s.summarize(item)
}

func (s *Service) UpsertConfig(ctx context.Context, req domain.UpsertRequest) (*domain.ConfigSummary, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidOrganization
	}
	provider, err := s.normalizeProvider(req.Provider)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.FindConfig(ctx, s.db, orgID, provider)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	cfg := domain.GatewayConfig{
		ID:                    s.genID.Generate(),
		OrgID:                 orgID,
		Provider:              provider,
		SandboxCredentials:    emptyEnvelope,
		ProductionCredentials: emptyEnvelope,
		IsSandbox:             true,
		IsActive:              true,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if existing != nil {
		cfg.ID = existing.ID
		cfg.SandboxCredentials = existing.SandboxCredentials
		cfg.ProductionCredentials = existing.ProductionCredentials
		cfg.IsSandbox = existing.IsSandbox
		cfg.IsActive = existing.IsActive
		cfg.CreatedAt = existing.CreatedAt
	}
	if req.IsSandbox != nil {
		cfg.IsSandbox = *req.IsSandbox
	}
	if req.IsActive != nil {
		cfg.IsActive = *req.IsActive
	}

	if req.Sandbox != nil {
		sealed, err := s.sealer.seal(normalizeCredentials(req.Sandbox))
		if err != nil {
			return nil, err
		}
		cfg.SandboxCredentials = sealed
	}
	if req.Production != nil {
		sealed, err := s.sealer.seal(normalizeCredentials(req.Production))
		if err != nil {
			return nil, err
		}
		cfg.ProductionCredentials = sealed
	}
	if existing == nil && isEmpty(cfg.SandboxCredentials) && isEmpty(cfg.ProductionCredentials) {
		return nil, domain.ErrInvalidConfig
	}

	if err := s.repo.UpsertConfig(ctx, s.db, &cfg); err != nil {
		return nil, err
	}

	action := "gateway_config.rotate_credentials"
	if existing == nil {
		action = "gateway_config.create"
	}
	s.log.Info(action,
		zap.String("org_id", orgID.String()),
		zap.String("provider", provider),
		zap.Bool("is_sandbox", cfg.IsSandbox),
		zap.Bool("is_active", cfg.IsActive),
	)

	if existing != nil {
		cfg.LastVerifiedAt = existing.LastVerifiedAt
	}
	return s.summarize(&cfg)
}

func (s *Service) SetActive(ctx context.Context, provider string, isActive bool) (*domain.ConfigSummary, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidOrganization
	}
	provider, err := s.normalizeProvider(provider)
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateStatus(ctx, s.db, orgID, provider, isActive, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, domain.ErrNotFound
	}

	s.log.Info("gateway_config.set_active",
		zap.String("org_id", orgID.String()),
		zap.String("provider", provider),
		zap.Bool("is_active", isActive),
	)
	return s.GetConfig(ctx, provider)
}

func (s *Service) Resolve(ctx context.Context, orgID snowflake.ID, provider string) (*domain.ResolvedConfig, error) {
	if orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return nil, domain.ErrInvalidProvider
	}

	item, err := s.repo.FindConfig(ctx, s.db, orgID, provider)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrNotFound
	}
	return s.resolve(item)
}

func (s *Service) ListActive(ctx context.Context, provider string, orgHint snowflake.ID) ([]domain.ResolvedConfig, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return nil, domain.ErrInvalidProvider
	}

	items, err := s.repo.ListActiveByProvider(ctx, s.db, provider, orgHint)
	if err != nil {
		return nil, err
	}

	out := make([]domain.ResolvedConfig, 0, len(items))
	for i := range items {
		resolved, err := s.resolve(&items[i])
		if err != nil {
			// One unreadable tenant row must not block the other tenants.
			s.log.Error("skip undecryptable gateway config",
				zap.String("org_id", items[i].OrgID.String()),
				zap.String("provider", provider),
				zap.Error(err),
			)
			continue
		}
		out = append(out, *resolved)
	}
	return out, nil
}

func (s *Service) MarkVerified(ctx context.Context, orgID snowflake.ID, provider string, at time.Time) error {
	updated, err := s.repo.UpdateVerified(ctx, s.db, orgID, strings.ToLower(strings.TrimSpace(provider)), at)
	if err != nil {
		return err
	}
	if !updated {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Service) normalizeProvider(provider string) (string, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return "", domain.ErrInvalidProvider
	}
	if s.catalog != nil && !s.catalog.ProviderExists(provider) {
		return "", domain.ErrInvalidProvider
	}
	return provider, nil
}

func (s *Service) resolve(item *domain.GatewayConfig) (*domain.ResolvedConfig, error) {
	sandbox, err := s.sealer.open(item.SandboxCredentials)
	if err != nil {
		return nil, err
	}
	production, err := s.sealer.open(item.ProductionCredentials)
	if err != nil {
		return nil, err
	}
	return &domain.ResolvedConfig{
		ID:             item.ID,
		OrgID:          item.OrgID,
		Provider:       item.Provider,
		IsSandbox:      item.IsSandbox,
		IsActive:       item.IsActive,
		Sandbox:        sandbox,
		Production:     production,
		LastVerifiedAt: item.LastVerifiedAt,
	}, nil
}

func (s *Service) summarize(item *domain.GatewayConfig) (*domain.ConfigSummary, error) {
	resolved, err := s.resolve(item)
	if err != nil {
		return nil, err
	}
	return &domain.ConfigSummary{
		Provider:             resolved.Provider,
		IsSandbox:            resolved.IsSandbox,
		IsActive:             resolved.IsActive,
		SandboxConfigured:    len(resolved.Sandbox) > 0,
		ProductionConfigured: len(resolved.Production) > 0,
		SandboxKeys:          sortedKeys(resolved.Sandbox),
		ProductionKeys:       sortedKeys(resolved.Production),
		LastVerifiedAt:       resolved.LastVerifiedAt,
	}, nil
}

func isEmpty(raw []byte) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed == "" || trimmed == "{}" || trimmed == "null"
}

func sortedKeys(values map[string]string) []string {
	if len(values) == 0 {
		return nil
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
