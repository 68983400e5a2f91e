package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cenkalti/backoff/v5"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/paygate/internal/authorization"
	"github.com/smallbiznis/paygate/internal/clock"
	"github.com/smallbiznis/paygate/internal/config"
	gatewaydomain "github.com/smallbiznis/paygate/internal/gatewayconfig/domain"
	"github.com/smallbiznis/paygate/internal/locker"
	obsmetrics "github.com/smallbiznis/paygate/internal/observability/metrics"
	"github.com/smallbiznis/paygate/internal/orgcontext"
	"github.com/smallbiznis/paygate/internal/payment/adapters"
	"github.com/smallbiznis/paygate/internal/payment/domain"
	"github.com/smallbiznis/paygate/internal/payment/qrcode"
	"github.com/smallbiznis/paygate/internal/payment/reconcile"
	pkgdb "github.com/smallbiznis/paygate/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Cfg          config.Config
	Repo         domain.Repository
	Registry     *adapters.Registry
	Gateways     gatewaydomain.Service
	Guard        *reconcile.Guard
	Transactions domain.TransactionStore `optional:"true"`
	References   []domain.ReferenceStore `group:"reference_stores"`
	Policy       *config.PolicyHolder    `optional:"true"`
	Locker       *locker.Locker          `optional:"true"`
	Authz        authorization.Service   `optional:"true"`
	Metrics      *obsmetrics.Metrics     `optional:"true"`
	Clock        clock.Clock             `optional:"true"`
}

// Service is the charge orchestrator.
type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	repo          domain.Repository
	registry      *adapters.Registry
	gateways      gatewaydomain.Service
	guard         *reconcile.Guard
	transactions  domain.TransactionStore
	references    map[string]domain.ReferenceStore
	policy        *config.PolicyHolder
	locker        *locker.Locker
	authz         authorization.Service
	metrics       *obsmetrics.Metrics
	clock         clock.Clock
	publicBaseURL string
}

func NewService(p Params) *Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	policy := p.Policy
	if policy == nil {
		policy = config.NewStaticPolicyHolder(config.DefaultGatewayPolicy())
	}
	references := make(map[string]domain.ReferenceStore, len(p.References))
	for _, store := range p.References {
		if store != nil {
			references[store.ReferenceType()] = store
		}
	}
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("payment.service"),
		genID:         p.GenID,
		repo:          p.Repo,
		registry:      p.Registry,
		gateways:      p.Gateways,
		guard:         p.Guard,
		transactions:  p.Transactions,
		references:    references,
		policy:        policy,
		locker:        p.Locker,
		authz:         p.Authz,
		metrics:       p.Metrics,
		clock:         clk,
		publicBaseURL: strings.TrimRight(strings.TrimSpace(p.Cfg.PublicBaseURL), "/"),
	}
}

var _ domain.Service = (*Service)(nil)

// errPendingReserved marks a lost race on the pending-per-reference index.
var errPendingReserved = errors.New("pending charge reserved concurrently")

// CreateCharge opens a charge at the provider for a business reference. At most
// one pending charge exists per reference; a second attempt gets a
// *domain.ReconciliationConflict carrying the existing charge.
func (s *Service) CreateCharge(ctx context.Context, input domain.CreateChargeInput) (*domain.Charge, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidOrganization
	}

	provider := strings.ToLower(strings.TrimSpace(input.Provider))
	ref := domain.BusinessReference{
		Type: strings.ToLower(strings.TrimSpace(input.Reference.Type)),
		ID:   strings.TrimSpace(input.Reference.ID),
	}
	if err := validateReference(provider, ref); err != nil {
		return nil, err
	}

	policy := s.policy.Get()
	req := input.Request
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if req.Currency == "" {
		req.Currency = policy.Currency
	}
	req.ExternalReference = strings.TrimSpace(req.ExternalReference)
	callerReference := req.ExternalReference != ""
	if !callerReference {
		req.ExternalReference = ref.ID + "-" + ulid.Make().String()
	}
	if req.Method == "" {
		req.Method = domain.MethodAny
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := s.ensureReference(ctx, orgID, ref); err != nil {
		return nil, err
	}
	// A pending charge is reported even when the gateway can no longer open new ones.
	existing, err := s.repo.FindPending(ctx, s.db, orgID, ref)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, &domain.ReconciliationConflict{Reason: domain.ConflictDuplicatePending, Charge: existing, Incoming: domain.StatusPending}
	}

	cfg, err := s.resolveGateway(ctx, orgID, provider, true)
	if err != nil {
		return nil, err
	}
	adapter, err := s.registry.NewAdapter(cfg, input.Environment)
	if err != nil {
		return nil, err
	}
	env := adapters.EnvironmentFor(cfg, input.Environment)
	if req.NotificationURL == "" {
		req.NotificationURL = s.notificationURL(provider, orgID)
	}

	lockKey := locker.ChargeKey(orgID.String(), ref.Type, ref.ID)
	token, acquired, err := s.locker.TryLock(ctx, lockKey)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, domain.ErrCreationInProgress
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), lockKey, token); err != nil {
			s.log.Warn("failed to release charge lock", zap.String("key", lockKey), zap.Error(err))
		}
	}()

	now := s.clock.Now()
	charge := &domain.Charge{
		ID:                s.genID.Generate(),
		OrgID:             orgID,
		Provider:          provider,
		Environment:       env,
		Amount:            req.Amount,
		Currency:          req.Currency,
		Description:       strings.TrimSpace(req.Description),
		ExternalReference: req.ExternalReference,
		PaymentMethod:     req.Method,
		Status:            domain.StatusPending,
		ReferenceType:     ref.Type,
		ReferenceID:       ref.ID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	var result *domain.ChargeResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindPending(ctx, tx, orgID, ref)
		if err != nil {
			return err
		}
		if existing != nil {
			return &domain.ReconciliationConflict{Reason: domain.ConflictDuplicatePending, Charge: existing, Incoming: domain.StatusPending}
		}

		// The reservation row holds the pending slot while the provider is called.
		if err := s.repo.Insert(ctx, tx, charge); err != nil {
			if pkgdb.IsDuplicateKeyErr(err) {
				return errPendingReserved
			}
			return err
		}

		result = s.createWithRetry(ctx, adapter, provider, req, policy.Retry)
		if !result.Success {
			return &domain.ProviderRequestError{Provider: provider, Result: result}
		}

		s.applyArtifacts(charge, result)
		charge.UpdatedAt = s.clock.Now()
		if err := s.repo.UpdateArtifacts(ctx, tx, charge); err != nil {
			return err
		}

		if input.CreateTransaction && s.transactions != nil {
			txID, err := s.transactions.CreatePending(ctx, tx, charge)
			if err != nil {
				return err
			}
			if err := s.repo.SetTransaction(ctx, tx, charge.ID, txID); err != nil {
				return err
			}
			charge.TransactionID = &txID
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errPendingReserved) {
			return nil, s.insertConflict(ctx, orgID, ref, req.ExternalReference, callerReference)
		}
		var providerErr *domain.ProviderRequestError
		if errors.As(err, &providerErr) {
			s.metrics.RecordChargeCreated(ctx, provider, string(req.Method), "failed")
			s.log.Warn("provider rejected charge",
				zap.String("provider", provider),
				zap.String("org_id", orgID.String()),
				zap.String("reference", ref.String()),
				zap.String("external_reference", req.ExternalReference),
				zap.String("message", providerErr.Result.Message),
			)
		}
		return nil, err
	}

	s.metrics.RecordChargeCreated(ctx, provider, string(req.Method), string(result.Status))
	s.log.Info("charge created",
		zap.String("charge_id", charge.ID.String()),
		zap.String("provider", provider),
		zap.String("environment", string(env)),
		zap.String("org_id", orgID.String()),
		zap.String("reference", ref.String()),
		zap.String("status", string(result.Status)),
	)

	// Some providers settle synchronously; route that through the guard so the cascades run.
	if result.Status.IsTerminal() {
		transition, err := s.guard.Apply(ctx, orgID, charge.ID, statusUpdate(result))
		if err != nil {
			return nil, err
		}
		return transition.Charge, nil
	}
	return charge, nil
}

func (s *Service) GetCharge(ctx context.Context, id snowflake.ID) (*domain.Charge, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidOrganization
	}
	charge, err := s.repo.FindByID(ctx, s.db, orgID, id)
	if err != nil {
		return nil, err
	}
	if charge == nil {
		return nil, domain.ErrChargeNotFound
	}
	return charge, nil
}

func (s *Service) ListCharges(ctx context.Context, ref domain.BusinessReference) ([]domain.Charge, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidOrganization
	}
	ref.Type = strings.ToLower(strings.TrimSpace(ref.Type))
	ref.ID = strings.TrimSpace(ref.ID)
	if ref.Type == "" || ref.ID == "" {
		return nil, &domain.ValidationError{Fields: []string{"reference_type", "reference_id"}, Message: "reference is required"}
	}
	return s.repo.ListByReference(ctx, s.db, orgID, ref)
}

// RefreshStatus asks the provider for the charge's current status and applies
// it exactly like a notification would.
func (s *Service) RefreshStatus(ctx context.Context, id snowflake.ID) (*domain.Transition, error) {
	charge, err := s.GetCharge(ctx, id)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(charge.ProviderPaymentID) == "" {
		return nil, &domain.ValidationError{Fields: []string{"provider_payment_id"}, Message: "charge has no provider payment id"}
	}

	cfg, err := s.resolveGateway(ctx, charge.OrgID, charge.Provider, false)
	if err != nil {
		return nil, err
	}
	adapter, err := s.registry.NewAdapter(cfg, charge.Environment)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := adapter.GetPaymentStatus(ctx, charge.ProviderPaymentID)
	s.metrics.ObserveProviderCall(ctx, charge.Provider, "get_payment_status", callOutcome(err == nil, domain.IsTimeout(err)), time.Since(start))
	if err != nil {
		return nil, err
	}
	return s.guard.Apply(ctx, charge.OrgID, charge.ID, statusUpdate(result))
}

// CancelCharge retires a pending charge so the reference can be charged again.
func (s *Service) CancelCharge(ctx context.Context, id snowflake.ID) (*domain.Transition, error) {
	charge, err := s.GetCharge(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.guard.Cancel(ctx, charge.OrgID, charge.ID)
}

// ResetCharge is the only way out of a terminal status and needs the charge.reset permission.
func (s *Service) ResetCharge(ctx context.Context, id snowflake.ID, actor string) (*domain.Charge, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidOrganization
	}
	if s.authz == nil {
		return nil, domain.ErrPrivilegeRequired
	}
	if err := s.authz.Authorize(ctx, actor, orgID, authorization.ObjectCharge, authorization.ActionChargeReset); err != nil {
		return nil, errors.Join(domain.ErrPrivilegeRequired, err)
	}

	transition, err := s.guard.Reset(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	s.log.Info("charge reset",
		zap.String("charge_id", id.String()),
		zap.String("org_id", orgID.String()),
		zap.String("actor", actor),
		zap.String("outcome", string(transition.Outcome)),
	)
	return transition.Charge, nil
}

// TestConnection checks the stored credentials against the provider and stamps last_verified_at on success.
func (s *Service) TestConnection(ctx context.Context, provider string, env domain.Environment) (*domain.ConnectionResult, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidOrganization
	}
	provider = strings.ToLower(strings.TrimSpace(provider))

	cfg, err := s.resolveGateway(ctx, orgID, provider, false)
	if err != nil {
		return nil, err
	}
	adapter, err := s.registry.NewAdapter(cfg, env)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result := adapter.TestConnection(ctx)
	s.metrics.ObserveProviderCall(ctx, provider, "test_connection", callOutcome(result.Success, false), time.Since(start))
	if result.Success {
		if err := s.gateways.MarkVerified(ctx, orgID, provider, s.clock.Now()); err != nil {
			s.log.Warn("failed to stamp gateway verification", zap.String("provider", provider), zap.Error(err))
		}
	}
	return &result, nil
}

func (s *Service) createWithRetry(ctx context.Context, adapter domain.Adapter, provider string, req domain.ChargeRequest, retry config.RetryPolicy) *domain.ChargeResult {
	maxAttempts := retry.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 1
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retry.InitialInterval
	b.MaxInterval = retry.MaxInterval

	var last *domain.ChargeResult
	attempt := 0
	result, err := backoff.Retry(ctx, func() (*domain.ChargeResult, error) {
		attempt++
		start := time.Now()
		res := adapter.CreateCharge(ctx, req)
		if res == nil {
			res = domain.Failed("empty provider response", false)
		}
		s.metrics.ObserveProviderCall(ctx, provider, "create_charge", callOutcome(res.Success, res.Retryable), time.Since(start))
		if !res.Success && res.Retryable {
			last = res
			s.log.Warn("retryable provider failure",
				zap.String("provider", provider),
				zap.String("external_reference", req.ExternalReference),
				zap.Int("attempt", attempt),
				zap.String("message", res.Message),
			)
			return nil, errors.New(res.Message)
		}
		return res, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(maxAttempts))
	if err != nil {
		if last != nil {
			return last
		}
		return domain.Failed(err.Error(), domain.IsTimeout(err))
	}
	return result
}

func (s *Service) applyArtifacts(charge *domain.Charge, result *domain.ChargeResult) {
	charge.ProviderPaymentID = result.ProviderPaymentID
	charge.ProviderStatus = result.ProviderStatus
	charge.PaymentLink = result.PaymentLink
	charge.QRCode = result.QRCode
	charge.QRCodeImage = result.QRCodeImage
	if charge.QRCode != "" && charge.QRCodeImage == "" {
		image, err := qrcode.PNGBase64(charge.QRCode, qrcode.DefaultSize)
		if err != nil {
			s.log.Warn("failed to render qr code", zap.String("charge_id", charge.ID.String()), zap.Error(err))
			return
		}
		charge.QRCodeImage = image
	}
}

func (s *Service) resolveGateway(ctx context.Context, orgID snowflake.ID, provider string, requireActive bool) (*gatewaydomain.ResolvedConfig, error) {
	if !s.registry.ProviderExists(provider) {
		return nil, domain.ErrProviderNotFound
	}
	cfg, err := s.gateways.Resolve(ctx, orgID, provider)
	if err != nil {
		if errors.Is(err, gatewaydomain.ErrNotFound) {
			return nil, &domain.ConfigurationError{Provider: provider, Reason: "gateway is not configured"}
		}
		return nil, err
	}
	if requireActive && !cfg.IsActive {
		return nil, &domain.ConfigurationError{Provider: provider, Reason: "gateway is inactive"}
	}
	return cfg, nil
}

func (s *Service) ensureReference(ctx context.Context, orgID snowflake.ID, ref domain.BusinessReference) error {
	store, ok := s.references[ref.Type]
	if !ok {
		return nil
	}
	exists, err := store.Exists(ctx, s.db, orgID, ref.ID)
	if err != nil {
		return err
	}
	if !exists {
		return &domain.ValidationError{Fields: []string{"reference.id"}, Message: fmt.Sprintf("unknown %s", ref.Type)}
	}
	return nil
}

// insertConflict explains a unique violation on the reservation insert. Only a
// committed pending charge is reported as duplicate_pending.
func (s *Service) insertConflict(ctx context.Context, orgID snowflake.ID, ref domain.BusinessReference, externalReference string, callerReference bool) error {
	existing, err := s.repo.FindPending(ctx, s.db, orgID, ref)
	if err != nil {
		return err
	}
	if existing != nil {
		return &domain.ReconciliationConflict{Reason: domain.ConflictDuplicatePending, Charge: existing, Incoming: domain.StatusPending}
	}
	if callerReference {
		s.log.Warn("external reference already used",
			zap.String("org_id", orgID.String()),
			zap.String("reference", ref.String()),
			zap.String("external_reference", externalReference),
		)
		return &domain.ValidationError{Fields: []string{"external_reference"}, Message: "external reference already used"}
	}
	return domain.ErrCreationInProgress
}

func statusUpdate(result *domain.ChargeResult) domain.StatusUpdate {
	return domain.StatusUpdate{
		Status:            result.Status,
		ProviderStatus:    result.ProviderStatus,
		ProviderPaymentID: result.ProviderPaymentID,
	}
}

func (s *Service) notificationURL(provider string, orgID snowflake.ID) string {
	if s.publicBaseURL == "" {
		return ""
	}
	return s.publicBaseURL + "/webhooks/" + url.PathEscape(provider) + "?org_id=" + orgID.String()
}

func validateReference(provider string, ref domain.BusinessReference) error {
	var missing []string
	if provider == "" {
		missing = append(missing, "provider")
	}
	if ref.Type == "" {
		missing = append(missing, "reference.type")
	}
	if ref.ID == "" {
		missing = append(missing, "reference.id")
	}
	if len(missing) > 0 {
		return &domain.ValidationError{Fields: missing, Message: "missing or invalid fields"}
	}
	return nil
}

func callOutcome(success, timeout bool) string {
	switch {
	case success:
		return "success"
	case timeout:
		return "timeout"
	default:
		return "failure"
	}
}
