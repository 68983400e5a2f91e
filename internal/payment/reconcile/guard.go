package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paygate/internal/clock"
	obsmetrics "github.com/smallbiznis/paygate/internal/observability/metrics"
	"github.com/smallbiznis/paygate/internal/payment/domain"
	pkgdb "github.com/smallbiznis/paygate/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// maxCASAttempts bounds re-reads when a concurrent writer moves the charge first.
const maxCASAttempts = 3

const providerStatusCancelled = "cancelled_by_caller"
const providerStatusReset = "reset"

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	Repo         domain.Repository
	Transactions domain.TransactionStore `optional:"true"`
	References   []domain.ReferenceStore `group:"reference_stores"`
	Metrics      *obsmetrics.Metrics     `optional:"true"`
	Clock        clock.Clock             `optional:"true"`
}

// Guard applies status changes to persisted charges together with their
// cascades in one database transaction.
type Guard struct {
	db           *gorm.DB
	log          *zap.Logger
	repo         domain.Repository
	transactions domain.TransactionStore
	references   map[string]domain.ReferenceStore
	metrics      *obsmetrics.Metrics
	clock        clock.Clock
}

func NewGuard(p Params) *Guard {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	references := make(map[string]domain.ReferenceStore, len(p.References))
	for _, store := range p.References {
		if store != nil {
			references[store.ReferenceType()] = store
		}
	}
	return &Guard{
		db:           p.DB,
		log:          p.Log.Named("payment.reconcile"),
		repo:         p.Repo,
		transactions: p.Transactions,
		references:   references,
		metrics:      p.Metrics,
		clock:        clk,
	}
}

// Apply merges update into the charge identified by orgID and chargeID.
// A conflict returns the Transition and a *domain.ReconciliationConflict.
func (g *Guard) Apply(ctx context.Context, orgID, chargeID snowflake.ID, update domain.StatusUpdate) (*domain.Transition, error) {
	incoming := update.Status
	if !incoming.Valid() {
		return nil, domain.ErrInvalidCharge
	}

	var transition *domain.Transition
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for attempt := 0; attempt < maxCASAttempts; attempt++ {
			charge, err := g.repo.FindByID(ctx, tx, orgID, chargeID)
			if err != nil {
				return err
			}
			if charge == nil {
				return domain.ErrChargeNotFound
			}

			next, outcome := Merge(charge.Status, incoming)
			transition = &domain.Transition{Charge: charge, From: charge.Status, To: next, Outcome: outcome}
			if outcome == domain.OutcomeStale || outcome == domain.OutcomeConflict {
				return nil
			}

			now := g.clock.Now()
			if err := g.adoptPaymentID(ctx, tx, charge, update.ProviderPaymentID, now); err != nil {
				return err
			}
			if outcome != domain.OutcomeApplied {
				return nil
			}

			changed, err := g.repo.CompareAndSetStatus(ctx, tx, charge.ID, charge.Status, next, update.ProviderStatus, now)
			if err != nil {
				return err
			}
			if !changed {
				continue
			}
			charge.Status = next
			charge.ProviderStatus = update.ProviderStatus
			charge.StatusChangedAt = &now
			charge.UpdatedAt = now

			if next == domain.StatusApproved {
				return g.cascadeApproved(ctx, tx, charge)
			}
			return nil
		}
		return errors.New("charge status changed concurrently")
	})
	if err != nil {
		return nil, err
	}

	g.observe(ctx, transition, incoming)
	if transition.Outcome == domain.OutcomeConflict {
		return transition, &domain.ReconciliationConflict{
			Reason:   domain.ConflictTerminalState,
			Charge:   transition.Charge,
			Incoming: incoming,
		}
	}
	return transition, nil
}

// adoptPaymentID stores the payment a provider opened behind a hosted
// checkout, so later polls ask about the payment instead of the checkout.
func (g *Guard) adoptPaymentID(ctx context.Context, tx *gorm.DB, charge *domain.Charge, providerPaymentID string, at time.Time) error {
	if providerPaymentID == "" || providerPaymentID == charge.ProviderPaymentID || charge.Status != domain.StatusPending {
		return nil
	}
	changed, err := g.repo.SetProviderPaymentID(ctx, tx, charge.ID, providerPaymentID, at)
	if err != nil {
		return err
	}
	if changed {
		g.log.Info("provider payment id updated",
			zap.String("charge_id", charge.ID.String()),
			zap.String("previous", charge.ProviderPaymentID),
			zap.String("provider_payment_id", providerPaymentID),
		)
		charge.ProviderPaymentID = providerPaymentID
		charge.UpdatedAt = at
	}
	return nil
}

// Cancel retires a pending charge so a new one can be created for its reference.
func (g *Guard) Cancel(ctx context.Context, orgID, chargeID snowflake.ID) (*domain.Transition, error) {
	return g.Apply(ctx, orgID, chargeID, domain.StatusUpdate{Status: domain.StatusCancelled, ProviderStatus: providerStatusCancelled})
}

// Reset moves a terminal charge back to pending and undoes the cascades its
// approval caused. Callers authorize the actor first.
func (g *Guard) Reset(ctx context.Context, orgID, chargeID snowflake.ID) (*domain.Transition, error) {
	var transition *domain.Transition
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		charge, err := g.repo.FindByID(ctx, tx, orgID, chargeID)
		if err != nil {
			return err
		}
		if charge == nil {
			return domain.ErrChargeNotFound
		}
		if !charge.Status.IsTerminal() {
			transition = &domain.Transition{Charge: charge, From: charge.Status, To: charge.Status, Outcome: domain.OutcomeDuplicate}
			return nil
		}

		pending, err := g.repo.FindPending(ctx, tx, orgID, charge.Reference())
		if err != nil {
			return err
		}
		if pending != nil {
			return &domain.ReconciliationConflict{Reason: domain.ConflictDuplicatePending, Charge: pending, Incoming: domain.StatusPending}
		}

		previous := charge.Status
		now := g.clock.Now()
		changed, err := g.repo.CompareAndSetStatus(ctx, tx, charge.ID, previous, domain.StatusPending, providerStatusReset, now)
		if err != nil {
			if pkgdb.IsDuplicateKeyErr(err) {
				return &domain.ReconciliationConflict{Reason: domain.ConflictDuplicatePending, Charge: charge, Incoming: domain.StatusPending}
			}
			return err
		}
		if !changed {
			return errors.New("charge status changed concurrently")
		}
		charge.Status = domain.StatusPending
		charge.ProviderStatus = providerStatusReset
		charge.StatusChangedAt = &now
		charge.UpdatedAt = now
		transition = &domain.Transition{Charge: charge, From: previous, To: domain.StatusPending, Outcome: domain.OutcomeApplied}

		if previous == domain.StatusApproved {
			return g.cascadeReset(ctx, tx, charge)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if transition.Outcome == domain.OutcomeApplied {
		g.metrics.RecordTransition(ctx, string(transition.From), string(transition.To))
		g.log.Warn("charge reset to pending",
			zap.String("charge_id", transition.Charge.ID.String()),
			zap.String("org_id", orgID.String()),
			zap.String("from", string(transition.From)),
		)
	}
	return transition, nil
}

func (g *Guard) cascadeApproved(ctx context.Context, tx *gorm.DB, charge *domain.Charge) error {
	if charge.TransactionID != nil && g.transactions != nil {
		if err := g.transactions.Settle(ctx, tx, *charge.TransactionID); err != nil {
			return err
		}
	}
	if store, ok := g.references[charge.ReferenceType]; ok {
		if err := store.MarkPaid(ctx, tx, charge.OrgID, charge.ReferenceID); err != nil {
			return err
		}
	}
	return nil
}

func (g *Guard) cascadeReset(ctx context.Context, tx *gorm.DB, charge *domain.Charge) error {
	if charge.TransactionID != nil && g.transactions != nil {
		if err := g.transactions.Reopen(ctx, tx, *charge.TransactionID); err != nil {
			return err
		}
	}
	if store, ok := g.references[charge.ReferenceType]; ok {
		if err := store.MarkUnpaid(ctx, tx, charge.OrgID, charge.ReferenceID); err != nil {
			return err
		}
	}
	return nil
}

func (g *Guard) observe(ctx context.Context, transition *domain.Transition, incoming domain.Status) {
	fields := []zap.Field{
		zap.String("charge_id", transition.Charge.ID.String()),
		zap.String("org_id", transition.Charge.OrgID.String()),
		zap.String("provider", transition.Charge.Provider),
		zap.String("current", string(transition.From)),
		zap.String("incoming", string(incoming)),
	}
	switch transition.Outcome {
	case domain.OutcomeApplied:
		g.metrics.RecordTransition(ctx, string(transition.From), string(transition.To))
		g.log.Info("charge status applied", fields...)
	case domain.OutcomeDuplicate:
		g.log.Debug("charge status unchanged", fields...)
	case domain.OutcomeStale:
		g.log.Info("stale pending status ignored for terminal charge", fields...)
	case domain.OutcomeConflict:
		g.log.Error("reconciliation conflict: terminal charge received a different terminal status", fields...)
	}
}
