package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paygate/internal/clock"
	ledgerdomain "github.com/smallbiznis/paygate/internal/ledger/domain"
	paymentdomain "github.com/smallbiznis/paygate/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock `optional:"true"`
}

// Service keeps accounting transactions in step with their charges. Every
// write runs on the caller's transaction so it commits or rolls back with the
// charge update that caused it.
type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewService(p Params) *Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("ledger.service"),
		genID: p.GenID,
		clock: clk,
	}
}

// CreatePending records a pending transaction for the charge. A charge has at
// most one transaction; a repeat returns the existing id.
func (s *Service) CreatePending(ctx context.Context, tx *gorm.DB, charge *paymentdomain.Charge) (snowflake.ID, error) {
	if charge == nil || charge.ID == 0 {
		return 0, ledgerdomain.ErrInvalidCharge
	}
	if charge.OrgID == 0 {
		return 0, ledgerdomain.ErrInvalidOrganization
	}
	if !charge.Amount.IsPositive() {
		return 0, ledgerdomain.ErrInvalidAmount
	}

	now := s.clock.Now()
	id := s.genID.Generate()
	result := tx.WithContext(ctx).Exec(
		`INSERT INTO accounting_transactions (
			id, org_id, charge_id, amount, currency, description, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (charge_id) DO NOTHING`,
		id,
		charge.OrgID,
		charge.ID,
		charge.Amount,
		charge.Currency,
		charge.Description,
		string(ledgerdomain.TransactionStatusPending),
		now,
		now,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected == 0 {
		existing, err := s.findByCharge(ctx, tx, charge.ID)
		if err != nil {
			return 0, err
		}
		return existing.ID, nil
	}

	s.log.Info("accounting transaction created",
		zap.String("transaction_id", id.String()),
		zap.String("charge_id", charge.ID.String()),
		zap.String("org_id", charge.OrgID.String()),
	)
	return id, nil
}

// Settle moves a pending transaction to settled. Settling twice is a no-op.
func (s *Service) Settle(ctx context.Context, tx *gorm.DB, id snowflake.ID) error {
	now := s.clock.Now()
	return s.move(ctx, tx, id, ledgerdomain.TransactionStatusPending, ledgerdomain.TransactionStatusSettled, &now)
}

// Reopen returns a settled transaction to pending after a privileged charge reset.
func (s *Service) Reopen(ctx context.Context, tx *gorm.DB, id snowflake.ID) error {
	return s.move(ctx, tx, id, ledgerdomain.TransactionStatusSettled, ledgerdomain.TransactionStatusPending, nil)
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*ledgerdomain.Transaction, error) {
	return s.find(ctx, s.db, id)
}

func (s *Service) move(ctx context.Context, tx *gorm.DB, id snowflake.ID, from, to ledgerdomain.TransactionStatus, settledAt *time.Time) error {
	result := tx.WithContext(ctx).Exec(
		`UPDATE accounting_transactions
		 SET status = ?, settled_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(to),
		settledAt,
		s.clock.Now(),
		id,
		string(from),
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		s.log.Info("accounting transaction moved",
			zap.String("transaction_id", id.String()),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
		)
		return nil
	}

	// Zero rows: either already in the target state or missing.
	current, err := s.find(ctx, tx, id)
	if err != nil {
		return err
	}
	if current.Status != to {
		s.log.Warn("accounting transaction in unexpected state",
			zap.String("transaction_id", id.String()),
			zap.String("status", string(current.Status)),
			zap.String("wanted", string(to)),
		)
	}
	return nil
}

const transactionColumns = `id, org_id, charge_id, amount, currency, description, status, settled_at, created_at, updated_at`

func (s *Service) find(ctx context.Context, db *gorm.DB, id snowflake.ID) (*ledgerdomain.Transaction, error) {
	var item ledgerdomain.Transaction
	err := db.WithContext(ctx).Raw(
		`SELECT `+transactionColumns+`
		 FROM accounting_transactions
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, ledgerdomain.ErrNotFound
	}
	return &item, nil
}

func (s *Service) findByCharge(ctx context.Context, db *gorm.DB, chargeID snowflake.ID) (*ledgerdomain.Transaction, error) {
	var item ledgerdomain.Transaction
	err := db.WithContext(ctx).Raw(
		`SELECT `+transactionColumns+`
		 FROM accounting_transactions
		 WHERE charge_id = ?
		 LIMIT 1`,
		chargeID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, ledgerdomain.ErrNotFound
	}
	return &item, nil
}
