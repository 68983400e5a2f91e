// Package quote exposes quotes as the business reference charges are collected for.
package quote

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paygate/internal/clock"
	"github.com/smallbiznis/paygate/internal/quote/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock `optional:"true"`
}

type Store struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
}

func NewStore(p Params) *Store {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	return &Store{db: p.DB, log: p.Log.Named("quote.store"), clock: clk}
}

func (s *Store) ReferenceType() string {
	return domain.ReferenceType
}

func (s *Store) Exists(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, id string) (bool, error) {
	quoteID, err := parseID(id)
	if err != nil {
		return false, nil
	}
	var count int64
	if err := tx.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM quotes WHERE org_id = ? AND id = ?`,
		orgID,
		quoteID,
	).Scan(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// MarkPaid records that an approved charge covered the quote.
func (s *Store) MarkPaid(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, id string) error {
	now := s.clock.Now()
	return s.setPaymentStatus(ctx, tx, orgID, id, domain.PaymentStatusPaid, &now)
}

// MarkUnpaid undoes MarkPaid after a privileged charge reset.
func (s *Store) MarkUnpaid(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, id string) error {
	return s.setPaymentStatus(ctx, tx, orgID, id, domain.PaymentStatusUnpaid, nil)
}

func (s *Store) Get(ctx context.Context, orgID snowflake.ID, id string) (*domain.Quote, error) {
	quoteID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	var item domain.Quote
	if err := s.db.WithContext(ctx).Raw(
		`SELECT id, org_id, number, customer_name, total, payment_status, paid_at, created_at, updated_at
		 FROM quotes
		 WHERE org_id = ? AND id = ?
		 LIMIT 1`,
		orgID,
		quoteID,
	).Scan(&item).Error; err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, domain.ErrNotFound
	}
	return &item, nil
}

func (s *Store) setPaymentStatus(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, id string, status domain.PaymentStatus, paidAt *time.Time) error {
	quoteID, err := parseID(id)
	if err != nil {
		return err
	}
	result := tx.WithContext(ctx).Exec(
		`UPDATE quotes
		 SET payment_status = ?, paid_at = ?, updated_at = ?
		 WHERE org_id = ? AND id = ?`,
		string(status),
		paidAt,
		s.clock.Now(),
		orgID,
		quoteID,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	s.log.Info("quote payment status updated",
		zap.String("org_id", orgID.String()),
		zap.String("quote_id", quoteID.String()),
		zap.String("payment_status", string(status)),
	)
	return nil
}

func parseID(id string) (snowflake.ID, error) {
	quoteID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || quoteID == 0 {
		return 0, domain.ErrInvalidQuote
	}
	return quoteID, nil
}
