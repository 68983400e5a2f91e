package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paygate/internal/payment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const chargeColumns = `id, org_id, provider, environment, provider_payment_id, amount, currency,
	description, external_reference, payment_method, status, provider_status,
	payment_link, qr_code, qr_code_image, reference_type, reference_id,
	transaction_id, status_changed_at, last_polled_at, created_at, updated_at`

// Insert writes a new charge. Nullable text columns are written as empty
// strings so reads never meet NULL.
func (r *repo) Insert(ctx context.Context, db *gorm.DB, charge *domain.Charge) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO charges (
			id, org_id, provider, environment, provider_payment_id, amount, currency,
			description, external_reference, payment_method, status, provider_status,
			payment_link, qr_code, qr_code_image, reference_type, reference_id,
			transaction_id, status_changed_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		charge.ID,
		charge.OrgID,
		charge.Provider,
		string(charge.Environment),
		charge.ProviderPaymentID,
		charge.Amount,
		charge.Currency,
		charge.Description,
		charge.ExternalReference,
		string(charge.PaymentMethod),
		string(charge.Status),
		charge.ProviderStatus,
		charge.PaymentLink,
		charge.QRCode,
		charge.QRCodeImage,
		charge.ReferenceType,
		charge.ReferenceID,
		charge.TransactionID,
		charge.StatusChangedAt,
		charge.CreatedAt,
		charge.UpdatedAt,
	).Error
}

func (r *repo) UpdateArtifacts(ctx context.Context, db *gorm.DB, charge *domain.Charge) error {
	return db.WithContext(ctx).Exec(
		`UPDATE charges
		 SET provider_payment_id = ?, provider_status = ?, payment_link = ?,
			qr_code = ?, qr_code_image = ?, updated_at = ?
		 WHERE id = ?`,
		charge.ProviderPaymentID,
		charge.ProviderStatus,
		charge.PaymentLink,
		charge.QRCode,
		charge.QRCodeImage,
		charge.UpdatedAt,
		charge.ID,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Charge, error) {
	return r.findOne(ctx, db,
		`SELECT `+chargeColumns+`
		 FROM charges
		 WHERE org_id = ? AND id = ?
		 LIMIT 1`,
		orgID, id,
	)
}

func (r *repo) FindByExternalReference(ctx context.Context, db *gorm.DB, orgID snowflake.ID, externalReference string) (*domain.Charge, error) {
	return r.findOne(ctx, db,
		`SELECT `+chargeColumns+`
		 FROM charges
		 WHERE org_id = ? AND external_reference = ?
		 LIMIT 1`,
		orgID, externalReference,
	)
}

func (r *repo) FindPending(ctx context.Context, db *gorm.DB, orgID snowflake.ID, ref domain.BusinessReference) (*domain.Charge, error) {
	return r.findOne(ctx, db,
		`SELECT `+chargeColumns+`
		 FROM charges
		 WHERE org_id = ? AND reference_type = ? AND reference_id = ? AND status = ?
		 LIMIT 1`,
		orgID, ref.Type, ref.ID, string(domain.StatusPending),
	)
}

func (r *repo) ListByReference(ctx context.Context, db *gorm.DB, orgID snowflake.ID, ref domain.BusinessReference) ([]domain.Charge, error) {
	var charges []domain.Charge
	err := db.WithContext(ctx).Raw(
		`SELECT `+chargeColumns+`
		 FROM charges
		 WHERE org_id = ? AND reference_type = ? AND reference_id = ?
		 ORDER BY created_at DESC, id DESC`,
		orgID, ref.Type, ref.ID,
	).Scan(&charges).Error
	if err != nil {
		return nil, err
	}
	return charges, nil
}

// ListStalePending returns pending charges of every tenant that have a provider
// payment id, were neither updated nor polled after touchedBefore and were
// created after createdAfter. Charges polled longest ago come first.
func (r *repo) ListStalePending(ctx context.Context, db *gorm.DB, touchedBefore, createdAfter time.Time, limit int) ([]domain.Charge, error) {
	var charges []domain.Charge
	err := db.WithContext(ctx).Raw(
		`SELECT `+chargeColumns+`
		 FROM charges
		 WHERE status = ? AND provider_payment_id <> ''
			AND updated_at <= ? AND (last_polled_at IS NULL OR last_polled_at <= ?)
			AND created_at >= ?
		 ORDER BY COALESCE(last_polled_at, updated_at) ASC, id ASC
		 LIMIT ?`,
		string(domain.StatusPending), touchedBefore, touchedBefore, createdAfter, limit,
	).Scan(&charges).Error
	if err != nil {
		return nil, err
	}
	return charges, nil
}

func (r *repo) CompareAndSetStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, expected, next domain.Status, providerStatus string, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE charges
		 SET status = ?, provider_status = ?, status_changed_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(next),
		providerStatus,
		at,
		at,
		id,
		string(expected),
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) SetTransaction(ctx context.Context, db *gorm.DB, id, transactionID snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE charges SET transaction_id = ? WHERE id = ?`,
		transactionID,
		id,
	).Error
}

func (r *repo) SetProviderPaymentID(ctx context.Context, db *gorm.DB, id snowflake.ID, providerPaymentID string, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE charges
		 SET provider_payment_id = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND provider_payment_id IS DISTINCT FROM ?`,
		providerPaymentID,
		at,
		id,
		string(domain.StatusPending),
		providerPaymentID,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkPolled(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE charges SET last_polled_at = ? WHERE id = ?`,
		at,
		id,
	).Error
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.Charge, error) {
	var item domain.Charge
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&item).Error; err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}
