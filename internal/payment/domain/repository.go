package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, charge *Charge) error
	UpdateArtifacts(ctx context.Context, db *gorm.DB, charge *Charge) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Charge, error)
	FindByExternalReference(ctx context.Context, db *gorm.DB, orgID snowflake.ID, externalReference string) (*Charge, error)
	FindPending(ctx context.Context, db *gorm.DB, orgID snowflake.ID, ref BusinessReference) (*Charge, error)
	ListByReference(ctx context.Context, db *gorm.DB, orgID snowflake.ID, ref BusinessReference) ([]Charge, error)
	ListStalePending(ctx context.Context, db *gorm.DB, touchedBefore, createdAfter time.Time, limit int) ([]Charge, error)
	// CompareAndSetStatus moves the charge from expected to next and reports whether a row changed.
	CompareAndSetStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, expected, next Status, providerStatus string, at time.Time) (bool, error)
	SetTransaction(ctx context.Context, db *gorm.DB, id, transactionID snowflake.ID) error
	// SetProviderPaymentID replaces the provider payment id of a pending charge.
	SetProviderPaymentID(ctx context.Context, db *gorm.DB, id snowflake.ID, providerPaymentID string, at time.Time) (bool, error)
	// MarkPolled records that the sweeper asked the provider about the charge.
	MarkPolled(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
}
