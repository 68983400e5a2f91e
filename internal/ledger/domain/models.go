package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// TransactionStatus tracks whether the money behind a charge has been received.
type TransactionStatus string

const (
	TransactionStatusPending TransactionStatus = "pending"
	TransactionStatusSettled TransactionStatus = "settled"
)

// Transaction is the accounting record derived from one charge.
type Transaction struct {
	ID          snowflake.ID      `json:"id" gorm:"primaryKey"`
	OrgID       snowflake.ID      `json:"organization_id" gorm:"column:org_id;not null"`
	ChargeID    snowflake.ID      `json:"charge_id" gorm:"not null;uniqueIndex"`
	Amount      decimal.Decimal   `json:"amount" gorm:"type:numeric(18,2);not null"`
	Currency    string            `json:"currency" gorm:"type:text;not null"`
	Description string            `json:"description" gorm:"type:text;not null"`
	Status      TransactionStatus `json:"status" gorm:"type:text;not null"`
	SettledAt   *time.Time        `json:"settled_at,omitempty"`
	CreatedAt   time.Time         `json:"created_at" gorm:"not null"`
	UpdatedAt   time.Time         `json:"updated_at" gorm:"not null"`
}

// TableName sets the database table name.
func (Transaction) TableName() string { return "accounting_transactions" }

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidCharge       = errors.New("invalid_charge")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrNotFound            = errors.New("transaction_not_found")
)
