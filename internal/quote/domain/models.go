package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// ReferenceType is the business reference type charges use to point at a quote.
const ReferenceType = "quote"

type PaymentStatus string

const (
	PaymentStatusUnpaid PaymentStatus = "unpaid"
	PaymentStatusPaid   PaymentStatus = "paid"
)

type Quote struct {
	ID            snowflake.ID    `json:"id" gorm:"primaryKey"`
	OrgID         snowflake.ID    `json:"organization_id" gorm:"column:org_id;not null"`
	Number        string          `json:"number" gorm:"type:text;not null"`
	CustomerName  string          `json:"customer_name" gorm:"type:text;not null"`
	Total         decimal.Decimal `json:"total" gorm:"type:numeric(18,2);not null"`
	PaymentStatus PaymentStatus   `json:"payment_status" gorm:"type:text;not null"`
	PaidAt        *time.Time      `json:"paid_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt     time.Time       `json:"updated_at" gorm:"not null"`
}

func (Quote) TableName() string { return "quotes" }

var (
	ErrInvalidQuote = errors.New("invalid_quote")
	ErrNotFound     = errors.New("quote_not_found")
)
