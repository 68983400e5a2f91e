package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Status is the canonical charge lifecycle state. Pending is initial; the rest are terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusCancelled:
		return true
	default:
		return false
	}
}

func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusCancelled
}

// PaymentMethod selects how the customer pays.
type PaymentMethod string

const (
	MethodPix    PaymentMethod = "pix"
	MethodBoleto PaymentMethod = "boleto"
	MethodCard   PaymentMethod = "card"
	// MethodAny lets the customer choose on the provider's hosted page.
	MethodAny PaymentMethod = "any"
)

func ParsePaymentMethod(raw string) (PaymentMethod, bool) {
	method := PaymentMethod(strings.ToLower(strings.TrimSpace(raw)))
	switch method {
	case MethodPix, MethodBoleto, MethodCard, MethodAny:
		return method, true
	case "":
		return MethodAny, true
	default:
		return "", false
	}
}

// IsDirect reports whether the provider answers synchronously with QR or ticket data
// instead of a hosted checkout redirect.
func (m PaymentMethod) IsDirect() bool {
	return m == MethodPix || m == MethodBoleto
}

type Environment string

const (
	EnvironmentSandbox    Environment = "sandbox"
	EnvironmentProduction Environment = "production"
)

func ParseEnvironment(raw string) (Environment, bool) {
	switch Environment(strings.ToLower(strings.TrimSpace(raw))) {
	case EnvironmentSandbox, "test":
		return EnvironmentSandbox, true
	case EnvironmentProduction, "live":
		return EnvironmentProduction, true
	default:
		return "", false
	}
}

// BusinessReference points at the record a charge collects money for, e.g. a quote.
type BusinessReference struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func (r BusinessReference) String() string {
	return r.Type + ":" + r.ID
}

type Charge struct {
	ID                snowflake.ID    `json:"id" gorm:"column:id;primaryKey"`
	OrgID             snowflake.ID    `json:"org_id" gorm:"column:org_id"`
	Provider          string          `json:"provider" gorm:"column:provider"`
	Environment       Environment     `json:"environment" gorm:"column:environment"`
	ProviderPaymentID string          `json:"provider_payment_id,omitempty" gorm:"column:provider_payment_id"`
	Amount            decimal.Decimal `json:"amount" gorm:"column:amount"`
	Currency          string          `json:"currency" gorm:"column:currency"`
	Description       string          `json:"description" gorm:"column:description"`
	ExternalReference string          `json:"external_reference" gorm:"column:external_reference"`
	PaymentMethod     PaymentMethod   `json:"payment_method" gorm:"column:payment_method"`
	Status            Status          `json:"status" gorm:"column:status"`
	ProviderStatus    string          `json:"provider_status,omitempty" gorm:"column:provider_status"`
	PaymentLink       string          `json:"payment_link,omitempty" gorm:"column:payment_link"`
	QRCode            string          `json:"qr_code,omitempty" gorm:"column:qr_code"`
	QRCodeImage       string          `json:"qr_code_image,omitempty" gorm:"column:qr_code_image"`
	ReferenceType     string          `json:"reference_type" gorm:"column:reference_type"`
	ReferenceID       string          `json:"reference_id" gorm:"column:reference_id"`
	TransactionID     *snowflake.ID   `json:"transaction_id,omitempty" gorm:"column:transaction_id"`
	StatusChangedAt   *time.Time      `json:"status_changed_at,omitempty" gorm:"column:status_changed_at"`
	LastPolledAt      *time.Time      `json:"last_polled_at,omitempty" gorm:"column:last_polled_at"`
	CreatedAt         time.Time       `json:"created_at" gorm:"column:created_at"`
	UpdatedAt         time.Time       `json:"updated_at" gorm:"column:updated_at"`
}

func (Charge) TableName() string { return "charges" }

func (c *Charge) Reference() BusinessReference {
	return BusinessReference{Type: c.ReferenceType, ID: c.ReferenceID}
}
