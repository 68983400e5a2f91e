package domain

import (
	"context"
	"net/http"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type CreateChargeInput struct {
	Reference BusinessReference
	Provider  string
	// Environment overrides the sandbox flag stored on the gateway configuration.
	Environment       Environment
	Request           ChargeRequest
	CreateTransaction bool
}

// Service is the charge orchestrator.
type Service interface {
	CreateCharge(ctx context.Context, input CreateChargeInput) (*Charge, error)
	GetCharge(ctx context.Context, id snowflake.ID) (*Charge, error)
	ListCharges(ctx context.Context, ref BusinessReference) ([]Charge, error)
	RefreshStatus(ctx context.Context, id snowflake.ID) (*Transition, error)
	CancelCharge(ctx context.Context, id snowflake.ID) (*Transition, error)
	ResetCharge(ctx context.Context, id snowflake.ID, actor string) (*Charge, error)
	TestConnection(ctx context.Context, provider string, env Environment) (*ConnectionResult, error)
}

type Outcome string

const (
	OutcomeApplied       Outcome = "applied"
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomeStale         Outcome = "stale"
	OutcomeConflict      Outcome = "conflict"
	OutcomeUnknownCharge Outcome = "unknown_charge"
	OutcomeUnsupported   Outcome = "unsupported"
)

// Transition describes what applying a status did to a charge.
type Transition struct {
	Charge  *Charge
	From    Status
	To      Status
	Outcome Outcome
}

// IngestItem is what one event of a callback did.
type IngestItem struct {
	ExternalReference string  `json:"external_reference"`
	Status            Status  `json:"status"`
	Outcome           Outcome `json:"outcome"`
}

// IngestResult summarizes a callback. Outcome is conflict when any item
// conflicted and the outcome of the first item otherwise.
type IngestResult struct {
	Provider          string       `json:"provider"`
	Outcome           Outcome      `json:"outcome"`
	ExternalReference string       `json:"external_reference,omitempty"`
	Status            Status       `json:"status,omitempty"`
	Items             []IngestItem `json:"items,omitempty"`
}

// NotificationService is the notification ingress.
type NotificationService interface {
	IngestNotification(ctx context.Context, provider string, orgHint snowflake.ID, payload []byte, headers http.Header) (*IngestResult, error)
}

// TransactionStore keeps the accounting record derived from a charge.
type TransactionStore interface {
	CreatePending(ctx context.Context, tx *gorm.DB, charge *Charge) (snowflake.ID, error)
	Settle(ctx context.Context, tx *gorm.DB, id snowflake.ID) error
	Reopen(ctx context.Context, tx *gorm.DB, id snowflake.ID) error
}

// ReferenceStore is owned by the business record a charge points at.
type ReferenceStore interface {
	ReferenceType() string
	Exists(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, id string) (bool, error)
	MarkPaid(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, id string) error
	MarkUnpaid(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, id string) error
}
