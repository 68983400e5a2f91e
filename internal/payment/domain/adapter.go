package domain

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Address struct {
	Street       string `json:"street"`
	Number       string `json:"number"`
	Neighborhood string `json:"neighborhood"`
	City         string `json:"city"`
	State        string `json:"state"`
	ZipCode      string `json:"zip_code"`
}

type Customer struct {
	Name    string   `json:"name"`
	Email   string   `json:"email"`
	TaxID   string   `json:"tax_id,omitempty"`
	Address *Address `json:"address,omitempty"`
}

// ChargeRequest is what an adapter needs to open a charge at its provider.
type ChargeRequest struct {
	Amount            decimal.Decimal
	Currency          string
	Description       string
	ExternalReference string
	Customer          Customer
	NotificationURL   string
	ReturnURL         string
	Method            PaymentMethod
}

// ChargeResult is the normalized answer of CreateCharge and GetPaymentStatus.
type ChargeResult struct {
	Success           bool   `json:"success"`
	ProviderPaymentID string `json:"provider_payment_id,omitempty"`
	QRCode            string `json:"qr_code,omitempty"`
	QRCodeImage       string `json:"qr_code_image,omitempty"`
	PaymentLink       string `json:"payment_link,omitempty"`
	Status            Status `json:"status"`
	ProviderStatus    string `json:"provider_status,omitempty"`
	Message           string `json:"message,omitempty"`
	// Retryable marks failures caused by timeouts or transport errors, where a
	// repeat with the same external reference cannot create a second charge.
	Retryable bool `json:"-"`
}

// Failed builds the structured failure every adapter returns instead of an error.
func Failed(message string, retryable bool) *ChargeResult {
	return &ChargeResult{
		Success:   false,
		Status:    StatusRejected,
		Message:   message,
		Retryable: retryable,
	}
}

// Notification is the canonical projection of one event of a provider callback.
type Notification struct {
	ExternalReference string
	Status            Status
	ProviderStatus    string
	ProviderPaymentID string
}

// StatusUpdate is a status reported by a provider for a charge. A non-empty
// ProviderPaymentID replaces the one stored while the charge is pending.
type StatusUpdate struct {
	Status            Status
	ProviderStatus    string
	ProviderPaymentID string
}

// Update projects the notification onto the charge it names.
func (n Notification) Update() StatusUpdate {
	return StatusUpdate{Status: n.Status, ProviderStatus: n.ProviderStatus, ProviderPaymentID: n.ProviderPaymentID}
}

type ConnectionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Adapter normalizes one provider behind the charge lifecycle.
//
// CreateCharge and TestConnection never return errors; failures come back as
// values. GetPaymentStatus and HandleNotification return errors for callers
// that log and alert. HandleNotification returns one Notification per event
// of a batched callback, in delivery order, and ErrUnsupportedNotification
// when none of them can be mapped.
type Adapter interface {
	CreateCharge(ctx context.Context, req ChargeRequest) *ChargeResult
	GetPaymentStatus(ctx context.Context, paymentID string) (*ChargeResult, error)
	HandleNotification(ctx context.Context, payload []byte) ([]Notification, error)
	TestConnection(ctx context.Context) ConnectionResult
}

// NotificationVerifier is implemented by adapters that can authenticate callbacks.
type NotificationVerifier interface {
	VerifyNotification(ctx context.Context, payload []byte, headers http.Header) error
}

// AdapterConfig is one tenant's resolved credential set for one environment.
type AdapterConfig struct {
	OrgID       snowflake.ID
	Provider    string
	Environment Environment
	Credentials map[string]string
	Timeout     time.Duration
	HTTPClient  *http.Client
	// BaseURL overrides the provider API endpoint.
	BaseURL string
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (Adapter, error)
}
