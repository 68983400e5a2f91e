// Package stripe adapts Stripe hosted Checkout Sessions.
package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/paygate/internal/payment/adapters"
	"github.com/smallbiznis/paygate/internal/payment/domain"
)

const (
	providerID     = "stripe"
	defaultBaseURL = "https://api.stripe.com"
	// signatureTolerance bounds how old a signed notification may be.
	signatureTolerance = 5 * time.Minute
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return providerID
}

func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.Adapter, error) {
	if err := adapters.RequireCredentials(cfg, "secret_key"); err != nil {
		return nil, err
	}
	secretKey := strings.TrimSpace(cfg.Credentials["secret_key"])
	if cfg.Environment == domain.EnvironmentProduction && strings.HasPrefix(secretKey, "sk_test_") {
		return nil, &domain.ConfigurationError{Provider: providerID, Environment: cfg.Environment, Reason: "test key used for production"}
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Adapter{
		client: &client{
			baseURL:   baseURL,
			secretKey: secretKey,
			accountID: strings.TrimSpace(cfg.Credentials["account_id"]),
			http:      adapters.HTTPClient(cfg),
		},
		webhookSecret: strings.TrimSpace(cfg.Credentials["webhook_secret"]),
		successURL:    strings.TrimSpace(cfg.Credentials["success_url"]),
		cancelURL:     strings.TrimSpace(cfg.Credentials["cancel_url"]),
		now:           time.Now,
	}, nil
}

type Adapter struct {
	client        *client
	webhookSecret string
	successURL    string
	cancelURL     string
	now           func() time.Time
}

type checkoutSession struct {
	ID                string            `json:"id"`
	URL               string            `json:"url"`
	Status            string            `json:"status"`
	PaymentStatus     string            `json:"payment_status"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

// CreateCharge opens a hosted Checkout Session; the outcome arrives by notification.
func (a *Adapter) CreateCharge(ctx context.Context, req domain.ChargeRequest) *domain.ChargeResult {
	successURL := firstNonEmpty(req.ReturnURL, a.successURL)
	if successURL == "" {
		return domain.Failed("stripe: success_url is not configured", false)
	}

	values := url.Values{}
	values.Set("mode", "payment")
	values.Set("success_url", successURL)
	if cancelURL := firstNonEmpty(a.cancelURL, req.ReturnURL); cancelURL != "" {
		values.Set("cancel_url", cancelURL)
	}
	values.Set("client_reference_id", req.ExternalReference)
	values.Set("customer_email", req.Customer.Email)
	values.Set("line_items[0][quantity]", "1")
	values.Set("line_items[0][price_data][currency]", strings.ToLower(firstNonEmpty(req.Currency, "brl")))
	values.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(minorUnits(req), 10))
	values.Set("line_items[0][price_data][product_data][name]", req.Description)
	values.Set("metadata[external_reference]", req.ExternalReference)
	values.Set("payment_intent_data[metadata][external_reference]", req.ExternalReference)
	switch req.Method {
	case domain.MethodCard:
		values.Set("payment_method_types[0]", "card")
	case domain.MethodBoleto:
		values.Set("payment_method_types[0]", "boleto")
	case domain.MethodPix:
		values.Set("payment_method_types[0]", "pix")
	}

	var session checkoutSession
	if err := a.client.do(ctx, http.MethodPost, "/v1/checkout/sessions", values, req.ExternalReference, &session); err != nil {
		return domain.Failed(err.Error(), domain.IsTimeout(err))
	}
	if session.ID == "" || session.URL == "" {
		return domain.Failed("stripe: checkout session response missing id or url", false)
	}
	return &domain.ChargeResult{
		Success:           true,
		ProviderPaymentID: session.ID,
		PaymentLink:       session.URL,
		Status:            domain.StatusPending,
		ProviderStatus:    rawStatus(session.Status, session.PaymentStatus),
	}
}

func (a *Adapter) GetPaymentStatus(ctx context.Context, paymentID string) (*domain.ChargeResult, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, &domain.ValidationError{Fields: []string{"payment_id"}, Message: "missing stripe session id"}
	}
	var session checkoutSession
	if err := a.client.do(ctx, http.MethodGet, "/v1/checkout/sessions/"+url.PathEscape(paymentID), nil, "", &session); err != nil {
		return nil, &domain.ProviderRequestError{Provider: providerID, Result: domain.Failed(err.Error(), domain.IsTimeout(err))}
	}
	return &domain.ChargeResult{
		Success:           true,
		ProviderPaymentID: session.ID,
		PaymentLink:       session.URL,
		Status:            mapSession(session.Status, session.PaymentStatus),
		ProviderStatus:    rawStatus(session.Status, session.PaymentStatus),
	}, nil
}

// TestConnection reads the account balance, which any valid secret key may do.
func (a *Adapter) TestConnection(ctx context.Context) domain.ConnectionResult {
	var balance struct {
		Object   string `json:"object"`
		Livemode bool   `json:"livemode"`
	}
	if err := a.client.do(ctx, http.MethodGet, "/v1/balance", nil, "", &balance); err != nil {
		return domain.ConnectionResult{Success: false, Message: err.Error()}
	}
	mode := "test"
	if balance.Livemode {
		mode = "live"
	}
	return domain.ConnectionResult{Success: true, Message: "connected to stripe in " + mode + " mode"}
}

type stripeEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type paymentObject struct {
	ID       string            `json:"id"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata"`
}

// HandleNotification maps the single event of a Stripe webhook delivery.
func (a *Adapter) HandleNotification(_ context.Context, payload []byte) ([]domain.Notification, error) {
	notification, err := mapEvent(payload)
	if err != nil {
		return nil, err
	}
	return []domain.Notification{*notification}, nil
}

func mapEvent(payload []byte) (*domain.Notification, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil || strings.TrimSpace(event.ID) == "" || len(event.Data.Object) == 0 {
		return nil, domain.UnsupportedNotification(providerID, "malformed")
	}

	eventType := strings.TrimSpace(event.Type)
	switch eventType {
	case "checkout.session.completed",
		"checkout.session.async_payment_succeeded",
		"checkout.session.async_payment_failed",
		"checkout.session.expired":
		var session checkoutSession
		if err := json.Unmarshal(event.Data.Object, &session); err != nil {
			return nil, domain.UnsupportedNotification(providerID, eventType)
		}
		reference := firstNonEmpty(session.Metadata["external_reference"], session.ClientReferenceID)
		if reference == "" {
			return nil, domain.UnsupportedNotification(providerID, eventType+" without reference")
		}
		status := mapSession(session.Status, session.PaymentStatus)
		switch eventType {
		case "checkout.session.async_payment_succeeded":
			status = domain.StatusApproved
		case "checkout.session.async_payment_failed":
			status = domain.StatusRejected
		case "checkout.session.expired":
			status = domain.StatusCancelled
		}
		return &domain.Notification{
			ExternalReference: reference,
			Status:            status,
			ProviderStatus:    eventType,
			ProviderPaymentID: session.ID,
		}, nil

	case "payment_intent.succeeded", "payment_intent.payment_failed", "payment_intent.canceled", "charge.refunded":
		var object paymentObject
		if err := json.Unmarshal(event.Data.Object, &object); err != nil {
			return nil, domain.UnsupportedNotification(providerID, eventType)
		}
		reference := strings.TrimSpace(object.Metadata["external_reference"])
		if reference == "" {
			return nil, domain.UnsupportedNotification(providerID, eventType+" without reference")
		}
		status := MapStatus(object.Status)
		switch eventType {
		case "payment_intent.payment_failed":
			status = domain.StatusRejected
		case "charge.refunded":
			status = domain.StatusCancelled
		}
		return &domain.Notification{
			ExternalReference: reference,
			Status:            status,
			ProviderStatus:    eventType,
		}, nil

	default:
		return nil, domain.UnsupportedNotification(providerID, eventType)
	}
}

// VerifyNotification checks the Stripe-Signature header against the webhook secret.
func (a *Adapter) VerifyNotification(_ context.Context, payload []byte, headers http.Header) error {
	if a.webhookSecret == "" {
		return domain.ErrInvalidSignature
	}
	ts, signatures, err := parseStripeSignature(headers.Get("Stripe-Signature"))
	if err != nil {
		return domain.ErrInvalidSignature
	}
	if unix, err := strconv.ParseInt(ts, 10, 64); err != nil || a.now().Sub(time.Unix(unix, 0)).Abs() > signatureTolerance {
		return domain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(ts + "." + string(payload)))
	expected := hex.EncodeToString(mac.Sum(nil))
	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}
	return domain.ErrInvalidSignature
}

func parseStripeSignature(header string) (string, []string, error) {
	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "t":
			timestamp = strings.TrimSpace(value)
		case "v1":
			signatures = append(signatures, strings.TrimSpace(value))
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

// minorUnits converts the decimal amount into cents.
func minorUnits(req domain.ChargeRequest) int64 {
	return req.Amount.Shift(2).Round(0).IntPart()
}

func rawStatus(status, paymentStatus string) string {
	if paymentStatus == "" {
		return status
	}
	return fmt.Sprintf("%s:%s", status, paymentStatus)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
