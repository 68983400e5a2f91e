// Package adyen adapts Adyen Pay by Link.
package adyen

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/smallbiznis/paygate/internal/payment/adapters"
	"github.com/smallbiznis/paygate/internal/payment/domain"
)

const (
	providerID  = "adyen"
	apiVersion  = "/v71"
	testBaseURL = "https://checkout-test.adyen.com"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return providerID
}

func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.Adapter, error) {
	required := []string{"api_key", "merchant_account"}
	if cfg.Environment == domain.EnvironmentProduction && strings.TrimSpace(cfg.BaseURL) == "" {
		required = append(required, "live_url_prefix")
	}
	if err := adapters.RequireCredentials(cfg, required...); err != nil {
		return nil, err
	}

	hmacKey := strings.TrimSpace(cfg.Credentials["hmac_key"])
	if hmacKey != "" {
		if _, err := hex.DecodeString(hmacKey); err != nil {
			return nil, &domain.ConfigurationError{Provider: providerID, Environment: cfg.Environment, Reason: "hmac_key must be hex encoded"}
		}
	}

	return &Adapter{
		baseURL:         baseURL(cfg),
		apiKey:          strings.TrimSpace(cfg.Credentials["api_key"]),
		merchantAccount: strings.TrimSpace(cfg.Credentials["merchant_account"]),
		hmacKey:         hmacKey,
		http:            adapters.HTTPClient(cfg),
	}, nil
}

func baseURL(cfg domain.AdapterConfig) string {
	if override := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); override != "" {
		return override
	}
	if cfg.Environment == domain.EnvironmentProduction {
		return "https://" + strings.TrimSpace(cfg.Credentials["live_url_prefix"]) + "-checkout-live.adyenpayments.com/checkout"
	}
	return testBaseURL
}

type Adapter struct {
	baseURL         string
	apiKey          string
	merchantAccount string
	hmacKey         string
	http            *http.Client
}

type amount struct {
	Currency string `json:"currency"`
	Value    int64  `json:"value"`
}

type paymentLinkRequest struct {
	Reference             string   `json:"reference"`
	Amount                amount   `json:"amount"`
	MerchantAccount       string   `json:"merchantAccount"`
	Description           string   `json:"description,omitempty"`
	ReturnURL             string   `json:"returnUrl,omitempty"`
	ShopperEmail          string   `json:"shopperEmail,omitempty"`
	ShopperReference      string   `json:"shopperReference,omitempty"`
	AllowedPaymentMethods []string `json:"allowedPaymentMethods,omitempty"`
}

type paymentLink struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	Status    string `json:"status"`
	Reference string `json:"reference"`
}

// CreateCharge creates a Pay by Link session keyed by the external reference.
func (a *Adapter) CreateCharge(ctx context.Context, req domain.ChargeRequest) *domain.ChargeResult {
	body := paymentLinkRequest{
		Reference:       req.ExternalReference,
		Amount:          amount{Currency: strings.ToUpper(firstNonEmpty(req.Currency, "BRL")), Value: req.Amount.Shift(2).Round(0).IntPart()},
		MerchantAccount: a.merchantAccount,
		Description:     req.Description,
		ReturnURL:       req.ReturnURL,
		ShopperEmail:    req.Customer.Email,
	}
	switch req.Method {
	case domain.MethodPix:
		body.AllowedPaymentMethods = []string{"pix"}
	case domain.MethodBoleto:
		body.AllowedPaymentMethods = []string{"boletobancario"}
	case domain.MethodCard:
		body.AllowedPaymentMethods = []string{"scheme"}
	}

	var link paymentLink
	if err := a.do(ctx, http.MethodPost, "/paymentLinks", body, req.ExternalReference, &link); err != nil {
		return domain.Failed(err.Error(), domain.IsTimeout(err))
	}
	if link.ID == "" || link.URL == "" {
		return domain.Failed("adyen: payment link response missing id or url", false)
	}
	return &domain.ChargeResult{
		Success:           true,
		ProviderPaymentID: link.ID,
		PaymentLink:       link.URL,
		Status:            MapLinkStatus(link.Status),
		ProviderStatus:    link.Status,
	}
}

func (a *Adapter) GetPaymentStatus(ctx context.Context, paymentID string) (*domain.ChargeResult, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, &domain.ValidationError{Fields: []string{"payment_id"}, Message: "missing adyen payment link id"}
	}
	var link paymentLink
	if err := a.do(ctx, http.MethodGet, "/paymentLinks/"+url.PathEscape(paymentID), nil, "", &link); err != nil {
		return nil, &domain.ProviderRequestError{Provider: providerID, Result: domain.Failed(err.Error(), domain.IsTimeout(err))}
	}
	return &domain.ChargeResult{
		Success:           true,
		ProviderPaymentID: link.ID,
		PaymentLink:       link.URL,
		Status:            MapLinkStatus(link.Status),
		ProviderStatus:    link.Status,
	}, nil
}

func (a *Adapter) TestConnection(ctx context.Context) domain.ConnectionResult {
	var methods struct {
		PaymentMethods []struct {
			Type string `json:"type"`
		} `json:"paymentMethods"`
	}
	body := map[string]string{"merchantAccount": a.merchantAccount}
	if err := a.do(ctx, http.MethodPost, "/paymentMethods", body, "", &methods); err != nil {
		return domain.ConnectionResult{Success: false, Message: err.Error()}
	}
	return domain.ConnectionResult{
		Success: true,
		Message: "connected to adyen, " + strconv.Itoa(len(methods.PaymentMethods)) + " payment methods available",
	}
}

// HandleNotification maps every item of a standard notification batch in
// delivery order. Items that carry no charge status are skipped; a batch with
// none left is unsupported.
func (a *Adapter) HandleNotification(_ context.Context, payload []byte) ([]domain.Notification, error) {
	var root notificationRoot
	if err := json.Unmarshal(payload, &root); err != nil || len(root.NotificationItems) == 0 {
		return nil, domain.UnsupportedNotification(providerID, "malformed")
	}

	notifications := make([]domain.Notification, 0, len(root.NotificationItems))
	var skipped error
	for _, item := range root.NotificationItems {
		notification, err := mapItem(item.NotificationRequestItem)
		if err != nil {
			if skipped == nil {
				skipped = err
			}
			continue
		}
		notifications = append(notifications, *notification)
	}
	if len(notifications) == 0 {
		return nil, skipped
	}
	return notifications, nil
}

func mapItem(item notificationRequestItem) (*domain.Notification, error) {
	reference := strings.TrimSpace(item.MerchantReference)
	if reference == "" {
		return nil, domain.UnsupportedNotification(providerID, item.EventCode+" without reference")
	}

	success := strings.EqualFold(item.Success, "true")
	var status domain.Status
	switch item.EventCode {
	case "AUTHORISATION":
		status = domain.StatusRejected
		if success {
			status = domain.StatusApproved
		}
	case "CANCELLATION", "OFFER_CLOSED", "CANCEL_OR_REFUND":
		if !success {
			return nil, domain.UnsupportedNotification(providerID, item.EventCode+" failed")
		}
		status = domain.StatusCancelled
	case "REFUND", "CHARGEBACK":
		if !success {
			return nil, domain.UnsupportedNotification(providerID, item.EventCode+" failed")
		}
		status = domain.StatusCancelled
	case "PENDING":
		status = domain.StatusPending
	default:
		return nil, domain.UnsupportedNotification(providerID, item.EventCode)
	}

	return &domain.Notification{
		ExternalReference: reference,
		Status:            status,
		ProviderStatus:    item.EventCode + ":" + strings.ToLower(item.Success),
		ProviderPaymentID: item.PspReference,
	}, nil
}

// VerifyNotification checks additionalData.hmacSignature on every item of the batch.
func (a *Adapter) VerifyNotification(_ context.Context, payload []byte, _ http.Header) error {
	if a.hmacKey == "" {
		return domain.ErrInvalidSignature
	}
	var root notificationRoot
	if err := json.Unmarshal(payload, &root); err != nil || len(root.NotificationItems) == 0 {
		return domain.ErrInvalidSignature
	}
	key, err := hex.DecodeString(a.hmacKey)
	if err != nil {
		return domain.ErrInvalidSignature
	}
	for _, item := range root.NotificationItems {
		signature := item.NotificationRequestItem.AdditionalData["hmacSignature"]
		if signature == "" {
			return domain.ErrInvalidSignature
		}
		expected := signItem(key, item.NotificationRequestItem)
		if !hmac.Equal([]byte(signature), []byte(expected)) {
			return domain.ErrInvalidSignature
		}
	}
	return nil
}

// signItem signs pspReference, originalReference, merchantAccountCode,
// merchantReference, value, currency, eventCode and success joined by ':'.
func signItem(key []byte, item notificationRequestItem) string {
	parts := []string{
		item.PspReference,
		item.OriginalReference,
		item.MerchantAccountCode,
		item.MerchantReference,
		strconv.FormatInt(item.Amount.Value, 10),
		item.Amount.Currency,
		item.EventCode,
		item.Success,
	}
	for i, part := range parts {
		part = strings.ReplaceAll(part, "\\", "\\\\")
		parts[i] = strings.ReplaceAll(part, ":", "\\:")
	}
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write([]byte(strings.Join(parts, ":")))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

type apiError struct {
	Status    int    `json:"status"`
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
}

func (a *Adapter) do(ctx context.Context, method, path string, body any, idempotencyKey string, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+apiVersion+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("X-API-Key", a.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr apiError
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || strings.TrimSpace(apiErr.Message) == "" {
			return errors.New("adyen_request_failed: " + strconv.Itoa(resp.StatusCode))
		}
		return errors.New(apiErr.Message)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

type notificationRoot struct {
	Live              string             `json:"live"`
	NotificationItems []notificationItem `json:"notificationItems"`
}

type notificationItem struct {
	NotificationRequestItem notificationRequestItem `json:"NotificationRequestItem"`
}

type notificationRequestItem struct {
	AdditionalData      map[string]string `json:"additionalData"`
	Amount              amount            `json:"amount"`
	EventCode           string            `json:"eventCode"`
	EventDate           string            `json:"eventDate"`
	MerchantAccountCode string            `json:"merchantAccountCode"`
	MerchantReference   string            `json:"merchantReference"`
	OriginalReference   string            `json:"originalReference"`
	PspReference        string            `json:"pspReference"`
	Reason              string            `json:"reason"`
	Success             string            `json:"success"`
}
