package mercadopago

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"path"
	"strings"

	"github.com/smallbiznis/paygate/internal/payment/domain"
)

// webhookPayload covers both the webhook ("type"/"data.id") and the legacy
// IPN ("topic"/"resource") shapes.
type webhookPayload struct {
	Type     string `json:"type"`
	Action   string `json:"action"`
	Topic    string `json:"topic"`
	Resource string `json:"resource"`
	Data     struct {
		ID flexibleID `json:"id"`
	} `json:"data"`
}

// flexibleID accepts ids sent either as JSON strings or numbers.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexibleID(n.String())
	return nil
}

func (p webhookPayload) kind() string {
	if p.Type != "" {
		return p.Type
	}
	return p.Topic
}

func (p webhookPayload) paymentID() string {
	if id := strings.TrimSpace(string(p.Data.ID)); id != "" {
		return id
	}
	// IPN resources are either a bare id or a URL ending in the id.
	return path.Base(strings.TrimSpace(p.Resource))
}

// HandleNotification only carries a payment id, so the payment is fetched to
// learn its external reference and status.
func (a *Adapter) HandleNotification(ctx context.Context, payload []byte) ([]domain.Notification, error) {
	notification, err := a.mapNotification(ctx, payload)
	if err != nil {
		return nil, err
	}
	return []domain.Notification{*notification}, nil
}

func (a *Adapter) mapNotification(ctx context.Context, payload []byte) (*domain.Notification, error) {
	var body webhookPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, domain.UnsupportedNotification(providerID, "malformed")
	}

	kind := strings.ToLower(strings.TrimSpace(body.kind()))
	if kind != "payment" {
		if kind == "" {
			kind = "unknown"
		}
		return nil, domain.UnsupportedNotification(providerID, kind)
	}
	paymentID := body.paymentID()
	if paymentID == "" || paymentID == "." || paymentID == "/" {
		return nil, domain.UnsupportedNotification(providerID, "payment without id")
	}

	resp, err := a.getPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(resp.ExternalReference) == "" {
		return nil, domain.UnsupportedNotification(providerID, "payment without external_reference")
	}
	return &domain.Notification{
		ExternalReference: resp.ExternalReference,
		Status:            MapStatus(resp.Status),
		ProviderStatus:    rawStatus(resp.Status, resp.StatusDetail),
		ProviderPaymentID: paymentID,
	}, nil
}

// VerifyNotification checks the x-signature header when a webhook secret is
// configured. The manifest is "id:<data.id>;request-id:<x-request-id>;ts:<ts>;".
func (a *Adapter) VerifyNotification(_ context.Context, payload []byte, headers http.Header) error {
	if a.webhookSecret == "" {
		return nil
	}
	ts, signature := parseSignatureHeader(headers.Get("X-Signature"))
	if ts == "" || signature == "" {
		return domain.ErrInvalidSignature
	}

	var body webhookPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return domain.ErrInvalidSignature
	}

	manifest := buildManifest(strings.ToLower(body.paymentID()), headers.Get("X-Request-Id"), ts)
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(manifest))
	if !hmac.Equal([]byte(signature), []byte(hex.EncodeToString(mac.Sum(nil)))) {
		return domain.ErrInvalidSignature
	}
	return nil
}

func parseSignatureHeader(header string) (ts, signature string) {
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "ts":
			ts = strings.TrimSpace(value)
		case "v1":
			signature = strings.TrimSpace(value)
		}
	}
	return ts, signature
}

func buildManifest(dataID, requestID, ts string) string {
	var b strings.Builder
	if dataID != "" {
		b.WriteString("id:" + dataID + ";")
	}
	if requestID = strings.TrimSpace(requestID); requestID != "" {
		b.WriteString("request-id:" + requestID + ";")
	}
	b.WriteString("ts:" + ts + ";")
	return b.String()
}
