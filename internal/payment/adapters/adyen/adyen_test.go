package adyen

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/paygate/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHMACKey = "44782DEF547AAA06C910C43932B1EB0C71FC68D9D0C057550C48EC2ACF6BA056"

func newTestAdapter(t *testing.T, handler http.Handler) *Adapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	adapter, err := NewFactory().NewAdapter(domain.AdapterConfig{
		Provider:    providerID,
		Environment: domain.EnvironmentSandbox,
		Credentials: map[string]string{
			"api_key":          "AQE-test",
			"merchant_account": "ShopBR",
			"hmac_key":         testHMACKey,
		},
		BaseURL: server.URL,
	})
	require.NoError(t, err)
	return adapter.(*Adapter)
}

func TestFactoryValidatesCredentials(t *testing.T) {
	_, err := NewFactory().NewAdapter(domain.AdapterConfig{
		Provider:    providerID,
		Environment: domain.EnvironmentProduction,
		Credentials: map[string]string{"api_key": "k"},
	})
	var cfgErr *domain.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.ElementsMatch(t, []string{"merchant_account", "live_url_prefix"}, cfgErr.Missing)

	_, err = NewFactory().NewAdapter(domain.AdapterConfig{
		Provider:    providerID,
		Environment: domain.EnvironmentSandbox,
		Credentials: map[string]string{"api_key": "k", "merchant_account": "m", "hmac_key": "not-hex"},
	})
	require.ErrorAs(t, err, &cfgErr)
}

func TestProductionBaseURL(t *testing.T) {
	got := baseURL(domain.AdapterConfig{
		Environment: domain.EnvironmentProduction,
		Credentials: map[string]string{"live_url_prefix": "1797a841fbb37ca7-AdyenDemo"},
	})
	assert.Equal(t, "https://1797a841fbb37ca7-AdyenDemo-checkout-live.adyenpayments.com/checkout", got)
	assert.Equal(t, testBaseURL, baseURL(domain.AdapterConfig{Environment: domain.EnvironmentSandbox}))
}

func TestCreateChargeCreatesPaymentLink(t *testing.T) {
	var received paymentLinkRequest
	var idempotencyKey, apiKey string
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v71/paymentLinks", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		idempotencyKey = r.Header.Get("Idempotency-Key")
		apiKey = r.Header.Get("X-API-Key")
		_, _ = io.WriteString(w, `{"id":"PL6DB3","url":"https://test.adyen.link/PL6DB3","status":"active","reference":"quote-7-01J"}`)
	}))

	result := adapter.CreateCharge(context.Background(), domain.ChargeRequest{
		Amount:            decimal.RequireFromString("10.5"),
		Currency:          "brl",
		Description:       "Quote 7",
		ExternalReference: "quote-7-01J",
		Customer:          domain.Customer{Name: "Ana", Email: "ana@example.com"},
		Method:            domain.MethodPix,
	})
	require.True(t, result.Success, result.Message)
	assert.Equal(t, "PL6DB3", result.ProviderPaymentID)
	assert.Equal(t, "https://test.adyen.link/PL6DB3", result.PaymentLink)
	assert.Equal(t, domain.StatusPending, result.Status)

	assert.Equal(t, "quote-7-01J", idempotencyKey)
	assert.Equal(t, "AQE-test", apiKey)
	assert.Equal(t, int64(1050), received.Amount.Value)
	assert.Equal(t, "BRL", received.Amount.Currency)
	assert.Equal(t, "ShopBR", received.MerchantAccount)
	assert.Equal(t, []string{"pix"}, received.AllowedPaymentMethods)
}

func TestCreateChargeProviderError(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = io.WriteString(w, `{"status":422,"errorCode":"14_012","message":"The provided merchant account is not valid"}`)
	}))

	result := adapter.CreateCharge(context.Background(), domain.ChargeRequest{
		Amount:            decimal.NewFromInt(1),
		ExternalReference: "ref",
	})
	assert.False(t, result.Success)
	assert.Equal(t, "The provided merchant account is not valid", result.Message)
	assert.False(t, result.Retryable)
}

func TestGetPaymentStatus(t *testing.T) {
	for raw, want := range map[string]domain.Status{
		"active":         domain.StatusPending,
		"paymentPending": domain.StatusPending,
		"completed":      domain.StatusApproved,
		"expired":        domain.StatusCancelled,
	} {
		adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodGet, r.Method)
			require.Equal(t, "/v71/paymentLinks/PL1", r.URL.Path)
			_ = json.NewEncoder(w).Encode(paymentLink{ID: "PL1", URL: "https://test.adyen.link/PL1", Status: raw})
		}))
		result, err := adapter.GetPaymentStatus(context.Background(), "PL1")
		require.NoError(t, err)
		assert.Equal(t, want, result.Status, raw)
		assert.Equal(t, raw, result.ProviderStatus)
	}
}

func notificationPayload(t *testing.T, eventCode, success string, sign bool) []byte {
	t.Helper()
	return batchPayload(t, signedItem(t, "quote-7-01J", "7914073381342284", eventCode, success, sign))
}

func signedItem(t *testing.T, reference, pspReference, eventCode, success string, sign bool) notificationRequestItem {
	t.Helper()
	item := notificationRequestItem{
		AdditionalData:      map[string]string{},
		Amount:              amount{Currency: "BRL", Value: 1050},
		EventCode:           eventCode,
		MerchantAccountCode: "ShopBR",
		MerchantReference:   reference,
		PspReference:        pspReference,
		Success:             success,
	}
	if sign {
		key, err := hex.DecodeString(testHMACKey)
		require.NoError(t, err)
		item.AdditionalData["hmacSignature"] = signItem(key, item)
	}
	return item
}

func batchPayload(t *testing.T, items ...notificationRequestItem) []byte {
	t.Helper()
	root := notificationRoot{Live: "false"}
	for _, item := range items {
		root.NotificationItems = append(root.NotificationItems, notificationItem{NotificationRequestItem: item})
	}
	payload, err := json.Marshal(root)
	require.NoError(t, err)
	return payload
}

func TestHandleNotification(t *testing.T) {
	adapter := newTestAdapter(t, http.NotFoundHandler())
	tests := []struct {
		eventCode string
		success   string
		want      domain.Status
	}{
		{eventCode: "AUTHORISATION", success: "true", want: domain.StatusApproved},
		{eventCode: "AUTHORISATION", success: "false", want: domain.StatusRejected},
		{eventCode: "CANCELLATION", success: "true", want: domain.StatusCancelled},
		{eventCode: "OFFER_CLOSED", success: "true", want: domain.StatusCancelled},
		{eventCode: "REFUND", success: "true", want: domain.StatusCancelled},
		{eventCode: "PENDING", success: "true", want: domain.StatusPending},
	}
	for _, tt := range tests {
		t.Run(tt.eventCode+"_"+tt.success, func(t *testing.T) {
			notifications, err := adapter.HandleNotification(context.Background(), notificationPayload(t, tt.eventCode, tt.success, false))
			require.NoError(t, err)
			require.Len(t, notifications, 1)
			notification := notifications[0]
			assert.Equal(t, "quote-7-01J", notification.ExternalReference)
			assert.Equal(t, tt.want, notification.Status)
			assert.Equal(t, "7914073381342284", notification.ProviderPaymentID)
		})
	}

	for _, payload := range [][]byte{
		[]byte(`{}`),
		notificationPayload(t, "REPORT_AVAILABLE", "true", false),
		notificationPayload(t, "REFUND", "false", false),
	} {
		_, err := adapter.HandleNotification(context.Background(), payload)
		assert.ErrorIs(t, err, domain.ErrUnsupportedNotification)
	}
}

func TestHandleNotificationMapsEveryBatchItem(t *testing.T) {
	adapter := newTestAdapter(t, http.NotFoundHandler())
	payload := batchPayload(t,
		signedItem(t, "quote-7-01J", "7914073381342284", "AUTHORISATION", "true", false),
		signedItem(t, "", "7914073381342285", "REPORT_AVAILABLE", "true", false),
		signedItem(t, "quote-8-01K", "7914073381342286", "CANCELLATION", "true", false),
	)

	notifications, err := adapter.HandleNotification(context.Background(), payload)
	require.NoError(t, err)
	require.Len(t, notifications, 2)
	assert.Equal(t, "quote-7-01J", notifications[0].ExternalReference)
	assert.Equal(t, domain.StatusApproved, notifications[0].Status)
	assert.Equal(t, "quote-8-01K", notifications[1].ExternalReference)
	assert.Equal(t, domain.StatusCancelled, notifications[1].Status)
	assert.Equal(t, "7914073381342286", notifications[1].ProviderPaymentID)
}

func TestVerifyNotification(t *testing.T) {
	adapter := newTestAdapter(t, http.NotFoundHandler())

	signed := notificationPayload(t, "AUTHORISATION", "true", true)
	assert.NoError(t, adapter.VerifyNotification(context.Background(), signed, http.Header{}))

	unsigned := notificationPayload(t, "AUTHORISATION", "true", false)
	assert.ErrorIs(t, adapter.VerifyNotification(context.Background(), unsigned, http.Header{}), domain.ErrInvalidSignature)

	var root notificationRoot
	require.NoError(t, json.Unmarshal(signed, &root))
	root.NotificationItems[0].NotificationRequestItem.Success = "false"
	tampered, err := json.Marshal(root)
	require.NoError(t, err)
	assert.ErrorIs(t, adapter.VerifyNotification(context.Background(), tampered, http.Header{}), domain.ErrInvalidSignature)
}

func TestTestConnection(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v71/paymentMethods", r.URL.Path)
		_, _ = io.WriteString(w, `{"paymentMethods":[{"type":"scheme"},{"type":"pix"}]}`)
	}))
	result := adapter.TestConnection(context.Background())
	assert.True(t, result.Success)
	assert.Contains(t, result.Message, "2 payment methods")
}
