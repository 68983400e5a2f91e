package mercadopago

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/paygate/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	method         string
	path           string
	idempotencyKey string
	body           string
}

// fakeAPI answers Mercado Pago API paths with canned JSON.
type fakeAPI struct {
	mu        sync.Mutex
	requests  []recordedRequest
	responses map[string]fakeResponse
	err       error
}

type fakeResponse struct {
	status int
	body   string
}

func (f *fakeAPI) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
	}
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{
		method:         req.Method,
		path:           req.URL.Path,
		idempotencyKey: req.Header.Get("X-Idempotency-Key"),
		body:           string(body),
	})
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	resp, ok := f.responses[req.Method+" "+req.URL.Path]
	if !ok {
		resp = fakeResponse{status: http.StatusNotFound, body: `{"message":"not found","status":404}`}
	}
	return &http.Response{
		StatusCode: resp.status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(resp.body)),
		Request:    req,
	}, nil
}

func newTestAdapter(t *testing.T, api *fakeAPI, env domain.Environment, creds map[string]string) *Adapter {
	t.Helper()
	if creds == nil {
		creds = map[string]string{"access_token": "TEST-token"}
	}
	adapter, err := NewFactory().NewAdapter(domain.AdapterConfig{
		Provider:    providerID,
		Environment: env,
		Credentials: creds,
		HTTPClient:  &http.Client{Transport: api},
	})
	require.NoError(t, err)
	return adapter.(*Adapter)
}

func chargeRequest(method domain.PaymentMethod) domain.ChargeRequest {
	return domain.ChargeRequest{
		Amount:            decimal.RequireFromString("100.00"),
		Currency:          "BRL",
		Description:       "Quote Q-1",
		ExternalReference: "Q-1-01HX",
		Customer: domain.Customer{
			Name:  "Ana Maria Souza",
			Email: "ana@example.com",
			TaxID: "123.456.789-09",
		},
		NotificationURL: "https://pay.example.com/webhooks/mercadopago",
		Method:          method,
	}
}

func TestFactoryRequiresAccessToken(t *testing.T) {
	_, err := NewFactory().NewAdapter(domain.AdapterConfig{
		Provider:    providerID,
		Environment: domain.EnvironmentProduction,
		Credentials: map[string]string{"webhook_secret": "x"},
	})
	var cfgErr *domain.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, []string{"access_token"}, cfgErr.Missing)
	assert.Equal(t, domain.EnvironmentProduction, cfgErr.Environment)
}

func TestCreatePixChargeReturnsQRCode(t *testing.T) {
	api := &fakeAPI{responses: map[string]fakeResponse{
		"POST /v1/payments": {status: http.StatusCreated, body: `{
			"id": 123456,
			"status": "pending",
			"status_detail": "pending_waiting_transfer",
			"external_reference": "Q-1-01HX",
			"point_of_interaction": {"transaction_data": {
				"qr_code": "00020126580014br.gov.bcb.pix",
				"qr_code_base64": "iVBORw0KGgo=",
				"ticket_url": "https://www.mercadopago.com.br/payments/123456/ticket"
			}}
		}`},
	}}
	adapter := newTestAdapter(t, api, domain.EnvironmentSandbox, nil)

	result := adapter.CreateCharge(context.Background(), chargeRequest(domain.MethodPix))

	require.True(t, result.Success, result.Message)
	assert.Equal(t, "123456", result.ProviderPaymentID)
	assert.Equal(t, domain.StatusPending, result.Status)
	assert.Equal(t, "pending:pending_waiting_transfer", result.ProviderStatus)
	assert.NotEmpty(t, result.QRCode)
	assert.NotEmpty(t, result.QRCodeImage)

	require.Len(t, api.requests, 1)
	assert.Equal(t, "Q-1-01HX", api.requests[0].idempotencyKey)
	assert.Contains(t, api.requests[0].body, `"payment_method_id":"pix"`)
	assert.Contains(t, api.requests[0].body, `"number":"12345678909"`)
}

func TestCreateHostedChargeUsesSandboxInitPoint(t *testing.T) {
	api := &fakeAPI{responses: map[string]fakeResponse{
		"POST /checkout/preferences": {status: http.StatusCreated, body: `{
			"id": "pref-1",
			"init_point": "https://www.mercadopago.com.br/checkout/v1/redirect?pref_id=pref-1",
			"sandbox_init_point": "https://sandbox.mercadopago.com.br/checkout/v1/redirect?pref_id=pref-1"
		}`},
	}}
	adapter := newTestAdapter(t, api, domain.EnvironmentSandbox, nil)

	result := adapter.CreateCharge(context.Background(), chargeRequest(domain.MethodAny))

	require.True(t, result.Success, result.Message)
	assert.Equal(t, domain.StatusPending, result.Status)
	assert.Equal(t, "pref-1", result.ProviderPaymentID)
	assert.True(t, strings.HasPrefix(result.PaymentLink, "https://sandbox."))
	assert.Equal(t, "Q-1-01HX", api.requests[0].idempotencyKey)
}

func TestCreateChargeNeverReturnsError(t *testing.T) {
	t.Run("provider rejection", func(t *testing.T) {
		api := &fakeAPI{responses: map[string]fakeResponse{
			"POST /v1/payments": {status: http.StatusBadRequest, body: `{"message":"invalid payer identification","status":400}`},
		}}
		adapter := newTestAdapter(t, api, domain.EnvironmentProduction, nil)

		result := adapter.CreateCharge(context.Background(), chargeRequest(domain.MethodPix))
		assert.False(t, result.Success)
		assert.Equal(t, domain.StatusRejected, result.Status)
		assert.NotEmpty(t, result.Message)
		assert.False(t, result.Retryable)
	})

	t.Run("timeout", func(t *testing.T) {
		api := &fakeAPI{err: context.DeadlineExceeded}
		adapter := newTestAdapter(t, api, domain.EnvironmentProduction, nil)

		result := adapter.CreateCharge(context.Background(), chargeRequest(domain.MethodPix))
		assert.False(t, result.Success)
		assert.Equal(t, domain.StatusRejected, result.Status)
		assert.True(t, result.Retryable)
	})
}

func TestGetPaymentStatus(t *testing.T) {
	api := &fakeAPI{responses: map[string]fakeResponse{
		"GET /v1/payments/123456": {status: http.StatusOK, body: `{"id":123456,"status":"approved","status_detail":"accredited","external_reference":"Q-1-01HX"}`},
	}}
	adapter := newTestAdapter(t, api, domain.EnvironmentProduction, nil)

	result, err := adapter.GetPaymentStatus(context.Background(), "123456")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, result.Status)
	assert.Equal(t, "approved:accredited", result.ProviderStatus)

	_, err = adapter.GetPaymentStatus(context.Background(), " ")
	var vErr *domain.ValidationError
	assert.ErrorAs(t, err, &vErr)

	_, err = adapter.GetPaymentStatus(context.Background(), "999")
	var pErr *domain.ProviderRequestError
	assert.ErrorAs(t, err, &pErr)
}

func TestGetPaymentStatusResolvesPreference(t *testing.T) {
	api := &fakeAPI{responses: map[string]fakeResponse{
		"GET /checkout/preferences/123-pref": {status: http.StatusOK, body: `{"id":"123-pref","external_reference":"Q-1-01HX"}`},
		"GET /v1/payments/search": {status: http.StatusOK, body: `{
			"paging": {"total": 2, "limit": 30, "offset": 0},
			"results": [
				{"id": 900002, "status": "rejected", "status_detail": "cc_rejected_other_reason", "external_reference": "Q-1-01HX"},
				{"id": 900001, "status": "approved", "status_detail": "accredited", "external_reference": "Q-1-01HX"}
			]
		}`},
	}}
	adapter := newTestAdapter(t, api, domain.EnvironmentProduction, nil)

	result, err := adapter.GetPaymentStatus(context.Background(), "123-pref")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, result.Status)
	assert.Equal(t, "900001", result.ProviderPaymentID)
	assert.Equal(t, "approved:accredited", result.ProviderStatus)

	require.Len(t, api.requests, 2)
	assert.Equal(t, "/v1/payments/search", api.requests[1].path)
}

func TestGetPaymentStatusUnpaidPreferenceIsPending(t *testing.T) {
	api := &fakeAPI{responses: map[string]fakeResponse{
		"GET /checkout/preferences/123-pref": {status: http.StatusOK, body: `{"id":"123-pref","external_reference":"Q-1-01HX"}`},
		"GET /v1/payments/search":            {status: http.StatusOK, body: `{"paging":{"total":0,"limit":30,"offset":0},"results":[]}`},
	}}
	adapter := newTestAdapter(t, api, domain.EnvironmentProduction, nil)

	result, err := adapter.GetPaymentStatus(context.Background(), "123-pref")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, result.Status)
	assert.Equal(t, "123-pref", result.ProviderPaymentID)
}

func TestCreateBoletoChargeSendsPayerAddress(t *testing.T) {
	api := &fakeAPI{responses: map[string]fakeResponse{
		"POST /v1/payments": {status: http.StatusCreated, body: `{"id":123456,"status":"pending","status_detail":"pending_waiting_transfer"}`},
	}}
	adapter := newTestAdapter(t, api, domain.EnvironmentSandbox, nil)

	req := chargeRequest(domain.MethodBoleto)
	req.Customer.Address = &domain.Address{
		Street:       "Av. Paulista",
		Number:       "1000",
		Neighborhood: "Bela Vista",
		City:         "Sao Paulo",
		State:        "SP",
		ZipCode:      "01310100",
	}
	result := adapter.CreateCharge(context.Background(), req)
	require.True(t, result.Success, result.Message)

	require.Len(t, api.requests, 1)
	var body struct {
		Payer struct {
			Address struct {
				StreetName   string `json:"street_name"`
				StreetNumber string `json:"street_number"`
				FederalUnit  string `json:"federal_unit"`
				ZipCode      string `json:"zip_code"`
			} `json:"address"`
		} `json:"payer"`
	}
	require.NoError(t, json.Unmarshal([]byte(api.requests[0].body), &body))
	assert.Equal(t, "Av. Paulista", body.Payer.Address.StreetName)
	assert.Equal(t, "1000", body.Payer.Address.StreetNumber)
	assert.Equal(t, "SP", body.Payer.Address.FederalUnit)
	assert.Equal(t, "01310100", body.Payer.Address.ZipCode)
}

func TestHandleNotification(t *testing.T) {
	api := &fakeAPI{responses: map[string]fakeResponse{
		"GET /v1/payments/123456": {status: http.StatusOK, body: `{"id":123456,"status":"approved","status_detail":"accredited","external_reference":"Q-1-01HX"}`},
	}}
	adapter := newTestAdapter(t, api, domain.EnvironmentProduction, nil)

	cases := []struct {
		name    string
		payload string
	}{
		{name: "webhook string id", payload: `{"type":"payment","action":"payment.updated","data":{"id":"123456"}}`},
		{name: "webhook numeric id", payload: `{"type":"payment","action":"payment.updated","data":{"id":123456}}`},
		{name: "ipn resource url", payload: `{"topic":"payment","resource":"https://api.mercadolibre.com/collections/notifications/123456"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			notifications, err := adapter.HandleNotification(context.Background(), []byte(tc.payload))
			require.NoError(t, err)
			require.Len(t, notifications, 1)
			n := notifications[0]
			assert.Equal(t, "Q-1-01HX", n.ExternalReference)
			assert.Equal(t, domain.StatusApproved, n.Status)
			assert.Equal(t, "123456", n.ProviderPaymentID)
		})
	}
}

func TestHandleNotificationRejectsUnknownShapes(t *testing.T) {
	adapter := newTestAdapter(t, &fakeAPI{}, domain.EnvironmentProduction, nil)

	for _, payload := range []string{
		`{"type":"merchant_order","data":{"id":"1"}}`,
		`{"topic":"chargebacks","resource":"1"}`,
		`{"hello":"world"}`,
		`not json`,
		`{"type":"payment","data":{}}`,
	} {
		_, err := adapter.HandleNotification(context.Background(), []byte(payload))
		assert.True(t, errors.Is(err, domain.ErrUnsupportedNotification), payload)
	}
}

func TestVerifyNotification(t *testing.T) {
	secret := "mp-secret"
	adapter := newTestAdapter(t, &fakeAPI{}, domain.EnvironmentProduction, map[string]string{
		"access_token":   "APP_USR-token",
		"webhook_secret": secret,
	})
	payload := []byte(`{"type":"payment","data":{"id":"123456"}}`)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("id:123456;request-id:req-9;ts:1700000000;"))
	headers := http.Header{}
	headers.Set("X-Signature", "ts=1700000000,v1="+hex.EncodeToString(mac.Sum(nil)))
	headers.Set("X-Request-Id", "req-9")

	require.NoError(t, adapter.VerifyNotification(context.Background(), payload, headers))

	headers.Set("X-Signature", "ts=1700000000,v1=deadbeef")
	assert.ErrorIs(t, adapter.VerifyNotification(context.Background(), payload, headers), domain.ErrInvalidSignature)

	unsigned := newTestAdapter(t, &fakeAPI{}, domain.EnvironmentProduction, nil)
	assert.NoError(t, unsigned.VerifyNotification(context.Background(), payload, http.Header{}))
}

func TestTestConnection(t *testing.T) {
	api := &fakeAPI{responses: map[string]fakeResponse{
		"GET /v1/payment_methods": {status: http.StatusOK, body: `[{"id":"pix"},{"id":"visa"}]`},
	}}
	result := newTestAdapter(t, api, domain.EnvironmentProduction, nil).TestConnection(context.Background())
	assert.True(t, result.Success)
	assert.Contains(t, result.Message, "2 payment methods")

	failing := newTestAdapter(t, &fakeAPI{responses: map[string]fakeResponse{
		"GET /v1/payment_methods": {status: http.StatusUnauthorized, body: `{"message":"invalid access token","status":401}`},
	}}, domain.EnvironmentProduction, nil)
	assert.False(t, failing.TestConnection(context.Background()).Success)
}

func TestMapStatusIsTotal(t *testing.T) {
	cases := map[string]domain.Status{
		"approved":     domain.StatusApproved,
		"authorized":   domain.StatusApproved,
		"pending":      domain.StatusPending,
		"in_process":   domain.StatusPending,
		"in_mediation": domain.StatusPending,
		"rejected":     domain.StatusRejected,
		"cancelled":    domain.StatusCancelled,
		"refunded":     domain.StatusCancelled,
		"charged_back": domain.StatusCancelled,
		"":             domain.StatusPending,
		"APPROVED ":    domain.StatusApproved,
		"brand_new":    domain.StatusPending,
	}
	for raw, want := range cases {
		assert.Equal(t, want, MapStatus(raw), raw)
	}
}

func TestFlexibleID(t *testing.T) {
	var body webhookPayload
	require.NoError(t, json.Unmarshal([]byte(`{"data":{"id":42}}`), &body))
	assert.Equal(t, "42", body.paymentID())
}
