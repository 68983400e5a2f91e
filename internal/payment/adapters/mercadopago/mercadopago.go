// Package mercadopago adapts Mercado Pago: Pix and boleto are created as direct
// payments, card and "any" go through a Checkout Pro preference.
package mercadopago

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/mercadopago/sdk-go/pkg/config"
	"github.com/mercadopago/sdk-go/pkg/payment"
	"github.com/mercadopago/sdk-go/pkg/paymentmethod"
	"github.com/mercadopago/sdk-go/pkg/preference"
	"github.com/smallbiznis/paygate/internal/payment/adapters"
	"github.com/smallbiznis/paygate/internal/payment/domain"
)

const providerID = "mercadopago"

// preferenceSearchLimit bounds the payments read for one hosted checkout.
const preferenceSearchLimit = 30

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return providerID
}

func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.Adapter, error) {
	if err := adapters.RequireCredentials(cfg, "access_token"); err != nil {
		return nil, err
	}

	sdkCfg, err := config.New(
		strings.TrimSpace(cfg.Credentials["access_token"]),
		config.WithHTTPClient(&idempotentRequester{client: adapters.HTTPClient(cfg)}),
	)
	if err != nil {
		return nil, &domain.ConfigurationError{Provider: providerID, Environment: cfg.Environment, Reason: err.Error()}
	}

	return &Adapter{
		environment:   cfg.Environment,
		webhookSecret: strings.TrimSpace(cfg.Credentials["webhook_secret"]),
		payments:      payment.NewClient(sdkCfg),
		preferences:   preference.NewClient(sdkCfg),
		methods:       paymentmethod.NewClient(sdkCfg),
	}, nil
}

type Adapter struct {
	environment   domain.Environment
	webhookSecret string
	payments      payment.Client
	preferences   preference.Client
	methods       paymentmethod.Client
}

func (a *Adapter) CreateCharge(ctx context.Context, req domain.ChargeRequest) *domain.ChargeResult {
	ctx = withIdempotencyKey(ctx, req.ExternalReference)
	if req.Method.IsDirect() {
		return a.createPayment(ctx, req)
	}
	return a.createPreference(ctx, req)
}

func (a *Adapter) createPayment(ctx context.Context, req domain.ChargeRequest) *domain.ChargeResult {
	methodID := "pix"
	if req.Method == domain.MethodBoleto {
		methodID = "bolbradesco"
	}

	resp, err := a.payments.Create(ctx, payment.Request{
		TransactionAmount: req.Amount.InexactFloat64(),
		Description:       req.Description,
		PaymentMethodID:   methodID,
		ExternalReference: req.ExternalReference,
		NotificationURL:   req.NotificationURL,
		Payer:             payerRequest(req.Customer),
	})
	if err != nil {
		return failure(err)
	}

	data := resp.PointOfInteraction.TransactionData
	result := &domain.ChargeResult{
		Success:           true,
		ProviderPaymentID: strconv.Itoa(resp.ID),
		QRCode:            data.QRCode,
		QRCodeImage:       data.QRCodeBase64,
		PaymentLink:       data.TicketURL,
		Status:            MapStatus(resp.Status),
		ProviderStatus:    rawStatus(resp.Status, resp.StatusDetail),
	}
	if req.Method == domain.MethodBoleto && result.PaymentLink == "" {
		result.PaymentLink = resp.TransactionDetails.ExternalResourceURL
	}
	return result
}

func (a *Adapter) createPreference(ctx context.Context, req domain.ChargeRequest) *domain.ChargeResult {
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "BRL"
	}

	request := preference.Request{
		Items: []preference.ItemRequest{
			{
				ID:          req.ExternalReference,
				Title:       req.Description,
				Description: req.Description,
				Quantity:    1,
				UnitPrice:   req.Amount.InexactFloat64(),
				CurrencyID:  currency,
			},
		},
		Payer: &preference.PayerRequest{
			Name:  req.Customer.Name,
			Email: req.Customer.Email,
		},
		ExternalReference: req.ExternalReference,
		NotificationURL:   req.NotificationURL,
	}
	if req.ReturnURL != "" {
		request.BackURLs = &preference.BackURLsRequest{
			Success: req.ReturnURL,
			Failure: req.ReturnURL,
			Pending: req.ReturnURL,
		}
		request.AutoReturn = "approved"
	}

	resp, err := a.preferences.Create(ctx, request)
	if err != nil {
		return failure(err)
	}

	link := resp.InitPoint
	if a.environment == domain.EnvironmentSandbox && resp.SandboxInitPoint != "" {
		link = resp.SandboxInitPoint
	}
	return &domain.ChargeResult{
		Success:           true,
		ProviderPaymentID: resp.ID,
		PaymentLink:       link,
		Status:            domain.StatusPending,
	}
}

// GetPaymentStatus looks up a payment id. Hosted charges are stored with their
// preference id until a payment exists, so a non-numeric id is resolved to the
// payments made against the preference's external reference.
func (a *Adapter) GetPaymentStatus(ctx context.Context, paymentID string) (*domain.ChargeResult, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, &domain.ValidationError{Fields: []string{"payment_id"}, Message: "invalid mercadopago payment id"}
	}
	if _, err := strconv.Atoi(paymentID); err != nil {
		return a.preferenceStatus(ctx, paymentID)
	}

	resp, err := a.getPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	return paymentResult(resp), nil
}

// preferenceStatus reports the approved payment of a preference, or its most
// recent one. A preference nobody paid yet is pending.
func (a *Adapter) preferenceStatus(ctx context.Context, preferenceID string) (*domain.ChargeResult, error) {
	pref, err := a.preferences.Get(ctx, preferenceID)
	if err != nil {
		return nil, &domain.ProviderRequestError{Provider: providerID, Result: failure(err)}
	}
	reference := strings.TrimSpace(pref.ExternalReference)
	if reference == "" {
		return nil, &domain.ValidationError{Fields: []string{"payment_id"}, Message: "mercadopago preference has no external reference"}
	}

	found, err := a.payments.Search(ctx, payment.SearchRequest{
		Limit: preferenceSearchLimit,
		Filters: map[string]string{
			"external_reference": reference,
			"sort":               "date_created",
			"criteria":           "desc",
		},
	})
	if err != nil {
		return nil, &domain.ProviderRequestError{Provider: providerID, Result: failure(err)}
	}
	if len(found.Results) == 0 {
		return &domain.ChargeResult{
			Success:           true,
			ProviderPaymentID: preferenceID,
			Status:            domain.StatusPending,
			ProviderStatus:    "preference:awaiting_payment",
		}, nil
	}

	chosen := &found.Results[0]
	for i := range found.Results {
		if MapStatus(found.Results[i].Status) == domain.StatusApproved {
			chosen = &found.Results[i]
			break
		}
	}
	return paymentResult(chosen), nil
}

func paymentResult(resp *payment.Response) *domain.ChargeResult {
	return &domain.ChargeResult{
		Success:           true,
		ProviderPaymentID: strconv.Itoa(resp.ID),
		Status:            MapStatus(resp.Status),
		ProviderStatus:    rawStatus(resp.Status, resp.StatusDetail),
	}
}

func (a *Adapter) getPayment(ctx context.Context, paymentID string) (*payment.Response, error) {
	id, err := strconv.Atoi(strings.TrimSpace(paymentID))
	if err != nil || id <= 0 {
		return nil, &domain.ValidationError{Fields: []string{"payment_id"}, Message: "invalid mercadopago payment id"}
	}
	resp, err := a.payments.Get(ctx, id)
	if err != nil {
		return nil, &domain.ProviderRequestError{Provider: providerID, Result: failure(err)}
	}
	return resp, nil
}

// TestConnection lists the account's payment methods, which needs a valid token and changes nothing.
func (a *Adapter) TestConnection(ctx context.Context) domain.ConnectionResult {
	methods, err := a.methods.List(ctx)
	if err != nil {
		return domain.ConnectionResult{Success: false, Message: err.Error()}
	}
	return domain.ConnectionResult{
		Success: true,
		Message: "connected, " + strconv.Itoa(len(methods)) + " payment methods available",
	}
}

func payerRequest(customer domain.Customer) *payment.PayerRequest {
	first, last := splitName(customer.Name)
	payer := &payment.PayerRequest{
		Email:     customer.Email,
		FirstName: first,
		LastName:  last,
	}
	if digits := domain.TaxIDDigits(customer.TaxID); digits != "" {
		idType := "CPF"
		if len(digits) == 14 {
			idType = "CNPJ"
		}
		payer.Identification = &payment.IdentificationRequest{Type: idType, Number: digits}
	}
	if addr := customer.Address; addr != nil {
		payer.Address = &payment.AddressRequest{
			ZipCode:      addr.ZipCode,
			StreetName:   addr.Street,
			StreetNumber: addr.Number,
			Neighborhood: addr.Neighborhood,
			City:         addr.City,
			FederalUnit:  addr.State,
		}
	}
	return payer
}

func splitName(name string) (string, string) {
	parts := strings.Fields(name)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}

func failure(err error) *domain.ChargeResult {
	return domain.Failed(err.Error(), domain.IsTimeout(err))
}

func rawStatus(status, detail string) string {
	status = strings.TrimSpace(status)
	detail = strings.TrimSpace(detail)
	if detail == "" || detail == status {
		return status
	}
	return status + ":" + detail
}

type idempotencyKey struct{}

func withIdempotencyKey(ctx context.Context, key string) context.Context {
	key = strings.TrimSpace(key)
	if key == "" {
		return ctx
	}
	return context.WithValue(ctx, idempotencyKey{}, key)
}

// idempotentRequester replaces the SDK's random idempotency key with the
// charge's external reference so repeated creates collapse provider-side.
type idempotentRequester struct {
	client *http.Client
}

func (r *idempotentRequester) Do(req *http.Request) (*http.Response, error) {
	if key, ok := req.Context().Value(idempotencyKey{}).(string); ok && req.Method == http.MethodPost {
		req.Header.Set("X-Idempotency-Key", key)
	}
	return r.client.Do(req)
}
