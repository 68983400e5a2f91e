package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRequest(method PaymentMethod) ChargeRequest {
	return ChargeRequest{
		Amount:            decimal.RequireFromString("100.00"),
		Currency:          "BRL",
		Description:       "Quote Q-1",
		ExternalReference: "Q-1-abc",
		Customer: Customer{
			Name:  "Ana Souza",
			Email: "ana@example.com",
			TaxID: "123.456.789-09",
			Address: &Address{
				Street: "Rua A", Number: "10", City: "Sao Paulo", State: "SP", ZipCode: "01000-000",
			},
		},
		Method: method,
	}
}

func TestValidateByMethod(t *testing.T) {
	for _, method := range []PaymentMethod{MethodPix, MethodBoleto, MethodCard, MethodAny} {
		require.NoError(t, validRequest(method).Validate(), method)
	}

	t.Run("pix requires tax id", func(t *testing.T) {
		req := validRequest(MethodPix)
		req.Customer.TaxID = ""
		var vErr *ValidationError
		require.ErrorAs(t, req.Validate(), &vErr)
		assert.Equal(t, []string{"customer.tax_id"}, vErr.Fields)
	})

	t.Run("boleto requires address", func(t *testing.T) {
		req := validRequest(MethodBoleto)
		req.Customer.Address = nil
		var vErr *ValidationError
		require.ErrorAs(t, req.Validate(), &vErr)
		assert.Contains(t, vErr.Fields, "customer.address.zip_code")
		assert.Contains(t, vErr.Fields, "customer.address.street")
	})

	t.Run("card does not need tax id", func(t *testing.T) {
		req := validRequest(MethodCard)
		req.Customer.TaxID = ""
		req.Customer.Address = nil
		require.NoError(t, req.Validate())
	})

	t.Run("amount must be positive", func(t *testing.T) {
		req := validRequest(MethodAny)
		req.Amount = decimal.Zero
		var vErr *ValidationError
		require.ErrorAs(t, req.Validate(), &vErr)
		assert.Equal(t, []string{"amount"}, vErr.Fields)
	})

	t.Run("email must parse", func(t *testing.T) {
		req := validRequest(MethodAny)
		req.Customer.Email = "not-an-email"
		var vErr *ValidationError
		require.ErrorAs(t, req.Validate(), &vErr)
	})
}

func TestStatusTerminality(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	for _, s := range []Status{StatusApproved, StatusRejected, StatusCancelled} {
		assert.True(t, s.IsTerminal())
		assert.True(t, s.Valid())
	}
	assert.False(t, Status("unknown").Valid())
}

func TestParsers(t *testing.T) {
	method, ok := ParsePaymentMethod(" PIX ")
	assert.True(t, ok)
	assert.Equal(t, MethodPix, method)

	method, ok = ParsePaymentMethod("")
	assert.True(t, ok)
	assert.Equal(t, MethodAny, method)

	_, ok = ParsePaymentMethod("crypto")
	assert.False(t, ok)

	env, ok := ParseEnvironment("live")
	assert.True(t, ok)
	assert.Equal(t, EnvironmentProduction, env)
}

func TestErrorsMatchSentinels(t *testing.T) {
	err := fmt.Errorf("ingest: %w", UnsupportedNotification("stripe", "customer.created"))
	assert.True(t, errors.Is(err, ErrUnsupportedNotification))

	conflict := &ReconciliationConflict{Reason: ConflictTerminalState, Charge: &Charge{Status: StatusApproved}, Incoming: StatusRejected}
	assert.True(t, errors.Is(conflict, ErrReconciliationConflict))

	assert.True(t, IsTimeout(fmt.Errorf("call: %w", context.DeadlineExceeded)))
	assert.False(t, IsTimeout(errors.New("boom")))

	assert.Equal(t, "12345678909", TaxIDDigits("123.456.789-09"))
}
