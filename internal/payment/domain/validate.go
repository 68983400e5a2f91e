package domain

import (
	"net/mail"
	"strings"
)

// Validate checks the request before any provider is contacted. Pix needs the
// payer's tax id and boleto additionally needs a billing address.
func (r ChargeRequest) Validate() error {
	var missing []string
	add := func(field string, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, field)
		}
	}

	if !r.Amount.IsPositive() {
		missing = append(missing, "amount")
	}
	add("description", r.Description)
	add("external_reference", r.ExternalReference)
	add("customer.name", r.Customer.Name)
	add("customer.email", r.Customer.Email)

	switch r.Method {
	case MethodPix:
		add("customer.tax_id", r.Customer.TaxID)
	case MethodBoleto:
		add("customer.tax_id", r.Customer.TaxID)
		address := r.Customer.Address
		if address == nil {
			address = &Address{}
		}
		add("customer.address.street", address.Street)
		add("customer.address.number", address.Number)
		add("customer.address.city", address.City)
		add("customer.address.state", address.State)
		add("customer.address.zip_code", address.ZipCode)
	case MethodCard, MethodAny:
	default:
		missing = append(missing, "payment_method")
	}

	if len(missing) > 0 {
		return &ValidationError{Fields: missing, Message: "missing or invalid fields"}
	}
	if _, err := mail.ParseAddress(r.Customer.Email); err != nil {
		return &ValidationError{Fields: []string{"customer.email"}, Message: "invalid email"}
	}
	return nil
}

// TaxIDDigits strips formatting from CPF/CNPJ values.
func TaxIDDigits(taxID string) string {
	var b strings.Builder
	for _, r := range taxID {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
