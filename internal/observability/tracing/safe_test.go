package tracing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsSensitiveKeys(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("provider", "stripe"),
		attribute.String("customer.tax_id", "123"),
		attribute.String("webhook_secret", "whsec"),
	)
	assert.Len(t, attrs, 1)
	assert.Equal(t, attribute.Key("provider"), attrs[0].Key)
}

func TestSafeErrorTrimsPayload(t *testing.T) {
	err := SafeError(errors.New(`provider rejected: {"access_token":"x"}`))
	assert.EqualError(t, err, "provider rejected")
	assert.Nil(t, SafeError(nil))
}
