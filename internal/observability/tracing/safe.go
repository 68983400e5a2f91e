package tracing

import (
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

var blockedAttributeKeys = []string{"secret", "token", "password", "authorization", "tax_id", "email"}

// SafeAttributes drops attributes whose keys look like credentials or personal data.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		key := strings.ToLower(string(attr.Key))
		blocked := false
		for _, needle := range blockedAttributeKeys {
			if strings.Contains(key, needle) {
				blocked = true
				break
			}
		}
		if !blocked {
			out = append(out, attr)
		}
	}
	return out
}

// SafeError reduces err to a message without wrapped provider payloads.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if idx := strings.Index(msg, ": {"); idx > 0 {
		msg = msg[:idx]
	}
	return errors.New(msg)
}
