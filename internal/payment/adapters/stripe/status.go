package stripe

import (
	"strings"

	"github.com/smallbiznis/paygate/internal/payment/domain"
)

// MapStatus maps PaymentIntent, Charge and Session statuses. Unknown values stay pending.
func MapStatus(status string) domain.Status {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "succeeded", "paid", "no_payment_required":
		return domain.StatusApproved
	case "failed", "declined":
		return domain.StatusRejected
	case "canceled", "cancelled", "expired", "refunded", "charged_back":
		return domain.StatusCancelled
	default:
		// processing, requires_*, open, complete-but-unpaid and anything new.
		return domain.StatusPending
	}
}

// mapSession combines a Checkout Session's status and payment_status.
func mapSession(status, paymentStatus string) domain.Status {
	if mapped := MapStatus(paymentStatus); mapped == domain.StatusApproved {
		return mapped
	}
	if strings.EqualFold(strings.TrimSpace(status), "expired") {
		return domain.StatusCancelled
	}
	return domain.StatusPending
}
