package adyen

import (
	"strings"

	"github.com/smallbiznis/paygate/internal/payment/domain"
)

// MapLinkStatus maps a payment link status. Unknown values stay pending.
func MapLinkStatus(status string) domain.Status {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "completed":
		return domain.StatusApproved
	case "expired":
		return domain.StatusCancelled
	default:
		// active, paymentPending
		return domain.StatusPending
	}
}
