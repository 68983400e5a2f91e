package mercadopago

import (
	"strings"

	"github.com/smallbiznis/paygate/internal/payment/domain"
)

// MapStatus maps a payment status to the canonical lifecycle. Unknown values stay pending.
func MapStatus(status string) domain.Status {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "approved", "authorized":
		return domain.StatusApproved
	case "rejected":
		return domain.StatusRejected
	case "cancelled", "refunded", "charged_back":
		return domain.StatusCancelled
	default:
		// pending, in_process, in_mediation and anything new.
		return domain.StatusPending
	}
}
