package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/paygate/internal/payment/domain"
)

// maxWebhookBody bounds provider callbacks; real payloads are a few KiB.
const maxWebhookBody = 1 << 20

// HandlePaymentWebhook acknowledges every callback it could attribute, including
// unknown charges and conflicts, so providers stop redelivering it. Conflicts are
// logged by the reconciliation guard.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil || len(payload) == 0 {
		AbortWithError(c, invalidRequestError())
		return
	}

	var orgHint snowflake.ID
	if raw := c.Query("org_id"); raw != "" {
		parsed, err := parseOptionalSnowflakeID(raw)
		if err != nil {
			AbortWithError(c, newValidationError("org_id", "invalid_org_id", "invalid organization"))
			return
		}
		orgHint = *parsed
	}

	result, err := s.notifications.IngestNotification(c.Request.Context(), provider, orgHint, payload, c.Request.Header)
	if err != nil && !(result != nil && errors.Is(err, paymentdomain.ErrReconciliationConflict)) {
		AbortWithError(c, err)
		return
	}

	c.Set("notification_outcome", string(result.Outcome))
	body := gin.H{"status": "ok", "outcome": result.Outcome}
	if len(result.Items) > 1 {
		body["items"] = result.Items
	}
	c.JSON(http.StatusOK, body)
}
