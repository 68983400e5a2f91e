package server

import (
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/paygate/internal/payment/domain"
)

func parseOptionalSnowflakeID(value string) (*snowflake.ID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := snowflake.ParseString(trimmed)
	if err != nil || parsed == 0 {
		return nil, errors.New("invalid_snowflake_id")
	}
	return &parsed, nil
}

func chargeIDParam(c *gin.Context) (snowflake.ID, error) {
	id, err := parseOptionalSnowflakeID(c.Param("id"))
	if err != nil || id == nil {
		return 0, newValidationError("id", "invalid_id", "invalid charge id")
	}
	return *id, nil
}

// parseOptionalEnvironment accepts sandbox/production and their test/live aliases.
func parseOptionalEnvironment(value string) (paymentdomain.Environment, error) {
	if strings.TrimSpace(value) == "" {
		return "", nil
	}
	env, ok := paymentdomain.ParseEnvironment(value)
	if !ok {
		return "", newValidationError("environment", "invalid_environment", "invalid environment")
	}
	return env, nil
}
