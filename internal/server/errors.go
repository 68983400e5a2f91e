package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/paygate/internal/authorization"
	gatewaydomain "github.com/smallbiznis/paygate/internal/gatewayconfig/domain"
	paymentdomain "github.com/smallbiznis/paygate/internal/payment/domain"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
	// Charge is the existing charge behind a reconciliation conflict, so the
	// caller can choose between reusing it and cancelling it.
	Charge *paymentdomain.Charge `json:"charge,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
	ErrRateLimited        = errors.New("rate_limited")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	var fieldErr *paymentdomain.ValidationError
	if errors.As(err, &fieldErr) {
		payload := errorPayload{Type: "validation_error", Message: fieldErr.Message}
		for _, field := range fieldErr.Fields {
			payload.Errors = append(payload.Errors, ValidationError{Field: field, Code: "invalid_" + field, Message: fieldErr.Message})
		}
		return http.StatusBadRequest, payload
	}

	var conflict *paymentdomain.ReconciliationConflict
	if errors.As(err, &conflict) {
		return http.StatusConflict, errorPayload{
			Type:    string(conflict.Reason),
			Message: conflict.Error(),
			Charge:  conflict.Charge,
		}
	}

	var cfgErr *paymentdomain.ConfigurationError
	if errors.As(err, &cfgErr) {
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "configuration_error",
			Message: cfgErr.Error(),
		}
	}

	var providerErr *paymentdomain.ProviderRequestError
	if errors.As(err, &providerErr) {
		return http.StatusBadGateway, errorPayload{
			Type:    "provider_error",
			Message: providerErr.Error(),
		}
	}

	switch {
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   "request",
					Code:    err.Error(),
					Message: "invalid value",
				},
			},
		}
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, authorization.ErrInvalidActor),
		errors.Is(err, paymentdomain.ErrInvalidSignature):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden),
		errors.Is(err, paymentdomain.ErrPrivilegeRequired):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, paymentdomain.ErrCreationInProgress):
		return http.StatusConflict, errorPayload{
			Type:    "creation_in_progress",
			Message: "a charge for this reference is being created",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, gatewaydomain.ErrEncryptionKeyMissing):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	case paymentdomain.IsTimeout(err):
		return http.StatusGatewayTimeout, errorPayload{
			Type:    "provider_timeout",
			Message: "provider did not answer in time",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog feeds error_type and error_code into request logs.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, paymentdomain.ErrInvalidOrganization),
		errors.Is(err, paymentdomain.ErrInvalidCharge),
		errors.Is(err, gatewaydomain.ErrInvalidOrganization),
		errors.Is(err, gatewaydomain.ErrInvalidProvider),
		errors.Is(err, gatewaydomain.ErrInvalidConfig),
		errors.Is(err, authorization.ErrInvalidOrganization):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, paymentdomain.ErrChargeNotFound),
		errors.Is(err, paymentdomain.ErrProviderNotFound),
		errors.Is(err, gatewaydomain.ErrNotFound):
		return true
	default:
		return false
	}
}
