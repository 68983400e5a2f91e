package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	paymentdomain "github.com/smallbiznis/paygate/internal/payment/domain"
)

type createChargeRequest struct {
	Provider          string                          `json:"provider"`
	Environment       string                          `json:"environment"`
	Reference         paymentdomain.BusinessReference `json:"reference"`
	Amount            decimal.Decimal                 `json:"amount"`
	Currency          string                          `json:"currency"`
	Description       string                          `json:"description"`
	ExternalReference string                          `json:"external_reference"`
	NotificationURL   string                          `json:"notification_url"`
	ReturnURL         string                          `json:"return_url"`
	PaymentMethod     string                          `json:"payment_method"`
	Customer          paymentdomain.Customer          `json:"customer"`
	CreateTransaction bool                            `json:"create_transaction"`
}

func (s *Server) CreateCharge(c *gin.Context) {
	var req createChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	method, ok := paymentdomain.ParsePaymentMethod(req.PaymentMethod)
	if !ok {
		AbortWithError(c, newValidationError("payment_method", "invalid_payment_method", "invalid payment method"))
		return
	}
	env, err := parseOptionalEnvironment(req.Environment)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	charge, err := s.paymentSvc.CreateCharge(c.Request.Context(), paymentdomain.CreateChargeInput{
		Reference:   req.Reference,
		Provider:    strings.TrimSpace(req.Provider),
		Environment: env,
		Request: paymentdomain.ChargeRequest{
			Amount:            req.Amount,
			Currency:          req.Currency,
			Description:       req.Description,
			ExternalReference: req.ExternalReference,
			Customer:          req.Customer,
			NotificationURL:   strings.TrimSpace(req.NotificationURL),
			ReturnURL:         strings.TrimSpace(req.ReturnURL),
			Method:            method,
		},
		CreateTransaction: req.CreateTransaction,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"charge": charge})
}

func (s *Server) ListCharges(c *gin.Context) {
	charges, err := s.paymentSvc.ListCharges(c.Request.Context(), paymentdomain.BusinessReference{
		Type: c.Query("reference_type"),
		ID:   c.Query("reference_id"),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"charges": charges})
}

func (s *Server) GetCharge(c *gin.Context) {
	id, err := chargeIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	charge, err := s.paymentSvc.GetCharge(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"charge": charge})
}

func (s *Server) RefreshCharge(c *gin.Context) {
	id, err := chargeIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	transition, err := s.paymentSvc.RefreshStatus(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, transitionResponse(transition))
}

func (s *Server) CancelCharge(c *gin.Context) {
	id, err := chargeIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	transition, err := s.paymentSvc.CancelCharge(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, transitionResponse(transition))
}

func (s *Server) ResetCharge(c *gin.Context) {
	id, err := chargeIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	charge, err := s.paymentSvc.ResetCharge(c.Request.Context(), id, actorFromContext(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"charge": charge})
}

func (s *Server) ListProviders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": s.registry.Providers()})
}

func transitionResponse(t *paymentdomain.Transition) gin.H {
	return gin.H{
		"charge":  t.Charge,
		"from":    t.From,
		"to":      t.To,
		"outcome": t.Outcome,
	}
}
