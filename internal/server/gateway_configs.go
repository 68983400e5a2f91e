package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	gatewaydomain "github.com/smallbiznis/paygate/internal/gatewayconfig/domain"
)

type upsertGatewayConfigRequest struct {
	Sandbox    map[string]string `json:"sandbox_credentials"`
	Production map[string]string `json:"production_credentials"`
	IsSandbox  *bool             `json:"is_sandbox"`
	IsActive   *bool             `json:"is_active"`
}

type updateGatewayConfigStatusRequest struct {
	IsActive *bool `json:"is_active"`
}

func (s *Server) ListGatewayConfigs(c *gin.Context) {
	resp, err := s.gatewaySvc.ListConfigs(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"configs": resp})
}

func (s *Server) GetGatewayConfig(c *gin.Context) {
	resp, err := s.gatewaySvc.GetConfig(c.Request.Context(), strings.TrimSpace(c.Param("provider")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"config": resp})
}

func (s *Server) UpsertGatewayConfig(c *gin.Context) {
	var req upsertGatewayConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.gatewaySvc.UpsertConfig(c.Request.Context(), gatewaydomain.UpsertRequest{
		Provider:   strings.TrimSpace(c.Param("provider")),
		Sandbox:    req.Sandbox,
		Production: req.Production,
		IsSandbox:  req.IsSandbox,
		IsActive:   req.IsActive,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"config": resp})
}

func (s *Server) UpdateGatewayConfigStatus(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	var req updateGatewayConfigStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.IsActive == nil {
		AbortWithError(c, newValidationError("is_active", "invalid_is_active", "invalid is_active"))
		return
	}

	resp, err := s.gatewaySvc.SetActive(c.Request.Context(), provider, *req.IsActive)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"config": resp})
}

func (s *Server) TestGatewayConnection(c *gin.Context) {
	env, err := parseOptionalEnvironment(c.Query("environment"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.paymentSvc.TestConnection(c.Request.Context(), c.Param("provider"), env)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": result})
}
