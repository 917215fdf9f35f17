package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	checkoutservice "github.com/sdiaoune/reel-foundry-landing-page/internal/checkout"
)

type createCheckoutSessionRequest struct {
	TenantID string `json:"tenant_id"`
	PlanCode string `json:"plan_code"`
	PriceID  string `json:"price_id"`
}

func (s *Server) HandleCreateCheckoutSession(c *gin.Context) {
	var req createCheckoutSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	tenantID, err := parseTenantID(req.TenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	// Checkout is only offered for provisioned workspaces.
	if _, err := s.entitlementSvc.GetByTenant(c.Request.Context(), tenantID); err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.checkoutSvc.CreateSession(c.Request.Context(), tenantID, checkoutservice.CreateSessionRequest{
		PlanCode: req.PlanCode,
		PriceID:  req.PriceID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}
