package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sdiaoune/reel-foundry-landing-page/internal/tenantctx"
)

type startGenerationRequest struct {
	TenantID string `json:"tenant_id"`
	Count    int64  `json:"count"`
}

type startGenerationResponse struct {
	Accepted  bool  `json:"accepted"`
	Remaining int64 `json:"remaining"`
}

// HandleStartGeneration is the product-side entry point for a quota-consuming
// action. The gate check and the quota consumption both happen before any
// downstream work would be dispatched, so a denied tenant never reaches the
// creative pipeline.
func (s *Server) HandleStartGeneration(c *gin.Context) {
	var req startGenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	tenantID, err := parseTenantID(req.TenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	count := req.Count
	if count <= 0 {
		count = 1
	}

	ctx := tenantctx.WithTenantID(c.Request.Context(), tenantID)

	decision, err := s.gate.Check(ctx, tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !decision.Allowed {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error": gin.H{
				"type":    "access_denied",
				"message": "access denied",
				"reason":  string(decision.Reason),
			},
		})
		return
	}

	usage, err := s.meter.TryConsume(ctx, tenantID, count)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, startGenerationResponse{Accepted: true, Remaining: usage.Remaining()})
}
