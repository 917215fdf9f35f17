package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	entitlementdomain "github.com/sdiaoune/reel-foundry-landing-page/internal/entitlement/domain"
)

func (s *Server) HandleCreateTenant(c *gin.Context) {
	var req entitlementdomain.CreateTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.entitlementSvc.CreateTenant(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (s *Server) HandleGetEntitlement(c *gin.Context) {
	tenantID, err := parseTenantID(c.Param("tenantId"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.entitlementSvc.GetByTenant(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func parseTenantID(raw string) (snowflake.ID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, entitlementdomain.ErrInvalidTenant
	}
	tenantID, err := snowflake.ParseString(raw)
	if err != nil {
		return 0, entitlementdomain.ErrInvalidTenant
	}
	return tenantID, nil
}
