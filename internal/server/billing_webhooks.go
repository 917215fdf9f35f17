package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxWebhookBodyBytes = 1 << 20

func (s *Server) HandleBillingWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))

	allowed, err := s.webhookLimiter.AllowProvider(c.Request.Context(), provider)
	if err != nil {
		// A broken limiter must not drop provider deliveries.
		s.log.Warn("webhook rate limiter unavailable", zap.Error(err))
		allowed = true
	}
	if !allowed {
		AbortWithError(c, ErrRateLimited)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.webhookSvc.IngestWebhook(c.Request.Context(), provider, payload, c.Request.Header); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
