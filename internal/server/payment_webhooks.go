package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	gatewaydomain "github.com/smallbiznis/dojopay/internal/gateway/domain"
	obslogger "github.com/smallbiznis/dojopay/internal/observability/logger"
	webhookdomain "github.com/smallbiznis/dojopay/internal/webhook/domain"
	"go.uber.org/zap"
)

const (
	headerStripeSignature = "Stripe-Signature"
	maxWebhookBodyBytes   = 1 << 20
)

// HandleStripeWebhook answers the processor directly rather than through the
// error middleware: 400 tells it the delivery is bad, 500 asks for a retry.
func (s *Server) HandleStripeWebhook(c *gin.Context) {
	ctx := c.Request.Context()
	log := obslogger.WithContext(ctx, s.log)

	if strings.TrimSpace(s.cfg.Processor.WebhookSecret) == "" {
		log.Error("webhook.secret_missing")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: errorPayload{
			Type:    "configuration_error",
			Message: "webhook secret is not configured",
		}})
		return
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	result, err := s.webhooks.HandleWebhook(ctx, payload, c.GetHeader(headerStripeSignature))
	if err != nil {
		if isWebhookRejection(err) {
			log.Warn("webhook.rejected", zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		log.Error("webhook.failed",
			zap.String("event_id", result.EventID),
			zap.String("event_type", result.EventType),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook processing failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

func isWebhookRejection(err error) bool {
	return errors.Is(err, webhookdomain.ErrMissingSignature) ||
		errors.Is(err, gatewaydomain.ErrInvalidSignature) ||
		errors.Is(err, gatewaydomain.ErrInvalidPayload) ||
		errors.Is(err, gatewaydomain.ErrInvalidEvent)
}
