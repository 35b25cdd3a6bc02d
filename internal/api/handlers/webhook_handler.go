package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/storefront/services/payments/internal/gateway"
	"example.com/storefront/services/payments/internal/services"
	"example.com/storefront/services/payments/internal/signature"
	"example.com/storefront/services/payments/internal/tracing"
)

// WebhookProcessor applies one raw webhook delivery.
type WebhookProcessor interface {
	ProcessWebhook(ctx context.Context, raw []byte, signatureHeader string) error
}

// WebhookHandler handles gateway webhook deliveries
type WebhookHandler struct {
	processor WebhookProcessor
	tracer    tracing.Tracer
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(processor WebhookProcessor, tracer tracing.Tracer) *WebhookHandler {
	return &WebhookHandler{
		processor: processor,
		tracer:    tracer,
	}
}

// HandleWebhook receives one gateway webhook delivery. The response status
// steers the gateway's redelivery: 2xx acknowledges, 409 asks it to retry
// after the checkout-return window, 5xx asks it to retry on infrastructure
// faults. Signature failures are acknowledged, since the gateway would
// redeliver the same bytes with the same signature forever.
func (h *WebhookHandler) HandleWebhook(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-gateway-webhook")
	defer h.tracer.EndTransaction(txn)

	raw, err := c.GetRawData()
	if err != nil {
		log.Error().Err(err).Msg("Failed to read webhook body")
		h.tracer.RecordError(txn, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	err = h.processor.ProcessWebhook(c.Request.Context(), raw, c.GetHeader(gateway.SignatureHeader))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	case errors.Is(err, services.ErrRaceConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "delivery raced a checkout return, retry later"})
	case errors.Is(err, signature.ErrMismatch), errors.Is(err, signature.ErrMissingSecret):
		log.Warn().Err(err).Msg("Rejected webhook with bad signature")
		h.tracer.RecordError(txn, err)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
	default:
		log.Error().Err(err).Msg("Failed to process webhook")
		h.tracer.RecordError(txn, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// RegisterRoutes registers the handler's routes
func (h *WebhookHandler) RegisterRoutes(router *gin.Engine) {
	router.POST("/webhook", h.HandleWebhook)
}
