package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/storefront/services/payments/internal/gateway"
	"example.com/storefront/services/payments/internal/services"
	"example.com/storefront/services/payments/internal/tracing"
)

// CheckoutFlow drives the hosted-checkout round trip.
type CheckoutFlow interface {
	Begin(ctx context.Context, req services.BeginCheckoutRequest) (*services.CheckoutIntent, error)
	Complete(ctx context.Context, req services.CompleteCheckoutRequest) (*services.CheckoutResult, error)
}

// CheckoutHandler handles hosted-checkout HTTP requests
type CheckoutHandler struct {
	checkout CheckoutFlow
	tracer   tracing.Tracer
}

// NewCheckoutHandler creates a new checkout handler
func NewCheckoutHandler(checkout CheckoutFlow, tracer tracing.Tracer) *CheckoutHandler {
	return &CheckoutHandler{
		checkout: checkout,
		tracer:   tracer,
	}
}

// BeginCheckoutRequest represents a request to start hosted checkout
type BeginCheckoutRequest struct {
	SessionID       string     `json:"session_id" binding:"required"`
	PlanID          *uuid.UUID `json:"plan_id"`
	CustomerName    string     `json:"customer_name"`
	CustomerEmail   string     `json:"customer_email"`
	CustomerContact string     `json:"customer_contact"`
}

// CompleteCheckoutRequest represents the gateway's checkout callback. The
// gateway posts it as a form; JSON is accepted for storefront proxies.
type CompleteCheckoutRequest struct {
	SessionID  string `form:"session_id" json:"session_id" binding:"required"`
	PaymentRef string `form:"gateway_payment_id" json:"gateway_payment_id"`
	Signature  string `form:"gateway_signature" json:"gateway_signature"`
}

func orderIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("order_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return uuid.Nil, false
	}
	return id, true
}

// HandleBeginCheckout starts hosted checkout for an order
func (h *CheckoutHandler) HandleBeginCheckout(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-begin-checkout")
	defer h.tracer.EndTransaction(txn)

	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	var req BeginCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Error().Err(err).Msg("Invalid checkout request body")
		h.tracer.RecordError(txn, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.tracer.AddAttribute(txn, "order_id", orderID.String())

	intent, err := h.checkout.Begin(c.Request.Context(), services.BeginCheckoutRequest{
		SessionID: req.SessionID,
		OrderID:   orderID,
		PlanID:    req.PlanID,
		Customer: gateway.CustomerRequest{
			Name:    req.CustomerName,
			Email:   req.CustomerEmail,
			Contact: req.CustomerContact,
		},
	})
	if err != nil {
		h.tracer.RecordError(txn, err)
		if errors.Is(err, services.ErrOrderAlreadyPaid) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		log.Error().Err(err).Str("order_id", orderID.String()).Msg("Failed to begin checkout")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, intent)
}

// HandleCheckoutCallback resolves the customer's return from hosted checkout
func (h *CheckoutHandler) HandleCheckoutCallback(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-checkout-callback")
	defer h.tracer.EndTransaction(txn)

	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	var req CompleteCheckoutRequest
	if err := c.ShouldBind(&req); err != nil {
		log.Error().Err(err).Msg("Invalid checkout callback")
		h.tracer.RecordError(txn, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.tracer.AddAttribute(txn, "order_id", orderID.String())

	result, err := h.checkout.Complete(c.Request.Context(), services.CompleteCheckoutRequest{
		SessionID:  req.SessionID,
		OrderID:    orderID,
		PaymentRef: req.PaymentRef,
		Signature:  req.Signature,
	})
	if err != nil {
		log.Error().Err(err).Str("order_id", orderID.String()).Msg("Failed to complete checkout")
		h.tracer.RecordError(txn, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

// RegisterRoutes registers the handler's routes
func (h *CheckoutHandler) RegisterRoutes(router *gin.Engine) {
	router.POST("/checkout/:order_id", h.HandleBeginCheckout)
	router.POST("/checkout/:order_id/callback", h.HandleCheckoutCallback)
}
