package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/storefront/services/payments/internal/models"
	"example.com/storefront/services/payments/internal/repositories"
	"example.com/storefront/services/payments/internal/services"
	"example.com/storefront/services/payments/internal/tracing"
)

// SubscriptionManager is the self-service surface for subscriptions.
type SubscriptionManager interface {
	List(ctx context.Context, offset, limit int) ([]models.Subscription, int64, error)
	Get(ctx context.Context, gatewayID string) (*services.SubscriptionDetail, error)
	Pause(ctx context.Context, gatewayID string) (*models.Subscription, error)
	Resume(ctx context.Context, gatewayID string) (*models.Subscription, error)
	Cancel(ctx context.Context, gatewayID string) (*models.Subscription, error)
	ChangePlan(ctx context.Context, gatewayID, planRef string, quantity int) (*models.Subscription, error)
}

// SubscriptionHandler handles subscription self-service HTTP requests
type SubscriptionHandler struct {
	subscriptions SubscriptionManager
	tracer        tracing.Tracer
}

// NewSubscriptionHandler creates a new subscription handler
func NewSubscriptionHandler(subscriptions SubscriptionManager, tracer tracing.Tracer) *SubscriptionHandler {
	return &SubscriptionHandler{
		subscriptions: subscriptions,
		tracer:        tracer,
	}
}

// ChangePlanRequest represents a request to move a subscription to another plan
type ChangePlanRequest struct {
	PlanRef  string `json:"plan_ref" binding:"required"`
	Quantity int    `json:"quantity"`
}

// HandleListSubscriptions returns a page of subscriptions
func (h *SubscriptionHandler) HandleListSubscriptions(c *gin.Context) {
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	subs, total, err := h.subscriptions.List(c.Request.Context(), offset, limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list subscriptions")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"subscriptions": subs,
		"total":         total,
		"offset":        offset,
		"limit":         limit,
	})
}

// HandleGetSubscription returns one subscription with its recorded charges
func (h *SubscriptionHandler) HandleGetSubscription(c *gin.Context) {
	detail, err := h.subscriptions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// HandlePauseSubscription pauses billing on a subscription
func (h *SubscriptionHandler) HandlePauseSubscription(c *gin.Context) {
	h.mutate(c, "api-pause-subscription", h.subscriptions.Pause)
}

// HandleResumeSubscription resumes billing on a paused subscription
func (h *SubscriptionHandler) HandleResumeSubscription(c *gin.Context) {
	h.mutate(c, "api-resume-subscription", h.subscriptions.Resume)
}

// HandleCancelSubscription cancels a subscription immediately
func (h *SubscriptionHandler) HandleCancelSubscription(c *gin.Context) {
	h.mutate(c, "api-cancel-subscription", h.subscriptions.Cancel)
}

// HandleChangePlan moves a subscription to a different plan
func (h *SubscriptionHandler) HandleChangePlan(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-change-subscription-plan")
	defer h.tracer.EndTransaction(txn)

	var req ChangePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.tracer.RecordError(txn, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sub, err := h.subscriptions.ChangePlan(c.Request.Context(), c.Param("id"), req.PlanRef, req.Quantity)
	if err != nil {
		h.tracer.RecordError(txn, err)
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (h *SubscriptionHandler) mutate(c *gin.Context, txnName string, op func(context.Context, string) (*models.Subscription, error)) {
	txn := h.tracer.StartTransaction(txnName)
	defer h.tracer.EndTransaction(txn)

	sub, err := op(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.tracer.RecordError(txn, err)
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (h *SubscriptionHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repositories.ErrSubscriptionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrIllegalTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		log.Error().Err(err).Str("subscription_id", c.Param("id")).Msg("Subscription operation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// RegisterRoutes registers the handler's routes
func (h *SubscriptionHandler) RegisterRoutes(router *gin.Engine) {
	group := router.Group("/subscriptions")
	group.GET("", h.HandleListSubscriptions)
	group.GET("/:id", h.HandleGetSubscription)
	group.POST("/:id/pause", h.HandlePauseSubscription)
	group.POST("/:id/resume", h.HandleResumeSubscription)
	group.POST("/:id/cancel", h.HandleCancelSubscription)
	group.POST("/:id/plan", h.HandleChangePlan)
}
