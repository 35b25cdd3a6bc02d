package services

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/storefront/services/payments/internal/gateway"
	"example.com/storefront/services/payments/internal/messaging"
	"example.com/storefront/services/payments/internal/metrics"
	"example.com/storefront/services/payments/internal/models"
)

// SubscriptionDetail is one subscription with its recorded charges.
type SubscriptionDetail struct {
	Subscription models.Subscription      `json:"subscription"`
	Charges      []models.RecurringCharge `json:"charges"`
}

// SubscriptionService is the self-service surface for managing existing
// subscriptions. Every mutation goes to the gateway first; the local row only
// moves once the gateway has accepted the change.
type SubscriptionService struct {
	subs      SubscriptionStore
	gateway   SubscriptionGateway
	publisher messaging.Publisher
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewSubscriptionService creates a subscription service
func NewSubscriptionService(subs SubscriptionStore, gw SubscriptionGateway, publisher messaging.Publisher, m *metrics.Metrics) *SubscriptionService {
	return &SubscriptionService{
		subs:      subs,
		gateway:   gw,
		publisher: publisher,
		metrics:   m,
		now:       time.Now,
	}
}

// List returns a page of subscriptions with the total count.
func (s *SubscriptionService) List(ctx context.Context, offset, limit int) ([]models.Subscription, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.subs.List(ctx, offset, limit)
}

// Get returns one subscription and its recorded recurring charges.
func (s *SubscriptionService) Get(ctx context.Context, gatewayID string) (*SubscriptionDetail, error) {
	sub, err := s.subs.GetByGatewayID(ctx, gatewayID)
	if err != nil {
		return nil, err
	}
	charges, err := s.subs.GetCharges(ctx, gatewayID)
	if err != nil {
		return nil, err
	}
	return &SubscriptionDetail{Subscription: *sub, Charges: charges}, nil
}

// Pause pauses billing on the subscription.
func (s *SubscriptionService) Pause(ctx context.Context, gatewayID string) (*models.Subscription, error) {
	return s.transition(ctx, gatewayID, models.SubscriptionPaused, func(ctx context.Context) error {
		_, err := s.gateway.PauseSubscription(ctx, gatewayID)
		return err
	})
}

// Resume resumes billing on a paused subscription.
func (s *SubscriptionService) Resume(ctx context.Context, gatewayID string) (*models.Subscription, error) {
	return s.transition(ctx, gatewayID, models.SubscriptionActive, func(ctx context.Context) error {
		_, err := s.gateway.ResumeSubscription(ctx, gatewayID)
		return err
	})
}

// Cancel cancels the subscription immediately. Remaining paid time on the
// gateway side is forfeited, matching the gateway's immediate-cancel
// semantics.
func (s *SubscriptionService) Cancel(ctx context.Context, gatewayID string) (*models.Subscription, error) {
	return s.transition(ctx, gatewayID, models.SubscriptionCancelled, func(ctx context.Context) error {
		_, err := s.gateway.CancelSubscription(ctx, gatewayID, false)
		return err
	})
}

func (s *SubscriptionService) transition(ctx context.Context, gatewayID string, target models.SubscriptionStatus, remoteCall func(context.Context) error) (*models.Subscription, error) {
	sub, err := s.subs.GetByGatewayID(ctx, gatewayID)
	if err != nil {
		return nil, err
	}
	if !sub.Status.CanTransitionTo(target) {
		return nil, errors.Wrapf(models.ErrIllegalTransition, "%s -> %s", sub.Status, target)
	}

	if err := remoteCall(ctx); err != nil {
		s.metrics.Inc(metrics.GatewayErrors)
		return nil, errors.Wrapf(err, "gateway rejected subscription %s", target)
	}

	applied, err := s.subs.UpdateStatus(ctx, gatewayID, target, models.ActorUser)
	if err != nil {
		if errors.Is(err, models.ErrIllegalTransition) {
			// The webhook moved the row while the gateway call was in
			// flight; its state wins.
			log.Debug().
				Str("subscription_id", gatewayID).
				Str("target_status", string(target)).
				Msg("Subscription already moved by webhook")
		} else {
			return nil, err
		}
	}

	if applied {
		s.publish(ctx, messaging.Outcome{
			Type:           messaging.OutcomeSubscriptionStatus,
			SubscriptionID: gatewayID,
			Actor:          string(models.ActorUser),
			OccurredAt:     s.now(),
		})
	}

	return s.subs.GetByGatewayID(ctx, gatewayID)
}

// ChangePlan moves the subscription to a different gateway plan. The change
// takes effect on the next billing cycle.
func (s *SubscriptionService) ChangePlan(ctx context.Context, gatewayID, planRef string, quantity int) (*models.Subscription, error) {
	local, err := s.subs.GetByGatewayID(ctx, gatewayID)
	if err != nil {
		return nil, err
	}
	if local.Status.IsTerminal() {
		return nil, errors.Wrapf(models.ErrIllegalTransition, "subscription is %s", local.Status)
	}

	remote, err := s.gateway.UpdateSubscription(ctx, gatewayID, gateway.UpdateSubscriptionRequest{
		PlanID:   planRef,
		Quantity: quantity,
	})
	if err != nil {
		s.metrics.Inc(metrics.GatewayErrors)
		return nil, errors.Wrap(err, "gateway rejected plan change")
	}

	local.PlanRef = remote.PlanID
	if remote.Quantity > 0 {
		local.Quantity = remote.Quantity
	}
	if remote.ChargeAt > 0 {
		t := time.Unix(remote.ChargeAt, 0)
		local.NextChargeAt = &t
	}
	if err := s.subs.Upsert(ctx, local); err != nil {
		return nil, err
	}
	return local, nil
}

func (s *SubscriptionService) publish(ctx context.Context, outcome messaging.Outcome) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, outcome); err != nil {
		log.Warn().Err(err).Str("type", outcome.Type).Msg("Failed to publish subscription outcome")
	}
}
