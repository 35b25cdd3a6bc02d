package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/storefront/services/payments/config"
	"example.com/storefront/services/payments/internal/gateway"
	"example.com/storefront/services/payments/internal/messaging"
	"example.com/storefront/services/payments/internal/metrics"
	"example.com/storefront/services/payments/internal/models"
	"example.com/storefront/services/payments/internal/repositories"
	"example.com/storefront/services/payments/internal/search"
	"example.com/storefront/services/payments/internal/signature"
)

// CaptureModeManual leaves authorized payments for this service to capture;
// anything else lets the gateway capture at authorization time.
const CaptureModeManual = "manual"

// ReconciliationService applies gateway webhook events and catch-up polls to
// local order and subscription state. Every transition goes through the
// conditional updates in the stores, so replaying the same event is always a
// no-op.
type ReconciliationService struct {
	orders    OrderStore
	subs      SubscriptionStore
	gateway   ReconcilerGateway
	publisher messaging.Publisher
	indexer   search.AuditIndexer
	metrics   *metrics.Metrics
	cfg       config.GatewayConfig
	reconcile config.ReconcileConfig
	now       func() time.Time
}

// NewReconciliationService creates a reconciliation service
func NewReconciliationService(
	orders OrderStore,
	subs SubscriptionStore,
	gw ReconcilerGateway,
	publisher messaging.Publisher,
	indexer search.AuditIndexer,
	m *metrics.Metrics,
	gatewayCfg config.GatewayConfig,
	reconcileCfg config.ReconcileConfig,
) *ReconciliationService {
	return &ReconciliationService{
		orders:    orders,
		subs:      subs,
		gateway:   gw,
		publisher: publisher,
		indexer:   indexer,
		metrics:   m,
		cfg:       gatewayCfg,
		reconcile: reconcileCfg,
		now:       time.Now,
	}
}

// ProcessWebhook verifies and applies one raw webhook delivery.
//
// Unknown events, events for records this service does not own and
// re-deliveries of already applied events all return nil so the gateway
// stops redelivering. ErrRaceConflict asks for redelivery after the
// checkout-return freshness window. Signature errors are returned as-is;
// gateway or storage failures are returned wrapped so the caller can answer
// with a retryable status.
func (s *ReconciliationService) ProcessWebhook(ctx context.Context, raw []byte, signatureHeader string) error {
	s.metrics.Inc(metrics.EventsReceived)

	if err := signature.VerifyWebhook(raw, signatureHeader, s.cfg.WebhookSecret); err != nil {
		s.metrics.Inc(metrics.SignatureFailures)
		return err
	}

	env, err := parseEnvelope(raw)
	if err != nil || env.Event == "" {
		log.Warn().Err(err).Msg("Discarding unparseable webhook payload")
		s.metrics.Inc(metrics.EventsIgnored)
		return nil
	}

	log.Debug().Str("event", env.Event).Msg("Processing webhook event")

	switch env.Event {
	case EventPaymentAuthorized:
		return s.handlePaymentAuthorized(ctx, env)
	case EventPaymentFailed:
		return s.handlePaymentFailed(ctx, env)
	case EventOrderPaid:
		return s.handleOrderPaid(ctx, env)
	case EventSubscriptionPaused:
		return s.handleSubscriptionStatus(ctx, env, models.SubscriptionPaused)
	case EventSubscriptionResumed:
		return s.handleSubscriptionStatus(ctx, env, models.SubscriptionActive)
	case EventSubscriptionCancelled:
		return s.handleSubscriptionStatus(ctx, env, models.SubscriptionCancelled)
	case EventSubscriptionCharged:
		return s.handleSubscriptionCharged(ctx, env)
	default:
		log.Debug().Str("event", env.Event).Msg("Ignoring unhandled webhook event")
		s.metrics.Inc(metrics.EventsIgnored)
		return nil
	}
}

// checkFreshness defers events whose payment was created moments ago, so the
// checkout return gets first shot at resolving the order. Events without a
// payment creation time are never deferred.
func (s *ReconciliationService) checkFreshness(createdAt int64) error {
	if createdAt <= 0 {
		return nil
	}
	age := s.now().Sub(time.Unix(createdAt, 0))
	if age < FreshnessWindow {
		s.metrics.Inc(metrics.EventsConflict)
		return ErrRaceConflict
	}
	return nil
}

// orderIDFromNotes resolves the local order a gateway resource was created
// for. Resources without the note belong to another integration.
func orderIDFromNotes(notes map[string]string) (uuid.UUID, bool) {
	ref, ok := notes[gateway.NoteMerchantOrderID]
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(ref)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func (s *ReconciliationService) handlePaymentAuthorized(ctx context.Context, env *webhookEnvelope) error {
	// Under auto capture the gateway settles the payment itself and
	// order.paid carries the resolution.
	if s.cfg.CaptureMode != CaptureModeManual {
		s.metrics.Inc(metrics.EventsIgnored)
		return nil
	}
	if env.Payload.Payment == nil {
		s.metrics.Inc(metrics.EventsIgnored)
		return nil
	}
	event := env.Payload.Payment.Entity

	if err := s.checkFreshness(event.CreatedAt); err != nil {
		return err
	}

	orderID, ok := orderIDFromNotes(event.Notes)
	if !ok {
		s.metrics.Inc(metrics.EventsIgnored)
		return nil
	}

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repositories.ErrOrderNotFound) {
			s.metrics.Inc(metrics.EventsIgnored)
			return nil
		}
		return errors.Wrap(err, "failed to load order for authorized payment")
	}
	if order.Status != models.OrderStatusPending {
		s.metrics.Inc(metrics.EventsDuplicate)
		return nil
	}

	// Re-fetch the payment rather than trusting event ordering: a capture
	// may already have happened through the checkout return.
	payment, err := s.gateway.FetchPayment(ctx, event.ID)
	if err != nil {
		s.metrics.Inc(metrics.GatewayErrors)
		return errors.Wrap(err, "failed to fetch authorized payment")
	}
	if payment.Amount != order.Amount {
		log.Warn().
			Err(ErrAmountMismatch).
			Str("order_id", order.ID.String()).
			Str("payment_ref", payment.ID).
			Int64("order_amount", order.Amount).
			Int64("payment_amount", payment.Amount).
			Msg("Refusing to capture payment with mismatching amount")
		s.metrics.Inc(metrics.EventsIgnored)
		return nil
	}
	if payment.Status == gateway.PaymentStatusAuthorized {
		if payment, err = s.gateway.CapturePayment(ctx, payment.ID, order.Amount, order.Currency); err != nil {
			s.metrics.Inc(metrics.GatewayErrors)
			return errors.Wrap(err, "failed to capture authorized payment")
		}
	}
	if payment.Status != gateway.PaymentStatusCaptured {
		s.metrics.Inc(metrics.EventsIgnored)
		return nil
	}

	return s.markOrderPaid(ctx, order, payment.ID, models.ActorWebhook)
}

// handlePaymentFailed acknowledges failed payment attempts without touching
// the order. The order stays pending so the customer can retry, and the
// checkout return reports the failure to them directly.
func (s *ReconciliationService) handlePaymentFailed(_ context.Context, env *webhookEnvelope) error {
	if env.Payload.Payment != nil {
		log.Debug().
			Str("payment_ref", env.Payload.Payment.Entity.ID).
			Msg("Payment attempt failed, leaving order pending")
	}
	s.metrics.Inc(metrics.EventsIgnored)
	return nil
}

func (s *ReconciliationService) handleOrderPaid(ctx context.Context, env *webhookEnvelope) error {
	if env.Payload.Payment == nil {
		s.metrics.Inc(metrics.EventsIgnored)
		return nil
	}
	event := env.Payload.Payment.Entity

	if err := s.checkFreshness(event.CreatedAt); err != nil {
		return err
	}

	// Invoice-backed payments are recurring charges; subscription.charged
	// owns those.
	if event.InvoiceID != "" {
		invoice, err := s.gateway.FetchInvoice(ctx, event.InvoiceID)
		if err != nil {
			s.metrics.Inc(metrics.GatewayErrors)
			return errors.Wrap(err, "failed to fetch invoice for paid order")
		}
		if invoice.SubscriptionID != "" {
			s.metrics.Inc(metrics.EventsIgnored)
			return nil
		}
	}

	orderID, ok := orderIDFromNotes(event.Notes)
	if !ok {
		s.metrics.Inc(metrics.EventsIgnored)
		return nil
	}

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repositories.ErrOrderNotFound) {
			s.metrics.Inc(metrics.EventsIgnored)
			return nil
		}
		return errors.Wrap(err, "failed to load order for paid event")
	}

	return s.markOrderPaid(ctx, order, event.ID, models.ActorWebhook)
}

func (s *ReconciliationService) handleSubscriptionStatus(ctx context.Context, env *webhookEnvelope, target models.SubscriptionStatus) error {
	if env.Payload.Subscription == nil {
		s.metrics.Inc(metrics.EventsIgnored)
		return nil
	}
	event := env.Payload.Subscription.Entity

	if !s.ownsSubscription(&event) {
		s.metrics.Inc(metrics.EventsIgnored)
		return nil
	}

	applied, err := s.subs.UpdateStatus(ctx, event.ID, target, models.ActorWebhook)
	if err != nil {
		if errors.Is(err, models.ErrIllegalTransition) {
			log.Warn().
				Str("subscription_id", event.ID).
				Str("target_status", string(target)).
				Msg("Ignoring out-of-order subscription status event")
			s.metrics.Inc(metrics.EventsIgnored)
			return nil
		}
		if errors.Is(err, repositories.ErrSubscriptionNotFound) {
			s.metrics.Inc(metrics.EventsIgnored)
			return nil
		}
		return errors.Wrap(err, "failed to update subscription status")
	}
	if !applied {
		s.metrics.Inc(metrics.EventsDuplicate)
		return nil
	}

	s.metrics.Inc(metrics.EventsApplied)
	s.publish(ctx, messaging.Outcome{
		Type:           messaging.OutcomeSubscriptionStatus,
		SubscriptionID: event.ID,
		Actor:          string(models.ActorWebhook),
		OccurredAt:     s.now(),
	})
	return nil
}

func (s *ReconciliationService) handleSubscriptionCharged(ctx context.Context, env *webhookEnvelope) error {
	if env.Payload.Subscription == nil || env.Payload.Payment == nil {
		s.metrics.Inc(metrics.EventsIgnored)
		return nil
	}
	event := env.Payload.Subscription.Entity
	payment := env.Payload.Payment.Entity

	if !s.ownsSubscription(&event) {
		s.metrics.Inc(metrics.EventsIgnored)
		return nil
	}
	if err := s.checkFreshness(payment.CreatedAt); err != nil {
		return err
	}

	local, err := s.subs.GetByGatewayID(ctx, event.ID)
	if err != nil {
		if errors.Is(err, repositories.ErrSubscriptionNotFound) {
			s.metrics.Inc(metrics.EventsIgnored)
			return nil
		}
		return errors.Wrap(err, "failed to load subscription for charge")
	}

	// The event's counters may be stale under redelivery; the fetched
	// subscription is authoritative.
	remote, err := s.gateway.FetchSubscription(ctx, event.ID)
	if err != nil {
		s.metrics.Inc(metrics.GatewayErrors)
		return errors.Wrap(err, "failed to fetch charged subscription")
	}

	if remote.PaidCount <= 1 {
		// The first charge is the setup payment the checkout flow already
		// accounted for; only the counters need syncing.
		if err := s.syncSubscription(ctx, local, remote); err != nil {
			return err
		}
		s.metrics.Inc(metrics.EventsDuplicate)
		return nil
	}

	inserted, err := s.subs.RecordCharge(ctx, event.ID, payment.ID, payment.Amount)
	if err != nil {
		return errors.Wrap(err, "failed to record recurring charge")
	}
	if !inserted {
		s.metrics.Inc(metrics.EventsDuplicate)
		return nil
	}

	if err := s.syncSubscription(ctx, local, remote); err != nil {
		return err
	}

	entry, err := s.orders.AppendHistory(ctx, local.OrderID, models.OrderStatusPaid,
		"Subscription charged successfully. Gateway payment id: "+payment.ID, models.ActorWebhook)
	if err != nil {
		return errors.Wrap(err, "failed to append charge history")
	}

	s.metrics.Inc(metrics.EventsApplied)
	s.publish(ctx, messaging.Outcome{
		Type:           messaging.OutcomeSubscriptionCharged,
		OrderID:        local.OrderID.String(),
		SubscriptionID: event.ID,
		PaymentRef:     payment.ID,
		Amount:         payment.Amount,
		Actor:          string(models.ActorWebhook),
		OccurredAt:     s.now(),
	})
	s.index(ctx, local.OrderID, entry)
	return nil
}

// ownsSubscription checks the source tag the checkout flow stamps on every
// subscription it creates. Events for other integrations on the same gateway
// account are not ours to apply.
func (s *ReconciliationService) ownsSubscription(event *gateway.Subscription) bool {
	if event.Source == s.cfg.SourceTag {
		return true
	}
	return event.Notes[gateway.NoteSource] == s.cfg.SourceTag
}

// syncSubscription overwrites local counters and status with the gateway's
// view of the subscription.
func (s *ReconciliationService) syncSubscription(ctx context.Context, local *models.Subscription, remote *gateway.Subscription) error {
	local.PaidCount = remote.PaidCount
	local.TotalCount = remote.TotalCount
	local.RemainingCount = remote.RemainingCount
	if remote.Quantity > 0 {
		local.Quantity = remote.Quantity
	}
	if remote.PlanID != "" {
		local.PlanRef = remote.PlanID
	}
	if remote.CustomerID != "" {
		local.CustomerRef = remote.CustomerID
	}
	if status := models.SubscriptionStatus(remote.Status); models.ValidSubscriptionStatus(status) {
		local.Status = status
		local.StatusChangedBy = models.ActorSystem
	}
	if remote.StartAt > 0 {
		t := time.Unix(remote.StartAt, 0)
		local.StartAt = &t
	}
	if remote.ChargeAt > 0 {
		t := time.Unix(remote.ChargeAt, 0)
		local.NextChargeAt = &t
	}
	if err := s.subs.Upsert(ctx, local); err != nil {
		return errors.Wrap(err, "failed to sync subscription state")
	}
	return nil
}

func (s *ReconciliationService) markOrderPaid(ctx context.Context, order *models.Order, paymentRef string, actor models.Actor) error {
	entry, err := s.orders.MarkPaidOnce(ctx, order.ID, paymentRef, actor)
	if err != nil {
		return errors.Wrap(err, "failed to mark order paid")
	}
	if entry == nil {
		s.metrics.Inc(metrics.EventsDuplicate)
		return nil
	}

	s.metrics.Inc(metrics.EventsApplied)
	log.Info().
		Str("order_id", order.ID.String()).
		Str("payment_ref", paymentRef).
		Str("actor", string(actor)).
		Msg("Order marked paid")

	s.publish(ctx, messaging.Outcome{
		Type:       messaging.OutcomeOrderPaid,
		OrderID:    order.ID.String(),
		PaymentRef: paymentRef,
		Amount:     order.Amount,
		Actor:      string(actor),
		OccurredAt: s.now(),
	})
	s.index(ctx, order.ID, entry)
	return nil
}

// ReconcilePendingOrders sweeps orders that have carried a gateway reference
// past the grace period without resolving, and settles the ones the gateway
// reports as paid. Covers webhook deliveries lost for good.
func (s *ReconciliationService) ReconcilePendingOrders(ctx context.Context) error {
	cutoff := s.now().Add(-s.reconcile.PendingGrace)
	pending, err := s.orders.ListPendingWithGatewayRef(ctx, cutoff, s.reconcile.BatchSize)
	if err != nil {
		return errors.Wrap(err, "failed to list pending orders")
	}

	for i := range pending {
		order := &pending[i]
		if err := s.reconcileOrder(ctx, order); err != nil {
			log.Error().Err(err).
				Str("order_id", order.ID.String()).
				Msg("Failed to reconcile pending order")
		}
	}
	return nil
}

func (s *ReconciliationService) reconcileOrder(ctx context.Context, order *models.Order) error {
	remote, err := s.gateway.FetchOrder(ctx, *order.GatewayOrderID)
	if err != nil {
		s.metrics.Inc(metrics.GatewayErrors)
		return errors.Wrap(err, "failed to fetch gateway order")
	}
	if remote.Status != gateway.OrderStatusPaid {
		return nil
	}

	payments, err := s.gateway.FetchOrderPayments(ctx, *order.GatewayOrderID)
	if err != nil {
		s.metrics.Inc(metrics.GatewayErrors)
		return errors.Wrap(err, "failed to fetch gateway order payments")
	}

	var paymentRef string
	for _, p := range payments {
		if p.Status == gateway.PaymentStatusCaptured {
			paymentRef = p.ID
			break
		}
	}
	if paymentRef == "" {
		return nil
	}

	if err := s.markOrderPaid(ctx, order, paymentRef, models.ActorSystem); err != nil {
		return err
	}
	s.metrics.Inc(metrics.ReconcilerCatchup)
	return nil
}

func (s *ReconciliationService) publish(ctx context.Context, outcome messaging.Outcome) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, outcome); err != nil {
		log.Warn().Err(err).Str("type", outcome.Type).Msg("Failed to publish reconciliation outcome")
	}
}

func (s *ReconciliationService) index(ctx context.Context, orderID uuid.UUID, entry *models.OrderHistory) {
	if s.indexer == nil || entry == nil {
		return
	}
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		log.Warn().Err(err).Str("order_id", orderID.String()).Msg("Failed to load order for audit indexing")
		return
	}
	if err := s.indexer.IndexOrderHistory(ctx, order, entry); err != nil {
		log.Warn().Err(err).Str("order_id", orderID.String()).Msg("Failed to index audit entry")
	}
}
