package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/storefront/services/payments/config"
	"example.com/storefront/services/payments/internal/cache"
	"example.com/storefront/services/payments/internal/gateway"
	"example.com/storefront/services/payments/internal/messaging"
	"example.com/storefront/services/payments/internal/metrics"
	"example.com/storefront/services/payments/internal/models"
	"example.com/storefront/services/payments/internal/signature"
)

// BeginCheckoutRequest starts hosted checkout for an order. PlanID switches
// the flow to a subscription purchase; Customer is only used on that path.
type BeginCheckoutRequest struct {
	SessionID string
	OrderID   uuid.UUID
	PlanID    *uuid.UUID
	Customer  gateway.CustomerRequest
}

// CheckoutIntent is what the storefront needs to open the gateway's hosted
// checkout. Exactly one of GatewayOrderID and GatewaySubscriptionID is set.
type CheckoutIntent struct {
	OrderID               uuid.UUID `json:"order_id"`
	Amount                int64     `json:"amount"`
	Currency              string    `json:"currency"`
	GatewayKeyID          string    `json:"gateway_key_id"`
	GatewayOrderID        string    `json:"gateway_order_id,omitempty"`
	GatewaySubscriptionID string    `json:"gateway_subscription_id,omitempty"`
}

// CompleteCheckoutRequest carries the callback parameters the gateway posts
// back after hosted checkout. An empty PaymentRef means the customer failed
// or abandoned the payment.
type CompleteCheckoutRequest struct {
	SessionID  string
	OrderID    uuid.UUID
	PaymentRef string
	Signature  string
}

// CheckoutResult is the resolved outcome of a checkout return.
type CheckoutResult struct {
	OrderID    uuid.UUID          `json:"order_id"`
	Status     models.OrderStatus `json:"status"`
	PaymentRef string             `json:"payment_ref,omitempty"`
	Message    string             `json:"message,omitempty"`
}

// CheckoutService drives the hosted-checkout round trip: creating the remote
// order or subscription up front, and resolving the order when the customer
// returns.
type CheckoutService struct {
	orders    OrderStore
	subs      SubscriptionStore
	plans     PlanStore
	sessions  SessionStore
	gateway   CheckoutGateway
	publisher messaging.Publisher
	metrics   *metrics.Metrics
	cfg       config.GatewayConfig
	now       func() time.Time
}

// NewCheckoutService creates a checkout service
func NewCheckoutService(
	orders OrderStore,
	subs SubscriptionStore,
	plans PlanStore,
	sessions SessionStore,
	gw CheckoutGateway,
	publisher messaging.Publisher,
	m *metrics.Metrics,
	cfg config.GatewayConfig,
) *CheckoutService {
	return &CheckoutService{
		orders:    orders,
		subs:      subs,
		plans:     plans,
		sessions:  sessions,
		gateway:   gw,
		publisher: publisher,
		metrics:   m,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Begin prepares hosted checkout for the order. Calling it twice for the
// same unresolved order reuses the recorded gateway order unless the local
// amount has drifted, in which case a fresh gateway order replaces it.
func (s *CheckoutService) Begin(ctx context.Context, req BeginCheckoutRequest) (*CheckoutIntent, error) {
	order, err := s.orders.GetByID(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if order.Status == models.OrderStatusPaid {
		return nil, ErrOrderAlreadyPaid
	}
	if order.Status != models.OrderStatusPending {
		return nil, errors.Errorf("order %s is %s and cannot be checked out", order.ID, order.Status)
	}

	intent := &CheckoutIntent{
		OrderID:      order.ID,
		Amount:       order.Amount,
		Currency:     order.Currency,
		GatewayKeyID: s.cfg.KeyID,
	}

	state := &cache.CheckoutState{Amount: order.Amount}
	if req.PlanID != nil {
		sub, err := s.beginSubscription(ctx, order, *req.PlanID, req.Customer)
		if err != nil {
			return nil, err
		}
		intent.GatewaySubscriptionID = sub.ID
		state.GatewaySubscriptionID = sub.ID
	} else {
		ref, err := s.ensureGatewayOrder(ctx, order)
		if err != nil {
			return nil, err
		}
		intent.GatewayOrderID = ref
		state.GatewayOrderID = ref
	}

	if err := s.sessions.Set(ctx, req.SessionID, order.ID, state); err != nil {
		return nil, errors.Wrap(err, "failed to store checkout session state")
	}

	s.metrics.Inc(metrics.CheckoutsStarted)
	return intent, nil
}

// ensureGatewayOrder returns the gateway order reference to check out
// against, creating a new remote order when none is recorded yet or the
// recorded one was created for a different amount.
func (s *CheckoutService) ensureGatewayOrder(ctx context.Context, order *models.Order) (string, error) {
	ref, fresh, err := s.orders.ReserveGatewayOrder(ctx, order.ID, order.Amount)
	if err != nil {
		return "", err
	}
	if !fresh {
		return ref, nil
	}

	capture := 1
	if s.cfg.CaptureMode == CaptureModeManual {
		capture = 0
	}
	remote, err := s.gateway.CreateOrder(ctx, gateway.CreateOrderRequest{
		Receipt:        order.ID.String(),
		Amount:         order.Amount,
		Currency:       order.Currency,
		PaymentCapture: capture,
		Notes: map[string]string{
			gateway.NoteMerchantOrderID: order.ID.String(),
			gateway.NoteSource:          s.cfg.SourceTag,
		},
	})
	if err != nil {
		s.metrics.Inc(metrics.GatewayErrors)
		return "", errors.Wrap(err, "failed to create gateway order")
	}

	recorded, err := s.orders.RecordGatewayOrder(ctx, order.ID, remote.ID, order.Amount)
	if err != nil {
		return "", err
	}
	if recorded {
		return remote.ID, nil
	}

	// A concurrent Begin recorded its gateway order first; reuse that one
	// and let ours lapse unused on the gateway side.
	ref, fresh, err = s.orders.ReserveGatewayOrder(ctx, order.ID, order.Amount)
	if err != nil {
		return "", err
	}
	if fresh {
		return "", errors.New("failed to settle on a gateway order reference")
	}
	return ref, nil
}

func (s *CheckoutService) beginSubscription(ctx context.Context, order *models.Order, planID uuid.UUID, customerReq gateway.CustomerRequest) (*gateway.Subscription, error) {
	plan, err := s.plans.GetByID(ctx, planID)
	if err != nil {
		return nil, err
	}

	customer, err := s.gateway.CreateOrFetchCustomer(ctx, customerReq)
	if err != nil {
		s.metrics.Inc(metrics.GatewayErrors)
		return nil, errors.Wrap(err, "failed to create gateway customer")
	}

	subReq := gateway.CreateSubscriptionRequest{
		PlanID:     plan.PlanRef,
		CustomerID: customer.ID,
		TotalCount: plan.BillCycles,
		Quantity:   1,
		Source:     s.cfg.SourceTag,
		Notes: map[string]string{
			gateway.NoteMerchantOrderID: order.ID.String(),
			gateway.NoteSource:          s.cfg.SourceTag,
		},
	}
	if plan.TrialDays > 0 {
		subReq.StartAt = s.now().Add(time.Duration(plan.TrialDays) * 24 * time.Hour).Unix()
	}
	if plan.AddonAmount > 0 {
		subReq.Addons = []gateway.AddonItem{{
			Name:     "Setup charge",
			Amount:   plan.AddonAmount,
			Currency: order.Currency,
		}}
	}

	sub, err := s.gateway.CreateSubscription(ctx, subReq)
	if err != nil {
		s.metrics.Inc(metrics.GatewayErrors)
		return nil, errors.Wrap(err, "failed to create gateway subscription")
	}

	local := &models.Subscription{
		ID:          uuid.New(),
		GatewayID:   sub.ID,
		OrderID:     order.ID,
		PlanRef:     plan.PlanRef,
		CustomerRef: customer.ID,
		Status:      models.SubscriptionCreated,
		PaidCount:   sub.PaidCount,
		TotalCount:  sub.TotalCount,
		Quantity:    1,
		Source:      s.cfg.SourceTag,
	}
	if models.ValidSubscriptionStatus(models.SubscriptionStatus(sub.Status)) {
		local.Status = models.SubscriptionStatus(sub.Status)
	}
	if sub.StartAt > 0 {
		t := time.Unix(sub.StartAt, 0)
		local.StartAt = &t
	}
	if sub.ChargeAt > 0 {
		t := time.Unix(sub.ChargeAt, 0)
		local.NextChargeAt = &t
	}
	if err := s.subs.Upsert(ctx, local); err != nil {
		return nil, err
	}
	return sub, nil
}

// Complete resolves the checkout return. Signature failures and gateway-side
// payment failures resolve the order to failed and come back as a result,
// not an error; errors are reserved for infrastructure faults the storefront
// should retry.
func (s *CheckoutService) Complete(ctx context.Context, req CompleteCheckoutRequest) (*CheckoutResult, error) {
	order, err := s.orders.GetByID(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}

	if req.PaymentRef == "" {
		return s.resolveFailed(ctx, order, req.SessionID, "", "Payment failed or was cancelled at the gateway")
	}

	state, err := s.sessions.Get(ctx, req.SessionID, order.ID)
	if err != nil {
		if !errors.Is(err, cache.ErrSessionStateNotFound) {
			return nil, errors.Wrap(err, "failed to load checkout session state")
		}
		// Session state can expire while the customer sits on the hosted
		// page; the recorded gateway order still lets us verify.
		if order.GatewayOrderID == nil {
			return nil, errors.New("no checkout in progress for this order")
		}
		state = &cache.CheckoutState{GatewayOrderID: *order.GatewayOrderID, Amount: order.Amount}
	}

	if state.GatewaySubscriptionID != "" {
		err = signature.VerifySubscription(state.GatewaySubscriptionID, req.PaymentRef, req.Signature, s.cfg.KeySecret)
	} else {
		err = signature.VerifyPayment(state.GatewayOrderID, req.PaymentRef, req.Signature, s.cfg.KeySecret)
	}
	if err != nil {
		if !errors.Is(err, signature.ErrMismatch) {
			return nil, err
		}
		s.metrics.Inc(metrics.SignatureFailures)
		return s.resolveFailed(ctx, order, req.SessionID, req.PaymentRef,
			"Payment signature verification failed. Gateway payment id: "+req.PaymentRef)
	}

	if state.GatewaySubscriptionID != "" {
		s.syncAfterPurchase(ctx, state.GatewaySubscriptionID)
	}

	entry, err := s.orders.MarkPaidOnce(ctx, order.ID, req.PaymentRef, models.ActorUser)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		s.publish(ctx, messaging.Outcome{
			Type:       messaging.OutcomeOrderPaid,
			OrderID:    order.ID.String(),
			PaymentRef: req.PaymentRef,
			Amount:     order.Amount,
			Actor:      string(models.ActorUser),
			OccurredAt: s.now(),
		})
	}

	s.finishSession(ctx, req.SessionID, order.ID)
	return &CheckoutResult{
		OrderID:    order.ID,
		Status:     models.OrderStatusPaid,
		PaymentRef: req.PaymentRef,
	}, nil
}

func (s *CheckoutService) resolveFailed(ctx context.Context, order *models.Order, sessionID, paymentRef, reason string) (*CheckoutResult, error) {
	entry, err := s.orders.MarkFailedOnce(ctx, order.ID, reason, models.ActorUser)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		s.publish(ctx, messaging.Outcome{
			Type:       messaging.OutcomeOrderFailed,
			OrderID:    order.ID.String(),
			PaymentRef: paymentRef,
			Actor:      string(models.ActorUser),
			OccurredAt: s.now(),
		})
	}

	s.finishSession(ctx, sessionID, order.ID)

	status := models.OrderStatusFailed
	if entry == nil {
		// The order already resolved through another path; report what it
		// actually is rather than what this return would have made it.
		current, err := s.orders.GetByID(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		status = current.Status
	}
	return &CheckoutResult{
		OrderID:    order.ID,
		Status:     status,
		PaymentRef: paymentRef,
		Message:    reason,
	}, nil
}

// syncAfterPurchase refreshes the local subscription row from the gateway
// right after a successful subscription checkout. Best effort; the charged
// webhook will sync again.
func (s *CheckoutService) syncAfterPurchase(ctx context.Context, gatewayID string) {
	remote, err := s.gateway.FetchSubscription(ctx, gatewayID)
	if err != nil {
		s.metrics.Inc(metrics.GatewayErrors)
		log.Warn().Err(err).Str("subscription_id", gatewayID).Msg("Failed to refresh subscription after checkout")
		return
	}

	local, err := s.subs.GetByGatewayID(ctx, gatewayID)
	if err != nil {
		log.Warn().Err(err).Str("subscription_id", gatewayID).Msg("Failed to load subscription after checkout")
		return
	}

	local.PaidCount = remote.PaidCount
	local.TotalCount = remote.TotalCount
	local.RemainingCount = remote.RemainingCount
	if models.ValidSubscriptionStatus(models.SubscriptionStatus(remote.Status)) {
		local.Status = models.SubscriptionStatus(remote.Status)
		local.StatusChangedBy = models.ActorUser
	}
	if remote.ChargeAt > 0 {
		t := time.Unix(remote.ChargeAt, 0)
		local.NextChargeAt = &t
	}
	if err := s.subs.Upsert(ctx, local); err != nil {
		log.Warn().Err(err).Str("subscription_id", gatewayID).Msg("Failed to sync subscription after checkout")
	}
}

func (s *CheckoutService) finishSession(ctx context.Context, sessionID string, orderID uuid.UUID) {
	s.metrics.Inc(metrics.CheckoutsResolved)
	if err := s.sessions.Delete(ctx, sessionID, orderID); err != nil {
		log.Warn().Err(err).Str("order_id", orderID.String()).Msg("Failed to clear checkout session state")
	}
}

func (s *CheckoutService) publish(ctx context.Context, outcome messaging.Outcome) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, outcome); err != nil {
		log.Warn().Err(err).Str("type", outcome.Type).Msg("Failed to publish checkout outcome")
	}
}
