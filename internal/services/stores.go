package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"example.com/storefront/services/payments/internal/cache"
	"example.com/storefront/services/payments/internal/gateway"
	"example.com/storefront/services/payments/internal/models"
)

// OrderStore is the transition surface for order rows. Implementations must
// make each operation atomic per order id; callers never mutate rows
// directly.
type OrderStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	ReserveGatewayOrder(ctx context.Context, orderID uuid.UUID, expectedAmount int64) (ref string, fresh bool, err error)
	RecordGatewayOrder(ctx context.Context, orderID uuid.UUID, gatewayRef string, amount int64) (bool, error)
	MarkPaidOnce(ctx context.Context, orderID uuid.UUID, paymentRef string, actor models.Actor) (*models.OrderHistory, error)
	MarkFailedOnce(ctx context.Context, orderID uuid.UUID, reason string, actor models.Actor) (*models.OrderHistory, error)
	AppendHistory(ctx context.Context, orderID uuid.UUID, status models.OrderStatus, comment string, actor models.Actor) (*models.OrderHistory, error)
	ListPendingWithGatewayRef(ctx context.Context, createdBefore time.Time, limit int) ([]models.Order, error)
}

// SubscriptionStore is the transition surface for subscription rows.
type SubscriptionStore interface {
	GetByGatewayID(ctx context.Context, gatewayID string) (*models.Subscription, error)
	Upsert(ctx context.Context, sub *models.Subscription) error
	UpdateStatus(ctx context.Context, gatewayID string, newStatus models.SubscriptionStatus, actor models.Actor) (bool, error)
	RecordCharge(ctx context.Context, gatewayID, paymentRef string, amount int64) (bool, error)
	GetCharges(ctx context.Context, gatewayID string) ([]models.RecurringCharge, error)
	List(ctx context.Context, offset, limit int) ([]models.Subscription, int64, error)
}

// PlanStore resolves local plan references.
type PlanStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Plan, error)
}

// SessionStore keeps per-session checkout state across the hosted-checkout
// redirect.
type SessionStore interface {
	Get(ctx context.Context, sessionID string, orderID uuid.UUID) (*cache.CheckoutState, error)
	Set(ctx context.Context, sessionID string, orderID uuid.UUID, state *cache.CheckoutState) error
	Delete(ctx context.Context, sessionID string, orderID uuid.UUID) error
}

// ReconcilerGateway is the slice of the gateway client the webhook and
// catch-up paths need.
type ReconcilerGateway interface {
	FetchOrder(ctx context.Context, ref string) (*gateway.Order, error)
	FetchOrderPayments(ctx context.Context, ref string) ([]gateway.Payment, error)
	FetchPayment(ctx context.Context, ref string) (*gateway.Payment, error)
	CapturePayment(ctx context.Context, ref string, amount int64, currency string) (*gateway.Payment, error)
	FetchInvoice(ctx context.Context, ref string) (*gateway.Invoice, error)
	FetchSubscription(ctx context.Context, ref string) (*gateway.Subscription, error)
}

// CheckoutGateway is the slice of the gateway client the checkout flow needs.
type CheckoutGateway interface {
	CreateOrder(ctx context.Context, req gateway.CreateOrderRequest) (*gateway.Order, error)
	CreateOrFetchCustomer(ctx context.Context, req gateway.CustomerRequest) (*gateway.Customer, error)
	CreateSubscription(ctx context.Context, req gateway.CreateSubscriptionRequest) (*gateway.Subscription, error)
	FetchSubscription(ctx context.Context, ref string) (*gateway.Subscription, error)
}

// SubscriptionGateway is the slice of the gateway client subscription
// self-service needs.
type SubscriptionGateway interface {
	PauseSubscription(ctx context.Context, ref string) (*gateway.Subscription, error)
	ResumeSubscription(ctx context.Context, ref string) (*gateway.Subscription, error)
	CancelSubscription(ctx context.Context, ref string, atCycleEnd bool) (*gateway.Subscription, error)
	UpdateSubscription(ctx context.Context, ref string, req gateway.UpdateSubscriptionRequest) (*gateway.Subscription, error)
	FetchSubscription(ctx context.Context, ref string) (*gateway.Subscription, error)
}

// RegistrarGateway is the slice of the gateway client webhook registration
// needs.
type RegistrarGateway interface {
	ListWebhooks(ctx context.Context) ([]gateway.Webhook, error)
	CreateWebhook(ctx context.Context, req gateway.WebhookRequest) (*gateway.Webhook, error)
	UpdateWebhook(ctx context.Context, id string, req gateway.WebhookRequest) (*gateway.Webhook, error)
}
