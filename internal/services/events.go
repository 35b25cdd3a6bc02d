package services

import (
	"encoding/json"
	"time"

	"example.com/storefront/services/payments/internal/gateway"
)

// Webhook event names delivered by the payment gateway.
const (
	EventPaymentAuthorized     = "payment.authorized"
	EventPaymentFailed         = "payment.failed"
	EventOrderPaid             = "order.paid"
	EventSubscriptionPaused    = "subscription.paused"
	EventSubscriptionResumed   = "subscription.resumed"
	EventSubscriptionCancelled = "subscription.cancelled"
	EventSubscriptionCharged   = "subscription.charged"
)

// FreshnessWindow is how long after a payment is created its webhook events
// are considered to be racing the checkout return and get deferred.
const FreshnessWindow = 30 * time.Second

type paymentWrapper struct {
	Entity gateway.Payment `json:"entity"`
}

type subscriptionWrapper struct {
	Entity gateway.Subscription `json:"entity"`
}

type webhookPayload struct {
	Payment      *paymentWrapper      `json:"payment"`
	Subscription *subscriptionWrapper `json:"subscription"`
}

// webhookEnvelope is the outer shape of every gateway webhook delivery.
type webhookEnvelope struct {
	Event     string         `json:"event"`
	CreatedAt int64          `json:"created_at"`
	Payload   webhookPayload `json:"payload"`
}

func parseEnvelope(raw []byte) (*webhookEnvelope, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	return &env, nil
}
