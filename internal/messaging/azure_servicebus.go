// Package messaging fans out applied reconciliation outcomes to an Azure
// Service Bus queue for downstream consumers (fulfilment, notifications).
// Publishing is best effort: a delivery failure never rolls back the local
// state transition that triggered it.
package messaging

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/pkg/errors"

	"example.com/storefront/services/payments/config"
)

// Outcome describes one applied reconciliation transition.
type Outcome struct {
	Type           string    `json:"type"`
	OrderID        string    `json:"order_id,omitempty"`
	SubscriptionID string    `json:"subscription_id,omitempty"`
	PaymentRef     string    `json:"payment_ref,omitempty"`
	Amount         int64     `json:"amount,omitempty"`
	Actor          string    `json:"actor"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Outcome types published to the queue.
const (
	OutcomeOrderPaid           = "order.paid"
	OutcomeOrderFailed         = "order.failed"
	OutcomeSubscriptionCharged = "subscription.charged"
	OutcomeSubscriptionStatus  = "subscription.status_changed"
)

// Publisher sends reconciliation outcomes to interested consumers.
type Publisher interface {
	Publish(ctx context.Context, outcome Outcome) error
	Close() error
}

type serviceBusPublisher struct {
	client    *azservicebus.Client
	sender    *azservicebus.Sender
	queueName string
}

// NewPublisher creates a Service Bus publisher, or a no-op publisher when the
// integration is disabled.
func NewPublisher(cfg config.ServiceBusConfig) (Publisher, error) {
	if !cfg.Enabled || cfg.ConnectionString == "" {
		return noopPublisher{}, nil
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.ConnectionString, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Service Bus client")
	}

	sender, err := client.NewSender(cfg.QueueName, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Service Bus sender")
	}

	return &serviceBusPublisher{
		client:    client,
		sender:    sender,
		queueName: cfg.QueueName,
	}, nil
}

// Publish sends one outcome to the queue
func (p *serviceBusPublisher) Publish(ctx context.Context, outcome Outcome) error {
	data, err := json.Marshal(outcome)
	if err != nil {
		return errors.Wrap(err, "failed to marshal outcome")
	}

	msg := &azservicebus.Message{
		Body: data,
		ApplicationProperties: map[string]interface{}{
			"type": outcome.Type,
			"time": outcome.OccurredAt.UTC().Format(time.RFC3339),
		},
	}
	return p.sender.SendMessage(ctx, msg, nil)
}

// Close closes the Service Bus sender and client
func (p *serviceBusPublisher) Close() error {
	if p.sender != nil {
		if err := p.sender.Close(context.Background()); err != nil {
			return err
		}
	}
	if p.client != nil {
		return p.client.Close(context.Background())
	}
	return nil
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, Outcome) error { return nil }
func (noopPublisher) Close() error                           { return nil }
