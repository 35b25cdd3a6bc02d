// Package gateway is the outbound client for the remote payment gateway.
// All money movement happens on the gateway side; this client only creates,
// fetches and captures remote resources.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// SignatureHeader carries the MAC of the raw webhook body on inbound
// deliveries.
const SignatureHeader = "X-Gateway-Signature"

// Client is the outbound interface to the payment gateway.
type Client interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error)
	FetchOrder(ctx context.Context, ref string) (*Order, error)
	FetchOrderPayments(ctx context.Context, ref string) ([]Payment, error)
	FetchPayment(ctx context.Context, ref string) (*Payment, error)
	CapturePayment(ctx context.Context, ref string, amount int64, currency string) (*Payment, error)
	FetchInvoice(ctx context.Context, ref string) (*Invoice, error)

	CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*Subscription, error)
	FetchSubscription(ctx context.Context, ref string) (*Subscription, error)
	PauseSubscription(ctx context.Context, ref string) (*Subscription, error)
	ResumeSubscription(ctx context.Context, ref string) (*Subscription, error)
	CancelSubscription(ctx context.Context, ref string, atCycleEnd bool) (*Subscription, error)
	UpdateSubscription(ctx context.Context, ref string, req UpdateSubscriptionRequest) (*Subscription, error)

	CreateOrFetchCustomer(ctx context.Context, req CustomerRequest) (*Customer, error)

	ListWebhooks(ctx context.Context) ([]Webhook, error)
	CreateWebhook(ctx context.Context, req WebhookRequest) (*Webhook, error)
	UpdateWebhook(ctx context.Context, id string, req WebhookRequest) (*Webhook, error)
}

// Error is a non-2xx response from the gateway.
type Error struct {
	StatusCode  int    `json:"-"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway error (status %d, code %s): %s", e.StatusCode, e.Code, e.Description)
}

// Config holds gateway API credentials and endpoint.
type Config struct {
	BaseURL   string
	KeyID     string
	KeySecret string
	Timeout   time.Duration
}

type restClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a REST gateway client authenticated with the merchant's
// key pair.
func NewClient(cfg Config) Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &restClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *restClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "failed to marshal gateway request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "failed to build gateway request")
	}
	req.SetBasicAuth(c.cfg.KeyID, c.cfg.KeySecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "gateway request %s %s failed", method, path)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		gwErr := &Error{StatusCode: res.StatusCode}
		var wrapper struct {
			Error Error `json:"error"`
		}
		if err := json.NewDecoder(res.Body).Decode(&wrapper); err == nil {
			gwErr.Code = wrapper.Error.Code
			gwErr.Description = wrapper.Error.Description
		}
		log.Warn().
			Str("method", method).
			Str("path", path).
			Int("status", res.StatusCode).
			Str("code", gwErr.Code).
			Msg("Gateway call failed")
		return gwErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "failed to decode gateway response for %s %s", method, path)
	}
	return nil
}

func (c *restClient) CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	var order Order
	if err := c.do(ctx, http.MethodPost, "/orders", req, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *restClient) FetchOrder(ctx context.Context, ref string) (*Order, error) {
	var order Order
	if err := c.do(ctx, http.MethodGet, "/orders/"+ref, nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *restClient) FetchOrderPayments(ctx context.Context, ref string) ([]Payment, error) {
	var list struct {
		Items []Payment `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/orders/"+ref+"/payments", nil, &list); err != nil {
		return nil, err
	}
	return list.Items, nil
}

func (c *restClient) FetchPayment(ctx context.Context, ref string) (*Payment, error) {
	var payment Payment
	if err := c.do(ctx, http.MethodGet, "/payments/"+ref, nil, &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

func (c *restClient) CapturePayment(ctx context.Context, ref string, amount int64, currency string) (*Payment, error) {
	body := map[string]interface{}{
		"amount":   amount,
		"currency": currency,
	}
	var payment Payment
	if err := c.do(ctx, http.MethodPost, "/payments/"+ref+"/capture", body, &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

func (c *restClient) FetchInvoice(ctx context.Context, ref string) (*Invoice, error) {
	var invoice Invoice
	if err := c.do(ctx, http.MethodGet, "/invoices/"+ref, nil, &invoice); err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (c *restClient) CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*Subscription, error) {
	var sub Subscription
	if err := c.do(ctx, http.MethodPost, "/subscriptions", req, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (c *restClient) FetchSubscription(ctx context.Context, ref string) (*Subscription, error) {
	var sub Subscription
	if err := c.do(ctx, http.MethodGet, "/subscriptions/"+ref, nil, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (c *restClient) PauseSubscription(ctx context.Context, ref string) (*Subscription, error) {
	body := map[string]string{"pause_at": "now"}
	var sub Subscription
	if err := c.do(ctx, http.MethodPost, "/subscriptions/"+ref+"/pause", body, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (c *restClient) ResumeSubscription(ctx context.Context, ref string) (*Subscription, error) {
	body := map[string]string{"resume_at": "now"}
	var sub Subscription
	if err := c.do(ctx, http.MethodPost, "/subscriptions/"+ref+"/resume", body, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (c *restClient) CancelSubscription(ctx context.Context, ref string, atCycleEnd bool) (*Subscription, error) {
	cycleEnd := 0
	if atCycleEnd {
		cycleEnd = 1
	}
	body := map[string]int{"cancel_at_cycle_end": cycleEnd}
	var sub Subscription
	if err := c.do(ctx, http.MethodPost, "/subscriptions/"+ref+"/cancel", body, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (c *restClient) UpdateSubscription(ctx context.Context, ref string, req UpdateSubscriptionRequest) (*Subscription, error) {
	var sub Subscription
	if err := c.do(ctx, http.MethodPatch, "/subscriptions/"+ref, req, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (c *restClient) CreateOrFetchCustomer(ctx context.Context, req CustomerRequest) (*Customer, error) {
	// FailExisting is forced off so re-invocation for a known identity
	// returns the existing customer instead of erroring.
	req.FailExisting = 0
	var customer Customer
	if err := c.do(ctx, http.MethodPost, "/customers", req, &customer); err != nil {
		return nil, err
	}
	return &customer, nil
}

func (c *restClient) ListWebhooks(ctx context.Context) ([]Webhook, error) {
	var list struct {
		Items []Webhook `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/webhooks", nil, &list); err != nil {
		return nil, err
	}
	return list.Items, nil
}

func (c *restClient) CreateWebhook(ctx context.Context, req WebhookRequest) (*Webhook, error) {
	var hook Webhook
	if err := c.do(ctx, http.MethodPost, "/webhooks", req, &hook); err != nil {
		return nil, err
	}
	return &hook, nil
}

func (c *restClient) UpdateWebhook(ctx context.Context, id string, req WebhookRequest) (*Webhook, error) {
	var hook Webhook
	if err := c.do(ctx, http.MethodPut, "/webhooks/"+id, req, &hook); err != nil {
		return nil, err
	}
	return &hook, nil
}
