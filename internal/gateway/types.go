package gateway

// Wire entities returned by the payment gateway. Amounts are integer minor
// currency units throughout.

// Note keys attached to gateway resources so webhook events can be traced
// back to local records.
const (
	NoteMerchantOrderID = "merchant_order_id"
	NoteSource          = "source"
)

// Payment statuses reported by the gateway.
const (
	PaymentStatusAuthorized = "authorized"
	PaymentStatusCaptured   = "captured"
	PaymentStatusFailed     = "failed"
)

// OrderStatusPaid is the remote order status once the gateway has captured
// full payment for it.
const OrderStatusPaid = "paid"

// Order is a gateway-side order.
type Order struct {
	ID       string            `json:"id"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Status   string            `json:"status"`
	Notes    map[string]string `json:"notes"`
}

// Payment is a gateway-side payment attempt.
type Payment struct {
	ID        string            `json:"id"`
	OrderID   string            `json:"order_id"`
	Amount    int64             `json:"amount"`
	Currency  string            `json:"currency"`
	Status    string            `json:"status"`
	InvoiceID string            `json:"invoice_id"`
	CreatedAt int64             `json:"created_at"`
	Notes     map[string]string `json:"notes"`
}

// Invoice links a recurring payment to the subscription it was billed for.
type Invoice struct {
	ID             string `json:"id"`
	SubscriptionID string `json:"subscription_id"`
}

// Subscription is a gateway-side recurring billing agreement.
type Subscription struct {
	ID             string            `json:"id"`
	PlanID         string            `json:"plan_id"`
	CustomerID     string            `json:"customer_id"`
	Status         string            `json:"status"`
	Source         string            `json:"source"`
	PaidCount      int               `json:"paid_count"`
	TotalCount     int               `json:"total_count"`
	RemainingCount int               `json:"remaining_count"`
	Quantity       int               `json:"quantity"`
	StartAt        int64             `json:"start_at"`
	ChargeAt       int64             `json:"charge_at"`
	CreatedAt      int64             `json:"created_at"`
	Notes          map[string]string `json:"notes"`
}

// Customer is a gateway-side customer record.
type Customer struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Contact string `json:"contact"`
}

// Webhook is a gateway-side webhook registration.
type Webhook struct {
	ID     string          `json:"id"`
	URL    string          `json:"url"`
	Active bool            `json:"active"`
	Events map[string]bool `json:"events"`
}

// CreateOrderRequest creates a remote order ahead of hosted checkout.
type CreateOrderRequest struct {
	Receipt        string            `json:"receipt"`
	Amount         int64             `json:"amount"`
	Currency       string            `json:"currency"`
	PaymentCapture int               `json:"payment_capture"`
	Notes          map[string]string `json:"notes,omitempty"`
}

// AddonItem is a one-off charge attached to a subscription's first invoice.
type AddonItem struct {
	Name     string `json:"name"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// CreateSubscriptionRequest creates a remote subscription.
type CreateSubscriptionRequest struct {
	PlanID         string            `json:"plan_id"`
	CustomerID     string            `json:"customer_id"`
	TotalCount     int               `json:"total_count"`
	Quantity       int               `json:"quantity,omitempty"`
	CustomerNotify int               `json:"customer_notify"`
	StartAt        int64             `json:"start_at,omitempty"`
	Source         string            `json:"source"`
	Notes          map[string]string `json:"notes,omitempty"`
	Addons         []AddonItem       `json:"addons,omitempty"`
}

// UpdateSubscriptionRequest moves a subscription to a different plan or
// quantity.
type UpdateSubscriptionRequest struct {
	PlanID   string `json:"plan_id"`
	Quantity int    `json:"quantity,omitempty"`
}

// CustomerRequest creates or fetches a customer by identity. FailExisting=0
// asks the gateway to return the existing customer instead of erroring when
// the identity is already registered.
type CustomerRequest struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	Contact      string `json:"contact"`
	FailExisting int    `json:"fail_existing"`
}

// WebhookRequest creates or updates a webhook registration.
type WebhookRequest struct {
	URL    string          `json:"url"`
	Events map[string]bool `json:"events"`
	Secret string          `json:"secret"`
	Active bool            `json:"active"`
}
