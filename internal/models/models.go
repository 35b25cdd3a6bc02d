package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// OrderStatus is the local payment state of an order.
type OrderStatus string

const (
	OrderStatusPending OrderStatus = "pending"
	OrderStatusPaid    OrderStatus = "paid"
	OrderStatusFailed  OrderStatus = "failed"
)

// Actor identifies which path applied a state transition.
type Actor string

const (
	ActorSystem  Actor = "system"
	ActorWebhook Actor = "webhook"
	ActorUser    Actor = "user"
)

// Order represents a merchant-side purchase. Amount is in minor currency
// units. The recorded gateway order reference is only replaced when the
// local total has drifted from the amount recorded with it.
type Order struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
	Currency       string         `gorm:"size:3;not null" json:"currency"`
	Amount         int64          `gorm:"not null" json:"amount"`
	Status         OrderStatus    `gorm:"not null;default:pending;index" json:"status"`
	GatewayOrderID *string        `gorm:"uniqueIndex" json:"gateway_order_id"`
	GatewayAmount  int64          `gorm:"not null;default:0" json:"gateway_amount"`
	History        []OrderHistory `gorm:"foreignKey:OrderID" json:"-"`
	Subscription   *Subscription  `gorm:"foreignKey:OrderID" json:"-"`
}

// OrderHistory is one audit entry on an order. Exactly one entry is written
// per applied transition.
type OrderHistory struct {
	ID        uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time   `gorm:"autoCreateTime" json:"created_at"`
	OrderID   uuid.UUID   `gorm:"type:uuid;not null;index" json:"order_id"`
	Status    OrderStatus `gorm:"not null" json:"status"`
	Comment   string      `gorm:"not null" json:"comment"`
	Actor     Actor       `gorm:"not null" json:"actor"`
}

// Subscription is one recurring-billing entity tied to exactly one order and
// one gateway subscription id. Rows are never deleted; terminal states are
// cancelled and completed.
type Subscription struct {
	ID              uuid.UUID          `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt       time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
	GatewayID       string             `gorm:"not null;uniqueIndex" json:"gateway_id"`
	OrderID         uuid.UUID          `gorm:"type:uuid;not null;index" json:"order_id"`
	PlanRef         string             `gorm:"not null" json:"plan_ref"`
	CustomerRef     string             `json:"customer_ref"`
	Status          SubscriptionStatus `gorm:"not null;default:created" json:"status"`
	StatusChangedBy Actor              `json:"status_changed_by"`
	PaidCount       int                `gorm:"not null;default:0" json:"paid_count"`
	TotalCount      int                `gorm:"not null;default:0" json:"total_count"`
	RemainingCount  int                `gorm:"not null;default:0" json:"remaining_count"`
	Quantity        int                `gorm:"not null;default:1" json:"quantity"`
	Source          string             `gorm:"not null;index" json:"source"`
	StartAt         *time.Time         `json:"start_at"`
	NextChargeAt    *time.Time         `json:"next_charge_at"`
	Charges         []RecurringCharge  `gorm:"foreignKey:SubscriptionGatewayID;references:GatewayID" json:"-"`
}

// RecurringCharge is one recorded recurring payment. The composite unique
// index on (subscription_gateway_id, payment_id) is the dedup key that makes
// recording idempotent under duplicate webhook delivery.
type RecurringCharge struct {
	ID                    uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt             time.Time `gorm:"autoCreateTime" json:"recorded_at"`
	SubscriptionGatewayID string    `gorm:"not null;uniqueIndex:idx_subscription_payment" json:"subscription_gateway_id"`
	PaymentID             string    `gorm:"not null;uniqueIndex:idx_subscription_payment" json:"payment_id"`
	Amount                int64     `gorm:"not null" json:"amount"`
}

// Plan is a local read-only reference to a billing plan registered on the
// gateway. Used when creating remote subscriptions.
type Plan struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
	PlanRef     string    `gorm:"not null;uniqueIndex" json:"plan_ref"`
	Name        string    `gorm:"not null" json:"name"`
	BillCycles  int       `gorm:"not null" json:"bill_cycles"`
	TrialDays   int       `gorm:"not null;default:0" json:"trial_days"`
	AddonAmount int64     `gorm:"not null;default:0" json:"addon_amount"`
}

// SetupModels configures GORM models and runs migrations
func SetupModels(db *gorm.DB) error {
	err := db.AutoMigrate(
		&Order{},
		&OrderHistory{},
		&Subscription{},
		&RecurringCharge{},
		&Plan{},
	)
	if err != nil {
		return errors.Wrap(err, "failed to run auto migrations")
	}

	return nil
}
