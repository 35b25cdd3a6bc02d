// Package repositories owns all persisted order and subscription rows. Every
// state transition goes through a conditional update here so that concurrent
// callers on the same key resolve to exactly one "applied" and the rest
// "no-op", without in-process locks.
package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"example.com/storefront/services/payments/internal/models"
)

// ErrOrderNotFound is returned when no order row exists for the given id.
var ErrOrderNotFound = errors.New("order not found")

// OrderRepository provides access to order data
type OrderRepository struct {
	db         *gorm.DB // Write database
	readOnlyDB *gorm.DB // Read-only database
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(db *gorm.DB, readOnlyDB *gorm.DB) *OrderRepository {
	return &OrderRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// Create creates a new order
func (r *OrderRepository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

// GetByID gets an order by ID
func (r *OrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).First(&order, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, errors.Wrap(err, "failed to get order by ID")
	}
	return &order, nil
}

// ReserveGatewayOrder returns the recorded gateway order reference when one
// exists and its recorded amount still equals expectedAmount. Otherwise it
// reports fresh=true and the caller must create a new remote order and record
// it with RecordGatewayOrder. Recreation happens only on demonstrated amount
// mismatch, never on a matching repeat.
func (r *OrderRepository) ReserveGatewayOrder(ctx context.Context, orderID uuid.UUID, expectedAmount int64) (string, bool, error) {
	order, err := r.GetByID(ctx, orderID)
	if err != nil {
		return "", false, err
	}

	if order.GatewayOrderID != nil && order.GatewayAmount == expectedAmount {
		return *order.GatewayOrderID, false, nil
	}
	return "", true, nil
}

// RecordGatewayOrder stores a freshly created gateway order reference and the
// amount it was created with. The guarded update only fires when no reference
// is recorded yet or the recorded amount differs, so a concurrent recording
// with the same amount wins exactly once. Returns false when another caller
// already recorded an equivalent reference.
func (r *OrderRepository) RecordGatewayOrder(ctx context.Context, orderID uuid.UUID, gatewayRef string, amount int64) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND (gateway_order_id IS NULL OR gateway_amount <> ?)", orderID, amount).
		Updates(map[string]interface{}{
			"gateway_order_id": gatewayRef,
			"gateway_amount":   amount,
		})
	if result.Error != nil {
		return false, errors.Wrap(result.Error, "failed to record gateway order reference")
	}
	return result.RowsAffected == 1, nil
}

// MarkPaidOnce transitions the order from pending to paid and appends exactly
// one history entry, both in one transaction. Returns the new history entry,
// or nil without mutating anything when the order is no longer pending. This
// is the single idempotency gate shared by the checkout-return path, the
// webhook path and the catch-up poller.
func (r *OrderRepository) MarkPaidOnce(ctx context.Context, orderID uuid.UUID, paymentRef string, actor models.Actor) (*models.OrderHistory, error) {
	return r.transitionOnce(ctx, orderID, models.OrderStatusPaid,
		"Payment successful. Gateway payment id: "+paymentRef, actor)
}

// MarkFailedOnce transitions the order from pending to failed with a history
// entry carrying the failure reason. A no-op when the order already resolved,
// so a late signature failure can never clobber a paid order.
func (r *OrderRepository) MarkFailedOnce(ctx context.Context, orderID uuid.UUID, reason string, actor models.Actor) (*models.OrderHistory, error) {
	return r.transitionOnce(ctx, orderID, models.OrderStatusFailed, reason, actor)
}

func (r *OrderRepository) transitionOnce(ctx context.Context, orderID uuid.UUID, target models.OrderStatus, comment string, actor models.Actor) (*models.OrderHistory, error) {
	var entry *models.OrderHistory
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Order{}).
			Where("id = ? AND status = ?", orderID, models.OrderStatusPending).
			Update("status", target)
		if result.Error != nil {
			return errors.Wrapf(result.Error, "failed to mark order %s", target)
		}
		if result.RowsAffected == 0 {
			return nil
		}

		history := &models.OrderHistory{
			ID:      uuid.New(),
			OrderID: orderID,
			Status:  target,
			Comment: comment,
			Actor:   actor,
		}
		if err := tx.Create(history).Error; err != nil {
			return errors.Wrap(err, "failed to append order history entry")
		}

		entry = history
		return nil
	})
	return entry, err
}

// AppendHistory adds an audit entry without changing order status. Used for
// recurring-charge traceability.
func (r *OrderRepository) AppendHistory(ctx context.Context, orderID uuid.UUID, status models.OrderStatus, comment string, actor models.Actor) (*models.OrderHistory, error) {
	history := &models.OrderHistory{
		ID:      uuid.New(),
		OrderID: orderID,
		Status:  status,
		Comment: comment,
		Actor:   actor,
	}
	if err := r.db.WithContext(ctx).Create(history).Error; err != nil {
		return nil, errors.Wrap(err, "failed to append order history")
	}
	return history, nil
}

// ListPendingWithGatewayRef returns pending orders that already have a
// gateway order reference and were created before the cutoff. Fed to the
// catch-up poller.
func (r *OrderRepository) ListPendingWithGatewayRef(ctx context.Context, createdBefore time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := r.readOnlyDB.WithContext(ctx).
		Where("status = ? AND gateway_order_id IS NOT NULL AND created_at < ?",
			models.OrderStatusPending, createdBefore).
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list pending orders")
	}
	return orders, nil
}

// GetHistory returns the audit trail for an order, oldest first.
func (r *OrderRepository) GetHistory(ctx context.Context, orderID uuid.UUID) ([]models.OrderHistory, error) {
	var history []models.OrderHistory
	err := r.readOnlyDB.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at asc").
		Find(&history).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to get order history")
	}
	return history, nil
}
