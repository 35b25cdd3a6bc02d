package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/storefront/services/payments/internal/models"
)

// ErrSubscriptionNotFound is returned when no subscription row exists for the
// given gateway id.
var ErrSubscriptionNotFound = errors.New("subscription not found")

// SubscriptionRepository provides access to subscription data
type SubscriptionRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewSubscriptionRepository creates a new subscription repository
func NewSubscriptionRepository(db *gorm.DB, readOnlyDB *gorm.DB) *SubscriptionRepository {
	return &SubscriptionRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// GetByGatewayID gets a subscription by its gateway subscription id
func (r *SubscriptionRepository) GetByGatewayID(ctx context.Context, gatewayID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).Where("gateway_id = ?", gatewayID).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, errors.Wrap(err, "failed to get subscription by gateway id")
	}
	return &sub, nil
}

// Upsert creates or updates a subscription row keyed by gateway id. Used
// after a remote subscription create or an authoritative gateway fetch; the
// gateway's view overwrites counters and status wholesale here, so Upsert is
// not subject to the transition graph the way UpdateStatus is.
func (r *SubscriptionRepository) Upsert(ctx context.Context, sub *models.Subscription) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "gateway_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status", "paid_count", "total_count", "remaining_count",
				"quantity", "plan_ref", "customer_ref", "start_at",
				"next_charge_at", "updated_at",
			}),
		}).
		Create(sub).Error
	if err != nil {
		return errors.Wrap(err, "failed to upsert subscription")
	}
	return nil
}

// UpdateStatus applies a status transition for the given actor. Returns
// (false, nil) when the status already equals newStatus (idempotent no-op)
// or when a concurrent caller moved the row first. Transitions outside the
// allowed graph return models.ErrIllegalTransition without mutating.
func (r *SubscriptionRepository) UpdateStatus(ctx context.Context, gatewayID string, newStatus models.SubscriptionStatus, actor models.Actor) (bool, error) {
	if !models.ValidSubscriptionStatus(newStatus) {
		return false, errors.Wrapf(models.ErrIllegalTransition, "unknown status %q", newStatus)
	}

	sub, err := r.GetByGatewayID(ctx, gatewayID)
	if err != nil {
		return false, err
	}

	if sub.Status == newStatus {
		return false, nil
	}
	if !sub.Status.CanTransitionTo(newStatus) {
		return false, errors.Wrapf(models.ErrIllegalTransition, "%s -> %s", sub.Status, newStatus)
	}

	// Conditional on the observed status so that of N concurrent callers
	// exactly one sees the row move.
	result := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("gateway_id = ? AND status = ?", gatewayID, sub.Status).
		Updates(map[string]interface{}{
			"status":            newStatus,
			"status_changed_by": actor,
		})
	if result.Error != nil {
		return false, errors.Wrap(result.Error, "failed to update subscription status")
	}
	if result.RowsAffected == 0 {
		log.Debug().
			Str("subscription", gatewayID).
			Str("status", string(newStatus)).
			Msg("Subscription status update lost the race, treating as no-op")
		return false, nil
	}
	return true, nil
}

// RecordCharge appends one recurring-charge record unless this payment id has
// already been recorded for the subscription. The unique constraint on
// (subscription_gateway_id, payment_id) is the commit point; a duplicate
// insert is swallowed and reported as not-applied.
func (r *SubscriptionRepository) RecordCharge(ctx context.Context, gatewayID, paymentRef string, amount int64) (bool, error) {
	charge := &models.RecurringCharge{
		ID:                    uuid.New(),
		SubscriptionGatewayID: gatewayID,
		PaymentID:             paymentRef,
		Amount:                amount,
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(charge)
	if result.Error != nil {
		return false, errors.Wrap(result.Error, "failed to record subscription charge")
	}
	return result.RowsAffected == 1, nil
}

// GetCharges returns recorded recurring charges for a subscription, oldest
// first.
func (r *SubscriptionRepository) GetCharges(ctx context.Context, gatewayID string) ([]models.RecurringCharge, error) {
	var charges []models.RecurringCharge
	err := r.readOnlyDB.WithContext(ctx).
		Where("subscription_gateway_id = ?", gatewayID).
		Order("created_at asc").
		Find(&charges).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to get subscription charges")
	}
	return charges, nil
}

// List returns a page of subscriptions and the total count.
func (r *SubscriptionRepository) List(ctx context.Context, offset, limit int) ([]models.Subscription, int64, error) {
	var subs []models.Subscription
	var total int64

	if err := r.readOnlyDB.WithContext(ctx).Model(&models.Subscription{}).Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(err, "failed to count subscriptions")
	}
	err := r.readOnlyDB.WithContext(ctx).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&subs).Error
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to list subscriptions")
	}
	return subs, total, nil
}
