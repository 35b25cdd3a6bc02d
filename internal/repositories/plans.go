package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"example.com/storefront/services/payments/internal/models"
)

// ErrPlanNotFound is returned when no plan row exists for the given id.
var ErrPlanNotFound = errors.New("plan not found")

// PlanRepository provides read access to the local plan reference table.
type PlanRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewPlanRepository creates a new plan repository
func NewPlanRepository(db *gorm.DB, readOnlyDB *gorm.DB) *PlanRepository {
	return &PlanRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// GetByID gets a plan by ID
func (r *PlanRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Plan, error) {
	var plan models.Plan
	err := r.readOnlyDB.WithContext(ctx).First(&plan, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, errors.Wrap(err, "failed to get plan by ID")
	}
	return &plan, nil
}

// GetByPlanRef gets a plan by its gateway plan reference
func (r *PlanRepository) GetByPlanRef(ctx context.Context, planRef string) (*models.Plan, error) {
	var plan models.Plan
	err := r.readOnlyDB.WithContext(ctx).Where("plan_ref = ?", planRef).First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, errors.Wrap(err, "failed to get plan by reference")
	}
	return &plan, nil
}
