package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/th1s9uy/saas-billing/internal/domain/model"
	"github.com/th1s9uy/saas-billing/internal/domain/repository"
)

type catalogRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewCatalogRepository creates a new catalog repository
func NewCatalogRepository(db *gorm.DB, logger *zap.Logger) repository.CatalogRepository {
	return &catalogRepository{
		db:     db,
		logger: logger,
	}
}

// findOne loads the first match into dest and reports whether one existed.
func (r *catalogRepository) findOne(ctx context.Context, dest interface{}, query string, args ...interface{}) (bool, error) {
	err := r.db.WithContext(ctx).Where(query, args...).First(dest).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *catalogRepository) GetPlan(ctx context.Context, id uuid.UUID) (*model.SubscriptionPlan, error) {
	var plan model.SubscriptionPlan
	found, err := r.findOne(ctx, &plan, "id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &plan, nil
}

func (r *catalogRepository) GetPlanByExternalPrice(ctx context.Context, priceID string) (*model.SubscriptionPlan, error) {
	var plan model.SubscriptionPlan
	found, err := r.findOne(ctx, &plan, "external_price_id = ?", priceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get plan by price: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &plan, nil
}

func (r *catalogRepository) GetPlanByName(ctx context.Context, name string) (*model.SubscriptionPlan, error) {
	var plan model.SubscriptionPlan
	found, err := r.findOne(ctx, &plan, "name = ?", name)
	if err != nil {
		return nil, fmt.Errorf("failed to get plan by name: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &plan, nil
}

func (r *catalogRepository) ListActivePlans(ctx context.Context) ([]model.SubscriptionPlan, error) {
	var plans []model.SubscriptionPlan
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("price_amount ASC").
		Find(&plans).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	return plans, nil
}

// UpsertPlan inserts the plan or updates the existing plan of the same name.
// On update plan.ID is set to the stored id.
func (r *catalogRepository) UpsertPlan(ctx context.Context, plan *model.SubscriptionPlan) error {
	var existing model.SubscriptionPlan
	found, err := r.findOne(ctx, &existing, "name = ?", plan.Name)
	if err != nil {
		return fmt.Errorf("failed to look up plan: %w", err)
	}
	if found {
		plan.ID = existing.ID
		plan.CreatedAt = existing.CreatedAt
		err = r.db.WithContext(ctx).Save(plan).Error
	} else {
		err = r.db.WithContext(ctx).Create(plan).Error
	}
	if err != nil {
		r.logger.Error("Failed to upsert plan", zap.String("name", plan.Name), zap.Error(err))
		return fmt.Errorf("failed to upsert plan: %w", err)
	}
	return nil
}

func (r *catalogRepository) GetProduct(ctx context.Context, id uuid.UUID) (*model.CreditProduct, error) {
	var product model.CreditProduct
	found, err := r.findOne(ctx, &product, "id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to get credit product: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &product, nil
}

func (r *catalogRepository) ListActiveProducts(ctx context.Context) ([]model.CreditProduct, error) {
	var products []model.CreditProduct
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("credit_amount ASC").
		Find(&products).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list credit products: %w", err)
	}
	return products, nil
}

// UpsertProduct inserts the product or updates the existing product of the same name.
func (r *catalogRepository) UpsertProduct(ctx context.Context, product *model.CreditProduct) error {
	var existing model.CreditProduct
	found, err := r.findOne(ctx, &existing, "name = ?", product.Name)
	if err != nil {
		return fmt.Errorf("failed to look up credit product: %w", err)
	}
	if found {
		product.ID = existing.ID
		product.CreatedAt = existing.CreatedAt
		err = r.db.WithContext(ctx).Save(product).Error
	} else {
		err = r.db.WithContext(ctx).Create(product).Error
	}
	if err != nil {
		r.logger.Error("Failed to upsert credit product", zap.String("name", product.Name), zap.Error(err))
		return fmt.Errorf("failed to upsert credit product: %w", err)
	}
	return nil
}

func (r *catalogRepository) GetActiveEventByName(ctx context.Context, name string) (*model.CreditEvent, error) {
	var event model.CreditEvent
	found, err := r.findOne(ctx, &event, "name = ? AND is_active = ?", name, true)
	if err != nil {
		return nil, fmt.Errorf("failed to get credit event: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &event, nil
}

func (r *catalogRepository) ListActiveEvents(ctx context.Context) ([]model.CreditEvent, error) {
	var events []model.CreditEvent
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("category ASC, name ASC").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list credit events: %w", err)
	}
	return events, nil
}

// UpsertEvent inserts the event or updates the existing event of the same name.
func (r *catalogRepository) UpsertEvent(ctx context.Context, event *model.CreditEvent) error {
	var existing model.CreditEvent
	found, err := r.findOne(ctx, &existing, "name = ?", event.Name)
	if err != nil {
		return fmt.Errorf("failed to look up credit event: %w", err)
	}
	if found {
		event.ID = existing.ID
		event.CreatedAt = existing.CreatedAt
		err = r.db.WithContext(ctx).Save(event).Error
	} else {
		err = r.db.WithContext(ctx).Create(event).Error
	}
	if err != nil {
		r.logger.Error("Failed to upsert credit event", zap.String("name", event.Name), zap.Error(err))
		return fmt.Errorf("failed to upsert credit event: %w", err)
	}
	return nil
}
