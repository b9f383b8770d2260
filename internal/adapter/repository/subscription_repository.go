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

type subscriptionRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewSubscriptionRepository creates a new subscription repository
func NewSubscriptionRepository(db *gorm.DB, logger *zap.Logger) repository.SubscriptionRepository {
	return &subscriptionRepository{
		db:     db,
		logger: logger,
	}
}

func (r *subscriptionRepository) first(ctx context.Context, field string, query string, args ...interface{}) (*model.OrganizationSubscription, error) {
	var sub model.OrganizationSubscription
	err := r.db.WithContext(ctx).Where(query, args...).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.logger.Error("Failed to get subscription",
			zap.String("lookup", field),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return &sub, nil
}

// GetByOrganizationID retrieves the organization's subscription
func (r *subscriptionRepository) GetByOrganizationID(ctx context.Context, organizationID uuid.UUID) (*model.OrganizationSubscription, error) {
	return r.first(ctx, "organization_id", "organization_id = ?", organizationID)
}

// GetByExternalID retrieves a subscription by gateway subscription ID
func (r *subscriptionRepository) GetByExternalID(ctx context.Context, externalSubscriptionID string) (*model.OrganizationSubscription, error) {
	return r.first(ctx, "external_subscription_id", "external_subscription_id = ?", externalSubscriptionID)
}

// GetByCustomerID retrieves a subscription by gateway customer ID
func (r *subscriptionRepository) GetByCustomerID(ctx context.Context, externalCustomerID string) (*model.OrganizationSubscription, error) {
	return r.first(ctx, "external_customer_id", "external_customer_id = ?", externalCustomerID)
}

// Create inserts a new subscription
func (r *subscriptionRepository) Create(ctx context.Context, sub *model.OrganizationSubscription) error {
	if err := r.db.WithContext(ctx).Create(sub).Error; err != nil {
		r.logger.Error("Failed to create subscription",
			zap.String("organization_id", sub.OrganizationID.String()),
			zap.Error(err))
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

// Save writes every field of an existing subscription
func (r *subscriptionRepository) Save(ctx context.Context, sub *model.OrganizationSubscription) error {
	if err := r.db.WithContext(ctx).Save(sub).Error; err != nil {
		r.logger.Error("Failed to update subscription",
			zap.String("organization_id", sub.OrganizationID.String()),
			zap.Error(err))
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	return nil
}

// CountLiveByPlan counts non-terminal subscriptions on a plan
func (r *subscriptionRepository) CountLiveByPlan(ctx context.Context, planID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.OrganizationSubscription{}).
		Where("plan_id = ? AND status NOT IN ?", planID, []string{
			string(model.SubscriptionStatusCancelled),
			string(model.SubscriptionStatusExpired),
			string(model.SubscriptionStatusIncompleteExpired),
		}).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count subscriptions for plan: %w", err)
	}
	return count, nil
}
