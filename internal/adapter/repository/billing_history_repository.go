package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/th1s9uy/saas-billing/internal/domain/dto"
	domainErrors "github.com/th1s9uy/saas-billing/internal/domain/errors"
	"github.com/th1s9uy/saas-billing/internal/domain/model"
	"github.com/th1s9uy/saas-billing/internal/domain/repository"
)

type billingHistoryRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewBillingHistoryRepository creates a new billing history repository
func NewBillingHistoryRepository(db *gorm.DB, logger *zap.Logger) repository.BillingHistoryRepository {
	return &billingHistoryRepository{
		db:     db,
		logger: logger,
	}
}

// Record inserts a payment attempt once per webhook event
func (r *billingHistoryRepository) Record(ctx context.Context, entry *model.BillingHistory) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "external_event_id"}}, DoNothing: true}).
		Create(entry)
	if result.Error != nil {
		r.logger.Error("Failed to record billing history",
			zap.String("organization_id", entry.OrganizationID.String()),
			zap.String("event_id", entry.ExternalEventID),
			zap.Error(result.Error))
		return false, fmt.Errorf("failed to record billing history: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// GetByPaymentIntent returns the newest row for a payment intent
func (r *billingHistoryRepository) GetByPaymentIntent(ctx context.Context, paymentIntentID string) (*model.BillingHistory, error) {
	var rows []model.BillingHistory
	err := r.db.WithContext(ctx).
		Where("external_payment_intent_id = ?", paymentIntentID).
		Order("created_at DESC").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get billing history: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// MarkRefunded moves a payment attempt to refunded
func (r *billingHistoryRepository) MarkRefunded(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Model(&model.BillingHistory{}).
		Where("id = ?", id).
		Update("status", model.BillingStatusRefunded)
	if result.Error != nil {
		return fmt.Errorf("failed to mark billing history refunded: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domainErrors.NewNotFoundError("billing_history", id.String())
	}
	return nil
}

// List returns one page of an organization's payment attempts
func (r *billingHistoryRepository) List(ctx context.Context, organizationID uuid.UUID, page dto.PageRequest) ([]model.BillingHistory, int64, error) {
	query := r.db.WithContext(ctx).
		Model(&model.BillingHistory{}).
		Where("organization_id = ?", organizationID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count billing history: %w", err)
	}

	var rows []model.BillingHistory
	err := query.
		Order("created_at DESC").
		Limit(page.Limit).
		Offset(page.Offset).
		Find(&rows).Error
	if err != nil {
		r.logger.Error("Failed to list billing history",
			zap.String("organization_id", organizationID.String()),
			zap.Error(err))
		return nil, 0, fmt.Errorf("failed to list billing history: %w", err)
	}
	return rows, total, nil
}
