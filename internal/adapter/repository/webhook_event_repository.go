package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/th1s9uy/saas-billing/internal/domain/model"
	"github.com/th1s9uy/saas-billing/internal/domain/repository"
)

type webhookEventRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewWebhookEventRepository creates a new webhook event repository
func NewWebhookEventRepository(db *gorm.DB, logger *zap.Logger) repository.WebhookEventRepository {
	return &webhookEventRepository{
		db:     db,
		logger: logger,
	}
}

// SaveEvent saves a new webhook event
func (r *webhookEventRepository) SaveEvent(ctx context.Context, eventID, eventType string, payload []byte, createdAt time.Time) (bool, error) {
	event := &model.WebhookEvent{
		ExternalEventID: eventID,
		EventType:       eventType,
		Status:          model.WebhookStatusPending,
		Payload:         string(payload),
	}
	if !createdAt.IsZero() {
		created := createdAt.UTC()
		event.ExternalCreatedAt = &created
	}

	// Use ON CONFLICT to handle duplicate deliveries
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "external_event_id"}}, DoNothing: true}).
		Create(event)
	if result.Error != nil {
		r.logger.Error("Failed to save webhook event",
			zap.String("event_id", eventID),
			zap.String("event_type", eventType),
			zap.Error(result.Error))
		return false, fmt.Errorf("failed to save webhook event: %w", result.Error)
	}

	return result.RowsAffected > 0, nil
}

// Claim marks a pending or failed event as processing
func (r *webhookEventRepository) Claim(ctx context.Context, eventID string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.WebhookEvent{}).
		Where("external_event_id = ? AND status IN ?", eventID, []string{
			string(model.WebhookStatusPending),
			string(model.WebhookStatusFailed),
		}).
		Updates(map[string]interface{}{
			"status":              model.WebhookStatusProcessing,
			"processing_attempts": gorm.Expr("processing_attempts + 1"),
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to claim webhook event: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// GetEvent retrieves a webhook event by ID
func (r *webhookEventRepository) GetEvent(ctx context.Context, eventID string) (*model.WebhookEvent, error) {
	var event model.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("external_event_id = ?", eventID).
		First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.logger.Error("Failed to get webhook event",
			zap.String("event_id", eventID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get webhook event: %w", err)
	}
	return &event, nil
}

// MarkProcessed marks a webhook event as processed
func (r *webhookEventRepository) MarkProcessed(ctx context.Context, eventID string) error {
	now := time.Now().UTC()
	return r.finish(ctx, eventID, map[string]interface{}{
		"status":       model.WebhookStatusCompleted,
		"processed_at": &now,
		"last_error":   nil,
	})
}

// MarkFailed marks a webhook event as failed
func (r *webhookEventRepository) MarkFailed(ctx context.Context, eventID string, cause error) error {
	msg := cause.Error()
	return r.finish(ctx, eventID, map[string]interface{}{
		"status":     model.WebhookStatusFailed,
		"last_error": &msg,
	})
}

func (r *webhookEventRepository) finish(ctx context.Context, eventID string, updates map[string]interface{}) error {
	result := r.db.WithContext(ctx).
		Model(&model.WebhookEvent{}).
		Where("external_event_id = ?", eventID).
		Updates(updates)
	if result.Error != nil {
		r.logger.Error("Failed to update webhook event",
			zap.String("event_id", eventID),
			zap.Error(result.Error))
		return fmt.Errorf("failed to update webhook event: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("webhook event not found: %s", eventID)
	}
	return nil
}
