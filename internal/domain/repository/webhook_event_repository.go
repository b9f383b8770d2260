package repository

import (
	"context"
	"time"

	"github.com/th1s9uy/saas-billing/internal/domain/model"
)

// WebhookEventRepository deduplicates gateway deliveries.
type WebhookEventRepository interface {
	// SaveEvent records the event as pending. It reports whether the event was new.
	SaveEvent(ctx context.Context, eventID, eventType string, payload []byte, createdAt time.Time) (bool, error)

	// Claim moves a pending or failed event to processing. It reports false when
	// the event is completed or already being processed.
	Claim(ctx context.Context, eventID string) (bool, error)

	GetEvent(ctx context.Context, eventID string) (*model.WebhookEvent, error)
	MarkProcessed(ctx context.Context, eventID string) error
	MarkFailed(ctx context.Context, eventID string, cause error) error
}
