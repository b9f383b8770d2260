package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/th1s9uy/saas-billing/internal/domain/dto"
	"github.com/th1s9uy/saas-billing/internal/domain/model"
)

// BillingHistoryRepository records payment attempts.
type BillingHistoryRepository interface {
	// Record inserts entry unless a row for the same webhook event exists.
	// It reports whether a row was inserted.
	Record(ctx context.Context, entry *model.BillingHistory) (bool, error)

	// GetByPaymentIntent returns the newest row for the payment intent, or nil.
	GetByPaymentIntent(ctx context.Context, paymentIntentID string) (*model.BillingHistory, error)

	// MarkRefunded moves a row to refunded.
	MarkRefunded(ctx context.Context, id uuid.UUID) error

	// List returns one page of the organization's history, newest first, and the total count.
	List(ctx context.Context, organizationID uuid.UUID, page dto.PageRequest) ([]model.BillingHistory, int64, error)
}
