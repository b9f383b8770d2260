package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/th1s9uy/saas-billing/internal/domain/model"
)

// SubscriptionRepository persists organization subscriptions.
// Lookups return nil, nil when nothing matches.
type SubscriptionRepository interface {
	GetByOrganizationID(ctx context.Context, organizationID uuid.UUID) (*model.OrganizationSubscription, error)
	GetByExternalID(ctx context.Context, externalSubscriptionID string) (*model.OrganizationSubscription, error)
	GetByCustomerID(ctx context.Context, externalCustomerID string) (*model.OrganizationSubscription, error)
	Create(ctx context.Context, sub *model.OrganizationSubscription) error
	Save(ctx context.Context, sub *model.OrganizationSubscription) error

	// CountLiveByPlan counts subscriptions on the plan that are not in a terminal status.
	CountLiveByPlan(ctx context.Context, planID uuid.UUID) (int64, error)
}
