package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/th1s9uy/saas-billing/internal/domain/model"
)

// CatalogRepository reads and seeds plans, credit products and credit events.
// Lookups return nil, nil when nothing matches.
type CatalogRepository interface {
	GetPlan(ctx context.Context, id uuid.UUID) (*model.SubscriptionPlan, error)
	GetPlanByExternalPrice(ctx context.Context, priceID string) (*model.SubscriptionPlan, error)
	GetPlanByName(ctx context.Context, name string) (*model.SubscriptionPlan, error)
	ListActivePlans(ctx context.Context) ([]model.SubscriptionPlan, error)
	UpsertPlan(ctx context.Context, plan *model.SubscriptionPlan) error

	GetProduct(ctx context.Context, id uuid.UUID) (*model.CreditProduct, error)
	ListActiveProducts(ctx context.Context) ([]model.CreditProduct, error)
	UpsertProduct(ctx context.Context, product *model.CreditProduct) error

	GetActiveEventByName(ctx context.Context, name string) (*model.CreditEvent, error)
	ListActiveEvents(ctx context.Context) ([]model.CreditEvent, error)
	UpsertEvent(ctx context.Context, event *model.CreditEvent) error
}
