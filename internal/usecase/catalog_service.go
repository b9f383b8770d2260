package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/th1s9uy/saas-billing/internal/domain/dto"
	domainErrors "github.com/th1s9uy/saas-billing/internal/domain/errors"
	"github.com/th1s9uy/saas-billing/internal/domain/model"
	domainRepo "github.com/th1s9uy/saas-billing/internal/domain/repository"
)

const (
	defaultPlanCacheSize = 128
	planCacheTTL         = 10 * time.Minute
)

// CatalogService serves plans, credit products and credit events.
type CatalogService struct {
	catalogRepo      domainRepo.CatalogRepository
	subscriptionRepo domainRepo.SubscriptionRepository
	plansByPrice     *lru.LRU[string, *model.SubscriptionPlan]
	logger           *zap.Logger
}

// NewCatalogService creates a new catalog service instance
func NewCatalogService(
	catalogRepo domainRepo.CatalogRepository,
	subscriptionRepo domainRepo.SubscriptionRepository,
	cacheSize int,
	logger *zap.Logger,
) *CatalogService {
	if cacheSize <= 0 {
		cacheSize = defaultPlanCacheSize
	}
	return &CatalogService{
		catalogRepo:      catalogRepo,
		subscriptionRepo: subscriptionRepo,
		plansByPrice:     lru.NewLRU[string, *model.SubscriptionPlan](cacheSize, nil, planCacheTTL),
		logger:           logger,
	}
}

// ListPlans returns the active plans, cheapest first.
func (s *CatalogService) ListPlans(ctx context.Context) ([]dto.PlanDTO, error) {
	plans, err := s.catalogRepo.ListActivePlans(ctx)
	if err != nil {
		return nil, domainErrors.AsExternal("database", "list_plans", err)
	}
	items := make([]dto.PlanDTO, 0, len(plans))
	for _, p := range plans {
		items = append(items, dto.NewPlanDTO(p))
	}
	return items, nil
}

// GetPlan returns an active plan.
func (s *CatalogService) GetPlan(ctx context.Context, id uuid.UUID) (*dto.PlanDTO, error) {
	plan, err := s.catalogRepo.GetPlan(ctx, id)
	if err != nil {
		return nil, domainErrors.AsExternal("database", "get_plan", err)
	}
	if plan == nil || !plan.IsActive {
		return nil, domainErrors.NewNotFoundError("plan", id.String())
	}
	item := dto.NewPlanDTO(*plan)
	return &item, nil
}

// ListCreditProducts returns the active credit packs.
func (s *CatalogService) ListCreditProducts(ctx context.Context) ([]dto.CreditProductDTO, error) {
	products, err := s.catalogRepo.ListActiveProducts(ctx)
	if err != nil {
		return nil, domainErrors.AsExternal("database", "list_credit_products", err)
	}
	items := make([]dto.CreditProductDTO, 0, len(products))
	for _, p := range products {
		items = append(items, dto.NewCreditProductDTO(p))
	}
	return items, nil
}

// ListCreditEvents returns the active billable events.
func (s *CatalogService) ListCreditEvents(ctx context.Context) ([]model.CreditEvent, error) {
	events, err := s.catalogRepo.ListActiveEvents(ctx)
	if err != nil {
		return nil, domainErrors.AsExternal("database", "list_credit_events", err)
	}
	return events, nil
}

// GetProduct returns an active credit product.
func (s *CatalogService) GetProduct(ctx context.Context, id uuid.UUID) (*model.CreditProduct, error) {
	product, err := s.catalogRepo.GetProduct(ctx, id)
	if err != nil {
		return nil, domainErrors.AsExternal("database", "get_credit_product", err)
	}
	if product == nil || !product.IsActive {
		return nil, domainErrors.NewNotFoundError("credit_product", id.String())
	}
	return product, nil
}

// PlanByExternalPrice resolves a gateway price id to a plan. Misses are not cached.
func (s *CatalogService) PlanByExternalPrice(ctx context.Context, priceID string) (*model.SubscriptionPlan, error) {
	if plan, ok := s.plansByPrice.Get(priceID); ok {
		return plan, nil
	}

	plan, err := s.catalogRepo.GetPlanByExternalPrice(ctx, priceID)
	if err != nil {
		return nil, domainErrors.AsExternal("database", "get_plan_by_price", err)
	}
	if plan == nil {
		return nil, nil
	}
	s.plansByPrice.Add(priceID, plan)
	return plan, nil
}

func pricingChanged(stored, next *model.SubscriptionPlan) bool {
	return stored.PriceAmount != next.PriceAmount ||
		stored.Currency != next.Currency ||
		stored.Interval != next.Interval ||
		stored.IntervalCount != next.IntervalCount ||
		stored.IncludedCredits != next.IncludedCredits ||
		derefString(stored.ExternalPriceID) != derefString(next.ExternalPriceID)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// UpsertPlan creates or updates a plan by name. Pricing of a plan that live
// subscriptions reference is frozen; publish a new plan instead.
func (s *CatalogService) UpsertPlan(ctx context.Context, plan *model.SubscriptionPlan) error {
	stored, err := s.catalogRepo.GetPlanByName(ctx, plan.Name)
	if err != nil {
		return domainErrors.AsExternal("database", "get_plan", err)
	}
	if stored != nil && pricingChanged(stored, plan) {
		live, err := s.subscriptionRepo.CountLiveByPlan(ctx, stored.ID)
		if err != nil {
			return domainErrors.AsExternal("database", "count_subscriptions", err)
		}
		if live > 0 {
			return domainErrors.NewConflictError("plan %s has %d live subscriptions; pricing cannot change", plan.Name, live)
		}
	}

	if err := s.catalogRepo.UpsertPlan(ctx, plan); err != nil {
		return domainErrors.AsExternal("database", "upsert_plan", err)
	}
	if stored != nil && stored.ExternalPriceID != nil {
		s.plansByPrice.Remove(*stored.ExternalPriceID)
	}
	if plan.ExternalPriceID != nil {
		s.plansByPrice.Remove(*plan.ExternalPriceID)
	}

	s.logger.Info("Plan upserted",
		zap.String("name", plan.Name),
		zap.String("plan_id", plan.ID.String()),
		zap.Int64("included_credits", plan.IncludedCredits))
	return nil
}

// UpsertProduct creates or updates a credit product by name.
func (s *CatalogService) UpsertProduct(ctx context.Context, product *model.CreditProduct) error {
	if product.CreditAmount <= 0 {
		return domainErrors.NewValidationError("credit_amount", "must be positive for product %s", product.Name)
	}
	if err := s.catalogRepo.UpsertProduct(ctx, product); err != nil {
		return domainErrors.AsExternal("database", "upsert_credit_product", err)
	}
	s.logger.Info("Credit product upserted", zap.String("name", product.Name), zap.Int64("credits", product.CreditAmount))
	return nil
}

// UpsertEvent creates or updates a billable event by name.
func (s *CatalogService) UpsertEvent(ctx context.Context, event *model.CreditEvent) error {
	if event.CreditCost < 0 {
		return domainErrors.NewValidationError("credit_cost", "must not be negative for event %s", event.Name)
	}
	if err := s.catalogRepo.UpsertEvent(ctx, event); err != nil {
		return domainErrors.AsExternal("database", "upsert_credit_event", err)
	}
	s.logger.Info("Credit event upserted", zap.String("name", event.Name), zap.Int64("cost", event.CreditCost))
	return nil
}
