package usecase

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/th1s9uy/saas-billing/internal/domain/dto"
	domainErrors "github.com/th1s9uy/saas-billing/internal/domain/errors"
	domainRepo "github.com/th1s9uy/saas-billing/internal/domain/repository"
)

// BillingService answers read-only billing questions for the dashboard.
type BillingService struct {
	subscriptionRepo domainRepo.SubscriptionRepository
	catalogRepo      domainRepo.CatalogRepository
	ledgerRepo       domainRepo.CreditLedgerRepository
	billingRepo      domainRepo.BillingHistoryRepository
	ledger           *LedgerService
	logger           *zap.Logger
}

// NewBillingService creates a new billing service instance
func NewBillingService(
	subscriptionRepo domainRepo.SubscriptionRepository,
	catalogRepo domainRepo.CatalogRepository,
	ledgerRepo domainRepo.CreditLedgerRepository,
	billingRepo domainRepo.BillingHistoryRepository,
	ledger *LedgerService,
	logger *zap.Logger,
) *BillingService {
	return &BillingService{
		subscriptionRepo: subscriptionRepo,
		catalogRepo:      catalogRepo,
		ledgerRepo:       ledgerRepo,
		billingRepo:      billingRepo,
		ledger:           ledger,
		logger:           logger,
	}
}

// GetSummary returns the subscription, balance and usage of the current period.
func (s *BillingService) GetSummary(ctx context.Context, orgID uuid.UUID) (*dto.BillingSummary, error) {
	credits, err := s.ledger.GetBalance(ctx, orgID)
	if err != nil {
		return nil, err
	}
	summary := &dto.BillingSummary{
		OrganizationID:   orgID,
		Credits:          credits,
		AmountDueDecimal: dto.FormatAmount(0),
	}

	sub, err := s.subscriptionRepo.GetByOrganizationID(ctx, orgID)
	if err != nil {
		return nil, domainErrors.AsExternal("database", "get_subscription", err)
	}
	if sub == nil {
		return summary, nil
	}
	plan, err := s.catalogRepo.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return nil, domainErrors.AsExternal("database", "get_plan", err)
	}
	summary.Subscription = dto.NewSubscriptionResponse(sub, plan)

	if sub.CurrentPeriodStart != nil {
		usage, err := s.ledgerRepo.SumConsumedSince(ctx, orgID, *sub.CurrentPeriodStart)
		if err != nil {
			return nil, domainErrors.AsExternal("database", "sum_consumed", err)
		}
		summary.CurrentPeriodUsage = usage
	}

	if !sub.Status.IsTerminal() && !sub.CancelAtPeriodEnd && sub.CurrentPeriodEnd != nil && plan != nil {
		summary.NextBillingDate = sub.CurrentPeriodEnd
		summary.AmountDue = plan.PriceAmount
		summary.AmountDueDecimal = dto.FormatAmount(plan.PriceAmount)
		summary.Currency = plan.Currency
	}
	return summary, nil
}

// ListHistory returns one page of payment attempts, newest first.
func (s *BillingService) ListHistory(ctx context.Context, orgID uuid.UUID, page dto.PageRequest) (*dto.BillingHistoryResponse, error) {
	page.SetDefaults()
	rows, total, err := s.billingRepo.List(ctx, orgID, page)
	if err != nil {
		return nil, domainErrors.AsExternal("database", "list_billing_history", err)
	}

	items := make([]dto.BillingHistoryDTO, 0, len(rows))
	for _, row := range rows {
		items = append(items, dto.NewBillingHistoryDTO(row))
	}
	return &dto.BillingHistoryResponse{
		Items:      items,
		Pagination: dto.NewPaginationInfo(page, total),
	}, nil
}
