package database

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/th1s9uy/saas-billing/internal/adapter/repository"
	domainRepo "github.com/th1s9uy/saas-billing/internal/domain/repository"
)

// Repositories holds all repository instances
type Repositories struct {
	Organization   domainRepo.OrganizationRepository
	Ledger         domainRepo.CreditLedgerRepository
	Subscription   domainRepo.SubscriptionRepository
	Catalog        domainRepo.CatalogRepository
	BillingHistory domainRepo.BillingHistoryRepository
	WebhookEvent   domainRepo.WebhookEventRepository
}

// NewRepositories creates new repository instances with database connection
func NewRepositories(db *gorm.DB, logger *zap.Logger) *Repositories {
	return &Repositories{
		Organization:   repository.NewOrganizationRepository(db, logger),
		Ledger:         repository.NewCreditLedgerRepository(db, logger),
		Subscription:   repository.NewSubscriptionRepository(db, logger),
		Catalog:        repository.NewCatalogRepository(db, logger),
		BillingHistory: repository.NewBillingHistoryRepository(db, logger),
		WebhookEvent:   repository.NewWebhookEventRepository(db, logger),
	}
}
