package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/th1s9uy/saas-billing/internal/domain/model"
)

// OrganizationRepository reads billing tenants. The credit balance is written
// only through CreditLedgerRepository.
type OrganizationRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Organization, error)
	Create(ctx context.Context, org *model.Organization) error
	ListActiveIDs(ctx context.Context) ([]uuid.UUID, error)
}
