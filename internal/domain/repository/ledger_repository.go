package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/th1s9uy/saas-billing/internal/domain/dto"
	"github.com/th1s9uy/saas-billing/internal/domain/model"
)

// LedgerTx is the ledger as seen from inside one organization-locked database
// transaction. The organization row stays locked until the callback returns.
type LedgerTx interface {
	// Organization returns the locked organization row.
	Organization() *model.Organization

	// FindByReference returns the transaction carrying the idempotency key, or nil.
	FindByReference(ctx context.Context, referenceID string) (*model.CreditTransaction, error)

	// Append applies txn.Amount to the organization balance, stamps
	// txn.BalanceAfter and inserts txn.
	Append(ctx context.Context, txn *model.CreditTransaction) error

	// SumAmounts sums every transaction amount of the locked organization.
	SumAmounts(ctx context.Context) (int64, error)
}

// BalanceBreakdown is the split of an organization's credits by origin.
type BalanceBreakdown struct {
	SubscriptionCredits int64
	PurchasedCredits    int64
	ExpiringSoon        int64
	NextExpiry          *time.Time
}

// CreditLedgerRepository persists credit transactions and the cached balance.
// Transactions are append-only; there is no update or delete.
type CreditLedgerRepository interface {
	// WithinOrganizationLock runs fn in a transaction holding the organization row lock.
	// A non-nil error from fn rolls the transaction back.
	WithinOrganizationLock(ctx context.Context, organizationID uuid.UUID, fn func(tx LedgerTx) error) error

	// ListTransactions returns one page of transactions and the total count.
	ListTransactions(ctx context.Context, filters dto.TransactionFilters) ([]model.CreditTransaction, int64, error)

	// Breakdown sums the organization's credits by origin as of now.
	Breakdown(ctx context.Context, organizationID uuid.UUID, now, expiringBefore time.Time) (*BalanceBreakdown, error)

	// SumAmounts returns the sum of every transaction amount of the organization.
	SumAmounts(ctx context.Context, organizationID uuid.UUID) (int64, error)

	// SumConsumedSince returns the credits consumed since the given time as a positive number.
	SumConsumedSince(ctx context.Context, organizationID uuid.UUID, since time.Time) (int64, error)

	// CountPairingViolations counts rows whose source_id does not match their source.
	CountPairingViolations(ctx context.Context, organizationID uuid.UUID) (int64, error)

	// FindOrphanedReferences returns rows whose source_id points at a missing row.
	FindOrphanedReferences(ctx context.Context, organizationID uuid.UUID) ([]model.CreditTransaction, error)

	// FindByExternalPayment returns the credit transaction recorded for a gateway payment, or nil.
	FindByExternalPayment(ctx context.Context, organizationID uuid.UUID, paymentID string) (*model.CreditTransaction, error)
}
