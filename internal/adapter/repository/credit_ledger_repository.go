package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/th1s9uy/saas-billing/internal/domain/dto"
	domainErrors "github.com/th1s9uy/saas-billing/internal/domain/errors"
	"github.com/th1s9uy/saas-billing/internal/domain/model"
	"github.com/th1s9uy/saas-billing/internal/domain/repository"
)

const sumAmount = "CAST(COALESCE(SUM(amount), 0) AS BIGINT)"

type creditLedgerRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewCreditLedgerRepository creates a new credit ledger repository
func NewCreditLedgerRepository(db *gorm.DB, logger *zap.Logger) repository.CreditLedgerRepository {
	return &creditLedgerRepository{
		db:     db,
		logger: logger,
	}
}

// ledgerTx is bound to one database transaction holding the organization row lock.
type ledgerTx struct {
	tx             *gorm.DB
	org            *model.Organization
	balanceWritten bool
}

func (l *ledgerTx) Organization() *model.Organization {
	return l.org
}

func (l *ledgerTx) FindByReference(ctx context.Context, referenceID string) (*model.CreditTransaction, error) {
	var txns []model.CreditTransaction
	err := l.tx.WithContext(ctx).
		Where("reference_id = ?", referenceID).
		Limit(1).
		Find(&txns).Error
	if err != nil {
		return nil, fmt.Errorf("failed to look up transaction reference: %w", err)
	}
	if len(txns) == 0 {
		return nil, nil
	}
	return &txns[0], nil
}

func (l *ledgerTx) Append(ctx context.Context, txn *model.CreditTransaction) error {
	newBalance := l.org.CreditBalance + txn.Amount

	err := l.tx.WithContext(ctx).
		Model(&model.Organization{}).
		Where("id = ?", l.org.ID).
		Update("credit_balance", newBalance).Error
	if err != nil {
		return fmt.Errorf("failed to update credit balance: %w", err)
	}
	l.balanceWritten = true

	txn.OrganizationID = l.org.ID
	txn.BalanceAfter = newBalance
	if err := l.tx.WithContext(ctx).Create(txn).Error; err != nil {
		return fmt.Errorf("failed to insert credit transaction: %w", err)
	}

	l.org.CreditBalance = newBalance
	return nil
}

func (l *ledgerTx) SumAmounts(ctx context.Context) (int64, error) {
	var total int64
	err := l.tx.WithContext(ctx).
		Model(&model.CreditTransaction{}).
		Select(sumAmount).
		Where("organization_id = ?", l.org.ID).
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("failed to sum transactions: %w", err)
	}
	return total, nil
}

// WithinOrganizationLock runs fn inside a transaction that holds SELECT ... FOR UPDATE
// on the organization row.
func (r *creditLedgerRepository) WithinOrganizationLock(ctx context.Context, organizationID uuid.UUID, fn func(tx repository.LedgerTx) error) (err error) {
	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	var org model.Organization
	err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", organizationID).
		First(&org).Error
	if err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domainErrors.NewNotFoundError("organization", organizationID.String())
		}
		return fmt.Errorf("failed to lock organization: %w", err)
	}

	ltx := &ledgerTx{tx: tx, org: &org}
	if err := fn(ltx); err != nil {
		if rbErr := tx.Rollback().Error; rbErr != nil && ltx.balanceWritten {
			r.logger.Error("Failed to roll back ledger transaction after balance write",
				zap.String("organization_id", organizationID.String()),
				zap.Error(err),
				zap.NamedError("rollback_error", rbErr))
			return domainErrors.NewConsistencyError(organizationID, "rollback",
				"balance was written but the transaction could not be rolled back", errors.Join(err, rbErr))
		}
		return err
	}

	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("failed to commit ledger transaction: %w", err)
	}
	return nil
}

// ListTransactions retrieves one page of credit transactions with filters
func (r *creditLedgerRepository) ListTransactions(ctx context.Context, filters dto.TransactionFilters) ([]model.CreditTransaction, int64, error) {
	query := r.db.WithContext(ctx).
		Model(&model.CreditTransaction{}).
		Where("organization_id = ?", filters.OrganizationID)

	if filters.StartDate != nil {
		query = query.Where("created_at >= ?", *filters.StartDate)
	}
	if filters.EndDate != nil {
		query = query.Where("created_at <= ?", *filters.EndDate)
	}
	if filters.TransactionType != nil {
		query = query.Where("transaction_type = ?", *filters.TransactionType)
	}
	if filters.Source != nil {
		query = query.Where("source = ?", *filters.Source)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		r.logger.Error("Failed to count transactions",
			zap.String("organization_id", filters.OrganizationID.String()),
			zap.Error(err))
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	var txns []model.CreditTransaction
	err := query.
		Order("created_at DESC").
		Limit(filters.Limit).
		Offset(filters.Offset).
		Find(&txns).Error
	if err != nil {
		r.logger.Error("Failed to get transactions",
			zap.String("organization_id", filters.OrganizationID.String()),
			zap.Error(err))
		return nil, 0, fmt.Errorf("failed to get transactions: %w", err)
	}

	return txns, total, nil
}

func (r *creditLedgerRepository) sum(ctx context.Context, organizationID uuid.UUID, conds ...interface{}) (int64, error) {
	query := r.db.WithContext(ctx).
		Model(&model.CreditTransaction{}).
		Select(sumAmount).
		Where("organization_id = ?", organizationID)
	if len(conds) > 0 {
		query = query.Where(conds[0], conds[1:]...)
	}

	var total int64
	if err := query.Scan(&total).Error; err != nil {
		return 0, fmt.Errorf("failed to sum transactions: %w", err)
	}
	return total, nil
}

// Breakdown sums the organization's credits by origin
func (r *creditLedgerRepository) Breakdown(ctx context.Context, organizationID uuid.UUID, now, expiringBefore time.Time) (*repository.BalanceBreakdown, error) {
	var (
		b   repository.BalanceBreakdown
		err error
	)

	b.SubscriptionCredits, err = r.sum(ctx, organizationID,
		"source = ? AND transaction_type = ? AND expires_at >= ?",
		model.SourceSubscription, model.TransactionTypeEarned, now)
	if err != nil {
		return nil, err
	}

	b.PurchasedCredits, err = r.sum(ctx, organizationID,
		"source = ? AND expires_at IS NULL", model.SourcePurchase)
	if err != nil {
		return nil, err
	}

	b.ExpiringSoon, err = r.sum(ctx, organizationID,
		"amount > 0 AND expires_at > ? AND expires_at <= ?", now, expiringBefore)
	if err != nil {
		return nil, err
	}

	var next []model.CreditTransaction
	err = r.db.WithContext(ctx).
		Where("organization_id = ? AND amount > 0 AND expires_at > ?", organizationID, now).
		Order("expires_at ASC").
		Limit(1).
		Find(&next).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get next expiry: %w", err)
	}
	if len(next) > 0 {
		b.NextExpiry = next[0].ExpiresAt
	}

	return &b, nil
}

// SumAmounts returns the balance recomputed from the log
func (r *creditLedgerRepository) SumAmounts(ctx context.Context, organizationID uuid.UUID) (int64, error) {
	return r.sum(ctx, organizationID)
}

// SumConsumedSince returns event consumption since the given time
func (r *creditLedgerRepository) SumConsumedSince(ctx context.Context, organizationID uuid.UUID, since time.Time) (int64, error) {
	total, err := r.sum(ctx, organizationID,
		"transaction_type = ? AND source = ? AND created_at >= ?",
		model.TransactionTypeConsumed, model.SourceEventConsumption, since)
	if err != nil {
		return 0, err
	}
	return -total, nil
}

func sourceNames(sources []model.TransactionSource) []string {
	names := make([]string, len(sources))
	for i, s := range sources {
		names[i] = string(s)
	}
	return names
}

// CountPairingViolations counts rows breaking the source/source_id pairing
func (r *creditLedgerRepository) CountPairingViolations(ctx context.Context, organizationID uuid.UUID) (int64, error) {
	referencing := sourceNames(model.ReferencingSources())
	known := sourceNames([]model.TransactionSource{
		model.SourceSubscription, model.SourcePurchase, model.SourceEventConsumption,
		model.SourceRefund, model.SourceExpiry, model.SourceAdminAdjustment,
	})

	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.CreditTransaction{}).
		Where("organization_id = ?", organizationID).
		Where("((source IN ? AND source_id IS NULL) OR (source NOT IN ? AND source_id IS NOT NULL) OR source NOT IN ?)",
			referencing, referencing, known).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count pairing violations: %w", err)
	}
	return count, nil
}

// FindOrphanedReferences returns rows whose source_id is missing from the referenced table
func (r *creditLedgerRepository) FindOrphanedReferences(ctx context.Context, organizationID uuid.UUID) ([]model.CreditTransaction, error) {
	var orphans []model.CreditTransaction
	for _, source := range model.ReferencingSources() {
		var rows []model.CreditTransaction
		err := r.db.WithContext(ctx).
			Where("organization_id = ? AND source = ? AND source_id IS NOT NULL", organizationID, source).
			Where(fmt.Sprintf("NOT EXISTS (SELECT 1 FROM %s ref WHERE ref.id = credit_transactions.source_id)", source.ReferencedTable())).
			Order("created_at ASC").
			Find(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("failed to find orphaned %s references: %w", source, err)
		}
		orphans = append(orphans, rows...)
	}
	return orphans, nil
}

// FindByExternalPayment returns the purchase credited for a gateway payment
func (r *creditLedgerRepository) FindByExternalPayment(ctx context.Context, organizationID uuid.UUID, paymentID string) (*model.CreditTransaction, error) {
	var txns []model.CreditTransaction
	err := r.db.WithContext(ctx).
		Where("organization_id = ? AND external_payment_id = ? AND source = ?", organizationID, paymentID, model.SourcePurchase).
		Order("created_at ASC").
		Limit(1).
		Find(&txns).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction by payment: %w", err)
	}
	if len(txns) == 0 {
		return nil, nil
	}
	return &txns[0], nil
}
