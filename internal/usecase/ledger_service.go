package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/th1s9uy/saas-billing/internal/domain/dto"
	domainErrors "github.com/th1s9uy/saas-billing/internal/domain/errors"
	"github.com/th1s9uy/saas-billing/internal/domain/model"
	domainRepo "github.com/th1s9uy/saas-billing/internal/domain/repository"
	"github.com/th1s9uy/saas-billing/internal/infrastructure/metrics"
	pkgerrors "github.com/th1s9uy/saas-billing/pkg/errors"
)

const defaultExpiringSoonWindow = 30 * 24 * time.Hour

// AddCreditsInput describes a credit grant.
type AddCreditsInput struct {
	OrganizationID uuid.UUID
	Amount         int64
	Source         model.SourceRef
	ExpiresAt      *time.Time
	Description    string
	// ReferenceID makes the grant idempotent: a second grant with the same
	// reference returns the first transaction.
	ReferenceID       string
	ExternalPaymentID string
	Metadata          map[string]interface{}
}

// ResetCreditsInput sets a balance to an absolute amount.
type ResetCreditsInput struct {
	OrganizationID uuid.UUID
	TargetAmount   int64
	Source         model.SourceRef
	ExpiresAt      *time.Time
	Description    string
}

// ConsumeCreditsInput charges a billable event.
type ConsumeCreditsInput struct {
	OrganizationID uuid.UUID
	EventName      string
	Quantity       int
	Metadata       map[string]interface{}
}

// RefundCreditsInput takes back credits granted by a refunded payment.
type RefundCreditsInput struct {
	OrganizationID   uuid.UUID
	Credits          int64
	BillingHistoryID uuid.UUID
	Description      string
}

// LedgerService is the only writer of organization credit balances. Every
// mutation updates the balance and appends one transaction atomically while
// holding the organization lock.
type LedgerService struct {
	ledgerRepo         domainRepo.CreditLedgerRepository
	orgRepo            domainRepo.OrganizationRepository
	catalogRepo        domainRepo.CatalogRepository
	metrics            *metrics.Metrics
	logger             *zap.Logger
	locks              *orgLocker
	expiringSoonWindow time.Duration
	now                func() time.Time
}

// NewLedgerService creates a new ledger service instance
func NewLedgerService(
	ledgerRepo domainRepo.CreditLedgerRepository,
	orgRepo domainRepo.OrganizationRepository,
	catalogRepo domainRepo.CatalogRepository,
	m *metrics.Metrics,
	logger *zap.Logger,
	expiringSoonWindow time.Duration,
) *LedgerService {
	if expiringSoonWindow <= 0 {
		expiringSoonWindow = defaultExpiringSoonWindow
	}
	return &LedgerService{
		ledgerRepo:         ledgerRepo,
		orgRepo:            orgRepo,
		catalogRepo:        catalogRepo,
		metrics:            m,
		logger:             logger,
		locks:              newOrgLocker(),
		expiringSoonWindow: expiringSoonWindow,
		now:                func() time.Time { return time.Now().UTC() },
	}
}

// withOrganization runs fn holding both the in-process and the row lock.
func (s *LedgerService) withOrganization(ctx context.Context, orgID uuid.UUID, operation string, fn func(tx domainRepo.LedgerTx) error) error {
	unlock := s.locks.lock(orgID)
	defer unlock()

	err := s.ledgerRepo.WithinOrganizationLock(ctx, orgID, fn)
	if err == nil {
		return nil
	}

	err = domainErrors.AsExternal("database", operation, err)
	if code, _ := pkgerrors.CodeOf(err); code == pkgerrors.ErrConsistency || code == pkgerrors.ErrExternalService {
		pkgerrors.LogError(s.logger, err, "Ledger operation failed",
			zap.String("organization_id", orgID.String()),
			zap.String("operation", operation))
	}
	return err
}

func (s *LedgerService) appended(txn *model.CreditTransaction) {
	s.metrics.CreditTransaction(string(txn.TransactionType), string(txn.Source))
	s.logger.Info("Credit transaction recorded",
		zap.String("organization_id", txn.OrganizationID.String()),
		zap.String("transaction_id", txn.ID.String()),
		zap.String("type", string(txn.TransactionType)),
		zap.String("source", string(txn.Source)),
		zap.Int64("amount", txn.Amount),
		zap.Int64("balance_after", txn.BalanceAfter))
}

func grantType(source model.TransactionSource) (model.TransactionType, bool) {
	switch source {
	case model.SourceSubscription, model.SourceAdminAdjustment:
		return model.TransactionTypeEarned, true
	case model.SourcePurchase:
		return model.TransactionTypePurchased, true
	case model.SourceRefund:
		return model.TransactionTypeRefunded, true
	}
	return "", false
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// AddCredits grants a positive amount of credits.
func (s *LedgerService) AddCredits(ctx context.Context, in AddCreditsInput) (*model.CreditTransaction, error) {
	if in.Amount <= 0 {
		return nil, domainErrors.NewValidationError("amount", "must be positive, got %d", in.Amount)
	}
	if err := in.Source.Validate(); err != nil {
		return nil, err
	}
	txType, ok := grantType(in.Source.Source)
	if !ok {
		return nil, domainErrors.NewValidationError("source", "transaction source '%s' cannot grant credits", in.Source.Source)
	}

	var (
		result   *model.CreditTransaction
		replayed bool
	)
	err := s.withOrganization(ctx, in.OrganizationID, "add_credits", func(tx domainRepo.LedgerTx) error {
		if in.ReferenceID != "" {
			existing, err := tx.FindByReference(ctx, in.ReferenceID)
			if err != nil {
				return err
			}
			if existing != nil {
				result, replayed = existing, true
				return nil
			}
		}

		txn := &model.CreditTransaction{
			TransactionType:   txType,
			Amount:            in.Amount,
			Source:            in.Source.Source,
			SourceID:          in.Source.ID,
			ReferenceID:       optionalString(in.ReferenceID),
			ExternalPaymentID: optionalString(in.ExternalPaymentID),
			Description:       in.Description,
			Metadata:          in.Metadata,
			ExpiresAt:         in.ExpiresAt,
		}
		if err := tx.Append(ctx, txn); err != nil {
			return err
		}
		result = txn
		return nil
	})
	if err != nil {
		return nil, err
	}

	if replayed {
		s.logger.Info("Credit grant already applied",
			zap.String("organization_id", in.OrganizationID.String()),
			zap.String("reference_id", in.ReferenceID),
			zap.String("transaction_id", result.ID.String()))
	} else {
		s.appended(result)
	}
	return result, nil
}

// ResetCredits sets the balance to exactly TargetAmount with one offsetting
// transaction. It returns nil when the balance already matches.
func (s *LedgerService) ResetCredits(ctx context.Context, in ResetCreditsInput) (*model.CreditTransaction, error) {
	if in.TargetAmount < 0 {
		return nil, domainErrors.NewValidationError("target_amount", "must not be negative, got %d", in.TargetAmount)
	}
	if err := in.Source.Validate(); err != nil {
		return nil, err
	}

	var result *model.CreditTransaction
	err := s.withOrganization(ctx, in.OrganizationID, "reset_credits", func(tx domainRepo.LedgerTx) error {
		delta := in.TargetAmount - tx.Organization().CreditBalance
		if delta == 0 {
			return nil
		}

		txType := model.TransactionTypeConsumed
		if delta > 0 {
			txType = model.TransactionTypeEarned
		}
		description := in.Description
		if description == "" {
			description = fmt.Sprintf("Plan change: credits reset to %d", in.TargetAmount)
		}

		txn := &model.CreditTransaction{
			TransactionType: txType,
			Amount:          delta,
			Source:          in.Source.Source,
			SourceID:        in.Source.ID,
			Description:     description,
			ExpiresAt:       in.ExpiresAt,
		}
		if err := tx.Append(ctx, txn); err != nil {
			return err
		}
		result = txn
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result != nil {
		s.appended(result)
	}
	return result, nil
}

// ConsumeCredits charges quantity units of a billable event. Insufficient
// credits are reported in the result without an error and without writing.
func (s *LedgerService) ConsumeCredits(ctx context.Context, in ConsumeCreditsInput) (*dto.ConsumptionResult, error) {
	if in.Quantity < 1 {
		return nil, domainErrors.NewValidationError("quantity", "must be at least 1, got %d", in.Quantity)
	}

	event, err := s.catalogRepo.GetActiveEventByName(ctx, in.EventName)
	if err != nil {
		return nil, domainErrors.AsExternal("database", "get_credit_event", err)
	}
	if event == nil {
		return nil, domainErrors.NewValidationError("event_name", "unknown credit event '%s'", in.EventName)
	}

	needed := event.CreditCost * int64(in.Quantity)
	result := &dto.ConsumptionResult{}
	var written *model.CreditTransaction

	err = s.withOrganization(ctx, in.OrganizationID, "consume_credits", func(tx domainRepo.LedgerTx) error {
		balance := tx.Organization().CreditBalance
		result.BalanceAfter = balance

		if needed == 0 {
			result.Success = true
			return nil
		}
		if balance < needed {
			result.Message = fmt.Sprintf("insufficient credits: %d required, %d available", needed, balance)
			return nil
		}

		metadata := map[string]interface{}{"quantity": in.Quantity}
		for k, v := range in.Metadata {
			metadata[k] = v
		}
		txn := &model.CreditTransaction{
			TransactionType: model.TransactionTypeConsumed,
			Amount:          -needed,
			Source:          model.SourceEventConsumption,
			SourceID:        &event.ID,
			Description:     fmt.Sprintf("%s x%d", event.Name, in.Quantity),
			Metadata:        metadata,
		}
		if err := tx.Append(ctx, txn); err != nil {
			return err
		}

		result.Success = true
		result.CreditsConsumed = needed
		result.BalanceAfter = txn.BalanceAfter
		result.TransactionID = txn.ID
		written = txn
		return nil
	})
	if err != nil {
		return nil, err
	}

	if written != nil {
		s.appended(written)
	}
	if !result.Success {
		s.metrics.ConsumptionRejected()
		s.logger.Info("Credit consumption rejected",
			zap.String("organization_id", in.OrganizationID.String()),
			zap.String("event", in.EventName),
			zap.Int64("needed", needed),
			zap.Int64("balance", result.BalanceAfter))
	}
	return result, nil
}

// RefundCredits debits up to Credits, never below zero. It returns nil when
// nothing could be debited or the refund was already applied.
func (s *LedgerService) RefundCredits(ctx context.Context, in RefundCreditsInput) (*model.CreditTransaction, error) {
	if in.Credits <= 0 {
		return nil, domainErrors.NewValidationError("credits", "must be positive, got %d", in.Credits)
	}
	source := model.RefundSource(in.BillingHistoryID)
	if err := source.Validate(); err != nil {
		return nil, err
	}
	reference := fmt.Sprintf("refund:%s", in.BillingHistoryID)

	var result *model.CreditTransaction
	err := s.withOrganization(ctx, in.OrganizationID, "refund_credits", func(tx domainRepo.LedgerTx) error {
		existing, err := tx.FindByReference(ctx, reference)
		if err != nil || existing != nil {
			return err
		}

		debit := in.Credits
		if balance := tx.Organization().CreditBalance; balance < debit {
			debit = balance
		}
		if debit <= 0 {
			return nil
		}

		description := in.Description
		if description == "" {
			description = fmt.Sprintf("Refund: %d credits removed", debit)
		}
		txn := &model.CreditTransaction{
			TransactionType: model.TransactionTypeRefunded,
			Amount:          -debit,
			Source:          source.Source,
			SourceID:        source.ID,
			ReferenceID:     &reference,
			Description:     description,
		}
		if err := tx.Append(ctx, txn); err != nil {
			return err
		}
		result = txn
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result != nil {
		s.appended(result)
	}
	return result, nil
}

// GetBalance returns the cached balance and its breakdown by origin.
func (s *LedgerService) GetBalance(ctx context.Context, orgID uuid.UUID) (*dto.CreditBalance, error) {
	org, err := s.orgRepo.GetByID(ctx, orgID)
	if err != nil {
		return nil, domainErrors.AsExternal("database", "get_organization", err)
	}
	if org == nil {
		return nil, domainErrors.NewNotFoundError("organization", orgID.String())
	}

	now := s.now()
	breakdown, err := s.ledgerRepo.Breakdown(ctx, orgID, now, now.Add(s.expiringSoonWindow))
	if err != nil {
		return nil, domainErrors.AsExternal("database", "credit_breakdown", err)
	}

	return &dto.CreditBalance{
		OrganizationID:      orgID,
		Total:               org.CreditBalance,
		SubscriptionCredits: breakdown.SubscriptionCredits,
		PurchasedCredits:    breakdown.PurchasedCredits,
		ExpiringSoon:        breakdown.ExpiringSoon,
		NextExpiry:          breakdown.NextExpiry,
	}, nil
}

// ListTransactions returns one page of an organization's ledger, newest first.
func (s *LedgerService) ListTransactions(ctx context.Context, orgID uuid.UUID, filters dto.TransactionFilters) (*dto.TransactionHistoryResponse, error) {
	filters.OrganizationID = orgID
	filters.SetDefaults()

	txns, total, err := s.ledgerRepo.ListTransactions(ctx, filters)
	if err != nil {
		return nil, domainErrors.AsExternal("database", "list_transactions", err)
	}

	items := make([]dto.CreditTransactionDTO, 0, len(txns))
	for _, t := range txns {
		items = append(items, dto.NewCreditTransactionDTO(t))
	}
	return &dto.TransactionHistoryResponse{
		Transactions: items,
		Pagination:   dto.NewPaginationInfo(filters.Page(), total),
	}, nil
}

// VerifyBalance audits the cached balance against the transaction log. A
// balance mismatch is returned as a ConsistencyError together with the audit.
func (s *LedgerService) VerifyBalance(ctx context.Context, orgID uuid.UUID) (*dto.LedgerAudit, error) {
	audit := &dto.LedgerAudit{OrganizationID: orgID, OrphanedReferences: []dto.OrphanedReference{}}

	err := s.withOrganization(ctx, orgID, "verify_balance", func(tx domainRepo.LedgerTx) error {
		sum, err := tx.SumAmounts(ctx)
		if err != nil {
			return err
		}
		audit.CachedBalance = tx.Organization().CreditBalance
		audit.ComputedBalance = sum
		return nil
	})
	if err != nil {
		return nil, err
	}
	audit.Difference = audit.CachedBalance - audit.ComputedBalance

	violations, err := s.ledgerRepo.CountPairingViolations(ctx, orgID)
	if err != nil {
		return nil, domainErrors.AsExternal("database", "count_pairing_violations", err)
	}
	audit.PairingViolations = violations

	orphans, err := s.ledgerRepo.FindOrphanedReferences(ctx, orgID)
	if err != nil {
		return nil, domainErrors.AsExternal("database", "find_orphaned_references", err)
	}
	for _, o := range orphans {
		audit.OrphanedReferences = append(audit.OrphanedReferences, dto.OrphanedReference{
			TransactionID: o.ID,
			Source:        string(o.Source),
			SourceID:      *o.SourceID,
			Table:         o.Source.ReferencedTable(),
		})
	}

	audit.Consistent = audit.Difference == 0 && violations == 0 && len(orphans) == 0
	audit.CheckedAt = s.now()

	if audit.Difference != 0 {
		err := domainErrors.NewConsistencyError(orgID, "verify_balance",
			fmt.Sprintf("cached balance %d differs from ledger sum %d", audit.CachedBalance, audit.ComputedBalance), nil)
		pkgerrors.LogError(s.logger, err, "Ledger balance mismatch",
			zap.String("organization_id", orgID.String()),
			zap.Int64("difference", audit.Difference))
		return audit, err
	}
	if !audit.Consistent {
		s.logger.Warn("Ledger references need attention",
			zap.String("organization_id", orgID.String()),
			zap.Int64("pairing_violations", violations),
			zap.Int("orphaned_references", len(orphans)))
	}
	return audit, nil
}
