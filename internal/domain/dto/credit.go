package dto

import (
	"time"

	"github.com/google/uuid"
	"github.com/th1s9uy/saas-billing/internal/domain/model"
)

// CreditBalance is the balance of an organization split by origin.
type CreditBalance struct {
	OrganizationID      uuid.UUID  `json:"organization_id"`
	Total               int64      `json:"total"`
	SubscriptionCredits int64      `json:"subscription_credits"`
	PurchasedCredits    int64      `json:"purchased_credits"`
	ExpiringSoon        int64      `json:"expiring_soon"`
	NextExpiry          *time.Time `json:"next_expiry,omitempty"`
}

// ConsumptionResult is the outcome of a consumption attempt. Insufficient
// credits are reported here with Success false, never as an error.
type ConsumptionResult struct {
	Success         bool      `json:"success"`
	CreditsConsumed int64     `json:"credits_consumed"`
	BalanceAfter    int64     `json:"balance_after"`
	TransactionID   uuid.UUID `json:"transaction_id"`
	Message         string    `json:"message,omitempty"`
}

// TransactionFilters contains query filters for transaction retrieval
type TransactionFilters struct {
	OrganizationID  uuid.UUID
	Limit           int
	Offset          int
	StartDate       *time.Time
	EndDate         *time.Time
	TransactionType *model.TransactionType
	Source          *model.TransactionSource
}

// SetDefaults sets default values for pagination
func (f *TransactionFilters) SetDefaults() {
	page := f.Page()
	page.SetDefaults()
	f.Limit, f.Offset = page.Limit, page.Offset
}

// Page returns the filter's page selector.
func (f TransactionFilters) Page() PageRequest {
	return PageRequest{Limit: f.Limit, Offset: f.Offset}
}

// CreditTransactionDTO represents a credit transaction for API responses
type CreditTransactionDTO struct {
	ID                uuid.UUID              `json:"id"`
	TransactionType   string                 `json:"transaction_type"`
	Amount            int64                  `json:"amount"`
	BalanceAfter      int64                  `json:"balance_after"`
	Source            string                 `json:"source"`
	SourceID          *uuid.UUID             `json:"source_id,omitempty"`
	ReferenceID       *string                `json:"reference_id,omitempty"`
	ExternalPaymentID *string                `json:"external_payment_id,omitempty"`
	Description       string                 `json:"description,omitempty"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
	ExpiresAt         *time.Time             `json:"expires_at,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
}

// NewCreditTransactionDTO converts a ledger row for API responses.
func NewCreditTransactionDTO(t model.CreditTransaction) CreditTransactionDTO {
	return CreditTransactionDTO{
		ID:                t.ID,
		TransactionType:   string(t.TransactionType),
		Amount:            t.Amount,
		BalanceAfter:      t.BalanceAfter,
		Source:            string(t.Source),
		SourceID:          t.SourceID,
		ReferenceID:       t.ReferenceID,
		ExternalPaymentID: t.ExternalPaymentID,
		Description:       t.Description,
		Metadata:          t.Metadata,
		ExpiresAt:         t.ExpiresAt,
		CreatedAt:         t.CreatedAt,
	}
}

// TransactionHistoryResponse represents the paginated transaction list response
type TransactionHistoryResponse struct {
	Transactions []CreditTransactionDTO `json:"transactions"`
	Pagination   PaginationInfo         `json:"pagination"`
}

// OrphanedReference is a transaction whose source_id points at a missing row.
type OrphanedReference struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Source        string    `json:"source"`
	SourceID      uuid.UUID `json:"source_id"`
	Table         string    `json:"table"`
}

// LedgerAudit compares the cached balance with the transaction log.
type LedgerAudit struct {
	OrganizationID     uuid.UUID           `json:"organization_id"`
	CachedBalance      int64               `json:"cached_balance"`
	ComputedBalance    int64               `json:"computed_balance"`
	Difference         int64               `json:"difference"`
	PairingViolations  int64               `json:"pairing_violations"`
	OrphanedReferences []OrphanedReference `json:"orphaned_references"`
	Consistent         bool                `json:"consistent"`
	CheckedAt          time.Time           `json:"checked_at"`
}
