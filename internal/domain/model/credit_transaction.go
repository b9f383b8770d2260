package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	domainErrors "github.com/th1s9uy/saas-billing/internal/domain/errors"
)

// TransactionType classifies a ledger entry.
type TransactionType string

const (
	TransactionTypeEarned    TransactionType = "earned"
	TransactionTypePurchased TransactionType = "purchased"
	TransactionTypeConsumed  TransactionType = "consumed"
	TransactionTypeExpired   TransactionType = "expired"
	TransactionTypeRefunded  TransactionType = "refunded"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeEarned, TransactionTypePurchased, TransactionTypeConsumed, TransactionTypeExpired, TransactionTypeRefunded:
		return true
	}
	return false
}

// TransactionSource names what caused a credit movement.
type TransactionSource string

const (
	SourceSubscription     TransactionSource = "subscription"
	SourcePurchase         TransactionSource = "purchase"
	SourceEventConsumption TransactionSource = "event_consumption"
	SourceExpiry           TransactionSource = "expiry"
	SourceRefund           TransactionSource = "refund"
	SourceAdminAdjustment  TransactionSource = "admin_adjustment"
)

type sourceRule struct {
	requiresID bool
	table      string
}

var sourceRules = map[TransactionSource]sourceRule{
	SourceSubscription:     {requiresID: true, table: "organization_subscriptions"},
	SourcePurchase:         {requiresID: true, table: "credit_products"},
	SourceEventConsumption: {requiresID: true, table: "credit_events"},
	SourceRefund:           {requiresID: true, table: "billing_history"},
	SourceExpiry:           {},
	SourceAdminAdjustment:  {},
}

// Valid reports whether s is a known source.
func (s TransactionSource) Valid() bool {
	_, ok := sourceRules[s]
	return ok
}

// RequiresReference reports whether transactions of this source must carry a source_id.
func (s TransactionSource) RequiresReference() bool {
	return sourceRules[s].requiresID
}

// ReferencedTable returns the table a source_id of this source points into, or "".
func (s TransactionSource) ReferencedTable() string {
	return sourceRules[s].table
}

// ReferencingSources lists the sources that carry a source_id.
func ReferencingSources() []TransactionSource {
	return []TransactionSource{SourceSubscription, SourcePurchase, SourceEventConsumption, SourceRefund}
}

// SourceRef is the provenance of a transaction: a source and, for sources
// that require one, the id of the row that caused it. Build it with the
// constructors below; a hand-built value is checked by Validate.
type SourceRef struct {
	Source TransactionSource
	ID     *uuid.UUID
}

func referenced(source TransactionSource, id uuid.UUID) SourceRef {
	return SourceRef{Source: source, ID: &id}
}

func SubscriptionSource(subscriptionID uuid.UUID) SourceRef {
	return referenced(SourceSubscription, subscriptionID)
}

func PurchaseSource(productID uuid.UUID) SourceRef {
	return referenced(SourcePurchase, productID)
}

func EventConsumptionSource(eventID uuid.UUID) SourceRef {
	return referenced(SourceEventConsumption, eventID)
}

func RefundSource(billingHistoryID uuid.UUID) SourceRef {
	return referenced(SourceRefund, billingHistoryID)
}

func ExpirySource() SourceRef {
	return SourceRef{Source: SourceExpiry}
}

func AdminAdjustmentSource() SourceRef {
	return SourceRef{Source: SourceAdminAdjustment}
}

// Validate enforces the source/source_id pairing.
func (r SourceRef) Validate() error {
	rule, ok := sourceRules[r.Source]
	if !ok {
		return domainErrors.NewValidationError("source", "unknown transaction source '%s'", r.Source)
	}

	hasID := r.ID != nil && *r.ID != uuid.Nil
	if rule.requiresID && !hasID {
		return domainErrors.NewValidationError("source_id",
			"transaction source '%s' requires source_id to reference %s table", r.Source, rule.table)
	}
	if !rule.requiresID && r.ID != nil {
		return domainErrors.NewValidationError("source_id",
			"transaction source '%s' must not have a source_id", r.Source)
	}
	return nil
}

// CreditTransaction is an immutable ledger entry. Corrections are new offsetting entries.
type CreditTransaction struct {
	ID                uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	OrganizationID    uuid.UUID         `gorm:"type:uuid;not null;index:idx_credit_transactions_org_created" json:"organization_id"`
	TransactionType   TransactionType   `gorm:"size:20;not null" json:"transaction_type"`
	Amount            int64             `gorm:"not null" json:"amount"`
	BalanceAfter      int64             `gorm:"not null" json:"balance_after"`
	Source            TransactionSource `gorm:"size:32;not null;index" json:"source"`
	SourceID          *uuid.UUID        `gorm:"type:uuid;index" json:"source_id,omitempty"`
	ReferenceID       *string           `gorm:"size:200;uniqueIndex" json:"reference_id,omitempty"`
	ExternalPaymentID *string           `gorm:"size:255;index" json:"external_payment_id,omitempty"`
	Description       string            `gorm:"not null;default:''" json:"description"`
	Metadata          JSONB             `gorm:"type:jsonb" json:"metadata,omitempty"`
	ExpiresAt         *time.Time        `gorm:"index" json:"expires_at,omitempty"`
	CreatedAt         time.Time         `gorm:"index:idx_credit_transactions_org_created" json:"created_at"`
}

func (t *CreditTransaction) BeforeCreate(tx *gorm.DB) error {
	ensureID(&t.ID)
	return nil
}

// SourceRef returns the transaction's provenance.
func (t *CreditTransaction) SourceRef() SourceRef {
	return SourceRef{Source: t.Source, ID: t.SourceID}
}

// TableName specifies the table name for GORM
func (CreditTransaction) TableName() string {
	return "credit_transactions"
}
