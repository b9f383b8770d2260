package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BillingStatus is the outcome of a payment attempt.
type BillingStatus string

const (
	BillingStatusPending   BillingStatus = "pending"
	BillingStatusPaid      BillingStatus = "paid"
	BillingStatusFailed    BillingStatus = "failed"
	BillingStatusRefunded  BillingStatus = "refunded"
	BillingStatusCancelled BillingStatus = "cancelled"
)

// BillingHistory records one payment attempt. Rows are append-only apart from
// the transition to refunded.
type BillingHistory struct {
	ID                      uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	OrganizationID          uuid.UUID     `gorm:"type:uuid;not null;index:idx_billing_history_org_created" json:"organization_id"`
	SubscriptionID          *uuid.UUID    `gorm:"type:uuid;index" json:"subscription_id,omitempty"`
	ExternalEventID         string        `gorm:"not null;size:255;uniqueIndex" json:"-"`
	ExternalInvoiceID       *string       `gorm:"size:255;index" json:"external_invoice_id,omitempty"`
	ExternalPaymentIntentID *string       `gorm:"size:255;index" json:"external_payment_intent_id,omitempty"`
	Amount                  int64         `gorm:"not null" json:"amount"`
	Currency                string        `gorm:"not null;size:3" json:"currency"`
	Status                  BillingStatus `gorm:"not null;size:16" json:"status"`
	Description             string        `json:"description"`
	InvoiceURL              *string       `json:"invoice_url,omitempty"`
	ReceiptURL              *string       `json:"receipt_url,omitempty"`
	BillingReason           *string       `gorm:"size:64" json:"billing_reason,omitempty"`
	PaidAt                  *time.Time    `json:"paid_at,omitempty"`
	CreatedAt               time.Time     `gorm:"index:idx_billing_history_org_created" json:"created_at"`
	UpdatedAt               time.Time     `json:"updated_at"`
}

func (b *BillingHistory) BeforeCreate(tx *gorm.DB) error {
	ensureID(&b.ID)
	return nil
}

// TableName specifies the table name for GORM
func (BillingHistory) TableName() string {
	return "billing_history"
}
