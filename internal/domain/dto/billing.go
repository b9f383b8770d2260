package dto

import (
	"time"

	"github.com/google/uuid"
	"github.com/th1s9uy/saas-billing/internal/domain/model"
)

// BillingSummary is the billing overview of an organization.
type BillingSummary struct {
	OrganizationID     uuid.UUID             `json:"organization_id"`
	Subscription       *SubscriptionResponse `json:"subscription,omitempty"`
	Credits            *CreditBalance        `json:"credits"`
	CurrentPeriodUsage int64                 `json:"current_period_usage"`
	NextBillingDate    *time.Time            `json:"next_billing_date,omitempty"`
	AmountDue          int64                 `json:"amount_due"`
	AmountDueDecimal   string                `json:"amount_due_decimal"`
	Currency           string                `json:"currency,omitempty"`
}

// BillingHistoryDTO represents a payment attempt for API responses
type BillingHistoryDTO struct {
	ID                uuid.UUID  `json:"id"`
	Amount            int64      `json:"amount"`
	AmountDecimal     string     `json:"amount_decimal"`
	Currency          string     `json:"currency"`
	Status            string     `json:"status"`
	Description       string     `json:"description,omitempty"`
	ExternalInvoiceID *string    `json:"external_invoice_id,omitempty"`
	InvoiceURL        *string    `json:"invoice_url,omitempty"`
	ReceiptURL        *string    `json:"receipt_url,omitempty"`
	BillingReason     *string    `json:"billing_reason,omitempty"`
	PaidAt            *time.Time `json:"paid_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// NewBillingHistoryDTO converts a billing history row for API responses.
func NewBillingHistoryDTO(b model.BillingHistory) BillingHistoryDTO {
	return BillingHistoryDTO{
		ID:                b.ID,
		Amount:            b.Amount,
		AmountDecimal:     FormatAmount(b.Amount),
		Currency:          b.Currency,
		Status:            string(b.Status),
		Description:       b.Description,
		ExternalInvoiceID: b.ExternalInvoiceID,
		InvoiceURL:        b.InvoiceURL,
		ReceiptURL:        b.ReceiptURL,
		BillingReason:     b.BillingReason,
		PaidAt:            b.PaidAt,
		CreatedAt:         b.CreatedAt,
	}
}

// BillingHistoryResponse represents the paginated billing history response
type BillingHistoryResponse struct {
	Items      []BillingHistoryDTO `json:"items"`
	Pagination PaginationInfo      `json:"pagination"`
}

// CheckoutSessionResponse is a hosted gateway page the client should redirect to.
type CheckoutSessionResponse struct {
	SessionID string `json:"session_id,omitempty"`
	URL       string `json:"url"`
}
