package provider

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"
)

// CheckoutMode selects what a hosted checkout sells.
type CheckoutMode string

const (
	CheckoutModeSubscription CheckoutMode = "subscription"
	CheckoutModePayment      CheckoutMode = "payment"
)

// CheckoutRequest describes a hosted checkout session.
type CheckoutRequest struct {
	Mode              CheckoutMode
	PriceID           string
	CustomerID        string
	CustomerEmail     string
	ClientReferenceID string
	SuccessURL        string
	CancelURL         string
	TrialPeriodDays   int
	Metadata          map[string]string
}

// CheckoutSession is a created hosted checkout page.
type CheckoutSession struct {
	ID  string
	URL string
}

// PaymentGateway is the subset of the payment provider API the billing core calls.
// Calls are never retried here.
type PaymentGateway interface {
	// CreateCheckoutSession creates a hosted checkout page.
	CreateCheckoutSession(ctx context.Context, req *CheckoutRequest) (*CheckoutSession, error)

	// CreatePortalSession returns the URL of the customer self-service portal.
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)

	// SetCancelAtPeriodEnd schedules or unschedules cancellation at the period end.
	SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) error

	// GetSubscription fetches the current state of a subscription.
	GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error)

	// GetCustomerMetadata returns the metadata attached to a customer.
	GetCustomerMetadata(ctx context.Context, customerID string) (map[string]string, error)
}

// WebhookVerifier authenticates gateway webhook payloads.
type WebhookVerifier interface {
	// Verify checks the signature header against payload and decodes the event.
	Verify(payload []byte, signature string) (stripe.Event, error)
}

// EmailSender delivers transactional email.
type EmailSender interface {
	// Send delivers an HTML message and returns the provider message id.
	Send(ctx context.Context, to, subject, html string) (string, error)
}

// BillingEventType names a billing state change announced to other services.
type BillingEventType string

const (
	BillingEventCreditsChanged       BillingEventType = "credits.changed"
	BillingEventSubscriptionChanged  BillingEventType = "subscription.changed"
	BillingEventSubscriptionCanceled BillingEventType = "subscription.cancelled"
	BillingEventPaymentSucceeded     BillingEventType = "payment.succeeded"
	BillingEventPaymentFailed        BillingEventType = "payment.failed"
)

// BillingEvent is a billing state change notification.
type BillingEvent struct {
	Type           BillingEventType       `json:"type"`
	OrganizationID uuid.UUID              `json:"organization_id"`
	Data           map[string]interface{} `json:"data,omitempty"`
	OccurredAt     time.Time              `json:"occurred_at"`
}

// EventPublisher announces billing events. Delivery is best effort.
type EventPublisher interface {
	Publish(ctx context.Context, event BillingEvent) error
}
