package stripe

import (
	"context"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"go.uber.org/zap"

	domainErrors "github.com/th1s9uy/saas-billing/internal/domain/errors"
	"github.com/th1s9uy/saas-billing/internal/domain/provider"
)

const serviceName = "stripe"

// StripeProvider implements provider.PaymentGateway on the Stripe API.
// Requests are never retried.
type StripeProvider struct {
	api    *client.API
	logger *zap.Logger
}

// Options configures the Stripe client.
type Options struct {
	SecretKey string
	Timeout   time.Duration
	// BaseURL overrides the API endpoint, for tests.
	BaseURL string
}

// NewStripeProvider creates a new Stripe provider
func NewStripeProvider(opts Options, logger *zap.Logger) *StripeProvider {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	cfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: opts.Timeout},
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &zapLeveledLogger{logger: logger},
	}
	if opts.BaseURL != "" {
		cfg.URL = stripe.String(opts.BaseURL)
	}

	api := &client.API{}
	api.Init(opts.SecretKey, stripe.NewBackendsWithConfig(cfg))

	return &StripeProvider{
		api:    api,
		logger: logger,
	}
}

func (s *StripeProvider) fail(operation string, err error, fields ...zap.Field) error {
	fields = append(fields, zap.String("operation", operation), zap.Error(err))
	if stripeErr, ok := err.(*stripe.Error); ok {
		fields = append(fields,
			zap.String("stripe_code", string(stripeErr.Code)),
			zap.String("request_id", stripeErr.RequestID),
			zap.Int("http_status", stripeErr.HTTPStatusCode))
	}
	s.logger.Error("Stripe request failed", fields...)
	return domainErrors.NewExternalServiceError(serviceName, operation, err)
}

// CreateCheckoutSession creates a hosted checkout page.
func (s *StripeProvider) CreateCheckoutSession(ctx context.Context, req *provider.CheckoutRequest) (*provider.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(req.Mode)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}
	params.Context = ctx

	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	} else if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	if req.ClientReferenceID != "" {
		params.ClientReferenceID = stripe.String(req.ClientReferenceID)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	switch req.Mode {
	case provider.CheckoutModeSubscription:
		params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: req.Metadata,
		}
		if req.TrialPeriodDays > 0 {
			params.SubscriptionData.TrialPeriodDays = stripe.Int64(int64(req.TrialPeriodDays))
		}
	case provider.CheckoutModePayment:
		params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: req.Metadata,
		}
	}

	session, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, s.fail("create_checkout_session", err, zap.String("price_id", req.PriceID))
	}

	s.logger.Info("Checkout session created",
		zap.String("session_id", session.ID),
		zap.String("mode", string(req.Mode)),
		zap.String("price_id", req.PriceID))
	return &provider.CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

// CreatePortalSession returns the URL of the customer portal.
func (s *StripeProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	session, err := s.api.BillingPortalSessions.New(params)
	if err != nil {
		return "", s.fail("create_portal_session", err, zap.String("customer_id", customerID))
	}
	return session.URL, nil
}

// SetCancelAtPeriodEnd schedules or withdraws cancellation at the period end.
func (s *StripeProvider) SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) error {
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(cancel),
	}
	params.Context = ctx

	if _, err := s.api.Subscriptions.Update(subscriptionID, params); err != nil {
		return s.fail("update_subscription", err, zap.String("subscription_id", subscriptionID))
	}

	s.logger.Info("Subscription cancel_at_period_end updated",
		zap.String("subscription_id", subscriptionID),
		zap.Bool("cancel_at_period_end", cancel))
	return nil
}

// GetSubscription fetches a subscription.
func (s *StripeProvider) GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := s.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return nil, s.fail("get_subscription", err, zap.String("subscription_id", subscriptionID))
	}
	return sub, nil
}

// GetCustomerMetadata returns the metadata of a customer.
func (s *StripeProvider) GetCustomerMetadata(ctx context.Context, customerID string) (map[string]string, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx

	customer, err := s.api.Customers.Get(customerID, params)
	if err != nil {
		return nil, s.fail("get_customer", err, zap.String("customer_id", customerID))
	}
	return customer.Metadata, nil
}

// zapLeveledLogger routes stripe-go client logs through zap.
type zapLeveledLogger struct {
	logger *zap.Logger
}

func (l *zapLeveledLogger) Debugf(format string, v ...interface{}) {
	l.logger.Sugar().Debugf(format, v...)
}

func (l *zapLeveledLogger) Infof(format string, v ...interface{}) {
	l.logger.Sugar().Debugf(format, v...)
}

func (l *zapLeveledLogger) Warnf(format string, v ...interface{}) {
	l.logger.Sugar().Warnf(format, v...)
}

func (l *zapLeveledLogger) Errorf(format string, v ...interface{}) {
	l.logger.Sugar().Errorf(format, v...)
}
