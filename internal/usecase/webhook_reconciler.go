package usecase

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"

	domainErrors "github.com/th1s9uy/saas-billing/internal/domain/errors"
	"github.com/th1s9uy/saas-billing/internal/domain/model"
	"github.com/th1s9uy/saas-billing/internal/domain/provider"
	domainRepo "github.com/th1s9uy/saas-billing/internal/domain/repository"
	"github.com/th1s9uy/saas-billing/internal/infrastructure/metrics"
	pkgerrors "github.com/th1s9uy/saas-billing/pkg/errors"
)

// DispatchResult tells the webhook caller what happened to a delivery.
type DispatchResult string

const (
	DispatchAccepted  DispatchResult = "accepted"
	DispatchDuplicate DispatchResult = "duplicate"
)

const (
	metadataOrganizationID = "organization_id"
	metadataPlanID         = "plan_id"
	metadataProductID      = "product_id"
	metadataCreditAmount   = "credit_amount"
)

// WebhookReconciler turns verified gateway events into ledger and
// subscription operations. Every event is recorded before it is processed
// and processed at most once to completion.
type WebhookReconciler struct {
	verifier         provider.WebhookVerifier
	webhookRepo      domainRepo.WebhookEventRepository
	billingRepo      domainRepo.BillingHistoryRepository
	subscriptionRepo domainRepo.SubscriptionRepository
	orgRepo          domainRepo.OrganizationRepository
	ledgerRepo       domainRepo.CreditLedgerRepository
	catalogRepo      domainRepo.CatalogRepository
	ledger           *LedgerService
	subscriptions    *SubscriptionService
	catalog          *CatalogService
	gateway          provider.PaymentGateway
	publisher        provider.EventPublisher
	notifier         *BillingNotifier
	metrics          *metrics.Metrics
	logger           *zap.Logger

	inflight sync.WaitGroup
}

// WebhookRepositories groups the stores the reconciler reads and writes.
type WebhookRepositories struct {
	Webhooks      domainRepo.WebhookEventRepository
	Billing       domainRepo.BillingHistoryRepository
	Subscriptions domainRepo.SubscriptionRepository
	Organizations domainRepo.OrganizationRepository
	Ledger        domainRepo.CreditLedgerRepository
	Catalog       domainRepo.CatalogRepository
}

// NewWebhookReconciler creates a new webhook reconciler instance
func NewWebhookReconciler(
	verifier provider.WebhookVerifier,
	repos WebhookRepositories,
	ledger *LedgerService,
	subscriptions *SubscriptionService,
	catalog *CatalogService,
	gateway provider.PaymentGateway,
	publisher provider.EventPublisher,
	notifier *BillingNotifier,
	m *metrics.Metrics,
	logger *zap.Logger,
) *WebhookReconciler {
	return &WebhookReconciler{
		verifier:         verifier,
		webhookRepo:      repos.Webhooks,
		billingRepo:      repos.Billing,
		subscriptionRepo: repos.Subscriptions,
		orgRepo:          repos.Organizations,
		ledgerRepo:       repos.Ledger,
		catalogRepo:      repos.Catalog,
		ledger:           ledger,
		subscriptions:    subscriptions,
		catalog:          catalog,
		gateway:          gateway,
		publisher:        publisher,
		notifier:         notifier,
		metrics:          m,
		logger:           logger,
	}
}

// Receive verifies a raw delivery and dispatches it.
func (r *WebhookReconciler) Receive(ctx context.Context, payload []byte, signature string) (DispatchResult, error) {
	event, err := r.verifier.Verify(payload, signature)
	if err != nil {
		r.logger.Warn("Webhook signature verification failed", zap.Error(err))
		return "", domainErrors.NewSignatureVerificationError(err)
	}
	return r.Dispatch(ctx, event, payload)
}

// Dispatch records the event, claims it and starts processing in the
// background. Processing outlives ctx; use Wait to drain it.
func (r *WebhookReconciler) Dispatch(ctx context.Context, event stripe.Event, payload []byte) (DispatchResult, error) {
	created := time.Unix(event.Created, 0).UTC()
	if _, err := r.webhookRepo.SaveEvent(ctx, event.ID, string(event.Type), payload, created); err != nil {
		return "", domainErrors.AsExternal("database", "save_webhook_event", err)
	}

	claimed, err := r.webhookRepo.Claim(ctx, event.ID)
	if err != nil {
		return "", domainErrors.AsExternal("database", "claim_webhook_event", err)
	}
	if !claimed {
		r.metrics.WebhookEvent(string(event.Type), metrics.WebhookResultDuplicate, 0)
		r.logger.Info("Webhook event already handled",
			zap.String("event_id", event.ID),
			zap.String("type", string(event.Type)))
		return DispatchDuplicate, nil
	}

	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		r.process(context.WithoutCancel(ctx), event)
	}()
	return DispatchAccepted, nil
}

// Wait blocks until every dispatched event finished processing.
func (r *WebhookReconciler) Wait() {
	r.inflight.Wait()
}

func (r *WebhookReconciler) process(ctx context.Context, event stripe.Event) {
	start := time.Now()
	log := r.logger.With(
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)))

	defer func() {
		if p := recover(); p != nil {
			log.Error("Webhook handler panicked", zap.Any("panic", p))
			r.fail(ctx, event, domainErrors.NewConsistencyError(uuid.Nil, "webhook", "handler panicked", nil), start)
		}
	}()

	handled, err := r.handle(ctx, event)
	if err != nil {
		pkgerrors.LogError(log, err, "Webhook processing failed")
		r.fail(ctx, event, err, start)
		return
	}

	if err := r.webhookRepo.MarkProcessed(ctx, event.ID); err != nil {
		log.Error("Failed to mark webhook event processed", zap.Error(err))
	}
	result := metrics.WebhookResultProcessed
	if !handled {
		result = metrics.WebhookResultIgnored
	}
	r.metrics.WebhookEvent(string(event.Type), result, time.Since(start))
	log.Info("Webhook event processed", zap.String("result", result), zap.Duration("duration", time.Since(start)))
}

func (r *WebhookReconciler) fail(ctx context.Context, event stripe.Event, cause error, start time.Time) {
	if err := r.webhookRepo.MarkFailed(ctx, event.ID, cause); err != nil {
		r.logger.Error("Failed to mark webhook event failed", zap.String("event_id", event.ID), zap.Error(err))
	}
	r.metrics.WebhookEvent(string(event.Type), metrics.WebhookResultFailed, time.Since(start))
}

// handle routes an event to its handler. It reports false for events that
// need no action.
func (r *WebhookReconciler) handle(ctx context.Context, event stripe.Event) (bool, error) {
	if event.Data == nil {
		return false, domainErrors.NewValidationError("data", "event %s has no data", event.ID)
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		return r.handleCheckoutCompleted(ctx, event)
	case stripe.EventTypeCustomerSubscriptionCreated, stripe.EventTypeCustomerSubscriptionUpdated:
		return r.handleSubscriptionChanged(ctx, event)
	case stripe.EventTypeCustomerSubscriptionDeleted:
		return r.handleSubscriptionDeleted(ctx, event)
	case stripe.EventTypeInvoicePaymentSucceeded:
		return r.handleInvoicePaid(ctx, event)
	case stripe.EventTypeInvoicePaymentFailed:
		return r.handleInvoiceFailed(ctx, event)
	case stripe.EventTypePaymentIntentSucceeded, stripe.EventTypePaymentIntentPaymentFailed:
		return r.handlePaymentIntent(ctx, event)
	case stripe.EventTypeChargeRefunded:
		return r.handleChargeRefunded(ctx, event)
	default:
		r.logger.Debug("Unhandled webhook event type", zap.String("type", string(event.Type)))
		return false, nil
	}
}

// resolveOrganization finds the organization an event belongs to: explicit
// metadata first, then the local subscription by gateway subscription or
// customer id, then the gateway customer's metadata.
func (r *WebhookReconciler) resolveOrganization(ctx context.Context, metadata map[string]string, subscriptionID, customerID string) (uuid.UUID, error) {
	if raw := metadata[metadataOrganizationID]; raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return uuid.Nil, domainErrors.NewValidationError(metadataOrganizationID, "invalid uuid '%s'", raw)
		}
		return id, nil
	}

	if subscriptionID != "" {
		sub, err := r.subscriptionRepo.GetByExternalID(ctx, subscriptionID)
		if err != nil {
			return uuid.Nil, domainErrors.AsExternal("database", "get_subscription", err)
		}
		if sub != nil {
			return sub.OrganizationID, nil
		}
	}

	if customerID != "" {
		sub, err := r.subscriptionRepo.GetByCustomerID(ctx, customerID)
		if err != nil {
			return uuid.Nil, domainErrors.AsExternal("database", "get_subscription", err)
		}
		if sub != nil {
			return sub.OrganizationID, nil
		}

		if r.gateway != nil {
			customerMetadata, err := r.gateway.GetCustomerMetadata(ctx, customerID)
			if err != nil {
				return uuid.Nil, domainErrors.AsExternal("stripe", "get_customer", err)
			}
			if raw := customerMetadata[metadataOrganizationID]; raw != "" {
				if id, err := uuid.Parse(raw); err == nil {
					return id, nil
				}
			}
		}
	}

	return uuid.Nil, domainErrors.NewNotFoundError("organization", "subscription="+subscriptionID+" customer="+customerID)
}

// resolvePlan maps a gateway price to a plan, falling back to metadata.
func (r *WebhookReconciler) resolvePlan(ctx context.Context, priceID string, metadata map[string]string) (uuid.UUID, error) {
	if priceID != "" {
		plan, err := r.catalog.PlanByExternalPrice(ctx, priceID)
		if err != nil {
			return uuid.Nil, err
		}
		if plan != nil {
			return plan.ID, nil
		}
	}
	if raw := metadata[metadataPlanID]; raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return uuid.Nil, domainErrors.NewValidationError(metadataPlanID, "invalid uuid '%s'", raw)
		}
		return id, nil
	}
	return uuid.Nil, domainErrors.NewNotFoundError("subscription_plan", "price="+priceID)
}

func (r *WebhookReconciler) publish(ctx context.Context, eventType provider.BillingEventType, orgID uuid.UUID, data map[string]interface{}) {
	if r.publisher == nil {
		return
	}
	err := r.publisher.Publish(ctx, provider.BillingEvent{
		Type:           eventType,
		OrganizationID: orgID,
		Data:           data,
		OccurredAt:     time.Now().UTC(),
	})
	if err != nil {
		r.logger.Warn("Failed to publish billing event",
			zap.String("type", string(eventType)),
			zap.String("organization_id", orgID.String()),
			zap.Error(err))
	}
}

func (r *WebhookReconciler) organization(ctx context.Context, orgID uuid.UUID) *model.Organization {
	org, err := r.orgRepo.GetByID(ctx, orgID)
	if err != nil {
		r.logger.Warn("Failed to load organization", zap.String("organization_id", orgID.String()), zap.Error(err))
		return nil
	}
	return org
}

func customerID(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}

func unixTime(ts int64) *time.Time {
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}

func parseCredits(raw string) (int64, bool) {
	if raw == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// gatewayStatus maps gateway subscription statuses onto ours.
func gatewayStatus(status stripe.SubscriptionStatus) model.SubscriptionStatus {
	switch status {
	case stripe.SubscriptionStatusTrialing:
		return model.SubscriptionStatusTrial
	case stripe.SubscriptionStatusActive:
		return model.SubscriptionStatusActive
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid, stripe.SubscriptionStatusPaused:
		return model.SubscriptionStatusPastDue
	case stripe.SubscriptionStatusCanceled:
		return model.SubscriptionStatusCancelled
	case stripe.SubscriptionStatusIncompleteExpired:
		return model.SubscriptionStatusIncompleteExpired
	default:
		return model.SubscriptionStatusIncomplete
	}
}

func firstPriceID(sub *stripe.Subscription) string {
	if sub.Items == nil {
		return ""
	}
	for _, item := range sub.Items.Data {
		if item != nil && item.Price != nil {
			return item.Price.ID
		}
	}
	return ""
}

// snapshot converts a gateway subscription for SyncFromGateway.
func (r *WebhookReconciler) snapshot(ctx context.Context, sub *stripe.Subscription, eventAt time.Time) (SubscriptionSnapshot, error) {
	orgID, err := r.resolveOrganization(ctx, sub.Metadata, sub.ID, customerID(sub.Customer))
	if err != nil {
		return SubscriptionSnapshot{}, err
	}
	planID, err := r.resolvePlan(ctx, firstPriceID(sub), sub.Metadata)
	if err != nil {
		return SubscriptionSnapshot{}, err
	}

	return SubscriptionSnapshot{
		OrganizationID:         orgID,
		PlanID:                 planID,
		ExternalSubscriptionID: sub.ID,
		ExternalCustomerID:     customerID(sub.Customer),
		Status:                 gatewayStatus(sub.Status),
		PeriodStart:            unixTime(sub.CurrentPeriodStart),
		PeriodEnd:              unixTime(sub.CurrentPeriodEnd),
		TrialStart:             unixTime(sub.TrialStart),
		TrialEnd:               unixTime(sub.TrialEnd),
		CancelAtPeriodEnd:      sub.CancelAtPeriodEnd,
		CanceledAt:             unixTime(sub.CanceledAt),
		EventAt:                eventAt,
	}, nil
}
