package usecase_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/th1s9uy/saas-billing/internal/domain/dto"
	domainErrors "github.com/th1s9uy/saas-billing/internal/domain/errors"
	"github.com/th1s9uy/saas-billing/internal/domain/model"
	"github.com/th1s9uy/saas-billing/internal/domain/provider"
	"github.com/th1s9uy/saas-billing/internal/infrastructure/database"
	stripeprovider "github.com/th1s9uy/saas-billing/internal/infrastructure/provider/stripe"
	"github.com/th1s9uy/saas-billing/internal/testutil"
	"github.com/th1s9uy/saas-billing/internal/usecase"
)

const testWebhookSecret = "whsec_test_secret"

type reconcilerFixture struct {
	db            *gorm.DB
	reconciler    *usecase.WebhookReconciler
	subscriptions *usecase.SubscriptionService
	gateway       *MockPaymentGateway
	publisher     *recordingPublisher
	repos         *database.Repositories
}

func newReconciler(t *testing.T, sender provider.EmailSender) *reconcilerFixture {
	t.Helper()
	logger := zap.NewNop()
	db := testutil.NewDB(t)
	repos := database.NewRepositories(db, logger)
	gateway := new(MockPaymentGateway)
	publisher := &recordingPublisher{}

	ledger := usecase.NewLedgerService(repos.Ledger, repos.Organization, repos.Catalog, nil, logger, 0)
	subscriptions := usecase.NewSubscriptionService(repos.Subscription, repos.Catalog, ledger, gateway, logger)
	catalog := usecase.NewCatalogService(repos.Catalog, repos.Subscription, 16, logger)
	notifier := usecase.NewBillingNotifier(sender, "Acme", "https://app.example.com", logger)

	reconciler := usecase.NewWebhookReconciler(
		stripeprovider.NewWebhookVerifier(testWebhookSecret),
		usecase.WebhookRepositories{
			Webhooks:      repos.WebhookEvent,
			Billing:       repos.BillingHistory,
			Subscriptions: repos.Subscription,
			Organizations: repos.Organization,
			Ledger:        repos.Ledger,
			Catalog:       repos.Catalog,
		},
		ledger,
		subscriptions,
		catalog,
		gateway,
		publisher,
		notifier,
		nil,
		logger,
	)
	return &reconcilerFixture{
		db:            db,
		reconciler:    reconciler,
		subscriptions: subscriptions,
		gateway:       gateway,
		publisher:     publisher,
		repos:         repos,
	}
}

func newEvent(t *testing.T, id string, eventType stripe.EventType, created time.Time, object map[string]interface{}) (stripe.Event, []byte) {
	t.Helper()
	raw, err := json.Marshal(object)
	require.NoError(t, err)
	event := stripe.Event{
		ID:      id,
		Type:    eventType,
		Created: created.Unix(),
		Data:    &stripe.EventData{Raw: raw},
	}
	payload, err := json.Marshal(map[string]interface{}{
		"id":          id,
		"object":      "event",
		"type":        string(eventType),
		"created":     created.Unix(),
		"api_version": stripe.APIVersion,
		"data":        map[string]interface{}{"object": object},
	})
	require.NoError(t, err)
	return event, payload
}

// dispatch delivers the event and waits for processing to finish.
func (f *reconcilerFixture) dispatch(t *testing.T, event stripe.Event, payload []byte) usecase.DispatchResult {
	t.Helper()
	result, err := f.reconciler.Dispatch(context.Background(), event, payload)
	require.NoError(t, err)
	f.reconciler.Wait()
	return result
}

func (f *reconcilerFixture) eventStatus(t *testing.T, id string) *model.WebhookEvent {
	t.Helper()
	event, err := f.repos.WebhookEvent.GetEvent(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, event)
	return event
}

func checkoutObject(sessionID string, orgID, productID uuid.UUID, credits int64, paymentIntent string) map[string]interface{} {
	return map[string]interface{}{
		"id":                  sessionID,
		"object":              "checkout.session",
		"mode":                "payment",
		"client_reference_id": orgID.String(),
		"payment_intent":      paymentIntent,
		"amount_total":        4900,
		"currency":            "usd",
		"metadata": map[string]string{
			"organization_id": orgID.String(),
			"product_id":      productID.String(),
			"credit_amount":   fmt.Sprint(credits),
		},
	}
}

func TestWebhookReconciler_CheckoutCompleted(t *testing.T) {
	now := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)

	t.Run("grants purchased credits once per event", func(t *testing.T) {
		f := newReconciler(t, nil)
		org := testutil.CreateOrganization(t, f.db, 0)
		product := testutil.CreateProduct(t, f.db, "pack-500", 500, 4900)
		event, payload := newEvent(t, "evt_checkout_1", stripe.EventTypeCheckoutSessionCompleted, now,
			checkoutObject("cs_1", org.ID, product.ID, 500, "pi_1"))

		assert.Equal(t, usecase.DispatchAccepted, f.dispatch(t, event, payload))
		assert.Equal(t, int64(500), testutil.Balance(t, f.db, org.ID))
		assert.Equal(t, model.WebhookStatusCompleted, f.eventStatus(t, event.ID).Status)
		assert.Equal(t, []provider.BillingEventType{provider.BillingEventCreditsChanged}, f.publisher.types())

		assert.Equal(t, usecase.DispatchDuplicate, f.dispatch(t, event, payload))
		assert.Equal(t, int64(500), testutil.Balance(t, f.db, org.ID))
		assert.Len(t, testutil.Transactions(t, f.db, org.ID), 1)
	})

	t.Run("same session under a new event id is not granted twice", func(t *testing.T) {
		f := newReconciler(t, nil)
		org := testutil.CreateOrganization(t, f.db, 0)
		product := testutil.CreateProduct(t, f.db, "pack-500", 500, 4900)
		object := checkoutObject("cs_2", org.ID, product.ID, 500, "pi_2")

		first, payload := newEvent(t, "evt_checkout_a", stripe.EventTypeCheckoutSessionCompleted, now, object)
		f.dispatch(t, first, payload)
		second, payload := newEvent(t, "evt_checkout_b", stripe.EventTypeCheckoutSessionCompleted, now, object)
		assert.Equal(t, usecase.DispatchAccepted, f.dispatch(t, second, payload))

		assert.Equal(t, int64(500), testutil.Balance(t, f.db, org.ID))
		assert.Equal(t, model.WebhookStatusCompleted, f.eventStatus(t, second.ID).Status)
	})

	t.Run("subscription checkout is ignored", func(t *testing.T) {
		f := newReconciler(t, nil)
		org := testutil.CreateOrganization(t, f.db, 0)
		event, payload := newEvent(t, "evt_checkout_sub", stripe.EventTypeCheckoutSessionCompleted, now, map[string]interface{}{
			"id":                  "cs_sub",
			"object":              "checkout.session",
			"mode":                "subscription",
			"client_reference_id": org.ID.String(),
		})

		f.dispatch(t, event, payload)
		assert.Equal(t, model.WebhookStatusCompleted, f.eventStatus(t, event.ID).Status)
		assert.Zero(t, testutil.Balance(t, f.db, org.ID))
		assert.Empty(t, f.publisher.types())
	})

	t.Run("unknown product fails and can be retried", func(t *testing.T) {
		f := newReconciler(t, nil)
		org := testutil.CreateOrganization(t, f.db, 0)
		event, payload := newEvent(t, "evt_checkout_bad", stripe.EventTypeCheckoutSessionCompleted, now,
			checkoutObject("cs_bad", org.ID, uuid.New(), 500, "pi_bad"))

		f.dispatch(t, event, payload)
		stored := f.eventStatus(t, event.ID)
		assert.Equal(t, model.WebhookStatusFailed, stored.Status)
		require.NotNil(t, stored.LastError)
		assert.Contains(t, *stored.LastError, "credit_product")

		assert.Equal(t, usecase.DispatchAccepted, f.dispatch(t, event, payload))
		assert.Equal(t, 2, f.eventStatus(t, event.ID).ProcessingAttempts)
	})
}

func TestWebhookReconciler_Invoices(t *testing.T) {
	ctx := context.Background()
	march := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	april := march.AddDate(0, 1, 0)

	setup := func(t *testing.T, sender provider.EmailSender) (*reconcilerFixture, *model.Organization) {
		f := newReconciler(t, sender)
		org := testutil.CreateOrganization(t, f.db, 0)
		email := "billing@example.com"
		require.NoError(t, f.db.Model(org).Update("billing_email", email).Error)
		plan := testutil.CreatePlan(t, f.db, "pro", 4900, 1000)
		start, end := periodAt(march)

		_, err := f.subscriptions.Create(ctx, usecase.CreateSubscriptionInput{
			OrganizationID:         org.ID,
			PlanID:                 plan.ID,
			ExternalSubscriptionID: "sub_1",
			ExternalCustomerID:     "cus_1",
			Status:                 model.SubscriptionStatusActive,
			PeriodStart:            start,
			PeriodEnd:              end,
		})
		require.NoError(t, err)
		return f, org
	}

	invoice := func(id, reason string, periodStart time.Time) map[string]interface{} {
		return map[string]interface{}{
			"id":             id,
			"object":         "invoice",
			"subscription":   "sub_1",
			"customer":       "cus_1",
			"billing_reason": reason,
			"amount_paid":    4900,
			"amount_due":     4900,
			"currency":       "usd",
			"lines": map[string]interface{}{
				"object": "list",
				"data": []map[string]interface{}{{
					"id":     "il_" + id,
					"object": "line_item",
					"period": map[string]int64{
						"start": periodStart.Unix(),
						"end":   periodStart.AddDate(0, 1, 0).Unix(),
					},
					"price": map[string]string{"id": "price_pro"},
				}},
			},
		}
	}

	t.Run("paid cycle invoice renews the period once", func(t *testing.T) {
		f, org := setup(t, nil)
		event, payload := newEvent(t, "evt_inv_paid", stripe.EventTypeInvoicePaymentSucceeded, april,
			invoice("in_1", "subscription_cycle", april))

		f.dispatch(t, event, payload)
		assert.Equal(t, model.WebhookStatusCompleted, f.eventStatus(t, event.ID).Status)
		assert.Equal(t, int64(2000), testutil.Balance(t, f.db, org.ID))

		sub, err := f.repos.Subscription.GetByOrganizationID(ctx, org.ID)
		require.NoError(t, err)
		require.NotNil(t, sub.CurrentPeriodStart)
		assert.True(t, april.Equal(*sub.CurrentPeriodStart))

		history, total, err := f.repos.BillingHistory.List(ctx, org.ID, dto.PageRequest{Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, history, 1)
		assert.Equal(t, model.BillingStatusPaid, history[0].Status)
		require.NotNil(t, history[0].BillingReason)
		assert.Equal(t, "subscription_cycle", *history[0].BillingReason)

		assert.Equal(t, usecase.DispatchDuplicate, f.dispatch(t, event, payload))
		assert.Equal(t, int64(2000), testutil.Balance(t, f.db, org.ID))
		assert.Contains(t, f.publisher.types(), provider.BillingEventPaymentSucceeded)
	})

	t.Run("manual invoice is recorded without renewal", func(t *testing.T) {
		f, org := setup(t, nil)
		event, payload := newEvent(t, "evt_inv_manual", stripe.EventTypeInvoicePaymentSucceeded, april,
			invoice("in_2", "manual", april))

		f.dispatch(t, event, payload)
		assert.Equal(t, int64(1000), testutil.Balance(t, f.db, org.ID))
	})

	t.Run("failed invoice moves the subscription to past due and emails", func(t *testing.T) {
		sender := new(MockEmailSender)
		sender.On("Send", mock.Anything, "billing@example.com", mock.AnythingOfType("string"), mock.MatchedBy(func(html string) bool {
			return len(html) > 0
		})).Return("msg_1", nil).Once()

		f, org := setup(t, sender)
		event, payload := newEvent(t, "evt_inv_failed", stripe.EventTypeInvoicePaymentFailed, april,
			invoice("in_3", "subscription_cycle", april))

		f.dispatch(t, event, payload)
		assert.Equal(t, model.WebhookStatusCompleted, f.eventStatus(t, event.ID).Status)

		sub, err := f.repos.Subscription.GetByOrganizationID(ctx, org.ID)
		require.NoError(t, err)
		assert.Equal(t, model.SubscriptionStatusPastDue, sub.Status)
		assert.Equal(t, int64(1000), testutil.Balance(t, f.db, org.ID))
		assert.Contains(t, f.publisher.types(), provider.BillingEventPaymentFailed)
		sender.AssertExpectations(t)
	})
}

func TestWebhookReconciler_ChargeRefunded(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)

	purchase := func(t *testing.T) (*reconcilerFixture, *model.Organization) {
		f := newReconciler(t, nil)
		org := testutil.CreateOrganization(t, f.db, 0)
		product := testutil.CreateProduct(t, f.db, "pack-500", 500, 4900)

		checkout, payload := newEvent(t, "evt_checkout", stripe.EventTypeCheckoutSessionCompleted, now,
			checkoutObject("cs_r", org.ID, product.ID, 500, "pi_r"))
		f.dispatch(t, checkout, payload)

		intent, payload := newEvent(t, "evt_pi", stripe.EventTypePaymentIntentSucceeded, now, map[string]interface{}{
			"id":       "pi_r",
			"object":   "payment_intent",
			"amount":   4900,
			"currency": "usd",
			"metadata": map[string]string{"organization_id": org.ID.String()},
		})
		f.dispatch(t, intent, payload)
		require.Equal(t, int64(500), testutil.Balance(t, f.db, org.ID))
		return f, org
	}

	refund := func(id string, full bool) map[string]interface{} {
		refunded := int64(4900)
		if !full {
			refunded = 1000
		}
		return map[string]interface{}{
			"id":              id,
			"object":          "charge",
			"payment_intent":  "pi_r",
			"amount":          4900,
			"amount_refunded": refunded,
			"refunded":        full,
		}
	}

	t.Run("full refund takes the credits back", func(t *testing.T) {
		f, org := purchase(t)
		event, payload := newEvent(t, "evt_refund", stripe.EventTypeChargeRefunded, now.Add(time.Hour), refund("ch_1", true))

		f.dispatch(t, event, payload)
		assert.Equal(t, model.WebhookStatusCompleted, f.eventStatus(t, event.ID).Status)
		assert.Zero(t, testutil.Balance(t, f.db, org.ID))

		history, err := f.repos.BillingHistory.GetByPaymentIntent(ctx, "pi_r")
		require.NoError(t, err)
		require.NotNil(t, history)
		assert.Equal(t, model.BillingStatusRefunded, history.Status)

		again, payload := newEvent(t, "evt_refund_again", stripe.EventTypeChargeRefunded, now.Add(2*time.Hour), refund("ch_1", true))
		f.dispatch(t, again, payload)
		assert.Zero(t, testutil.Balance(t, f.db, org.ID))
		assert.Len(t, testutil.Transactions(t, f.db, org.ID), 2)
	})

	t.Run("partial refund leaves credits", func(t *testing.T) {
		f, org := purchase(t)
		event, payload := newEvent(t, "evt_partial", stripe.EventTypeChargeRefunded, now.Add(time.Hour), refund("ch_2", false))

		f.dispatch(t, event, payload)
		assert.Equal(t, int64(500), testutil.Balance(t, f.db, org.ID))

		history, err := f.repos.BillingHistory.GetByPaymentIntent(ctx, "pi_r")
		require.NoError(t, err)
		require.NotNil(t, history)
		assert.Equal(t, model.BillingStatusPaid, history.Status)
	})
}

func TestWebhookReconciler_SubscriptionEvents(t *testing.T) {
	ctx := context.Background()
	march := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	subscriptionOnPrice := func(orgID uuid.UUID, status, priceID string) map[string]interface{} {
		return map[string]interface{}{
			"id":                   "sub_ev",
			"object":               "subscription",
			"customer":             "cus_ev",
			"status":               status,
			"current_period_start": march.Unix(),
			"current_period_end":   march.AddDate(0, 1, 0).Unix(),
			"metadata":             map[string]string{"organization_id": orgID.String()},
			"items": map[string]interface{}{
				"object": "list",
				"data": []map[string]interface{}{{
					"id":     "si_1",
					"object": "subscription_item",
					"price":  map[string]string{"id": priceID},
				}},
			},
		}
	}
	subscriptionObject := func(orgID uuid.UUID, status string) map[string]interface{} {
		return subscriptionOnPrice(orgID, status, "price_pro")
	}

	t.Run("created then deleted", func(t *testing.T) {
		f := newReconciler(t, nil)
		org := testutil.CreateOrganization(t, f.db, 0)
		testutil.CreatePlan(t, f.db, "pro", 4900, 1000)

		created, payload := newEvent(t, "evt_sub_created", stripe.EventTypeCustomerSubscriptionCreated, march,
			subscriptionObject(org.ID, "active"))
		f.dispatch(t, created, payload)
		assert.Equal(t, model.WebhookStatusCompleted, f.eventStatus(t, created.ID).Status)
		assert.Equal(t, int64(1000), testutil.Balance(t, f.db, org.ID))

		deleted, payload := newEvent(t, "evt_sub_deleted", stripe.EventTypeCustomerSubscriptionDeleted, march.AddDate(0, 0, 10),
			subscriptionObject(org.ID, "canceled"))
		f.dispatch(t, deleted, payload)

		sub, err := f.repos.Subscription.GetByOrganizationID(ctx, org.ID)
		require.NoError(t, err)
		assert.Equal(t, model.SubscriptionStatusCancelled, sub.Status)
		assert.Equal(t, int64(1000), testutil.Balance(t, f.db, org.ID))
		assert.Equal(t, []provider.BillingEventType{
			provider.BillingEventSubscriptionChanged,
			provider.BillingEventSubscriptionCanceled,
		}, f.publisher.types())
	})

	t.Run("created replayed under a new event id allocates once", func(t *testing.T) {
		f := newReconciler(t, nil)
		org := testutil.CreateOrganization(t, f.db, 0)
		testutil.CreatePlan(t, f.db, "pro", 4900, 1000)

		first, payload := newEvent(t, "evt_sub_created_1", stripe.EventTypeCustomerSubscriptionCreated, march,
			subscriptionObject(org.ID, "active"))
		f.dispatch(t, first, payload)
		require.Len(t, testutil.Transactions(t, f.db, org.ID), 1)

		second, payload := newEvent(t, "evt_sub_created_2", stripe.EventTypeCustomerSubscriptionCreated, march.Add(time.Minute),
			subscriptionObject(org.ID, "active"))
		f.dispatch(t, second, payload)

		assert.Equal(t, model.WebhookStatusCompleted, f.eventStatus(t, second.ID).Status)
		assert.Len(t, testutil.Transactions(t, f.db, org.ID), 1)
		assert.Equal(t, int64(1000), testutil.Balance(t, f.db, org.ID))
	})

	t.Run("update delivered ahead of an older create wins", func(t *testing.T) {
		f := newReconciler(t, nil)
		org := testutil.CreateOrganization(t, f.db, 0)
		testutil.CreatePlan(t, f.db, "pro", 4900, 1000)
		testutil.CreatePlan(t, f.db, "basic", 1900, 200)

		updated, payload := newEvent(t, "evt_sub_updated", stripe.EventTypeCustomerSubscriptionUpdated, march.Add(time.Hour),
			subscriptionOnPrice(org.ID, "active", "price_basic"))
		f.dispatch(t, updated, payload)

		created, payload := newEvent(t, "evt_sub_created_late", stripe.EventTypeCustomerSubscriptionCreated, march,
			subscriptionOnPrice(org.ID, "active", "price_pro"))
		f.dispatch(t, created, payload)
		assert.Equal(t, model.WebhookStatusCompleted, f.eventStatus(t, created.ID).Status)

		sub, err := f.repos.Subscription.GetByOrganizationID(ctx, org.ID)
		require.NoError(t, err)
		plan, err := f.repos.Catalog.GetPlan(ctx, sub.PlanID)
		require.NoError(t, err)
		assert.Equal(t, "basic", plan.Name)
		assert.Equal(t, int64(200), testutil.Balance(t, f.db, org.ID))
	})

	t.Run("downgrade grace survives a later update", func(t *testing.T) {
		f := newReconciler(t, nil)
		org := testutil.CreateOrganization(t, f.db, 0)
		testutil.CreatePlan(t, f.db, "pro", 4900, 1000)
		testutil.CreatePlan(t, f.db, "basic", 1900, 200)

		created, payload := newEvent(t, "evt_grace_created", stripe.EventTypeCustomerSubscriptionCreated, march,
			subscriptionOnPrice(org.ID, "active", "price_pro"))
		f.dispatch(t, created, payload)
		require.Equal(t, int64(1000), testutil.Balance(t, f.db, org.ID))

		downgrade, payload := newEvent(t, "evt_grace_downgrade", stripe.EventTypeCustomerSubscriptionUpdated, march.Add(time.Hour),
			subscriptionOnPrice(org.ID, "active", "price_basic"))
		f.dispatch(t, downgrade, payload)

		echo := subscriptionOnPrice(org.ID, "active", "price_basic")
		echo["cancel_at_period_end"] = false
		later, payload := newEvent(t, "evt_grace_echo", stripe.EventTypeCustomerSubscriptionUpdated, march.Add(2*time.Hour), echo)
		f.dispatch(t, later, payload)
		assert.Equal(t, model.WebhookStatusCompleted, f.eventStatus(t, later.ID).Status)

		sub, err := f.repos.Subscription.GetByOrganizationID(ctx, org.ID)
		require.NoError(t, err)
		assert.True(t, sub.CancelAtPeriodEnd)
		assert.True(t, sub.InDowngradeGrace())
		assert.Equal(t, int64(200), testutil.Balance(t, f.db, org.ID))
	})

	t.Run("unknown event type is acknowledged", func(t *testing.T) {
		f := newReconciler(t, nil)
		event, payload := newEvent(t, "evt_other", stripe.EventType("customer.created"), march,
			map[string]interface{}{"id": "cus_x", "object": "customer"})

		f.dispatch(t, event, payload)
		assert.Equal(t, model.WebhookStatusCompleted, f.eventStatus(t, event.ID).Status)
	})
}

func TestWebhookReconciler_Receive(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("rejects an invalid signature without recording", func(t *testing.T) {
		f := newReconciler(t, nil)
		_, payload := newEvent(t, "evt_forged", stripe.EventTypeChargeRefunded, now, map[string]interface{}{"id": "ch_x"})

		_, err := f.reconciler.Receive(ctx, payload, "t=1,v1=deadbeef")
		require.Error(t, err)
		var sigErr *domainErrors.SignatureVerificationError
		assert.True(t, errors.As(err, &sigErr))

		stored, err := f.repos.WebhookEvent.GetEvent(ctx, "evt_forged")
		require.NoError(t, err)
		assert.Nil(t, stored)
	})

	t.Run("accepts a signed delivery", func(t *testing.T) {
		f := newReconciler(t, nil)
		org := testutil.CreateOrganization(t, f.db, 0)
		product := testutil.CreateProduct(t, f.db, "pack-100", 100, 990)
		_, payload := newEvent(t, "evt_signed", stripe.EventTypeCheckoutSessionCompleted, now,
			checkoutObject("cs_signed", org.ID, product.ID, 100, "pi_signed"))

		signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
			Payload:   payload,
			Secret:    testWebhookSecret,
			Timestamp: now,
		})
		result, err := f.reconciler.Receive(ctx, payload, signed.Header)
		require.NoError(t, err)
		f.reconciler.Wait()

		assert.Equal(t, usecase.DispatchAccepted, result)
		assert.Equal(t, int64(100), testutil.Balance(t, f.db, org.ID))
	})
}
