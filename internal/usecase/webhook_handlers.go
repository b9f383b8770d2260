package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"

	domainErrors "github.com/th1s9uy/saas-billing/internal/domain/errors"
	"github.com/th1s9uy/saas-billing/internal/domain/model"
	"github.com/th1s9uy/saas-billing/internal/domain/provider"
)

func decode(event stripe.Event, v interface{}) error {
	if err := json.Unmarshal(event.Data.Raw, v); err != nil {
		return domainErrors.NewValidationError("data", "cannot decode %s payload: %v", event.Type, err)
	}
	return nil
}

func eventTime(event stripe.Event) time.Time {
	return time.Unix(event.Created, 0).UTC()
}

// renewingReasons are the invoice billing reasons that start a paid period.
var renewingReasons = map[string]bool{
	"":                    true,
	"subscription_create": true,
	"subscription_cycle":  true,
}

func (r *WebhookReconciler) handleCheckoutCompleted(ctx context.Context, event stripe.Event) (bool, error) {
	var session stripe.CheckoutSession
	if err := decode(event, &session); err != nil {
		return false, err
	}
	if session.Mode != stripe.CheckoutSessionModePayment {
		// subscription checkouts are reconciled from the subscription events
		return false, nil
	}

	metadata := session.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	if metadata[metadataOrganizationID] == "" && session.ClientReferenceID != "" {
		metadata[metadataOrganizationID] = session.ClientReferenceID
	}
	orgID, err := r.resolveOrganization(ctx, metadata, "", customerID(session.Customer))
	if err != nil {
		return false, err
	}

	productID, err := uuid.Parse(metadata[metadataProductID])
	if err != nil {
		return false, domainErrors.NewValidationError(metadataProductID, "checkout session %s has no valid product_id", session.ID)
	}
	product, err := r.catalogRepo.GetProduct(ctx, productID)
	if err != nil {
		return false, domainErrors.AsExternal("database", "get_credit_product", err)
	}
	if product == nil {
		return false, domainErrors.NewNotFoundError("credit_product", productID.String())
	}

	credits, ok := parseCredits(metadata[metadataCreditAmount])
	if !ok {
		credits = product.CreditAmount
	}
	paymentIntentID := ""
	if session.PaymentIntent != nil {
		paymentIntentID = session.PaymentIntent.ID
	}

	txn, err := r.ledger.AddCredits(ctx, AddCreditsInput{
		OrganizationID:    orgID,
		Amount:            credits,
		Source:            model.PurchaseSource(product.ID),
		Description:       fmt.Sprintf("Purchased %s", product.Name),
		ReferenceID:       "checkout:" + session.ID,
		ExternalPaymentID: paymentIntentID,
		Metadata:          map[string]interface{}{"checkout_session_id": session.ID},
	})
	if err != nil {
		return false, err
	}

	r.publish(ctx, provider.BillingEventCreditsChanged, orgID, map[string]interface{}{
		"transaction_id": txn.ID.String(),
		"amount":         txn.Amount,
		"balance_after":  txn.BalanceAfter,
	})
	if org := r.organization(ctx, orgID); org != nil {
		r.notifier.CreditsPurchased(ctx, org, credits, session.AmountTotal, string(session.Currency))
	}
	return true, nil
}

func (r *WebhookReconciler) handleSubscriptionChanged(ctx context.Context, event stripe.Event) (bool, error) {
	var sub stripe.Subscription
	if err := decode(event, &sub); err != nil {
		return false, err
	}

	snap, err := r.snapshot(ctx, &sub, eventTime(event))
	if err != nil {
		return false, err
	}
	local, err := r.subscriptions.SyncFromGateway(ctx, snap)
	if err != nil {
		return false, err
	}

	r.publish(ctx, provider.BillingEventSubscriptionChanged, local.OrganizationID, map[string]interface{}{
		"subscription_id":      local.ID.String(),
		"plan_id":              local.PlanID.String(),
		"status":               string(local.Status),
		"cancel_at_period_end": local.CancelAtPeriodEnd,
	})
	return true, nil
}

func (r *WebhookReconciler) handleSubscriptionDeleted(ctx context.Context, event stripe.Event) (bool, error) {
	var sub stripe.Subscription
	if err := decode(event, &sub); err != nil {
		return false, err
	}

	local, err := r.subscriptionRepo.GetByExternalID(ctx, sub.ID)
	if err != nil {
		return false, domainErrors.AsExternal("database", "get_subscription", err)
	}
	if local == nil {
		r.logger.Warn("Deleted subscription is unknown locally", zap.String("external_subscription_id", sub.ID))
		return false, nil
	}
	if local.Status.IsTerminal() {
		return false, nil
	}

	at := eventTime(event)
	if sub.CanceledAt != 0 {
		at = time.Unix(sub.CanceledAt, 0).UTC()
	}
	cancelled, err := r.subscriptions.Cancel(ctx, local.OrganizationID, at)
	if err != nil {
		return false, err
	}

	r.publish(ctx, provider.BillingEventSubscriptionCanceled, cancelled.OrganizationID, map[string]interface{}{
		"subscription_id": cancelled.ID.String(),
		"cancelled_at":    at,
	})
	if org := r.organization(ctx, cancelled.OrganizationID); org != nil {
		planName := ""
		if plan, err := r.catalogRepo.GetPlan(ctx, cancelled.PlanID); err == nil && plan != nil {
			planName = plan.Name
		}
		r.notifier.SubscriptionCancelled(ctx, org, planName, at)
	}
	return true, nil
}

func invoiceSubscriptionID(inv *stripe.Invoice) string {
	if inv.Subscription == nil {
		return ""
	}
	return inv.Subscription.ID
}

func invoicePaymentIntentID(inv *stripe.Invoice) string {
	if inv.PaymentIntent == nil {
		return ""
	}
	return inv.PaymentIntent.ID
}

// recordInvoice writes the billing history row for an invoice event.
func (r *WebhookReconciler) recordInvoice(ctx context.Context, event stripe.Event, inv *stripe.Invoice, orgID uuid.UUID, status model.BillingStatus, amount int64) error {
	entry := &model.BillingHistory{
		OrganizationID:          orgID,
		ExternalEventID:         event.ID,
		ExternalInvoiceID:       optionalString(inv.ID),
		ExternalPaymentIntentID: optionalString(invoicePaymentIntentID(inv)),
		Amount:                  amount,
		Currency:                string(inv.Currency),
		Status:                  status,
		Description:             inv.Description,
		InvoiceURL:              optionalString(inv.HostedInvoiceURL),
		BillingReason:           optionalString(string(inv.BillingReason)),
	}
	if status == model.BillingStatusPaid {
		paidAt := eventTime(event)
		if inv.StatusTransitions != nil && inv.StatusTransitions.PaidAt != 0 {
			paidAt = time.Unix(inv.StatusTransitions.PaidAt, 0).UTC()
		}
		entry.PaidAt = &paidAt
	}
	if local, err := r.subscriptionRepo.GetByOrganizationID(ctx, orgID); err == nil && local != nil {
		entry.SubscriptionID = &local.ID
	}

	if _, err := r.billingRepo.Record(ctx, entry); err != nil {
		return domainErrors.AsExternal("database", "record_billing_history", err)
	}
	return nil
}

func (r *WebhookReconciler) handleInvoicePaid(ctx context.Context, event stripe.Event) (bool, error) {
	var inv stripe.Invoice
	if err := decode(event, &inv); err != nil {
		return false, err
	}

	subscriptionID := invoiceSubscriptionID(&inv)
	orgID, err := r.resolveOrganization(ctx, inv.Metadata, subscriptionID, customerID(inv.Customer))
	if err != nil {
		return false, err
	}
	if err := r.recordInvoice(ctx, event, &inv, orgID, model.BillingStatusPaid, inv.AmountPaid); err != nil {
		return false, err
	}

	if subscriptionID != "" && renewingReasons[string(inv.BillingReason)] {
		if err := r.renewFromInvoice(ctx, event, &inv, orgID, subscriptionID); err != nil {
			return false, err
		}
	}

	r.publish(ctx, provider.BillingEventPaymentSucceeded, orgID, map[string]interface{}{
		"invoice_id": inv.ID,
		"amount":     inv.AmountPaid,
		"currency":   string(inv.Currency),
	})
	return true, nil
}

// renewFromInvoice starts the period billed by the invoice's first line. A
// subscription the service has not seen yet is fetched and synced first.
func (r *WebhookReconciler) renewFromInvoice(ctx context.Context, event stripe.Event, inv *stripe.Invoice, orgID uuid.UUID, subscriptionID string) error {
	local, err := r.subscriptionRepo.GetByOrganizationID(ctx, orgID)
	if err != nil {
		return domainErrors.AsExternal("database", "get_subscription", err)
	}
	if local == nil || local.ExternalSubscriptionID == nil || *local.ExternalSubscriptionID != subscriptionID {
		remote, err := r.gateway.GetSubscription(ctx, subscriptionID)
		if err != nil {
			return domainErrors.AsExternal("stripe", "get_subscription", err)
		}
		snap, err := r.snapshot(ctx, remote, eventTime(event))
		if err != nil {
			return err
		}
		snap.OrganizationID = orgID
		if _, err := r.subscriptions.SyncFromGateway(ctx, snap); err != nil {
			return err
		}
	}

	if inv.Lines == nil || len(inv.Lines.Data) == 0 || inv.Lines.Data[0].Period == nil {
		r.logger.Warn("Paid invoice has no line period, skipping renewal",
			zap.String("invoice_id", inv.ID),
			zap.String("organization_id", orgID.String()))
		return nil
	}
	line := inv.Lines.Data[0]

	in := RenewInput{
		OrganizationID: orgID,
		PeriodStart:    time.Unix(line.Period.Start, 0).UTC(),
		PeriodEnd:      time.Unix(line.Period.End, 0).UTC(),
	}
	if line.Price != nil && line.Price.ID != "" {
		plan, err := r.catalog.PlanByExternalPrice(ctx, line.Price.ID)
		if err != nil {
			return err
		}
		if plan != nil {
			in.PlanID = &plan.ID
		}
	}

	renewed, err := r.subscriptions.Renew(ctx, in)
	if err != nil {
		return err
	}
	r.publish(ctx, provider.BillingEventSubscriptionChanged, orgID, map[string]interface{}{
		"subscription_id": renewed.ID.String(),
		"status":          string(renewed.Status),
		"period_start":    in.PeriodStart,
		"period_end":      in.PeriodEnd,
	})
	return nil
}

func (r *WebhookReconciler) handleInvoiceFailed(ctx context.Context, event stripe.Event) (bool, error) {
	var inv stripe.Invoice
	if err := decode(event, &inv); err != nil {
		return false, err
	}

	subscriptionID := invoiceSubscriptionID(&inv)
	orgID, err := r.resolveOrganization(ctx, inv.Metadata, subscriptionID, customerID(inv.Customer))
	if err != nil {
		return false, err
	}
	if err := r.recordInvoice(ctx, event, &inv, orgID, model.BillingStatusFailed, inv.AmountDue); err != nil {
		return false, err
	}

	if subscriptionID != "" {
		local, err := r.subscriptionRepo.GetByExternalID(ctx, subscriptionID)
		if err != nil {
			return false, domainErrors.AsExternal("database", "get_subscription", err)
		}
		if local != nil {
			if _, err := r.subscriptions.MarkPastDue(ctx, local.OrganizationID); err != nil {
				return false, err
			}
		}
	}

	r.publish(ctx, provider.BillingEventPaymentFailed, orgID, map[string]interface{}{
		"invoice_id": inv.ID,
		"amount":     inv.AmountDue,
		"currency":   string(inv.Currency),
	})
	if org := r.organization(ctx, orgID); org != nil {
		r.notifier.PaymentFailed(ctx, org, inv.AmountDue, string(inv.Currency), inv.HostedInvoiceURL)
	}
	return true, nil
}

// handlePaymentIntent records one-time payments. Intents created for an
// invoice are covered by the invoice events.
func (r *WebhookReconciler) handlePaymentIntent(ctx context.Context, event stripe.Event) (bool, error) {
	var intent stripe.PaymentIntent
	if err := decode(event, &intent); err != nil {
		return false, err
	}
	if intent.Invoice != nil && intent.Invoice.ID != "" {
		return false, nil
	}

	orgID, err := r.resolveOrganization(ctx, intent.Metadata, "", customerID(intent.Customer))
	if err != nil {
		return false, err
	}

	status := model.BillingStatusPaid
	eventType := provider.BillingEventPaymentSucceeded
	if event.Type == stripe.EventTypePaymentIntentPaymentFailed {
		status = model.BillingStatusFailed
		eventType = provider.BillingEventPaymentFailed
	}

	entry := &model.BillingHistory{
		OrganizationID:          orgID,
		ExternalEventID:         event.ID,
		ExternalPaymentIntentID: optionalString(intent.ID),
		Amount:                  intent.Amount,
		Currency:                string(intent.Currency),
		Status:                  status,
		Description:             intent.Description,
	}
	if status == model.BillingStatusPaid {
		paidAt := eventTime(event)
		entry.PaidAt = &paidAt
		if intent.LatestCharge != nil {
			entry.ReceiptURL = optionalString(intent.LatestCharge.ReceiptURL)
		}
	}
	if entry.Description == "" {
		entry.Description = "One-time payment"
	}
	if _, err := r.billingRepo.Record(ctx, entry); err != nil {
		return false, domainErrors.AsExternal("database", "record_billing_history", err)
	}

	r.publish(ctx, eventType, orgID, map[string]interface{}{
		"payment_intent_id": intent.ID,
		"amount":            intent.Amount,
		"currency":          string(intent.Currency),
	})
	return true, nil
}

// handleChargeRefunded marks the payment refunded and takes back the credits
// it bought. Partial refunds are only logged.
func (r *WebhookReconciler) handleChargeRefunded(ctx context.Context, event stripe.Event) (bool, error) {
	var charge stripe.Charge
	if err := decode(event, &charge); err != nil {
		return false, err
	}
	if charge.PaymentIntent == nil || charge.PaymentIntent.ID == "" {
		return false, nil
	}
	paymentIntentID := charge.PaymentIntent.ID

	if !charge.Refunded {
		r.logger.Info("Partial refund recorded by gateway only",
			zap.String("charge_id", charge.ID),
			zap.String("payment_intent_id", paymentIntentID),
			zap.Int64("amount_refunded", charge.AmountRefunded))
		return false, nil
	}

	history, err := r.billingRepo.GetByPaymentIntent(ctx, paymentIntentID)
	if err != nil {
		return false, domainErrors.AsExternal("database", "get_billing_history", err)
	}
	if history == nil {
		return false, domainErrors.NewNotFoundError("billing_history", "payment_intent="+paymentIntentID)
	}
	if history.Status != model.BillingStatusRefunded {
		if err := r.billingRepo.MarkRefunded(ctx, history.ID); err != nil {
			return false, domainErrors.AsExternal("database", "mark_refunded", err)
		}
	}

	purchase, err := r.ledgerRepo.FindByExternalPayment(ctx, history.OrganizationID, paymentIntentID)
	if err != nil {
		return false, domainErrors.AsExternal("database", "find_purchase", err)
	}
	if purchase == nil || purchase.Source != model.SourcePurchase || purchase.Amount <= 0 {
		return true, nil
	}

	txn, err := r.ledger.RefundCredits(ctx, RefundCreditsInput{
		OrganizationID:   history.OrganizationID,
		Credits:          purchase.Amount,
		BillingHistoryID: history.ID,
		Description:      fmt.Sprintf("Refund of payment %s", paymentIntentID),
	})
	if err != nil {
		return false, err
	}
	if txn != nil {
		r.publish(ctx, provider.BillingEventCreditsChanged, history.OrganizationID, map[string]interface{}{
			"transaction_id": txn.ID.String(),
			"amount":         txn.Amount,
			"balance_after":  txn.BalanceAfter,
		})
	}
	return true, nil
}
