package usecase

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/th1s9uy/saas-billing/internal/domain/dto"
	"github.com/th1s9uy/saas-billing/internal/domain/model"
	"github.com/th1s9uy/saas-billing/internal/domain/provider"
)

// BillingNotifier sends transactional billing email. Delivery failures are
// logged and never fail the billing operation that triggered them.
type BillingNotifier struct {
	sender      provider.EmailSender
	productName string
	clientURL   string
	logger      *zap.Logger
}

// NewBillingNotifier creates a notifier. A nil sender disables email.
func NewBillingNotifier(sender provider.EmailSender, productName, clientURL string, logger *zap.Logger) *BillingNotifier {
	return &BillingNotifier{
		sender:      sender,
		productName: productName,
		clientURL:   strings.TrimRight(clientURL, "/"),
		logger:      logger,
	}
}

// PaymentFailed tells the organization a renewal payment did not go through.
func (n *BillingNotifier) PaymentFailed(ctx context.Context, org *model.Organization, amount int64, currency string, invoiceURL string) {
	if n == nil {
		return
	}
	body := fmt.Sprintf(
		`<p>We could not collect the payment of <strong>%s %s</strong> for %s.</p>
<p>Please update your payment method to keep your subscription active.</p>`,
		html.EscapeString(dto.FormatAmount(amount)),
		html.EscapeString(strings.ToUpper(currency)),
		html.EscapeString(org.Name),
	)
	link := invoiceURL
	if link == "" {
		link = n.clientURL + "/billing"
	}
	n.send(ctx, org, "Payment failed", "Your payment failed", body, link, "Review payment")
}

// CreditsPurchased confirms a completed credit pack purchase.
func (n *BillingNotifier) CreditsPurchased(ctx context.Context, org *model.Organization, credits, amount int64, currency string) {
	if n == nil {
		return
	}
	body := fmt.Sprintf(
		`<p><strong>%d credits</strong> were added to %s.</p>
<p>Amount charged: %s %s.</p>`,
		credits,
		html.EscapeString(org.Name),
		html.EscapeString(dto.FormatAmount(amount)),
		html.EscapeString(strings.ToUpper(currency)),
	)
	n.send(ctx, org, "Credits purchased", "Thanks for your purchase", body, n.clientURL+"/billing", "View balance")
}

// SubscriptionCancelled confirms the end of a subscription.
func (n *BillingNotifier) SubscriptionCancelled(ctx context.Context, org *model.Organization, planName string, at time.Time) {
	if n == nil {
		return
	}
	body := fmt.Sprintf(
		`<p>The %s subscription of %s ended on %s.</p>
<p>Credits already on the account remain available until they expire.</p>`,
		html.EscapeString(planName),
		html.EscapeString(org.Name),
		at.UTC().Format("January 2, 2006"),
	)
	n.send(ctx, org, "Subscription cancelled", "Your subscription has ended", body, n.clientURL+"/billing", "Choose a plan")
}

func (n *BillingNotifier) send(ctx context.Context, org *model.Organization, subject, heading, body, link, linkLabel string) {
	if n.sender == nil {
		return
	}
	if org.BillingEmail == nil || *org.BillingEmail == "" {
		n.logger.Debug("Organization has no billing email, skipping notification",
			zap.String("organization_id", org.ID.String()),
			zap.String("subject", subject))
		return
	}

	fullSubject := fmt.Sprintf("[%s] %s", n.productName, subject)
	messageID, err := n.sender.Send(ctx, *org.BillingEmail, fullSubject, n.render(heading, body, link, linkLabel))
	if err != nil {
		n.logger.Warn("Failed to send billing email",
			zap.String("organization_id", org.ID.String()),
			zap.String("subject", subject),
			zap.Error(err))
		return
	}
	n.logger.Info("Billing email sent",
		zap.String("organization_id", org.ID.String()),
		zap.String("subject", subject),
		zap.String("message_id", messageID))
}

// render wraps body in the shared inline-styled layout. body must already be escaped.
func (n *BillingNotifier) render(heading, body, link, linkLabel string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
	<meta http-equiv="Content-Type" content="text/html; charset=UTF-8" />
	<meta name="viewport" content="width=device-width, initial-scale=1.0" />
	<title>%[1]s</title>
</head>
<body style="margin: 0; padding: 0; font-family: -apple-system, 'Segoe UI', Helvetica, Arial, sans-serif; background-color: #f7f9fc;">
	<table border="0" cellpadding="0" cellspacing="0" width="100%%" style="border-collapse: collapse;">
		<tr>
			<td style="padding: 40px 0;">
				<table align="center" border="0" cellpadding="0" cellspacing="0" width="600" style="border-collapse: collapse; background-color: #ffffff; border-radius: 8px;">
					<tr>
						<td style="padding: 30px; color: #333333; font-size: 16px; line-height: 1.6;">
							<h1 style="margin-top: 0; font-size: 22px; color: #5271ff;">%[1]s</h1>
							%[2]s
							<p style="margin-top: 30px;"><a href="%[3]s" style="background-color: #5271ff; color: #ffffff; padding: 12px 24px; border-radius: 6px; text-decoration: none;">%[4]s</a></p>
						</td>
					</tr>
					<tr>
						<td align="center" style="padding: 20px; color: #666666; font-size: 12px;">
							<p style="margin: 0;">This message was sent by %[5]s billing. Please do not reply.</p>
						</td>
					</tr>
				</table>
			</td>
		</tr>
	</table>
</body>
</html>`,
		html.EscapeString(heading),
		body,
		html.EscapeString(link),
		html.EscapeString(linkLabel),
		html.EscapeString(n.productName),
	)
}
