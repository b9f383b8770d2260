package stripe_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripego "github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	stripeProvider "github.com/th1s9uy/saas-billing/internal/infrastructure/provider/stripe"
)

const testSecret = "whsec_test_secret"

func signedPayload(t *testing.T, payload []byte, secret string, at time.Time) string {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: at,
	})
	return signed.Header
}

func TestWebhookVerifier_Verify(t *testing.T) {
	verifier := stripeProvider.NewWebhookVerifier(testSecret)
	payload := []byte(fmt.Sprintf(`{
		"id": "evt_123",
		"object": "event",
		"api_version": "2020-08-27",
		"type": "invoice.payment_succeeded",
		"created": %d,
		"data": {"object": {"id": "in_123", "object": "invoice"}}
	}`, time.Now().Unix()))

	t.Run("valid signature", func(t *testing.T) {
		event, err := verifier.Verify(payload, signedPayload(t, payload, testSecret, time.Now()))
		require.NoError(t, err)
		assert.Equal(t, "evt_123", event.ID)
		assert.Equal(t, stripego.EventTypeInvoicePaymentSucceeded, event.Type)
	})

	t.Run("wrong secret", func(t *testing.T) {
		_, err := verifier.Verify(payload, signedPayload(t, payload, "whsec_other", time.Now()))
		assert.Error(t, err)
	})

	t.Run("tampered payload", func(t *testing.T) {
		header := signedPayload(t, payload, testSecret, time.Now())
		tampered := append([]byte{}, payload...)
		tampered[len(tampered)-2] = ' '
		_, err := verifier.Verify(tampered, header)
		assert.Error(t, err)
	})

	t.Run("expired timestamp", func(t *testing.T) {
		_, err := verifier.Verify(payload, signedPayload(t, payload, testSecret, time.Now().Add(-time.Hour)))
		assert.Error(t, err)
	})

	t.Run("missing header", func(t *testing.T) {
		_, err := verifier.Verify(payload, "")
		assert.Error(t, err)
	})
}
