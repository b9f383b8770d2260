package stripe_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	domainErrors "github.com/th1s9uy/saas-billing/internal/domain/errors"
	"github.com/th1s9uy/saas-billing/internal/domain/provider"
	stripeProvider "github.com/th1s9uy/saas-billing/internal/infrastructure/provider/stripe"
)

func newProvider(t *testing.T, handler http.HandlerFunc) *stripeProvider.StripeProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return stripeProvider.NewStripeProvider(stripeProvider.Options{
		SecretKey: "sk_test_123",
		Timeout:   2 * time.Second,
		BaseURL:   srv.URL,
	}, zap.NewNop())
}

func TestStripeProvider_CreateCheckoutSession(t *testing.T) {
	ctx := context.Background()

	t.Run("payment checkout carries metadata", func(t *testing.T) {
		var form map[string]string
		p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
			assert.NoError(t, r.ParseForm())
			form = map[string]string{}
			for k := range r.PostForm {
				form[k] = r.PostForm.Get(k)
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.stripe.com/c/pay/cs_test_1"}`))
		})

		session, err := p.CreateCheckoutSession(ctx, &provider.CheckoutRequest{
			Mode:       provider.CheckoutModePayment,
			PriceID:    "price_pack",
			CustomerID: "cus_1",
			SuccessURL: "https://app.example.com/billing?ok=1",
			CancelURL:  "https://app.example.com/billing",
			Metadata:   map[string]string{"organization_id": "org-1", "product_id": "prod-1"},
		})
		require.NoError(t, err)

		assert.Equal(t, "cs_test_1", session.ID)
		assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_1", session.URL)
		assert.Equal(t, "payment", form["mode"])
		assert.Equal(t, "price_pack", form["line_items[0][price]"])
		assert.Equal(t, "cus_1", form["customer"])
		assert.Equal(t, "org-1", form["metadata[organization_id]"])
		assert.Equal(t, "prod-1", form["payment_intent_data[metadata][product_id]"])
	})

	t.Run("api error is an external service error", func(t *testing.T) {
		calls := 0
		p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such price: 'price_missing'"}}`))
		})

		_, err := p.CreateCheckoutSession(ctx, &provider.CheckoutRequest{
			Mode:    provider.CheckoutModeSubscription,
			PriceID: "price_missing",
		})

		var external *domainErrors.ExternalServiceError
		require.True(t, errors.As(err, &external))
		assert.Equal(t, "stripe", external.Service)
		assert.Equal(t, 1, calls)
	})
}

func TestStripeProvider_GetCustomerMetadata(t *testing.T) {
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/customers/cus_42", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cus_42","object":"customer","metadata":{"organization_id":"org-42"}}`))
	})

	metadata, err := p.GetCustomerMetadata(context.Background(), "cus_42")
	require.NoError(t, err)
	assert.Equal(t, "org-42", metadata["organization_id"])
}

func TestStripeProvider_SetCancelAtPeriodEnd(t *testing.T) {
	var cancel string
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/subscriptions/sub_1", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		cancel = r.PostForm.Get("cancel_at_period_end")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"sub_1","object":"subscription","cancel_at_period_end":true}`))
	})

	require.NoError(t, p.SetCancelAtPeriodEnd(context.Background(), "sub_1", true))
	assert.Equal(t, "true", cancel)
}
