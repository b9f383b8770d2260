package metrics_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/th1s9uy/saas-billing/internal/infrastructure/metrics"
)

func TestMetrics(t *testing.T) {
	t.Run("records into registry", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		m := metrics.NewMetrics(registry)

		m.CreditTransaction("earned", "subscription")
		m.CreditTransaction("earned", "subscription")
		m.ConsumptionRejected()
		m.WebhookEvent("invoice.payment_succeeded", metrics.WebhookResultProcessed, 20*time.Millisecond)
		m.AuditCompleted(3, nil)

		count, err := testutil.GatherAndCount(registry, "billing_credit_transactions_total")
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		expected := `
# HELP billing_ledger_audit_mismatches Organizations whose cached balance disagreed with the ledger in the last audit sweep.
# TYPE billing_ledger_audit_mismatches gauge
billing_ledger_audit_mismatches 3
# HELP billing_credit_transactions_total Ledger transactions written, by type and source.
# TYPE billing_credit_transactions_total counter
billing_credit_transactions_total{source="subscription",type="earned"} 2
`
		assert.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected),
			"billing_ledger_audit_mismatches", "billing_credit_transactions_total"))
	})

	t.Run("nil metrics is a no-op", func(t *testing.T) {
		var m *metrics.Metrics
		assert.NotPanics(t, func() {
			m.CreditTransaction("consumed", "event_consumption")
			m.ConsumptionRejected()
			m.WebhookEvent("charge.refunded", metrics.WebhookResultFailed, 0)
			m.AuditCompleted(0, errors.New("db down"))
		})
	})
}
