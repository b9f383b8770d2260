// Package metrics exports billing health signals to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "billing"

const (
	WebhookResultProcessed = "processed"
	WebhookResultDuplicate = "duplicate"
	WebhookResultFailed    = "failed"
	WebhookResultIgnored   = "ignored"
)

// Metrics holds the billing collectors. A nil *Metrics records nothing.
type Metrics struct {
	creditTransactions  *prometheus.CounterVec
	consumptionRejected prometheus.Counter
	webhookEvents       *prometheus.CounterVec
	webhookDuration     *prometheus.HistogramVec
	auditMismatches     prometheus.Gauge
	auditRuns           *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		creditTransactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credit_transactions_total",
			Help:      "Ledger transactions written, by type and source.",
		}, []string{"type", "source"}),
		consumptionRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credit_consumption_rejected_total",
			Help:      "Consumption attempts rejected for insufficient credits.",
		}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Gateway webhook events, by event type and result.",
		}, []string{"event_type", "result"}),
		webhookDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "webhook_processing_seconds",
			Help:      "Time spent applying a gateway webhook event.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),
		auditMismatches: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ledger_audit_mismatches",
			Help:      "Organizations whose cached balance disagreed with the ledger in the last audit sweep.",
		}),
		auditRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_audit_runs_total",
			Help:      "Ledger audit sweeps, by outcome.",
		}, []string{"outcome"}),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.creditTransactions,
			m.consumptionRejected,
			m.webhookEvents,
			m.webhookDuration,
			m.auditMismatches,
			m.auditRuns,
		)
	}
	return m
}

func (m *Metrics) CreditTransaction(transactionType, source string) {
	if m == nil {
		return
	}
	m.creditTransactions.WithLabelValues(transactionType, source).Inc()
}

func (m *Metrics) ConsumptionRejected() {
	if m == nil {
		return
	}
	m.consumptionRejected.Inc()
}

// WebhookEvent counts one event outcome and, for applied events, its duration.
func (m *Metrics) WebhookEvent(eventType, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(eventType, result).Inc()
	if duration > 0 {
		m.webhookDuration.WithLabelValues(eventType).Observe(duration.Seconds())
	}
}

// AuditCompleted records the result of one audit sweep.
func (m *Metrics) AuditCompleted(mismatches int, err error) {
	if m == nil {
		return
	}
	m.auditMismatches.Set(float64(mismatches))
	outcome := "ok"
	if err != nil {
		outcome = "error"
	} else if mismatches > 0 {
		outcome = "mismatch"
	}
	m.auditRuns.WithLabelValues(outcome).Inc()
}
