package usecase_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/th1s9uy/saas-billing/internal/adapter/repository"
	domainErrors "github.com/th1s9uy/saas-billing/internal/domain/errors"
	"github.com/th1s9uy/saas-billing/internal/domain/model"
	"github.com/th1s9uy/saas-billing/internal/testutil"
	"github.com/th1s9uy/saas-billing/internal/usecase"
)

const catalogYAML = `
plans:
  - name: free
    price_amount: 0
    included_credits: 100
  - name: pro
    external_price_id: price_pro_monthly
    price_amount: 2900
    included_credits: 5000
    trial_period_days: 14
    features:
      seats: 10
products:
  - name: pack-1000
    external_price_id: price_pack_1000
    credit_amount: 1000
    price_amount: 1000
events:
  - name: report.generate
    credit_cost: 5
    category: reports
  - name: export.csv
    credit_cost: 1
    inactive: true
`

func TestParseCatalog(t *testing.T) {
	t.Run("valid document", func(t *testing.T) {
		doc, err := usecase.ParseCatalog([]byte(catalogYAML))
		require.NoError(t, err)
		assert.Len(t, doc.Plans, 2)
		assert.Len(t, doc.Products, 1)
		assert.Len(t, doc.Events, 2)
		assert.Equal(t, 14, doc.Plans[1].TrialPeriodDays)
	})

	t.Run("empty document", func(t *testing.T) {
		doc, err := usecase.ParseCatalog(nil)
		require.NoError(t, err)
		assert.Empty(t, doc.Plans)
	})

	tests := []struct {
		name string
		doc  string
	}{
		{"unknown key", "plans:\n  - name: pro\n    price: 10\n"},
		{"unknown interval", "plans:\n  - name: pro\n    interval: weekly\n"},
		{"nameless event", "events:\n  - credit_cost: 1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := usecase.ParseCatalog([]byte(tt.doc))
			require.Error(t, err)
			var validation *domainErrors.ValidationError
			assert.True(t, errors.As(err, &validation))
		})
	}
}

func TestCatalogService_Sync(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	catalog := newCatalogService(db)
	catalogRepo := repository.NewCatalogRepository(db, zap.NewNop())

	doc, err := usecase.ParseCatalog([]byte(catalogYAML))
	require.NoError(t, err)

	report, err := catalog.Sync(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, usecase.CatalogSyncReport{Plans: 2, Products: 1, Events: 2}, *report)

	pro, err := catalogRepo.GetPlanByName(ctx, "pro")
	require.NoError(t, err)
	require.NotNil(t, pro)
	assert.Equal(t, model.PlanIntervalMonthly, pro.Interval)
	assert.Equal(t, 1, pro.IntervalCount)
	assert.Equal(t, "usd", pro.Currency)
	assert.True(t, pro.IsActive)

	event, err := catalogRepo.GetActiveEventByName(ctx, "export.csv")
	require.NoError(t, err)
	assert.Nil(t, event)

	// Re-running is idempotent.
	report, err = catalog.Sync(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Plans)
	again, err := catalogRepo.GetPlanByName(ctx, "pro")
	require.NoError(t, err)
	assert.Equal(t, pro.ID, again.ID)
}
