package usecase_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/th1s9uy/saas-billing/internal/adapter/repository"
	"github.com/th1s9uy/saas-billing/internal/domain/dto"
	"github.com/th1s9uy/saas-billing/internal/domain/model"
	"github.com/th1s9uy/saas-billing/internal/testutil"
	"github.com/th1s9uy/saas-billing/internal/usecase"
)

func TestBillingService_GetSummary(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()

	t.Run("organization without subscription", func(t *testing.T) {
		db := testutil.NewDB(t)
		ledger := newLedgerService(db)
		svc := usecase.NewBillingService(
			repository.NewSubscriptionRepository(db, logger),
			repository.NewCatalogRepository(db, logger),
			repository.NewCreditLedgerRepository(db, logger),
			repository.NewBillingHistoryRepository(db, logger),
			ledger,
			logger,
		)
		org := testutil.CreateOrganization(t, db, 0)

		summary, err := svc.GetSummary(ctx, org.ID)
		require.NoError(t, err)
		assert.Nil(t, summary.Subscription)
		assert.Nil(t, summary.NextBillingDate)
		assert.Equal(t, "0.00", summary.AmountDueDecimal)
		assert.Zero(t, summary.Credits.Total)
	})

	t.Run("active subscription with usage", func(t *testing.T) {
		db := testutil.NewDB(t)
		subs, ledger := newSubscriptionService(db, new(MockPaymentGateway))
		svc := usecase.NewBillingService(
			repository.NewSubscriptionRepository(db, logger),
			repository.NewCatalogRepository(db, logger),
			repository.NewCreditLedgerRepository(db, logger),
			repository.NewBillingHistoryRepository(db, logger),
			ledger,
			logger,
		)
		org := testutil.CreateOrganization(t, db, 0)
		plan := testutil.CreatePlan(t, db, "pro", 4900, 1000)
		testutil.CreateEvent(t, db, "report.generate", 10)

		now := time.Now().UTC()
		start := now.Add(-24 * time.Hour)
		end := start.AddDate(0, 1, 0)
		_, err := subs.Create(ctx, usecase.CreateSubscriptionInput{
			OrganizationID: org.ID,
			PlanID:         plan.ID,
			Status:         model.SubscriptionStatusActive,
			PeriodStart:    &start,
			PeriodEnd:      &end,
		})
		require.NoError(t, err)

		result, err := ledger.ConsumeCredits(ctx, usecase.ConsumeCreditsInput{
			OrganizationID: org.ID,
			EventName:      "report.generate",
			Quantity:       3,
		})
		require.NoError(t, err)
		require.True(t, result.Success)

		summary, err := svc.GetSummary(ctx, org.ID)
		require.NoError(t, err)
		require.NotNil(t, summary.Subscription)
		require.NotNil(t, summary.Subscription.Plan)
		assert.Equal(t, "pro", summary.Subscription.Plan.Name)
		assert.Equal(t, int64(970), summary.Credits.Total)
		assert.Equal(t, int64(30), summary.CurrentPeriodUsage)
		require.NotNil(t, summary.NextBillingDate)
		assert.True(t, end.Equal(*summary.NextBillingDate))
		assert.Equal(t, int64(4900), summary.AmountDue)
		assert.Equal(t, "49.00", summary.AmountDueDecimal)

		history, err := svc.ListHistory(ctx, org.ID, dto.PageRequest{})
		require.NoError(t, err)
		assert.Empty(t, history.Items)
		assert.Equal(t, 20, history.Pagination.Limit)
	})
}
