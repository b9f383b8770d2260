package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/th1s9uy/saas-billing/internal/adapter/repository"
	domainErrors "github.com/th1s9uy/saas-billing/internal/domain/errors"
	"github.com/th1s9uy/saas-billing/internal/domain/model"
	"github.com/th1s9uy/saas-billing/internal/testutil"
	"github.com/th1s9uy/saas-billing/internal/usecase"
)

func newCatalogService(db *gorm.DB) *usecase.CatalogService {
	logger := zap.NewNop()
	return usecase.NewCatalogService(
		repository.NewCatalogRepository(db, logger),
		repository.NewSubscriptionRepository(db, logger),
		8,
		logger,
	)
}

func TestCatalogService_UpsertPlan(t *testing.T) {
	ctx := context.Background()

	t.Run("pricing of a plan in use is frozen", func(t *testing.T) {
		db := testutil.NewDB(t)
		catalog := newCatalogService(db)
		subs, _ := newSubscriptionService(db, new(MockPaymentGateway))
		org := testutil.CreateOrganization(t, db, 0)
		plan := testutil.CreatePlan(t, db, "pro", 4900, 1000)
		start, end := periodAt(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
		_, err := subs.Create(ctx, usecase.CreateSubscriptionInput{
			OrganizationID: org.ID,
			PlanID:         plan.ID,
			Status:         model.SubscriptionStatusActive,
			PeriodStart:    start,
			PeriodEnd:      end,
		})
		require.NoError(t, err)

		changed := *plan
		changed.IncludedCredits = 2000
		err = catalog.UpsertPlan(ctx, &changed)
		require.Error(t, err)
		var conflict *domainErrors.ConflictError
		assert.True(t, errors.As(err, &conflict))

		described := *plan
		described.Description = "For growing teams"
		require.NoError(t, catalog.UpsertPlan(ctx, &described))
		assert.Equal(t, plan.ID, described.ID)
	})

	t.Run("unused plan can be repriced", func(t *testing.T) {
		db := testutil.NewDB(t)
		catalog := newCatalogService(db)
		plan := testutil.CreatePlan(t, db, "team", 9900, 3000)

		cached, err := catalog.PlanByExternalPrice(ctx, "price_team")
		require.NoError(t, err)
		require.NotNil(t, cached)

		changed := *plan
		changed.PriceAmount = 12900
		require.NoError(t, catalog.UpsertPlan(ctx, &changed))

		fresh, err := catalog.PlanByExternalPrice(ctx, "price_team")
		require.NoError(t, err)
		assert.Equal(t, int64(12900), fresh.PriceAmount)
	})
}

func TestCatalogService_Lookups(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	catalog := newCatalogService(db)
	testutil.CreatePlan(t, db, "pro", 4900, 1000)
	product := testutil.CreateProduct(t, db, "pack-500", 500, 4900)

	t.Run("unknown price is not cached", func(t *testing.T) {
		plan, err := catalog.PlanByExternalPrice(ctx, "price_later")
		require.NoError(t, err)
		assert.Nil(t, plan)

		testutil.CreatePlan(t, db, "later", 1900, 200)
		plan, err = catalog.PlanByExternalPrice(ctx, "price_later")
		require.NoError(t, err)
		require.NotNil(t, plan)
		assert.Equal(t, "later", plan.Name)
	})

	t.Run("plans carry decimal prices", func(t *testing.T) {
		plans, err := catalog.ListPlans(ctx)
		require.NoError(t, err)
		require.NotEmpty(t, plans)
		for _, p := range plans {
			if p.Name == "pro" {
				assert.Equal(t, "49.00", p.PriceDecimal)
			}
		}
	})

	t.Run("inactive product is not found", func(t *testing.T) {
		got, err := catalog.GetProduct(ctx, product.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(500), got.CreditAmount)

		require.NoError(t, db.Model(product).Update("is_active", false).Error)
		_, err = catalog.GetProduct(ctx, product.ID)
		var notFound *domainErrors.NotFoundError
		assert.True(t, errors.As(err, &notFound))
	})

	t.Run("product without credits is rejected", func(t *testing.T) {
		err := catalog.UpsertProduct(ctx, &model.CreditProduct{Name: "empty", PriceAmount: 100, Currency: "usd", IsActive: true})
		var validation *domainErrors.ValidationError
		assert.True(t, errors.As(err, &validation))
	})
}
