package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/th1s9uy/saas-billing/internal/adapter/repository"
	"github.com/th1s9uy/saas-billing/internal/domain/dto"
	domainErrors "github.com/th1s9uy/saas-billing/internal/domain/errors"
	"github.com/th1s9uy/saas-billing/internal/domain/model"
	domainRepo "github.com/th1s9uy/saas-billing/internal/domain/repository"
	"github.com/th1s9uy/saas-billing/internal/testutil"
)

func strPtr(s string) *string { return &s }

func TestCreditLedgerRepository_WithinOrganizationLock(t *testing.T) {
	ctx := context.Background()

	t.Run("append updates balance and inserts row", func(t *testing.T) {
		db := testutil.NewDB(t)
		repo := repository.NewCreditLedgerRepository(db, zap.NewNop())
		org := testutil.CreateOrganization(t, db, 50)

		txn := &model.CreditTransaction{
			TransactionType: model.TransactionTypeEarned,
			Amount:          25,
			Source:          model.SourceAdminAdjustment,
			ReferenceID:     strPtr("adj-1"),
		}
		err := repo.WithinOrganizationLock(ctx, org.ID, func(tx domainRepo.LedgerTx) error {
			assert.Equal(t, int64(50), tx.Organization().CreditBalance)
			return tx.Append(ctx, txn)
		})
		require.NoError(t, err)

		assert.Equal(t, int64(75), txn.BalanceAfter)
		assert.Equal(t, org.ID, txn.OrganizationID)
		assert.Equal(t, int64(75), testutil.Balance(t, db, org.ID))

		err = repo.WithinOrganizationLock(ctx, org.ID, func(tx domainRepo.LedgerTx) error {
			found, err := tx.FindByReference(ctx, "adj-1")
			require.NoError(t, err)
			require.NotNil(t, found)
			assert.Equal(t, txn.ID, found.ID)

			missing, err := tx.FindByReference(ctx, "adj-2")
			require.NoError(t, err)
			assert.Nil(t, missing)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("callback error rolls back balance", func(t *testing.T) {
		db := testutil.NewDB(t)
		repo := repository.NewCreditLedgerRepository(db, zap.NewNop())
		org := testutil.CreateOrganization(t, db, 10)
		boom := errors.New("boom")

		err := repo.WithinOrganizationLock(ctx, org.ID, func(tx domainRepo.LedgerTx) error {
			require.NoError(t, tx.Append(ctx, &model.CreditTransaction{
				TransactionType: model.TransactionTypeEarned,
				Amount:          5,
				Source:          model.SourceAdminAdjustment,
			}))
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, int64(10), testutil.Balance(t, db, org.ID))
		assert.Empty(t, testutil.Transactions(t, db, org.ID))
	})

	t.Run("duplicate reference fails insert and restores balance", func(t *testing.T) {
		db := testutil.NewDB(t)
		repo := repository.NewCreditLedgerRepository(db, zap.NewNop())
		org := testutil.CreateOrganization(t, db, 0)

		appendRef := func() error {
			return repo.WithinOrganizationLock(ctx, org.ID, func(tx domainRepo.LedgerTx) error {
				return tx.Append(ctx, &model.CreditTransaction{
					TransactionType: model.TransactionTypeEarned,
					Amount:          7,
					Source:          model.SourceAdminAdjustment,
					ReferenceID:     strPtr("dup"),
				})
			})
		}
		require.NoError(t, appendRef())
		assert.Error(t, appendRef())

		assert.Equal(t, int64(7), testutil.Balance(t, db, org.ID))
		assert.Len(t, testutil.Transactions(t, db, org.ID), 1)
	})

	t.Run("unknown organization", func(t *testing.T) {
		db := testutil.NewDB(t)
		repo := repository.NewCreditLedgerRepository(db, zap.NewNop())

		err := repo.WithinOrganizationLock(ctx, uuid.New(), func(tx domainRepo.LedgerTx) error {
			t.Fatal("callback must not run")
			return nil
		})
		var notFound *domainErrors.NotFoundError
		assert.ErrorAs(t, err, &notFound)
	})
}

func TestCreditLedgerRepository_Queries(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	repo := repository.NewCreditLedgerRepository(db, zap.NewNop())
	org := testutil.CreateOrganization(t, db, 0)
	plan := testutil.CreatePlan(t, db, "starter", 1000, 100)
	product := testutil.CreateProduct(t, db, "pack", 50, 500)
	event := testutil.CreateEvent(t, db, "report.generate", 5)

	sub := &model.OrganizationSubscription{
		OrganizationID: org.ID,
		PlanID:         plan.ID,
		Status:         model.SubscriptionStatusActive,
	}
	require.NoError(t, db.Create(sub).Error)

	now := time.Now().UTC()
	soon := now.Add(5 * 24 * time.Hour)
	later := now.Add(60 * 24 * time.Hour)
	missing := uuid.New()

	rows := []*model.CreditTransaction{
		{TransactionType: model.TransactionTypeEarned, Amount: 100, Source: model.SourceSubscription, SourceID: &sub.ID, ExpiresAt: &soon},
		{TransactionType: model.TransactionTypePurchased, Amount: 50, Source: model.SourcePurchase, SourceID: &product.ID, ExternalPaymentID: strPtr("pi_1")},
		{TransactionType: model.TransactionTypeEarned, Amount: 30, Source: model.SourceAdminAdjustment, ExpiresAt: &later},
		{TransactionType: model.TransactionTypeConsumed, Amount: -10, Source: model.SourceEventConsumption, SourceID: &event.ID},
		{TransactionType: model.TransactionTypePurchased, Amount: 5, Source: model.SourcePurchase, SourceID: &missing},
	}
	for _, row := range rows {
		row := row
		require.NoError(t, repo.WithinOrganizationLock(ctx, org.ID, func(tx domainRepo.LedgerTx) error {
			return tx.Append(ctx, row)
		}))
	}

	t.Run("sum matches cached balance", func(t *testing.T) {
		sum, err := repo.SumAmounts(ctx, org.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(175), sum)
		assert.Equal(t, sum, testutil.Balance(t, db, org.ID))
	})

	t.Run("breakdown", func(t *testing.T) {
		b, err := repo.Breakdown(ctx, org.ID, now, now.Add(30*24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(100), b.SubscriptionCredits)
		assert.Equal(t, int64(55), b.PurchasedCredits)
		assert.Equal(t, int64(100), b.ExpiringSoon)
		require.NotNil(t, b.NextExpiry)
		assert.WithinDuration(t, soon, *b.NextExpiry, time.Second)
	})

	t.Run("consumed since", func(t *testing.T) {
		used, err := repo.SumConsumedSince(ctx, org.ID, now.Add(-time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(10), used)
	})

	t.Run("orphaned references", func(t *testing.T) {
		orphans, err := repo.FindOrphanedReferences(ctx, org.ID)
		require.NoError(t, err)
		require.Len(t, orphans, 1)
		assert.Equal(t, missing, *orphans[0].SourceID)
	})

	t.Run("pairing violations", func(t *testing.T) {
		count, err := repo.CountPairingViolations(ctx, org.ID)
		require.NoError(t, err)
		assert.Zero(t, count)

		bad := &model.CreditTransaction{
			OrganizationID:  org.ID,
			TransactionType: model.TransactionTypeEarned,
			Amount:          0,
			Source:          model.SourceSubscription,
		}
		require.NoError(t, db.Create(bad).Error)

		count, err = repo.CountPairingViolations(ctx, org.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})

	t.Run("external payment lookup", func(t *testing.T) {
		found, err := repo.FindByExternalPayment(ctx, org.ID, "pi_1")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, int64(50), found.Amount)

		none, err := repo.FindByExternalPayment(ctx, org.ID, "pi_unknown")
		require.NoError(t, err)
		assert.Nil(t, none)
	})

	t.Run("list with filters", func(t *testing.T) {
		consumed := model.TransactionTypeConsumed
		filters := dto.TransactionFilters{OrganizationID: org.ID, TransactionType: &consumed}
		filters.SetDefaults()

		txns, total, err := repo.ListTransactions(ctx, filters)
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, txns, 1)
		assert.Equal(t, int64(-10), txns[0].Amount)

		page := dto.TransactionFilters{OrganizationID: org.ID, Limit: 2}
		txns, total, err = repo.ListTransactions(ctx, page)
		require.NoError(t, err)
		assert.Equal(t, int64(6), total)
		assert.Len(t, txns, 2)
	})
}
