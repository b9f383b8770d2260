package repository_test

import (
	"context"
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
	"github.com/th1s9uy/saas-billing/internal/testutil"
)

func TestBillingHistoryRepository(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	repo := repository.NewBillingHistoryRepository(db, zap.NewNop())
	org := testutil.CreateOrganization(t, db, 0)

	entry := func(eventID, intent string, at time.Time) *model.BillingHistory {
		return &model.BillingHistory{
			OrganizationID:          org.ID,
			ExternalEventID:         eventID,
			ExternalPaymentIntentID: &intent,
			Amount:                  1999,
			Currency:                "usd",
			Status:                  model.BillingStatusPaid,
			CreatedAt:               at,
		}
	}

	now := time.Now().UTC()

	t.Run("record once per event", func(t *testing.T) {
		inserted, err := repo.Record(ctx, entry("evt_a", "pi_a", now.Add(-time.Hour)))
		require.NoError(t, err)
		assert.True(t, inserted)

		inserted, err = repo.Record(ctx, entry("evt_a", "pi_a", now))
		require.NoError(t, err)
		assert.False(t, inserted)

		inserted, err = repo.Record(ctx, entry("evt_b", "pi_b", now))
		require.NoError(t, err)
		assert.True(t, inserted)
	})

	t.Run("list newest first", func(t *testing.T) {
		page := dto.PageRequest{}
		page.SetDefaults()

		rows, total, err := repo.List(ctx, org.ID, page)
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		require.Len(t, rows, 2)
		assert.Equal(t, "evt_b", rows[0].ExternalEventID)
	})

	t.Run("refund transition", func(t *testing.T) {
		row, err := repo.GetByPaymentIntent(ctx, "pi_a")
		require.NoError(t, err)
		require.NotNil(t, row)

		require.NoError(t, repo.MarkRefunded(ctx, row.ID))
		row, err = repo.GetByPaymentIntent(ctx, "pi_a")
		require.NoError(t, err)
		assert.Equal(t, model.BillingStatusRefunded, row.Status)

		var notFound *domainErrors.NotFoundError
		assert.ErrorAs(t, repo.MarkRefunded(ctx, uuid.New()), &notFound)
	})
}
