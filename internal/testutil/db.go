// Package testutil builds in-memory databases and fixtures for tests.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/th1s9uy/saas-billing/internal/config"
	"github.com/th1s9uy/saas-billing/internal/domain/model"
	"github.com/th1s9uy/saas-billing/internal/infrastructure/database"
)

// NewDB opens a migrated, private in-memory SQLite database.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Driver:        database.DriverSQLite,
		Path:          fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
		SlowThreshold: time.Second,
	}
	logger := zap.NewNop()

	db, err := database.NewConnection(cfg, logger)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db, logger))

	t.Cleanup(func() {
		_ = database.Close(db, logger)
	})
	return db
}

// CreateOrganization inserts an active organization with the given balance.
func CreateOrganization(t *testing.T, db *gorm.DB, balance int64) *model.Organization {
	t.Helper()
	id := uuid.New()
	org := &model.Organization{
		ID:            id,
		Name:          "Org " + id.String()[:8],
		Slug:          "org-" + id.String(),
		CreditBalance: balance,
		IsActive:      true,
	}
	require.NoError(t, db.WithContext(context.Background()).Create(org).Error)
	return org
}

// CreatePlan inserts an active monthly plan.
func CreatePlan(t *testing.T, db *gorm.DB, name string, priceAmount, includedCredits int64) *model.SubscriptionPlan {
	t.Helper()
	priceID := "price_" + name
	plan := &model.SubscriptionPlan{
		Name:            name,
		ExternalPriceID: &priceID,
		PriceAmount:     priceAmount,
		Currency:        "usd",
		Interval:        model.PlanIntervalMonthly,
		IntervalCount:   1,
		IncludedCredits: includedCredits,
		IsActive:        true,
	}
	require.NoError(t, db.Create(plan).Error)
	return plan
}

// CreateEvent inserts an active credit event.
func CreateEvent(t *testing.T, db *gorm.DB, name string, cost int64) *model.CreditEvent {
	t.Helper()
	event := &model.CreditEvent{
		Name:       name,
		CreditCost: cost,
		Category:   "test",
		IsActive:   true,
	}
	require.NoError(t, db.Create(event).Error)
	return event
}

// CreateProduct inserts an active credit product.
func CreateProduct(t *testing.T, db *gorm.DB, name string, credits, priceAmount int64) *model.CreditProduct {
	t.Helper()
	product := &model.CreditProduct{
		Name:         name,
		CreditAmount: credits,
		PriceAmount:  priceAmount,
		Currency:     "usd",
		IsActive:     true,
	}
	require.NoError(t, db.Create(product).Error)
	return product
}

// Balance reads the cached balance of an organization.
func Balance(t *testing.T, db *gorm.DB, organizationID uuid.UUID) int64 {
	t.Helper()
	var org model.Organization
	require.NoError(t, db.Where("id = ?", organizationID).First(&org).Error)
	return org.CreditBalance
}

// Transactions returns an organization's ledger rows, oldest first.
func Transactions(t *testing.T, db *gorm.DB, organizationID uuid.UUID) []model.CreditTransaction {
	t.Helper()
	var txns []model.CreditTransaction
	require.NoError(t, db.Where("organization_id = ?", organizationID).Order("created_at ASC").Find(&txns).Error)
	return txns
}
