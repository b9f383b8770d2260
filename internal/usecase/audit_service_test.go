package usecase_test

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/th1s9uy/saas-billing/internal/adapter/repository"
	"github.com/th1s9uy/saas-billing/internal/domain/model"
	"github.com/th1s9uy/saas-billing/internal/infrastructure/metrics"
	dbtestutil "github.com/th1s9uy/saas-billing/internal/testutil"
	"github.com/th1s9uy/saas-billing/internal/usecase"
)

func TestAuditService_RunSweep(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()
	db := dbtestutil.NewDB(t)
	ledger := newLedgerService(db)
	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)
	audit := usecase.NewAuditService(repository.NewOrganizationRepository(db, logger), ledger, 4, m, logger)

	product := dbtestutil.CreateProduct(t, db, "pack-100", 100, 990)
	healthy := dbtestutil.CreateOrganization(t, db, 0)
	drifted := dbtestutil.CreateOrganization(t, db, 0)
	for _, org := range []*model.Organization{healthy, drifted} {
		_, err := ledger.AddCredits(ctx, usecase.AddCreditsInput{
			OrganizationID: org.ID,
			Amount:         100,
			Source:         model.PurchaseSource(product.ID),
			ReferenceID:    "checkout:" + org.ID.String(),
		})
		require.NoError(t, err)
	}
	require.NoError(t, db.Model(&model.Organization{}).Where("id = ?", drifted.ID).Update("credit_balance", 150).Error)

	report, err := audit.RunSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, []uuid.UUID{drifted.ID}, report.Mismatches)

	expected := `
# HELP billing_ledger_audit_mismatches Organizations whose cached balance disagreed with the ledger in the last audit sweep.
# TYPE billing_ledger_audit_mismatches gauge
billing_ledger_audit_mismatches 1
`
	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "billing_ledger_audit_mismatches"))
}
