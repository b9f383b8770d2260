package database

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/th1s9uy/saas-billing/internal/domain/model"
)

// Migrate runs database migrations
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	logger.Info("Running database migrations...")

	err := db.AutoMigrate(
		&model.Organization{},
		&model.SubscriptionPlan{},
		&model.OrganizationSubscription{},
		&model.CreditEvent{},
		&model.CreditProduct{},
		&model.CreditTransaction{},
		&model.BillingHistory{},
		&model.WebhookEvent{},
	)
	if err != nil {
		logger.Error("Failed to run migrations", zap.Error(err))
		return err
	}

	if err := createCustomIndexes(db); err != nil {
		logger.Error("Failed to create custom indexes", zap.Error(err))
		return err
	}

	if db.Dialector.Name() == DriverPostgres {
		if err := createConstraints(db); err != nil {
			logger.Error("Failed to create constraints", zap.Error(err))
			return err
		}
	}

	logger.Info("Database migrations completed successfully")
	return nil
}

// createCustomIndexes creates partial indexes GORM doesn't handle
func createCustomIndexes(db *gorm.DB) error {
	if err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_webhook_events_unprocessed ON webhook_events (created_at) WHERE status IN ('pending', 'failed')`).Error; err != nil {
		return err
	}

	if err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_credit_transactions_expiring ON credit_transactions (organization_id, expires_at) WHERE expires_at IS NOT NULL`).Error; err != nil {
		return err
	}

	return nil
}

// createConstraints mirrors SourceRef.Validate in the schema.
func createConstraints(db *gorm.DB) error {
	return db.Exec(`
DO $$
BEGIN
    IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'credit_transactions_source_pairing') THEN
        ALTER TABLE credit_transactions ADD CONSTRAINT credit_transactions_source_pairing CHECK (
            (source IN ('subscription', 'purchase', 'event_consumption', 'refund') AND source_id IS NOT NULL)
            OR (source IN ('expiry', 'admin_adjustment') AND source_id IS NULL)
        );
    END IF;
END
$$;`).Error
}
