// Command sync-catalog upserts plans, credit products and credit events from
// a YAML document into the billing database.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/th1s9uy/saas-billing/internal/config"
	"github.com/th1s9uy/saas-billing/internal/infrastructure/database"
	"github.com/th1s9uy/saas-billing/internal/usecase"
	"github.com/th1s9uy/saas-billing/pkg/logger"
)

func main() {
	path := flag.String("file", "configs/catalog.yaml", "catalog document to apply")
	timeout := flag.Duration("timeout", time.Minute, "overall timeout")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zapLogger, err := logger.NewZapLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	data, err := os.ReadFile(*path)
	if err != nil {
		zapLogger.Fatal("Failed to read catalog", zap.String("file", *path), zap.Error(err))
	}
	doc, err := usecase.ParseCatalog(data)
	if err != nil {
		zapLogger.Fatal("Invalid catalog", zap.String("file", *path), zap.Error(err))
	}

	db, err := database.NewConnection(&cfg.Database, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db, zapLogger)

	if err := database.Migrate(db, zapLogger); err != nil {
		zapLogger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	repos := database.NewRepositories(db, zapLogger)
	catalog := usecase.NewCatalogService(repos.Catalog, repos.Subscription, cfg.Billing.PlanCacheSize, zapLogger)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if _, err := catalog.Sync(ctx, doc); err != nil {
		zapLogger.Error("Catalog sync failed", zap.Error(err))
		cancel()
		os.Exit(1)
	}
}
